package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lucasferrand/mangetout-backend/pkg/enums"
)

// PayoutBatch is the invoice-style record of one settlement run for one
// payee. The batch row and the paid-at stamps on its orders commit in the
// same transaction; the batch ID doubles as the transfer idempotency key.
type PayoutBatch struct {
	ID               uuid.UUID               `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Payee            enums.Payee             `gorm:"column:payee;type:payee;not null"`
	PayeeID          uuid.UUID               `gorm:"column:payee_id;type:uuid;not null"`
	Status           enums.PayoutBatchStatus `gorm:"column:status;type:payout_batch_status;not null;default:'settled'"`
	OrderCount       int                     `gorm:"column:order_count;not null"`
	GrossAmount      decimal.Decimal         `gorm:"column:gross_amount;type:numeric(12,2);not null"`
	CommissionAmount decimal.Decimal         `gorm:"column:commission_amount;type:numeric(12,2);not null"`
	NetAmount        decimal.Decimal         `gorm:"column:net_amount;type:numeric(12,2);not null"`
	TransferRef      *string                 `gorm:"column:transfer_ref"`
	SettledAt        time.Time               `gorm:"column:settled_at;not null"`
	CreatedAt        time.Time               `gorm:"column:created_at;autoCreateTime"`
}
