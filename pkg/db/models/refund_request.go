package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lucasferrand/mangetout-backend/pkg/enums"
)

// RefundRequest records a customer's (or an operator's forced) claim against
// an order. At most one request per order may be in a non-terminal status;
// a partial unique index on (order_id) WHERE status IN (pending, approved,
// processing) backs the invariant.
type RefundRequest struct {
	ID          uuid.UUID                 `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID     uuid.UUID                 `gorm:"column:order_id;type:uuid;not null"`
	Amount      decimal.Decimal           `gorm:"column:amount;type:numeric(12,2);not null"`
	Status      enums.RefundRequestStatus `gorm:"column:status;type:refund_request_status;not null;default:'pending'"`
	Reason      *string                   `gorm:"column:reason"`
	Forced      bool                      `gorm:"column:forced;not null;default:false"`
	GatewayRef  *string                   `gorm:"column:gateway_ref"`
	ProcessedAt *time.Time                `gorm:"column:processed_at"`
	CreatedAt   time.Time                 `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time                 `gorm:"column:updated_at;autoUpdateTime"`
}
