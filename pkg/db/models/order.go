package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lucasferrand/mangetout-backend/pkg/enums"
)

// Order is the authoritative ledger record for one customer purchase from one
// restaurant. Money fields are frozen at creation; the state machine and the
// settlement reconciler are the only writers afterwards.
type Order struct {
	ID           uuid.UUID  `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	RestaurantID uuid.UUID  `gorm:"column:restaurant_id;type:uuid;not null"`
	CustomerID   uuid.UUID  `gorm:"column:customer_id;type:uuid;not null"`
	CourierID    *uuid.UUID `gorm:"column:courier_id;type:uuid"`

	OrderStatus   enums.OrderStatus   `gorm:"column:order_status;type:order_status;not null;default:'pending'"`
	PaymentStatus enums.PaymentStatus `gorm:"column:payment_status;type:payment_status;not null;default:'pending'"`
	PaymentRef    *string             `gorm:"column:payment_ref"`

	// Snapshot of the financial split, computed once at creation.
	Subtotal                 decimal.Decimal `gorm:"column:subtotal;type:numeric(12,2);not null"`
	DeliveryFee              decimal.Decimal `gorm:"column:delivery_fee;type:numeric(12,2);not null"`
	CommissionRate           decimal.Decimal `gorm:"column:commission_rate;type:numeric(5,2);not null"`
	CommissionAmount         decimal.Decimal `gorm:"column:commission_amount;type:numeric(12,2);not null"`
	RestaurantPayout         decimal.Decimal `gorm:"column:restaurant_payout;type:numeric(12,2);not null"`
	DeliveryCommissionRate   decimal.Decimal `gorm:"column:delivery_commission_rate;type:numeric(5,2);not null"`
	DeliveryCommissionAmount decimal.Decimal `gorm:"column:delivery_commission_amount;type:numeric(12,2);not null"`
	CourierEarning           decimal.Decimal `gorm:"column:courier_earning;type:numeric(12,2);not null"`

	DeliveryAddress string  `gorm:"column:delivery_address;not null"`
	DistanceKm      float64 `gorm:"column:distance_km;not null"`

	DeliveredAt *time.Time `gorm:"column:delivered_at"`
	CancelledAt *time.Time `gorm:"column:cancelled_at"`

	// Settlement stamps. Monotonic under normal operation; only the audited
	// reset operation may clear them.
	RestaurantPaidAt  *time.Time `gorm:"column:restaurant_paid_at"`
	RestaurantBatchID *uuid.UUID `gorm:"column:restaurant_batch_id;type:uuid"`
	CourierPaidAt     *time.Time `gorm:"column:courier_paid_at"`
	CourierBatchID    *uuid.UUID `gorm:"column:courier_batch_id;type:uuid"`

	Lines []OrderLine `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// Total is the full amount charged to the customer.
func (o Order) Total() decimal.Decimal {
	return o.Subtotal.Add(o.DeliveryFee)
}
