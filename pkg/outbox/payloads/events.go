package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lucasferrand/mangetout-backend/pkg/enums"
)

// OrderCreatedEvent signals a new order with its frozen financial split.
type OrderCreatedEvent struct {
	OrderID          uuid.UUID       `json:"order_id"`
	RestaurantID     uuid.UUID       `json:"restaurant_id"`
	CustomerID       uuid.UUID       `json:"customer_id"`
	Subtotal         decimal.Decimal `json:"subtotal"`
	DeliveryFee      decimal.Decimal `json:"delivery_fee"`
	CommissionAmount decimal.Decimal `json:"commission_amount"`
	DistanceKm       float64         `json:"distance_km"`
}

// OrderStatusChangedEvent is emitted on every lifecycle transition.
type OrderStatusChangedEvent struct {
	OrderID      uuid.UUID         `json:"order_id"`
	RestaurantID uuid.UUID         `json:"restaurant_id"`
	From         enums.OrderStatus `json:"from"`
	To           enums.OrderStatus `json:"to"`
}

// OrderDeliveredEvent surfaces the settlement-relevant fields once per order.
type OrderDeliveredEvent struct {
	OrderID          uuid.UUID       `json:"order_id"`
	RestaurantID     uuid.UUID       `json:"restaurant_id"`
	CourierID        uuid.UUID       `json:"courier_id"`
	RestaurantPayout decimal.Decimal `json:"restaurant_payout"`
	CourierEarning   decimal.Decimal `json:"courier_earning"`
	DeliveredAt      time.Time       `json:"delivered_at"`
}

// OrderCancelledEvent is emitted whenever an order is cancelled pre-delivery.
type OrderCancelledEvent struct {
	OrderID      uuid.UUID         `json:"order_id"`
	RestaurantID uuid.UUID         `json:"restaurant_id"`
	From         enums.OrderStatus `json:"from"`
	CancelledAt  time.Time         `json:"cancelled_at"`
	RefundQueued bool              `json:"refund_queued"`
	Reason       string            `json:"reason,omitempty"`
}

// RefundRequestedEvent carries the clamped refundable amount.
type RefundRequestedEvent struct {
	RefundRequestID uuid.UUID       `json:"refund_request_id"`
	OrderID         uuid.UUID       `json:"order_id"`
	Amount          decimal.Decimal `json:"amount"`
	Forced          bool            `json:"forced"`
}

// RefundResolvedEvent reports the terminal decision on a refund request.
type RefundResolvedEvent struct {
	RefundRequestID uuid.UUID                 `json:"refund_request_id"`
	OrderID         uuid.UUID                 `json:"order_id"`
	Status          enums.RefundRequestStatus `json:"status"`
	Amount          decimal.Decimal           `json:"amount"`
	GatewayRef      string                    `json:"gateway_ref,omitempty"`
}

// PayoutBatchSettledEvent is emitted when a settlement run pays a batch.
type PayoutBatchSettledEvent struct {
	BatchID          uuid.UUID       `json:"batch_id"`
	Payee            enums.Payee     `json:"payee"`
	PayeeID          uuid.UUID       `json:"payee_id"`
	OrderCount       int             `json:"order_count"`
	GrossAmount      decimal.Decimal `json:"gross_amount"`
	CommissionAmount decimal.Decimal `json:"commission_amount"`
	NetAmount        decimal.Decimal `json:"net_amount"`
	SettledAt        time.Time       `json:"settled_at"`
}

// SettlementResetEvent records an audited reversal of a settled order.
type SettlementResetEvent struct {
	OrderID uuid.UUID   `json:"order_id"`
	Payee   enums.Payee `json:"payee"`
	BatchID uuid.UUID   `json:"batch_id"`
	ActorID uuid.UUID   `json:"actor_id"`
	Reason  string      `json:"reason"`
}

// SubtotalCorrectedEvent describes an admin-side price correction.
type SubtotalCorrectedEvent struct {
	OrderID     uuid.UUID       `json:"order_id"`
	OldSubtotal decimal.Decimal `json:"old_subtotal"`
	NewSubtotal decimal.Decimal `json:"new_subtotal"`
	ActorID     uuid.UUID       `json:"actor_id"`
}
