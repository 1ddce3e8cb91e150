package orders

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lucasferrand/mangetout-backend/pkg/db/models"
)

// LineInput is one ordered item as submitted at checkout.
type LineInput struct {
	Name      string
	UnitPrice decimal.Decimal
	Quantity  int
}

// CreateOrderInput carries everything checkout knows about a new order. The
// delivery coordinates arrive already geocoded; the ledger only ever sees a
// distance.
type CreateOrderInput struct {
	RestaurantID    uuid.UUID
	CustomerID      uuid.UUID
	DeliveryAddress string
	DeliveryLat     float64
	DeliveryLon     float64
	Lines           []LineInput
}

// TransitionResult reports the outcome of a state-machine action. NoOp is set
// when a retried action found the order already in the requested state.
type TransitionResult struct {
	Order *models.Order
	NoOp  bool
}
