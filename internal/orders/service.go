package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/lucasferrand/mangetout-backend/internal/commission"
	"github.com/lucasferrand/mangetout-backend/internal/fees"
	"github.com/lucasferrand/mangetout-backend/pkg/db/models"
	"github.com/lucasferrand/mangetout-backend/pkg/enums"
	pkgerrors "github.com/lucasferrand/mangetout-backend/pkg/errors"
	"github.com/lucasferrand/mangetout-backend/pkg/outbox"
	"github.com/lucasferrand/mangetout-backend/pkg/outbox/payloads"
	"github.com/lucasferrand/mangetout-backend/pkg/pagination"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type restaurantReader interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Restaurant, error)
}

// CourierStats increments the denormalized delivery counters on the courier row.
type CourierStats interface {
	IncrementDeliveredTx(tx *gorm.DB, courierID uuid.UUID, earning decimal.Decimal) error
}

// RefundOpener creates the forced refund request that accompanies a
// post-capture cancellation, inside the same transaction.
type RefundOpener interface {
	OpenForcedTx(ctx context.Context, tx *gorm.DB, order *models.Order, amount decimal.Decimal, reason string) (*models.RefundRequest, error)
}

// Service exposes the order ledger and its state machine.
type Service interface {
	Create(ctx context.Context, input CreateOrderInput) (*models.Order, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Order, error)
	List(ctx context.Context, params pagination.Params, filters ListFilters) (*OrderList, error)
	ConfirmPayment(ctx context.Context, orderID uuid.UUID, paymentRef string) (*models.Order, error)
	Accept(ctx context.Context, orderID uuid.UUID) (*TransitionResult, error)
	StartPreparation(ctx context.Context, orderID uuid.UUID) (*TransitionResult, error)
	MarkReady(ctx context.Context, orderID uuid.UUID) (*TransitionResult, error)
	AssignCourier(ctx context.Context, orderID, courierID uuid.UUID) (*TransitionResult, error)
	Pickup(ctx context.Context, orderID uuid.UUID) (*TransitionResult, error)
	ConfirmDelivery(ctx context.Context, orderID uuid.UUID) (*TransitionResult, error)
	Cancel(ctx context.Context, orderID uuid.UUID, reason string) (*TransitionResult, error)
}

// Deps bundles the collaborators the order service needs.
type Deps struct {
	Repo         Repository
	Tx           txRunner
	Outbox       outboxPublisher
	Restaurants  restaurantReader
	Couriers     CourierStats
	Refunds      RefundOpener
	Schedule     fees.Schedule
	DeliveryRate decimal.Decimal
	Now          func() time.Time
}

type service struct {
	repo         Repository
	tx           txRunner
	outbox       outboxPublisher
	restaurants  restaurantReader
	couriers     CourierStats
	refunds      RefundOpener
	schedule     fees.Schedule
	deliveryRate decimal.Decimal
	now          func() time.Time
}

// NewService builds the order service with the required dependencies.
func NewService(deps Deps) (Service, error) {
	if deps.Repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if deps.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if deps.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if deps.Restaurants == nil {
		return nil, fmt.Errorf("restaurant reader required")
	}
	if deps.Couriers == nil {
		return nil, fmt.Errorf("courier stats required")
	}
	if deps.Refunds == nil {
		return nil, fmt.Errorf("refund opener required")
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &service{
		repo:         deps.Repo,
		tx:           deps.Tx,
		outbox:       deps.Outbox,
		restaurants:  deps.Restaurants,
		couriers:     deps.Couriers,
		refunds:      deps.Refunds,
		schedule:     deps.Schedule,
		deliveryRate: deps.DeliveryRate,
		now:          deps.Now,
	}, nil
}

func (s *service) Create(ctx context.Context, input CreateOrderInput) (*models.Order, error) {
	if input.RestaurantID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "restaurant id required")
	}
	if input.CustomerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer id required")
	}
	if input.DeliveryAddress == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "delivery address required")
	}
	if len(input.Lines) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order must contain at least one line")
	}

	lines := make([]models.OrderLine, 0, len(input.Lines))
	subtotal := decimal.Zero
	for i, line := range input.Lines {
		if line.Name == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("line %d: name required", i))
		}
		if line.Quantity <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("line %d: quantity must be positive", i))
		}
		if line.UnitPrice.IsNegative() {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("line %d: unit price must not be negative", i))
		}
		lineTotal := line.UnitPrice.Mul(decimal.NewFromInt(int64(line.Quantity)))
		subtotal = subtotal.Add(lineTotal)
		lines = append(lines, models.OrderLine{
			Name:      line.Name,
			UnitPrice: line.UnitPrice,
			Quantity:  line.Quantity,
			LineTotal: lineTotal,
		})
	}

	restaurant, err := s.restaurants.FindByID(ctx, input.RestaurantID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "restaurant not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load restaurant")
	}

	distance := fees.Distance(restaurant.Latitude, restaurant.Longitude, input.DeliveryLat, input.DeliveryLon)
	fee, err := s.schedule.DeliveryFee(distance, subtotal)
	if err != nil {
		return nil, err
	}

	split, err := commission.Compute(subtotal, fee, restaurant.CommissionRate, s.deliveryRate)
	if err != nil {
		return nil, err
	}

	order := &models.Order{
		RestaurantID:             input.RestaurantID,
		CustomerID:               input.CustomerID,
		OrderStatus:              enums.OrderStatusPending,
		PaymentStatus:            enums.PaymentStatusPending,
		Subtotal:                 subtotal,
		DeliveryFee:              fee,
		CommissionRate:           split.CommissionRate,
		CommissionAmount:         split.CommissionAmount,
		RestaurantPayout:         split.RestaurantPayout,
		DeliveryCommissionRate:   split.DeliveryCommissionRate,
		DeliveryCommissionAmount: split.DeliveryCommissionAmount,
		CourierEarning:           split.CourierEarning,
		DeliveryAddress:          input.DeliveryAddress,
		DistanceKm:               distance,
		Lines:                    lines,
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if _, err := repo.Create(ctx, order); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
		}
		return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Version:       1,
			Data: payloads.OrderCreatedEvent{
				OrderID:          order.ID,
				RestaurantID:     order.RestaurantID,
				CustomerID:       order.CustomerID,
				Subtotal:         order.Subtotal,
				DeliveryFee:      order.DeliveryFee,
				CommissionAmount: order.CommissionAmount,
				DistanceKm:       order.DistanceKm,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	order, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return order, nil
}

func (s *service) List(ctx context.Context, params pagination.Params, filters ListFilters) (*OrderList, error) {
	list, err := s.repo.List(ctx, params, filters)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders")
	}
	return list, nil
}

// ConfirmPayment records the gateway's capture confirmation. Retries carrying
// the same reference are reported as success.
func (s *service) ConfirmPayment(ctx context.Context, orderID uuid.UUID, paymentRef string) (*models.Order, error) {
	if paymentRef == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment reference required")
	}

	var order *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		ok, err := repo.UpdatePayment(ctx, orderID, enums.PaymentStatusPending, enums.PaymentStatusPaid, map[string]any{
			"payment_ref": paymentRef,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update payment status")
		}
		order, err = repo.FindByID(ctx, orderID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}
		if ok {
			return nil
		}
		if order.PaymentStatus == enums.PaymentStatusPaid && order.PaymentRef != nil && *order.PaymentRef == paymentRef {
			return nil
		}
		return pkgerrors.New(pkgerrors.CodePrecondition, fmt.Sprintf("cannot confirm payment in status %s", order.PaymentStatus))
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (s *service) Accept(ctx context.Context, orderID uuid.UUID) (*TransitionResult, error) {
	return s.transition(ctx, orderID, "accept", enums.OrderStatusPending, enums.OrderStatusAccepted, nil)
}

func (s *service) StartPreparation(ctx context.Context, orderID uuid.UUID) (*TransitionResult, error) {
	return s.transition(ctx, orderID, "start preparation", enums.OrderStatusAccepted, enums.OrderStatusPreparing, nil)
}

func (s *service) MarkReady(ctx context.Context, orderID uuid.UUID) (*TransitionResult, error) {
	return s.transition(ctx, orderID, "mark ready", enums.OrderStatusPreparing, enums.OrderStatusReadyForPickup, nil)
}

// AssignCourier binds a courier without changing the order status. Assigning
// the same courier again is a no-op; assigning a different one is rejected.
func (s *service) AssignCourier(ctx context.Context, orderID, courierID uuid.UUID) (*TransitionResult, error) {
	if courierID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "courier id required")
	}

	var result *TransitionResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		ok, err := repo.AssignCourier(ctx, orderID, courierID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "assign courier")
		}
		order, err := repo.FindByID(ctx, orderID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}
		if !ok {
			if order.CourierID != nil && *order.CourierID == courierID {
				result = &TransitionResult{Order: order, NoOp: true}
				return nil
			}
			if order.CourierID != nil {
				return pkgerrors.New(pkgerrors.CodeConflict, "order already assigned to another courier")
			}
			return pkgerrors.New(pkgerrors.CodePrecondition, fmt.Sprintf("cannot assign a courier in status %s", order.OrderStatus))
		}
		result = &TransitionResult{Order: order}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Pickup moves the order onto the road. It requires an assigned courier and a
// captured payment; anything else is a precondition failure, not a silent skip.
func (s *service) Pickup(ctx context.Context, orderID uuid.UUID) (*TransitionResult, error) {
	var result *TransitionResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.FindByIDForUpdate(ctx, orderID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}

		if order.OrderStatus == enums.OrderStatusOutForDelivery {
			result = &TransitionResult{Order: order, NoOp: true}
			return nil
		}
		if order.OrderStatus != enums.OrderStatusReadyForPickup {
			return pkgerrors.New(pkgerrors.CodePrecondition, fmt.Sprintf("cannot pick up an order in status %s", order.OrderStatus))
		}
		if order.CourierID == nil {
			return pkgerrors.New(pkgerrors.CodePrecondition, "a courier must be assigned before pickup")
		}
		if order.PaymentStatus != enums.PaymentStatusPaid {
			return pkgerrors.New(pkgerrors.CodePrecondition, "payment must be captured before pickup")
		}

		ok, err := repo.UpdateStatus(ctx, orderID, enums.OrderStatusReadyForPickup, enums.OrderStatusOutForDelivery, nil)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order status")
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeConflict, "order changed concurrently, retry pickup")
		}

		order.OrderStatus = enums.OrderStatusOutForDelivery
		result = &TransitionResult{Order: order}
		return s.outbox.Emit(ctx, tx, statusChangedEvent(order, enums.OrderStatusReadyForPickup, enums.OrderStatusOutForDelivery))
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ConfirmDelivery is the one transition with side effects: it stamps
// delivered_at, increments the courier counters and queues the delivered
// notification. All of that fires only on the winning call.
func (s *service) ConfirmDelivery(ctx context.Context, orderID uuid.UUID) (*TransitionResult, error) {
	var result *TransitionResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.FindByIDForUpdate(ctx, orderID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}

		if order.OrderStatus == enums.OrderStatusDelivered {
			result = &TransitionResult{Order: order, NoOp: true}
			return nil
		}
		if order.OrderStatus != enums.OrderStatusOutForDelivery {
			return pkgerrors.New(pkgerrors.CodePrecondition, fmt.Sprintf("cannot confirm delivery in status %s", order.OrderStatus))
		}
		if order.CourierID == nil {
			return pkgerrors.New(pkgerrors.CodePrecondition, "order has no assigned courier")
		}

		deliveredAt := s.now()
		ok, err := repo.UpdateStatus(ctx, orderID, enums.OrderStatusOutForDelivery, enums.OrderStatusDelivered, map[string]any{
			"delivered_at": deliveredAt,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order status")
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeConflict, "order changed concurrently, retry delivery confirmation")
		}

		if err := s.couriers.IncrementDeliveredTx(tx, *order.CourierID, order.CourierEarning); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "increment courier stats")
		}

		order.OrderStatus = enums.OrderStatusDelivered
		order.DeliveredAt = &deliveredAt
		result = &TransitionResult{Order: order}

		if err := s.outbox.Emit(ctx, tx, statusChangedEvent(order, enums.OrderStatusOutForDelivery, enums.OrderStatusDelivered)); err != nil {
			return err
		}
		return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderDelivered,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Version:       1,
			Data: payloads.OrderDeliveredEvent{
				OrderID:          order.ID,
				RestaurantID:     order.RestaurantID,
				CourierID:        *order.CourierID,
				RestaurantPayout: order.RestaurantPayout,
				CourierEarning:   order.CourierEarning,
				DeliveredAt:      deliveredAt,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Cancel voids an order that has not left the restaurant. When the payment is
// already captured it hands off to the refund arbiter in the same transaction.
func (s *service) Cancel(ctx context.Context, orderID uuid.UUID, reason string) (*TransitionResult, error) {
	var result *TransitionResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.FindByIDForUpdate(ctx, orderID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}

		if order.OrderStatus == enums.OrderStatusCancelled {
			result = &TransitionResult{Order: order, NoOp: true}
			return nil
		}
		if !cancellable(order.OrderStatus) {
			return pkgerrors.New(pkgerrors.CodePrecondition, fmt.Sprintf("cannot cancel an order in status %s", order.OrderStatus))
		}

		from := order.OrderStatus
		cancelledAt := s.now()
		ok, err := repo.UpdateStatus(ctx, orderID, from, enums.OrderStatusCancelled, map[string]any{
			"cancelled_at": cancelledAt,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order status")
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeConflict, "order changed concurrently, retry cancellation")
		}

		refundQueued := false
		if order.PaymentStatus == enums.PaymentStatusPaid {
			ok, err := repo.UpdatePayment(ctx, orderID, enums.PaymentStatusPaid, enums.PaymentStatusRefundPending, nil)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark payment refund pending")
			}
			if !ok {
				return pkgerrors.New(pkgerrors.CodeConflict, "payment changed concurrently, retry cancellation")
			}
			if _, err := s.refunds.OpenForcedTx(ctx, tx, order, order.Total(), reason); err != nil {
				return err
			}
			refundQueued = true
		}

		order.OrderStatus = enums.OrderStatusCancelled
		order.CancelledAt = &cancelledAt
		if refundQueued {
			order.PaymentStatus = enums.PaymentStatusRefundPending
		}
		result = &TransitionResult{Order: order}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCancelled,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Version:       1,
			Data: payloads.OrderCancelledEvent{
				OrderID:      order.ID,
				RestaurantID: order.RestaurantID,
				From:         from,
				CancelledAt:  cancelledAt,
				RefundQueued: refundQueued,
				Reason:       reason,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *service) transition(ctx context.Context, orderID uuid.UUID, action string, from, to enums.OrderStatus, updates map[string]any) (*TransitionResult, error) {
	var result *TransitionResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		ok, err := repo.UpdateStatus(ctx, orderID, from, to, updates)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order status")
		}
		order, err := repo.FindByID(ctx, orderID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}
		if !ok {
			if order.OrderStatus == to {
				result = &TransitionResult{Order: order, NoOp: true}
				return nil
			}
			if order.OrderStatus == from {
				return pkgerrors.New(pkgerrors.CodeConflict, fmt.Sprintf("order changed concurrently, retry %s", action))
			}
			return pkgerrors.New(pkgerrors.CodePrecondition, fmt.Sprintf("cannot %s an order in status %s", action, order.OrderStatus))
		}
		result = &TransitionResult{Order: order}
		return s.outbox.Emit(ctx, tx, statusChangedEvent(order, from, to))
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func cancellable(status enums.OrderStatus) bool {
	switch status {
	case enums.OrderStatusPending, enums.OrderStatusAccepted, enums.OrderStatusPreparing, enums.OrderStatusReadyForPickup:
		return true
	default:
		return false
	}
}

func statusChangedEvent(order *models.Order, from, to enums.OrderStatus) outbox.DomainEvent {
	return outbox.DomainEvent{
		EventType:     enums.EventOrderStatusChanged,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Version:       1,
		Data: payloads.OrderStatusChangedEvent{
			OrderID:      order.ID,
			RestaurantID: order.RestaurantID,
			From:         from,
			To:           to,
		},
	}
}
