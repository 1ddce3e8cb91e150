package refunds

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	dbpkg "github.com/lucasferrand/mangetout-backend/pkg/db"
	"github.com/lucasferrand/mangetout-backend/pkg/db/models"
	"github.com/lucasferrand/mangetout-backend/pkg/enums"
	pkgerrors "github.com/lucasferrand/mangetout-backend/pkg/errors"
	"github.com/lucasferrand/mangetout-backend/pkg/outbox"
	"github.com/lucasferrand/mangetout-backend/pkg/outbox/payloads"
	"github.com/lucasferrand/mangetout-backend/pkg/payments"
)

// Machine-checkable refund denial kinds, carried as the error reason on
// REFUND_INELIGIBLE errors.
const (
	ReasonNotDelivered      = "not_delivered"
	ReasonWindowExpired     = "window_expired"
	ReasonAlreadyInProgress = "refund_already_in_progress"
	ReasonNoCapturedPayment = "no_captured_payment"
	ReasonInvalidAmount     = "invalid_amount"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Gateway executes refunds against the payment provider.
type Gateway interface {
	CreateRefund(ctx context.Context, req payments.RefundRequest) (*payments.Refund, error)
}

// RequestInput is a customer-initiated refund claim. A nil Amount means the
// full refundable total.
type RequestInput struct {
	OrderID uuid.UUID
	Amount  *decimal.Decimal
	Reason  string
}

// Service arbitrates refund eligibility and drives refund execution.
type Service interface {
	Request(ctx context.Context, input RequestInput) (*models.RefundRequest, error)
	OpenForcedTx(ctx context.Context, tx *gorm.DB, order *models.Order, amount decimal.Decimal, reason string) (*models.RefundRequest, error)
	Approve(ctx context.Context, id uuid.UUID) (*models.RefundRequest, error)
	Reject(ctx context.Context, id uuid.UUID, reason string) (*models.RefundRequest, error)
	Execute(ctx context.Context, id uuid.UUID) (*models.RefundRequest, error)
	Get(ctx context.Context, id uuid.UUID) (*models.RefundRequest, error)
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.RefundRequest, error)
}

// Deps bundles the collaborators the refund service needs.
type Deps struct {
	Repo    Repository
	Tx      txRunner
	Outbox  outboxPublisher
	Gateway Gateway
	Window  time.Duration
	Now     func() time.Time
}

type service struct {
	repo    Repository
	tx      txRunner
	outbox  outboxPublisher
	gateway Gateway
	window  time.Duration
	now     func() time.Time
}

// NewService builds the refund service with the required dependencies.
func NewService(deps Deps) (Service, error) {
	if deps.Repo == nil {
		return nil, fmt.Errorf("refunds repository required")
	}
	if deps.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if deps.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if deps.Gateway == nil {
		return nil, fmt.Errorf("payment gateway required")
	}
	if deps.Window <= 0 {
		deps.Window = 48 * time.Hour
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &service{
		repo:    deps.Repo,
		tx:      deps.Tx,
		outbox:  deps.Outbox,
		gateway: deps.Gateway,
		window:  deps.Window,
		now:     deps.Now,
	}, nil
}

func ineligible(reason, message string) error {
	return pkgerrors.New(pkgerrors.CodeRefundIneligible, message).WithReason(reason)
}

// Request runs the full eligibility gauntlet and opens a pending refund
// request. The order row is locked so two concurrent claims cannot both pass
// the single-active check; the partial unique index backs that up.
func (s *service) Request(ctx context.Context, input RequestInput) (*models.RefundRequest, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}

	var request *models.RefundRequest
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.FindOrderForUpdate(ctx, input.OrderID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}

		if order.OrderStatus != enums.OrderStatusDelivered || order.DeliveredAt == nil {
			return ineligible(ReasonNotDelivered, "only delivered orders can be refunded")
		}
		// The window boundary itself is still eligible.
		if s.now().Sub(*order.DeliveredAt) > s.window {
			return ineligible(ReasonWindowExpired, "refund window has expired")
		}
		active, err := repo.FindActiveByOrder(ctx, input.OrderID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check active refund requests")
		}
		if active != nil {
			return ineligible(ReasonAlreadyInProgress, "a refund request is already in progress for this order")
		}
		if order.PaymentRef == nil || order.PaymentStatus != enums.PaymentStatusPaid {
			return ineligible(ReasonNoCapturedPayment, "no captured payment to refund")
		}

		amount, err := resolveAmount(order, input.Amount)
		if err != nil {
			return err
		}

		request, err = s.open(ctx, tx, repo, order, amount, input.Reason, false)
		return err
	})
	if err != nil {
		return nil, err
	}
	return request, nil
}

// OpenForcedTx opens a refund request bypassing the eligibility gauntlet. It
// is the handoff used by post-capture cancellation and the admin interface;
// the single-active invariant still holds and the amount is clamped to what
// the customer actually paid.
func (s *service) OpenForcedTx(ctx context.Context, tx *gorm.DB, order *models.Order, amount decimal.Decimal, reason string) (*models.RefundRequest, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	if order == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order required")
	}
	if !amount.IsPositive() {
		return nil, ineligible(ReasonInvalidAmount, "refund amount must be positive")
	}
	if amount.GreaterThan(order.Total()) {
		amount = order.Total()
	}
	repo := s.repo.WithTx(tx)
	return s.open(ctx, tx, repo, order, amount, reason, true)
}

func (s *service) open(ctx context.Context, tx *gorm.DB, repo Repository, order *models.Order, amount decimal.Decimal, reason string, forced bool) (*models.RefundRequest, error) {
	request := &models.RefundRequest{
		OrderID: order.ID,
		Amount:  amount,
		Status:  enums.RefundRequestStatusPending,
		Forced:  forced,
	}
	if reason != "" {
		request.Reason = &reason
	}
	if _, err := repo.Create(ctx, request); err != nil {
		if dbpkg.IsUniqueViolation(err, "ux_refund_requests_active_order") {
			return nil, ineligible(ReasonAlreadyInProgress, "a refund request is already in progress for this order")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create refund request")
	}

	err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventRefundRequested,
		AggregateType: enums.AggregateRefundRequest,
		AggregateID:   request.ID,
		Version:       1,
		Data: payloads.RefundRequestedEvent{
			RefundRequestID: request.ID,
			OrderID:         order.ID,
			Amount:          amount,
			Forced:          forced,
		},
	})
	if err != nil {
		return nil, err
	}
	return request, nil
}

func (s *service) Approve(ctx context.Context, id uuid.UUID) (*models.RefundRequest, error) {
	var request *models.RefundRequest
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		ok, err := repo.UpdateStatus(ctx, id, enums.RefundRequestStatusPending, enums.RefundRequestStatusApproved, nil)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "approve refund request")
		}
		request, err = s.reload(ctx, repo, id)
		if err != nil {
			return err
		}
		if !ok {
			if request.Status == enums.RefundRequestStatusApproved {
				return nil
			}
			return pkgerrors.New(pkgerrors.CodePrecondition, fmt.Sprintf("cannot approve a refund request in status %s", request.Status))
		}
		request.Status = enums.RefundRequestStatusApproved
		return nil
	})
	if err != nil {
		return nil, err
	}
	return request, nil
}

func (s *service) Reject(ctx context.Context, id uuid.UUID, reason string) (*models.RefundRequest, error) {
	var request *models.RefundRequest
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		current, err := s.reload(ctx, repo, id)
		if err != nil {
			return err
		}
		if current.Status == enums.RefundRequestStatusRejected {
			request = current
			return nil
		}
		if current.Status != enums.RefundRequestStatusPending && current.Status != enums.RefundRequestStatusApproved {
			return pkgerrors.New(pkgerrors.CodePrecondition, fmt.Sprintf("cannot reject a refund request in status %s", current.Status))
		}

		updates := map[string]any{"processed_at": s.now()}
		if reason != "" {
			updates["reason"] = reason
		}
		ok, err := repo.UpdateStatus(ctx, id, current.Status, enums.RefundRequestStatusRejected, updates)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reject refund request")
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeConflict, "refund request changed concurrently, retry rejection")
		}

		// A rejection releases the refund_pending hold taken by cancellation.
		if _, err := repo.UpdateOrderPayment(ctx, current.OrderID, enums.PaymentStatusRefundPending, enums.PaymentStatusPaid); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "release payment hold")
		}

		request, err = s.reload(ctx, repo, id)
		if err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, resolvedEvent(request))
	})
	if err != nil {
		return nil, err
	}
	return request, nil
}

// Execute runs an approved refund through the gateway. The claim moves to
// processing before the call so a second operator cannot double-execute; the
// terminal completed state and the order's refunded flag commit only after
// the gateway confirms.
func (s *service) Execute(ctx context.Context, id uuid.UUID) (*models.RefundRequest, error) {
	request, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if request.Status == enums.RefundRequestStatusCompleted {
		return request, nil
	}
	if request.Status != enums.RefundRequestStatusApproved {
		return nil, pkgerrors.New(pkgerrors.CodePrecondition, fmt.Sprintf("cannot execute a refund request in status %s", request.Status))
	}

	order, err := s.repo.FindOrderForUpdate(ctx, request.OrderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	if order.PaymentRef == nil {
		return nil, ineligible(ReasonNoCapturedPayment, "no captured payment to refund")
	}

	ok, err := s.repo.UpdateStatus(ctx, id, enums.RefundRequestStatusApproved, enums.RefundRequestStatusProcessing, nil)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark refund processing")
	}
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "refund request changed concurrently, retry execution")
	}

	refund, err := s.gateway.CreateRefund(ctx, payments.RefundRequest{
		CaptureRef:     *order.PaymentRef,
		Amount:         request.Amount,
		IdempotencyKey: request.ID.String(),
	})
	if err != nil {
		// Roll the claim back so the next run can retry with the same key.
		if _, revertErr := s.repo.UpdateStatus(ctx, id, enums.RefundRequestStatusProcessing, enums.RefundRequestStatusApproved, nil); revertErr != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, revertErr, "revert refund to approved after gateway failure")
		}
		return nil, err
	}

	var completed *models.RefundRequest
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		ok, err := repo.UpdateStatus(ctx, id, enums.RefundRequestStatusProcessing, enums.RefundRequestStatusCompleted, map[string]any{
			"gateway_ref":  refund.Ref,
			"processed_at": s.now(),
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "complete refund request")
		}
		if !ok {
			return pkgerrors.New(pkgerrors.CodeConflict, "refund request changed concurrently after gateway confirmation")
		}

		if _, err := repo.UpdateOrderPayment(ctx, request.OrderID, enums.PaymentStatusRefundPending, enums.PaymentStatusRefunded); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark order refunded")
		}
		if _, err := repo.UpdateOrderPayment(ctx, request.OrderID, enums.PaymentStatusPaid, enums.PaymentStatusRefunded); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark order refunded")
		}

		completed, err = s.reload(ctx, repo, id)
		if err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, resolvedEvent(completed))
	})
	if err != nil {
		return nil, err
	}
	return completed, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.RefundRequest, error) {
	return s.reload(ctx, s.repo, id)
}

func (s *service) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.RefundRequest, error) {
	rows, err := s.repo.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list refund requests")
	}
	return rows, nil
}

func (s *service) reload(ctx context.Context, repo Repository, id uuid.UUID) (*models.RefundRequest, error) {
	request, err := repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "refund request not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load refund request")
	}
	return request, nil
}

func resolveAmount(order *models.Order, requested *decimal.Decimal) (decimal.Decimal, error) {
	// The customer paid subtotal plus delivery fee; the fee must come back too.
	refundable := order.Total()
	if requested == nil {
		return refundable, nil
	}
	if !requested.IsPositive() {
		return decimal.Zero, ineligible(ReasonInvalidAmount, "refund amount must be positive")
	}
	if requested.GreaterThan(refundable) {
		return refundable, nil
	}
	return *requested, nil
}

func resolvedEvent(request *models.RefundRequest) outbox.DomainEvent {
	gatewayRef := ""
	if request.GatewayRef != nil {
		gatewayRef = *request.GatewayRef
	}
	return outbox.DomainEvent{
		EventType:     enums.EventRefundResolved,
		AggregateType: enums.AggregateRefundRequest,
		AggregateID:   request.ID,
		Version:       1,
		Data: payloads.RefundResolvedEvent{
			RefundRequestID: request.ID,
			OrderID:         request.OrderID,
			Status:          request.Status,
			Amount:          request.Amount,
			GatewayRef:      gatewayRef,
		},
	}
}
