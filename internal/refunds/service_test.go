package refunds

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/lucasferrand/mangetout-backend/pkg/db/models"
	"github.com/lucasferrand/mangetout-backend/pkg/enums"
	pkgerrors "github.com/lucasferrand/mangetout-backend/pkg/errors"
	"github.com/lucasferrand/mangetout-backend/pkg/outbox"
	"github.com/lucasferrand/mangetout-backend/pkg/payments"
)

type fakeRefundRepo struct {
	requests map[uuid.UUID]*models.RefundRequest
	orders   map[uuid.UUID]*models.Order
}

func newFakeRefundRepo() *fakeRefundRepo {
	return &fakeRefundRepo{
		requests: make(map[uuid.UUID]*models.RefundRequest),
		orders:   make(map[uuid.UUID]*models.Order),
	}
}

func (f *fakeRefundRepo) WithTx(tx *gorm.DB) Repository { return f }

func (f *fakeRefundRepo) Create(ctx context.Context, request *models.RefundRequest) (*models.RefundRequest, error) {
	if request.ID == uuid.Nil {
		request.ID = uuid.New()
	}
	request.CreatedAt = time.Now()
	f.requests[request.ID] = request
	return request, nil
}

func (f *fakeRefundRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.RefundRequest, error) {
	request, ok := f.requests[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *request
	return &copied, nil
}

func (f *fakeRefundRepo) FindActiveByOrder(ctx context.Context, orderID uuid.UUID) (*models.RefundRequest, error) {
	for _, request := range f.requests {
		if request.OrderID != orderID {
			continue
		}
		switch request.Status {
		case enums.RefundRequestStatusPending, enums.RefundRequestStatusApproved, enums.RefundRequestStatusProcessing:
			copied := *request
			return &copied, nil
		}
	}
	return nil, nil
}

func (f *fakeRefundRepo) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.RefundRequest, error) {
	var rows []models.RefundRequest
	for _, request := range f.requests {
		if request.OrderID == orderID {
			rows = append(rows, *request)
		}
	}
	return rows, nil
}

func (f *fakeRefundRepo) UpdateStatus(ctx context.Context, id uuid.UUID, from, to enums.RefundRequestStatus, updates map[string]any) (bool, error) {
	request, ok := f.requests[id]
	if !ok || request.Status != from {
		return false, nil
	}
	request.Status = to
	if v, ok := updates["gateway_ref"].(string); ok {
		request.GatewayRef = &v
	}
	if v, ok := updates["processed_at"].(time.Time); ok {
		request.ProcessedAt = &v
	}
	if v, ok := updates["reason"].(string); ok {
		request.Reason = &v
	}
	return true, nil
}

func (f *fakeRefundRepo) FindOrderForUpdate(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	order, ok := f.orders[orderID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *order
	return &copied, nil
}

func (f *fakeRefundRepo) UpdateOrderPayment(ctx context.Context, orderID uuid.UUID, from, to enums.PaymentStatus) (bool, error) {
	order, ok := f.orders[orderID]
	if !ok || order.PaymentStatus != from {
		return false, nil
	}
	order.PaymentStatus = to
	return true, nil
}

type fakeTx struct{}

func (fakeTx) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error { return fn(nil) }

type fakeOutbox struct {
	events []outbox.DomainEvent
}

func (f *fakeOutbox) Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	f.events = append(f.events, event)
	return nil
}

type fakeGateway struct {
	refunds []payments.RefundRequest
	err     error
}

func (f *fakeGateway) CreateRefund(ctx context.Context, req payments.RefundRequest) (*payments.Refund, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.refunds = append(f.refunds, req)
	return &payments.Refund{Ref: "re_" + req.IdempotencyKey, Amount: req.Amount}, nil
}

var frozenNow = time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

type refundFixture struct {
	service Service
	repo    *fakeRefundRepo
	outbox  *fakeOutbox
	gateway *fakeGateway
}

func newRefundFixture(t *testing.T) *refundFixture {
	t.Helper()
	repo := newFakeRefundRepo()
	events := &fakeOutbox{}
	gateway := &fakeGateway{}
	svc, err := NewService(Deps{
		Repo:    repo,
		Tx:      fakeTx{},
		Outbox:  events,
		Gateway: gateway,
		Window:  48 * time.Hour,
		Now:     func() time.Time { return frozenNow },
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return &refundFixture{service: svc, repo: repo, outbox: events, gateway: gateway}
}

func (f *refundFixture) seedDeliveredOrder(deliveredAgo time.Duration) *models.Order {
	deliveredAt := frozenNow.Add(-deliveredAgo)
	ref := "cap_abc"
	order := &models.Order{
		ID:            uuid.New(),
		RestaurantID:  uuid.New(),
		CustomerID:    uuid.New(),
		OrderStatus:   enums.OrderStatusDelivered,
		PaymentStatus: enums.PaymentStatusPaid,
		PaymentRef:    &ref,
		Subtotal:      decimal.RequireFromString("20.00"),
		DeliveryFee:   decimal.RequireFromString("2.50"),
		DeliveredAt:   &deliveredAt,
	}
	f.repo.orders[order.ID] = order
	return order
}

func assertIneligible(t *testing.T, err error, reason string) {
	t.Helper()
	if !pkgerrors.HasReason(err, pkgerrors.CodeRefundIneligible, reason) {
		t.Fatalf("expected REFUND_INELIGIBLE with reason %q, got %v", reason, err)
	}
}

func TestRequestDefaultsToFullTotal(t *testing.T) {
	fix := newRefundFixture(t)
	order := fix.seedDeliveredOrder(2 * time.Hour)

	request, err := fix.service.Request(context.Background(), RequestInput{
		OrderID: order.ID,
		Reason:  "cold food",
	})
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if got := request.Amount.StringFixed(2); got != "22.50" {
		t.Fatalf("amount = %s, want the full total 22.50", got)
	}
	if request.Status != enums.RefundRequestStatusPending {
		t.Fatalf("status = %s, want pending", request.Status)
	}
	if request.Forced {
		t.Fatal("a customer claim must not be marked forced")
	}
	if len(fix.outbox.events) != 1 || fix.outbox.events[0].EventType != enums.EventRefundRequested {
		t.Fatal("expected one refund_requested event")
	}
}

func TestRequestClampsExcessiveAmount(t *testing.T) {
	fix := newRefundFixture(t)
	order := fix.seedDeliveredOrder(2 * time.Hour)

	over := decimal.RequireFromString("100.00")
	request, err := fix.service.Request(context.Background(), RequestInput{
		OrderID: order.ID,
		Amount:  &over,
		Reason:  "everything was wrong",
	})
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if got := request.Amount.StringFixed(2); got != "22.50" {
		t.Fatalf("amount = %s, want clamp to 22.50", got)
	}
}

func TestRequestWindowBoundary(t *testing.T) {
	fix := newRefundFixture(t)

	// Exactly at the window edge is still eligible.
	onEdge := fix.seedDeliveredOrder(48 * time.Hour)
	if _, err := fix.service.Request(context.Background(), RequestInput{OrderID: onEdge.ID, Reason: "late but in time"}); err != nil {
		t.Fatalf("request on the window boundary must succeed: %v", err)
	}

	expired := fix.seedDeliveredOrder(48*time.Hour + time.Second)
	_, err := fix.service.Request(context.Background(), RequestInput{OrderID: expired.ID, Reason: "too late"})
	assertIneligible(t, err, ReasonWindowExpired)
}

func TestRequestRequiresDelivery(t *testing.T) {
	fix := newRefundFixture(t)
	order := fix.seedDeliveredOrder(time.Hour)
	order.OrderStatus = enums.OrderStatusOutForDelivery

	_, err := fix.service.Request(context.Background(), RequestInput{OrderID: order.ID, Reason: "impatient"})
	assertIneligible(t, err, ReasonNotDelivered)
}

func TestRequestRejectsSecondActiveClaim(t *testing.T) {
	fix := newRefundFixture(t)
	order := fix.seedDeliveredOrder(time.Hour)

	if _, err := fix.service.Request(context.Background(), RequestInput{OrderID: order.ID, Reason: "first"}); err != nil {
		t.Fatalf("first request: %v", err)
	}
	_, err := fix.service.Request(context.Background(), RequestInput{OrderID: order.ID, Reason: "second"})
	assertIneligible(t, err, ReasonAlreadyInProgress)
}

func TestRequestRequiresCapturedPayment(t *testing.T) {
	fix := newRefundFixture(t)
	order := fix.seedDeliveredOrder(time.Hour)
	order.PaymentRef = nil

	_, err := fix.service.Request(context.Background(), RequestInput{OrderID: order.ID, Reason: "never paid"})
	assertIneligible(t, err, ReasonNoCapturedPayment)
}

func TestRequestRejectsNonPositiveAmount(t *testing.T) {
	fix := newRefundFixture(t)
	order := fix.seedDeliveredOrder(time.Hour)

	zero := decimal.Zero
	_, err := fix.service.Request(context.Background(), RequestInput{OrderID: order.ID, Amount: &zero, Reason: "free money"})
	assertIneligible(t, err, ReasonInvalidAmount)
}

func TestOpenForcedBypassesEligibility(t *testing.T) {
	fix := newRefundFixture(t)
	ref := "cap_xyz"
	// Cancelled pre-delivery order: the normal gauntlet would refuse it.
	order := &models.Order{
		ID:            uuid.New(),
		OrderStatus:   enums.OrderStatusCancelled,
		PaymentStatus: enums.PaymentStatusRefundPending,
		PaymentRef:    &ref,
		Subtotal:      decimal.RequireFromString("15.00"),
		DeliveryFee:   decimal.RequireFromString("3.00"),
	}
	fix.repo.orders[order.ID] = order

	request, err := fix.service.OpenForcedTx(context.Background(), &gorm.DB{}, order, decimal.RequireFromString("40.00"), "cancelled after capture")
	if err != nil {
		t.Fatalf("OpenForcedTx: %v", err)
	}
	if !request.Forced {
		t.Fatal("forced request must carry the forced flag")
	}
	if got := request.Amount.StringFixed(2); got != "18.00" {
		t.Fatalf("amount = %s, want clamp to paid total 18.00", got)
	}
}

func TestApproveThenExecuteCompletesRefund(t *testing.T) {
	fix := newRefundFixture(t)
	order := fix.seedDeliveredOrder(time.Hour)

	request, err := fix.service.Request(context.Background(), RequestInput{OrderID: order.ID, Reason: "cold food"})
	if err != nil {
		t.Fatalf("Request: %v", err)
	}

	approved, err := fix.service.Approve(context.Background(), request.ID)
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if approved.Status != enums.RefundRequestStatusApproved {
		t.Fatalf("status = %s, want approved", approved.Status)
	}

	// Approving again is a harmless retry.
	if _, err := fix.service.Approve(context.Background(), request.ID); err != nil {
		t.Fatalf("retried Approve: %v", err)
	}

	completed, err := fix.service.Execute(context.Background(), request.ID)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if completed.Status != enums.RefundRequestStatusCompleted {
		t.Fatalf("status = %s, want completed", completed.Status)
	}
	if completed.GatewayRef == nil {
		t.Fatal("gateway ref must be recorded")
	}
	if len(fix.gateway.refunds) != 1 {
		t.Fatalf("expected one gateway call, got %d", len(fix.gateway.refunds))
	}
	if fix.gateway.refunds[0].IdempotencyKey != request.ID.String() {
		t.Fatal("gateway call must carry the request id as idempotency key")
	}
	if fix.repo.orders[order.ID].PaymentStatus != enums.PaymentStatusRefunded {
		t.Fatalf("order payment = %s, want refunded", fix.repo.orders[order.ID].PaymentStatus)
	}

	// Executing a completed request reports success without another charge.
	if _, err := fix.service.Execute(context.Background(), request.ID); err != nil {
		t.Fatalf("retried Execute: %v", err)
	}
	if len(fix.gateway.refunds) != 1 {
		t.Fatal("gateway must not be called twice")
	}
}

func TestExecuteRequiresApproval(t *testing.T) {
	fix := newRefundFixture(t)
	order := fix.seedDeliveredOrder(time.Hour)

	request, err := fix.service.Request(context.Background(), RequestInput{OrderID: order.ID, Reason: "cold food"})
	if err != nil {
		t.Fatalf("Request: %v", err)
	}

	_, err = fix.service.Execute(context.Background(), request.ID)
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodePrecondition {
		t.Fatalf("expected PRECONDITION_FAILED, got %v", err)
	}
}

func TestExecuteRevertsOnGatewayFailure(t *testing.T) {
	fix := newRefundFixture(t)
	order := fix.seedDeliveredOrder(time.Hour)

	request, err := fix.service.Request(context.Background(), RequestInput{OrderID: order.ID, Reason: "cold food"})
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if _, err := fix.service.Approve(context.Background(), request.ID); err != nil {
		t.Fatalf("Approve: %v", err)
	}

	fix.gateway.err = errors.New("gateway timeout")
	if _, err := fix.service.Execute(context.Background(), request.ID); err == nil {
		t.Fatal("expected gateway failure to surface")
	}

	reverted, err := fix.service.Get(context.Background(), request.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if reverted.Status != enums.RefundRequestStatusApproved {
		t.Fatalf("status = %s, want approved after revert", reverted.Status)
	}

	// The retry with a healthy gateway completes with the same idempotency key.
	fix.gateway.err = nil
	completed, err := fix.service.Execute(context.Background(), request.ID)
	if err != nil {
		t.Fatalf("retried Execute: %v", err)
	}
	if completed.Status != enums.RefundRequestStatusCompleted {
		t.Fatalf("status = %s, want completed", completed.Status)
	}
	if fix.gateway.refunds[0].IdempotencyKey != request.ID.String() {
		t.Fatal("retry must reuse the request id as idempotency key")
	}
}

func TestRejectReleasesPaymentHold(t *testing.T) {
	fix := newRefundFixture(t)
	order := fix.seedDeliveredOrder(time.Hour)

	request, err := fix.service.Request(context.Background(), RequestInput{OrderID: order.ID, Reason: "cold food"})
	if err != nil {
		t.Fatalf("Request: %v", err)
	}

	// Simulate the hold a cancellation would have taken.
	fix.repo.orders[order.ID].PaymentStatus = enums.PaymentStatusRefundPending

	rejected, err := fix.service.Reject(context.Background(), request.ID, "order was fine")
	if err != nil {
		t.Fatalf("Reject: %v", err)
	}
	if rejected.Status != enums.RefundRequestStatusRejected {
		t.Fatalf("status = %s, want rejected", rejected.Status)
	}
	if fix.repo.orders[order.ID].PaymentStatus != enums.PaymentStatusPaid {
		t.Fatalf("payment = %s, want hold released to paid", fix.repo.orders[order.ID].PaymentStatus)
	}

	// A new claim is allowed once the previous one is terminal.
	if _, err := fix.service.Request(context.Background(), RequestInput{OrderID: order.ID, Reason: "second thoughts"}); err != nil {
		t.Fatalf("new request after rejection: %v", err)
	}
}
