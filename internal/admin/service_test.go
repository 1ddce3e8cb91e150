package admin

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/lucasferrand/mangetout-backend/pkg/db/models"
	"github.com/lucasferrand/mangetout-backend/pkg/enums"
	pkgerrors "github.com/lucasferrand/mangetout-backend/pkg/errors"
	"github.com/lucasferrand/mangetout-backend/pkg/outbox"
)

type fakeAdminRepo struct {
	orders map[uuid.UUID]*models.Order
	audits []models.AuditEntry
}

func newFakeAdminRepo() *fakeAdminRepo {
	return &fakeAdminRepo{orders: make(map[uuid.UUID]*models.Order)}
}

func (f *fakeAdminRepo) WithTx(tx *gorm.DB) Repository { return f }

func (f *fakeAdminRepo) CreateAudit(ctx context.Context, entry *models.AuditEntry) (*models.AuditEntry, error) {
	entry.ID = uuid.New()
	f.audits = append(f.audits, *entry)
	return entry, nil
}

func (f *fakeAdminRepo) ListAuditByOrder(ctx context.Context, orderID uuid.UUID) ([]models.AuditEntry, error) {
	var rows []models.AuditEntry
	for _, entry := range f.audits {
		if entry.OrderID == orderID {
			rows = append(rows, entry)
		}
	}
	return rows, nil
}

func (f *fakeAdminRepo) FindOrderForUpdate(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	order, ok := f.orders[orderID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *order
	copied.Lines = append([]models.OrderLine(nil), order.Lines...)
	return &copied, nil
}

func (f *fakeAdminRepo) ReplaceOrderLines(ctx context.Context, orderID uuid.UUID, lines []models.OrderLine) error {
	order, ok := f.orders[orderID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	for i := range lines {
		lines[i].OrderID = orderID
	}
	order.Lines = append([]models.OrderLine(nil), lines...)
	return nil
}

func (f *fakeAdminRepo) UpdateOrderMoney(ctx context.Context, orderID uuid.UUID, updates map[string]any) error {
	order, ok := f.orders[orderID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	if v, ok := updates["subtotal"].(decimal.Decimal); ok {
		order.Subtotal = v
	}
	if v, ok := updates["commission_amount"].(decimal.Decimal); ok {
		order.CommissionAmount = v
	}
	if v, ok := updates["restaurant_payout"].(decimal.Decimal); ok {
		order.RestaurantPayout = v
	}
	return nil
}

func (f *fakeAdminRepo) UpdateOrderPayment(ctx context.Context, orderID uuid.UUID, from, to enums.PaymentStatus) (bool, error) {
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

func (f *fakeOutbox) countType(eventType enums.OutboxEventType) int {
	n := 0
	for _, event := range f.events {
		if event.EventType == eventType {
			n++
		}
	}
	return n
}

type fakeResetter struct {
	batchID uuid.UUID
	err     error

	calls []struct {
		OrderID uuid.UUID
		Payee   enums.Payee
	}
}

func (f *fakeResetter) ResetTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, payee enums.Payee) (uuid.UUID, error) {
	f.calls = append(f.calls, struct {
		OrderID uuid.UUID
		Payee   enums.Payee
	}{orderID, payee})
	if f.err != nil {
		return uuid.Nil, f.err
	}
	return f.batchID, nil
}

type fakeOpener struct {
	requests []*models.RefundRequest
	err      error
}

func (f *fakeOpener) OpenForcedTx(ctx context.Context, tx *gorm.DB, order *models.Order, amount decimal.Decimal, reason string) (*models.RefundRequest, error) {
	if f.err != nil {
		return nil, f.err
	}
	if amount.LessThanOrEqual(decimal.Zero) || amount.GreaterThan(order.Total()) {
		amount = order.Total()
	}
	request := &models.RefundRequest{
		ID:      uuid.New(),
		OrderID: order.ID,
		Amount:  amount,
		Status:  enums.RefundRequestStatusPending,
		Reason:  &reason,
		Forced:  true,
	}
	f.requests = append(f.requests, request)
	return request, nil
}

type adminFixture struct {
	service  Service
	repo     *fakeAdminRepo
	outbox   *fakeOutbox
	resetter *fakeResetter
	opener   *fakeOpener
}

func newFixture(t *testing.T) *adminFixture {
	t.Helper()
	repo := newFakeAdminRepo()
	sink := &fakeOutbox{}
	resetter := &fakeResetter{batchID: uuid.New()}
	opener := &fakeOpener{}
	svc, err := NewService(Deps{
		Repo:       repo,
		Tx:         fakeTx{},
		Outbox:     sink,
		Settlement: resetter,
		Refunds:    opener,
		Now:        func() time.Time { return time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return &adminFixture{service: svc, repo: repo, outbox: sink, resetter: resetter, opener: opener}
}

func dec(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

// seedOrder stores a paid, unsettled order with the canonical split for a
// 20.00 subtotal at 20% commission over a 2.50 delivery fee.
func (f *adminFixture) seedOrder(t *testing.T) *models.Order {
	t.Helper()
	ref := "cap_abc"
	order := &models.Order{
		ID:                     uuid.New(),
		RestaurantID:           uuid.New(),
		CustomerID:             uuid.New(),
		OrderStatus:            enums.OrderStatusDelivered,
		PaymentStatus:          enums.PaymentStatusPaid,
		PaymentRef:             &ref,
		Subtotal:               dec("20.00"),
		DeliveryFee:            dec("2.50"),
		CommissionRate:         dec("20"),
		CommissionAmount:       dec("4.00"),
		RestaurantPayout:       dec("16.00"),
		DeliveryCommissionRate: dec("25"),
		Lines: []models.OrderLine{
			{Name: "pad thai", UnitPrice: dec("20.00"), Quantity: 1, LineTotal: dec("20.00")},
		},
	}
	f.repo.orders[order.ID] = order
	return order
}

func assertCode(t *testing.T, err error, code pkgerrors.Code) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", code)
	}
	appErr := pkgerrors.As(err)
	if appErr == nil {
		t.Fatalf("expected %s error, got %v", code, err)
	}
	if appErr.Code() != code {
		t.Fatalf("expected code %s, got %s (%v)", code, appErr.Code(), err)
	}
}

func TestCorrectSubtotalRecomputesSplit(t *testing.T) {
	f := newFixture(t)
	order := f.seedOrder(t)
	actorID := uuid.New()

	updated, err := f.service.CorrectSubtotal(context.Background(), CorrectSubtotalInput{
		OrderID: order.ID,
		ActorID: actorID,
		Reason:  "menu price was stale",
		Lines: []LineCorrection{
			{Name: "pad thai", UnitPrice: dec("12.00"), Quantity: 2},
			{Name: "spring rolls", UnitPrice: dec("6.00"), Quantity: 1},
		},
	})
	if err != nil {
		t.Fatalf("CorrectSubtotal: %v", err)
	}

	if !updated.Subtotal.Equal(dec("30.00")) {
		t.Fatalf("expected subtotal 30.00, got %s", updated.Subtotal)
	}
	if !updated.CommissionAmount.Equal(dec("6.00")) {
		t.Fatalf("expected commission 6.00, got %s", updated.CommissionAmount)
	}
	if !updated.RestaurantPayout.Equal(dec("24.00")) {
		t.Fatalf("expected payout 24.00, got %s", updated.RestaurantPayout)
	}

	stored := f.repo.orders[order.ID]
	if !stored.Subtotal.Equal(dec("30.00")) || !stored.RestaurantPayout.Equal(dec("24.00")) {
		t.Fatalf("stored money not updated: subtotal %s payout %s", stored.Subtotal, stored.RestaurantPayout)
	}
	if len(stored.Lines) != 2 {
		t.Fatalf("expected 2 replacement lines, got %d", len(stored.Lines))
	}

	if len(f.repo.audits) != 1 {
		t.Fatalf("expected 1 audit entry, got %d", len(f.repo.audits))
	}
	entry := f.repo.audits[0]
	if entry.Action != enums.AuditActionCorrectSubtotal {
		t.Fatalf("unexpected audit action %s", entry.Action)
	}
	if entry.ActorID != actorID || entry.Reason != "menu price was stale" {
		t.Fatalf("audit attribution wrong: %+v", entry)
	}
	var before, after moneySnapshot
	if err := json.Unmarshal(entry.Before, &before); err != nil {
		t.Fatalf("unmarshal before snapshot: %v", err)
	}
	if err := json.Unmarshal(entry.After, &after); err != nil {
		t.Fatalf("unmarshal after snapshot: %v", err)
	}
	if !before.Subtotal.Equal(dec("20.00")) || before.LineCount != 1 {
		t.Fatalf("unexpected before snapshot %+v", before)
	}
	if !after.Subtotal.Equal(dec("30.00")) || after.LineCount != 2 {
		t.Fatalf("unexpected after snapshot %+v", after)
	}

	if got := f.outbox.countType(enums.EventSubtotalCorrected); got != 1 {
		t.Fatalf("expected 1 subtotal_corrected event, got %d", got)
	}
	event := f.outbox.events[0]
	if event.Actor == nil || event.Actor.Role != "admin" || event.Actor.UserID != actorID {
		t.Fatalf("expected admin actor on event, got %+v", event.Actor)
	}
}

func TestCorrectSubtotalRejectsSettledOrder(t *testing.T) {
	f := newFixture(t)
	order := f.seedOrder(t)
	paidAt := time.Date(2026, 8, 29, 3, 0, 0, 0, time.UTC)
	order.RestaurantPaidAt = &paidAt

	_, err := f.service.CorrectSubtotal(context.Background(), CorrectSubtotalInput{
		OrderID: order.ID,
		ActorID: uuid.New(),
		Reason:  "menu price was stale",
		Lines:   []LineCorrection{{Name: "pad thai", UnitPrice: dec("12.00"), Quantity: 1}},
	})
	assertCode(t, err, pkgerrors.CodePrecondition)

	if len(f.repo.audits) != 0 || len(f.outbox.events) != 0 {
		t.Fatal("rejected correction must leave no audit trail or events")
	}
	if !f.repo.orders[order.ID].Subtotal.Equal(dec("20.00")) {
		t.Fatal("rejected correction must not touch the order")
	}
}

func TestCorrectSubtotalValidation(t *testing.T) {
	f := newFixture(t)
	order := f.seedOrder(t)
	actorID := uuid.New()
	goodLines := []LineCorrection{{Name: "pad thai", UnitPrice: dec("12.00"), Quantity: 1}}

	cases := []struct {
		name  string
		input CorrectSubtotalInput
	}{
		{"missing order id", CorrectSubtotalInput{ActorID: actorID, Reason: "r", Lines: goodLines}},
		{"missing actor", CorrectSubtotalInput{OrderID: order.ID, Reason: "r", Lines: goodLines}},
		{"missing reason", CorrectSubtotalInput{OrderID: order.ID, ActorID: actorID, Lines: goodLines}},
		{"no lines", CorrectSubtotalInput{OrderID: order.ID, ActorID: actorID, Reason: "r"}},
		{"unnamed line", CorrectSubtotalInput{OrderID: order.ID, ActorID: actorID, Reason: "r",
			Lines: []LineCorrection{{UnitPrice: dec("12.00"), Quantity: 1}}}},
		{"zero quantity", CorrectSubtotalInput{OrderID: order.ID, ActorID: actorID, Reason: "r",
			Lines: []LineCorrection{{Name: "pad thai", UnitPrice: dec("12.00")}}}},
		{"negative price", CorrectSubtotalInput{OrderID: order.ID, ActorID: actorID, Reason: "r",
			Lines: []LineCorrection{{Name: "pad thai", UnitPrice: dec("-1.00"), Quantity: 1}}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.service.CorrectSubtotal(context.Background(), tc.input)
			assertCode(t, err, pkgerrors.CodeValidation)
		})
	}
}

func TestCorrectSubtotalUnknownOrder(t *testing.T) {
	f := newFixture(t)
	_, err := f.service.CorrectSubtotal(context.Background(), CorrectSubtotalInput{
		OrderID: uuid.New(),
		ActorID: uuid.New(),
		Reason:  "menu price was stale",
		Lines:   []LineCorrection{{Name: "pad thai", UnitPrice: dec("12.00"), Quantity: 1}},
	})
	assertCode(t, err, pkgerrors.CodeNotFound)
}

func TestResetSettlementWritesAuditAndEvent(t *testing.T) {
	f := newFixture(t)
	order := f.seedOrder(t)
	actorID := uuid.New()

	err := f.service.ResetSettlement(context.Background(), ResetSettlementInput{
		OrderID: order.ID,
		Payee:   enums.PayeeRestaurant,
		ActorID: actorID,
		Reason:  "wrong account on file",
	})
	if err != nil {
		t.Fatalf("ResetSettlement: %v", err)
	}

	if len(f.resetter.calls) != 1 {
		t.Fatalf("expected 1 reset call, got %d", len(f.resetter.calls))
	}
	call := f.resetter.calls[0]
	if call.OrderID != order.ID || call.Payee != enums.PayeeRestaurant {
		t.Fatalf("unexpected reset call %+v", call)
	}

	if len(f.repo.audits) != 1 {
		t.Fatalf("expected 1 audit entry, got %d", len(f.repo.audits))
	}
	entry := f.repo.audits[0]
	if entry.Action != enums.AuditActionResetSettlement {
		t.Fatalf("unexpected audit action %s", entry.Action)
	}
	var before map[string]string
	if err := json.Unmarshal(entry.Before, &before); err != nil {
		t.Fatalf("unmarshal before snapshot: %v", err)
	}
	if before["batch_id"] != f.resetter.batchID.String() {
		t.Fatalf("expected cleared batch %s in snapshot, got %q", f.resetter.batchID, before["batch_id"])
	}

	if got := f.outbox.countType(enums.EventSettlementReset); got != 1 {
		t.Fatalf("expected 1 settlement_reset event, got %d", got)
	}
}

func TestResetSettlementValidation(t *testing.T) {
	f := newFixture(t)
	order := f.seedOrder(t)

	err := f.service.ResetSettlement(context.Background(), ResetSettlementInput{
		OrderID: order.ID,
		Payee:   enums.PayeeRestaurant,
		ActorID: uuid.New(),
	})
	assertCode(t, err, pkgerrors.CodeValidation)
	if len(f.resetter.calls) != 0 {
		t.Fatal("validation failure must not reach the resetter")
	}
}

func TestResetSettlementPropagatesResetterError(t *testing.T) {
	f := newFixture(t)
	order := f.seedOrder(t)
	f.resetter.err = pkgerrors.New(pkgerrors.CodePrecondition, "order was never settled for this payee")

	err := f.service.ResetSettlement(context.Background(), ResetSettlementInput{
		OrderID: order.ID,
		Payee:   enums.PayeeCourier,
		ActorID: uuid.New(),
		Reason:  "wrong account on file",
	})
	assertCode(t, err, pkgerrors.CodePrecondition)
	if len(f.repo.audits) != 0 || len(f.outbox.events) != 0 {
		t.Fatal("failed reset must leave no audit trail or events")
	}
}

func TestForceRefundRequestHoldsPayment(t *testing.T) {
	f := newFixture(t)
	order := f.seedOrder(t)
	actorID := uuid.New()

	request, err := f.service.ForceRefundRequest(context.Background(), ForceRefundInput{
		OrderID: order.ID,
		Amount:  dec("5.00"),
		ActorID: actorID,
		Reason:  "goodwill credit",
	})
	if err != nil {
		t.Fatalf("ForceRefundRequest: %v", err)
	}
	if !request.Forced {
		t.Fatal("expected a forced request")
	}
	if !request.Amount.Equal(dec("5.00")) {
		t.Fatalf("expected amount 5.00, got %s", request.Amount)
	}

	if got := f.repo.orders[order.ID].PaymentStatus; got != enums.PaymentStatusRefundPending {
		t.Fatalf("expected payment hold refund_pending, got %s", got)
	}

	if len(f.repo.audits) != 1 {
		t.Fatalf("expected 1 audit entry, got %d", len(f.repo.audits))
	}
	entry := f.repo.audits[0]
	if entry.Action != enums.AuditActionForceRefundRequest {
		t.Fatalf("unexpected audit action %s", entry.Action)
	}
	var after map[string]json.RawMessage
	if err := json.Unmarshal(entry.After, &after); err != nil {
		t.Fatalf("unmarshal after snapshot: %v", err)
	}
	if _, ok := after["refund_request_id"]; !ok {
		t.Fatal("expected refund_request_id in audit snapshot")
	}
}

func TestForceRefundRequiresCapturedPayment(t *testing.T) {
	f := newFixture(t)
	order := f.seedOrder(t)
	order.PaymentRef = nil
	order.PaymentStatus = enums.PaymentStatusPending

	_, err := f.service.ForceRefundRequest(context.Background(), ForceRefundInput{
		OrderID: order.ID,
		Amount:  dec("5.00"),
		ActorID: uuid.New(),
		Reason:  "goodwill credit",
	})
	assertCode(t, err, pkgerrors.CodePrecondition)
	if len(f.opener.requests) != 0 {
		t.Fatal("opener must not be reached without a captured payment")
	}
}

func TestListAudit(t *testing.T) {
	f := newFixture(t)
	order := f.seedOrder(t)
	other := f.seedOrder(t)
	f.repo.audits = append(f.repo.audits,
		models.AuditEntry{ID: uuid.New(), OrderID: order.ID, Action: enums.AuditActionCorrectSubtotal},
		models.AuditEntry{ID: uuid.New(), OrderID: other.ID, Action: enums.AuditActionResetSettlement},
	)

	rows, err := f.service.ListAudit(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("ListAudit: %v", err)
	}
	if len(rows) != 1 || rows[0].OrderID != order.ID {
		t.Fatalf("expected only the order's entries, got %+v", rows)
	}
}
