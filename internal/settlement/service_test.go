package settlement

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
	"github.com/lucasferrand/mangetout-backend/pkg/pagination"
	"github.com/lucasferrand/mangetout-backend/pkg/payments"
)

type fakeSettlementRepo struct {
	orders  map[uuid.UUID]*models.Order
	batches map[uuid.UUID]*models.PayoutBatch
}

func newFakeSettlementRepo() *fakeSettlementRepo {
	return &fakeSettlementRepo{
		orders:  make(map[uuid.UUID]*models.Order),
		batches: make(map[uuid.UUID]*models.PayoutBatch),
	}
}

func (f *fakeSettlementRepo) WithTx(tx *gorm.DB) Repository { return f }

func (f *fakeSettlementRepo) eligible(order *models.Order, payee enums.Payee) bool {
	if order.OrderStatus != enums.OrderStatusDelivered || order.PaymentStatus != enums.PaymentStatusPaid {
		return false
	}
	switch payee {
	case enums.PayeeRestaurant:
		return order.RestaurantPaidAt == nil
	case enums.PayeeCourier:
		return order.CourierID != nil && order.CourierPaidAt == nil
	}
	return false
}

func (f *fakeSettlementRepo) ListPayeesWithEligible(ctx context.Context, payee enums.Payee) ([]uuid.UUID, error) {
	seen := make(map[uuid.UUID]bool)
	var ids []uuid.UUID
	for _, order := range f.orders {
		if !f.eligible(order, payee) {
			continue
		}
		var payeeID uuid.UUID
		if payee == enums.PayeeRestaurant {
			payeeID = order.RestaurantID
		} else {
			payeeID = *order.CourierID
		}
		if !seen[payeeID] {
			seen[payeeID] = true
			ids = append(ids, payeeID)
		}
	}
	return ids, nil
}

func (f *fakeSettlementRepo) ListEligibleForUpdate(ctx context.Context, payee enums.Payee, payeeID uuid.UUID) ([]models.Order, error) {
	var rows []models.Order
	for _, order := range f.orders {
		if !f.eligible(order, payee) {
			continue
		}
		if payee == enums.PayeeRestaurant && order.RestaurantID == payeeID {
			rows = append(rows, *order)
		}
		if payee == enums.PayeeCourier && *order.CourierID == payeeID {
			rows = append(rows, *order)
		}
	}
	return rows, nil
}

func (f *fakeSettlementRepo) CreateBatch(ctx context.Context, batch *models.PayoutBatch) (*models.PayoutBatch, error) {
	if batch.ID == uuid.Nil {
		batch.ID = uuid.New()
	}
	stored := *batch
	f.batches[batch.ID] = &stored
	return batch, nil
}

func (f *fakeSettlementRepo) UpdateBatch(ctx context.Context, batchID uuid.UUID, updates map[string]any) error {
	batch, ok := f.batches[batchID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	if v, ok := updates["transfer_ref"].(string); ok {
		batch.TransferRef = &v
	}
	return nil
}

func (f *fakeSettlementRepo) StampOrders(ctx context.Context, payee enums.Payee, orderIDs []uuid.UUID, batchID uuid.UUID, paidAt time.Time) (int64, error) {
	var stamped int64
	for _, id := range orderIDs {
		order, ok := f.orders[id]
		if !ok || !f.eligible(order, payee) {
			continue
		}
		if payee == enums.PayeeRestaurant {
			order.RestaurantPaidAt = &paidAt
			order.RestaurantBatchID = &batchID
		} else {
			order.CourierPaidAt = &paidAt
			order.CourierBatchID = &batchID
		}
		stamped++
	}
	return stamped, nil
}

func (f *fakeSettlementRepo) ClearStamp(ctx context.Context, orderID uuid.UUID, payee enums.Payee) (bool, error) {
	order, ok := f.orders[orderID]
	if !ok {
		return false, nil
	}
	if payee == enums.PayeeRestaurant {
		if order.RestaurantPaidAt == nil {
			return false, nil
		}
		order.RestaurantPaidAt = nil
		order.RestaurantBatchID = nil
	} else {
		if order.CourierPaidAt == nil {
			return false, nil
		}
		order.CourierPaidAt = nil
		order.CourierBatchID = nil
	}
	return true, nil
}

func (f *fakeSettlementRepo) FindBatchByID(ctx context.Context, id uuid.UUID) (*models.PayoutBatch, error) {
	batch, ok := f.batches[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *batch
	return &copied, nil
}

func (f *fakeSettlementRepo) ListBatches(ctx context.Context, params pagination.Params, payee *enums.Payee) (*BatchList, error) {
	list := &BatchList{}
	for _, batch := range f.batches {
		if payee != nil && batch.Payee != *payee {
			continue
		}
		list.Batches = append(list.Batches, *batch)
	}
	return list, nil
}

func (f *fakeSettlementRepo) ListBatchOrders(ctx context.Context, batchID uuid.UUID, payee enums.Payee) ([]models.Order, error) {
	var rows []models.Order
	for _, order := range f.orders {
		if payee == enums.PayeeRestaurant && order.RestaurantBatchID != nil && *order.RestaurantBatchID == batchID {
			rows = append(rows, *order)
		}
		if payee == enums.PayeeCourier && order.CourierBatchID != nil && *order.CourierBatchID == batchID {
			rows = append(rows, *order)
		}
	}
	return rows, nil
}

func (f *fakeSettlementRepo) snapshot() (map[uuid.UUID]models.Order, map[uuid.UUID]models.PayoutBatch) {
	orders := make(map[uuid.UUID]models.Order, len(f.orders))
	for id, order := range f.orders {
		orders[id] = *order
	}
	batches := make(map[uuid.UUID]models.PayoutBatch, len(f.batches))
	for id, batch := range f.batches {
		batches[id] = *batch
	}
	return orders, batches
}

func (f *fakeSettlementRepo) restore(orders map[uuid.UUID]models.Order, batches map[uuid.UUID]models.PayoutBatch) {
	f.orders = make(map[uuid.UUID]*models.Order, len(orders))
	for id := range orders {
		copied := orders[id]
		f.orders[id] = &copied
	}
	f.batches = make(map[uuid.UUID]*models.PayoutBatch, len(batches))
	for id := range batches {
		copied := batches[id]
		f.batches[id] = &copied
	}
}

// rollbackTx restores the repo snapshot when the transaction function fails,
// mimicking a database rollback.
type rollbackTx struct {
	repo *fakeSettlementRepo
}

func (r rollbackTx) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	orders, batches := r.repo.snapshot()
	if err := fn(nil); err != nil {
		r.repo.restore(orders, batches)
		return err
	}
	return nil
}

type fakeOutbox struct {
	events []outbox.DomainEvent
}

func (f *fakeOutbox) Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	f.events = append(f.events, event)
	return nil
}

type fakeGateway struct {
	transfers []payments.TransferRequest
	failures  int
}

func (f *fakeGateway) CreateTransfer(ctx context.Context, req payments.TransferRequest) (*payments.Transfer, error) {
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("gateway unavailable")
	}
	f.transfers = append(f.transfers, req)
	return &payments.Transfer{Ref: "tr_" + req.IdempotencyKey, Amount: req.Amount}, nil
}

type settlementFixture struct {
	service Service
	repo    *fakeSettlementRepo
	outbox  *fakeOutbox
	gateway *fakeGateway
}

func newSettlementFixture(t *testing.T) *settlementFixture {
	t.Helper()
	repo := newFakeSettlementRepo()
	events := &fakeOutbox{}
	gateway := &fakeGateway{}
	svc, err := NewService(Deps{
		Repo:    repo,
		Tx:      rollbackTx{repo: repo},
		Outbox:  events,
		Gateway: gateway,
		Now:     func() time.Time { return time.Date(2026, 8, 30, 3, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return &settlementFixture{service: svc, repo: repo, outbox: events, gateway: gateway}
}

func (f *settlementFixture) seedDelivered(restaurantID uuid.UUID, courierID uuid.UUID) *models.Order {
	order := &models.Order{
		ID:                       uuid.New(),
		RestaurantID:             restaurantID,
		CustomerID:               uuid.New(),
		CourierID:                &courierID,
		OrderStatus:              enums.OrderStatusDelivered,
		PaymentStatus:            enums.PaymentStatusPaid,
		Subtotal:                 decimal.RequireFromString("20.00"),
		DeliveryFee:              decimal.RequireFromString("2.50"),
		CommissionAmount:         decimal.RequireFromString("4.00"),
		RestaurantPayout:         decimal.RequireFromString("16.00"),
		DeliveryCommissionAmount: decimal.RequireFromString("0.63"),
		CourierEarning:           decimal.RequireFromString("1.87"),
	}
	f.repo.orders[order.ID] = order
	return order
}

func TestSettlePayeeCreatesBatchAndStamps(t *testing.T) {
	fix := newSettlementFixture(t)
	restaurantID := uuid.New()
	courierID := uuid.New()
	first := fix.seedDelivered(restaurantID, courierID)
	second := fix.seedDelivered(restaurantID, courierID)

	batch, err := fix.service.SettlePayee(context.Background(), enums.PayeeRestaurant, restaurantID)
	if err != nil {
		t.Fatalf("SettlePayee: %v", err)
	}
	if batch == nil {
		t.Fatal("expected a batch")
	}
	if batch.OrderCount != 2 {
		t.Fatalf("order count = %d, want 2", batch.OrderCount)
	}
	if got := batch.GrossAmount.StringFixed(2); got != "40.00" {
		t.Fatalf("gross = %s, want 40.00", got)
	}
	if got := batch.CommissionAmount.StringFixed(2); got != "8.00" {
		t.Fatalf("commission = %s, want 8.00", got)
	}
	if got := batch.NetAmount.StringFixed(2); got != "32.00" {
		t.Fatalf("net = %s, want 32.00", got)
	}
	if batch.TransferRef == nil {
		t.Fatal("transfer ref must be recorded")
	}

	for _, order := range []*models.Order{first, second} {
		stored := fix.repo.orders[order.ID]
		if stored.RestaurantPaidAt == nil || stored.RestaurantBatchID == nil || *stored.RestaurantBatchID != batch.ID {
			t.Fatal("orders must be stamped with the batch id")
		}
		if stored.CourierPaidAt != nil {
			t.Fatal("courier side must remain unsettled")
		}
	}

	if len(fix.gateway.transfers) != 1 {
		t.Fatalf("expected one transfer, got %d", len(fix.gateway.transfers))
	}
	if fix.gateway.transfers[0].IdempotencyKey != batch.ID.String() {
		t.Fatal("the batch id must be the transfer idempotency key")
	}
	if len(fix.outbox.events) != 1 || fix.outbox.events[0].EventType != enums.EventPayoutBatchSettled {
		t.Fatal("expected one payout_batch_settled event")
	}
}

func TestSettlePayeeWithNothingOwed(t *testing.T) {
	fix := newSettlementFixture(t)

	batch, err := fix.service.SettlePayee(context.Background(), enums.PayeeRestaurant, uuid.New())
	if err != nil {
		t.Fatalf("SettlePayee: %v", err)
	}
	if batch != nil {
		t.Fatal("expected no batch when nothing is owed")
	}
}

func TestSettleAllSecondRunSelectsNothing(t *testing.T) {
	fix := newSettlementFixture(t)
	fix.seedDelivered(uuid.New(), uuid.New())
	fix.seedDelivered(uuid.New(), uuid.New())

	report, err := fix.service.SettleAll(context.Background())
	if err != nil {
		t.Fatalf("first SettleAll: %v", err)
	}
	// Two restaurants plus two couriers.
	if len(report.Batches) != 4 {
		t.Fatalf("batches = %d, want 4", len(report.Batches))
	}

	second, err := fix.service.SettleAll(context.Background())
	if err != nil {
		t.Fatalf("second SettleAll: %v", err)
	}
	if len(second.Batches) != 0 {
		t.Fatalf("second run created %d batches, want 0", len(second.Batches))
	}
	if len(fix.gateway.transfers) != 4 {
		t.Fatalf("transfers = %d, want 4", len(fix.gateway.transfers))
	}
}

func TestGatewayFailureRollsBackStamps(t *testing.T) {
	fix := newSettlementFixture(t)
	restaurantID := uuid.New()
	order := fix.seedDelivered(restaurantID, uuid.New())

	fix.gateway.failures = 1
	_, err := fix.service.SettlePayee(context.Background(), enums.PayeeRestaurant, restaurantID)
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeSettlementPartial {
		t.Fatalf("expected SETTLEMENT_PARTIAL, got %v", err)
	}
	if fix.repo.orders[order.ID].RestaurantPaidAt != nil {
		t.Fatal("stamps must roll back with the failed transfer")
	}
	if len(fix.repo.batches) != 0 {
		t.Fatal("batch must roll back with the failed transfer")
	}

	// The next cycle picks the same orders up again.
	batch, err := fix.service.SettlePayee(context.Background(), enums.PayeeRestaurant, restaurantID)
	if err != nil {
		t.Fatalf("retry SettlePayee: %v", err)
	}
	if batch == nil || batch.OrderCount != 1 {
		t.Fatal("retry must settle the rolled-back order")
	}
}

func TestSettleAllIsolatesPayeeFailures(t *testing.T) {
	fix := newSettlementFixture(t)
	fix.seedDelivered(uuid.New(), uuid.New())

	// First transfer fails, everything after succeeds.
	fix.gateway.failures = 1

	report, err := fix.service.SettleAll(context.Background())
	if err == nil {
		t.Fatal("expected a partial failure to be reported")
	}
	if report.Err == nil {
		t.Fatal("report must carry the failure")
	}
	if len(report.Batches) != 1 {
		t.Fatalf("healthy payee must still settle; batches = %d", len(report.Batches))
	}

	// The failed payee remains eligible for the next run.
	retry, err := fix.service.SettleAll(context.Background())
	if err != nil {
		t.Fatalf("retry SettleAll: %v", err)
	}
	if len(retry.Batches) != 1 {
		t.Fatalf("retry batches = %d, want 1", len(retry.Batches))
	}
}

func TestSettlePayeeSkipsTransferForZeroNet(t *testing.T) {
	fix := newSettlementFixture(t)
	restaurantID := uuid.New()
	order := fix.seedDelivered(restaurantID, uuid.New())
	order.CommissionAmount = order.Subtotal
	order.RestaurantPayout = decimal.Zero

	batch, err := fix.service.SettlePayee(context.Background(), enums.PayeeRestaurant, restaurantID)
	if err != nil {
		t.Fatalf("SettlePayee: %v", err)
	}
	if batch == nil {
		t.Fatal("a zero-net batch is still recorded")
	}
	if len(fix.gateway.transfers) != 0 {
		t.Fatal("no transfer should be made for a zero net amount")
	}
	if fix.repo.orders[order.ID].RestaurantPaidAt == nil {
		t.Fatal("zero-net orders are still stamped settled")
	}
}
