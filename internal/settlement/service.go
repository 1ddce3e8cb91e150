package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/lucasferrand/mangetout-backend/pkg/db/models"
	"github.com/lucasferrand/mangetout-backend/pkg/enums"
	pkgerrors "github.com/lucasferrand/mangetout-backend/pkg/errors"
	"github.com/lucasferrand/mangetout-backend/pkg/logger"
	"github.com/lucasferrand/mangetout-backend/pkg/outbox"
	"github.com/lucasferrand/mangetout-backend/pkg/outbox/payloads"
	"github.com/lucasferrand/mangetout-backend/pkg/pagination"
	"github.com/lucasferrand/mangetout-backend/pkg/payments"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Gateway moves settled funds to payee accounts.
type Gateway interface {
	CreateTransfer(ctx context.Context, req payments.TransferRequest) (*payments.Transfer, error)
}

// RunReport summarizes one reconciliation pass over all payees.
type RunReport struct {
	Batches []models.PayoutBatch
	Skipped int
	Err     error
}

// Service reconciles delivered, paid, unstamped orders into payout batches.
type Service interface {
	SettlePayee(ctx context.Context, payee enums.Payee, payeeID uuid.UUID) (*models.PayoutBatch, error)
	SettleAll(ctx context.Context) (*RunReport, error)
	ResetTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, payee enums.Payee) (uuid.UUID, error)
	GetBatch(ctx context.Context, id uuid.UUID) (*models.PayoutBatch, error)
	ListBatches(ctx context.Context, params pagination.Params, payee *enums.Payee) (*BatchList, error)
	ListBatchOrders(ctx context.Context, batchID uuid.UUID) ([]models.Order, error)
}

// Deps bundles the collaborators the settlement service needs.
type Deps struct {
	Repo    Repository
	Tx      txRunner
	Outbox  outboxPublisher
	Gateway Gateway
	Logger  *logger.Logger
	Now     func() time.Time
}

type service struct {
	repo    Repository
	tx      txRunner
	outbox  outboxPublisher
	gateway Gateway
	logg    *logger.Logger
	now     func() time.Time
}

// NewService builds the settlement service with the required dependencies.
func NewService(deps Deps) (Service, error) {
	if deps.Repo == nil {
		return nil, fmt.Errorf("settlement repository required")
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
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &service{
		repo:    deps.Repo,
		tx:      deps.Tx,
		outbox:  deps.Outbox,
		gateway: deps.Gateway,
		logg:    deps.Logger,
		now:     deps.Now,
	}, nil
}

// SettlePayee pays one payee for everything it is currently owed. Selection,
// batch creation and stamping share one transaction; the gateway transfer is
// made before commit with the batch id as idempotency key, so a crash between
// transfer and commit is repaired by the gateway deduplicating the replay.
// Returns (nil, nil) when the payee has nothing to settle.
func (s *service) SettlePayee(ctx context.Context, payee enums.Payee, payeeID uuid.UUID) (*models.PayoutBatch, error) {
	if !payee.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown payee type")
	}
	if payeeID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payee id required")
	}

	var batch *models.PayoutBatch
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		eligible, err := repo.ListEligibleForUpdate(ctx, payee, payeeID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "select eligible orders")
		}
		if len(eligible) == 0 {
			return nil
		}

		gross, commissionTotal, net := decimal.Zero, decimal.Zero, decimal.Zero
		ids := make([]uuid.UUID, 0, len(eligible))
		for _, order := range eligible {
			ids = append(ids, order.ID)
			switch payee {
			case enums.PayeeRestaurant:
				gross = gross.Add(order.Subtotal)
				commissionTotal = commissionTotal.Add(order.CommissionAmount)
				net = net.Add(order.RestaurantPayout)
			case enums.PayeeCourier:
				gross = gross.Add(order.DeliveryFee)
				commissionTotal = commissionTotal.Add(order.DeliveryCommissionAmount)
				net = net.Add(order.CourierEarning)
			}
		}

		settledAt := s.now()
		batch = &models.PayoutBatch{
			Payee:            payee,
			PayeeID:          payeeID,
			Status:           enums.PayoutBatchStatusSettled,
			OrderCount:       len(ids),
			GrossAmount:      gross,
			CommissionAmount: commissionTotal,
			NetAmount:        net,
			SettledAt:        settledAt,
		}
		if _, err := repo.CreateBatch(ctx, batch); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payout batch")
		}

		stamped, err := repo.StampOrders(ctx, payee, ids, batch.ID, settledAt)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "stamp settled orders")
		}
		if stamped != int64(len(ids)) {
			return pkgerrors.New(pkgerrors.CodeConflict, fmt.Sprintf("expected to stamp %d orders, stamped %d", len(ids), stamped))
		}

		if net.IsPositive() {
			transfer, err := s.gateway.CreateTransfer(ctx, payments.TransferRequest{
				Account:        fmt.Sprintf("%s:%s", payee, payeeID),
				Amount:         net,
				Description:    fmt.Sprintf("settlement batch %s", batch.ID),
				IdempotencyKey: batch.ID.String(),
			})
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeSettlementPartial, err, "payout transfer failed, batch rolled back")
			}
			batch.TransferRef = &transfer.Ref
			if err := repo.UpdateBatch(ctx, batch.ID, map[string]any{"transfer_ref": transfer.Ref}); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record transfer reference")
			}
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPayoutBatchSettled,
			AggregateType: enums.AggregatePayoutBatch,
			AggregateID:   batch.ID,
			Version:       1,
			Data: payloads.PayoutBatchSettledEvent{
				BatchID:          batch.ID,
				Payee:            payee,
				PayeeID:          payeeID,
				OrderCount:       batch.OrderCount,
				GrossAmount:      gross,
				CommissionAmount: commissionTotal,
				NetAmount:        net,
				SettledAt:        settledAt,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return batch, nil
}

// SettleAll runs one reconciliation pass over every payee with eligible
// orders. A failed payee never blocks the others; its orders stay unstamped
// and are retried on the next cycle.
func (s *service) SettleAll(ctx context.Context) (*RunReport, error) {
	report := &RunReport{}
	for _, payee := range []enums.Payee{enums.PayeeRestaurant, enums.PayeeCourier} {
		payeeIDs, err := s.repo.ListPayeesWithEligible(ctx, payee)
		if err != nil {
			report.Err = multierr.Append(report.Err, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list eligible payees"))
			continue
		}
		for _, payeeID := range payeeIDs {
			batch, err := s.SettlePayee(ctx, payee, payeeID)
			if err != nil {
				report.Err = multierr.Append(report.Err, err)
				if s.logg != nil {
					logCtx := s.logg.WithFields(ctx, map[string]any{
						"payee":    payee,
						"payee_id": payeeID.String(),
					})
					s.logg.Error(logCtx, "settlement failed for payee, will retry next cycle", err)
				}
				continue
			}
			if batch == nil {
				report.Skipped++
				continue
			}
			report.Batches = append(report.Batches, *batch)
		}
	}
	return report, report.Err
}

// ResetTx clears a settlement stamp inside the caller's transaction. It is
// only reachable through the audited admin operation; returns the batch the
// order was settled under.
func (s *service) ResetTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, payee enums.Payee) (uuid.UUID, error) {
	if tx == nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	if !payee.IsValid() {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown payee type")
	}

	repo := s.repo.WithTx(tx)

	var order models.Order
	if err := tx.WithContext(ctx).Where("id = ?", orderID).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return uuid.Nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}

	var batchID *uuid.UUID
	switch payee {
	case enums.PayeeRestaurant:
		batchID = order.RestaurantBatchID
	case enums.PayeeCourier:
		batchID = order.CourierBatchID
	}
	if batchID == nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodePrecondition, "order is not settled for this payee")
	}

	ok, err := repo.ClearStamp(ctx, orderID, payee)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "clear settlement stamp")
	}
	if !ok {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeConflict, "settlement stamp changed concurrently")
	}
	return *batchID, nil
}

func (s *service) GetBatch(ctx context.Context, id uuid.UUID) (*models.PayoutBatch, error) {
	batch, err := s.repo.FindBatchByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payout batch not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payout batch")
	}
	return batch, nil
}

func (s *service) ListBatches(ctx context.Context, params pagination.Params, payee *enums.Payee) (*BatchList, error) {
	list, err := s.repo.ListBatches(ctx, params, payee)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list payout batches")
	}
	return list, nil
}

func (s *service) ListBatchOrders(ctx context.Context, batchID uuid.UUID) ([]models.Order, error) {
	batch, err := s.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	orders, err := s.repo.ListBatchOrders(ctx, batchID, batch.Payee)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list batch orders")
	}
	return orders, nil
}
