package settlement

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lucasferrand/mangetout-backend/pkg/db/models"
	"github.com/lucasferrand/mangetout-backend/pkg/enums"
	"github.com/lucasferrand/mangetout-backend/pkg/pagination"
)

// Repository defines persistence operations for settlement runs. Eligibility
// is always computed fresh from the ledger; no paid/unpaid state is cached
// outside the *_paid_at columns.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	ListPayeesWithEligible(ctx context.Context, payee enums.Payee) ([]uuid.UUID, error)
	ListEligibleForUpdate(ctx context.Context, payee enums.Payee, payeeID uuid.UUID) ([]models.Order, error)
	CreateBatch(ctx context.Context, batch *models.PayoutBatch) (*models.PayoutBatch, error)
	UpdateBatch(ctx context.Context, batchID uuid.UUID, updates map[string]any) error
	StampOrders(ctx context.Context, payee enums.Payee, orderIDs []uuid.UUID, batchID uuid.UUID, paidAt time.Time) (int64, error)
	ClearStamp(ctx context.Context, orderID uuid.UUID, payee enums.Payee) (bool, error)
	FindBatchByID(ctx context.Context, id uuid.UUID) (*models.PayoutBatch, error)
	ListBatches(ctx context.Context, params pagination.Params, payee *enums.Payee) (*BatchList, error)
	ListBatchOrders(ctx context.Context, batchID uuid.UUID, payee enums.Payee) ([]models.Order, error)
}

// BatchList is one page of payout batches plus the cursor for the next page.
type BatchList struct {
	Batches    []models.PayoutBatch
	NextCursor *string
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a settlement repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func payeeColumns(payee enums.Payee) (idCol, paidAtCol, batchCol string, err error) {
	switch payee {
	case enums.PayeeRestaurant:
		return "restaurant_id", "restaurant_paid_at", "restaurant_batch_id", nil
	case enums.PayeeCourier:
		return "courier_id", "courier_paid_at", "courier_batch_id", nil
	default:
		return "", "", "", fmt.Errorf("unknown payee %q", payee)
	}
}

func (r *repository) ListPayeesWithEligible(ctx context.Context, payee enums.Payee) ([]uuid.UUID, error) {
	idCol, paidAtCol, _, err := payeeColumns(payee)
	if err != nil {
		return nil, err
	}
	var ids []uuid.UUID
	err = r.db.WithContext(ctx).
		Model(&models.Order{}).
		Distinct(idCol).
		Where("order_status = ? AND payment_status = ?", enums.OrderStatusDelivered, enums.PaymentStatusPaid).
		Where(idCol + " IS NOT NULL").
		Where(paidAtCol + " IS NULL").
		Pluck(idCol, &ids).Error
	return ids, err
}

// ListEligibleForUpdate selects and locks the rows a batch will pay, so a
// concurrent run on the same payee blocks instead of double-selecting.
func (r *repository) ListEligibleForUpdate(ctx context.Context, payee enums.Payee, payeeID uuid.UUID) ([]models.Order, error) {
	idCol, paidAtCol, _, err := payeeColumns(payee)
	if err != nil {
		return nil, err
	}
	var rows []models.Order
	err = r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("order_status = ? AND payment_status = ?", enums.OrderStatusDelivered, enums.PaymentStatusPaid).
		Where(idCol+" = ?", payeeID).
		Where(paidAtCol + " IS NULL").
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}

func (r *repository) CreateBatch(ctx context.Context, batch *models.PayoutBatch) (*models.PayoutBatch, error) {
	if err := r.db.WithContext(ctx).Create(batch).Error; err != nil {
		return nil, err
	}
	return batch, nil
}

func (r *repository) UpdateBatch(ctx context.Context, batchID uuid.UUID, updates map[string]any) error {
	return r.db.WithContext(ctx).
		Model(&models.PayoutBatch{}).
		Where("id = ?", batchID).
		Updates(updates).Error
}

// StampOrders re-checks *_paid_at IS NULL at write time; the returned count
// lets the caller detect a row that was settled underneath it.
func (r *repository) StampOrders(ctx context.Context, payee enums.Payee, orderIDs []uuid.UUID, batchID uuid.UUID, paidAt time.Time) (int64, error) {
	if len(orderIDs) == 0 {
		return 0, nil
	}
	_, paidAtCol, batchCol, err := payeeColumns(payee)
	if err != nil {
		return 0, err
	}
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id IN ?", orderIDs).
		Where(paidAtCol + " IS NULL").
		Updates(map[string]any{
			paidAtCol: paidAt,
			batchCol:  batchID,
		})
	return res.RowsAffected, res.Error
}

func (r *repository) ClearStamp(ctx context.Context, orderID uuid.UUID, payee enums.Payee) (bool, error) {
	_, paidAtCol, batchCol, err := payeeColumns(payee)
	if err != nil {
		return false, err
	}
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", orderID).
		Where(paidAtCol + " IS NOT NULL").
		Updates(map[string]any{
			paidAtCol: nil,
			batchCol:  nil,
		})
	return res.RowsAffected == 1, res.Error
}

func (r *repository) FindBatchByID(ctx context.Context, id uuid.UUID) (*models.PayoutBatch, error) {
	var batch models.PayoutBatch
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&batch).Error
	if err != nil {
		return nil, err
	}
	return &batch, nil
}

func (r *repository) ListBatches(ctx context.Context, params pagination.Params, payee *enums.Payee) (*BatchList, error) {
	query := r.db.WithContext(ctx).Model(&models.PayoutBatch{})
	if payee != nil {
		query = query.Where("payee = ?", *payee)
	}

	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, err
	}
	if cursor != nil {
		query = query.Where("(created_at, id) < (?, ?)", cursor.CreatedAt, cursor.ID)
	}

	limit := pagination.NormalizeLimit(params.Limit)
	var rows []models.PayoutBatch
	err = query.
		Order("created_at DESC").
		Order("id DESC").
		Limit(pagination.LimitWithBuffer(params.Limit)).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	list := &BatchList{Batches: rows}
	if len(rows) > limit {
		list.Batches = rows[:limit]
		last := list.Batches[limit-1]
		next := pagination.EncodeCursor(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
		list.NextCursor = &next
	}
	return list, nil
}

func (r *repository) ListBatchOrders(ctx context.Context, batchID uuid.UUID, payee enums.Payee) ([]models.Order, error) {
	_, _, batchCol, err := payeeColumns(payee)
	if err != nil {
		return nil, err
	}
	var rows []models.Order
	err = r.db.WithContext(ctx).
		Where(batchCol+" = ?", batchID).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}
