package couriers

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/lucasferrand/mangetout-backend/pkg/db/models"
	"github.com/lucasferrand/mangetout-backend/pkg/enums"
)

// Repository defines persistence operations for couriers.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, courier *models.Courier) (*models.Courier, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.Courier, error)
	IncrementDeliveredTx(tx *gorm.DB, courierID uuid.UUID, earning decimal.Decimal) error
	RecomputeTotals(ctx context.Context, courierID uuid.UUID) (*models.Courier, error)
	ListDelivered(ctx context.Context, courierID uuid.UUID) ([]models.Order, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a courier repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, courier *models.Courier) (*models.Courier, error) {
	if err := r.db.WithContext(ctx).Create(courier).Error; err != nil {
		return nil, err
	}
	return courier, nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Courier, error) {
	var courier models.Courier
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&courier).Error
	if err != nil {
		return nil, err
	}
	return &courier, nil
}

// IncrementDeliveredTx bumps the denormalized counters inside the delivery
// confirmation transaction, so they only move on the winning transition.
func (r *repository) IncrementDeliveredTx(tx *gorm.DB, courierID uuid.UUID, earning decimal.Decimal) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	return tx.Model(&models.Courier{}).
		Where("id = ?", courierID).
		Updates(map[string]any{
			"total_deliveries": gorm.Expr("total_deliveries + 1"),
			"total_earnings":   gorm.Expr("total_earnings + ?", earning),
		}).Error
}

// RecomputeTotals rebuilds the counters from the ledger, the authoritative
// source, and persists the result.
func (r *repository) RecomputeTotals(ctx context.Context, courierID uuid.UUID) (*models.Courier, error) {
	type totals struct {
		Earnings   decimal.Decimal
		Deliveries int64
	}
	var agg totals
	err := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Select("COALESCE(SUM(courier_earning), 0) AS earnings, COUNT(*) AS deliveries").
		Where("courier_id = ? AND order_status = ?", courierID, enums.OrderStatusDelivered).
		Scan(&agg).Error
	if err != nil {
		return nil, err
	}

	err = r.db.WithContext(ctx).
		Model(&models.Courier{}).
		Where("id = ?", courierID).
		Updates(map[string]any{
			"total_earnings":   agg.Earnings,
			"total_deliveries": agg.Deliveries,
		}).Error
	if err != nil {
		return nil, err
	}
	return r.FindByID(ctx, courierID)
}

func (r *repository) ListDelivered(ctx context.Context, courierID uuid.UUID) ([]models.Order, error) {
	var rows []models.Order
	err := r.db.WithContext(ctx).
		Where("courier_id = ? AND order_status = ?", courierID, enums.OrderStatusDelivered).
		Order("delivered_at DESC").
		Find(&rows).Error
	return rows, err
}
