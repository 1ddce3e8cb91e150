package admin

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lucasferrand/mangetout-backend/pkg/db/models"
	"github.com/lucasferrand/mangetout-backend/pkg/enums"
)

// Repository defines persistence for the audited administrative mutations.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateAudit(ctx context.Context, entry *models.AuditEntry) (*models.AuditEntry, error)
	ListAuditByOrder(ctx context.Context, orderID uuid.UUID) ([]models.AuditEntry, error)
	FindOrderForUpdate(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	ReplaceOrderLines(ctx context.Context, orderID uuid.UUID, lines []models.OrderLine) error
	UpdateOrderMoney(ctx context.Context, orderID uuid.UUID, updates map[string]any) error
	UpdateOrderPayment(ctx context.Context, orderID uuid.UUID, from, to enums.PaymentStatus) (bool, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds an admin repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateAudit(ctx context.Context, entry *models.AuditEntry) (*models.AuditEntry, error) {
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		return nil, err
	}
	return entry, nil
}

func (r *repository) ListAuditByOrder(ctx context.Context, orderID uuid.UUID) ([]models.AuditEntry, error) {
	var rows []models.AuditEntry
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at DESC").
		Find(&rows).Error
	return rows, err
}

func (r *repository) FindOrderForUpdate(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Preload("Lines").
		Where("id = ?", orderID).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) ReplaceOrderLines(ctx context.Context, orderID uuid.UUID, lines []models.OrderLine) error {
	if err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Delete(&models.OrderLine{}).Error; err != nil {
		return err
	}
	for i := range lines {
		lines[i].OrderID = orderID
	}
	return r.db.WithContext(ctx).Create(&lines).Error
}

func (r *repository) UpdateOrderMoney(ctx context.Context, orderID uuid.UUID, updates map[string]any) error {
	return r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", orderID).
		Updates(updates).Error
}

func (r *repository) UpdateOrderPayment(ctx context.Context, orderID uuid.UUID, from, to enums.PaymentStatus) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND payment_status = ?", orderID, from).
		Update("payment_status", to)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
