package couriers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/lucasferrand/mangetout-backend/pkg/db/models"
	pkgerrors "github.com/lucasferrand/mangetout-backend/pkg/errors"
)

// EarningsLine is one delivered order in a courier's earnings statement.
type EarningsLine struct {
	OrderID     uuid.UUID       `json:"order_id"`
	DeliveredAt *time.Time      `json:"delivered_at"`
	Earning     decimal.Decimal `json:"earning"`
	Settled     bool            `json:"settled"`
	BatchID     *uuid.UUID      `json:"batch_id,omitempty"`
}

// EarningsStatement distinguishes settled from provisional money: only the
// settled total is ever presented as final.
type EarningsStatement struct {
	CourierID        uuid.UUID       `json:"courier_id"`
	SettledTotal     decimal.Decimal `json:"settled_total"`
	ProvisionalTotal decimal.Decimal `json:"provisional_total"`
	Lines            []EarningsLine  `json:"lines"`
}

// Service manages couriers and their earnings views.
type Service interface {
	Create(ctx context.Context, name string) (*models.Courier, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Courier, error)
	Earnings(ctx context.Context, id uuid.UUID) (*EarningsStatement, error)
	RecomputeTotals(ctx context.Context, id uuid.UUID) (*models.Courier, error)
}

type service struct {
	repo Repository
}

// NewService builds the courier service.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("couriers repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) Create(ctx context.Context, name string) (*models.Courier, error) {
	if name == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "name required")
	}
	courier := &models.Courier{
		Name:          name,
		TotalEarnings: decimal.Zero,
	}
	if _, err := s.repo.Create(ctx, courier); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create courier")
	}
	return courier, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.Courier, error) {
	courier, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "courier not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load courier")
	}
	return courier, nil
}

func (s *service) Earnings(ctx context.Context, id uuid.UUID) (*EarningsStatement, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	orders, err := s.repo.ListDelivered(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list delivered orders")
	}

	statement := &EarningsStatement{
		CourierID:        id,
		SettledTotal:     decimal.Zero,
		ProvisionalTotal: decimal.Zero,
	}
	for _, order := range orders {
		settled := order.CourierPaidAt != nil
		if settled {
			statement.SettledTotal = statement.SettledTotal.Add(order.CourierEarning)
		} else {
			statement.ProvisionalTotal = statement.ProvisionalTotal.Add(order.CourierEarning)
		}
		statement.Lines = append(statement.Lines, EarningsLine{
			OrderID:     order.ID,
			DeliveredAt: order.DeliveredAt,
			Earning:     order.CourierEarning,
			Settled:     settled,
			BatchID:     order.CourierBatchID,
		})
	}
	return statement, nil
}

func (s *service) RecomputeTotals(ctx context.Context, id uuid.UUID) (*models.Courier, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	courier, err := s.repo.RecomputeTotals(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "recompute courier totals")
	}
	return courier, nil
}
