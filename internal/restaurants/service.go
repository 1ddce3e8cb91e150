package restaurants

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/lucasferrand/mangetout-backend/pkg/db/models"
	pkgerrors "github.com/lucasferrand/mangetout-backend/pkg/errors"
)

// CreateInput registers a restaurant. A nil CommissionRate takes the platform
// default; an explicit zero is kept as zero.
type CreateInput struct {
	Name           string
	Address        string
	Latitude       float64
	Longitude      float64
	CommissionRate *decimal.Decimal
}

// Service manages restaurant configuration.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*models.Restaurant, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Restaurant, error)
	List(ctx context.Context) ([]models.Restaurant, error)
	SetCommissionRate(ctx context.Context, id uuid.UUID, rate decimal.Decimal) (*models.Restaurant, error)
}

type service struct {
	repo        Repository
	defaultRate decimal.Decimal
}

// NewService builds the restaurant service.
func NewService(repo Repository, defaultRate decimal.Decimal) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("restaurants repository required")
	}
	return &service{repo: repo, defaultRate: defaultRate}, nil
}

func validateRate(rate decimal.Decimal) error {
	if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(100)) {
		return pkgerrors.New(pkgerrors.CodeValidation, "commission rate must be between 0 and 100")
	}
	return nil
}

func (s *service) Create(ctx context.Context, input CreateInput) (*models.Restaurant, error) {
	if input.Name == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "name required")
	}
	if input.Address == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "address required")
	}

	rate := s.defaultRate
	if input.CommissionRate != nil {
		rate = *input.CommissionRate
	}
	if err := validateRate(rate); err != nil {
		return nil, err
	}

	restaurant := &models.Restaurant{
		Name:           input.Name,
		Address:        input.Address,
		Latitude:       input.Latitude,
		Longitude:      input.Longitude,
		CommissionRate: rate,
	}
	if _, err := s.repo.Create(ctx, restaurant); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create restaurant")
	}
	return restaurant, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.Restaurant, error) {
	restaurant, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "restaurant not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load restaurant")
	}
	return restaurant, nil
}

func (s *service) List(ctx context.Context) ([]models.Restaurant, error) {
	rows, err := s.repo.List(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list restaurants")
	}
	return rows, nil
}

// SetCommissionRate changes the rate for future orders only; existing orders
// keep their frozen split.
func (s *service) SetCommissionRate(ctx context.Context, id uuid.UUID, rate decimal.Decimal) (*models.Restaurant, error) {
	if err := validateRate(rate); err != nil {
		return nil, err
	}
	ok, err := s.repo.UpdateCommissionRate(ctx, id, rate)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update commission rate")
	}
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "restaurant not found")
	}
	return s.Get(ctx, id)
}
