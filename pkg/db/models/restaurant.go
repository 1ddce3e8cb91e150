package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Restaurant carries the per-partner commission configuration. Exceptions to
// the platform default (0%, 15%, ...) live here as data, never as code.
type Restaurant struct {
	ID             uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Name           string          `gorm:"column:name;not null"`
	Address        string          `gorm:"column:address;not null"`
	Latitude       float64         `gorm:"column:latitude;not null"`
	Longitude      float64         `gorm:"column:longitude;not null"`
	CommissionRate decimal.Decimal `gorm:"column:commission_rate;type:numeric(5,2);not null"`
	CreatedAt      time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}
