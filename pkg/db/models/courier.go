package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Courier accumulates denormalized delivery stats. The authoritative earnings
// figure is always the sum of courier_earning over delivered, courier-paid
// orders; these counters exist for cheap dashboard reads.
type Courier struct {
	ID              uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Name            string          `gorm:"column:name;not null"`
	TotalEarnings   decimal.Decimal `gorm:"column:total_earnings;type:numeric(12,2);not null;default:0"`
	TotalDeliveries int             `gorm:"column:total_deliveries;not null;default:0"`
	CreatedAt       time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}
