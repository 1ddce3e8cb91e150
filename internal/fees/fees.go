package fees

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/lucasferrand/mangetout-backend/pkg/config"
	pkgerrors "github.com/lucasferrand/mangetout-backend/pkg/errors"
)

const earthRadiusKm = 6371.0

// ReasonOutOfRange marks addresses beyond the delivery radius so callers can
// distinguish "we don't deliver there" from malformed input.
const ReasonOutOfRange = "delivery_out_of_range"

// Schedule carries the delivery fee parameters. All amounts are EUR.
type Schedule struct {
	BaseFee           decimal.Decimal
	PerKm             decimal.Decimal
	Cap               decimal.Decimal
	DiscountThreshold decimal.Decimal
	DiscountFactor    decimal.Decimal
	FreeThreshold     decimal.Decimal
	MaxRadiusKm       float64
}

// ScheduleFromConfig maps the fee section of the app config onto a Schedule.
func ScheduleFromConfig(cfg config.FeesConfig) Schedule {
	return Schedule{
		BaseFee:           cfg.BaseFee,
		PerKm:             cfg.PerKm,
		Cap:               cfg.Cap,
		DiscountThreshold: cfg.DiscountThreshold,
		DiscountFactor:    cfg.DiscountFactor,
		FreeThreshold:     cfg.FreeThreshold,
		MaxRadiusKm:       cfg.MaxDeliveryRadiusKm,
	}
}

// Distance returns the great-circle distance in kilometers between two points.
func Distance(fromLat, fromLon, toLat, toLon float64) float64 {
	lat1 := fromLat * math.Pi / 180
	lat2 := toLat * math.Pi / 180
	dLat := (toLat - fromLat) * math.Pi / 180
	dLon := (toLon - fromLon) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusKm * c
}

// DeliveryFee computes the customer-facing delivery fee for a distance and
// order subtotal. The discount tiers apply after the distance-based fee is
// capped; the result is rounded half-up to cents.
func (s Schedule) DeliveryFee(distanceKm float64, subtotal decimal.Decimal) (decimal.Decimal, error) {
	if distanceKm < 0 || math.IsNaN(distanceKm) || math.IsInf(distanceKm, 0) {
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeValidation, "distance must be a non-negative number")
	}
	if distanceKm > s.MaxRadiusKm {
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeValidation, "address is outside the delivery radius").
			WithReason(ReasonOutOfRange).
			WithDetails(map[string]interface{}{
				"distance_km":   distanceKm,
				"max_radius_km": s.MaxRadiusKm,
			})
	}
	if subtotal.IsNegative() {
		return decimal.Zero, pkgerrors.New(pkgerrors.CodeValidation, "subtotal must not be negative")
	}

	if subtotal.GreaterThanOrEqual(s.FreeThreshold) {
		return decimal.Zero.Round(2), nil
	}

	fee := s.BaseFee.Add(s.PerKm.Mul(decimal.NewFromFloat(distanceKm)))
	if fee.GreaterThan(s.Cap) {
		fee = s.Cap
	}

	if subtotal.GreaterThanOrEqual(s.DiscountThreshold) {
		fee = fee.Mul(s.DiscountFactor)
	}

	return fee.Round(2), nil
}
