package commission

import (
	"github.com/shopspring/decimal"

	pkgerrors "github.com/lucasferrand/mangetout-backend/pkg/errors"
)

var oneHundred = decimal.NewFromInt(100)

// Split is the frozen financial breakdown of an order. Amounts are rounded
// half-up to cents; payouts are exact complements of the commission taken.
type Split struct {
	CommissionRate           decimal.Decimal
	CommissionAmount         decimal.Decimal
	RestaurantPayout         decimal.Decimal
	DeliveryCommissionRate   decimal.Decimal
	DeliveryCommissionAmount decimal.Decimal
	CourierEarning           decimal.Decimal
}

// Compute derives the full split for an order. Restaurant commission applies
// to the subtotal only; delivery commission applies to the delivery fee only.
// A zero rate is a valid explicit rate, not a missing one.
func Compute(subtotal, deliveryFee, restaurantRate, deliveryRate decimal.Decimal) (Split, error) {
	if subtotal.IsNegative() {
		return Split{}, pkgerrors.New(pkgerrors.CodeValidation, "subtotal must not be negative")
	}
	if deliveryFee.IsNegative() {
		return Split{}, pkgerrors.New(pkgerrors.CodeValidation, "delivery fee must not be negative")
	}
	if err := validateRate("restaurant commission rate", restaurantRate); err != nil {
		return Split{}, err
	}
	if err := validateRate("delivery commission rate", deliveryRate); err != nil {
		return Split{}, err
	}

	commission := subtotal.Mul(restaurantRate).Div(oneHundred).Round(2)
	deliveryCommission := deliveryFee.Mul(deliveryRate).Div(oneHundred).Round(2)

	return Split{
		CommissionRate:           restaurantRate,
		CommissionAmount:         commission,
		RestaurantPayout:         subtotal.Sub(commission),
		DeliveryCommissionRate:   deliveryRate,
		DeliveryCommissionAmount: deliveryCommission,
		CourierEarning:           deliveryFee.Sub(deliveryCommission),
	}, nil
}

func validateRate(name string, rate decimal.Decimal) error {
	if rate.IsNegative() || rate.GreaterThan(oneHundred) {
		return pkgerrors.New(pkgerrors.CodeValidation, name+" must be between 0 and 100").
			WithDetails(map[string]interface{}{"rate": rate.String()})
	}
	return nil
}
