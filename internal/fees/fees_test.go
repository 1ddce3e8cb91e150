package fees

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/lucasferrand/mangetout-backend/pkg/errors"
)

func testSchedule() Schedule {
	return Schedule{
		BaseFee:           decimal.RequireFromString("2.50"),
		PerKm:             decimal.RequireFromString("0.80"),
		Cap:               decimal.RequireFromString("10.00"),
		DiscountThreshold: decimal.RequireFromString("25.00"),
		DiscountFactor:    decimal.RequireFromString("0.80"),
		FreeThreshold:     decimal.RequireFromString("50.00"),
		MaxRadiusKm:       10,
	}
}

func TestDistanceKnownPair(t *testing.T) {
	// Lyon Part-Dieu to Lyon Bellecour is roughly 1.9 km as the crow flies.
	d := Distance(45.7606, 4.8596, 45.7578, 4.8320)
	assert.InDelta(t, 1.9, d, 0.3)
}

func TestDistanceZero(t *testing.T) {
	assert.Zero(t, Distance(45.76, 4.84, 45.76, 4.84))
}

func TestDistanceSymmetric(t *testing.T) {
	a := Distance(45.7606, 4.8596, 48.8566, 2.3522)
	b := Distance(48.8566, 2.3522, 45.7606, 4.8596)
	assert.InDelta(t, a, b, 1e-9)
}

func TestDeliveryFeeStandardDistance(t *testing.T) {
	s := testSchedule()

	fee, err := s.DeliveryFee(6.2, decimal.RequireFromString("18.40"))
	require.NoError(t, err)
	assert.True(t, fee.Equal(decimal.RequireFromString("7.46")), "got %s", fee)
}

func TestDeliveryFeeFreeAboveThreshold(t *testing.T) {
	s := testSchedule()

	for _, dist := range []float64{0, 3, 9.9} {
		fee, err := s.DeliveryFee(dist, decimal.RequireFromString("52.00"))
		require.NoError(t, err)
		assert.True(t, fee.IsZero(), "distance %v got %s", dist, fee)
	}
}

func TestDeliveryFeeDiscountTier(t *testing.T) {
	s := testSchedule()

	fee, err := s.DeliveryFee(3, decimal.RequireFromString("30.00"))
	require.NoError(t, err)
	assert.True(t, fee.Equal(decimal.RequireFromString("3.92")), "got %s", fee)
}

func TestDeliveryFeeCapApplied(t *testing.T) {
	s := testSchedule()

	// 2.50 + 9.8*0.80 = 10.34, capped at 10.00
	fee, err := s.DeliveryFee(9.8, decimal.RequireFromString("18.00"))
	require.NoError(t, err)
	assert.True(t, fee.Equal(decimal.RequireFromString("10.00")), "got %s", fee)
}

func TestDeliveryFeeCapThenDiscount(t *testing.T) {
	s := testSchedule()

	// capped at 10.00, then 20% off for a 30.00 subtotal
	fee, err := s.DeliveryFee(9.8, decimal.RequireFromString("30.00"))
	require.NoError(t, err)
	assert.True(t, fee.Equal(decimal.RequireFromString("8.00")), "got %s", fee)
}

func TestDeliveryFeeBoundaryAtMaxRadius(t *testing.T) {
	s := testSchedule()

	fee, err := s.DeliveryFee(10, decimal.RequireFromString("18.00"))
	require.NoError(t, err)
	assert.True(t, fee.Equal(decimal.RequireFromString("10.00")), "got %s", fee)
}

func TestDeliveryFeeOutOfRange(t *testing.T) {
	s := testSchedule()

	_, err := s.DeliveryFee(10.01, decimal.RequireFromString("18.00"))
	require.Error(t, err)
	assert.True(t, pkgerrors.HasReason(err, pkgerrors.CodeValidation, ReasonOutOfRange))
}

func TestDeliveryFeeRejectsBadDistance(t *testing.T) {
	s := testSchedule()

	for _, dist := range []float64{-1, math.NaN(), math.Inf(1)} {
		_, err := s.DeliveryFee(dist, decimal.RequireFromString("18.00"))
		require.Error(t, err, "distance %v", dist)
		assert.False(t, pkgerrors.HasReason(err, pkgerrors.CodeValidation, ReasonOutOfRange))
	}
}

func TestDeliveryFeeRejectsNegativeSubtotal(t *testing.T) {
	s := testSchedule()

	_, err := s.DeliveryFee(2, decimal.RequireFromString("-0.01"))
	require.Error(t, err)
}

func TestDeliveryFeeNeverNegativeNorAboveCap(t *testing.T) {
	s := testSchedule()

	for _, dist := range []float64{0, 0.1, 1, 2.5, 5, 7.7, 10} {
		for _, sub := range []string{"0.00", "10.00", "24.99", "25.00", "49.99", "50.00", "120.00"} {
			fee, err := s.DeliveryFee(dist, decimal.RequireFromString(sub))
			require.NoError(t, err)
			assert.False(t, fee.IsNegative(), "dist %v sub %s got %s", dist, sub, fee)
			assert.True(t, fee.LessThanOrEqual(s.Cap), "dist %v sub %s got %s", dist, sub, fee)
		}
	}
}
