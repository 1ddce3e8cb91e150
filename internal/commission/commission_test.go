package commission

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestComputeStandardRates(t *testing.T) {
	split, err := Compute(dec("40.00"), dec("5.00"), dec("20"), dec("25"))
	require.NoError(t, err)

	assert.True(t, split.CommissionAmount.Equal(dec("8.00")), "commission %s", split.CommissionAmount)
	assert.True(t, split.RestaurantPayout.Equal(dec("32.00")), "payout %s", split.RestaurantPayout)
	assert.True(t, split.DeliveryCommissionAmount.Equal(dec("1.25")), "delivery commission %s", split.DeliveryCommissionAmount)
	assert.True(t, split.CourierEarning.Equal(dec("3.75")), "earning %s", split.CourierEarning)
}

func TestComputeZeroRateIsExplicit(t *testing.T) {
	split, err := Compute(dec("40.00"), dec("5.00"), dec("0"), dec("25"))
	require.NoError(t, err)

	assert.True(t, split.CommissionAmount.Equal(dec("0.00")), "commission %s", split.CommissionAmount)
	assert.True(t, split.RestaurantPayout.Equal(dec("40.00")), "payout %s", split.RestaurantPayout)
}

func TestComputeRoundsHalfUp(t *testing.T) {
	// 33.33 * 15% = 4.9995 -> 5.00
	split, err := Compute(dec("33.33"), dec("0.00"), dec("15"), dec("25"))
	require.NoError(t, err)

	assert.True(t, split.CommissionAmount.Equal(dec("5.00")), "commission %s", split.CommissionAmount)
	assert.True(t, split.RestaurantPayout.Equal(dec("28.33")), "payout %s", split.RestaurantPayout)
}

func TestComputePayoutsAreComplements(t *testing.T) {
	cases := []struct {
		subtotal, fee, rRate, dRate string
	}{
		{"18.40", "7.46", "20", "25"},
		{"52.00", "0.00", "12.5", "25"},
		{"30.00", "3.92", "17.35", "30"},
		{"0.01", "2.50", "99.99", "0"},
	}
	for _, tc := range cases {
		split, err := Compute(dec(tc.subtotal), dec(tc.fee), dec(tc.rRate), dec(tc.dRate))
		require.NoError(t, err)

		assert.True(t, split.CommissionAmount.Add(split.RestaurantPayout).Equal(dec(tc.subtotal)),
			"subtotal split leaks money: %s + %s != %s", split.CommissionAmount, split.RestaurantPayout, tc.subtotal)
		assert.True(t, split.DeliveryCommissionAmount.Add(split.CourierEarning).Equal(dec(tc.fee)),
			"fee split leaks money: %s + %s != %s", split.DeliveryCommissionAmount, split.CourierEarning, tc.fee)
	}
}

func TestComputeRejectsOutOfRangeRates(t *testing.T) {
	_, err := Compute(dec("40.00"), dec("5.00"), dec("-1"), dec("25"))
	require.Error(t, err)

	_, err = Compute(dec("40.00"), dec("5.00"), dec("20"), dec("100.01"))
	require.Error(t, err)
}

func TestComputeRejectsNegativeAmounts(t *testing.T) {
	_, err := Compute(dec("-0.01"), dec("5.00"), dec("20"), dec("25"))
	require.Error(t, err)

	_, err = Compute(dec("40.00"), dec("-5.00"), dec("20"), dec("25"))
	require.Error(t, err)
}
