package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeliveryFee_TierBoundaries(t *testing.T) {
	cases := []struct {
		km   float64
		want float64
	}{
		{0, 30},
		{5.00, 30},
		{5.01, 50},
		{10, 50},
		{10.5, 80},
		{20, 80},
		{29.99, 120},
		{30, 120},
		{30.01, 150},
		{250, 150},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, DeliveryFee(tc.km), "km=%v", tc.km)
	}
}

func TestDeliveryFee_NonDecreasing(t *testing.T) {
	prev := DeliveryFee(0)
	for km := 0.0; km <= 60; km += 0.01 {
		fee := DeliveryFee(km)
		require.GreaterOrEqual(t, fee, prev, "fee dropped at %.2f km", km)
		prev = fee
	}
}

func TestFeeSchedule_Validate(t *testing.T) {
	require.NoError(t, DefaultFeeSchedule.Validate())

	unsorted := FeeSchedule{Tiers: []FeeTier{{UpToKm: 10, Fee: 20}, {UpToKm: 5, Fee: 30}}, BeyondFee: 40}
	assert.Error(t, unsorted.Validate())

	cheaper := FeeSchedule{Tiers: []FeeTier{{UpToKm: 5, Fee: 40}, {UpToKm: 10, Fee: 30}}, BeyondFee: 50}
	assert.Error(t, cheaper.Validate())

	lowBeyond := FeeSchedule{Tiers: []FeeTier{{UpToKm: 5, Fee: 40}}, BeyondFee: 10}
	assert.Error(t, lowBeyond.Validate())

	assert.Error(t, FeeSchedule{}.Validate())
}
