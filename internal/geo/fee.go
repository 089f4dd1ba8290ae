package geo

import "fmt"

// FeeTier charges Fee for any distance up to and including UpToKm.
type FeeTier struct {
	UpToKm float64 `mapstructure:"up_to_km" json:"upToKm"`
	Fee    float64 `mapstructure:"fee" json:"fee"`
}

// FeeSchedule is a flat, distance-tiered delivery fee table. Tiers must be
// sorted by UpToKm; BeyondFee applies past the last tier.
type FeeSchedule struct {
	Tiers     []FeeTier
	BeyondFee float64
}

var DefaultFeeSchedule = FeeSchedule{
	Tiers: []FeeTier{
		{UpToKm: 5, Fee: 30},
		{UpToKm: 10, Fee: 50},
		{UpToKm: 20, Fee: 80},
		{UpToKm: 30, Fee: 120},
	},
	BeyondFee: 150,
}

// Fee returns the flat fee for a trip of km kilometres. A distance sitting
// exactly on a tier boundary is charged at the lower tier.
func (s FeeSchedule) Fee(km float64) float64 {
	for _, t := range s.Tiers {
		if km <= t.UpToKm {
			return t.Fee
		}
	}
	return s.BeyondFee
}

// Validate checks that the schedule is a non-decreasing step function.
func (s FeeSchedule) Validate() error {
	if len(s.Tiers) == 0 {
		return fmt.Errorf("fee schedule has no tiers")
	}
	for i, t := range s.Tiers {
		if t.UpToKm <= 0 {
			return fmt.Errorf("tier %d: up_to_km must be positive", i)
		}
		if t.Fee < 0 {
			return fmt.Errorf("tier %d: fee must not be negative", i)
		}
		if i == 0 {
			continue
		}
		prev := s.Tiers[i-1]
		if t.UpToKm <= prev.UpToKm {
			return fmt.Errorf("tier %d: up_to_km %.2f is not above %.2f", i, t.UpToKm, prev.UpToKm)
		}
		if t.Fee < prev.Fee {
			return fmt.Errorf("tier %d: fee %.2f is below previous tier fee %.2f", i, t.Fee, prev.Fee)
		}
	}
	if last := s.Tiers[len(s.Tiers)-1]; s.BeyondFee < last.Fee {
		return fmt.Errorf("beyond fee %.2f is below last tier fee %.2f", s.BeyondFee, last.Fee)
	}
	return nil
}

// DeliveryFee prices km against DefaultFeeSchedule.
func DeliveryFee(km float64) float64 {
	return DefaultFeeSchedule.Fee(km)
}
