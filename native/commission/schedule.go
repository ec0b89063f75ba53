package commission

import (
	"errors"
	"fmt"
)

const (
	// MaxLevels caps both the configured schedule and the referrer walk.
	MaxLevels = 5
	// PercentScale is the upper bound for a single weight, the weight sum and
	// the referral rate.
	PercentScale = 100
	// rateDenominator converts weight% * rate% into a fraction of the amount.
	rateDenominator = PercentScale * PercentScale
)

var (
	ErrTooManyLevels   = errors.New("commission: too many levels")
	ErrWeightOverflow  = errors.New("commission: level weights exceed 100")
	ErrRateOutOfBounds = errors.New("commission: referral rate exceeds 100")
)

// Schedule is the per-level weight table plus the global referral rate. A
// level pays floor(amount * Levels[L] * ReferralRate / 10000).
type Schedule struct {
	Levels       []uint64 `json:"levels"`
	ReferralRate uint64   `json:"referralRate"`
}

// Validate enforces at most five levels, a weight sum of at most 100 and a
// referral rate of at most 100.
func (s Schedule) Validate() error {
	if err := ValidateLevels(s.Levels); err != nil {
		return err
	}
	return ValidateRate(s.ReferralRate)
}

// ValidateLevels checks a replacement weight table.
func ValidateLevels(levels []uint64) error {
	if len(levels) > MaxLevels {
		return fmt.Errorf("%w: %d > %d", ErrTooManyLevels, len(levels), MaxLevels)
	}
	var sum uint64
	for _, weight := range levels {
		if weight > PercentScale {
			return ErrWeightOverflow
		}
		sum += weight
	}
	if sum > PercentScale {
		return fmt.Errorf("%w: sum %d", ErrWeightOverflow, sum)
	}
	return nil
}

// ValidateRate checks the referral rate bound.
func ValidateRate(rate uint64) error {
	if rate > PercentScale {
		return ErrRateOutOfBounds
	}
	return nil
}

// Clone returns a deep copy of the schedule.
func (s Schedule) Clone() Schedule {
	return Schedule{Levels: append([]uint64(nil), s.Levels...), ReferralRate: s.ReferralRate}
}
