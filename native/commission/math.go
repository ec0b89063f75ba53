package commission

import (
	"errors"
	"math/big"

	"github.com/holiman/uint256"
)

var errAmountOverflow = errors.New("commission: amount exceeds 256 bits")

var rateDenominatorU256 = uint256.NewInt(rateDenominator)

// levelCommission computes floor(amount * weight * rate / 10000) in 256-bit
// fixed point. Intermediate overflow is reported rather than wrapped.
func levelCommission(amount *big.Int, weight, rate uint64) (*big.Int, error) {
	if amount == nil || amount.Sign() <= 0 || weight == 0 || rate == 0 {
		return big.NewInt(0), nil
	}
	value, overflow := uint256.FromBig(amount)
	if overflow {
		return nil, errAmountOverflow
	}
	product, overflow := new(uint256.Int).MulOverflow(value, uint256.NewInt(weight))
	if overflow {
		return nil, errAmountOverflow
	}
	product, overflow = new(uint256.Int).MulOverflow(product, uint256.NewInt(rate))
	if overflow {
		return nil, errAmountOverflow
	}
	return new(uint256.Int).Div(product, rateDenominatorU256).ToBig(), nil
}

// PercentOf returns floor(amount * pct / 100), the platform cut formula.
func PercentOf(amount *big.Int, pct uint64) (*big.Int, error) {
	if amount == nil || amount.Sign() <= 0 || pct == 0 {
		return big.NewInt(0), nil
	}
	value, overflow := uint256.FromBig(amount)
	if overflow {
		return nil, errAmountOverflow
	}
	product, overflow := new(uint256.Int).MulOverflow(value, uint256.NewInt(pct))
	if overflow {
		return nil, errAmountOverflow
	}
	return new(uint256.Int).Div(product, uint256.NewInt(PercentScale)).ToBig(), nil
}

// ScheduleTotal is the theoretical payout of a full chain: the sum of every
// configured level's commission regardless of how many referrers exist.
func ScheduleTotal(schedule Schedule, amount *big.Int) (*big.Int, error) {
	total := big.NewInt(0)
	for i, weight := range schedule.Levels {
		if i >= MaxLevels {
			break
		}
		commission, err := levelCommission(amount, weight, schedule.ReferralRate)
		if err != nil {
			return nil, err
		}
		total.Add(total, commission)
	}
	return total, nil
}
