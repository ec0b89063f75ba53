package commission

import (
	"context"
	"errors"
	"log/slog"
	"math/big"

	"storechain/core/events"
	"storechain/core/types"
	"storechain/crypto"
	"storechain/native/common"
)

var (
	errNilState       = errors.New("commission engine: state not configured")
	errNilLedger      = errors.New("commission engine: ledger not configured")
	errTreasuryNotSet = errors.New("commission engine: treasury not configured")
)

type engineState interface {
	CommissionAccountGet(store [20]byte, buyer [20]byte) (*Account, bool, error)
	CommissionAccountPut(store [20]byte, account *Account) error
}

// LevelPayout records the commission earned at one level of the chain.
// RoutedTo differs from Referrer when the push failed and the treasury
// received the value instead.
type LevelPayout struct {
	Level    int
	Referrer [20]byte
	Amount   *big.Int
	RoutedTo [20]byte
	Fallback bool
}

// Result summarises a distribution. Total is what was actually credited along
// the real chain, which can be below ScheduleTotal for short chains.
type Result struct {
	Levels []LevelPayout
	Total  *big.Int
}

// Fallbacks counts the levels that were redirected to the treasury.
func (r *Result) Fallbacks() int {
	if r == nil {
		return 0
	}
	n := 0
	for _, lvl := range r.Levels {
		if lvl.Fallback {
			n++
		}
	}
	return n
}

// Engine walks a buyer's referrer chain for one store and routes the level
// commissions out of the store's balance.
type Engine struct {
	state    engineState
	ledger   common.Ledger
	emitter  events.Emitter
	logger   *slog.Logger
	store    [20]byte
	treasury [20]byte
	schedule Schedule
}

// NewEngine constructs a commission engine acting on behalf of the store.
func NewEngine(store [20]byte) *Engine {
	return &Engine{
		store:   store,
		emitter: events.NoopEmitter{},
		logger:  slog.Default(),
	}
}

// SetState configures the buyer ledger backend.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetLedger configures the host used for value pushes.
func (e *Engine) SetLedger(ledger common.Ledger) { e.ledger = ledger }

// SetEmitter configures the event emitter used by the engine.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetLogger overrides the logger used for routing diagnostics.
func (e *Engine) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	e.logger = logger
}

// SetTreasury configures the mandatory fallback recipient.
func (e *Engine) SetTreasury(addr [20]byte) { e.treasury = addr }

// SetSchedule installs the weights used by subsequent distributions.
func (e *Engine) SetSchedule(schedule Schedule) { e.schedule = schedule.Clone() }

// Schedule returns the installed schedule.
func (e *Engine) Schedule() Schedule { return e.schedule.Clone() }

func (e *Engine) emit(evt *types.Event) {
	if e == nil || evt == nil || e.emitter == nil {
		return
	}
	e.emitter.Emit(events.Wrap(evt))
}

// Distribute pays the referral chain for a purchase of amount by buyer.
//
// The walk starts at referrer and stops at the first zero link, the first
// inactive account, or after MaxLevels hops. Cycles are not detected; the hop
// cap bounds them. Each positive commission is credited to the referrer's
// ledger before the push is attempted. A failed push is redirected to the
// treasury and a failed treasury transfer aborts the distribution.
func (e *Engine) Distribute(ctx context.Context, buyer, referrer [20]byte, amount *big.Int) (*Result, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	result := &Result{Total: big.NewInt(0)}
	if common.IsZeroAddress(referrer) || referrer == buyer {
		return result, nil
	}
	if e.ledger == nil {
		return nil, errNilLedger
	}
	if common.IsZeroAddress(e.treasury) {
		return nil, errTreasuryNotSet
	}
	current := referrer
	for level := 0; level < len(e.schedule.Levels) && level < MaxLevels; level++ {
		if common.IsZeroAddress(current) {
			break
		}
		account, ok, err := e.state.CommissionAccountGet(e.store, current)
		if err != nil {
			return nil, err
		}
		if !ok || account == nil || !account.Active {
			break
		}
		account.Normalize()
		commission, err := levelCommission(amount, e.schedule.Levels[level], e.schedule.ReferralRate)
		if err != nil {
			return nil, err
		}
		if commission.Sign() > 0 {
			account.CommissionsEarned = new(big.Int).Add(account.CommissionsEarned, commission)
			if err := e.state.CommissionAccountPut(e.store, account); err != nil {
				return nil, err
			}
			payout := LevelPayout{Level: level, Referrer: current, Amount: commission, RoutedTo: current}
			if err := common.Push(ctx, e.ledger, e.store, current, commission); err != nil {
				e.logger.Debug("referral push failed, routing to treasury",
					slog.String("store", crypto.HexAddress(e.store)),
					slog.String("referrer", crypto.HexAddress(current)),
					slog.Int("level", level+1),
					slog.Any("error", err))
				if err := common.PushMandatory(ctx, e.ledger, e.store, e.treasury, commission); err != nil {
					return nil, err
				}
				payout.RoutedTo = e.treasury
				payout.Fallback = true
			}
			result.Levels = append(result.Levels, payout)
			result.Total.Add(result.Total, commission)
			e.emit(ReferralPaidEvent(e.store, buyer, payout))
		}
		current = account.Referrer
	}
	return result, nil
}

// ScheduleTotal returns the full-schedule payout for amount using the
// installed schedule.
func (e *Engine) ScheduleTotal(amount *big.Int) (*big.Int, error) {
	return ScheduleTotal(e.schedule, amount)
}
