package store

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/big"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"storechain/core/events"
	"storechain/core/types"
	"storechain/native/commission"
	"storechain/native/common"
	"storechain/native/multisig"
)

var (
	ErrStorePaused         = errors.New("store: emergency pause active")
	ErrPlatformPaused      = errors.New("store: platform paused")
	ErrProductNotFound     = errors.New("store: product not found")
	ErrProductInactive     = errors.New("store: product inactive")
	ErrInsufficientPayment = errors.New("store: payment below price")
	ErrNegativeRemainder   = errors.New("store: commissions and platform cut exceed price")
	ErrInvalidPrice        = errors.New("store: price must be positive")
	ErrContentRequired     = errors.New("store: content reference required")
	ErrDurationRequired    = errors.New("store: subscription duration required")
	ErrSubscriptionMissing = errors.New("store: subscription not found")
	ErrNegativeValue       = errors.New("store: value must not be negative")
	ErrInvalidDuration     = errors.New("store: subscription duration out of range")

	errNilState      = errors.New("store engine: state not configured")
	errNilPlatform   = errors.New("store engine: platform not configured")
	errNotConfigured = errors.New("store engine: store not initialised")
	errZeroTreasury  = errors.New("store: treasury required")
	errZeroFactory   = errors.New("store: factory required")
)

// Platform is the factory-side view consulted on every purchase.
type Platform interface {
	GlobalPauseActive() (bool, error)
	PlatformRate() (uint64, error)
}

type engineState interface {
	StoreConfigGet(store [20]byte) (*Config, bool, error)
	StoreConfigPut(store [20]byte, cfg *Config) error
	StoreProductGet(store [20]byte, id uint64) (*Product, bool, error)
	StoreProductPut(store [20]byte, product *Product) error
	StoreSubscriptionGet(store [20]byte, id [32]byte) (*Subscription, bool, error)
	StoreSubscriptionPut(store [20]byte, sub *Subscription) error

	CommissionAccountGet(store [20]byte, buyer [20]byte) (*commission.Account, bool, error)
	CommissionAccountPut(store [20]byte, account *commission.Account) error

	MultisigOwnersGet(self [20]byte) (*multisig.OwnerSet, bool, error)
	MultisigOwnersPut(self [20]byte, set *multisig.OwnerSet) error
	MultisigTxGet(self [20]byte, id uint64) (*multisig.Transaction, bool, error)
	MultisigTxPut(self [20]byte, tx *multisig.Transaction) error
	MultisigTxCount(self [20]byte) (uint64, error)
	MultisigTxCountPut(self [20]byte, count uint64) error
}

// InitParams describes a freshly created store.
type InitParams struct {
	Owners    [][20]byte
	Threshold uint64
	Treasury  [20]byte
	Factory   [20]byte
	Schedule  commission.Schedule
}

// Engine implements the catalog, purchase settlement and governance surface
// of a single store.
type Engine struct {
	state      engineState
	ledger     common.Ledger
	emitter    events.Emitter
	logger     *slog.Logger
	nowFn      func() time.Time
	platform   Platform
	self       [20]byte
	commission *commission.Engine
	governance *multisig.Engine

	purchaseLock common.Lock
}

// NewEngine constructs the engine for the store deployed at self.
func NewEngine(self [20]byte) *Engine {
	return &Engine{
		self:       self,
		emitter:    events.NoopEmitter{},
		logger:     slog.Default(),
		nowFn:      time.Now,
		commission: commission.NewEngine(self),
		governance: multisig.NewEngine(self),
	}
}

// Address returns the store identity.
func (e *Engine) Address() [20]byte { return e.self }

// SetState configures the state backend for the engine and its sub-engines.
func (e *Engine) SetState(state engineState) {
	e.state = state
	e.commission.SetState(state)
	e.governance.SetState(state)
}

// SetLedger configures the host used for value transfers.
func (e *Engine) SetLedger(ledger common.Ledger) {
	e.ledger = ledger
	e.commission.SetLedger(ledger)
	e.governance.SetLedger(ledger)
}

// SetEmitter configures the event emitter.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	e.emitter = emitter
	e.commission.SetEmitter(emitter)
	e.governance.SetEmitter(emitter)
}

// SetLogger overrides the logger.
func (e *Engine) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	e.logger = logger
	e.commission.SetLogger(logger)
}

// SetNowFunc overrides the clock.
func (e *Engine) SetNowFunc(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	e.nowFn = now
	e.governance.SetNowFunc(now)
}

// SetPlatform configures the factory view used for the global pause and the
// platform rate.
func (e *Engine) SetPlatform(platform Platform) { e.platform = platform }

// Governance exposes the store's multisig engine.
func (e *Engine) Governance() *multisig.Engine { return e.governance }

func (e *Engine) now() time.Time {
	if e.nowFn == nil {
		return time.Now()
	}
	return e.nowFn()
}

func (e *Engine) emit(evt *types.Event) {
	if e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(events.Wrap(evt))
}

// Init persists the initial configuration and owner set.
func (e *Engine) Init(params InitParams) error {
	if e.state == nil {
		return errNilState
	}
	if common.IsZeroAddress(params.Treasury) {
		return errZeroTreasury
	}
	if common.IsZeroAddress(params.Factory) {
		return errZeroFactory
	}
	if err := params.Schedule.Validate(); err != nil {
		return err
	}
	set, err := multisig.NewOwnerSet(params.Owners, params.Threshold)
	if err != nil {
		return err
	}
	if err := e.governance.Init(set); err != nil {
		return err
	}
	cfg := &Config{
		Treasury: params.Treasury,
		Factory:  params.Factory,
		Schedule: params.Schedule.Clone(),
	}
	return e.state.StoreConfigPut(e.self, cfg)
}

// Config returns the current store configuration.
func (e *Engine) Config() (*Config, error) {
	if e.state == nil {
		return nil, errNilState
	}
	cfg, ok, err := e.state.StoreConfigGet(e.self)
	if err != nil {
		return nil, err
	}
	if !ok || cfg == nil {
		return nil, errNotConfigured
	}
	return cfg, nil
}

func (e *Engine) ownerConfig(caller [20]byte) (*Config, error) {
	if err := e.governance.RequireOwner(caller); err != nil {
		return nil, err
	}
	return e.Config()
}

// CreateProduct adds a catalog entry and returns its identifier. Identifiers
// start at 1.
func (e *Engine) CreateProduct(caller [20]byte, params ProductParams) (uint64, error) {
	cfg, err := e.ownerConfig(caller)
	if err != nil {
		return 0, err
	}
	if params.Price == nil || params.Price.Sign() <= 0 {
		return 0, ErrInvalidPrice
	}
	if !params.Type.Valid() {
		return 0, ErrInvalidProductType
	}
	// Equivalent spellings of a reference must compare equal off-chain.
	ref := norm.NFC.String(strings.TrimSpace(params.ContentRef))
	if ref == "" {
		return 0, ErrContentRequired
	}
	now := e.now().Unix()
	if params.Type == ProductSubscription {
		if params.Duration == 0 {
			return 0, ErrDurationRequired
		}
		if !durationFits(now, params.Duration) {
			return 0, fmt.Errorf("%w: %d", ErrInvalidDuration, params.Duration)
		}
	}
	cfg.ProductCount++
	product := &Product{
		ID:         cfg.ProductCount,
		Price:      new(big.Int).Set(params.Price),
		Type:       params.Type,
		Duration:   params.Duration,
		ContentRef: ref,
		Active:     true,
		CreatedAt:  now,
	}
	if err := e.state.StoreProductPut(e.self, product); err != nil {
		return 0, err
	}
	if err := e.state.StoreConfigPut(e.self, cfg); err != nil {
		return 0, err
	}
	e.emit(productCreatedEvent(e.self, product))
	return product.ID, nil
}

// ToggleProductActive flips the product's active flag and returns the new
// value.
func (e *Engine) ToggleProductActive(caller [20]byte, id uint64) (bool, error) {
	if _, err := e.ownerConfig(caller); err != nil {
		return false, err
	}
	product, err := e.Product(id)
	if err != nil {
		return false, err
	}
	product.Active = !product.Active
	if err := e.state.StoreProductPut(e.self, product); err != nil {
		return false, err
	}
	e.emit(productStatusEvent(e.self, product))
	return product.Active, nil
}

// SetLevelCommissions replaces the level weights wholesale.
func (e *Engine) SetLevelCommissions(caller [20]byte, levels []uint64) error {
	cfg, err := e.ownerConfig(caller)
	if err != nil {
		return err
	}
	if err := commission.ValidateLevels(levels); err != nil {
		return err
	}
	cfg.Schedule.Levels = append([]uint64(nil), levels...)
	if err := e.state.StoreConfigPut(e.self, cfg); err != nil {
		return err
	}
	e.emit(scheduleUpdatedEvent(e.self, cfg.Schedule))
	return nil
}

// SetReferralRate replaces the global referral rate.
func (e *Engine) SetReferralRate(caller [20]byte, rate uint64) error {
	cfg, err := e.ownerConfig(caller)
	if err != nil {
		return err
	}
	if err := commission.ValidateRate(rate); err != nil {
		return err
	}
	cfg.Schedule.ReferralRate = rate
	if err := e.state.StoreConfigPut(e.self, cfg); err != nil {
		return err
	}
	e.emit(rateUpdatedEvent(e.self, rate))
	return nil
}

// SetEmergencyPause toggles the store-level pause. Only purchases observe it.
func (e *Engine) SetEmergencyPause(caller [20]byte, paused bool) error {
	cfg, err := e.ownerConfig(caller)
	if err != nil {
		return err
	}
	cfg.Paused = paused
	if err := e.state.StoreConfigPut(e.self, cfg); err != nil {
		return err
	}
	e.emit(pauseToggledEvent(e.self, paused))
	return nil
}

// Deposit records value pushed to the store without a method.
func (e *Engine) Deposit(from [20]byte, value *big.Int) error {
	if value == nil || value.Sign() == 0 {
		return nil
	}
	if value.Sign() < 0 {
		return ErrNegativeValue
	}
	e.emit(depositEvent(e.self, from, value))
	return nil
}

// Product returns the catalog entry with the given id.
func (e *Engine) Product(id uint64) (*Product, error) {
	if e.state == nil {
		return nil, errNilState
	}
	product, ok, err := e.state.StoreProductGet(e.self, id)
	if err != nil {
		return nil, err
	}
	if !ok || product == nil {
		return nil, fmt.Errorf("%w: %d", ErrProductNotFound, id)
	}
	return product, nil
}

// Account returns the buyer ledger entry. Unknown buyers yield an empty,
// inactive account.
func (e *Engine) Account(buyer [20]byte) (*commission.Account, error) {
	if e.state == nil {
		return nil, errNilState
	}
	account, ok, err := e.state.CommissionAccountGet(e.self, buyer)
	if err != nil {
		return nil, err
	}
	if !ok || account == nil {
		return commission.NewAccount(buyer), nil
	}
	return account.Normalize(), nil
}

// Subscription returns the subscription with the given id.
func (e *Engine) Subscription(id [32]byte) (*Subscription, error) {
	if e.state == nil {
		return nil, errNilState
	}
	sub, ok, err := e.state.StoreSubscriptionGet(e.self, id)
	if err != nil {
		return nil, err
	}
	if !ok || sub == nil {
		return nil, ErrSubscriptionMissing
	}
	return sub, nil
}

// Quote previews the settlement split for a product at the current schedule
// and platform rate.
func (e *Engine) Quote(productID uint64) (*Quote, error) {
	cfg, err := e.Config()
	if err != nil {
		return nil, err
	}
	product, err := e.Product(productID)
	if err != nil {
		return nil, err
	}
	split, err := e.split(cfg, product.Price)
	if err != nil {
		return nil, err
	}
	return &Quote{
		ProductID:     productID,
		Price:         new(big.Int).Set(product.Price),
		ScheduleTotal: split.scheduleTotal,
		PlatformRate:  split.rate,
		PlatformCut:   split.platformCut,
		Remainder:     split.remainder,
	}, nil
}

// durationFits reports whether start+duration stays within int64 seconds.
func durationFits(start int64, duration uint64) bool {
	if start < 0 {
		start = 0
	}
	return duration <= uint64(math.MaxInt64-start)
}
