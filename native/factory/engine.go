package factory

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"storechain/core/events"
	"storechain/core/types"
	"storechain/crypto"
	"storechain/native/commission"
	"storechain/native/common"
	"storechain/native/multisig"
	"storechain/native/store"
)

var (
	ErrNotOwner          = errors.New("factory: caller is not the platform owner")
	ErrRateOutOfBounds   = errors.New("factory: platform rate exceeds 100")
	ErrUnknownStore      = errors.New("factory: caller is not a registered store")
	ErrCommissionsClosed = errors.New("factory: commission intake disabled")
	ErrStoreExists       = errors.New("factory: store address already in use")
	ErrZeroTreasury      = errors.New("factory: treasury required")
	ErrZeroPayee         = errors.New("factory: recipient required")

	errNilState    = errors.New("factory engine: state not configured")
	errNilLedger   = errors.New("factory engine: ledger not configured")
	errNilDeployer = errors.New("factory engine: deployer not configured")
	errNotSetup    = errors.New("factory engine: not initialised")
	errZeroOwner   = errors.New("factory: owner required")
)

type engineState interface {
	FactoryConfigGet(factory [20]byte) (*Config, bool, error)
	FactoryConfigPut(factory [20]byte, cfg *Config) error
	FactoryStoreGet(factory [20]byte, addr [20]byte) (*StoreRecord, bool, error)
	FactoryStorePut(factory [20]byte, record *StoreRecord) error
}

// Deployer instantiates store contracts on the ledger.
type Deployer interface {
	DeployStore(ctx context.Context, addr [20]byte, params store.InitParams) error
}

// Engine implements the platform factory: store creation, the global pause,
// the platform rate and the platform commission sink.
type Engine struct {
	state    engineState
	ledger   common.Ledger
	deployer Deployer
	emitter  events.Emitter
	nowFn    func() time.Time
	self     [20]byte

	collectLock common.Lock
}

// NewEngine constructs the factory deployed at self.
func NewEngine(self [20]byte) *Engine {
	return &Engine{
		self:    self,
		emitter: events.NoopEmitter{},
		nowFn:   time.Now,
	}
}

// Address returns the factory identity.
func (e *Engine) Address() [20]byte { return e.self }

// SetState configures the state backend.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetLedger configures the host used for value transfers.
func (e *Engine) SetLedger(ledger common.Ledger) { e.ledger = ledger }

// SetDeployer configures the store deployer.
func (e *Engine) SetDeployer(deployer Deployer) { e.deployer = deployer }

func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	e.emitter = emitter
}

func (e *Engine) SetNowFunc(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	e.nowFn = now
}

func (e *Engine) emit(evt *types.Event) {
	if e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(events.Wrap(evt))
}

// Init persists the platform configuration if none exists yet. An existing
// configuration is left untouched so restarts keep runtime changes.
func (e *Engine) Init(owner [20]byte, rate uint64, openCreation bool) error {
	if e.state == nil {
		return errNilState
	}
	if common.IsZeroAddress(owner) {
		return errZeroOwner
	}
	if rate > commission.PercentScale {
		return ErrRateOutOfBounds
	}
	_, ok, err := e.state.FactoryConfigGet(e.self)
	if err != nil || ok {
		return err
	}
	return e.state.FactoryConfigPut(e.self, &Config{
		Owner:        owner,
		PlatformRate: rate,
		OpenCreation: openCreation,
		Accrued:      big.NewInt(0),
	})
}

// Config returns the platform configuration.
func (e *Engine) Config() (*Config, error) {
	if e.state == nil {
		return nil, errNilState
	}
	cfg, ok, err := e.state.FactoryConfigGet(e.self)
	if err != nil {
		return nil, err
	}
	if !ok || cfg == nil {
		return nil, errNotSetup
	}
	if cfg.Accrued == nil {
		cfg.Accrued = big.NewInt(0)
	}
	return cfg, nil
}

func (e *Engine) ownerConfig(caller [20]byte) (*Config, error) {
	cfg, err := e.Config()
	if err != nil {
		return nil, err
	}
	if caller != cfg.Owner {
		return nil, ErrNotOwner
	}
	return cfg, nil
}

// CreateStore validates params, derives the next store address and deploys
// the store contract.
func (e *Engine) CreateStore(ctx context.Context, caller [20]byte, params StoreParams) ([20]byte, error) {
	var zero [20]byte
	cfg, err := e.Config()
	if err != nil {
		return zero, err
	}
	if !cfg.OpenCreation && caller != cfg.Owner {
		return zero, ErrNotOwner
	}
	if e.deployer == nil {
		return zero, errNilDeployer
	}
	if _, err := multisig.NewOwnerSet(params.Owners, params.Threshold); err != nil {
		return zero, err
	}
	if common.IsZeroAddress(params.Treasury) {
		return zero, ErrZeroTreasury
	}
	if err := params.Schedule.Validate(); err != nil {
		return zero, err
	}

	seq := cfg.StoreCount + 1
	addr := crypto.DeriveAddress(e.self, seq)
	if _, exists, err := e.state.FactoryStoreGet(e.self, addr); err != nil {
		return zero, err
	} else if exists {
		return zero, fmt.Errorf("%w: %s", ErrStoreExists, crypto.HexAddress(addr))
	}
	record := &StoreRecord{
		Address:   addr,
		Creator:   caller,
		Seq:       seq,
		CreatedAt: e.nowFn().Unix(),
		Collected: big.NewInt(0),
	}
	if err := e.state.FactoryStorePut(e.self, record); err != nil {
		return zero, err
	}
	cfg.StoreCount = seq
	cfg.Stores = append(cfg.Stores, addr)
	if err := e.state.FactoryConfigPut(e.self, cfg); err != nil {
		return zero, err
	}
	err = e.deployer.DeployStore(ctx, addr, store.InitParams{
		Owners:    params.Owners,
		Threshold: params.Threshold,
		Treasury:  params.Treasury,
		Factory:   e.self,
		Schedule:  params.Schedule.Clone(),
	})
	if err != nil {
		return zero, err
	}
	e.emit(storeCreatedEvent(e.self, record, len(params.Owners), params.Threshold))
	return addr, nil
}

// SetGlobalPause toggles the platform-wide purchase pause.
func (e *Engine) SetGlobalPause(caller [20]byte, paused bool) error {
	cfg, err := e.ownerConfig(caller)
	if err != nil {
		return err
	}
	cfg.GlobalPause = paused
	if err := e.state.FactoryConfigPut(e.self, cfg); err != nil {
		return err
	}
	e.emit(pauseToggledEvent(e.self, paused))
	return nil
}

// SetPlatformRate replaces the platform cut percentage.
func (e *Engine) SetPlatformRate(caller [20]byte, rate uint64) error {
	cfg, err := e.ownerConfig(caller)
	if err != nil {
		return err
	}
	if rate > commission.PercentScale {
		return ErrRateOutOfBounds
	}
	cfg.PlatformRate = rate
	if err := e.state.FactoryConfigPut(e.self, cfg); err != nil {
		return err
	}
	e.emit(rateUpdatedEvent(e.self, rate))
	return nil
}

// SetRejectCommissions closes or reopens the commission sink. While closed,
// stores route their platform cut to their own treasuries.
func (e *Engine) SetRejectCommissions(caller [20]byte, reject bool) error {
	cfg, err := e.ownerConfig(caller)
	if err != nil {
		return err
	}
	cfg.RejectCommissions = reject
	if err := e.state.FactoryConfigPut(e.self, cfg); err != nil {
		return err
	}
	e.emit(commissionsRejectedEvent(e.self, reject))
	return nil
}

// ReceiveCommission credits value pushed by a registered store.
func (e *Engine) ReceiveCommission(from [20]byte, value *big.Int) error {
	cfg, err := e.Config()
	if err != nil {
		return err
	}
	if cfg.RejectCommissions {
		return ErrCommissionsClosed
	}
	record, ok, err := e.state.FactoryStoreGet(e.self, from)
	if err != nil {
		return err
	}
	if !ok || record == nil {
		return fmt.Errorf("%w: %s", ErrUnknownStore, crypto.HexAddress(from))
	}
	if value == nil || value.Sign() == 0 {
		return nil
	}
	if record.Collected == nil {
		record.Collected = big.NewInt(0)
	}
	record.Collected = new(big.Int).Add(record.Collected, value)
	if err := e.state.FactoryStorePut(e.self, record); err != nil {
		return err
	}
	cfg.Accrued = new(big.Int).Add(cfg.Accrued, value)
	if err := e.state.FactoryConfigPut(e.self, cfg); err != nil {
		return err
	}
	e.emit(commissionReceivedEvent(e.self, from, value))
	return nil
}

// CollectCommissions pays the accrued platform commissions to the recipient.
func (e *Engine) CollectCommissions(ctx context.Context, caller, to [20]byte) (*big.Int, error) {
	if err := e.collectLock.Enter(); err != nil {
		return nil, err
	}
	defer e.collectLock.Exit()

	cfg, err := e.ownerConfig(caller)
	if err != nil {
		return nil, err
	}
	if common.IsZeroAddress(to) {
		return nil, ErrZeroPayee
	}
	if e.ledger == nil {
		return nil, errNilLedger
	}
	amount := new(big.Int).Set(cfg.Accrued)
	if amount.Sign() == 0 {
		return amount, nil
	}
	cfg.Accrued = big.NewInt(0)
	if err := e.state.FactoryConfigPut(e.self, cfg); err != nil {
		return nil, err
	}
	if err := common.PushMandatory(ctx, e.ledger, e.self, to, amount); err != nil {
		return nil, err
	}
	e.emit(commissionCollectedEvent(e.self, to, amount))
	return amount, nil
}

// GlobalPauseActive reports the platform-wide pause. Stores read it on every
// purchase.
func (e *Engine) GlobalPauseActive() (bool, error) {
	cfg, err := e.Config()
	if err != nil {
		return false, err
	}
	return cfg.GlobalPause, nil
}

// PlatformRate returns the platform cut percentage.
func (e *Engine) PlatformRate() (uint64, error) {
	cfg, err := e.Config()
	if err != nil {
		return 0, err
	}
	return cfg.PlatformRate, nil
}

// Stores lists the stores created so far in creation order.
func (e *Engine) Stores() ([][20]byte, error) {
	cfg, err := e.Config()
	if err != nil {
		return nil, err
	}
	return append([][20]byte(nil), cfg.Stores...), nil
}

// Store returns the record of a created store.
func (e *Engine) Store(addr [20]byte) (*StoreRecord, error) {
	if e.state == nil {
		return nil, errNilState
	}
	record, ok, err := e.state.FactoryStoreGet(e.self, addr)
	if err != nil {
		return nil, err
	}
	if !ok || record == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStore, crypto.HexAddress(addr))
	}
	return record, nil
}

// Collected returns the lifetime platform commission received from store.
func (e *Engine) Collected(addr [20]byte) (*big.Int, error) {
	record, err := e.Store(addr)
	if err != nil {
		return nil, err
	}
	if record.Collected == nil {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(record.Collected), nil
}

var _ store.Platform = (*Engine)(nil)
