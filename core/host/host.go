package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"storechain/core/events"
	"storechain/core/state"
	"storechain/core/types"
	"storechain/crypto"
	"storechain/native/common"
	"storechain/observability"
)

// MaxCallDepth bounds nested calls within one external call.
const MaxCallDepth = 64

var (
	ErrInsufficientBalance = errors.New("host: insufficient balance")
	ErrCallDepth           = errors.New("host: call depth exceeded")
	ErrNegativeValue       = errors.New("host: negative value")
	ErrContractExists      = errors.New("host: contract already deployed")
	ErrNotInCall           = errors.New("host: no call in progress")
)

// Receipt describes a committed external call.
type Receipt struct {
	Result []byte
	Events []*types.Event
}

type deployment struct {
	kind     string
	contract common.Contract
}

type deployJournal struct {
	addr [20]byte
}

// Host executes external calls one at a time against the journaled state.
// Every call either commits all of its effects and events or none of them.
// Nested calls made by contracts through Call revert only their own effects
// when they fail.
type Host struct {
	mu      sync.Mutex
	state   *state.Manager
	emitter events.Emitter
	logger  *slog.Logger
	tracer  trace.Tracer
	nowFn   func() time.Time

	contracts map[[20]byte]deployment
	deploys   []deployJournal
	pending   []*types.Event
	inCall    bool
	depth     int
	callTime  time.Time
}

// New constructs a host over the state manager.
func New(st *state.Manager) *Host {
	return &Host{
		state:     st,
		emitter:   events.NoopEmitter{},
		logger:    slog.Default(),
		tracer:    otel.Tracer("storechain/core/host"),
		nowFn:     time.Now,
		contracts: make(map[[20]byte]deployment),
	}
}

// SetEmitter configures the downstream emitter that receives committed
// events.
func (h *Host) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	h.emitter = emitter
}

// SetLogger overrides the logger.
func (h *Host) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	h.logger = logger
}

// SetNowFunc overrides the wall clock.
func (h *Host) SetNowFunc(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	h.nowFn = now
}

// Now returns the timestamp of the call in progress, or the wall clock
// outside of a call. Every operation within one call observes the same time.
func (h *Host) Now() time.Time {
	if h.inCall {
		return h.callTime
	}
	return h.nowFn()
}

// State exposes the underlying manager. Contracts use it during calls.
func (h *Host) State() *state.Manager { return h.state }

// Emitter returns the emitter contracts must use. Events are buffered and
// only forwarded downstream once the enclosing call commits.
func (h *Host) Emitter() events.Emitter { return bufferEmitter{h: h} }

type bufferEmitter struct{ h *Host }

func (b bufferEmitter) Emit(evt events.Event) {
	typed := events.ToTyped(evt)
	if typed == nil {
		return
	}
	if !b.h.inCall {
		b.h.forward([]*types.Event{typed})
		return
	}
	b.h.pending = append(b.h.pending, typed)
}

func (h *Host) forward(evts []*types.Event) {
	for _, evt := range evts {
		observability.Events().RecordEvent(evt.Type)
		h.emitter.Emit(events.Wrap(evt))
	}
}

// Register installs a contract outside of any call, typically when a node
// restores contracts at start-up.
func (h *Host) Register(addr [20]byte, kind string, contract common.Contract) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.contracts[addr]; exists {
		return fmt.Errorf("%w: %s", ErrContractExists, crypto.HexAddress(addr))
	}
	h.contracts[addr] = deployment{kind: kind, contract: contract}
	return nil
}

// Deploy installs a contract from within a call. The deployment is undone if
// the call reverts.
func (h *Host) Deploy(addr [20]byte, kind string, contract common.Contract) error {
	if !h.inCall {
		return ErrNotInCall
	}
	if _, exists := h.contracts[addr]; exists {
		return fmt.Errorf("%w: %s", ErrContractExists, crypto.HexAddress(addr))
	}
	h.contracts[addr] = deployment{kind: kind, contract: contract}
	h.deploys = append(h.deploys, deployJournal{addr: addr})
	return nil
}

// IsContract reports whether a contract is deployed at addr.
func (h *Host) IsContract(addr [20]byte) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.contracts[addr]
	return ok
}

// Balance returns the balance of addr. Contracts call it during a call; other
// callers should use View.
func (h *Host) Balance(addr [20]byte) (*big.Int, error) {
	return h.state.Balance(addr[:])
}

// View runs fn with the state lock held so reads observe a committed state.
func (h *Host) View(fn func() error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return fn()
}

// Bootstrap runs fn against the state outside of any call and commits its
// writes as one batch. It is used for genesis allocations and contract
// initialisation at start-up.
func (h *Host) Bootstrap(fn func(st *state.Manager) error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := fn(h.state); err != nil {
		h.state.Discard()
		return err
	}
	return h.state.Commit()
}

// Fund credits amount to addr and commits immediately.
func (h *Host) Fund(addr [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return nil
	}
	return h.Bootstrap(func(st *state.Manager) error {
		return st.AddBalance(addr[:], amount)
	})
}

// Apply executes an external call from the authenticated caller. On success
// every state change is committed in one batch and the buffered events are
// forwarded; on failure nothing is kept.
func (h *Host) Apply(ctx context.Context, from, to [20]byte, value *big.Int, payload []byte) (*Receipt, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	started := time.Now()
	method := methodOf(payload)
	kind := h.kindOf(to)
	ctx, span := h.tracer.Start(ctx, "host.Apply", trace.WithAttributes(
		attribute.String("ledger.from", crypto.HexAddress(from)),
		attribute.String("ledger.to", crypto.HexAddress(to)),
		attribute.String("ledger.contract", kind),
		attribute.String("ledger.method", method),
	))
	defer span.End()

	h.inCall = true
	h.callTime = h.nowFn()
	h.pending = nil
	h.deploys = nil
	defer func() {
		h.inCall = false
		h.pending = nil
		h.deploys = nil
		h.depth = 0
	}()

	result, err := h.Call(ctx, from, to, value, payload)
	if err == nil {
		err = h.state.Commit()
	}
	if err != nil {
		h.state.Discard()
		h.revertDeploys(0)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observability.Host().ObserveCall(kind, method, err, time.Since(started))
		h.logger.Debug("call aborted",
			slog.String("from", crypto.HexAddress(from)),
			slog.String("to", crypto.HexAddress(to)),
			slog.String("method", method),
			slog.Any("error", err))
		return nil, err
	}
	committed := h.pending
	h.forward(committed)
	span.SetAttributes(attribute.Int("ledger.events", len(committed)))
	observability.Host().ObserveCall(kind, method, nil, time.Since(started))
	return &Receipt{Result: result, Events: committed}, nil
}

// Call moves value from one address to another and, when a contract is
// deployed at the destination, invokes it. A failed call reverts its own
// state changes, deployments and events and returns the error to the caller.
func (h *Host) Call(ctx context.Context, from, to [20]byte, value *big.Int, payload []byte) ([]byte, error) {
	if !h.inCall {
		return nil, ErrNotInCall
	}
	if value == nil {
		value = big.NewInt(0)
	}
	if value.Sign() < 0 {
		return nil, ErrNegativeValue
	}
	if h.depth >= MaxCallDepth {
		return nil, ErrCallDepth
	}
	h.depth++
	defer func() { h.depth-- }()

	snap := h.state.Snapshot()
	eventMark := len(h.pending)
	deployMark := len(h.deploys)
	revert := func() {
		h.state.RevertToSnapshot(snap)
		h.pending = h.pending[:eventMark]
		h.revertDeploys(deployMark)
	}

	if err := h.transfer(from, to, value); err != nil {
		revert()
		return nil, err
	}
	dep, ok := h.contracts[to]
	if !ok {
		return nil, nil
	}
	result, err := dep.contract.Invoke(ctx, common.Message{
		Caller:  from,
		Self:    to,
		Value:   new(big.Int).Set(value),
		Payload: payload,
	})
	if err != nil {
		revert()
		if h.depth > 1 {
			observability.Host().RecordRevert(dep.kind)
		}
		return nil, err
	}
	return result, nil
}

func (h *Host) transfer(from, to [20]byte, value *big.Int) error {
	if value.Sign() == 0 || from == to {
		return nil
	}
	fromAcc, err := h.state.GetAccount(from[:])
	if err != nil {
		return err
	}
	if fromAcc.Balance.Cmp(value) < 0 {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientBalance, crypto.HexAddress(from), fromAcc.Balance, value)
	}
	fromAcc.Balance = new(big.Int).Sub(fromAcc.Balance, value)
	if err := h.state.PutAccount(from[:], fromAcc); err != nil {
		return err
	}
	return h.state.AddBalance(to[:], value)
}

func (h *Host) revertDeploys(mark int) {
	for i := len(h.deploys) - 1; i >= mark; i-- {
		delete(h.contracts, h.deploys[i].addr)
	}
	if mark < len(h.deploys) {
		h.deploys = h.deploys[:mark]
	}
}

func (h *Host) kindOf(addr [20]byte) string {
	if dep, ok := h.contracts[addr]; ok {
		return dep.kind
	}
	return "account"
}

func methodOf(payload []byte) string {
	call, ok, err := types.DecodeCall(payload)
	if err != nil {
		return "invalid"
	}
	if !ok {
		return ""
	}
	return call.Method
}

var _ common.Ledger = (*Host)(nil)
