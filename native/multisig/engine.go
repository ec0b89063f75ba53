package multisig

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"storechain/core/events"
	"storechain/core/types"
	"storechain/native/common"
)

var (
	ErrNotOwner          = errors.New("multisig: caller is not an owner")
	ErrNotSelf           = errors.New("multisig: caller is not the governance contract")
	ErrTxNotFound        = errors.New("multisig: transaction not found")
	ErrAlreadyExecuted   = errors.New("multisig: transaction already executed")
	ErrAlreadyConfirmed  = errors.New("multisig: transaction already confirmed by owner")
	ErrInsufficientConfs = errors.New("multisig: confirmations below threshold")
	ErrOwnerExists       = errors.New("multisig: owner already present")
	ErrOwnerNotFound     = errors.New("multisig: owner not found")
	ErrLastOwner         = errors.New("multisig: cannot remove the last owner")
	ErrExecutionFailed   = errors.New("multisig: execution call failed")
	ErrZeroTarget        = errors.New("multisig: target required")
	ErrNegativeValue     = errors.New("multisig: value must not be negative")

	errNilState  = errors.New("multisig engine: state not configured")
	errNilLedger = errors.New("multisig engine: ledger not configured")
	errNotSetup  = errors.New("multisig engine: owner set not initialised")
)

type engineState interface {
	MultisigOwnersGet(self [20]byte) (*OwnerSet, bool, error)
	MultisigOwnersPut(self [20]byte, set *OwnerSet) error
	MultisigTxGet(self [20]byte, id uint64) (*Transaction, bool, error)
	MultisigTxPut(self [20]byte, tx *Transaction) error
	MultisigTxCount(self [20]byte) (uint64, error)
	MultisigTxCountPut(self [20]byte, count uint64) error
}

// Engine implements M-of-N governance for the contract identified by self.
// Owner-set mutations are only accepted when the caller is self, which is the
// case when an approved transaction targets the contract itself.
type Engine struct {
	state   engineState
	ledger  common.Ledger
	emitter events.Emitter
	nowFn   func() time.Time
	self    [20]byte
	lock    common.Lock
}

// NewEngine constructs a governance engine for self.
func NewEngine(self [20]byte) *Engine {
	return &Engine{
		self:    self,
		emitter: events.NoopEmitter{},
		nowFn:   time.Now,
	}
}

// SetState configures the state backend.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetLedger configures the host used for transaction execution.
func (e *Engine) SetLedger(ledger common.Ledger) { e.ledger = ledger }

// SetEmitter configures the event emitter.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the clock used for submission and execution times.
func (e *Engine) SetNowFunc(now func() time.Time) {
	if now == nil {
		e.nowFn = time.Now
		return
	}
	e.nowFn = now
}

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

// Init stores the initial owner set. It is called once when the contract is
// created.
func (e *Engine) Init(set *OwnerSet) error {
	if e.state == nil {
		return errNilState
	}
	if set == nil {
		return ErrNoOwners
	}
	validated, err := NewOwnerSet(set.Owners, set.Threshold)
	if err != nil {
		return err
	}
	return e.state.MultisigOwnersPut(e.self, validated)
}

func (e *Engine) owners() (*OwnerSet, error) {
	if e.state == nil {
		return nil, errNilState
	}
	set, ok, err := e.state.MultisigOwnersGet(e.self)
	if err != nil {
		return nil, err
	}
	if !ok || set == nil {
		return nil, errNotSetup
	}
	return set, nil
}

// RequireOwner returns ErrNotOwner unless caller is a current owner.
func (e *Engine) RequireOwner(caller [20]byte) error {
	set, err := e.owners()
	if err != nil {
		return err
	}
	if !set.Contains(caller) {
		return ErrNotOwner
	}
	return nil
}

func (e *Engine) loadTx(id uint64) (*Transaction, error) {
	tx, ok, err := e.state.MultisigTxGet(e.self, id)
	if err != nil {
		return nil, err
	}
	if !ok || tx == nil {
		return nil, fmt.Errorf("%w: %d", ErrTxNotFound, id)
	}
	return tx, nil
}

// Submit records a new proposal and returns its identifier. Identifiers start
// at 1 and are never reused.
func (e *Engine) Submit(caller, target [20]byte, value *big.Int, payload []byte, description string) (uint64, error) {
	if err := e.RequireOwner(caller); err != nil {
		return 0, err
	}
	if common.IsZeroAddress(target) {
		return 0, ErrZeroTarget
	}
	if value == nil {
		value = big.NewInt(0)
	}
	if value.Sign() < 0 {
		return 0, ErrNegativeValue
	}
	count, err := e.state.MultisigTxCount(e.self)
	if err != nil {
		return 0, err
	}
	id := count + 1
	tx := &Transaction{
		ID:          id,
		Target:      target,
		Value:       new(big.Int).Set(value),
		Payload:     append([]byte(nil), payload...),
		Description: strings.TrimSpace(description),
		Submitter:   caller,
		SubmittedAt: e.now().Unix(),
	}
	if err := e.state.MultisigTxPut(e.self, tx); err != nil {
		return 0, err
	}
	if err := e.state.MultisigTxCountPut(e.self, id); err != nil {
		return 0, err
	}
	e.emit(txSubmittedEvent(e.self, tx))
	return id, nil
}

// Confirm records the caller's approval. When the confirmation count reaches
// the threshold the transaction executes within the same call; an execution
// failure fails the confirmation as well.
func (e *Engine) Confirm(ctx context.Context, caller [20]byte, id uint64) (executed bool, err error) {
	if err := e.lock.Enter(); err != nil {
		return false, err
	}
	defer e.lock.Exit()

	set, err := e.owners()
	if err != nil {
		return false, err
	}
	if !set.Contains(caller) {
		return false, ErrNotOwner
	}
	tx, err := e.loadTx(id)
	if err != nil {
		return false, err
	}
	if tx.Executed {
		return false, ErrAlreadyExecuted
	}
	if tx.ConfirmedBy(caller) {
		return false, ErrAlreadyConfirmed
	}
	tx.Confirmations = append(tx.Confirmations, caller)
	if err := e.state.MultisigTxPut(e.self, tx); err != nil {
		return false, err
	}
	e.emit(txConfirmedEvent(e.self, tx, caller))
	if tx.ConfirmationCount() < set.Threshold {
		return false, nil
	}
	if err := e.execute(ctx, caller, tx); err != nil {
		return false, err
	}
	return true, nil
}

// Execute runs a transaction that already has enough confirmations. Anyone
// may trigger it.
func (e *Engine) Execute(ctx context.Context, caller [20]byte, id uint64) error {
	if err := e.lock.Enter(); err != nil {
		return err
	}
	defer e.lock.Exit()

	set, err := e.owners()
	if err != nil {
		return err
	}
	tx, err := e.loadTx(id)
	if err != nil {
		return err
	}
	if tx.Executed {
		return ErrAlreadyExecuted
	}
	if tx.ConfirmationCount() < set.Threshold {
		return fmt.Errorf("%w: %d < %d", ErrInsufficientConfs, tx.ConfirmationCount(), set.Threshold)
	}
	return e.execute(ctx, caller, tx)
}

// execute marks the transaction executed and performs the call. On failure
// the flag is restored so the transaction can be retried.
func (e *Engine) execute(ctx context.Context, caller [20]byte, tx *Transaction) error {
	if e.ledger == nil {
		return errNilLedger
	}
	tx.Executed = true
	tx.ExecutedAt = e.now().Unix()
	if err := e.state.MultisigTxPut(e.self, tx); err != nil {
		return err
	}
	if _, err := e.ledger.Call(ctx, e.self, tx.Target, tx.Value, tx.Payload); err != nil {
		tx.Executed = false
		tx.ExecutedAt = 0
		if putErr := e.state.MultisigTxPut(e.self, tx); putErr != nil {
			return errors.Join(ErrExecutionFailed, err, putErr)
		}
		return errors.Join(ErrExecutionFailed, err)
	}
	e.emit(txExecutedEvent(e.self, tx, caller))
	return nil
}

func (e *Engine) requireSelf(caller [20]byte) error {
	if caller != e.self {
		return ErrNotSelf
	}
	return nil
}

// AddOwner appends owner to the set. Only self may call it.
func (e *Engine) AddOwner(caller, owner [20]byte) error {
	if err := e.requireSelf(caller); err != nil {
		return err
	}
	if common.IsZeroAddress(owner) {
		return ErrZeroOwner
	}
	set, err := e.owners()
	if err != nil {
		return err
	}
	if set.Contains(owner) {
		return ErrOwnerExists
	}
	set.Owners = append(set.Owners, owner)
	if err := e.state.MultisigOwnersPut(e.self, set); err != nil {
		return err
	}
	e.emit(ownerEvent(EventTypeOwnerAdded, e.self, owner))
	return nil
}

// RemoveOwner drops owner from the set, keeping at least one owner and
// clamping the threshold to the remaining owner count.
func (e *Engine) RemoveOwner(caller, owner [20]byte) error {
	if err := e.requireSelf(caller); err != nil {
		return err
	}
	set, err := e.owners()
	if err != nil {
		return err
	}
	idx := -1
	for i, existing := range set.Owners {
		if existing == owner {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrOwnerNotFound
	}
	if len(set.Owners) == 1 {
		return ErrLastOwner
	}
	set.Owners = append(set.Owners[:idx], set.Owners[idx+1:]...)
	clamped := false
	if set.Threshold > uint64(len(set.Owners)) {
		set.Threshold = uint64(len(set.Owners))
		clamped = true
	}
	if err := e.state.MultisigOwnersPut(e.self, set); err != nil {
		return err
	}
	e.emit(ownerEvent(EventTypeOwnerRemoved, e.self, owner))
	if clamped {
		e.emit(thresholdChangedEvent(e.self, set.Threshold))
	}
	return nil
}

// ChangeThreshold replaces the confirmation threshold. Only self may call it.
func (e *Engine) ChangeThreshold(caller [20]byte, threshold uint64) error {
	if err := e.requireSelf(caller); err != nil {
		return err
	}
	set, err := e.owners()
	if err != nil {
		return err
	}
	if threshold == 0 || threshold > uint64(len(set.Owners)) {
		return fmt.Errorf("%w: %d of %d", ErrInvalidThreshold, threshold, len(set.Owners))
	}
	set.Threshold = threshold
	if err := e.state.MultisigOwnersPut(e.self, set); err != nil {
		return err
	}
	e.emit(thresholdChangedEvent(e.self, threshold))
	return nil
}

// Owners returns a copy of the current owner list.
func (e *Engine) Owners() ([][20]byte, error) {
	set, err := e.owners()
	if err != nil {
		return nil, err
	}
	return append([][20]byte(nil), set.Owners...), nil
}

// Threshold returns the current confirmation threshold.
func (e *Engine) Threshold() (uint64, error) {
	set, err := e.owners()
	if err != nil {
		return 0, err
	}
	return set.Threshold, nil
}

// IsOwner reports whether addr is a current owner.
func (e *Engine) IsOwner(addr [20]byte) (bool, error) {
	set, err := e.owners()
	if err != nil {
		return false, err
	}
	return set.Contains(addr), nil
}

// Transaction returns the proposal with the given id.
func (e *Engine) Transaction(id uint64) (*Transaction, error) {
	if e.state == nil {
		return nil, errNilState
	}
	return e.loadTx(id)
}

// TransactionCount returns the number of proposals submitted so far.
func (e *Engine) TransactionCount() (uint64, error) {
	if e.state == nil {
		return 0, errNilState
	}
	return e.state.MultisigTxCount(e.self)
}

// IsConfirmed reports whether owner confirmed proposal id.
func (e *Engine) IsConfirmed(id uint64, owner [20]byte) (bool, error) {
	tx, err := e.Transaction(id)
	if err != nil {
		return false, err
	}
	return tx.ConfirmedBy(owner), nil
}
