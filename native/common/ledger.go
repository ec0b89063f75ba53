package common

import (
	"context"
	"errors"
	"math/big"
)

// ErrMandatoryTransfer marks a value transfer whose failure aborts the call.
var ErrMandatoryTransfer = errors.New("mandatory transfer failed")

// Ledger is the host surface available to native contracts: value pushes and
// generic calls that revert their own effects on failure.
type Ledger interface {
	Call(ctx context.Context, from, to [20]byte, value *big.Int, payload []byte) ([]byte, error)
	Balance(addr [20]byte) (*big.Int, error)
}

// Message describes a single invocation of a native contract.
type Message struct {
	Caller  [20]byte
	Self    [20]byte
	Value   *big.Int
	Payload []byte
}

// Contract is implemented by native contracts deployed into the host.
type Contract interface {
	Invoke(ctx context.Context, msg Message) ([]byte, error)
}

// Push sends value without a payload. The error is returned to the caller so
// it can decide whether the failure is recoverable.
func Push(ctx context.Context, ledger Ledger, from, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	_, err := ledger.Call(ctx, from, to, amount, nil)
	return err
}

// PushMandatory sends value and wraps any failure with ErrMandatoryTransfer.
func PushMandatory(ctx context.Context, ledger Ledger, from, to [20]byte, amount *big.Int) error {
	if err := Push(ctx, ledger, from, to, amount); err != nil {
		return errors.Join(ErrMandatoryTransfer, err)
	}
	return nil
}

// IsZeroAddress reports whether addr is the zero identity.
func IsZeroAddress(addr [20]byte) bool {
	var zero [20]byte
	return addr == zero
}
