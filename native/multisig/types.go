package multisig

import (
	"errors"
	"fmt"
	"math/big"
)

var (
	ErrNoOwners         = errors.New("multisig: owners required")
	ErrZeroOwner        = errors.New("multisig: zero owner")
	ErrDuplicateOwner   = errors.New("multisig: duplicate owner")
	ErrInvalidThreshold = errors.New("multisig: invalid threshold")
)

// TxStatus is the derived lifecycle state of a pending transaction.
type TxStatus uint8

const (
	TxStatusProposed TxStatus = iota
	TxStatusPartiallyConfirmed
	TxStatusExecuted
)

// String renders the status for events and RPC responses.
func (s TxStatus) String() string {
	switch s {
	case TxStatusProposed:
		return "proposed"
	case TxStatusPartiallyConfirmed:
		return "partially_confirmed"
	case TxStatusExecuted:
		return "executed"
	default:
		return "unknown"
	}
}

// OwnerSet is the ordered owner list together with the confirmation threshold.
type OwnerSet struct {
	Owners    [][20]byte `json:"owners"`
	Threshold uint64     `json:"threshold"`
}

// NewOwnerSet validates and returns an owner set. Owners must be non-empty,
// unique and non-zero and the threshold must lie in [1, len(owners)].
func NewOwnerSet(owners [][20]byte, threshold uint64) (*OwnerSet, error) {
	if len(owners) == 0 {
		return nil, ErrNoOwners
	}
	seen := make(map[[20]byte]struct{}, len(owners))
	for _, owner := range owners {
		if owner == ([20]byte{}) {
			return nil, ErrZeroOwner
		}
		if _, ok := seen[owner]; ok {
			return nil, fmt.Errorf("%w: %x", ErrDuplicateOwner, owner)
		}
		seen[owner] = struct{}{}
	}
	if threshold == 0 || threshold > uint64(len(owners)) {
		return nil, fmt.Errorf("%w: %d of %d", ErrInvalidThreshold, threshold, len(owners))
	}
	return &OwnerSet{Owners: append([][20]byte(nil), owners...), Threshold: threshold}, nil
}

// Contains reports whether addr is an owner.
func (s *OwnerSet) Contains(addr [20]byte) bool {
	if s == nil {
		return false
	}
	for _, owner := range s.Owners {
		if owner == addr {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the owner set.
func (s *OwnerSet) Clone() *OwnerSet {
	if s == nil {
		return nil
	}
	return &OwnerSet{Owners: append([][20]byte(nil), s.Owners...), Threshold: s.Threshold}
}

// Transaction is a proposal awaiting confirmations. Confirmations keeps every
// owner that confirmed, in order, including owners removed afterwards.
type Transaction struct {
	ID            uint64     `json:"id"`
	Target        [20]byte   `json:"target"`
	Value         *big.Int   `json:"value"`
	Payload       []byte     `json:"payload"`
	Description   string     `json:"description"`
	Executed      bool       `json:"executed"`
	Confirmations [][20]byte `json:"confirmations"`
	Submitter     [20]byte   `json:"submitter"`
	SubmittedAt   int64      `json:"submittedAt"`
	ExecutedAt    int64      `json:"executedAt"`
}

// ConfirmationCount returns the size of the confirmation set.
func (t *Transaction) ConfirmationCount() uint64 {
	if t == nil {
		return 0
	}
	return uint64(len(t.Confirmations))
}

// ConfirmedBy reports whether owner has confirmed the transaction.
func (t *Transaction) ConfirmedBy(owner [20]byte) bool {
	if t == nil {
		return false
	}
	for _, c := range t.Confirmations {
		if c == owner {
			return true
		}
	}
	return false
}

// Status derives the lifecycle state.
func (t *Transaction) Status() TxStatus {
	switch {
	case t == nil:
		return TxStatusProposed
	case t.Executed:
		return TxStatusExecuted
	case len(t.Confirmations) == 0:
		return TxStatusProposed
	default:
		return TxStatusPartiallyConfirmed
	}
}

// Clone returns a deep copy of the transaction.
func (t *Transaction) Clone() *Transaction {
	if t == nil {
		return nil
	}
	clone := *t
	if t.Value != nil {
		clone.Value = new(big.Int).Set(t.Value)
	} else {
		clone.Value = big.NewInt(0)
	}
	clone.Payload = append([]byte(nil), t.Payload...)
	clone.Confirmations = append([][20]byte(nil), t.Confirmations...)
	return &clone
}
