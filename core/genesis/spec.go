package genesis

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"storechain/core/state"
)

var appliedKey = []byte("genesis/applied")

// ErrAlreadyApplied is returned when the allocations were committed by an
// earlier start.
var ErrAlreadyApplied = errors.New("genesis: allocations already applied")

// Allocation credits a starting balance to an account.
type Allocation struct {
	Account [20]byte
	Amount  *big.Int
}

// Spec is the set of balance allocations applied once when a ledger is first
// created.
type Spec struct {
	Alloc map[string]string

	resolved []Allocation
}

// NewSpec validates the allocation map (account -> decimal amount).
func NewSpec(alloc map[string]string) (*Spec, error) {
	spec := &Spec{Alloc: alloc}
	if err := spec.validate(); err != nil {
		return nil, err
	}
	return spec, nil
}

// Allocations returns the validated allocations sorted by account.
func (s *Spec) Allocations() []Allocation {
	out := make([]Allocation, len(s.resolved))
	for i, alloc := range s.resolved {
		out[i] = Allocation{Account: alloc.Account, Amount: new(big.Int).Set(alloc.Amount)}
	}
	return out
}

func (s *Spec) validate() error {
	s.resolved = s.resolved[:0]
	seen := make(map[[20]byte]string, len(s.Alloc))
	accounts := make([]string, 0, len(s.Alloc))
	for account := range s.Alloc {
		accounts = append(accounts, account)
	}
	sort.Strings(accounts)
	for _, account := range accounts {
		addr, err := ParseAccount(account)
		if err != nil {
			return fmt.Errorf("alloc[%q]: %w", account, err)
		}
		if prev, dup := seen[addr]; dup {
			return fmt.Errorf("alloc[%q]: duplicates %q", account, prev)
		}
		seen[addr] = account
		amount, err := parseAmountString(s.Alloc[account])
		if err != nil {
			return fmt.Errorf("alloc[%q]: %w", account, err)
		}
		if amount.Sign() == 0 {
			continue
		}
		s.resolved = append(s.resolved, Allocation{Account: addr, Amount: amount})
	}
	sort.Slice(s.resolved, func(i, j int) bool {
		return bytes.Compare(s.resolved[i].Account[:], s.resolved[j].Account[:]) < 0
	})
	return nil
}

// Apply credits every allocation and records that genesis ran. The caller
// commits the manager. A second application returns ErrAlreadyApplied
// without touching balances.
func (s *Spec) Apply(manager *state.Manager) error {
	if manager == nil {
		return fmt.Errorf("genesis: state manager required")
	}
	var applied bool
	ok, err := manager.KVGet(appliedKey, &applied)
	if err != nil {
		return err
	}
	if ok && applied {
		return ErrAlreadyApplied
	}
	for _, alloc := range s.resolved {
		if err := manager.AddBalance(alloc.Account[:], alloc.Amount); err != nil {
			return fmt.Errorf("genesis: credit %x: %w", alloc.Account, err)
		}
	}
	return manager.KVPut(appliedKey, true)
}

func parseAmountString(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("amount must be provided")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("amount must not be negative")
	}
	return amount, nil
}
