package store

import (
	"context"
	"errors"
	"math/big"

	"storechain/native/commission"
	"storechain/native/common"
	"storechain/native/multisig"
)

type mockState struct {
	configs  map[[20]byte]*Config
	products map[[20]byte]map[uint64]*Product
	subs     map[[20]byte]map[[32]byte]*Subscription
	accounts map[[20]byte]map[[20]byte]*commission.Account
	owners   map[[20]byte]*multisig.OwnerSet
	txs      map[[20]byte]map[uint64]*multisig.Transaction
	counts   map[[20]byte]uint64
}

func newMockState() *mockState {
	return &mockState{
		configs:  make(map[[20]byte]*Config),
		products: make(map[[20]byte]map[uint64]*Product),
		subs:     make(map[[20]byte]map[[32]byte]*Subscription),
		accounts: make(map[[20]byte]map[[20]byte]*commission.Account),
		owners:   make(map[[20]byte]*multisig.OwnerSet),
		txs:      make(map[[20]byte]map[uint64]*multisig.Transaction),
		counts:   make(map[[20]byte]uint64),
	}
}

func (m *mockState) StoreConfigGet(store [20]byte) (*Config, bool, error) {
	cfg, ok := m.configs[store]
	if !ok {
		return nil, false, nil
	}
	return cfg.Clone(), true, nil
}

func (m *mockState) StoreConfigPut(store [20]byte, cfg *Config) error {
	m.configs[store] = cfg.Clone()
	return nil
}

func (m *mockState) StoreProductGet(store [20]byte, id uint64) (*Product, bool, error) {
	product, ok := m.products[store][id]
	if !ok {
		return nil, false, nil
	}
	return product.Clone(), true, nil
}

func (m *mockState) StoreProductPut(store [20]byte, product *Product) error {
	if m.products[store] == nil {
		m.products[store] = make(map[uint64]*Product)
	}
	m.products[store][product.ID] = product.Clone()
	return nil
}

func (m *mockState) StoreSubscriptionGet(store [20]byte, id [32]byte) (*Subscription, bool, error) {
	sub, ok := m.subs[store][id]
	if !ok {
		return nil, false, nil
	}
	return sub.Clone(), true, nil
}

func (m *mockState) StoreSubscriptionPut(store [20]byte, sub *Subscription) error {
	if m.subs[store] == nil {
		m.subs[store] = make(map[[32]byte]*Subscription)
	}
	m.subs[store][sub.ID] = sub.Clone()
	return nil
}

func (m *mockState) CommissionAccountGet(store [20]byte, buyer [20]byte) (*commission.Account, bool, error) {
	account, ok := m.accounts[store][buyer]
	if !ok {
		return nil, false, nil
	}
	return account.Clone(), true, nil
}

func (m *mockState) CommissionAccountPut(store [20]byte, account *commission.Account) error {
	if m.accounts[store] == nil {
		m.accounts[store] = make(map[[20]byte]*commission.Account)
	}
	m.accounts[store][account.Buyer] = account.Clone()
	return nil
}

func (m *mockState) MultisigOwnersGet(self [20]byte) (*multisig.OwnerSet, bool, error) {
	set, ok := m.owners[self]
	if !ok {
		return nil, false, nil
	}
	return set.Clone(), true, nil
}

func (m *mockState) MultisigOwnersPut(self [20]byte, set *multisig.OwnerSet) error {
	m.owners[self] = set.Clone()
	return nil
}

func (m *mockState) MultisigTxGet(self [20]byte, id uint64) (*multisig.Transaction, bool, error) {
	tx, ok := m.txs[self][id]
	if !ok {
		return nil, false, nil
	}
	return tx.Clone(), true, nil
}

func (m *mockState) MultisigTxPut(self [20]byte, tx *multisig.Transaction) error {
	if m.txs[self] == nil {
		m.txs[self] = make(map[uint64]*multisig.Transaction)
	}
	m.txs[self][tx.ID] = tx.Clone()
	return nil
}

func (m *mockState) MultisigTxCount(self [20]byte) (uint64, error) { return m.counts[self], nil }

func (m *mockState) MultisigTxCountPut(self [20]byte, count uint64) error {
	m.counts[self] = count
	return nil
}

// mockLedger keeps balances and dispatches calls to registered contracts.
// It does not journal: tests that expect an abort only assert on the error.
type mockLedger struct {
	balances  map[[20]byte]*big.Int
	reject    map[[20]byte]bool
	contracts map[[20]byte]common.Contract
	payloads  map[[20]byte][][]byte
}

func newMockLedger() *mockLedger {
	return &mockLedger{
		balances:  make(map[[20]byte]*big.Int),
		reject:    make(map[[20]byte]bool),
		contracts: make(map[[20]byte]common.Contract),
		payloads:  make(map[[20]byte][][]byte),
	}
}

func (l *mockLedger) Balance(addr [20]byte) (*big.Int, error) {
	if bal, ok := l.balances[addr]; ok {
		return new(big.Int).Set(bal), nil
	}
	return big.NewInt(0), nil
}

func (l *mockLedger) fund(addr [20]byte, amount int64) {
	bal, _ := l.Balance(addr)
	l.balances[addr] = bal.Add(bal, big.NewInt(amount))
}

func (l *mockLedger) Call(ctx context.Context, from, to [20]byte, value *big.Int, payload []byte) ([]byte, error) {
	if l.reject[to] {
		return nil, errors.New("recipient rejected call")
	}
	if value == nil {
		value = big.NewInt(0)
	}
	fromBal, _ := l.Balance(from)
	if fromBal.Cmp(value) < 0 {
		return nil, errors.New("insufficient balance")
	}
	toBal, _ := l.Balance(to)
	l.balances[from] = fromBal.Sub(fromBal, value)
	l.balances[to] = toBal.Add(toBal, value)
	l.payloads[to] = append(l.payloads[to], payload)
	if contract, ok := l.contracts[to]; ok {
		return contract.Invoke(ctx, common.Message{Caller: from, Self: to, Value: value, Payload: payload})
	}
	return nil, nil
}

// invoke simulates an external call: value moves to the contract first.
func (l *mockLedger) invoke(ctx context.Context, from, to [20]byte, value int64, payload []byte) ([]byte, error) {
	l.fund(from, value)
	return l.Call(ctx, from, to, big.NewInt(value), payload)
}

type mockPlatform struct {
	paused  bool
	rate    uint64
	pauseFn func() (bool, error)
}

func (p *mockPlatform) GlobalPauseActive() (bool, error) {
	if p.pauseFn != nil {
		return p.pauseFn()
	}
	return p.paused, nil
}

func (p *mockPlatform) PlatformRate() (uint64, error) { return p.rate, nil }
