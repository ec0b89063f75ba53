package state

import (
	"encoding/binary"
	"math/big"

	"storechain/native/commission"
	"storechain/native/store"
)

var (
	storeConfigPrefix       = []byte("store/config/")
	storeProductPrefix      = []byte("store/product/")
	storeSubscriptionPrefix = []byte("store/subscription/")
	commissionAccountPrefix = []byte("store/buyer/")
)

func uint64Bytes(v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return buf[:]
}

func scopedKey(prefix []byte, scope [20]byte, id []byte) []byte {
	key := make([]byte, 0, len(prefix)+len(scope)+len(id))
	key = append(key, prefix...)
	key = append(key, scope[:]...)
	return append(key, id...)
}

type storedProduct struct {
	ID         uint64
	Price      *big.Int
	Type       uint8
	Duration   uint64
	ContentRef string
	Active     bool
	CreatedAt  uint64
}

type storedSubscription struct {
	ID        [32]byte
	Buyer     [20]byte
	ProductID uint64
	Start     uint64
	End       uint64
}

// StoreConfigGet loads the configuration of a store.
func (m *Manager) StoreConfigGet(addr [20]byte) (*store.Config, bool, error) {
	cfg := new(store.Config)
	ok, err := m.KVGet(scopedKey(storeConfigPrefix, addr, nil), cfg)
	if err != nil || !ok {
		return nil, false, err
	}
	return cfg, true, nil
}

// StoreConfigPut persists the configuration of a store.
func (m *Manager) StoreConfigPut(addr [20]byte, cfg *store.Config) error {
	return m.KVPut(scopedKey(storeConfigPrefix, addr, nil), cfg)
}

// StoreProductGet loads a catalog entry.
func (m *Manager) StoreProductGet(addr [20]byte, id uint64) (*store.Product, bool, error) {
	var stored storedProduct
	ok, err := m.KVGet(scopedKey(storeProductPrefix, addr, uint64Bytes(id)), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return &store.Product{
		ID:         stored.ID,
		Price:      stored.Price,
		Type:       store.ProductType(stored.Type),
		Duration:   stored.Duration,
		ContentRef: stored.ContentRef,
		Active:     stored.Active,
		CreatedAt:  int64(stored.CreatedAt),
	}, true, nil
}

// StoreProductPut persists a catalog entry.
func (m *Manager) StoreProductPut(addr [20]byte, product *store.Product) error {
	stored := storedProduct{
		ID:         product.ID,
		Price:      product.Price,
		Type:       uint8(product.Type),
		Duration:   product.Duration,
		ContentRef: product.ContentRef,
		Active:     product.Active,
		CreatedAt:  uint64(product.CreatedAt),
	}
	return m.KVPut(scopedKey(storeProductPrefix, addr, uint64Bytes(product.ID)), &stored)
}

// StoreSubscriptionGet loads a subscription by id.
func (m *Manager) StoreSubscriptionGet(addr [20]byte, id [32]byte) (*store.Subscription, bool, error) {
	var stored storedSubscription
	ok, err := m.KVGet(scopedKey(storeSubscriptionPrefix, addr, id[:]), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return &store.Subscription{
		ID:        stored.ID,
		Buyer:     stored.Buyer,
		ProductID: stored.ProductID,
		Start:     int64(stored.Start),
		End:       int64(stored.End),
	}, true, nil
}

// StoreSubscriptionPut persists a subscription, replacing any entry with the
// same id.
func (m *Manager) StoreSubscriptionPut(addr [20]byte, sub *store.Subscription) error {
	stored := storedSubscription{
		ID:        sub.ID,
		Buyer:     sub.Buyer,
		ProductID: sub.ProductID,
		Start:     uint64(sub.Start),
		End:       uint64(sub.End),
	}
	return m.KVPut(scopedKey(storeSubscriptionPrefix, addr, sub.ID[:]), &stored)
}

// CommissionAccountGet loads a buyer's ledger entry within a store.
func (m *Manager) CommissionAccountGet(addr [20]byte, buyer [20]byte) (*commission.Account, bool, error) {
	account := new(commission.Account)
	ok, err := m.KVGet(scopedKey(commissionAccountPrefix, addr, buyer[:]), account)
	if err != nil || !ok {
		return nil, false, err
	}
	return account.Normalize(), true, nil
}

// CommissionAccountPut persists a buyer's ledger entry within a store.
func (m *Manager) CommissionAccountPut(addr [20]byte, account *commission.Account) error {
	account.Normalize()
	return m.KVPut(scopedKey(commissionAccountPrefix, addr, account.Buyer[:]), account)
}
