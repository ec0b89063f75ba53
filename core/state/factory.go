package state

import (
	"math/big"

	"storechain/native/factory"
)

var (
	factoryConfigPrefix = []byte("factory/config/")
	factoryStorePrefix  = []byte("factory/store/")
)

type storedStoreRecord struct {
	Address   [20]byte
	Creator   [20]byte
	Seq       uint64
	CreatedAt uint64
	Collected *big.Int
}

// FactoryConfigGet loads the platform configuration.
func (m *Manager) FactoryConfigGet(self [20]byte) (*factory.Config, bool, error) {
	cfg := new(factory.Config)
	ok, err := m.KVGet(scopedKey(factoryConfigPrefix, self, nil), cfg)
	if err != nil || !ok {
		return nil, false, err
	}
	return cfg, true, nil
}

// FactoryConfigPut persists the platform configuration.
func (m *Manager) FactoryConfigPut(self [20]byte, cfg *factory.Config) error {
	return m.KVPut(scopedKey(factoryConfigPrefix, self, nil), cfg)
}

// FactoryStoreGet loads the record of a created store.
func (m *Manager) FactoryStoreGet(self [20]byte, addr [20]byte) (*factory.StoreRecord, bool, error) {
	var stored storedStoreRecord
	ok, err := m.KVGet(scopedKey(factoryStorePrefix, self, addr[:]), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return &factory.StoreRecord{
		Address:   stored.Address,
		Creator:   stored.Creator,
		Seq:       stored.Seq,
		CreatedAt: int64(stored.CreatedAt),
		Collected: stored.Collected,
	}, true, nil
}

// FactoryStorePut persists the record of a created store.
func (m *Manager) FactoryStorePut(self [20]byte, record *factory.StoreRecord) error {
	stored := storedStoreRecord{
		Address:   record.Address,
		Creator:   record.Creator,
		Seq:       record.Seq,
		CreatedAt: uint64(record.CreatedAt),
		Collected: record.Collected,
	}
	return m.KVPut(scopedKey(factoryStorePrefix, self, record.Address[:]), &stored)
}
