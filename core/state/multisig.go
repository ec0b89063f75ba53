package state

import (
	"math/big"

	"storechain/native/multisig"
)

var (
	multisigOwnersPrefix = []byte("multisig/owners/")
	multisigTxPrefix     = []byte("multisig/tx/")
	multisigCountPrefix  = []byte("multisig/count/")
)

type storedTransaction struct {
	ID            uint64
	Target        [20]byte
	Value         *big.Int
	Payload       []byte
	Description   string
	Executed      bool
	Confirmations [][20]byte
	Submitter     [20]byte
	SubmittedAt   uint64
	ExecutedAt    uint64
}

// MultisigOwnersGet loads the owner set of a governance contract.
func (m *Manager) MultisigOwnersGet(self [20]byte) (*multisig.OwnerSet, bool, error) {
	set := new(multisig.OwnerSet)
	ok, err := m.KVGet(scopedKey(multisigOwnersPrefix, self, nil), set)
	if err != nil || !ok {
		return nil, false, err
	}
	return set, true, nil
}

// MultisigOwnersPut persists the owner set of a governance contract.
func (m *Manager) MultisigOwnersPut(self [20]byte, set *multisig.OwnerSet) error {
	return m.KVPut(scopedKey(multisigOwnersPrefix, self, nil), set)
}

// MultisigTxGet loads a governance proposal.
func (m *Manager) MultisigTxGet(self [20]byte, id uint64) (*multisig.Transaction, bool, error) {
	var stored storedTransaction
	ok, err := m.KVGet(scopedKey(multisigTxPrefix, self, uint64Bytes(id)), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	value := stored.Value
	if value == nil {
		value = big.NewInt(0)
	}
	return &multisig.Transaction{
		ID:            stored.ID,
		Target:        stored.Target,
		Value:         value,
		Payload:       stored.Payload,
		Description:   stored.Description,
		Executed:      stored.Executed,
		Confirmations: stored.Confirmations,
		Submitter:     stored.Submitter,
		SubmittedAt:   int64(stored.SubmittedAt),
		ExecutedAt:    int64(stored.ExecutedAt),
	}, true, nil
}

// MultisigTxPut persists a governance proposal.
func (m *Manager) MultisigTxPut(self [20]byte, tx *multisig.Transaction) error {
	stored := storedTransaction{
		ID:            tx.ID,
		Target:        tx.Target,
		Value:         tx.Value,
		Payload:       tx.Payload,
		Description:   tx.Description,
		Executed:      tx.Executed,
		Confirmations: tx.Confirmations,
		Submitter:     tx.Submitter,
		SubmittedAt:   uint64(tx.SubmittedAt),
		ExecutedAt:    uint64(tx.ExecutedAt),
	}
	return m.KVPut(scopedKey(multisigTxPrefix, self, uint64Bytes(tx.ID)), &stored)
}

// MultisigTxCount returns the number of proposals submitted to self.
func (m *Manager) MultisigTxCount(self [20]byte) (uint64, error) {
	var count uint64
	if _, err := m.KVGet(scopedKey(multisigCountPrefix, self, nil), &count); err != nil {
		return 0, err
	}
	return count, nil
}

// MultisigTxCountPut persists the proposal counter.
func (m *Manager) MultisigTxCountPut(self [20]byte, count uint64) error {
	return m.KVPut(scopedKey(multisigCountPrefix, self, nil), count)
}
