package state

import (
	"errors"
	"fmt"
	"sort"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"storechain/storage"
)

// Manager is a journaled overlay over the persistent key-value store. Writes
// stay in memory until Commit flushes them as a single batch; Snapshot and
// RevertToSnapshot undo nested sub-call effects without touching the
// database.
type Manager struct {
	db      storage.Database
	dirty   map[string]*entry
	journal []journalEntry
}

type entry struct {
	value   []byte
	deleted bool
}

type journalEntry struct {
	key  string
	prev *entry
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db, dirty: make(map[string]*entry)}
}

func kvKey(parts ...[]byte) []byte {
	return ethcrypto.Keccak256(parts...)
}

func (m *Manager) get(key []byte) ([]byte, bool, error) {
	if e, ok := m.dirty[string(key)]; ok {
		if e.deleted {
			return nil, false, nil
		}
		return e.value, true, nil
	}
	value, err := m.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (m *Manager) set(key []byte, e *entry) {
	k := string(key)
	m.journal = append(m.journal, journalEntry{key: k, prev: m.dirty[k]})
	m.dirty[k] = e
}

func (m *Manager) put(key, value []byte) {
	m.set(key, &entry{value: append([]byte(nil), value...)})
}

func (m *Manager) delete(key []byte) {
	m.set(key, &entry{deleted: true})
}

// KVPut RLP-encodes value and stores it under the hashed key.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return fmt.Errorf("state: encode %x: %w", key, err)
	}
	m.put(kvKey(key), encoded)
	return nil
}

// KVGet decodes the value stored under key into out. It reports false when
// the key is absent.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	data, ok, err := m.get(kvKey(key))
	if err != nil || !ok {
		return false, err
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, fmt.Errorf("state: decode %x: %w", key, err)
	}
	return true, nil
}

// KVDelete removes the value stored under key.
func (m *Manager) KVDelete(key []byte) {
	m.delete(kvKey(key))
}

// Snapshot returns an identifier for the current journal position.
func (m *Manager) Snapshot() int {
	return len(m.journal)
}

// RevertToSnapshot undoes every write made after the snapshot was taken.
func (m *Manager) RevertToSnapshot(id int) {
	if id < 0 {
		id = 0
	}
	for i := len(m.journal) - 1; i >= id; i-- {
		je := m.journal[i]
		if je.prev == nil {
			delete(m.dirty, je.key)
		} else {
			m.dirty[je.key] = je.prev
		}
	}
	if id < len(m.journal) {
		m.journal = m.journal[:id]
	}
}

// Dirty reports the number of keys pending commit.
func (m *Manager) Dirty() int {
	return len(m.dirty)
}

// Commit writes all pending changes as one batch and clears the journal.
func (m *Manager) Commit() error {
	if len(m.dirty) == 0 {
		m.journal = m.journal[:0]
		return nil
	}
	keys := make([]string, 0, len(m.dirty))
	for k := range m.dirty {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	batch := m.db.NewBatch()
	for _, k := range keys {
		e := m.dirty[k]
		if e.deleted {
			batch.Delete([]byte(k))
			continue
		}
		batch.Put([]byte(k), e.value)
	}
	if err := m.db.Write(batch); err != nil {
		return fmt.Errorf("state: commit: %w", err)
	}
	m.Discard()
	return nil
}

// Discard drops all pending changes.
func (m *Manager) Discard() {
	m.dirty = make(map[string]*entry)
	m.journal = m.journal[:0]
}
