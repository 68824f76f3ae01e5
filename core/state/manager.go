package state

import (
	"bytes"
	"errors"
	"fmt"
	"reflect"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"fluxrisk/storage"
)

// Manager provides RLP-encoded key-value access to the engines' state on top
// of a storage backend. Keys are hashed before they reach the database.
type Manager struct {
	db storage.Database
	// mu orders multi-key updates against single writes.
	mu sync.RWMutex
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

type reader interface {
	Get(key []byte) ([]byte, error)
}

func kvGet(r reader, key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, err := r.Get(kvKey(key))
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// KVPut stores the RLP encoding of value under key.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.db.Put(kvKey(key), encoded)
}

// KVDelete removes the value stored under key.
func (m *Manager) KVDelete(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.db.Delete(kvKey(key))
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed in state.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return kvGet(m.db, key, out)
}

// KVAppend appends the provided value to the RLP-encoded byte slice list stored
// under the supplied key. Duplicate values are ignored to keep the index
// deterministic.
func (m *Manager) KVAppend(key []byte, value []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var list [][]byte
	if _, err := kvGet(m.db, key, &list); err != nil {
		return err
	}
	for _, existing := range list {
		if bytes.Equal(existing, value) {
			return nil
		}
	}
	list = append(list, append([]byte(nil), value...))
	encoded, err := rlp.EncodeToBytes(list)
	if err != nil {
		return err
	}
	return m.db.Put(kvKey(key), encoded)
}

// KVGetList retrieves an RLP-encoded slice stored under the provided key and
// decodes it into the supplied destination slice pointer. When no value is
// present the destination is initialised with an empty slice to avoid nil
// surprises for callers.
func (m *Manager) KVGetList(key []byte, out interface{}) error {
	val := reflect.ValueOf(out)
	if val.Kind() != reflect.Ptr || val.IsNil() {
		return fmt.Errorf("kv: destination must be a non-nil pointer")
	}
	elem := val.Elem()
	if elem.Kind() != reflect.Slice {
		return fmt.Errorf("kv: destination must point to a slice")
	}
	ok, err := m.KVGet(key, out)
	if err != nil {
		return err
	}
	if !ok {
		elem.Set(reflect.MakeSlice(elem.Type(), 0, 0))
	}
	return nil
}

// Tx stages writes so that Update can commit them atomically. Reads observe
// the staged values.
type Tx struct {
	db      storage.Database
	batch   storage.Batch
	pending map[string][]byte
}

func (tx *Tx) Get(key []byte) ([]byte, error) {
	if value, ok := tx.pending[string(key)]; ok {
		return value, nil
	}
	return tx.db.Get(key)
}

// KVGet mirrors Manager.KVGet within the transaction.
func (tx *Tx) KVGet(key []byte, out interface{}) (bool, error) {
	return kvGet(tx, key, out)
}

// KVPut stages the RLP encoding of value under key.
func (tx *Tx) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	hashed := kvKey(key)
	tx.pending[string(hashed)] = encoded
	tx.batch.Put(hashed, encoded)
	return nil
}

// Update runs fn against a staged transaction and writes its changes in one
// batch. Nothing is written when fn fails.
func (m *Manager) Update(fn func(tx *Tx) error) error {
	if m == nil || m.db == nil {
		return fmt.Errorf("state: manager not initialised")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := &Tx{db: m.db, batch: m.db.NewBatch(), pending: make(map[string][]byte)}
	if err := fn(tx); err != nil {
		return err
	}
	if tx.batch.Len() == 0 {
		return nil
	}
	return tx.batch.Write()
}
