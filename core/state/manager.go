package state

import (
	"bytes"
	"errors"
	"fmt"
	"reflect"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"isolend/storage"
)

// Manager provides RLP-encoded key-value access to ledger state and runs each
// state transition as an all-or-nothing unit.
//
// Inside Atomic every write is buffered in an overlay and flushed to the
// database in a single batch only when the transition succeeds. View grants
// shared read access between transitions. KV calls made outside Atomic or View
// go straight to the database and are intended for single-threaded bootstrap
// and tests.
type Manager struct {
	mu sync.RWMutex
	db storage.Database
	tx *overlay
}

// ErrNilDatabase is returned when the manager has no backing store.
var ErrNilDatabase = errors.New("state: database not configured")

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

type overlay struct {
	values map[string][]byte
	order  []string
}

func newOverlay() *overlay {
	return &overlay{values: make(map[string][]byte)}
}

// A nil value marks a deletion.
func (o *overlay) set(key []byte, value []byte) {
	k := string(key)
	if _, seen := o.values[k]; !seen {
		o.order = append(o.order, k)
	}
	o.values[k] = value
}

func (o *overlay) get(key []byte) ([]byte, bool) {
	value, ok := o.values[string(key)]
	return value, ok
}

func (o *overlay) flush(db storage.Database) error {
	if len(o.order) == 0 {
		return nil
	}
	batch := db.NewBatch()
	for _, k := range o.order {
		value := o.values[k]
		if value == nil {
			batch.Delete([]byte(k))
			continue
		}
		batch.Put([]byte(k), value)
	}
	return batch.Write()
}

// Atomic executes fn as a single state transition. Writes become visible to
// other callers only if fn returns nil and the batch commits; otherwise every
// buffered write is discarded. Atomic must not be nested.
func (m *Manager) Atomic(fn func() error) error {
	if m == nil || m.db == nil {
		return ErrNilDatabase
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.tx = newOverlay()
	defer func() { m.tx = nil }()

	if err := fn(); err != nil {
		return err
	}
	if err := m.tx.flush(m.db); err != nil {
		return fmt.Errorf("state: commit: %w", err)
	}
	return nil
}

// View executes fn with shared read access. fn must not write.
func (m *Manager) View(fn func() error) error {
	if m == nil || m.db == nil {
		return ErrNilDatabase
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn()
}

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

func (m *Manager) read(hashed []byte) ([]byte, error) {
	if m.tx != nil {
		if value, ok := m.tx.get(hashed); ok {
			return value, nil
		}
	}
	data, err := m.db.Get(hashed)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return data, err
}

func (m *Manager) write(hashed []byte, value []byte) error {
	if m.tx != nil {
		m.tx.set(hashed, value)
		return nil
	}
	if value == nil {
		return m.db.Delete(hashed)
	}
	return m.db.Put(hashed, value)
}

// KVPut stores the provided value under the supplied key using RLP encoding.
// The key is automatically hashed with keccak256.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if m == nil || m.db == nil {
		return ErrNilDatabase
	}
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return m.write(kvKey(key), encoded)
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed in state.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if m == nil || m.db == nil {
		return false, ErrNilDatabase
	}
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.read(kvKey(key))
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

// KVDelete removes the value stored under the supplied key.
func (m *Manager) KVDelete(key []byte) error {
	if m == nil || m.db == nil {
		return ErrNilDatabase
	}
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	return m.write(kvKey(key), nil)
}

// KVAppend appends the provided value to the RLP-encoded byte slice list stored
// under the supplied key. Duplicate values are ignored to keep the index
// deterministic.
func (m *Manager) KVAppend(key []byte, value []byte) error {
	if m == nil || m.db == nil {
		return ErrNilDatabase
	}
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	hashed := kvKey(key)
	data, err := m.read(hashed)
	if err != nil {
		return err
	}
	var list [][]byte
	if len(data) > 0 {
		if err := rlp.DecodeBytes(data, &list); err != nil {
			return err
		}
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
	return m.write(hashed, encoded)
}

// KVGetList retrieves an RLP-encoded slice stored under the provided key and
// decodes it into the supplied destination slice pointer. When no value is
// present the destination is initialised with an empty slice to avoid nil
// surprises for callers.
func (m *Manager) KVGetList(key []byte, out interface{}) error {
	if m == nil || m.db == nil {
		return ErrNilDatabase
	}
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.read(kvKey(key))
	if err != nil {
		return err
	}
	if len(data) == 0 {
		val := reflect.ValueOf(out)
		if val.Kind() != reflect.Ptr || val.IsNil() {
			return fmt.Errorf("kv: destination must be a non-nil pointer")
		}
		elem := val.Elem()
		if elem.Kind() != reflect.Slice {
			return fmt.Errorf("kv: destination must point to a slice")
		}
		elem.Set(reflect.MakeSlice(elem.Type(), 0, 0))
		return nil
	}
	return rlp.DecodeBytes(data, out)
}
