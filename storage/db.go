package storage

import (
	"bytes"
	"errors"
	"sort"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	ldberrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// ErrNotFound is returned by Get when a key has no value.
var ErrNotFound = errors.New("storage: key not found")

// Iterator walks an ordered range of keys. Callers must Release it when done
// and check Error afterwards.
type Iterator interface {
	Next() bool
	Key() []byte
	Value() []byte
	Release()
	Error() error
}

// Database is a generic interface for an ordered byte-keyed store. This allows
// the engine to use any backend (in-memory or persistent) as long as it offers
// range iteration and atomic batch writes.
type Database interface {
	Get(key []byte) ([]byte, error)
	Has(key []byte) (bool, error)
	Put(key []byte, value []byte) error
	Delete(key []byte) error
	// NewIterator walks every key starting with prefix in ascending byte order,
	// or descending when reverse is set. An empty prefix walks the whole store.
	NewIterator(prefix []byte, reverse bool) Iterator
	// Write applies every operation in the batch atomically.
	Write(batch *Batch) error
	Close()
}

// --- Write batch ---

type batchOp struct {
	key    []byte
	value  []byte
	delete bool
}

// Batch accumulates writes to be applied atomically via Database.Write.
type Batch struct {
	ops []batchOp
}

func NewBatch() *Batch {
	return &Batch{}
}

func (b *Batch) Put(key, value []byte) {
	b.ops = append(b.ops, batchOp{key: append([]byte(nil), key...), value: append([]byte(nil), value...)})
}

func (b *Batch) Delete(key []byte) {
	b.ops = append(b.ops, batchOp{key: append([]byte(nil), key...), delete: true})
}

// Len reports the number of staged operations.
func (b *Batch) Len() int {
	return len(b.ops)
}

// --- In-Memory DB (for testing) ---

type MemDB struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemDB() *MemDB {
	return &MemDB{
		data: make(map[string][]byte),
	}
}

func (db *MemDB) Get(key []byte) ([]byte, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	value, ok := db.data[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), value...), nil
}

func (db *MemDB) Has(key []byte) (bool, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	_, ok := db.data[string(key)]
	return ok, nil
}

func (db *MemDB) Put(key []byte, value []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.data[string(key)] = append([]byte(nil), value...)
	return nil
}

func (db *MemDB) Delete(key []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	delete(db.data, string(key))
	return nil
}

func (db *MemDB) NewIterator(prefix []byte, reverse bool) Iterator {
	db.mu.RLock()
	keys := make([]string, 0, len(db.data))
	for k := range db.data {
		if bytes.HasPrefix([]byte(k), prefix) {
			keys = append(keys, k)
		}
	}
	db.mu.RUnlock()
	sort.Strings(keys)
	if reverse {
		for i, j := 0, len(keys)-1; i < j; i, j = i+1, j-1 {
			keys[i], keys[j] = keys[j], keys[i]
		}
	}
	return &memIterator{db: db, keys: keys, pos: -1}
}

func (db *MemDB) Write(batch *Batch) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, op := range batch.ops {
		if op.delete {
			delete(db.data, string(op.key))
		} else {
			db.data[string(op.key)] = append([]byte(nil), op.value...)
		}
	}
	return nil
}

// Close satisfies the Database interface for MemDB.
func (db *MemDB) Close() {}

type memIterator struct {
	db    *MemDB
	keys  []string
	pos   int
	value []byte
}

func (it *memIterator) Next() bool {
	for it.pos+1 < len(it.keys) {
		it.pos++
		it.db.mu.RLock()
		value, ok := it.db.data[it.keys[it.pos]]
		it.db.mu.RUnlock()
		if !ok {
			// Deleted between snapshot and visit.
			continue
		}
		it.value = value
		return true
	}
	return false
}

func (it *memIterator) Key() []byte {
	if it.pos < 0 || it.pos >= len(it.keys) {
		return nil
	}
	return []byte(it.keys[it.pos])
}

func (it *memIterator) Value() []byte {
	return it.value
}

func (it *memIterator) Release() {}

func (it *memIterator) Error() error { return nil }

// --- Persistent DB ---

// LevelDB is a persistent key-value store backed by goleveldb.
type LevelDB struct {
	db *leveldb.DB
}

// NewLevelDB creates or opens a LevelDB database at the specified path.
func NewLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &LevelDB{db: db}, nil
}

func (ldb *LevelDB) Get(key []byte) ([]byte, error) {
	value, err := ldb.db.Get(key, nil)
	if errors.Is(err, ldberrors.ErrNotFound) {
		return nil, ErrNotFound
	}
	return value, err
}

func (ldb *LevelDB) Has(key []byte) (bool, error) {
	return ldb.db.Has(key, nil)
}

func (ldb *LevelDB) Put(key []byte, value []byte) error {
	return ldb.db.Put(key, value, nil)
}

func (ldb *LevelDB) Delete(key []byte) error {
	return ldb.db.Delete(key, nil)
}

func (ldb *LevelDB) NewIterator(prefix []byte, reverse bool) Iterator {
	var rng *util.Range
	if len(prefix) > 0 {
		rng = util.BytesPrefix(prefix)
	}
	it := ldb.db.NewIterator(rng, nil)
	return &levelIterator{it: it, reverse: reverse}
}

func (ldb *LevelDB) Write(batch *Batch) error {
	lb := new(leveldb.Batch)
	for _, op := range batch.ops {
		if op.delete {
			lb.Delete(op.key)
		} else {
			lb.Put(op.key, op.value)
		}
	}
	return ldb.db.Write(lb, nil)
}

func (ldb *LevelDB) Close() {
	ldb.db.Close()
}

type levelIterator struct {
	it      ldbIterator
	reverse bool
	started bool
}

// ldbIterator matches goleveldb's iterator surface so the wrapper can be
// exercised against fakes in tests.
type ldbIterator interface {
	Next() bool
	Prev() bool
	First() bool
	Last() bool
	Key() []byte
	Value() []byte
	Release()
	Error() error
}

func (it *levelIterator) Next() bool {
	if !it.started {
		it.started = true
		if it.reverse {
			return it.it.Last()
		}
		return it.it.First()
	}
	if it.reverse {
		return it.it.Prev()
	}
	return it.it.Next()
}

func (it *levelIterator) Key() []byte {
	return append([]byte(nil), it.it.Key()...)
}

func (it *levelIterator) Value() []byte {
	return append([]byte(nil), it.it.Value()...)
}

func (it *levelIterator) Release() {
	it.it.Release()
}

func (it *levelIterator) Error() error {
	return it.it.Error()
}
