package storage

import "errors"

var errTxnCommitted = errors.New("storage: transaction already committed")

// Txn buffers writes against a Database and applies them atomically on Commit.
// Reads consult the pending writes first so a transaction observes its own
// mutations. Iteration is served from the committed state only; callers that
// iterate mid-transaction must account for their own staged operations.
type Txn struct {
	db        Database
	batch     *Batch
	pending   map[string][]byte // nil value marks a pending delete
	committed bool
}

func NewTxn(db Database) *Txn {
	return &Txn{
		db:      db,
		batch:   NewBatch(),
		pending: make(map[string][]byte),
	}
}

func (t *Txn) Get(key []byte) ([]byte, error) {
	if value, ok := t.pending[string(key)]; ok {
		if value == nil {
			return nil, ErrNotFound
		}
		return append([]byte(nil), value...), nil
	}
	return t.db.Get(key)
}

func (t *Txn) Has(key []byte) (bool, error) {
	if value, ok := t.pending[string(key)]; ok {
		return value != nil, nil
	}
	return t.db.Has(key)
}

func (t *Txn) Put(key, value []byte) {
	t.batch.Put(key, value)
	t.pending[string(key)] = append([]byte{}, value...)
}

func (t *Txn) Delete(key []byte) {
	t.batch.Delete(key)
	t.pending[string(key)] = nil
}

// Len reports the number of staged operations.
func (t *Txn) Len() int {
	return t.batch.Len()
}

// Commit applies all staged operations atomically. A transaction can be
// committed at most once.
func (t *Txn) Commit() error {
	if t.committed {
		return errTxnCommitted
	}
	t.committed = true
	return t.db.Write(t.batch)
}
