// Package store hosts the per-family CRDT stores, the on-chain event store,
// and the storage accounting that drives quota pruning.
package store

import (
	"bytes"
	"fmt"

	"hubd/core/errors"
	"hubd/core/keyspace"
	"hubd/core/types"
	"hubd/storage"
)

const (
	// DefaultPageSize applies when a caller leaves PageSize unset.
	DefaultPageSize = 100
	// MaxPageSize caps any single page.
	MaxPageSize = 1000
)

// PageOptions controls paginated reads. PageToken is the opaque cursor
// returned by the previous page.
type PageOptions struct {
	PageSize  int
	PageToken []byte
	Reverse   bool
}

func (p PageOptions) size() int {
	if p.PageSize <= 0 {
		return DefaultPageSize
	}
	if p.PageSize > MaxPageSize {
		return MaxPageSize
	}
	return p.PageSize
}

// MessagesPage is one page of messages plus the cursor for the next.
type MessagesPage struct {
	Messages      []*types.Message
	NextPageToken []byte
}

// MergeResult reports what a merge changed: the winner's ordering key and the
// conflicting messages it displaced.
type MergeResult struct {
	TsHash  []byte
	Deleted []*types.Message
}

// Store is the capability set shared by the typed stores. The engine
// dispatches on message type rather than reflection.
type Store interface {
	Merge(txn *storage.Txn, msg *types.Message) (*MergeResult, error)
	Revoke(txn *storage.Txn, msg *types.Message) error
	// Earliest returns the oldest prunable message for a fid, or nil.
	Earliest(fid uint64) (*types.Message, error)
	AllMessagesByFid(fid uint64, page PageOptions) (*MessagesPage, error)
	// SetPostfixes lists the primary sets the store owns for accounting.
	SetPostfixes() []byte
}

// getter abstracts reads so merge logic sees the transaction overlay while
// plain queries hit the committed state.
type getter interface {
	Get(key []byte) ([]byte, error)
}

// indexRow is an auxiliary secondary row maintained with a message.
type indexRow struct {
	key   []byte
	value []byte
}

// storeDef captures everything family-specific about a message set.
type storeDef struct {
	name           string
	setPostfix     byte
	addsPostfix    byte
	removesPostfix byte
	// bodyKey is the conflict identity within (fid, set).
	bodyKey func(*types.Message) ([]byte, error)
	// legacyBodyKey reproduces the variable-width form older writers used,
	// or nil when no legacy form exists for the family.
	legacyBodyKey func(*types.Message) []byte
	// extraIndexes emits additional rows (by-target, by-name) for a message.
	extraIndexes func(*types.Message, []byte) ([]indexRow, error)
	// pruneExempt marks messages quota pruning must never evict.
	pruneExempt func(*types.Message) bool
}

// messageSet implements the two-phase LWW merge shared by every family.
type messageSet struct {
	def storeDef
	db  storage.Database
}

// compareMessages returns >0 when a wins over b under the total order
// (timestamp, ADD beats REMOVE, lexicographic hash).
func compareMessages(a, b *types.Message) int {
	if a.Timestamp() != b.Timestamp() {
		if a.Timestamp() > b.Timestamp() {
			return 1
		}
		return -1
	}
	aAdd, bAdd := a.Type().IsAdd(), b.Type().IsAdd()
	if aAdd != bAdd {
		if aAdd {
			return 1
		}
		return -1
	}
	return bytes.Compare(a.Hash, b.Hash)
}

func (s *messageSet) indexPostfixFor(msg *types.Message) (byte, error) {
	if msg.Type().IsAdd() {
		return s.def.addsPostfix, nil
	}
	if s.def.removesPostfix == 0 {
		return 0, fmt.Errorf("%s: message type %s has no remove index", s.def.name, msg.Type())
	}
	return s.def.removesPostfix, nil
}

// loadByTsHash reads and decodes a primary row.
func (s *messageSet) loadByTsHash(src getter, fid uint64, tsHash []byte) (*types.Message, error) {
	raw, err := src.Get(keyspace.MessagePrimaryKey(fid, s.def.setPostfix, tsHash))
	if err != nil {
		return nil, err
	}
	return types.DecodeMessage(raw)
}

// conflictAt resolves the message currently holding a body key in one index,
// following the legacy key when the canonical one misses. It reports the
// index key that actually matched so writers can migrate legacy rows.
func (s *messageSet) conflictAt(src getter, msg *types.Message, indexPostfix byte, bodyKey []byte) (*types.Message, []byte, bool, error) {
	canonical := keyspace.IndexKey(msg.Fid(), indexPostfix, bodyKey)
	tsHash, err := src.Get(canonical)
	if err == nil {
		existing, err := s.loadByTsHash(src, msg.Fid(), tsHash)
		if err != nil {
			return nil, nil, false, fmt.Errorf("%s: index row without primary: %w", s.def.name, err)
		}
		return existing, canonical, false, nil
	}
	if err != storage.ErrNotFound {
		return nil, nil, false, err
	}
	if s.def.legacyBodyKey == nil {
		return nil, nil, false, nil
	}
	legacyBody := s.def.legacyBodyKey(msg)
	if legacyBody == nil || bytes.Equal(legacyBody, bodyKey) {
		return nil, nil, false, nil
	}
	legacy := keyspace.IndexKey(msg.Fid(), indexPostfix, legacyBody)
	tsHash, err = src.Get(legacy)
	if err == storage.ErrNotFound {
		return nil, nil, false, nil
	}
	if err != nil {
		return nil, nil, false, err
	}
	existing, err := s.loadByTsHash(src, msg.Fid(), tsHash)
	if err != nil {
		return nil, nil, false, fmt.Errorf("%s: legacy index row without primary: %w", s.def.name, err)
	}
	return existing, legacy, true, nil
}

// stageInsert writes every row for a message into the transaction.
func (s *messageSet) stageInsert(txn *storage.Txn, msg *types.Message, tsHash []byte) error {
	encoded, err := msg.Encode()
	if err != nil {
		return err
	}
	txn.Put(keyspace.MessagePrimaryKey(msg.Fid(), s.def.setPostfix, tsHash), encoded)

	indexPostfix, err := s.indexPostfixFor(msg)
	if err != nil {
		return err
	}
	bodyKey, err := s.def.bodyKey(msg)
	if err != nil {
		return err
	}
	txn.Put(keyspace.IndexKey(msg.Fid(), indexPostfix, bodyKey), tsHash)
	txn.Put(keyspace.BySignerKey(msg.Fid(), msg.Signer, msg.Type(), tsHash), nil)

	if s.def.extraIndexes != nil {
		rows, err := s.def.extraIndexes(msg, tsHash)
		if err != nil {
			return err
		}
		for _, row := range rows {
			txn.Put(row.key, row.value)
		}
	}
	return nil
}

// stageDelete removes every row for a message, including any legacy index
// form, so deletes double as migrations.
func (s *messageSet) stageDelete(txn *storage.Txn, msg *types.Message) error {
	tsHash, err := msg.TsHash()
	if err != nil {
		return err
	}
	txn.Delete(keyspace.MessagePrimaryKey(msg.Fid(), s.def.setPostfix, tsHash))

	indexPostfix, err := s.indexPostfixFor(msg)
	if err != nil {
		return err
	}
	bodyKey, err := s.def.bodyKey(msg)
	if err != nil {
		return err
	}
	txn.Delete(keyspace.IndexKey(msg.Fid(), indexPostfix, bodyKey))
	if s.def.legacyBodyKey != nil {
		if legacy := s.def.legacyBodyKey(msg); legacy != nil && !bytes.Equal(legacy, bodyKey) {
			txn.Delete(keyspace.IndexKey(msg.Fid(), indexPostfix, legacy))
		}
	}
	txn.Delete(keyspace.BySignerKey(msg.Fid(), msg.Signer, msg.Type(), tsHash))

	if s.def.extraIndexes != nil {
		rows, err := s.def.extraIndexes(msg, tsHash)
		if err != nil {
			return err
		}
		for _, row := range rows {
			txn.Delete(row.key)
		}
	}
	return nil
}

// Merge applies the LWW contract. On a losing merge the incoming message is
// rejected with bad_request.conflict; any legacy index row encountered on the
// way is still migrated into the transaction, which the caller should commit.
func (s *messageSet) Merge(txn *storage.Txn, msg *types.Message) (*MergeResult, error) {
	tsHash, err := msg.TsHash()
	if err != nil {
		return nil, errors.Wrap(errors.KindValidationFailure, "compose tshash", err)
	}

	if _, err := txn.Get(keyspace.MessagePrimaryKey(msg.Fid(), s.def.setPostfix, tsHash)); err == nil {
		return nil, errors.Newf(errors.KindDuplicate, "%s: message already merged", s.def.name)
	} else if err != storage.ErrNotFound {
		return nil, errors.Wrap(errors.KindStorageFailure, "lookup primary row", err)
	}

	bodyKey, err := s.def.bodyKey(msg)
	if err != nil {
		return nil, errors.Wrap(errors.KindValidationFailure, "compose body key", err)
	}

	var deleted []*types.Message
	postfixes := []byte{s.def.addsPostfix}
	if s.def.removesPostfix != 0 {
		postfixes = append(postfixes, s.def.removesPostfix)
	}
	for _, indexPostfix := range postfixes {
		existing, matchedKey, isLegacy, err := s.conflictAt(txn, msg, indexPostfix, bodyKey)
		if err != nil {
			return nil, errors.Wrap(errors.KindStorageFailure, "conflict lookup", err)
		}
		if existing == nil {
			continue
		}
		if compareMessages(existing, msg) > 0 {
			if isLegacy {
				// Migrate the legacy row even though the merge loses.
				existingTsHash, err := existing.TsHash()
				if err != nil {
					return nil, errors.Wrap(errors.KindStorageFailure, "legacy migration", err)
				}
				txn.Delete(matchedKey)
				existingBodyKey, err := s.def.bodyKey(existing)
				if err != nil {
					return nil, errors.Wrap(errors.KindStorageFailure, "legacy migration", err)
				}
				txn.Put(keyspace.IndexKey(existing.Fid(), indexPostfix, existingBodyKey), existingTsHash)
			}
			return nil, errors.Newf(errors.KindConflict, "%s: message loses to existing state", s.def.name)
		}
		if err := s.stageDelete(txn, existing); err != nil {
			return nil, errors.Wrap(errors.KindStorageFailure, "displace conflicting message", err)
		}
		deleted = append(deleted, existing)
	}

	if err := s.stageInsert(txn, msg, tsHash); err != nil {
		return nil, errors.Wrap(errors.KindStorageFailure, "stage message rows", err)
	}
	return &MergeResult{TsHash: tsHash, Deleted: deleted}, nil
}

// Revoke deletes a message's rows. Revoking a message that was never merged
// is a no-op.
func (s *messageSet) Revoke(txn *storage.Txn, msg *types.Message) error {
	tsHash, err := msg.TsHash()
	if err != nil {
		return errors.Wrap(errors.KindValidationFailure, "compose tshash", err)
	}
	if _, err := txn.Get(keyspace.MessagePrimaryKey(msg.Fid(), s.def.setPostfix, tsHash)); err == storage.ErrNotFound {
		return nil
	} else if err != nil {
		return errors.Wrap(errors.KindStorageFailure, "lookup primary row", err)
	}
	if err := s.stageDelete(txn, msg); err != nil {
		return errors.Wrap(errors.KindStorageFailure, "stage revoke", err)
	}
	return nil
}

// Earliest returns the oldest non-exempt message in the set for a fid.
func (s *messageSet) Earliest(fid uint64) (*types.Message, error) {
	it := s.db.NewIterator(keyspace.MessagePrimaryPrefix(fid, s.def.setPostfix), false)
	defer it.Release()
	for it.Next() {
		msg, err := types.DecodeMessage(it.Value())
		if err != nil {
			return nil, err
		}
		if s.def.pruneExempt != nil && s.def.pruneExempt(msg) {
			continue
		}
		return msg, nil
	}
	return nil, it.Error()
}

// getByIndex resolves a body key through the adds or removes index.
func (s *messageSet) getByIndex(fid uint64, indexPostfix byte, bodyKey []byte, legacyBodyKey []byte) (*types.Message, error) {
	tsHash, err := s.db.Get(keyspace.IndexKey(fid, indexPostfix, bodyKey))
	if err == storage.ErrNotFound && legacyBodyKey != nil && !bytes.Equal(legacyBodyKey, bodyKey) {
		tsHash, err = s.db.Get(keyspace.IndexKey(fid, indexPostfix, legacyBodyKey))
	}
	if err == storage.ErrNotFound {
		return nil, errors.Newf(errors.KindNotFound, "%s: no message for key", s.def.name)
	}
	if err != nil {
		return nil, errors.Wrap(errors.KindStorageFailure, "index lookup", err)
	}
	msg, err := s.loadByTsHash(s.db, fid, tsHash)
	if err != nil {
		return nil, errors.Wrap(errors.KindStorageFailure, "load message", err)
	}
	return msg, nil
}

// pageByPrefix paginates decoded messages under a primary-row prefix,
// optionally filtered. The page token is the key suffix after the prefix.
func (s *messageSet) pageByPrefix(prefix []byte, page PageOptions, filter func(*types.Message) bool) (*MessagesPage, error) {
	return pageMessages(s.db, prefix, page, func(key, value []byte) (*types.Message, error) {
		msg, err := types.DecodeMessage(value)
		if err != nil {
			return nil, err
		}
		if filter != nil && !filter(msg) {
			return nil, nil
		}
		return msg, nil
	})
}

// pageMessages is the shared cursor walk. decode returns nil to skip a row.
func pageMessages(db storage.Database, prefix []byte, page PageOptions, decode func(key, value []byte) (*types.Message, error)) (*MessagesPage, error) {
	limit := page.size()
	it := db.NewIterator(prefix, page.Reverse)
	defer it.Release()

	result := &MessagesPage{}
	var lastSuffix []byte
	for it.Next() {
		suffix := it.Key()[len(prefix):]
		if len(page.PageToken) > 0 {
			if !page.Reverse && bytes.Compare(suffix, page.PageToken) <= 0 {
				continue
			}
			if page.Reverse && bytes.Compare(suffix, page.PageToken) >= 0 {
				continue
			}
		}
		msg, err := decode(it.Key(), it.Value())
		if err != nil {
			return nil, errors.Wrap(errors.KindStorageFailure, "decode message row", err)
		}
		if msg == nil {
			continue
		}
		if len(result.Messages) == limit {
			result.NextPageToken = append([]byte(nil), lastSuffix...)
			return result, nil
		}
		result.Messages = append(result.Messages, msg)
		lastSuffix = append(lastSuffix[:0], suffix...)
	}
	if err := it.Error(); err != nil {
		return nil, errors.Wrap(errors.KindStorageFailure, "iterate messages", err)
	}
	return result, nil
}
