package store

import (
	"fmt"

	"hubd/core/errors"
	"hubd/core/keyspace"
	"hubd/core/types"
	"hubd/storage"
)

// CastStore holds CastAdd/CastRemove messages. A remove conflicts with the
// add whose hash it targets.
type CastStore struct {
	set messageSet
}

func NewCastStore(db storage.Database) *CastStore {
	return &CastStore{set: messageSet{
		db: db,
		def: storeDef{
			name:           "casts",
			setPostfix:     keyspace.PostfixCastMessage,
			addsPostfix:    keyspace.PostfixCastAdds,
			removesPostfix: keyspace.PostfixCastRemoves,
			bodyKey:        castBodyKey,
		},
	}}
}

func castBodyKey(msg *types.Message) ([]byte, error) {
	switch msg.Type() {
	case types.MessageTypeCastAdd:
		return msg.Hash, nil
	case types.MessageTypeCastRemove:
		body := msg.Data.CastRemove()
		if body == nil {
			return nil, fmt.Errorf("casts: remove body missing")
		}
		return body.TargetHash, nil
	default:
		return nil, fmt.Errorf("casts: unsupported message type %s", msg.Type())
	}
}

func (s *CastStore) Merge(txn *storage.Txn, msg *types.Message) (*MergeResult, error) {
	return s.set.Merge(txn, msg)
}

func (s *CastStore) Revoke(txn *storage.Txn, msg *types.Message) error {
	return s.set.Revoke(txn, msg)
}

func (s *CastStore) Earliest(fid uint64) (*types.Message, error) {
	return s.set.Earliest(fid)
}

func (s *CastStore) SetPostfixes() []byte {
	return []byte{keyspace.PostfixCastMessage}
}

// GetCastAdd resolves a live cast by its hash.
func (s *CastStore) GetCastAdd(fid uint64, hash []byte) (*types.Message, error) {
	msg, err := s.set.getByIndex(fid, keyspace.PostfixCastAdds, hash, nil)
	if err != nil {
		return nil, err
	}
	if msg.Type() != types.MessageTypeCastAdd {
		return nil, errors.New(errors.KindNotFound, "casts: hash resolves to a remove")
	}
	return msg, nil
}

// CastAddsByFid pages the live casts of a fid in TsHash order.
func (s *CastStore) CastAddsByFid(fid uint64, page PageOptions) (*MessagesPage, error) {
	return s.set.pageByPrefix(keyspace.MessagePrimaryPrefix(fid, keyspace.PostfixCastMessage), page, func(msg *types.Message) bool {
		return msg.Type() == types.MessageTypeCastAdd
	})
}

func (s *CastStore) AllMessagesByFid(fid uint64, page PageOptions) (*MessagesPage, error) {
	return s.set.pageByPrefix(keyspace.MessagePrimaryPrefix(fid, keyspace.PostfixCastMessage), page, nil)
}
