package store

import (
	"fmt"

	"hubd/core/keyspace"
	"hubd/core/types"
	"hubd/storage"
)

// ReactionStore holds ReactionAdd/ReactionRemove messages keyed by
// (type, target). Adds are additionally indexed globally by target.
type ReactionStore struct {
	set messageSet
}

func NewReactionStore(db storage.Database) *ReactionStore {
	return &ReactionStore{set: messageSet{
		db: db,
		def: storeDef{
			name:           "reactions",
			setPostfix:     keyspace.PostfixReactionMessage,
			addsPostfix:    keyspace.PostfixReactionAdds,
			removesPostfix: keyspace.PostfixReactionRemoves,
			bodyKey:        reactionBodyKey,
			extraIndexes:   reactionExtraIndexes,
		},
	}}
}

func reactionBodyKey(msg *types.Message) ([]byte, error) {
	body := msg.Data.Reaction()
	if body == nil {
		return nil, fmt.Errorf("reactions: body missing")
	}
	target := body.TargetKey()
	key := make([]byte, 0, 1+len(target))
	key = append(key, byte(body.Type))
	return append(key, target...), nil
}

func reactionExtraIndexes(msg *types.Message, tsHash []byte) ([]indexRow, error) {
	if msg.Type() != types.MessageTypeReactionAdd {
		return nil, nil
	}
	body := msg.Data.Reaction()
	if body == nil {
		return nil, fmt.Errorf("reactions: body missing")
	}
	return []indexRow{{
		key:   keyspace.ReactionsByTargetKey(body.TargetKey(), msg.Fid(), tsHash),
		value: []byte{byte(body.Type)},
	}}, nil
}

func (s *ReactionStore) Merge(txn *storage.Txn, msg *types.Message) (*MergeResult, error) {
	return s.set.Merge(txn, msg)
}

func (s *ReactionStore) Revoke(txn *storage.Txn, msg *types.Message) error {
	return s.set.Revoke(txn, msg)
}

func (s *ReactionStore) Earliest(fid uint64) (*types.Message, error) {
	return s.set.Earliest(fid)
}

func (s *ReactionStore) SetPostfixes() []byte {
	return []byte{keyspace.PostfixReactionMessage}
}

// GetReactionAdd resolves the live reaction of a fid on a target.
func (s *ReactionStore) GetReactionAdd(fid uint64, reactionType types.ReactionType, targetKey []byte) (*types.Message, error) {
	bodyKey := append([]byte{byte(reactionType)}, targetKey...)
	return s.set.getByIndex(fid, keyspace.PostfixReactionAdds, bodyKey, nil)
}

// ReactionAddsByFid pages live reactions, optionally filtered by type.
func (s *ReactionStore) ReactionAddsByFid(fid uint64, reactionType types.ReactionType, page PageOptions) (*MessagesPage, error) {
	return s.set.pageByPrefix(keyspace.MessagePrimaryPrefix(fid, keyspace.PostfixReactionMessage), page, func(msg *types.Message) bool {
		if msg.Type() != types.MessageTypeReactionAdd {
			return false
		}
		if reactionType == types.ReactionTypeNone {
			return true
		}
		body := msg.Data.Reaction()
		return body != nil && body.Type == reactionType
	})
}

// ReactionsByTarget pages every fid's live reaction on a target.
func (s *ReactionStore) ReactionsByTarget(targetKey []byte, reactionType types.ReactionType, page PageOptions) (*MessagesPage, error) {
	prefix := keyspace.ReactionsByTargetPrefix(targetKey)
	return pageMessages(s.set.db, prefix, page, func(key, value []byte) (*types.Message, error) {
		if reactionType != types.ReactionTypeNone {
			if len(value) != 1 || types.ReactionType(value[0]) != reactionType {
				return nil, nil
			}
		}
		suffix := key[len(prefix):]
		if len(suffix) != 4+types.TsHashLength {
			return nil, fmt.Errorf("reactions: malformed target index key")
		}
		fid := keyspace.FidFromKeyBytes(suffix[:4])
		return s.set.loadByTsHash(s.set.db, fid, suffix[4:])
	})
}

func (s *ReactionStore) AllMessagesByFid(fid uint64, page PageOptions) (*MessagesPage, error) {
	return s.set.pageByPrefix(keyspace.MessagePrimaryPrefix(fid, keyspace.PostfixReactionMessage), page, nil)
}
