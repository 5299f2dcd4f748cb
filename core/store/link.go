package store

import (
	"encoding/binary"
	"fmt"

	"hubd/core/errors"
	"hubd/core/keyspace"
	"hubd/core/types"
	"hubd/storage"
)

// LinkStore holds LinkAdd/LinkRemove messages keyed by (type, target fid),
// plus the append-style LinkCompactState rows which are exempt from quota
// pruning. Link body keys use the fixed-width type form; rows written by
// earlier releases with the unpadded form are accepted and migrated on write.
type LinkStore struct {
	links   messageSet
	compact messageSet
}

func NewLinkStore(db storage.Database) *LinkStore {
	return &LinkStore{
		links: messageSet{
			db: db,
			def: storeDef{
				name:           "links",
				setPostfix:     keyspace.PostfixLinkMessage,
				addsPostfix:    keyspace.PostfixLinkAdds,
				removesPostfix: keyspace.PostfixLinkRemoves,
				bodyKey:        linkBodyKey,
				legacyBodyKey:  legacyLinkBodyKey,
				extraIndexes:   linkExtraIndexes,
			},
		},
		compact: messageSet{
			db: db,
			def: storeDef{
				name:        "link compact state",
				setPostfix:  keyspace.PostfixLinkCompactStateMessage,
				addsPostfix: keyspace.PostfixLinkCompactAdds,
				bodyKey:     linkCompactBodyKey,
				pruneExempt: func(*types.Message) bool { return true },
			},
		},
	}
}

func linkBodyKey(msg *types.Message) ([]byte, error) {
	body := msg.Data.Link()
	if body == nil {
		return nil, fmt.Errorf("links: body missing")
	}
	typeKey, err := keyspace.LinkTypeKey(body.Type)
	if err != nil {
		return nil, err
	}
	key := make([]byte, 0, len(typeKey)+4)
	key = append(key, typeKey...)
	return binary.BigEndian.AppendUint32(key, uint32(body.TargetFid)), nil
}

// legacyLinkBodyKey reproduces the variable-width type emitted by earlier
// writers so their rows remain readable until migrated.
func legacyLinkBodyKey(msg *types.Message) []byte {
	body := msg.Data.Link()
	if body == nil {
		return nil
	}
	key := make([]byte, 0, len(body.Type)+4)
	key = append(key, keyspace.LegacyLinkTypeKey(body.Type)...)
	return binary.BigEndian.AppendUint32(key, uint32(body.TargetFid))
}

func linkExtraIndexes(msg *types.Message, tsHash []byte) ([]indexRow, error) {
	if msg.Type() != types.MessageTypeLinkAdd {
		return nil, nil
	}
	body := msg.Data.Link()
	if body == nil {
		return nil, fmt.Errorf("links: body missing")
	}
	return []indexRow{{
		key: keyspace.LinksByTargetKey(body.TargetFid, msg.Fid(), tsHash),
	}}, nil
}

func linkCompactBodyKey(msg *types.Message) ([]byte, error) {
	body := msg.Data.LinkCompactState()
	if body == nil {
		return nil, fmt.Errorf("link compact state: body missing")
	}
	return keyspace.LinkTypeKey(body.Type)
}

func (s *LinkStore) Merge(txn *storage.Txn, msg *types.Message) (*MergeResult, error) {
	if msg.Type() == types.MessageTypeLinkCompactState {
		return s.compact.Merge(txn, msg)
	}
	return s.links.Merge(txn, msg)
}

func (s *LinkStore) Revoke(txn *storage.Txn, msg *types.Message) error {
	if msg.Type() == types.MessageTypeLinkCompactState {
		return s.compact.Revoke(txn, msg)
	}
	return s.links.Revoke(txn, msg)
}

// Earliest only surfaces prunable rows; compact state is exempt.
func (s *LinkStore) Earliest(fid uint64) (*types.Message, error) {
	return s.links.Earliest(fid)
}

func (s *LinkStore) SetPostfixes() []byte {
	return []byte{keyspace.PostfixLinkMessage, keyspace.PostfixLinkCompactStateMessage}
}

// GetLinkAdd resolves the live link of a fid to a target.
func (s *LinkStore) GetLinkAdd(fid uint64, linkType string, targetFid uint64) (*types.Message, error) {
	typeKey, err := keyspace.LinkTypeKey(linkType)
	if err != nil {
		return nil, errors.Wrap(errors.KindInvalidParam, "link type", err)
	}
	bodyKey := binary.BigEndian.AppendUint32(append([]byte(nil), typeKey...), uint32(targetFid))
	legacy := binary.BigEndian.AppendUint32(append([]byte(nil), keyspace.LegacyLinkTypeKey(linkType)...), uint32(targetFid))
	return s.links.getByIndex(fid, keyspace.PostfixLinkAdds, bodyKey, legacy)
}

// LinkAddsByFid pages live links, optionally filtered by type.
func (s *LinkStore) LinkAddsByFid(fid uint64, linkType string, page PageOptions) (*MessagesPage, error) {
	return s.links.pageByPrefix(keyspace.MessagePrimaryPrefix(fid, keyspace.PostfixLinkMessage), page, func(msg *types.Message) bool {
		if msg.Type() != types.MessageTypeLinkAdd {
			return false
		}
		if linkType == "" {
			return true
		}
		body := msg.Data.Link()
		return body != nil && body.Type == linkType
	})
}

// LinksByTarget pages every live link pointing at a target fid.
func (s *LinkStore) LinksByTarget(targetFid uint64, page PageOptions) (*MessagesPage, error) {
	prefix := keyspace.LinksByTargetPrefix(targetFid)
	return pageMessages(s.links.db, prefix, page, func(key, value []byte) (*types.Message, error) {
		suffix := key[len(prefix):]
		if len(suffix) != 4+types.TsHashLength {
			return nil, fmt.Errorf("links: malformed target index key")
		}
		fid := keyspace.FidFromKeyBytes(suffix[:4])
		return s.links.loadByTsHash(s.links.db, fid, suffix[4:])
	})
}

// CompactStateByFid pages the compact-state rows of a fid.
func (s *LinkStore) CompactStateByFid(fid uint64, page PageOptions) (*MessagesPage, error) {
	return s.compact.pageByPrefix(keyspace.MessagePrimaryPrefix(fid, keyspace.PostfixLinkCompactStateMessage), page, nil)
}

func (s *LinkStore) AllMessagesByFid(fid uint64, page PageOptions) (*MessagesPage, error) {
	return s.links.pageByPrefix(keyspace.MessagePrimaryPrefix(fid, keyspace.PostfixLinkMessage), page, nil)
}
