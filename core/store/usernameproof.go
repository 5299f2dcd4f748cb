package store

import (
	"fmt"

	"hubd/core/errors"
	"hubd/core/keyspace"
	"hubd/core/types"
	"hubd/storage"
)

// UsernameProofStore holds name-ownership proofs. Within a fid proofs are a
// plain LWW set keyed by name; across fids the global by-name index enforces
// at most one live proof per name, with the later proof winning.
type UsernameProofStore struct {
	set messageSet
}

func NewUsernameProofStore(db storage.Database) *UsernameProofStore {
	return &UsernameProofStore{set: messageSet{
		db: db,
		def: storeDef{
			name:         "username proofs",
			setPostfix:   keyspace.PostfixUsernameProofMessage,
			addsPostfix:  keyspace.PostfixUsernameProofAdds,
			bodyKey:      usernameProofBodyKey,
			extraIndexes: usernameProofExtraIndexes,
		},
	}}
}

func usernameProofBodyKey(msg *types.Message) ([]byte, error) {
	body := msg.Data.UsernameProof()
	if body == nil {
		return nil, fmt.Errorf("username proofs: body missing")
	}
	return keyspace.PadBodyKey(body.Name, keyspace.UsernameProofNameKeyWidth)
}

func usernameProofExtraIndexes(msg *types.Message, tsHash []byte) ([]indexRow, error) {
	body := msg.Data.UsernameProof()
	if body == nil {
		return nil, fmt.Errorf("username proofs: body missing")
	}
	nameKey, err := keyspace.UsernameProofByNameKey(body.Name)
	if err != nil {
		return nil, err
	}
	value := make([]byte, 0, 4+len(tsHash))
	value = append(value, byte(msg.Fid()>>24), byte(msg.Fid()>>16), byte(msg.Fid()>>8), byte(msg.Fid()))
	return []indexRow{{key: nameKey, value: append(value, tsHash...)}}, nil
}

// Merge enforces the one-proof-per-name rule before the per-fid LWW merge.
// A proof held by a different fid is displaced when the incoming proof wins
// the usual total order.
func (s *UsernameProofStore) Merge(txn *storage.Txn, msg *types.Message) (*MergeResult, error) {
	body := msg.Data.UsernameProof()
	if body == nil {
		return nil, errors.New(errors.KindValidationFailure, "username proofs: body missing")
	}
	nameKey, err := keyspace.UsernameProofByNameKey(body.Name)
	if err != nil {
		return nil, errors.Wrap(errors.KindValidationFailure, "compose name key", err)
	}

	var crossFidDeleted []*types.Message
	holder, err := txn.Get(nameKey)
	if err != nil && err != storage.ErrNotFound {
		return nil, errors.Wrap(errors.KindStorageFailure, "name index lookup", err)
	}
	if err == nil && len(holder) == 4+types.TsHashLength {
		holderFid := keyspace.FidFromKeyBytes(holder[:4])
		if holderFid != msg.Fid() {
			existing, err := s.set.loadByTsHash(txn, holderFid, holder[4:])
			if err != nil {
				return nil, errors.Wrap(errors.KindStorageFailure, "load name holder", err)
			}
			if compareMessages(existing, msg) > 0 {
				return nil, errors.New(errors.KindConflict, "username proofs: name held by a newer proof")
			}
			if err := s.set.stageDelete(txn, existing); err != nil {
				return nil, errors.Wrap(errors.KindStorageFailure, "displace name holder", err)
			}
			crossFidDeleted = append(crossFidDeleted, existing)
		}
	}

	result, err := s.set.Merge(txn, msg)
	if err != nil {
		return nil, err
	}
	result.Deleted = append(crossFidDeleted, result.Deleted...)
	return result, nil
}

func (s *UsernameProofStore) Revoke(txn *storage.Txn, msg *types.Message) error {
	return s.set.Revoke(txn, msg)
}

func (s *UsernameProofStore) Earliest(fid uint64) (*types.Message, error) {
	return s.set.Earliest(fid)
}

func (s *UsernameProofStore) SetPostfixes() []byte {
	return []byte{keyspace.PostfixUsernameProofMessage}
}

// GetProofByName resolves the live proof for a name, whatever fid holds it.
func (s *UsernameProofStore) GetProofByName(name []byte) (*types.Message, error) {
	nameKey, err := keyspace.UsernameProofByNameKey(name)
	if err != nil {
		return nil, errors.Wrap(errors.KindInvalidParam, "name", err)
	}
	holder, err := s.set.db.Get(nameKey)
	if err == storage.ErrNotFound {
		return nil, errors.New(errors.KindNotFound, "username proofs: name not found")
	}
	if err != nil {
		return nil, errors.Wrap(errors.KindStorageFailure, "name index lookup", err)
	}
	if len(holder) != 4+types.TsHashLength {
		return nil, errors.New(errors.KindStorageFailure, "username proofs: malformed name index row")
	}
	fid := keyspace.FidFromKeyBytes(holder[:4])
	msg, err := s.set.loadByTsHash(s.set.db, fid, holder[4:])
	if err != nil {
		return nil, errors.Wrap(errors.KindStorageFailure, "load proof", err)
	}
	return msg, nil
}

// ProofsByFid pages a fid's live proofs.
func (s *UsernameProofStore) ProofsByFid(fid uint64, page PageOptions) (*MessagesPage, error) {
	return s.set.pageByPrefix(keyspace.MessagePrimaryPrefix(fid, keyspace.PostfixUsernameProofMessage), page, nil)
}

func (s *UsernameProofStore) AllMessagesByFid(fid uint64, page PageOptions) (*MessagesPage, error) {
	return s.ProofsByFid(fid, page)
}
