package store

import (
	"fmt"

	"hubd/core/keyspace"
	"hubd/core/types"
	"hubd/storage"
)

// VerificationStore holds address verifications keyed by the claimed address.
type VerificationStore struct {
	set messageSet
}

func NewVerificationStore(db storage.Database) *VerificationStore {
	return &VerificationStore{set: messageSet{
		db: db,
		def: storeDef{
			name:           "verifications",
			setPostfix:     keyspace.PostfixVerificationMessage,
			addsPostfix:    keyspace.PostfixVerificationAdds,
			removesPostfix: keyspace.PostfixVerificationRemoves,
			bodyKey:        verificationBodyKey,
		},
	}}
}

func verificationBodyKey(msg *types.Message) ([]byte, error) {
	switch msg.Type() {
	case types.MessageTypeVerificationAdd:
		body := msg.Data.VerificationAdd()
		if body == nil {
			return nil, fmt.Errorf("verifications: body missing")
		}
		return body.Address, nil
	case types.MessageTypeVerificationRemove:
		body := msg.Data.VerificationRemove()
		if body == nil {
			return nil, fmt.Errorf("verifications: body missing")
		}
		return body.Address, nil
	default:
		return nil, fmt.Errorf("verifications: unsupported message type %s", msg.Type())
	}
}

func (s *VerificationStore) Merge(txn *storage.Txn, msg *types.Message) (*MergeResult, error) {
	return s.set.Merge(txn, msg)
}

func (s *VerificationStore) Revoke(txn *storage.Txn, msg *types.Message) error {
	return s.set.Revoke(txn, msg)
}

func (s *VerificationStore) Earliest(fid uint64) (*types.Message, error) {
	return s.set.Earliest(fid)
}

func (s *VerificationStore) SetPostfixes() []byte {
	return []byte{keyspace.PostfixVerificationMessage}
}

// GetVerificationAdd resolves the live verification for an address.
func (s *VerificationStore) GetVerificationAdd(fid uint64, address []byte) (*types.Message, error) {
	return s.set.getByIndex(fid, keyspace.PostfixVerificationAdds, address, nil)
}

// VerificationAddsByFid pages live verifications.
func (s *VerificationStore) VerificationAddsByFid(fid uint64, page PageOptions) (*MessagesPage, error) {
	return s.set.pageByPrefix(keyspace.MessagePrimaryPrefix(fid, keyspace.PostfixVerificationMessage), page, func(msg *types.Message) bool {
		return msg.Type() == types.MessageTypeVerificationAdd
	})
}

func (s *VerificationStore) AllMessagesByFid(fid uint64, page PageOptions) (*MessagesPage, error) {
	return s.set.pageByPrefix(keyspace.MessagePrimaryPrefix(fid, keyspace.PostfixVerificationMessage), page, nil)
}
