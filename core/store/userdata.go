package store

import (
	"fmt"

	"hubd/core/keyspace"
	"hubd/core/types"
	"hubd/storage"
)

// UserDataStore holds profile fields keyed by the data type. The family has
// no removes; a later add displaces the earlier value.
type UserDataStore struct {
	set messageSet
}

func NewUserDataStore(db storage.Database) *UserDataStore {
	return &UserDataStore{set: messageSet{
		db: db,
		def: storeDef{
			name:        "user data",
			setPostfix:  keyspace.PostfixUserDataMessage,
			addsPostfix: keyspace.PostfixUserDataAdds,
			bodyKey:     userDataBodyKey,
		},
	}}
}

func userDataBodyKey(msg *types.Message) ([]byte, error) {
	body := msg.Data.UserData()
	if body == nil {
		return nil, fmt.Errorf("user data: body missing")
	}
	return []byte{byte(body.Type)}, nil
}

func (s *UserDataStore) Merge(txn *storage.Txn, msg *types.Message) (*MergeResult, error) {
	return s.set.Merge(txn, msg)
}

func (s *UserDataStore) Revoke(txn *storage.Txn, msg *types.Message) error {
	return s.set.Revoke(txn, msg)
}

func (s *UserDataStore) Earliest(fid uint64) (*types.Message, error) {
	return s.set.Earliest(fid)
}

func (s *UserDataStore) SetPostfixes() []byte {
	return []byte{keyspace.PostfixUserDataMessage}
}

// GetUserData resolves one profile field.
func (s *UserDataStore) GetUserData(fid uint64, dataType types.UserDataType) (*types.Message, error) {
	return s.set.getByIndex(fid, keyspace.PostfixUserDataAdds, []byte{byte(dataType)}, nil)
}

// UserDataByFid pages every live profile field.
func (s *UserDataStore) UserDataByFid(fid uint64, page PageOptions) (*MessagesPage, error) {
	return s.set.pageByPrefix(keyspace.MessagePrimaryPrefix(fid, keyspace.PostfixUserDataMessage), page, nil)
}

func (s *UserDataStore) AllMessagesByFid(fid uint64, page PageOptions) (*MessagesPage, error) {
	return s.UserDataByFid(fid, page)
}
