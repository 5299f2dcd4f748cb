package store

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"hubd/core/types"
	"hubd/crypto"
	"hubd/storage"
)

type factory struct {
	t    *testing.T
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

func newFactory(t *testing.T) *factory {
	t.Helper()
	pub, priv, err := crypto.GenerateSignerKey()
	if err != nil {
		t.Fatalf("generate signer: %v", err)
	}
	return &factory{t: t, priv: priv, pub: pub}
}

func (f *factory) message(data *types.MessageData) *types.Message {
	f.t.Helper()
	encoded, err := data.Encode()
	if err != nil {
		f.t.Fatalf("encode data: %v", err)
	}
	hash := types.ComputeMessageHash(encoded)
	return &types.Message{
		Data:            data,
		Hash:            hash,
		HashScheme:      types.HashSchemeBlake3,
		Signature:       crypto.SignMessageHash(f.priv, hash),
		SignatureScheme: types.SignatureSchemeEd25519,
		Signer:          append([]byte(nil), f.pub...),
	}
}

func (f *factory) castAdd(fid uint64, ts uint32, text string) *types.Message {
	return f.message(&types.MessageData{
		Type: types.MessageTypeCastAdd, Fid: fid, Timestamp: ts, Network: types.NetworkDevnet,
		Body: &types.CastAddBody{Text: text},
	})
}

func (f *factory) castRemove(fid uint64, ts uint32, targetHash []byte) *types.Message {
	return f.message(&types.MessageData{
		Type: types.MessageTypeCastRemove, Fid: fid, Timestamp: ts, Network: types.NetworkDevnet,
		Body: &types.CastRemoveBody{TargetHash: targetHash},
	})
}

func (f *factory) reactionAdd(fid uint64, ts uint32, rt types.ReactionType, target *types.CastId) *types.Message {
	return f.message(&types.MessageData{
		Type: types.MessageTypeReactionAdd, Fid: fid, Timestamp: ts, Network: types.NetworkDevnet,
		Body: &types.ReactionBody{Type: rt, TargetCastId: target},
	})
}

func (f *factory) reactionRemove(fid uint64, ts uint32, rt types.ReactionType, target *types.CastId) *types.Message {
	return f.message(&types.MessageData{
		Type: types.MessageTypeReactionRemove, Fid: fid, Timestamp: ts, Network: types.NetworkDevnet,
		Body: &types.ReactionBody{Type: rt, TargetCastId: target},
	})
}

func (f *factory) linkAdd(fid uint64, ts uint32, linkType string, target uint64) *types.Message {
	return f.message(&types.MessageData{
		Type: types.MessageTypeLinkAdd, Fid: fid, Timestamp: ts, Network: types.NetworkDevnet,
		Body: &types.LinkBody{Type: linkType, TargetFid: target},
	})
}

func (f *factory) linkRemove(fid uint64, ts uint32, linkType string, target uint64) *types.Message {
	return f.message(&types.MessageData{
		Type: types.MessageTypeLinkRemove, Fid: fid, Timestamp: ts, Network: types.NetworkDevnet,
		Body: &types.LinkBody{Type: linkType, TargetFid: target},
	})
}

func compactStateData(fid uint64, ts uint32, linkType string, targets []uint64) *types.MessageData {
	return &types.MessageData{
		Type: types.MessageTypeLinkCompactState, Fid: fid, Timestamp: ts, Network: types.NetworkDevnet,
		Body: &types.LinkCompactStateBody{Type: linkType, TargetFids: targets},
	}
}

func (f *factory) userData(fid uint64, ts uint32, dt types.UserDataType, value string) *types.Message {
	return f.message(&types.MessageData{
		Type: types.MessageTypeUserDataAdd, Fid: fid, Timestamp: ts, Network: types.NetworkDevnet,
		Body: &types.UserDataBody{Type: dt, Value: value},
	})
}

func (f *factory) usernameProof(fid uint64, ts uint32, name string) *types.Message {
	owner := make([]byte, 20)
	return f.message(&types.MessageData{
		Type: types.MessageTypeUsernameProof, Fid: fid, Timestamp: ts, Network: types.NetworkDevnet,
		Body: &types.UsernameProofBody{
			Timestamp: uint64(ts), Name: []byte(name), Owner: owner,
			Signature: make([]byte, 65), Fid: fid, Type: types.UsernameTypeFname,
		},
	})
}

func randomHash(t *testing.T) []byte {
	t.Helper()
	hash := make([]byte, types.HashLength)
	if _, err := rand.Read(hash); err != nil {
		t.Fatalf("random hash: %v", err)
	}
	return hash
}

func mustMerge(t *testing.T, db storage.Database, s Store, msg *types.Message) *MergeResult {
	t.Helper()
	txn := storage.NewTxn(db)
	result, err := s.Merge(txn, msg)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	return result
}

func mergeErr(t *testing.T, db storage.Database, s Store, msg *types.Message) error {
	t.Helper()
	txn := storage.NewTxn(db)
	_, err := s.Merge(txn, msg)
	if err == nil {
		if commitErr := txn.Commit(); commitErr != nil {
			t.Fatalf("commit: %v", commitErr)
		}
	}
	return err
}
