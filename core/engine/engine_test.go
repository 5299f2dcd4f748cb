package engine

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	"hubd/core/errors"
	"hubd/core/events"
	"hubd/core/store"
	"hubd/core/types"
	"hubd/crypto"
	"hubd/storage"
)

type testEnv struct {
	t       *testing.T
	db      *storage.MemDB
	engine  *Engine
	custody *crypto.IdentityKey
	pub     ed25519.PublicKey
	priv    ed25519.PrivateKey
	block   uint64
}

func newTestEnv(t *testing.T, slotLimit uint64) *testEnv {
	t.Helper()
	db := storage.NewMemDB()
	cfg := Config{DB: db, Network: types.NetworkDevnet, ValidationWorkers: 2}
	if slotLimit > 0 {
		cfg.SlotLimit = func(byte, uint32, time.Time) uint64 { return slotLimit }
	}
	e, err := New(cfg)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	e.Start()
	t.Cleanup(e.Stop)

	custody, err := crypto.GenerateIdentityKey()
	if err != nil {
		t.Fatalf("custody key: %v", err)
	}
	pub, priv, err := crypto.GenerateSignerKey()
	if err != nil {
		t.Fatalf("signer key: %v", err)
	}
	env := &testEnv{t: t, db: db, engine: e, custody: custody, pub: pub, priv: priv, block: 100}
	return env
}

func (env *testEnv) nextBlock() uint64 {
	env.block++
	return env.block
}

func (env *testEnv) randomBytes(n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		env.t.Fatalf("random bytes: %v", err)
	}
	return b
}

func (env *testEnv) mergeEvent(ev *types.OnChainEvent) {
	env.t.Helper()
	if _, err := env.engine.MergeOnChainEvent(context.Background(), ev); err != nil {
		env.t.Fatalf("merge on-chain event: %v", err)
	}
}

func (env *testEnv) registerFid(fid uint64) {
	env.t.Helper()
	addr := env.custody.Address()
	env.mergeEvent(&types.OnChainEvent{
		Type: types.OnChainEventTypeIdRegister, ChainID: 10, Fid: fid,
		BlockNumber: env.nextBlock(), BlockHash: env.randomBytes(32),
		BlockTimestamp: uint64(time.Now().Unix()), TransactionHash: env.randomBytes(32),
		Body: &types.IdRegisterEventBody{To: addr[:], EventType: types.IdRegisterEventTypeRegister},
	})
	env.addSigner(fid, env.pub)
	env.mergeEvent(&types.OnChainEvent{
		Type: types.OnChainEventTypeStorageRent, ChainID: 10, Fid: fid,
		BlockNumber: env.nextBlock(), BlockHash: env.randomBytes(32),
		BlockTimestamp: uint64(time.Now().Unix()), TransactionHash: env.randomBytes(32),
		Body: &types.StorageRentEventBody{Payer: env.randomBytes(20), Units: 1, Payment: []byte{0x01}},
	})
}

func (env *testEnv) addSigner(fid uint64, key ed25519.PublicKey) {
	env.t.Helper()
	env.mergeEvent(&types.OnChainEvent{
		Type: types.OnChainEventTypeSigner, ChainID: 10, Fid: fid,
		BlockNumber: env.nextBlock(), BlockHash: env.randomBytes(32),
		BlockTimestamp: uint64(time.Now().Unix()), TransactionHash: env.randomBytes(32),
		Body: &types.SignerEventBody{Key: []byte(key), KeyType: 1, EventType: types.SignerEventTypeAdd},
	})
}

func (env *testEnv) nowTs() uint32 {
	ts, err := types.ToFarcasterTime(time.Now())
	if err != nil {
		env.t.Fatalf("farcaster time: %v", err)
	}
	return ts
}

func (env *testEnv) signed(data *types.MessageData) *types.Message {
	env.t.Helper()
	encoded, err := data.Encode()
	if err != nil {
		env.t.Fatalf("encode data: %v", err)
	}
	hash := types.ComputeMessageHash(encoded)
	return &types.Message{
		Data:            data,
		Hash:            hash,
		HashScheme:      types.HashSchemeBlake3,
		Signature:       crypto.SignMessageHash(env.priv, hash),
		SignatureScheme: types.SignatureSchemeEd25519,
		Signer:          append([]byte(nil), env.pub...),
	}
}

func (env *testEnv) castAdd(fid uint64, ts uint32, text string) *types.Message {
	return env.signed(&types.MessageData{
		Type: types.MessageTypeCastAdd, Fid: fid, Timestamp: ts, Network: types.NetworkDevnet,
		Body: &types.CastAddBody{Text: text},
	})
}

func (env *testEnv) linkAdd(fid uint64, ts uint32, target uint64) *types.Message {
	return env.signed(&types.MessageData{
		Type: types.MessageTypeLinkAdd, Fid: fid, Timestamp: ts, Network: types.NetworkDevnet,
		Body: &types.LinkBody{Type: "follow", TargetFid: target},
	})
}

func (env *testEnv) merge(msg *types.Message) *events.HubEvent {
	env.t.Helper()
	event, err := env.engine.MergeMessage(context.Background(), msg)
	if err != nil {
		env.t.Fatalf("merge message: %v", err)
	}
	return event
}

// Scenario: a fid with one storage unit submits a cast and reads it back.
func TestCastRoundTrip(t *testing.T) {
	env := newTestEnv(t, 0)
	env.registerFid(24)

	cast := env.castAdd(24, env.nowTs(), "hello hub")
	event := env.merge(cast)
	if event.Type != events.HubEventTypeMergeMessage {
		t.Fatalf("unexpected event type %v", event.Type)
	}

	got, err := env.engine.Casts().GetCastAdd(24, cast.Hash)
	if err != nil {
		t.Fatalf("cast by id: %v", err)
	}
	if !bytes.Equal(got.Hash, cast.Hash) {
		t.Fatalf("hash mismatch")
	}
	page, err := env.engine.Casts().CastAddsByFid(24, storePage())
	if err != nil {
		t.Fatalf("casts by fid: %v", err)
	}
	if len(page.Messages) != 1 {
		t.Fatalf("expected one cast, got %d", len(page.Messages))
	}

	// Idempotence: the same bytes are a duplicate and state is unchanged.
	if _, err := env.engine.MergeMessage(context.Background(), cast); !errors.IsKind(err, errors.KindDuplicate) {
		t.Fatalf("expected duplicate, got %v", err)
	}
}

func TestMergeRejectsUnknownSigner(t *testing.T) {
	env := newTestEnv(t, 0)
	env.registerFid(24)

	stranger := newTestEnv(t, 0) // fresh keys, never registered on env
	cast := stranger.castAdd(24, env.nowTs(), "intruder")
	_, err := env.engine.MergeMessage(context.Background(), cast)
	if !errors.IsKind(err, errors.KindValidationFailure) {
		t.Fatalf("expected validation failure, got %v", err)
	}
}

func TestMergeRejectsWithoutStorage(t *testing.T) {
	env := newTestEnv(t, 0)
	// Register identity and signer but no rent.
	addr := env.custody.Address()
	env.mergeEvent(&types.OnChainEvent{
		Type: types.OnChainEventTypeIdRegister, ChainID: 10, Fid: 31,
		BlockNumber: env.nextBlock(), BlockHash: env.randomBytes(32),
		BlockTimestamp: uint64(time.Now().Unix()), TransactionHash: env.randomBytes(32),
		Body: &types.IdRegisterEventBody{To: addr[:], EventType: types.IdRegisterEventTypeRegister},
	})
	env.addSigner(31, env.pub)

	_, err := env.engine.MergeMessage(context.Background(), env.castAdd(31, env.nowTs(), "no room"))
	if !errors.IsKind(err, errors.KindPrunable) {
		t.Fatalf("expected prunable, got %v", err)
	}
}

// Scenario: a signer removal cascades into revocation of its messages.
func TestSignerRevokeCascade(t *testing.T) {
	env := newTestEnv(t, 0)
	env.registerFid(7)

	ts := env.nowTs()
	for i := 0; i < 3; i++ {
		env.merge(env.castAdd(7, ts-uint32(i)-1, "doomed"))
	}

	sub := env.engine.EventLog().Subscribe(16)
	defer sub.Cancel()

	env.mergeEvent(&types.OnChainEvent{
		Type: types.OnChainEventTypeSigner, ChainID: 10, Fid: 7,
		BlockNumber: env.nextBlock(), BlockHash: env.randomBytes(32),
		BlockTimestamp: uint64(time.Now().Unix()), TransactionHash: env.randomBytes(32),
		Body: &types.SignerEventBody{Key: []byte(env.pub), KeyType: 1, EventType: types.SignerEventTypeRemove},
	})

	waitCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := env.engine.WaitRevokerIdle(waitCtx); err != nil {
		t.Fatalf("revoker never drained: %v", err)
	}

	page, err := env.engine.Casts().CastAddsByFid(7, storePage())
	if err != nil {
		t.Fatalf("casts by fid: %v", err)
	}
	if len(page.Messages) != 0 {
		t.Fatalf("revoked casts still queryable: %d", len(page.Messages))
	}

	revokes := 0
	deadline := time.After(2 * time.Second)
	for revokes < 3 {
		select {
		case ev := <-sub.C:
			if ev.Type == events.HubEventTypeRevokeMessage {
				revokes++
			}
		case <-deadline:
			t.Fatalf("saw %d revoke events, want 3", revokes)
		}
	}
}

// Scenario: custody transfer revokes the fname and voids the old delegates.
func TestCustodyTransferCascade(t *testing.T) {
	env := newTestEnv(t, 0)
	env.registerFid(9)

	ts := env.nowTs()
	env.merge(env.signed(&types.MessageData{
		Type: types.MessageTypeUserDataAdd, Fid: 9, Timestamp: ts - 2, Network: types.NetworkDevnet,
		Body: &types.UserDataBody{Type: types.UserDataTypeUsername, Value: "alice.eth"},
	}))
	env.merge(env.castAdd(9, ts-1, "signed under old custody"))

	env.mergeEvent(&types.OnChainEvent{
		Type: types.OnChainEventTypeIdRegister, ChainID: 10, Fid: 9,
		BlockNumber: env.nextBlock(), BlockHash: env.randomBytes(32),
		BlockTimestamp: uint64(time.Now().Unix()), TransactionHash: env.randomBytes(32),
		Body: &types.IdRegisterEventBody{To: env.randomBytes(20), EventType: types.IdRegisterEventTypeTransfer},
	})

	waitCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := env.engine.WaitRevokerIdle(waitCtx); err != nil {
		t.Fatalf("revoker never drained: %v", err)
	}

	if _, err := env.engine.UserData().GetUserData(9, types.UserDataTypeUsername); !errors.IsKind(err, errors.KindNotFound) {
		t.Fatalf("fname must be revoked on transfer, got %v", err)
	}
	page, err := env.engine.Casts().CastAddsByFid(9, storePage())
	if err != nil {
		t.Fatalf("casts by fid: %v", err)
	}
	if len(page.Messages) != 0 {
		t.Fatalf("messages by the voided signer must be revoked")
	}

	// New submissions under the old delegate fail authorization.
	_, err = env.engine.MergeMessage(context.Background(), env.castAdd(9, ts, "late"))
	if !errors.IsKind(err, errors.KindValidationFailure) {
		t.Fatalf("expected validation failure, got %v", err)
	}
}

// Scenario: the link store is capped at 3 slots; the two earliest are pruned.
func TestQuotaPrune(t *testing.T) {
	env := newTestEnv(t, 3)
	env.registerFid(12)

	ts := env.nowTs() - 10
	for i := uint32(1); i <= 5; i++ {
		env.merge(env.linkAdd(12, ts+i, uint64(100+i)))
	}

	page, err := env.engine.Links().LinkAddsByFid(12, "follow", storePage())
	if err != nil {
		t.Fatalf("links by fid: %v", err)
	}
	if len(page.Messages) != 3 {
		t.Fatalf("quota must hold after every commit: %d live links", len(page.Messages))
	}
	// The survivors are the three newest.
	for _, msg := range page.Messages {
		if msg.Timestamp() < ts+3 {
			t.Fatalf("pruning must evict the earliest rows first")
		}
	}

	// Older-than-earliest submissions into a full store are rejected.
	_, err = env.engine.MergeMessage(context.Background(), env.linkAdd(12, ts, 200))
	if !errors.IsKind(err, errors.KindPrunable) {
		t.Fatalf("expected prunable, got %v", err)
	}
}

func TestEventLogOrderAndTrieConsistency(t *testing.T) {
	env := newTestEnv(t, 0)
	env.registerFid(24)

	ts := env.nowTs()
	var merged []*types.Message
	for i := uint32(0); i < 5; i++ {
		msg := env.castAdd(24, ts-i-1, "cast")
		env.merge(msg)
		merged = append(merged, msg)
	}

	// Event ids strictly increase and each merge appears exactly once.
	evs, _, err := env.engine.EventLog().Range(0, 100)
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	var lastID uint64
	mergeCount := 0
	for _, ev := range evs {
		if ev.ID <= lastID {
			t.Fatalf("event ids must be strictly increasing")
		}
		lastID = ev.ID
		if ev.Type == events.HubEventTypeMergeMessage {
			mergeCount++
		}
	}
	if mergeCount != 5 {
		t.Fatalf("expected 5 merge events, got %d", mergeCount)
	}

	// The trie enumerates exactly the accepted sync ids.
	values, err := env.engine.SyncTrie().AllValues(nil)
	if err != nil {
		t.Fatalf("trie values: %v", err)
	}
	if len(values) != len(merged) {
		t.Fatalf("trie holds %d ids, want %d", len(values), len(merged))
	}
	for _, msg := range merged {
		syncId, err := msg.SyncId()
		if err != nil {
			t.Fatalf("sync id: %v", err)
		}
		exists, err := env.engine.SyncTrie().Exists(syncId)
		if err != nil || !exists {
			t.Fatalf("merged message missing from trie: %v", err)
		}
		got, err := env.engine.GetMessageBySyncId(syncId)
		if err != nil || !bytes.Equal(got.Hash, msg.Hash) {
			t.Fatalf("sync id must resolve to the message: %v", err)
		}
	}
}

func TestRebuildSyncTrieMatchesLiveTrie(t *testing.T) {
	env := newTestEnv(t, 0)
	env.registerFid(24)

	ts := env.nowTs()
	for i := uint32(0); i < 4; i++ {
		env.merge(env.castAdd(24, ts-i-1, "cast"))
	}
	before, err := env.engine.SyncTrie().RootHash()
	if err != nil {
		t.Fatalf("root: %v", err)
	}

	inserted, err := env.engine.RebuildSyncTrie(context.Background())
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if inserted != 4 {
		t.Fatalf("rebuild inserted %d ids", inserted)
	}
	after, err := env.engine.SyncTrie().RootHash()
	if err != nil {
		t.Fatalf("root: %v", err)
	}
	if !bytes.Equal(before, after) {
		t.Fatalf("rebuilt trie must match the live one")
	}
}

func storePage() store.PageOptions { return store.PageOptions{} }
