package rpc

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"hubd/core/engine"
	hubsync "hubd/core/sync"
	"hubd/core/types"
	"hubd/crypto"
	"hubd/storage"
)

type testEnv struct {
	t      *testing.T
	engine *engine.Engine
	server *Server
	ts     *httptest.Server
	pub    ed25519.PublicKey
	priv   ed25519.PrivateKey
	block  uint64
	secret []byte
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	e, err := engine.New(engine.Config{DB: storage.NewMemDB(), Network: types.NetworkDevnet})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	e.Start()
	t.Cleanup(e.Stop)

	pub, priv, err := crypto.GenerateSignerKey()
	if err != nil {
		t.Fatalf("signer key: %v", err)
	}
	secret := []byte("test-admin-secret")
	server := NewServer(e, nil, WithAdminSecret(string(secret)))
	ts := httptest.NewServer(server.Router())
	t.Cleanup(ts.Close)

	return &testEnv{t: t, engine: e, server: server, ts: ts, pub: pub, priv: priv, block: 100, secret: secret}
}

func (env *testEnv) randomBytes(n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		env.t.Fatalf("random bytes: %v", err)
	}
	return b
}

func (env *testEnv) registerFid(fid uint64) {
	env.t.Helper()
	ctx := context.Background()
	mkEvent := func(eventType types.OnChainEventType, body types.OnChainEventBody) *types.OnChainEvent {
		env.block++
		return &types.OnChainEvent{
			Type: eventType, ChainID: 10, Fid: fid,
			BlockNumber: env.block, BlockHash: env.randomBytes(32),
			BlockTimestamp: uint64(time.Now().Unix()), TransactionHash: env.randomBytes(32),
			Body: body,
		}
	}
	if _, err := env.engine.MergeOnChainEvent(ctx, mkEvent(types.OnChainEventTypeIdRegister,
		&types.IdRegisterEventBody{To: env.randomBytes(20), EventType: types.IdRegisterEventTypeRegister})); err != nil {
		env.t.Fatalf("register: %v", err)
	}
	if _, err := env.engine.MergeOnChainEvent(ctx, mkEvent(types.OnChainEventTypeSigner,
		&types.SignerEventBody{Key: []byte(env.pub), KeyType: 1, EventType: types.SignerEventTypeAdd})); err != nil {
		env.t.Fatalf("signer: %v", err)
	}
	if _, err := env.engine.MergeOnChainEvent(ctx, mkEvent(types.OnChainEventTypeStorageRent,
		&types.StorageRentEventBody{Payer: env.randomBytes(20), Units: 1, Payment: []byte{1}})); err != nil {
		env.t.Fatalf("rent: %v", err)
	}
}

func (env *testEnv) castAdd(fid uint64, ts uint32, text string) *types.Message {
	env.t.Helper()
	data := &types.MessageData{
		Type: types.MessageTypeCastAdd, Fid: fid, Timestamp: ts, Network: types.NetworkDevnet,
		Body: &types.CastAddBody{Text: text},
	}
	encoded, err := data.Encode()
	if err != nil {
		env.t.Fatalf("encode: %v", err)
	}
	hash := types.ComputeMessageHash(encoded)
	return &types.Message{
		Data: data, Hash: hash, HashScheme: types.HashSchemeBlake3,
		Signature:       crypto.SignMessageHash(env.priv, hash),
		SignatureScheme: types.SignatureSchemeEd25519,
		Signer:          append([]byte(nil), env.pub...),
	}
}

func (env *testEnv) nowTs() uint32 {
	ts, err := types.ToFarcasterTime(time.Now())
	if err != nil {
		env.t.Fatalf("farcaster time: %v", err)
	}
	return ts
}

func (env *testEnv) submit(msg *types.Message) *http.Response {
	env.t.Helper()
	encoded, err := msg.Encode()
	if err != nil {
		env.t.Fatalf("encode message: %v", err)
	}
	resp, err := http.Post(env.ts.URL+"/v1/submitMessage", "application/octet-stream", bytes.NewReader(encoded))
	if err != nil {
		env.t.Fatalf("submit: %v", err)
	}
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestSubmitAndQueryRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	env.registerFid(24)

	cast := env.castAdd(24, env.nowTs(), "over the wire")
	resp := env.submit(cast)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("submit status %d", resp.StatusCode)
	}
	var submitted messageJSON
	decodeJSON(t, resp, &submitted)
	if submitted.Fid != 24 || submitted.Type != "CAST_ADD" {
		t.Fatalf("unexpected submit response: %+v", submitted)
	}

	// Duplicate submission succeeds with the marker header.
	dup := env.submit(cast)
	dup.Body.Close()
	if dup.StatusCode != http.StatusOK || dup.Header.Get("X-Hubd-Duplicate") != "true" {
		t.Fatalf("duplicate handling: status=%d header=%q", dup.StatusCode, dup.Header.Get("X-Hubd-Duplicate"))
	}

	resp, err := http.Get(env.ts.URL + "/v1/castById?fid=24&hash=" + submitted.Hash)
	if err != nil {
		t.Fatalf("cast by id: %v", err)
	}
	var fetched messageJSON
	decodeJSON(t, resp, &fetched)
	if fetched.Hash != submitted.Hash {
		t.Fatalf("hash mismatch over http")
	}

	resp, err = http.Get(env.ts.URL + "/v1/castsByFid?fid=24")
	if err != nil {
		t.Fatalf("casts by fid: %v", err)
	}
	var page messagesPageJSON
	decodeJSON(t, resp, &page)
	if len(page.Messages) != 1 {
		t.Fatalf("expected one cast, got %d", len(page.Messages))
	}
}

func TestSubmitRejectsGarbage(t *testing.T) {
	env := newTestEnv(t)
	resp, err := http.Post(env.ts.URL+"/v1/submitMessage", "application/octet-stream", bytes.NewReader([]byte{0x01, 0x02}))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("garbage must be a 400, got %d", resp.StatusCode)
	}
	var body errorBody
	decodeJSON(t, resp, &body)
	if body.Code != "bad_request.parse_failure" {
		t.Fatalf("unexpected error code %q", body.Code)
	}
}

func TestNotFoundMapsTo404(t *testing.T) {
	env := newTestEnv(t)
	resp, err := http.Get(env.ts.URL + "/v1/usernameproof/nobody")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestPagination(t *testing.T) {
	env := newTestEnv(t)
	env.registerFid(24)

	ts := env.nowTs() - 100
	for i := uint32(0); i < 5; i++ {
		resp := env.submit(env.castAdd(24, ts+i, "page me"))
		resp.Body.Close()
	}

	resp, err := http.Get(env.ts.URL + "/v1/castsByFid?fid=24&pageSize=2")
	if err != nil {
		t.Fatalf("page 1: %v", err)
	}
	var first messagesPageJSON
	decodeJSON(t, resp, &first)
	if len(first.Messages) != 2 || first.NextPageToken == "" {
		t.Fatalf("page 1: %d messages, token %q", len(first.Messages), first.NextPageToken)
	}

	seen := map[string]bool{}
	for _, msg := range first.Messages {
		seen[msg.Hash] = true
	}
	token := first.NextPageToken
	total := len(first.Messages)
	for token != "" {
		resp, err := http.Get(env.ts.URL + "/v1/castsByFid?fid=24&pageSize=2&pageToken=" + token)
		if err != nil {
			t.Fatalf("next page: %v", err)
		}
		var page messagesPageJSON
		decodeJSON(t, resp, &page)
		for _, msg := range page.Messages {
			if seen[msg.Hash] {
				t.Fatalf("page overlap on %s", msg.Hash)
			}
			seen[msg.Hash] = true
		}
		total += len(page.Messages)
		token = page.NextPageToken
	}
	if total != 5 {
		t.Fatalf("pagination returned %d of 5 messages", total)
	}
}

func TestAdminAuth(t *testing.T) {
	env := newTestEnv(t)

	// No credentials.
	resp, err := http.Post(env.ts.URL+"/v1/admin/rebuild-synctrie", "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("missing token must be 401, got %d", resp.StatusCode)
	}

	// Valid token without the admin claim.
	token, err := MintAdminToken(env.secret, false)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	req, _ := http.NewRequest(http.MethodPost, env.ts.URL+"/v1/admin/rebuild-synctrie", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("non-admin token must be 403, got %d", resp.StatusCode)
	}

	// Admin token.
	token, err = MintAdminToken(env.secret, true)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	req, _ = http.NewRequest(http.MethodPost, env.ts.URL+"/v1/admin/rebuild-synctrie", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("admin token must pass, got %d", resp.StatusCode)
	}
}

// Two hubs reconcile over the real HTTP surface.
func TestHTTPSyncReconciliation(t *testing.T) {
	a := newTestEnv(t)
	b := newTestEnv(t)
	// Share signer keys so both hubs accept the same messages.
	b.pub, b.priv = a.pub, a.priv
	a.registerFid(24)
	b.registerFid(24)

	ts := a.nowTs() - 10
	m1 := a.castAdd(24, ts, "m1")
	m2 := a.castAdd(24, ts+1, "m2")
	m3 := a.castAdd(24, ts+2, "m3")

	for _, msg := range []*types.Message{m1, m2} {
		resp := a.submit(msg)
		resp.Body.Close()
	}
	for _, msg := range []*types.Message{m2, m3} {
		resp := b.submit(msg)
		resp.Body.Close()
	}

	ctx := context.Background()
	if _, err := hubsync.NewReconciler(a.engine, NewSyncClient(b.ts.URL), nil).Run(ctx); err != nil {
		t.Fatalf("reconcile a<-b: %v", err)
	}
	if _, err := hubsync.NewReconciler(b.engine, NewSyncClient(a.ts.URL), nil).Run(ctx); err != nil {
		t.Fatalf("reconcile b<-a: %v", err)
	}

	rootA, err := a.engine.SyncTrie().RootHash()
	if err != nil {
		t.Fatalf("root a: %v", err)
	}
	rootB, err := b.engine.SyncTrie().RootHash()
	if err != nil {
		t.Fatalf("root b: %v", err)
	}
	if !bytes.Equal(rootA, rootB) {
		t.Fatalf("roots must converge over http sync")
	}
}
