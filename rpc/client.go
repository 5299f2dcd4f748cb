package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"hubd/core/synctrie"
)

// SyncClient drives another hub's sync RPC over HTTP. It implements the
// core/sync Peer contract with a short retry policy for transient failures.
type SyncClient struct {
	base   string
	client *http.Client
}

func NewSyncClient(base string) *SyncClient {
	return &SyncClient{
		base:   base,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *SyncClient) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	operation := func() error {
		target := c.base + path
		if len(query) > 0 {
			target += "?" + query.Encode()
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		return c.do(req, out)
	}
	return backoff.Retry(operation, c.policy(ctx))
}

func (c *SyncClient) postJSON(ctx context.Context, path string, body any, out any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return err
	}
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(encoded))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		return c.do(req, out)
	}
	return backoff.Retry(operation, c.policy(ctx))
}

func (c *SyncClient) policy(ctx context.Context) backoff.BackOffContext {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 100 * time.Millisecond
	policy.MaxElapsedTime = 10 * time.Second
	return backoff.WithContext(policy, ctx)
}

func (c *SyncClient) do(req *http.Request, out any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return backoff.Permanent(errNotFoundRemote)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("peer returned %d: %s", resp.StatusCode, body)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return backoff.Permanent(err)
		}
		return err
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

var errNotFoundRemote = fmt.Errorf("peer has no node at prefix")

func (c *SyncClient) RootHash(ctx context.Context) ([]byte, error) {
	var out struct {
		RootHash string `json:"rootHash"`
	}
	if err := c.getJSON(ctx, "/v1/sync/root", nil, &out); err != nil {
		return nil, err
	}
	return hexutil.Decode(out.RootHash)
}

func (c *SyncClient) Metadata(ctx context.Context, prefix []byte) (*synctrie.NodeMetadata, error) {
	var out syncMetadataJSON
	query := url.Values{"prefix": {formatNibblePrefix(prefix)}}
	if err := c.getJSON(ctx, "/v1/sync/metadata", query, &out); err != nil {
		if err == errNotFoundRemote {
			return nil, nil
		}
		return nil, err
	}
	hash, err := hexutil.Decode(out.Hash)
	if err != nil {
		return nil, err
	}
	meta := &synctrie.NodeMetadata{
		Prefix:      append([]byte(nil), prefix...),
		NumMessages: out.NumMessages,
		Hash:        hash,
		Children:    make(map[byte][]byte, len(out.Children)),
	}
	for rawNibble, rawHash := range out.Children {
		nibbles, err := parseNibblePrefix(rawNibble)
		if err != nil || len(nibbles) != 1 {
			return nil, fmt.Errorf("malformed child nibble %q", rawNibble)
		}
		childHash, err := hexutil.Decode(rawHash)
		if err != nil {
			return nil, err
		}
		meta.Children[nibbles[0]] = childHash
	}
	return meta, nil
}

func (c *SyncClient) SyncIdsByPrefix(ctx context.Context, prefix []byte) ([][]byte, error) {
	var out struct {
		SyncIds []string `json:"syncIds"`
	}
	query := url.Values{"prefix": {formatNibblePrefix(prefix)}}
	if err := c.getJSON(ctx, "/v1/sync/ids", query, &out); err != nil {
		return nil, err
	}
	ids := make([][]byte, 0, len(out.SyncIds))
	for _, raw := range out.SyncIds {
		id, err := hexutil.Decode(raw)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (c *SyncClient) MessagesBySyncIds(ctx context.Context, syncIds [][]byte) ([][]byte, error) {
	req := syncMessagesRequest{SyncIds: make([]string, 0, len(syncIds))}
	for _, id := range syncIds {
		req.SyncIds = append(req.SyncIds, hexutil.Encode(id))
	}
	var out struct {
		Messages []string `json:"messages"`
	}
	if err := c.postJSON(ctx, "/v1/sync/messages", req, &out); err != nil {
		return nil, err
	}
	messages := make([][]byte, 0, len(out.Messages))
	for _, raw := range out.Messages {
		encoded, err := hexutil.Decode(raw)
		if err != nil {
			return nil, err
		}
		messages = append(messages, encoded)
	}
	return messages, nil
}
