// Package sync implements the peer reconciliation walk: two hubs compare
// sync-trie digests, descend into differing subtrees, and fetch the messages
// behind the sync ids one of them is missing. The walk is stateless per
// request and safe to run while either side keeps merging.
package sync

import (
	"bytes"
	"context"
	"log/slog"

	"github.com/google/uuid"

	"hubd/core/engine"
	"hubd/core/errors"
	"hubd/core/synctrie"
	"hubd/core/types"
)

// Peer is the remote half of a reconciliation session. The rpc package
// provides the HTTP implementation; tests drive it in-process.
type Peer interface {
	RootHash(ctx context.Context) ([]byte, error)
	Metadata(ctx context.Context, prefix []byte) (*synctrie.NodeMetadata, error)
	SyncIdsByPrefix(ctx context.Context, prefix []byte) ([][]byte, error)
	MessagesBySyncIds(ctx context.Context, syncIds [][]byte) ([][]byte, error)
}

// fetchThreshold is the subtree size below which the walk stops descending
// and just enumerates ids.
const fetchThreshold = 64

// Result summarizes one reconciliation run.
type Result struct {
	DivergentPrefixes int
	FetchedMessages   int
	MergedMessages    int
	FailedMessages    int
}

type Reconciler struct {
	engine *engine.Engine
	peer   Peer
	logger *slog.Logger
}

func NewReconciler(e *engine.Engine, peer Peer, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{engine: e, peer: peer, logger: logger}
}

// Run reconciles once: it returns immediately when the roots agree, and
// otherwise walks the divergence and merges every message the peer has that
// this hub lacks.
func (r *Reconciler) Run(ctx context.Context) (*Result, error) {
	session := uuid.NewString()
	result := &Result{}

	remoteRoot, err := r.peer.RootHash(ctx)
	if err != nil {
		return nil, errors.Wrap(errors.KindNetworkFailure, "fetch peer root", err)
	}
	localRoot, err := r.engine.SyncTrie().RootHash()
	if err != nil {
		return nil, err
	}
	if bytes.Equal(localRoot, remoteRoot) {
		return result, nil
	}

	r.logger.Info("sync roots diverge, walking trie",
		slog.String("session", session))

	if err := r.walk(ctx, nil, result); err != nil {
		return result, err
	}
	r.logger.Info("reconciliation finished",
		slog.String("session", session),
		slog.Int("fetched", result.FetchedMessages),
		slog.Int("merged", result.MergedMessages),
		slog.Int("failed", result.FailedMessages))
	return result, nil
}

func (r *Reconciler) walk(ctx context.Context, prefix []byte, result *Result) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	remote, err := r.peer.Metadata(ctx, prefix)
	if err != nil {
		return errors.Wrap(errors.KindNetworkFailure, "fetch peer metadata", err)
	}
	if remote == nil {
		// The peer has nothing under this prefix; nothing to fetch.
		return nil
	}
	local, err := r.engine.SyncTrie().Metadata(prefix)
	if err != nil {
		return err
	}
	if local != nil && bytes.Equal(local.Hash, remote.Hash) {
		return nil
	}
	result.DivergentPrefixes++

	// Small or leafy subtrees are fetched directly.
	if remote.NumMessages <= fetchThreshold || len(remote.Children) == 0 {
		return r.fetchPrefix(ctx, prefix, result)
	}

	for nibble := byte(0); nibble < 16; nibble++ {
		remoteChild, ok := remote.Children[nibble]
		if !ok {
			continue
		}
		var localChild []byte
		if local != nil {
			localChild = local.Children[nibble]
		}
		if bytes.Equal(localChild, remoteChild) {
			continue
		}
		childPrefix := append(append([]byte(nil), prefix...), nibble)
		if err := r.walk(ctx, childPrefix, result); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reconciler) fetchPrefix(ctx context.Context, prefix []byte, result *Result) error {
	ids, err := r.peer.SyncIdsByPrefix(ctx, prefix)
	if err != nil {
		return errors.Wrap(errors.KindNetworkFailure, "fetch peer sync ids", err)
	}
	var missing [][]byte
	for _, id := range ids {
		exists, err := r.engine.SyncTrie().Exists(id)
		if err != nil {
			return err
		}
		if !exists {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	raw, err := r.peer.MessagesBySyncIds(ctx, missing)
	if err != nil {
		return errors.Wrap(errors.KindNetworkFailure, "fetch peer messages", err)
	}
	result.FetchedMessages += len(raw)
	for _, encoded := range raw {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.mergeRaw(ctx, encoded); err != nil {
			result.FailedMessages++
			r.logger.Warn("failed to merge synced message", slog.Any("error", err))
			continue
		}
		result.MergedMessages++
	}
	return nil
}

func (r *Reconciler) mergeRaw(ctx context.Context, encoded []byte) error {
	msg, err := types.DecodeMessage(encoded)
	if err != nil {
		return errors.Wrap(errors.KindParseFailure, "decode synced message", err)
	}
	_, err = r.engine.MergeMessage(ctx, msg)
	switch errors.KindOf(err) {
	case errors.KindDuplicate, errors.KindConflict, errors.KindPrunable:
		// Losing or already-known messages are expected during sync.
		return nil
	}
	return err
}
