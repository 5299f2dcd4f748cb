// Package engine ties the typed stores, the on-chain event store, the sync
// trie, and the event log into one state machine. All mutation flows through
// here: messages are validated, authorized against on-chain state, merged
// under per-fid serialization, and committed atomically with their trie and
// event-log updates.
package engine

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"hubd/core/errors"
	"hubd/core/events"
	"hubd/core/keyspace"
	"hubd/core/store"
	"hubd/core/synctrie"
	"hubd/core/types"
	"hubd/core/validation"
	"hubd/observability/metrics"
	"hubd/storage"
)

// Config assembles an engine over an open database.
type Config struct {
	DB                storage.Database
	Network           types.Network
	Logger            *slog.Logger
	ValidationWorkers int
	// SlotLimit overrides the per-set quota schedule. Defaults to
	// store.SlotLimit; operators and tests can tighten it.
	SlotLimit func(setPostfix byte, units uint32, at time.Time) uint64
}

type Engine struct {
	logger  *slog.Logger
	network types.Network
	db      storage.Database

	validator     *validation.Pool
	casts         *store.CastStore
	reactions     *store.ReactionStore
	links         *store.LinkStore
	verifications *store.VerificationStore
	userData      *store.UserDataStore
	proofs        *store.UsernameProofStore
	onchain       *store.OnChainEventStore
	cache         *store.StorageCache
	eventLog      *events.Log
	trie          *synctrie.Trie
	metrics       *metrics.HubMetrics

	locks fidLocks
	// commitMu serializes stage+commit of trie- and log-touching
	// transactions so the node cache and the event order match commit order.
	commitMu sync.Mutex

	revoker   *Revoker
	nowFn     func() time.Time
	slotLimit func(setPostfix byte, units uint32, at time.Time) uint64

	stopOnce sync.Once
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func New(cfg Config) (*Engine, error) {
	if cfg.DB == nil {
		return nil, fmt.Errorf("engine: database required")
	}
	if cfg.Network == types.NetworkNone {
		return nil, fmt.Errorf("engine: network required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	onchain := store.NewOnChainEventStore(cfg.DB)
	e := &Engine{
		logger:        logger,
		network:       cfg.Network,
		db:            cfg.DB,
		validator:     validation.NewPool(validation.New(cfg.Network), cfg.ValidationWorkers, logger),
		casts:         store.NewCastStore(cfg.DB),
		reactions:     store.NewReactionStore(cfg.DB),
		links:         store.NewLinkStore(cfg.DB),
		verifications: store.NewVerificationStore(cfg.DB),
		userData:      store.NewUserDataStore(cfg.DB),
		proofs:        store.NewUsernameProofStore(cfg.DB),
		onchain:       onchain,
		cache:         store.NewStorageCache(cfg.DB, onchain),
		eventLog:      events.NewLog(cfg.DB, logger),
		trie:          synctrie.New(cfg.DB),
		metrics:       metrics.Hub(),
		nowFn:         time.Now,
		slotLimit:     cfg.SlotLimit,
	}
	if e.slotLimit == nil {
		e.slotLimit = store.SlotLimit
	}
	e.revoker = newRevoker(e)

	if err := e.cache.Rebuild(); err != nil {
		return nil, fmt.Errorf("engine: rebuild storage cache: %w", err)
	}
	return e, nil
}

// Start launches the background workers.
func (e *Engine) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.revoker.run(ctx)
	}()
}

// Stop halts background workers and drains the validator pool.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		if e.cancel != nil {
			e.cancel()
		}
		e.wg.Wait()
		e.validator.Close()
	})
}

// Store accessors for the query surface.

func (e *Engine) Casts() *store.CastStore                 { return e.casts }
func (e *Engine) Reactions() *store.ReactionStore         { return e.reactions }
func (e *Engine) Links() *store.LinkStore                 { return e.links }
func (e *Engine) Verifications() *store.VerificationStore { return e.verifications }
func (e *Engine) UserData() *store.UserDataStore          { return e.userData }
func (e *Engine) UsernameProofs() *store.UsernameProofStore {
	return e.proofs
}
func (e *Engine) OnChain() *store.OnChainEventStore { return e.onchain }
func (e *Engine) EventLog() *events.Log             { return e.eventLog }
func (e *Engine) SyncTrie() *synctrie.Trie          { return e.trie }
func (e *Engine) Network() types.Network            { return e.network }

func (e *Engine) storeFor(msgType types.MessageType) (store.Store, byte, error) {
	setPostfix, err := keyspace.SetPostfix(msgType)
	if err != nil {
		return nil, 0, errors.Wrap(errors.KindValidationFailure, "unroutable message type", err)
	}
	switch setPostfix {
	case keyspace.PostfixCastMessage:
		return e.casts, setPostfix, nil
	case keyspace.PostfixLinkMessage, keyspace.PostfixLinkCompactStateMessage:
		return e.links, setPostfix, nil
	case keyspace.PostfixReactionMessage:
		return e.reactions, setPostfix, nil
	case keyspace.PostfixVerificationMessage:
		return e.verifications, setPostfix, nil
	case keyspace.PostfixUserDataMessage:
		return e.userData, setPostfix, nil
	case keyspace.PostfixUsernameProofMessage:
		return e.proofs, setPostfix, nil
	default:
		return nil, 0, errors.Newf(errors.KindValidationFailure, "no store for message type %s", msgType)
	}
}

// authorizeSigner enforces the cross-store rule: ed25519 messages must come
// from an active on-chain delegate; EIP-712 messages must come from the
// current custody address.
func (e *Engine) authorizeSigner(msg *types.Message) error {
	switch msg.SignatureScheme {
	case types.SignatureSchemeEd25519:
		if _, err := e.onchain.ActiveSigner(msg.Fid(), msg.Signer); err != nil {
			if errors.IsKind(err, errors.KindNotFound) {
				return errors.Newf(errors.KindValidationFailure, "signer is not an active delegate for fid %d", msg.Fid())
			}
			return err
		}
	case types.SignatureSchemeEip712:
		custody, err := e.onchain.CustodyAddress(msg.Fid())
		if err != nil {
			if errors.IsKind(err, errors.KindNotFound) {
				return errors.Newf(errors.KindValidationFailure, "fid %d is not registered", msg.Fid())
			}
			return err
		}
		if !bytes.Equal(custody, msg.Signer) {
			return errors.New(errors.KindValidationFailure, "signer is not the custody address")
		}
	default:
		return errors.Newf(errors.KindValidationFailure, "unsupported signature scheme %d", msg.SignatureScheme)
	}
	return nil
}

// checkSlot rejects merges that would be immediately evicted: the set is full
// and the incoming message sorts at or before the current earliest row.
func (e *Engine) checkSlot(msg *types.Message, setPostfix byte) error {
	if msg.Type() == types.MessageTypeLinkCompactState {
		return nil
	}
	units, err := e.cache.Units(msg.Fid())
	if err != nil {
		return err
	}
	limit := e.slotLimit(setPostfix, units, e.nowFn())
	if limit == 0 {
		return errors.Newf(errors.KindPrunable, "fid %d has no storage allocated", msg.Fid())
	}
	count := e.cache.Count(msg.Fid(), setPostfix)
	if count < limit {
		return nil
	}
	earliest := e.cache.EarliestTsHash(msg.Fid(), setPostfix)
	if earliest == nil {
		return nil
	}
	tsHash, err := msg.TsHash()
	if err != nil {
		return errors.Wrap(errors.KindValidationFailure, "compose tshash", err)
	}
	if bytes.Compare(tsHash, earliest) <= 0 {
		return errors.New(errors.KindPrunable, "store is full and message is older than the earliest kept row")
	}
	return nil
}

// MergeMessage validates, authorizes, and merges one message, returning the
// hub event describing the commit. Cancellation is honored only before the
// transaction begins.
func (e *Engine) MergeMessage(ctx context.Context, msg *types.Message) (*events.HubEvent, error) {
	start := e.nowFn()
	outcome := "error"
	defer func() {
		e.metrics.ObserveMerge(msg.Type().String(), outcome, time.Since(start).Seconds())
	}()

	if err := e.validator.Validate(ctx, msg); err != nil {
		if errors.KindOf(err) == errors.KindValidationFailure {
			e.metrics.ObserveValidationFailure(msg.Type().String())
		}
		outcome = string(errors.KindOf(err))
		return nil, err
	}
	if err := e.authorizeSigner(msg); err != nil {
		e.metrics.ObserveValidationFailure(msg.Type().String())
		outcome = string(errors.KindOf(err))
		return nil, err
	}

	s, setPostfix, err := e.storeFor(msg.Type())
	if err != nil {
		outcome = string(errors.KindOf(err))
		return nil, err
	}

	unlock := e.locks.lock(msg.Fid())
	defer unlock()

	if err := e.checkSlot(msg, setPostfix); err != nil {
		outcome = string(errors.KindOf(err))
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		outcome = "cancelled"
		return nil, err
	}

	event, result, err := e.commitMerge(s, msg)
	if err != nil {
		outcome = string(errors.KindOf(err))
		return nil, err
	}
	if cacheErr := e.cache.OnMerge(setPostfix, msg, result.Deleted); cacheErr != nil {
		e.logger.Error("storage cache update failed", slog.Any("error", cacheErr))
	}
	e.eventLog.Publish(event)
	e.publishTrieSize()

	// Quota holds after every commit: evict the oldest rows if the merge
	// pushed the set over its limit.
	e.pruneSetLocked(msg.Fid(), s, setPostfix)

	outcome = "merged"
	return event, nil
}

// commitMerge runs the serialized stage+commit section of a merge.
func (e *Engine) commitMerge(s store.Store, msg *types.Message) (*events.HubEvent, *store.MergeResult, error) {
	e.commitMu.Lock()
	defer e.commitMu.Unlock()

	txn := storage.NewTxn(e.db)
	result, err := s.Merge(txn, msg)
	if err != nil {
		// A losing merge can still carry a legacy-key migration.
		if errors.IsKind(err, errors.KindConflict) && txn.Len() > 0 {
			if commitErr := txn.Commit(); commitErr != nil {
				e.logger.Error("legacy key migration failed", slog.Any("error", commitErr))
			}
		}
		return nil, nil, err
	}

	syncId, err := msg.SyncId()
	if err != nil {
		return nil, nil, errors.Wrap(errors.KindValidationFailure, "compose sync id", err)
	}
	if _, err := e.trie.Insert(txn, syncId); err != nil {
		e.trie.Invalidate()
		return nil, nil, errors.Wrap(errors.KindStorageFailure, "stage trie insert", err)
	}
	for _, gone := range result.Deleted {
		goneId, err := gone.SyncId()
		if err != nil {
			e.trie.Invalidate()
			return nil, nil, errors.Wrap(errors.KindStorageFailure, "compose displaced sync id", err)
		}
		if _, err := e.trie.Delete(txn, goneId); err != nil {
			e.trie.Invalidate()
			return nil, nil, errors.Wrap(errors.KindStorageFailure, "stage trie delete", err)
		}
	}

	event := events.MergeMessage(msg, result.Deleted)
	if err := e.eventLog.Append(txn, event); err != nil {
		e.trie.Invalidate()
		return nil, nil, errors.Wrap(errors.KindStorageFailure, "stage hub event", err)
	}
	if err := txn.Commit(); err != nil {
		e.trie.Invalidate()
		return nil, nil, errors.Wrap(errors.KindStorageFailure, "commit merge", err)
	}
	return event, result, nil
}

// deleteMessage removes a message with the given event constructor. Shared by
// prune and revoke paths; the caller holds the fid lock.
func (e *Engine) deleteMessage(s store.Store, setPostfix byte, msg *types.Message, makeEvent func(*types.Message) *events.HubEvent) (*events.HubEvent, error) {
	e.commitMu.Lock()

	txn := storage.NewTxn(e.db)
	if err := s.Revoke(txn, msg); err != nil {
		e.commitMu.Unlock()
		return nil, err
	}
	syncId, err := msg.SyncId()
	if err != nil {
		e.commitMu.Unlock()
		return nil, errors.Wrap(errors.KindStorageFailure, "compose sync id", err)
	}
	if _, err := e.trie.Delete(txn, syncId); err != nil {
		e.trie.Invalidate()
		e.commitMu.Unlock()
		return nil, errors.Wrap(errors.KindStorageFailure, "stage trie delete", err)
	}
	event := makeEvent(msg)
	if err := e.eventLog.Append(txn, event); err != nil {
		e.trie.Invalidate()
		e.commitMu.Unlock()
		return nil, errors.Wrap(errors.KindStorageFailure, "stage hub event", err)
	}
	if err := txn.Commit(); err != nil {
		e.trie.Invalidate()
		e.commitMu.Unlock()
		return nil, errors.Wrap(errors.KindStorageFailure, "commit delete", err)
	}
	e.commitMu.Unlock()

	if cacheErr := e.cache.OnDelete(setPostfix, msg); cacheErr != nil {
		e.logger.Error("storage cache update failed", slog.Any("error", cacheErr))
	}
	e.eventLog.Publish(event)
	e.publishTrieSize()
	return event, nil
}

// pruneSetLocked evicts earliest rows until the set is inside its limit. The
// caller holds the fid lock.
func (e *Engine) pruneSetLocked(fid uint64, s store.Store, setPostfix byte) []*events.HubEvent {
	var pruned []*events.HubEvent
	for {
		units, err := e.cache.Units(fid)
		if err != nil {
			e.logger.Error("unit lookup failed during prune", slog.Any("error", err))
			return pruned
		}
		limit := e.slotLimit(setPostfix, units, e.nowFn())
		if e.cache.Count(fid, setPostfix) <= limit {
			return pruned
		}
		victim, err := s.Earliest(fid)
		if err != nil {
			e.logger.Error("earliest lookup failed during prune", slog.Any("error", err))
			return pruned
		}
		if victim == nil {
			return pruned
		}
		event, err := e.deleteMessage(s, setPostfix, victim, events.PruneMessage)
		if err != nil {
			e.logger.Error("prune failed", slog.Uint64("fid", fid), slog.Any("error", err))
			return pruned
		}
		e.metrics.ObservePrune(victim.Type().String())
		pruned = append(pruned, event)
	}
}

// PruneMessages enforces quota across every store of a fid and returns the
// emitted prune events.
func (e *Engine) PruneMessages(ctx context.Context, fid uint64) ([]*events.HubEvent, error) {
	unlock := e.locks.lock(fid)
	defer unlock()

	var pruned []*events.HubEvent
	for _, s := range []store.Store{e.casts, e.links, e.reactions, e.verifications, e.userData, e.proofs} {
		if err := ctx.Err(); err != nil {
			return pruned, err
		}
		pruned = append(pruned, e.pruneSetLocked(fid, s, s.SetPostfixes()[0])...)
	}
	return pruned, nil
}

// MergeOnChainEvent ingests one validated contract event and applies the
// cascade rules it triggers.
func (e *Engine) MergeOnChainEvent(ctx context.Context, ev *types.OnChainEvent) (*events.HubEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	unlock := e.locks.lock(ev.Fid)
	defer unlock()

	// Snapshot the custody before the event lands so transfers can cascade.
	var previousCustody []byte
	if ev.Type == types.OnChainEventTypeIdRegister {
		if custody, err := e.onchain.CustodyAddress(ev.Fid); err == nil {
			previousCustody = custody
		}
	}
	var previousSigners []*types.OnChainEvent
	if body := ev.IdRegister(); body != nil && body.EventType == types.IdRegisterEventTypeTransfer {
		signers, err := e.onchain.ActiveSigners(ev.Fid)
		if err != nil {
			return nil, err
		}
		previousSigners = signers
	}

	e.commitMu.Lock()
	txn := storage.NewTxn(e.db)
	if err := e.onchain.Merge(txn, ev); err != nil {
		e.commitMu.Unlock()
		return nil, err
	}
	event := events.MergeOnChainEvent(ev)
	if err := e.eventLog.Append(txn, event); err != nil {
		e.commitMu.Unlock()
		return nil, errors.Wrap(errors.KindStorageFailure, "stage hub event", err)
	}
	if err := txn.Commit(); err != nil {
		e.commitMu.Unlock()
		return nil, errors.Wrap(errors.KindStorageFailure, "commit on-chain event", err)
	}
	e.commitMu.Unlock()

	e.eventLog.Publish(event)
	e.metrics.ObserveOnChainEvent(ev.Type.String())

	switch ev.Type {
	case types.OnChainEventTypeStorageRent:
		e.cache.InvalidateUnits(ev.Fid)
	case types.OnChainEventTypeSigner:
		if body := ev.Signer(); body != nil && body.EventType == types.SignerEventTypeRemove {
			e.revoker.Enqueue(ev.Fid, body.Key)
		}
	case types.OnChainEventTypeIdRegister:
		if body := ev.IdRegister(); body != nil && body.EventType == types.IdRegisterEventTypeTransfer {
			e.handleCustodyTransfer(ev.Fid, previousCustody, previousSigners)
		}
	}
	return event, nil
}

// handleCustodyTransfer revokes state that rode on the outgoing custody:
// every delegate it had added, and the fid's username ownership.
func (e *Engine) handleCustodyTransfer(fid uint64, previousCustody []byte, previousSigners []*types.OnChainEvent) {
	for _, signerEv := range previousSigners {
		if body := signerEv.Signer(); body != nil {
			e.revoker.Enqueue(fid, body.Key)
		}
	}
	if len(previousCustody) > 0 {
		e.revoker.Enqueue(fid, previousCustody)
	}

	// Username ownership follows custody.
	if msg, err := e.userData.GetUserData(fid, types.UserDataTypeUsername); err == nil {
		if _, err := e.deleteMessage(e.userData, keyspace.PostfixUserDataMessage, msg, events.RevokeMessage); err != nil {
			e.logger.Error("username revoke failed", slog.Uint64("fid", fid), slog.Any("error", err))
		} else {
			e.metrics.ObserveRevoke(msg.Type().String())
		}
	}
}

// RevokeMessagesBySigner deletes every message a signer produced for a fid.
// Items are processed one commit at a time; cancellation lands between items.
func (e *Engine) RevokeMessagesBySigner(ctx context.Context, fid uint64, signer []byte) (int, error) {
	unlock := e.locks.lock(fid)
	defer unlock()

	prefix := keyspace.BySignerPrefix(fid, signer)
	it := e.db.NewIterator(prefix, false)
	type victimRef struct {
		msgType types.MessageType
		tsHash  []byte
	}
	var victims []victimRef
	for it.Next() {
		key := it.Key()
		if len(key) < len(prefix)+1+types.TsHashLength {
			continue
		}
		victims = append(victims, victimRef{
			msgType: types.MessageType(key[len(key)-types.TsHashLength-1]),
			tsHash:  append([]byte(nil), key[len(key)-types.TsHashLength:]...),
		})
	}
	if err := it.Error(); err != nil {
		it.Release()
		return 0, errors.Wrap(errors.KindStorageFailure, "by-signer scan", err)
	}
	it.Release()

	revoked := 0
	for _, victim := range victims {
		if err := e.revoker.limiterWait(ctx); err != nil {
			return revoked, err
		}
		s, setPostfix, err := e.storeFor(victim.msgType)
		if err != nil {
			e.logger.Warn("skipping unroutable by-signer row", slog.Any("error", err))
			continue
		}
		raw, err := e.db.Get(keyspace.MessagePrimaryKey(fid, setPostfix, victim.tsHash))
		if err == storage.ErrNotFound {
			continue
		}
		if err != nil {
			return revoked, errors.Wrap(errors.KindStorageFailure, "load victim", err)
		}
		msg, err := types.DecodeMessage(raw)
		if err != nil {
			return revoked, errors.Wrap(errors.KindStorageFailure, "decode victim", err)
		}
		if _, err := e.deleteMessage(s, setPostfix, msg, events.RevokeMessage); err != nil {
			e.logger.Error("revoke failed", slog.Uint64("fid", fid), slog.Any("error", err))
			continue
		}
		e.metrics.ObserveRevoke(msg.Type().String())
		revoked++
	}
	return revoked, nil
}

// GetMessageBySyncId resolves a trie leaf back to its message bytes.
func (e *Engine) GetMessageBySyncId(syncId []byte) (*types.Message, error) {
	ts, msgType, fid, hash, err := types.SplitSyncId(syncId)
	if err != nil {
		return nil, errors.Wrap(errors.KindInvalidParam, "sync id", err)
	}
	setPostfix, err := keyspace.SetPostfix(msgType)
	if err != nil {
		return nil, errors.Wrap(errors.KindInvalidParam, "sync id type", err)
	}
	tsHash, err := types.MakeTsHash(ts, hash)
	if err != nil {
		return nil, errors.Wrap(errors.KindInvalidParam, "sync id hash", err)
	}
	raw, err := e.db.Get(keyspace.MessagePrimaryKey(fid, setPostfix, tsHash))
	if err == storage.ErrNotFound {
		return nil, errors.New(errors.KindNotFound, "no message for sync id")
	}
	if err != nil {
		return nil, errors.Wrap(errors.KindStorageFailure, "load message", err)
	}
	return types.DecodeMessage(raw)
}

// StorageLimit describes one set's allowance and usage.
type StorageLimit struct {
	Name  string
	Limit uint64
	Used  uint64
}

// StorageLimits reports a fid's purchased units and per-set usage.
func (e *Engine) StorageLimits(fid uint64) (uint32, []StorageLimit, error) {
	units, err := e.cache.Units(fid)
	if err != nil {
		return 0, nil, err
	}
	now := e.nowFn()
	sets := []struct {
		name    string
		postfix byte
	}{
		{"casts", keyspace.PostfixCastMessage},
		{"links", keyspace.PostfixLinkMessage},
		{"reactions", keyspace.PostfixReactionMessage},
		{"verifications", keyspace.PostfixVerificationMessage},
		{"user_data", keyspace.PostfixUserDataMessage},
		{"username_proofs", keyspace.PostfixUsernameProofMessage},
	}
	limits := make([]StorageLimit, 0, len(sets))
	for _, set := range sets {
		limits = append(limits, StorageLimit{
			Name:  set.name,
			Limit: e.slotLimit(set.postfix, units, now),
			Used:  e.cache.Count(fid, set.postfix),
		})
	}
	return units, limits, nil
}

// RebuildSyncTrie wipes the persisted trie and reinserts every primary row's
// SyncId. Used by the backfill migration and the admin RPC.
func (e *Engine) RebuildSyncTrie(ctx context.Context) (uint64, error) {
	e.commitMu.Lock()
	defer e.commitMu.Unlock()

	wipe := storage.NewTxn(e.db)
	it := e.db.NewIterator(keyspace.SyncTrieNodePrefix(), false)
	for it.Next() {
		wipe.Delete(it.Key())
	}
	if err := it.Error(); err != nil {
		it.Release()
		return 0, errors.Wrap(errors.KindStorageFailure, "trie wipe scan", err)
	}
	it.Release()
	if err := wipe.Commit(); err != nil {
		return 0, errors.Wrap(errors.KindStorageFailure, "wipe trie", err)
	}
	e.trie.Invalidate()

	var inserted uint64
	txn := storage.NewTxn(e.db)
	users := e.db.NewIterator([]byte{keyspace.RootPrefixUser}, false)
	defer users.Release()
	for users.Next() {
		if err := ctx.Err(); err != nil {
			return inserted, err
		}
		key := users.Key()
		if len(key) != 1+4+1+types.TsHashLength || !keyspace.IsMessageSetPostfix(key[5]) {
			continue
		}
		msg, err := types.DecodeMessage(users.Value())
		if err != nil {
			continue
		}
		syncId, err := msg.SyncId()
		if err != nil {
			continue
		}
		if ok, err := e.trie.Insert(txn, syncId); err != nil {
			e.trie.Invalidate()
			return inserted, errors.Wrap(errors.KindStorageFailure, "trie insert", err)
		} else if ok {
			inserted++
		}
	}
	if err := users.Error(); err != nil {
		return inserted, errors.Wrap(errors.KindStorageFailure, "primary row scan", err)
	}
	if err := txn.Commit(); err != nil {
		e.trie.Invalidate()
		return inserted, errors.Wrap(errors.KindStorageFailure, "commit trie rebuild", err)
	}
	e.publishTrieSize()
	return inserted, nil
}

func (e *Engine) publishTrieSize() {
	if count, err := e.trie.Count(); err == nil {
		e.metrics.SetSyncTrieSize(count)
	}
}

// RebuildStorageCache re-derives the in-memory storage counters from the
// primary rows. Exposed for the backfill migration.
func (e *Engine) RebuildStorageCache() error {
	return e.cache.Rebuild()
}

// WaitRevokerIdle blocks until the revoke queue drains. Used by tests that
// assert on cascade effects.
func (e *Engine) WaitRevokerIdle(ctx context.Context) error {
	return e.revoker.WaitIdle(ctx)
}

// SetNowFunc overrides the engine clock for tests.
func (e *Engine) SetNowFunc(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	e.nowFn = now
	e.eventLog.SetNowFunc(now)
}
