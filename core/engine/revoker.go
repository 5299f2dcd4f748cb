package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/rlp"
	"golang.org/x/time/rate"

	"hubd/core/keyspace"
)

const jobTypeRevokeSigner byte = 1

// drainInterval bounds how long a crashed-over job waits before the next
// sweep picks it up.
const drainInterval = 30 * time.Second

type revokeJob struct {
	Fid    uint64
	Signer []byte
}

// Revoker drains the durable revoke-by-signer queue. Jobs survive restarts;
// per-item failures are logged and the job is retried with backoff before
// being pushed to the back of the queue.
type Revoker struct {
	engine  *Engine
	logger  *slog.Logger
	limiter *rate.Limiter
	notify  chan struct{}

	mu  sync.Mutex
	seq uint32
}

func newRevoker(e *Engine) *Revoker {
	return &Revoker{
		engine: e,
		logger: e.logger,
		// Pace the KV sweeps so revocation storms cannot starve merges.
		limiter: rate.NewLimiter(rate.Limit(200), 50),
		notify:  make(chan struct{}, 1),
	}
}

// Enqueue persists a job and nudges the worker. Safe to call from any
// goroutine after the triggering event has committed.
func (r *Revoker) Enqueue(fid uint64, signer []byte) {
	r.mu.Lock()
	r.seq++
	seq := r.seq
	r.mu.Unlock()

	encoded, err := rlp.EncodeToBytes(&revokeJob{Fid: fid, Signer: signer})
	if err != nil {
		r.logger.Error("encode revoke job", slog.Any("error", err))
		return
	}
	key := keyspace.JobQueueKey(jobTypeRevokeSigner, uint64(time.Now().UnixMilli()), seq)
	if err := r.engine.db.Put(key, encoded); err != nil {
		r.logger.Error("enqueue revoke job", slog.Any("error", err))
		return
	}
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

func (r *Revoker) run(ctx context.Context) {
	ticker := time.NewTicker(drainInterval)
	defer ticker.Stop()
	for {
		r.drain(ctx)
		select {
		case <-ctx.Done():
			return
		case <-r.notify:
		case <-ticker.C:
		}
	}
}

func (r *Revoker) drain(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		key, job, depth := r.peek()
		r.engine.metrics.SetRevokeQueueDepth(depth)
		if job == nil {
			return
		}

		policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
		err := backoff.Retry(func() error {
			_, err := r.engine.RevokeMessagesBySigner(ctx, job.Fid, job.Signer)
			return err
		}, policy)
		if err != nil {
			r.logger.Error("revoke job failed, requeueing",
				slog.Uint64("fid", job.Fid),
				slog.Any("error", err))
			if ctx.Err() != nil {
				return
			}
			// Push to the back so one poisoned job cannot wedge the queue.
			if delErr := r.engine.db.Delete(key); delErr == nil {
				r.Enqueue(job.Fid, job.Signer)
			}
			continue
		}
		if err := r.engine.db.Delete(key); err != nil {
			r.logger.Error("dequeue revoke job", slog.Any("error", err))
			return
		}
	}
}

// peek returns the oldest job plus the current queue depth.
func (r *Revoker) peek() ([]byte, *revokeJob, int) {
	it := r.engine.db.NewIterator(keyspace.JobQueuePrefix(jobTypeRevokeSigner), false)
	defer it.Release()

	var key []byte
	var job *revokeJob
	depth := 0
	for it.Next() {
		depth++
		if job != nil {
			continue
		}
		var decoded revokeJob
		if err := rlp.DecodeBytes(it.Value(), &decoded); err != nil {
			r.logger.Warn("dropping malformed revoke job", slog.Any("error", err))
			_ = r.engine.db.Delete(it.Key())
			depth--
			continue
		}
		key = it.Key()
		job = &decoded
	}
	return key, job, depth
}

// WaitIdle blocks until the queue is observed empty or the context ends.
// Used by tests through Engine.WaitRevokerIdle.
func (r *Revoker) WaitIdle(ctx context.Context) error {
	for {
		_, job, _ := r.peek()
		if job == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// limiterWait paces by-signer sweeps.
func (r *Revoker) limiterWait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}
