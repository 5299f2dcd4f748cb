package validation

import (
	"context"
	"log/slog"
	"sync"

	"github.com/alitto/pond/v2"

	"hubd/core/types"
)

// Pool offloads validation to worker goroutines. Results rejoin callers by a
// monotonic job id; a cancelled job drops its entry and any stray late result
// is logged and discarded.
type Pool struct {
	validator *Validator
	workers   pond.Pool
	logger    *slog.Logger

	mu      sync.Mutex
	nextJob uint64
	pending map[uint64]chan error
}

func NewPool(validator *Validator, workers int, logger *slog.Logger) *Pool {
	if workers <= 0 {
		workers = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		validator: validator,
		workers:   pond.NewPool(workers),
		logger:    logger,
		pending:   make(map[uint64]chan error),
	}
}

// Validate submits the message to the pool and waits for its result or the
// context.
func (p *Pool) Validate(ctx context.Context, msg *types.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	p.nextJob++
	jobID := p.nextJob
	result := make(chan error, 1)
	p.pending[jobID] = result
	p.mu.Unlock()

	p.workers.Submit(func() {
		p.complete(jobID, p.validator.Validate(msg))
	})

	select {
	case <-ctx.Done():
		p.drop(jobID)
		return ctx.Err()
	case err := <-result:
		return err
	}
}

func (p *Pool) complete(jobID uint64, err error) {
	p.mu.Lock()
	result, ok := p.pending[jobID]
	delete(p.pending, jobID)
	p.mu.Unlock()
	if !ok {
		p.logger.Debug("discarding stray validation result", slog.Uint64("job", jobID))
		return
	}
	result <- err
}

func (p *Pool) drop(jobID uint64) {
	p.mu.Lock()
	delete(p.pending, jobID)
	p.mu.Unlock()
}

// Close drains the pool. Outstanding jobs finish; their results are discarded
// if the caller already gave up.
func (p *Pool) Close() {
	p.workers.StopAndWait()
}
