// Package worker runs queued pipeline jobs on a bounded pool. It is the
// seam between intake (which must answer webhooks in milliseconds) and the
// orchestrator (which holds a unit for minutes).
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/gated/internal/flowlock"
	"github.com/fyrsmithlabs/gated/internal/review"
)

var (
	// ErrQueueFull is returned when the job queue cannot take more work.
	ErrQueueFull = errors.New("worker queue full")

	// ErrStopped is returned when the pool is shutting down.
	ErrStopped = errors.New("worker pool stopped")
)

// requeueDelay spaces out retries when a superseding run arrives while the
// cancelled run still holds the unit's flow-lock.
const requeueDelay = 250 * time.Millisecond

// RunFunc executes one pipeline run to its terminal outcome.
type RunFunc func(ctx context.Context, unit review.Unit) error

// Pool is a fixed-size worker pool with a bounded queue. Enqueue never
// blocks; Cancel reaches both queued and in-flight work.
type Pool struct {
	run     RunFunc
	workers int
	logger  *zap.Logger
	jobs    chan review.Unit

	mu        sync.Mutex
	queued    map[string]bool
	inflight  map[string]context.CancelFunc
	tombstone map[string]bool
	stopped   bool

	wg sync.WaitGroup
}

// New creates a pool. workers bounds concurrent runs; queueDepth bounds
// waiting jobs beyond that.
func New(workers, queueDepth int, run RunFunc, logger *zap.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueDepth < 1 {
		queueDepth = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		run:       run,
		workers:   workers,
		logger:    logger,
		jobs:      make(chan review.Unit, queueDepth),
		queued:    make(map[string]bool),
		inflight:  make(map[string]context.CancelFunc),
		tombstone: make(map[string]bool),
	}
}

// Start launches the workers. They stop when ctx is cancelled or Stop is
// called.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	p.logger.Info("worker pool started",
		zap.Int("workers", p.workers),
		zap.Int("queue_depth", cap(p.jobs)))
}

// Enqueue schedules a run. Duplicate keys already waiting in the queue are
// dropped silently: webhook redeliveries must not double-run a unit.
//
// The buffered send happens under the mutex so it cannot race Stop closing
// the channel.
func (p *Pool) Enqueue(unit review.Unit) error {
	key := unit.Key()

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return ErrStopped
	}
	if p.queued[key] {
		p.logger.Debug("duplicate enqueue dropped", zap.String("unit", key))
		return nil
	}

	select {
	case p.jobs <- unit:
		p.queued[key] = true
		delete(p.tombstone, key)
		return nil
	default:
		return ErrQueueFull
	}
}

// Cancel stops work for a unit key. An in-flight run has its context
// cancelled; a queued job is tombstoned and skipped when a worker reaches
// it. Reports whether anything was found.
func (p *Pool) Cancel(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if cancel, ok := p.inflight[key]; ok {
		cancel()
		p.logger.Info("cancelled in-flight run", zap.String("unit", key))
		return true
	}
	if p.queued[key] {
		p.tombstone[key] = true
		p.logger.Info("cancelled queued run", zap.String("unit", key))
		return true
	}
	return false
}

// Stop prevents new enqueues and waits for in-flight work to finish, up to
// the context deadline.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.jobs)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool drained")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats reports queue and execution occupancy.
func (p *Pool) Stats() (queued, inflight int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queued), len(p.inflight)
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	log := p.logger.With(zap.Int("worker", id))

	for {
		select {
		case <-ctx.Done():
			return
		case unit, ok := <-p.jobs:
			if !ok {
				return
			}
			p.dispatch(ctx, log, unit)
		}
	}
}

func (p *Pool) dispatch(ctx context.Context, log *zap.Logger, unit review.Unit) {
	key := unit.Key()

	p.mu.Lock()
	delete(p.queued, key)
	if p.tombstone[key] {
		delete(p.tombstone, key)
		p.mu.Unlock()
		log.Info("skipping tombstoned job", zap.String("unit", key))
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.inflight[key] = cancel
	p.mu.Unlock()

	defer func() {
		cancel()
		p.mu.Lock()
		delete(p.inflight, key)
		p.mu.Unlock()
	}()

	log.Info("run starting", zap.String("unit", key))
	err := p.run(runCtx, unit)
	if err == nil {
		return
	}

	// A superseding enqueue can land while the cancelled run still holds
	// the flow-lock; give the lock a moment to free and try again.
	if errors.Is(err, flowlock.ErrHeld) && runCtx.Err() == nil && !p.isStopped() {
		log.Info("flow-lock still held, requeueing",
			zap.String("unit", key),
			zap.Duration("delay", requeueDelay))
		time.AfterFunc(requeueDelay, func() {
			if err := p.Enqueue(unit); err != nil {
				log.Warn("requeue failed", zap.String("unit", key), zap.Error(err))
			}
		})
		return
	}

	log.Error("run failed", zap.String("unit", key), zap.Error(err))
}

func (p *Pool) isStopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}
