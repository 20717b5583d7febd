package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/xraph/signoff/id"
)

// ErrPoolStopped is returned by Submit after Stop.
var ErrPoolStopped = errors.New("worker: pool stopped")

// ReconcileFunc lists runs that should be resumed but may have missed
// their dispatch, e.g. a waiting run whose wait was resolved by a process
// that crashed before resuming it.
type ReconcileFunc func(ctx context.Context) ([]id.RunID, error)

// Pool manages a set of worker goroutines that resume submitted runs
// through the Executor. A run already queued is not queued twice; the
// runner coalesces resumes that race with an active pass.
type Pool struct {
	executor    *Executor
	concurrency int
	backlog     int
	limiter     *rate.Limiter
	logger      *slog.Logger

	reconcile         ReconcileFunc
	reconcileInterval time.Duration

	queue   chan id.RunID
	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
	stopped bool

	pendingMu sync.Mutex
	pending   map[string]struct{}

	activeMu   sync.Mutex
	activeRuns map[string]context.CancelFunc
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolConcurrency sets the number of concurrent worker goroutines.
func WithPoolConcurrency(n int) PoolOption {
	return func(p *Pool) { p.concurrency = n }
}

// WithBacklog sets how many submitted runs may wait for a worker.
func WithBacklog(n int) PoolOption {
	return func(p *Pool) { p.backlog = n }
}

// WithRateLimit caps resumes started per second. Zero or less disables
// the limit.
func WithRateLimit(perSecond float64) PoolOption {
	return func(p *Pool) {
		if perSecond <= 0 {
			p.limiter = nil
			return
		}
		burst := int(perSecond)
		if burst < 1 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithReconcile runs fn every interval and submits the runs it returns.
// A zero interval disables reconciliation.
func WithReconcile(interval time.Duration, fn ReconcileFunc) PoolOption {
	return func(p *Pool) {
		p.reconcileInterval = interval
		p.reconcile = fn
	}
}

// NewPool creates a worker pool.
func NewPool(executor *Executor, logger *slog.Logger, opts ...PoolOption) *Pool {
	p := &Pool{
		executor:    executor,
		concurrency: 8,
		backlog:     1024,
		logger:      logger,
		stopCh:      make(chan struct{}),
		pending:     make(map[string]struct{}),
		activeRuns:  make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.concurrency < 1 {
		p.concurrency = 1
	}
	p.queue = make(chan id.RunID, p.backlog)
	return p
}

// Start launches the worker goroutines. It returns immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running || p.stopped {
		return nil
	}
	p.running = true

	p.logger.Info("worker pool starting",
		slog.Int("concurrency", p.concurrency),
		slog.Int("backlog", p.backlog),
	)

	for range p.concurrency {
		p.wg.Add(1)
		go p.workLoop()
	}

	if p.reconcile != nil && p.reconcileInterval > 0 {
		p.wg.Add(1)
		go p.reconcileLoop()
	}

	return nil
}

// Submit queues runID for resumption. It reports false when the run is
// already queued. Submit never blocks; a full backlog drops the request
// with a warning and leaves the run to reconciliation or the next start.
func (p *Pool) Submit(runID id.RunID) (bool, error) {
	p.mu.Lock()
	stopped := p.stopped
	p.mu.Unlock()
	if stopped {
		return false, ErrPoolStopped
	}

	key := runID.String()
	p.pendingMu.Lock()
	if _, queued := p.pending[key]; queued {
		p.pendingMu.Unlock()
		return false, nil
	}
	p.pending[key] = struct{}{}
	p.pendingMu.Unlock()

	select {
	case p.queue <- runID:
		return true, nil
	default:
		p.pendingMu.Lock()
		delete(p.pending, key)
		p.pendingMu.Unlock()
		p.logger.Warn("resume backlog full, dropping request",
			slog.String("run_id", key),
		)
		return false, nil
	}
}

// Stop signals all workers to stop and waits for them to finish.
// If the context ends first, active resumes are cancelled; their runs
// stay running and are picked up on the next start.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	wasRunning := p.running
	p.running = false
	p.stopped = true
	p.mu.Unlock()

	close(p.stopCh)
	if !wasRunning {
		return nil
	}

	p.logger.Info("worker pool stopping")

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling active resumes")
		p.cancelActiveRuns()
		p.wg.Wait()
	}

	return nil
}

// workLoop is run by each worker goroutine.
func (p *Pool) workLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		case runID := <-p.queue:
			p.run(runID)
		}
	}
}

func (p *Pool) run(runID id.RunID) {
	key := runID.String()
	p.pendingMu.Lock()
	delete(p.pending, key)
	p.pendingMu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if p.limiter != nil {
		waitCtx, stop := p.stopContext(ctx)
		err := p.limiter.Wait(waitCtx)
		stop()
		if err != nil {
			return
		}
	}

	p.trackRun(key, cancel)
	defer p.untrackRun(key)

	if err := p.executor.Execute(ctx, runID); err != nil {
		p.logger.Debug("resume dispatch failed",
			slog.String("run_id", key),
			slog.String("error", err.Error()),
		)
	}
}

// stopContext derives a context that also ends when the pool stops.
func (p *Pool) stopContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		select {
		case <-p.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// reconcileLoop periodically submits runs that missed their dispatch.
func (p *Pool) reconcileLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.reconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.reconcileOnce()
		}
	}
}

func (p *Pool) reconcileOnce() {
	ctx, cancel := p.stopContext(context.Background())
	defer cancel()

	runIDs, err := p.reconcile(ctx)
	if err != nil {
		p.logger.Error("reconcile error", slog.String("error", err.Error()))
		return
	}
	for _, runID := range runIDs {
		if ok, _ := p.Submit(runID); ok {
			p.logger.Info("reconciled stalled run", slog.String("run_id", runID.String()))
		}
	}
}

func (p *Pool) trackRun(runID string, cancel context.CancelFunc) {
	p.activeMu.Lock()
	p.activeRuns[runID] = cancel
	p.activeMu.Unlock()
}

func (p *Pool) untrackRun(runID string) {
	p.activeMu.Lock()
	delete(p.activeRuns, runID)
	p.activeMu.Unlock()
}

func (p *Pool) cancelActiveRuns() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for runID, cancel := range p.activeRuns {
		p.logger.Warn("cancelling active resume", slog.String("run_id", runID))
		cancel()
	}
}
