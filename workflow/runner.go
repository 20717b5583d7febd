package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xraph/signoff"
	"github.com/xraph/signoff/backoff"
	"github.com/xraph/signoff/id"
	"github.com/xraph/signoff/middleware"
)

// RunEmitter emits workflow-level lifecycle events.
// This interface is satisfied by ext.Registry (via an adapter in the
// engine package) to break the import cycle between workflow and ext.
type RunEmitter interface {
	StepEmitter
	EmitWorkflowStarted(ctx context.Context, run *Run)
	EmitWorkflowSuspended(ctx context.Context, run *Run, waitKey string)
	EmitWorkflowResumed(ctx context.Context, run *Run)
	EmitWorkflowCompleted(ctx context.Context, run *Run, elapsed time.Duration)
	EmitWorkflowFailed(ctx context.Context, run *Run, err error)
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithRetryPolicy sets the policy applied to step bodies and run
// bookkeeping that fail with a retryable store error.
func WithRetryPolicy(p backoff.Policy) RunnerOption {
	return func(r *Runner) { r.policy = p }
}

// WithMiddleware sets the middleware wrapped around every step body.
func WithMiddleware(mws ...middleware.Middleware) RunnerOption {
	return func(r *Runner) { r.chain = middleware.Chain(mws...) }
}

// WithResumeConcurrency bounds how many runs ResumeAll drives at once.
func WithResumeConcurrency(n int) RunnerOption {
	return func(r *Runner) { r.concurrency = n }
}

// Runner orchestrates workflow execution: creating runs, building the
// Workflow context, invoking handlers, parking runs on open waits and
// resuming them.
//
// Within one process a run is driven by at most one goroutine at a time.
// A Resume that arrives while the run is being driven is coalesced into
// one more pass once the current pass ends.
type Runner struct {
	registry    *Registry
	store       Store
	waits       WaitReader
	emitter     RunEmitter
	logger      *slog.Logger
	policy      backoff.Policy
	chain       middleware.Middleware
	concurrency int

	mu sync.Mutex
	// active maps a run being driven to whether another pass was requested.
	active map[string]bool
}

// NewRunner creates a workflow runner.
func NewRunner(
	registry *Registry,
	store Store,
	waits WaitReader,
	emitter RunEmitter,
	logger *slog.Logger,
	opts ...RunnerOption,
) *Runner {
	r := &Runner{
		registry:    registry,
		store:       store,
		waits:       waits,
		emitter:     emitter,
		logger:      logger,
		policy:      backoff.NewPolicy(signoff.DefaultConfig().Retry),
		chain:       middleware.Chain(),
		concurrency: 8,
		active:      make(map[string]bool),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Registry returns the workflow registry.
func (r *Runner) Registry() *Registry { return r.registry }

// Start starts a new workflow run with a typed input.
// The input is JSON-marshaled and stored on the Run.
func Start[T any](ctx context.Context, runner *Runner, name string, input T) (*Run, error) {
	data, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("marshal input for workflow %q: %w", name, err)
	}
	return runner.StartRaw(ctx, name, data)
}

// StartRaw starts a workflow run with pre-serialized JSON input and drives
// it until it completes, fails or parks on a wait. The run is stamped with
// the latest registered version.
func (r *Runner) StartRaw(ctx context.Context, name string, input []byte) (*Run, error) {
	if _, ok := r.registry.lookup(name, 0); !ok {
		return nil, fmt.Errorf("no workflow registered for %q", name)
	}

	now := time.Now().UTC()
	run := &Run{
		Entity:    signoff.NewEntity(),
		ID:        id.NewRunID(),
		Name:      name,
		Version:   r.registry.LatestVersion(name),
		State:     RunStateRunning,
		Input:     input,
		StartedAt: now,
	}

	err := r.policy.Do(ctx, func(ctx context.Context) error {
		return r.store.CreateRun(ctx, run)
	})
	if err != nil {
		return nil, fmt.Errorf("create run for workflow %q: %w", name, err)
	}

	r.emitter.EmitWorkflowStarted(ctx, run)

	r.claim(run.ID)
	return r.drive(ctx, run)
}

// Resume drives a run that is running (interrupted) or waiting. Steps
// with checkpoints are skipped; the run continues on its stamped version.
// Resuming a terminal run is a no-op.
func (r *Runner) Resume(ctx context.Context, runID id.RunID) error {
	if !r.claim(runID) {
		r.logger.Debug("resume coalesced with active pass",
			slog.String("run_id", runID.String()),
		)
		return nil
	}

	run, err := r.getRun(ctx, runID)
	if err != nil {
		r.forget(runID)
		return err
	}
	_, err = r.drive(ctx, run)
	return err
}

// ResumeAll resumes every running and waiting run. Called at start-up
// for crash recovery; runs are resumed concurrently up to the configured
// bound. Individual resume failures are logged, not returned.
func (r *Runner) ResumeAll(ctx context.Context) error {
	var runs []*Run
	for _, state := range []RunState{RunStateRunning, RunStateWaiting} {
		batch, err := r.store.ListRuns(ctx, ListOpts{State: state})
		if err != nil {
			return fmt.Errorf("list %s workflow runs: %w", state, err)
		}
		runs = append(runs, batch...)
	}

	var g errgroup.Group
	if r.concurrency > 0 {
		g.SetLimit(r.concurrency)
	}
	for _, run := range runs {
		g.Go(func() error {
			r.logger.Info("resuming workflow run",
				slog.String("run_id", run.ID.String()),
				slog.String("workflow", run.Name),
				slog.String("state", string(run.State)),
			)
			if err := r.Resume(ctx, run.ID); err != nil {
				r.logger.Error("failed to resume workflow run",
					slog.String("run_id", run.ID.String()),
					slog.String("error", err.Error()),
				)
			}
			return nil
		})
	}
	return g.Wait()
}

// drive executes passes over run until no resume arrived during the last
// one. The caller must hold the claim on run.
func (r *Runner) drive(ctx context.Context, run *Run) (*Run, error) {
	for {
		if !run.State.Terminal() {
			if err := r.execute(ctx, run); err != nil {
				r.forget(run.ID)
				return run, err
			}
		}
		if r.release(run.ID) {
			return run, nil
		}

		fresh, err := r.getRun(ctx, run.ID)
		if err != nil {
			r.forget(run.ID)
			return run, err
		}
		run = fresh
	}
}

// execute runs one pass of the handler and records how it ended.
func (r *Runner) execute(ctx context.Context, run *Run) error {
	entry, ok := r.registry.lookup(run.Name, run.Version)
	if !ok {
		return fmt.Errorf("no workflow registered for %q version %d (run %s)", run.Name, run.Version, run.ID)
	}

	if run.State == RunStateWaiting {
		run.State = RunStateRunning
		run.WaitKey = ""
		if err := r.updateRun(ctx, run); err != nil {
			return err
		}
		r.emitter.EmitWorkflowResumed(ctx, run)
	}

	start := time.Now()
	wf := NewWorkflowContext(ctx, run, r.store, r.waits, r.emitter, r.logger, r.policy, r.chain)
	err := entry.runner(wf, run.Input)
	elapsed := time.Since(start)

	switch {
	case err == nil:
		now := time.Now().UTC()
		run.State = RunStateCompleted
		run.CompletedAt = &now
		if updateErr := r.updateRun(ctx, run); updateErr != nil {
			return updateErr
		}
		r.emitter.EmitWorkflowCompleted(ctx, run, elapsed)

	case errors.Is(err, ErrSuspended):
		run.State = RunStateWaiting
		run.WaitKey = wf.parkedOn
		if updateErr := r.updateRun(ctx, run); updateErr != nil {
			return updateErr
		}
		r.emitter.EmitWorkflowSuspended(ctx, run, run.WaitKey)

	case ctx.Err() != nil:
		// Shutdown interrupted the pass. The run stays running and is
		// picked up by the next ResumeAll.
		r.logger.Warn("workflow run interrupted",
			slog.String("run_id", run.ID.String()),
			slog.String("workflow", run.Name),
			slog.String("error", err.Error()),
		)

	default:
		now := time.Now().UTC()
		run.State = RunStateFailed
		run.Error = err.Error()
		run.CompletedAt = &now
		if updateErr := r.updateRun(ctx, run); updateErr != nil {
			r.logger.Error("failed to update run as failed",
				slog.String("run_id", run.ID.String()),
				slog.String("error", updateErr.Error()),
			)
		}
		if entry.failure != nil {
			entry.failure(ctx, run, run.Input, err)
		}
		r.emitter.EmitWorkflowFailed(ctx, run, err)
	}
	return nil
}

func (r *Runner) getRun(ctx context.Context, runID id.RunID) (*Run, error) {
	var run *Run
	err := r.policy.Do(ctx, func(ctx context.Context) error {
		got, err := r.store.GetRun(ctx, runID)
		if err != nil {
			return err
		}
		run = got
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", runID, err)
	}
	return run, nil
}

func (r *Runner) updateRun(ctx context.Context, run *Run) error {
	run.Touch()
	err := r.policy.Do(ctx, func(ctx context.Context) error {
		return r.store.UpdateRun(ctx, run)
	})
	if err != nil {
		return fmt.Errorf("update run %s: %w", run.ID, err)
	}
	return nil
}

// claim marks runID as being driven. If it already is, the active pass
// is asked to run once more and claim reports false.
func (r *Runner) claim(runID id.RunID) bool {
	key := runID.String()
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.active[key]; busy {
		r.active[key] = true
		return false
	}
	r.active[key] = false
	return true
}

// release ends a pass. It reports false, keeping the claim, when another
// pass was requested meanwhile.
func (r *Runner) release(runID id.RunID) bool {
	key := runID.String()
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active[key] {
		r.active[key] = false
		return false
	}
	delete(r.active, key)
	return true
}

func (r *Runner) forget(runID id.RunID) {
	r.mu.Lock()
	delete(r.active, runID.String())
	r.mu.Unlock()
}
