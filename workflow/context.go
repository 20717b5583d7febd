package workflow

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/signoff/backoff"
	"github.com/xraph/signoff/id"
	"github.com/xraph/signoff/middleware"
	"github.com/xraph/signoff/wait"
)

// StepEmitter is called by the Workflow to emit step lifecycle events.
// This interface is satisfied by ext.Registry (via an adapter in the
// engine package) to break the import cycle between workflow and ext.
type StepEmitter interface {
	EmitStepCompleted(ctx context.Context, run *Run, stepName string, elapsed time.Duration)
	EmitStepFailed(ctx context.Context, run *Run, stepName string, err error)
}

// WaitReader reads durable wait records. wait.Manager satisfies it.
type WaitReader interface {
	Get(ctx context.Context, key string) (*wait.Record, error)
}

// Workflow is the execution context passed to workflow handler functions.
// It provides checkpointed step execution and suspension on durable
// waits. Every method checkpoints its result so a replay after a crash
// or a resume skips completed work.
type Workflow struct {
	ctx     context.Context
	run     *Run
	store   Store
	waits   WaitReader
	emitter StepEmitter
	logger  *slog.Logger
	policy  backoff.Policy
	chain   middleware.Middleware

	// parkedOn is the wait key the run suspended on during this pass.
	parkedOn string
}

// NewWorkflowContext creates a new Workflow execution context.
// This is called by the workflow runner, not by users.
func NewWorkflowContext(
	ctx context.Context,
	run *Run,
	store Store,
	waits WaitReader,
	emitter StepEmitter,
	logger *slog.Logger,
	policy backoff.Policy,
	chain middleware.Middleware,
) *Workflow {
	if chain == nil {
		chain = middleware.Chain()
	}
	return &Workflow{
		ctx:     ctx,
		run:     run,
		store:   store,
		waits:   waits,
		emitter: emitter,
		logger:  logger,
		policy:  policy,
		chain:   chain,
	}
}

// Context returns the underlying context.Context.
func (w *Workflow) Context() context.Context { return w.ctx }

// RunID returns the workflow run ID.
func (w *Workflow) RunID() id.RunID { return w.run.ID }

// Run returns the workflow run.
func (w *Workflow) Run() *Run { return w.run }

// Logger returns a logger annotated with the run.
func (w *Workflow) Logger() *slog.Logger {
	return w.logger.With(
		slog.String("run_id", w.run.ID.String()),
		slog.String("workflow", w.run.Name),
	)
}
