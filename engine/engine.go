package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/signoff"
	"github.com/xraph/signoff/approval"
	"github.com/xraph/signoff/audit"
	"github.com/xraph/signoff/backoff"
	"github.com/xraph/signoff/compensation"
	"github.com/xraph/signoff/ext"
	"github.com/xraph/signoff/id"
	mw "github.com/xraph/signoff/middleware"
	"github.com/xraph/signoff/observability"
	"github.com/xraph/signoff/store"
	"github.com/xraph/signoff/task"
	"github.com/xraph/signoff/version"
	"github.com/xraph/signoff/wait"
	"github.com/xraph/signoff/worker"
	"github.com/xraph/signoff/workflow"
)

// instrumentationName is the OTel scope used for engine-built tracers
// and meters.
const instrumentationName = "github.com/xraph/signoff"

// DefaultStepTimeout bounds a single step body.
const DefaultStepTimeout = 30 * time.Second

// ErrRunFailed is returned by Trigger when the new run failed before it
// could park on its approval wait.
var ErrRunFailed = errors.New("signoff: workflow run failed")

// extRunEmitter adapts *ext.Registry to satisfy workflow.RunEmitter.
// This breaks the import cycle: workflow defines the interface,
// ext.Registry provides the implementation, and the engine layer
// plugs them together.
type extRunEmitter struct {
	r *ext.Registry
}

func (a *extRunEmitter) EmitStepCompleted(ctx context.Context, run *workflow.Run, stepName string, elapsed time.Duration) {
	a.r.EmitWorkflowStepCompleted(ctx, run, stepName, elapsed)
}

func (a *extRunEmitter) EmitStepFailed(ctx context.Context, run *workflow.Run, stepName string, err error) {
	a.r.EmitWorkflowStepFailed(ctx, run, stepName, err)
}

func (a *extRunEmitter) EmitWorkflowStarted(ctx context.Context, run *workflow.Run) {
	a.r.EmitWorkflowStarted(ctx, run)
}

func (a *extRunEmitter) EmitWorkflowSuspended(ctx context.Context, run *workflow.Run, waitKey string) {
	a.r.EmitWorkflowSuspended(ctx, run, waitKey)
}

func (a *extRunEmitter) EmitWorkflowResumed(ctx context.Context, run *workflow.Run) {
	a.r.EmitWorkflowResumed(ctx, run)
}

func (a *extRunEmitter) EmitWorkflowCompleted(ctx context.Context, run *workflow.Run, elapsed time.Duration) {
	a.r.EmitWorkflowCompleted(ctx, run, elapsed)
}

func (a *extRunEmitter) EmitWorkflowFailed(ctx context.Context, run *workflow.Run, err error) {
	a.r.EmitWorkflowFailed(ctx, run, err)
}

// TriggerResult identifies what a trigger created.
type TriggerResult struct {
	RunID     id.RunID     `json:"runId"`
	GroupID   id.GroupID   `json:"groupId"`
	VersionID id.VersionID `json:"versionId"`
	TaskID    id.TaskID    `json:"humanTaskId"`
}

// Engine wires the approval flow to its store, wait manager, workflow
// runner and resume pool. Use Build() to create one from a Runtime.
type Engine struct {
	rt         *signoff.Runtime
	store      store.Store
	extensions *ext.Registry
	logger     *slog.Logger

	chain  *version.Chain
	tasks  *task.Registry
	audit  *audit.Log
	waits  *wait.Manager
	flow   *approval.Flow
	runner *workflow.Runner
	pool   *worker.Pool

	validator   approval.Validator
	mws         []mw.Middleware
	stepTimeout time.Duration

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	mu       sync.Mutex
	cancel   context.CancelFunc
	sweeping sync.WaitGroup
}

// Option configures an Engine.
type Option func(*Engine)

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) {
		eng.extensions.Register(e)
	}
}

// WithMiddleware appends step middleware after the default chain.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) {
		eng.mws = append(eng.mws, m)
	}
}

// WithValidator replaces the default purchase validator.
func WithValidator(v approval.Validator) Option {
	return func(eng *Engine) {
		eng.validator = v
	}
}

// WithStepTimeout bounds each step body. Zero disables the bound.
func WithStepTimeout(d time.Duration) Option {
	return func(eng *Engine) {
		eng.stepTimeout = d
	}
}

// WithTracerProvider sets a custom OTel TracerProvider for the engine.
// If not set, the global otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) {
		eng.tracerProvider = tp
	}
}

// WithMeterProvider sets a custom OTel MeterProvider for the engine.
// When set, both the metrics middleware and the observability extension
// use this provider instead of the global one.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) {
		eng.meterProvider = mp
	}
}

// Build creates an Engine from a Runtime.
// The Runtime's store must implement store.Store.
func Build(rt *signoff.Runtime, opts ...Option) (*Engine, error) {
	logger := rt.Logger()
	if rt.Store() == nil {
		return nil, signoff.ErrNoStore
	}
	s, ok := rt.Store().(store.Store)
	if !ok {
		return nil, fmt.Errorf("signoff: store does not implement store.Store")
	}
	cfg := rt.Config()

	eng := &Engine{
		rt:          rt,
		store:       s,
		extensions:  ext.NewRegistry(logger),
		logger:      logger,
		stepTimeout: DefaultStepTimeout,
	}
	for _, opt := range opts {
		opt(eng)
	}

	// Register the observability metrics extension.
	var obsExt *observability.MetricsExtension
	if eng.meterProvider != nil {
		obsExt = observability.NewMetricsExtensionWithMeter(eng.meterProvider.Meter(instrumentationName + "/observability"))
	} else {
		obsExt = observability.NewMetricsExtension()
	}
	eng.extensions.Register(obsExt)

	eng.chain = version.NewChain(s, logger)
	eng.tasks = task.NewRegistry(s, logger)
	eng.audit = audit.NewLog(s, logger)
	eng.waits = wait.NewManager(s,
		wait.WithLogger(logger),
		wait.WithDefaultTimeout(cfg.ApprovalTimeout),
	)

	flowOpts := []approval.Option{
		approval.WithObserver(eng.extensions),
		approval.WithTimeout(cfg.ApprovalTimeout),
		approval.WithLogger(logger),
	}
	if cfg.WorkflowName != "" {
		flowOpts = append(flowOpts, approval.WithWorkflowName(cfg.WorkflowName))
	}
	if eng.validator != nil {
		flowOpts = append(flowOpts, approval.WithValidator(eng.validator))
	}
	eng.flow = approval.NewFlow(eng.chain, eng.tasks, eng.audit, s, eng.waits, flowOpts...)

	// Build tracing middleware (custom provider or global).
	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(eng.tracerProvider.Tracer(instrumentationName))
	} else {
		tracingMw = mw.Tracing()
	}

	// Build metrics middleware (custom provider or global).
	var metricsMw mw.Middleware
	if eng.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(eng.meterProvider.Meter(instrumentationName))
	} else {
		metricsMw = mw.Metrics()
	}

	// Default middleware stack: recover → tracing → metrics → logging → timeout.
	defaultMws := []mw.Middleware{
		mw.Recover(logger),
		tracingMw,
		metricsMw,
		mw.Logging(logger),
		mw.Timeout(eng.stepTimeout),
	}
	allMws := make([]mw.Middleware, 0, len(defaultMws)+len(eng.mws))
	allMws = append(allMws, defaultMws...)
	allMws = append(allMws, eng.mws...)

	policy := backoff.NewPolicy(cfg.Retry)
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		logger.Warn("retrying after store failure",
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)
	}

	registry := workflow.NewRegistry()
	workflow.RegisterDefinition(registry, eng.flow.Definition())
	eng.runner = workflow.NewRunner(registry, s, eng.waits, &extRunEmitter{r: eng.extensions}, logger,
		workflow.WithRetryPolicy(policy),
		workflow.WithMiddleware(allMws...),
		workflow.WithResumeConcurrency(cfg.Concurrency),
	)

	executor := worker.NewExecutor(eng.runner, policy, logger)
	eng.pool = worker.NewPool(executor, logger,
		worker.WithPoolConcurrency(cfg.Concurrency),
		worker.WithRateLimit(cfg.ResumeRate),
		worker.WithReconcile(reconcileInterval(cfg), eng.resolvedWaitingRuns),
	)

	eng.waits.OnResolved(func(ctx context.Context, rec *wait.Record) {
		eng.extensions.EmitWaitResolved(ctx, rec)
		if rec.RunID.IsNil() {
			return
		}
		if _, err := eng.pool.Submit(rec.RunID); err != nil {
			logger.Warn("resume not dispatched",
				slog.String("run_id", rec.RunID.String()),
				slog.String("error", err.Error()),
			)
		}
	})

	return eng, nil
}

// reconcileInterval derives how often the pool looks for waiting runs
// whose wait resolved without a resume being dispatched.
func reconcileInterval(cfg signoff.Config) time.Duration {
	if cfg.SweepInterval <= 0 {
		return 0
	}
	return 10 * cfg.SweepInterval
}

// resolvedWaitingRuns lists waiting runs whose wait is no longer open.
func (eng *Engine) resolvedWaitingRuns(ctx context.Context) ([]id.RunID, error) {
	runs, err := eng.store.ListRuns(ctx, workflow.ListOpts{State: workflow.RunStateWaiting})
	if err != nil {
		return nil, err
	}
	var ids []id.RunID
	for _, run := range runs {
		if run.WaitKey == "" {
			continue
		}
		rec, err := eng.waits.Get(ctx, run.WaitKey)
		if err != nil {
			if errors.Is(err, signoff.ErrWaitNotFound) {
				ids = append(ids, run.ID)
				continue
			}
			return ids, err
		}
		if !rec.Open() {
			ids = append(ids, run.ID)
		}
	}
	return ids, nil
}

// Trigger validates req and starts a purchase approval run. It returns
// once the run has parked on its approval wait. A validation failure
// creates nothing.
func (eng *Engine) Trigger(ctx context.Context, req approval.TriggerRequest) (TriggerResult, error) {
	in, err := eng.flow.Prepare(ctx, req)
	if err != nil {
		return TriggerResult{}, err
	}

	run, err := workflow.Start(ctx, eng.runner, approval.RequestType, in)
	if err != nil {
		return TriggerResult{}, err
	}

	res := TriggerResult{
		RunID:   run.ID,
		GroupID: in.GroupID,
		TaskID:  in.TaskID,
	}
	if run.State == workflow.RunStateFailed {
		return res, fmt.Errorf("%w: run %s: %s", ErrRunFailed, run.ID, run.Error)
	}

	head, err := eng.chain.Latest(ctx, in.GroupID)
	if err != nil {
		return res, fmt.Errorf("signoff: read head of group %s: %w", in.GroupID, err)
	}
	res.VersionID = head.ID

	eng.logger.Info("purchase approval triggered",
		slog.String("run_id", run.ID.String()),
		slog.String("group_id", in.GroupID.String()),
		slog.String("task_id", in.TaskID.String()),
	)
	return res, nil
}

// Decide submits a human decision for a pending task. The run resumes
// asynchronously on the worker pool.
func (eng *Engine) Decide(ctx context.Context, req approval.DecisionRequest) (approval.Decision, error) {
	return eng.flow.Decide(ctx, req)
}

// Start resumes interrupted and waiting runs, starts the worker pool and
// the wait sweeper.
func (eng *Engine) Start(ctx context.Context) error {
	eng.mu.Lock()
	defer eng.mu.Unlock()
	if eng.cancel != nil {
		return nil
	}

	if err := eng.pool.Start(ctx); err != nil {
		return fmt.Errorf("start worker pool: %w", err)
	}

	// Resume any interrupted workflow runs (best-effort, non-fatal).
	if err := eng.runner.ResumeAll(ctx); err != nil {
		eng.logger.Warn("failed to resume workflow runs",
			slog.String("error", err.Error()),
		)
	}

	sweepCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	eng.cancel = cancel
	if interval := eng.rt.Config().SweepInterval; interval > 0 {
		eng.sweeping.Add(1)
		go func() {
			defer eng.sweeping.Done()
			_ = eng.waits.Run(sweepCtx, interval)
		}()
	}

	eng.logger.Info("signoff engine started")
	return nil
}

// Stop gracefully shuts down the engine. Open waits keep their deadlines
// and are swept by the next start.
func (eng *Engine) Stop(ctx context.Context) error {
	eng.mu.Lock()
	cancel := eng.cancel
	eng.cancel = nil
	eng.mu.Unlock()

	if cancel != nil {
		cancel()
		eng.sweeping.Wait()
	}
	eng.waits.Stop()

	err := eng.pool.Stop(ctx)
	eng.extensions.EmitShutdown(ctx)
	eng.logger.Info("signoff engine stopped")
	return err
}

// ──────────────────────────────────────────────────
// Query surface
// ──────────────────────────────────────────────────

// GetVersion returns one workflow version.
func (eng *Engine) GetVersion(ctx context.Context, versionID id.VersionID) (*version.Version, error) {
	return eng.chain.Get(ctx, versionID)
}

// LatestVersion returns the head of a group.
func (eng *Engine) LatestVersion(ctx context.Context, groupID id.GroupID) (*version.Version, error) {
	return eng.chain.Latest(ctx, groupID)
}

// History returns every version of a group, newest first.
func (eng *Engine) History(ctx context.Context, groupID id.GroupID) ([]*version.Version, error) {
	return eng.chain.History(ctx, groupID)
}

// ListVersions lists versions across groups.
func (eng *Engine) ListVersions(ctx context.Context, opts version.ListOpts) ([]*version.Version, error) {
	return eng.chain.List(ctx, opts)
}

// PendingTasks lists tasks awaiting a decision.
func (eng *Engine) PendingTasks(ctx context.Context, f task.Filter) ([]*task.Task, error) {
	return eng.tasks.FindPending(ctx, f)
}

// GetTask returns one human task.
func (eng *Engine) GetTask(ctx context.Context, taskID id.TaskID) (*task.Task, error) {
	return eng.tasks.Get(ctx, taskID)
}

// TasksForGroup lists every task opened in a group.
func (eng *Engine) TasksForGroup(ctx context.Context, groupID id.GroupID) ([]*task.Task, error) {
	return eng.tasks.ListByGroup(ctx, groupID)
}

// TasksForVersion lists the tasks opened against one version.
func (eng *Engine) TasksForVersion(ctx context.Context, versionID id.VersionID) ([]*task.Task, error) {
	return eng.tasks.ListByVersion(ctx, versionID)
}

// AuditTrail returns the audit entries of a group in order.
func (eng *Engine) AuditTrail(ctx context.Context, groupID id.GroupID) ([]*audit.Entry, error) {
	return eng.audit.ForGroup(ctx, groupID)
}

// VersionAuditTrail returns the audit entries of one version in order.
func (eng *Engine) VersionAuditTrail(ctx context.Context, versionID id.VersionID) ([]*audit.Entry, error) {
	return eng.audit.ForVersion(ctx, versionID)
}

// Compensations lists the compensating actions recorded for a group.
func (eng *Engine) Compensations(ctx context.Context, groupID id.GroupID) ([]*compensation.Record, error) {
	return eng.store.ListCompensations(ctx, compensation.ListOpts{GroupID: groupID})
}

// GetRun returns a workflow run.
func (eng *Engine) GetRun(ctx context.Context, runID id.RunID) (*workflow.Run, error) {
	return eng.store.GetRun(ctx, runID)
}

// Ping checks store connectivity.
func (eng *Engine) Ping(ctx context.Context) error {
	return eng.store.Ping(ctx)
}

// ──────────────────────────────────────────────────
// Accessors
// ──────────────────────────────────────────────────

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Runtime returns the underlying Runtime.
func (eng *Engine) Runtime() *signoff.Runtime { return eng.rt }

// Runner returns the workflow runner.
func (eng *Engine) Runner() *workflow.Runner { return eng.runner }

// Waits returns the wait manager.
func (eng *Engine) Waits() *wait.Manager { return eng.waits }

// Pool returns the resume worker pool.
func (eng *Engine) Pool() *worker.Pool { return eng.pool }
