package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/signoff/approval"
	"github.com/xraph/signoff/task"
	"github.com/xraph/signoff/version"
	"github.com/xraph/signoff/wait"
	"github.com/xraph/signoff/workflow"
)

// Named entry types pair a hook implementation with the extension name
// captured at registration time. This avoids type-asserting back to
// Extension inside the emit methods.
type workflowStartedEntry struct {
	name string
	hook WorkflowStarted
}

type workflowSuspendedEntry struct {
	name string
	hook WorkflowSuspended
}

type workflowResumedEntry struct {
	name string
	hook WorkflowResumed
}

type workflowStepCompletedEntry struct {
	name string
	hook WorkflowStepCompleted
}

type workflowStepFailedEntry struct {
	name string
	hook WorkflowStepFailed
}

type workflowCompletedEntry struct {
	name string
	hook WorkflowCompleted
}

type workflowFailedEntry struct {
	name string
	hook WorkflowFailed
}

type versionCreatedEntry struct {
	name string
	hook VersionCreated
}

type taskOpenedEntry struct {
	name string
	hook TaskOpened
}

type taskResolvedEntry struct {
	name string
	hook TaskResolved
}

type decisionDeliveredEntry struct {
	name string
	hook DecisionDelivered
}

type waitResolvedEntry struct {
	name string
	hook WaitResolved
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
//
// Register is not safe for concurrent use with the emitters; register
// every extension before the engine starts.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	// Type-cached slices for each lifecycle hook.
	workflowStarted       []workflowStartedEntry
	workflowSuspended     []workflowSuspendedEntry
	workflowResumed       []workflowResumedEntry
	workflowStepCompleted []workflowStepCompletedEntry
	workflowStepFailed    []workflowStepFailedEntry
	workflowCompleted     []workflowCompletedEntry
	workflowFailed        []workflowFailedEntry
	versionCreated        []versionCreatedEntry
	taskOpened            []taskOpenedEntry
	taskResolved          []taskResolvedEntry
	decisionDelivered     []decisionDeliveredEntry
	waitResolved          []waitResolvedEntry
	shutdown              []shutdownEntry
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(WorkflowStarted); ok {
		r.workflowStarted = append(r.workflowStarted, workflowStartedEntry{name, h})
	}
	if h, ok := e.(WorkflowSuspended); ok {
		r.workflowSuspended = append(r.workflowSuspended, workflowSuspendedEntry{name, h})
	}
	if h, ok := e.(WorkflowResumed); ok {
		r.workflowResumed = append(r.workflowResumed, workflowResumedEntry{name, h})
	}
	if h, ok := e.(WorkflowStepCompleted); ok {
		r.workflowStepCompleted = append(r.workflowStepCompleted, workflowStepCompletedEntry{name, h})
	}
	if h, ok := e.(WorkflowStepFailed); ok {
		r.workflowStepFailed = append(r.workflowStepFailed, workflowStepFailedEntry{name, h})
	}
	if h, ok := e.(WorkflowCompleted); ok {
		r.workflowCompleted = append(r.workflowCompleted, workflowCompletedEntry{name, h})
	}
	if h, ok := e.(WorkflowFailed); ok {
		r.workflowFailed = append(r.workflowFailed, workflowFailedEntry{name, h})
	}
	if h, ok := e.(VersionCreated); ok {
		r.versionCreated = append(r.versionCreated, versionCreatedEntry{name, h})
	}
	if h, ok := e.(TaskOpened); ok {
		r.taskOpened = append(r.taskOpened, taskOpenedEntry{name, h})
	}
	if h, ok := e.(TaskResolved); ok {
		r.taskResolved = append(r.taskResolved, taskResolvedEntry{name, h})
	}
	if h, ok := e.(DecisionDelivered); ok {
		r.decisionDelivered = append(r.decisionDelivered, decisionDeliveredEntry{name, h})
	}
	if h, ok := e.(WaitResolved); ok {
		r.waitResolved = append(r.waitResolved, waitResolvedEntry{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// ──────────────────────────────────────────────────
// Workflow run event emitters
// ──────────────────────────────────────────────────

// EmitWorkflowStarted notifies all extensions that implement WorkflowStarted.
func (r *Registry) EmitWorkflowStarted(ctx context.Context, run *workflow.Run) {
	for _, e := range r.workflowStarted {
		if err := e.hook.OnWorkflowStarted(ctx, run); err != nil {
			r.logHookError("OnWorkflowStarted", e.name, err)
		}
	}
}

// EmitWorkflowSuspended notifies all extensions that implement WorkflowSuspended.
func (r *Registry) EmitWorkflowSuspended(ctx context.Context, run *workflow.Run, waitKey string) {
	for _, e := range r.workflowSuspended {
		if err := e.hook.OnWorkflowSuspended(ctx, run, waitKey); err != nil {
			r.logHookError("OnWorkflowSuspended", e.name, err)
		}
	}
}

// EmitWorkflowResumed notifies all extensions that implement WorkflowResumed.
func (r *Registry) EmitWorkflowResumed(ctx context.Context, run *workflow.Run) {
	for _, e := range r.workflowResumed {
		if err := e.hook.OnWorkflowResumed(ctx, run); err != nil {
			r.logHookError("OnWorkflowResumed", e.name, err)
		}
	}
}

// EmitWorkflowStepCompleted notifies all extensions that implement WorkflowStepCompleted.
func (r *Registry) EmitWorkflowStepCompleted(ctx context.Context, run *workflow.Run, stepName string, elapsed time.Duration) {
	for _, e := range r.workflowStepCompleted {
		if err := e.hook.OnWorkflowStepCompleted(ctx, run, stepName, elapsed); err != nil {
			r.logHookError("OnWorkflowStepCompleted", e.name, err)
		}
	}
}

// EmitWorkflowStepFailed notifies all extensions that implement WorkflowStepFailed.
func (r *Registry) EmitWorkflowStepFailed(ctx context.Context, run *workflow.Run, stepName string, stepErr error) {
	for _, e := range r.workflowStepFailed {
		if err := e.hook.OnWorkflowStepFailed(ctx, run, stepName, stepErr); err != nil {
			r.logHookError("OnWorkflowStepFailed", e.name, err)
		}
	}
}

// EmitWorkflowCompleted notifies all extensions that implement WorkflowCompleted.
func (r *Registry) EmitWorkflowCompleted(ctx context.Context, run *workflow.Run, elapsed time.Duration) {
	for _, e := range r.workflowCompleted {
		if err := e.hook.OnWorkflowCompleted(ctx, run, elapsed); err != nil {
			r.logHookError("OnWorkflowCompleted", e.name, err)
		}
	}
}

// EmitWorkflowFailed notifies all extensions that implement WorkflowFailed.
func (r *Registry) EmitWorkflowFailed(ctx context.Context, run *workflow.Run, runErr error) {
	for _, e := range r.workflowFailed {
		if err := e.hook.OnWorkflowFailed(ctx, run, runErr); err != nil {
			r.logHookError("OnWorkflowFailed", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Approval event emitters
// ──────────────────────────────────────────────────

// EmitVersionCreated notifies all extensions that implement VersionCreated.
func (r *Registry) EmitVersionCreated(ctx context.Context, v *version.Version) {
	for _, e := range r.versionCreated {
		if err := e.hook.OnVersionCreated(ctx, v); err != nil {
			r.logHookError("OnVersionCreated", e.name, err)
		}
	}
}

// EmitTaskOpened notifies all extensions that implement TaskOpened.
func (r *Registry) EmitTaskOpened(ctx context.Context, t *task.Task) {
	for _, e := range r.taskOpened {
		if err := e.hook.OnTaskOpened(ctx, t); err != nil {
			r.logHookError("OnTaskOpened", e.name, err)
		}
	}
}

// EmitTaskResolved notifies all extensions that implement TaskResolved.
func (r *Registry) EmitTaskResolved(ctx context.Context, t *task.Task) {
	for _, e := range r.taskResolved {
		if err := e.hook.OnTaskResolved(ctx, t); err != nil {
			r.logHookError("OnTaskResolved", e.name, err)
		}
	}
}

// EmitDecisionDelivered notifies all extensions that implement DecisionDelivered.
func (r *Registry) EmitDecisionDelivered(ctx context.Context, t *task.Task, d approval.Decision) {
	for _, e := range r.decisionDelivered {
		if err := e.hook.OnDecisionDelivered(ctx, t, d); err != nil {
			r.logHookError("OnDecisionDelivered", e.name, err)
		}
	}
}

// EmitWaitResolved notifies all extensions that implement WaitResolved.
func (r *Registry) EmitWaitResolved(ctx context.Context, rec *wait.Record) {
	for _, e := range r.waitResolved {
		if err := e.hook.OnWaitResolved(ctx, rec); err != nil {
			r.logHookError("OnWaitResolved", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Other event emitters
// ──────────────────────────────────────────────────

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Errors from hooks are never propagated; they must not block the
// orchestration.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
