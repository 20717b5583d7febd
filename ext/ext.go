// Package ext defines the extension system for signoff.
// Extensions are notified of lifecycle events (run suspended, task
// resolved, version created, etc.) and can react to them: logging,
// metrics, notifications.
//
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
package ext

import (
	"context"
	"time"

	"github.com/xraph/signoff/approval"
	"github.com/xraph/signoff/task"
	"github.com/xraph/signoff/version"
	"github.com/xraph/signoff/wait"
	"github.com/xraph/signoff/workflow"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Workflow run hooks
// ──────────────────────────────────────────────────

// WorkflowStarted is called when a workflow run begins.
type WorkflowStarted interface {
	OnWorkflowStarted(ctx context.Context, r *workflow.Run) error
}

// WorkflowSuspended is called when a run parks on an open wait.
type WorkflowSuspended interface {
	OnWorkflowSuspended(ctx context.Context, r *workflow.Run, waitKey string) error
}

// WorkflowResumed is called when a parked run starts executing again.
type WorkflowResumed interface {
	OnWorkflowResumed(ctx context.Context, r *workflow.Run) error
}

// WorkflowStepCompleted is called after a workflow step completes.
type WorkflowStepCompleted interface {
	OnWorkflowStepCompleted(ctx context.Context, r *workflow.Run, stepName string, elapsed time.Duration) error
}

// WorkflowStepFailed is called when a workflow step fails after retries.
type WorkflowStepFailed interface {
	OnWorkflowStepFailed(ctx context.Context, r *workflow.Run, stepName string, err error) error
}

// WorkflowCompleted is called after a workflow run finishes successfully.
type WorkflowCompleted interface {
	OnWorkflowCompleted(ctx context.Context, r *workflow.Run, elapsed time.Duration) error
}

// WorkflowFailed is called when a workflow run fails terminally.
type WorkflowFailed interface {
	OnWorkflowFailed(ctx context.Context, r *workflow.Run, err error) error
}

// ──────────────────────────────────────────────────
// Approval hooks
// ──────────────────────────────────────────────────

// VersionCreated is called after a workflow version is appended.
type VersionCreated interface {
	OnVersionCreated(ctx context.Context, v *version.Version) error
}

// TaskOpened is called when a human task is raised.
type TaskOpened interface {
	OnTaskOpened(ctx context.Context, t *task.Task) error
}

// TaskResolved is called when a task is approved, rejected or expired.
type TaskResolved interface {
	OnTaskResolved(ctx context.Context, t *task.Task) error
}

// DecisionDelivered is called when a decision wins its task's wait.
type DecisionDelivered interface {
	OnDecisionDelivered(ctx context.Context, t *task.Task, d approval.Decision) error
}

// WaitResolved is called when this process resolves a wait, by event or
// by deadline.
type WaitResolved interface {
	OnWaitResolved(ctx context.Context, rec *wait.Record) error
}

// ──────────────────────────────────────────────────
// Other lifecycle hooks
// ──────────────────────────────────────────────────

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
