// Package ext defines the extension system for signoff.
//
// Extensions are notified of lifecycle events and can react to them:
// recording metrics, notifying approvers, mirroring the audit trail.
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
//
// # Implementing an Extension
//
//	type Notifier struct{}
//
//	func (n *Notifier) Name() string { return "notifier" }
//
//	// Opt in to specific hooks by implementing their interfaces.
//	func (n *Notifier) OnTaskOpened(ctx context.Context, t *task.Task) error {
//	    return sendMail(t.Assignee, t.ID)
//	}
//
// # Workflow Run Hooks
//
//   - [WorkflowStarted]: a run began
//   - [WorkflowSuspended]: a run parked on an open wait
//   - [WorkflowResumed]: a parked run resumed
//   - [WorkflowStepCompleted]: a step finished successfully
//   - [WorkflowStepFailed]: a step failed after retries
//   - [WorkflowCompleted]: a run finished successfully
//   - [WorkflowFailed]: a run failed terminally
//
// # Approval Hooks
//
//   - [VersionCreated]: a workflow version was appended
//   - [TaskOpened]: a human task was raised
//   - [TaskResolved]: a task was approved, rejected or timed out
//   - [DecisionDelivered]: a decision won its task's wait
//   - [WaitResolved]: a wait resolved by event or deadline
//
// # Other Hooks
//
//   - [Shutdown]: the engine is shutting down gracefully
//
// Hook errors are logged and never propagated. Hooks run on the goroutine
// that produced the event and must not block.
package ext
