// Package approval implements the purchase approval flow on top of the
// durable workflow runner.
//
// A run moves through three versions of its workflow group:
//
//	v1 running           start: wait registered, task opened, workflow.started
//	v2 waiting_approval  suspended on "approval:<taskID>"
//	v3 approved|rejected purchase_execution, purchase_rejected or purchase_timeout
//
// Every step checks for its own effect before acting, so a step replayed
// after a crash or a transient store failure never duplicates a version,
// a task transition or an audit entry.
//
// Decisions enter through Flow.Decide, which delivers to the wait record.
// The wait's compare-and-set picks the single winner among concurrent
// decisions and the deadline; the flow applies the outcome when the run
// resumes.
package approval
