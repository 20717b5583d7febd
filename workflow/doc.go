// Package workflow runs durable, multi-step workflow handlers.
//
// A handler is an ordinary Go function over a *Workflow. Each step's
// result is checkpointed before the next step begins; when a run is
// resumed the handler executes again from the top and checkpointed steps
// return their stored result without running.
//
// # Defining a Workflow
//
//	var Review = workflow.NewWorkflow("review",
//	    func(wf *workflow.Workflow, in ReviewInput) error {
//	        doc, err := workflow.StepWithResult(wf, "load", func(ctx context.Context) (Doc, error) {
//	            return loadDoc(ctx, in.DocID)
//	        })
//	        if err != nil {
//	            return err
//	        }
//
//	        res, err := wf.Await("decision", "review:"+doc.ID)
//	        if err != nil {
//	            return err // includes ErrSuspended
//	        }
//	        return wf.Step("apply", func(ctx context.Context) error {
//	            return apply(ctx, doc, res)
//	        })
//	    },
//	)
//
// # Suspension
//
// Await never blocks. If the wait record for the key is still open the
// call returns ErrSuspended, the handler propagates it, and the runner
// parks the run in the waiting state and releases the goroutine. The run
// is resumed by Runner.Resume once the wait resolves, typically from a
// wait.Manager subscriber.
//
// # Retries
//
// Step bodies, checkpoint reads and writes, and run updates are retried
// with backoff when they fail with signoff.ErrStoreFailure. A run whose
// retry budget is exhausted fails and its definition's OnFailure hook is
// called.
package workflow
