package workflow

import "context"

// Definition is a typed workflow definition with a handler function.
// T is the input type (must be JSON-serializable for Run.Input storage).
type Definition[T any] struct {
	// Name is the unique identifier for this workflow type.
	Name string

	// Version distinguishes incompatible handler revisions. Runs resume
	// on the version they started with. Zero means 1.
	Version int

	// Handler executes the workflow logic through the steps of wf.
	Handler func(wf *Workflow, input T) error

	// OnFailure, if set, is called once when a run fails terminally.
	OnFailure func(ctx context.Context, run *Run, input T, err error)
}

// NewWorkflow creates a typed workflow definition.
func NewWorkflow[T any](name string, handler func(wf *Workflow, input T) error) *Definition[T] {
	return &Definition[T]{
		Name:    name,
		Handler: handler,
	}
}
