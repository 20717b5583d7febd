package middleware

import (
	"context"
)

// Step identifies the workflow step being executed.
type Step struct {
	RunID    string
	Workflow string
	Name     string
	// Attempt is 1 for the first execution of the step in this run.
	Attempt int
}

// Handler is the terminal function that executes step logic.
type Handler func(ctx context.Context) error

// Middleware wraps a Handler with cross-cutting logic.
// It receives the current context, the step being executed, and the
// next handler to call.
type Middleware func(ctx context.Context, s Step, next Handler) error

// Chain composes multiple middleware into a single Middleware.
// Middleware are applied right-to-left: the first middleware in the
// list is the outermost wrapper.
//
//	Chain(recover, logging, tracing) executes as recover → logging → tracing → handler
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, s Step, next Handler) error {
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			prev := h
			h = func(ctx context.Context) error {
				return mw(ctx, s, prev)
			}
		}
		return h(ctx)
	}
}
