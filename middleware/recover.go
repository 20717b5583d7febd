package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
)

// Recover returns middleware that recovers from panics in the handler chain.
// Panics are converted to errors and logged with a stack trace.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, s Step, next Handler) (retErr error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("step handler panicked",
					slog.String("workflow", s.Workflow),
					slog.String("run_id", s.RunID),
					slog.String("step", s.Name),
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())),
				)
				retErr = fmt.Errorf("panic in step %s: %v", s.Name, r)
			}
		}()
		return next(ctx)
	}
}
