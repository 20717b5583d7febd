package middleware

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// ErrSuspended ends a step without failing it: the run parks until an
// external event arrives. The workflow package returns it from Await.
var ErrSuspended = errors.New("workflow suspended")

// Logging returns middleware that logs step start and completion.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, s Step, next Handler) error {
		logger.Debug("step started",
			slog.String("workflow", s.Workflow),
			slog.String("run_id", s.RunID),
			slog.String("step", s.Name),
			slog.Int("attempt", s.Attempt),
		)

		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		switch {
		case err == nil:
			logger.Info("step completed",
				slog.String("workflow", s.Workflow),
				slog.String("run_id", s.RunID),
				slog.String("step", s.Name),
				slog.Duration("elapsed", elapsed),
			)
		case errors.Is(err, ErrSuspended):
			logger.Debug("step suspended",
				slog.String("workflow", s.Workflow),
				slog.String("run_id", s.RunID),
				slog.String("step", s.Name),
			)
		default:
			logger.Error("step failed",
				slog.String("workflow", s.Workflow),
				slog.String("run_id", s.RunID),
				slog.String("step", s.Name),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		}
		return err
	}
}
