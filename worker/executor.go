// Package worker resumes suspended workflow runs. An Executor drives one
// resume with retries; a Pool feeds run IDs to a fixed set of worker
// goroutines, optionally rate limited.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/signoff/backoff"
	"github.com/xraph/signoff/id"
)

// Resumer drives one workflow run until it parks or ends.
// *workflow.Runner satisfies it.
type Resumer interface {
	Resume(ctx context.Context, runID id.RunID) error
}

// Executor resumes a single run, retrying transient store failures.
type Executor struct {
	resumer Resumer
	policy  backoff.Policy
	logger  *slog.Logger
}

// NewExecutor creates an Executor with the given dependencies.
func NewExecutor(resumer Resumer, policy backoff.Policy, logger *slog.Logger) *Executor {
	return &Executor{
		resumer: resumer,
		policy:  policy,
		logger:  logger,
	}
}

// Execute resumes runID. Only failures that survive the retry policy are
// returned; run-level failures are recorded on the run by the runner.
func (e *Executor) Execute(ctx context.Context, runID id.RunID) error {
	start := time.Now()
	err := e.policy.Do(ctx, func(ctx context.Context) error {
		return e.resumer.Resume(ctx, runID)
	})
	elapsed := time.Since(start)

	if err != nil {
		e.logger.Error("resume failed",
			slog.String("run_id", runID.String()),
			slog.Duration("elapsed", elapsed),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("resume run %s: %w", runID, err)
	}

	e.logger.Debug("resume finished",
		slog.String("run_id", runID.String()),
		slog.Duration("elapsed", elapsed),
	)
	return nil
}
