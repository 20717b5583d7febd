package signoff

import "time"

// DefaultWorkflowName is the display name given to purchase approval runs
// when the trigger does not carry one.
const DefaultWorkflowName = "Purchase Approval Flow"

// Config holds configuration for the Runtime.
type Config struct {
	// ApprovalTimeout is how long a run waits for a human decision before
	// the wait resolves as timed out.
	ApprovalTimeout time.Duration

	// SweepInterval is how often open waits are checked against their
	// deadline. In-process timers normally fire first; the sweep covers
	// waits whose timer was lost to a restart.
	SweepInterval time.Duration

	// Concurrency is the number of workers resuming suspended runs.
	Concurrency int

	// ResumeRate caps resumes dispatched per second. Zero means unlimited.
	ResumeRate float64

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration

	// Retry bounds how store failures inside a step are retried.
	Retry RetryConfig

	// WorkflowName is the default name stamped on new workflow versions.
	WorkflowName string
}

// RetryConfig is the retry budget for transient store failures.
type RetryConfig struct {
	// MaxAttempts is the total number of tries, including the first.
	MaxAttempts int

	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration

	// MaxDelay caps the delay between retries.
	MaxDelay time.Duration

	// Jitter randomizes each delay to avoid retry storms.
	Jitter bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ApprovalTimeout: 300 * time.Second,
		SweepInterval:   1 * time.Second,
		Concurrency:     8,
		ShutdownTimeout: 30 * time.Second,
		Retry: RetryConfig{
			MaxAttempts:  5,
			InitialDelay: 100 * time.Millisecond,
			MaxDelay:     5 * time.Second,
			Jitter:       true,
		},
		WorkflowName: DefaultWorkflowName,
	}
}
