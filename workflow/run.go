package workflow

import (
	"encoding/json"
	"time"

	"github.com/xraph/signoff"
	"github.com/xraph/signoff/id"
)

// RunState represents the lifecycle state of a workflow run.
type RunState string

const (
	// RunStateRunning means the workflow is executing or was interrupted
	// while executing.
	RunStateRunning RunState = "running"
	// RunStateWaiting means the workflow is parked on an open wait.
	RunStateWaiting RunState = "waiting"
	// RunStateCompleted means the workflow finished successfully.
	RunStateCompleted RunState = "completed"
	// RunStateFailed means the workflow failed terminally.
	RunStateFailed RunState = "failed"
)

// Terminal reports whether no further execution happens in state s.
func (s RunState) Terminal() bool {
	return s == RunStateCompleted || s == RunStateFailed
}

// Run represents a single execution of a workflow.
type Run struct {
	signoff.Entity

	ID          id.RunID        `json:"id"`
	Name        string          `json:"name"`
	Version     int             `json:"version"`
	State       RunState        `json:"state"`
	Input       json.RawMessage `json:"input,omitempty"`
	Error       string          `json:"error,omitempty"`
	WaitKey     string          `json:"wait_key,omitempty"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}
