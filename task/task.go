// Package task tracks human decision requests. A Task is opened against
// one workflow version and resolved exactly once: approved, rejected, or
// timed out.
package task

import (
	"encoding/json"
	"time"

	"github.com/xraph/signoff"
	"github.com/xraph/signoff/id"
)

// Status is the lifecycle state of a Task.
type Status string

const (
	// StatusPending means the task awaits a decision.
	StatusPending Status = "pending"
	// StatusApproved means the task was approved.
	StatusApproved Status = "approved"
	// StatusRejected means the task was rejected.
	StatusRejected Status = "rejected"
	// StatusTimedOut means no decision arrived before the deadline.
	StatusTimedOut Status = "timed_out"
)

// Decision is a human verdict on a task.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// Valid reports whether d is approve or reject.
func (d Decision) Valid() bool {
	return d == DecisionApprove || d == DecisionReject
}

// Status maps a decision to the task status it produces.
func (d Decision) Status() Status {
	if d == DecisionApprove {
		return StatusApproved
	}
	return StatusRejected
}

// Task is an outstanding or resolved request for a human decision.
type Task struct {
	signoff.Entity

	ID                id.TaskID       `json:"id"`
	WorkflowVersionID id.VersionID    `json:"workflow_version_id"`
	GroupID           id.GroupID      `json:"group_id"`
	StepID            string          `json:"step_id"`
	Assignee          string          `json:"assignee"`
	AssigneeID        string          `json:"assignee_id,omitempty"`
	UISchema          json.RawMessage `json:"ui_schema,omitempty"`
	Status            Status          `json:"status"`
	Response          json.RawMessage `json:"response,omitempty"`
	Channel           string          `json:"channel"`
	ExpiresAt         *time.Time      `json:"expires_at,omitempty"`
	ResolvedAt        *time.Time      `json:"resolved_at,omitempty"`
}

// Pending reports whether the task still awaits a decision.
func (t *Task) Pending() bool { return t.Status == StatusPending }
