// Package stream is a live feed of approval lifecycle events. The Broker
// registers as an engine extension and fans events out to subscribers by
// topic; the HTTP API serves subscriptions as server-sent events.
package stream

import (
	"encoding/json"
	"time"
)

// EventType identifies the kind of lifecycle event.
type EventType string

const (
	// Version events.
	EventVersionCreated EventType = "version.created"

	// Task events.
	EventTaskOpened        EventType = "task.opened"
	EventTaskResolved      EventType = "task.resolved"
	EventDecisionDelivered EventType = "task.decision"

	// Workflow events.
	EventWorkflowStarted   EventType = "workflow.started"
	EventWorkflowSuspended EventType = "workflow.suspended"
	EventWorkflowResumed   EventType = "workflow.resumed"
	EventWorkflowCompleted EventType = "workflow.completed"
	EventWorkflowFailed    EventType = "workflow.failed"
)

// Event is the envelope sent to subscribers.
type Event struct {
	// Type identifies the lifecycle event.
	Type EventType `json:"type"`

	// Timestamp is when the event was emitted.
	Timestamp time.Time `json:"ts"`

	// Topic is the entity topic the event concerns.
	Topic string `json:"topic"`

	// Data is the event-specific payload.
	Data json.RawMessage `json:"data"`
}

// VersionEventData is the payload for version events.
type VersionEventData struct {
	VersionID   string `json:"version_id"`
	GroupID     string `json:"group_id"`
	Number      int    `json:"version"`
	Status      string `json:"status"`
	CurrentStep string `json:"current_step"`
}

// TaskEventData is the payload for task events.
type TaskEventData struct {
	TaskID     string `json:"task_id"`
	VersionID  string `json:"version_id"`
	GroupID    string `json:"group_id"`
	Assignee   string `json:"assignee"`
	Status     string `json:"status"`
	Decision   string `json:"decision,omitempty"`
	ApprovedBy string `json:"approved_by,omitempty"`
}

// WorkflowEventData is the payload for workflow run events.
type WorkflowEventData struct {
	RunID     string `json:"run_id"`
	Name      string `json:"name"`
	State     string `json:"state"`
	WaitKey   string `json:"wait_key,omitempty"`
	ElapsedMs int64  `json:"elapsed_ms,omitempty"`
	Error     string `json:"error,omitempty"`
}
