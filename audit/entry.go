// Package audit is the append-only event log of workflow runs. Entries are
// never modified; within a workflow version they are ordered by creation.
package audit

import (
	"encoding/json"
	"time"

	"github.com/xraph/signoff/id"
)

// Entry types written by the approval flow.
const (
	TypeWorkflowStarted  = "workflow.started"
	TypeWorkflowFailed   = "workflow.failed"
	TypePurchaseApproved = "purchase.approved"
	TypePurchaseRejected = "purchase.rejected"
	TypePurchaseTimeout  = "purchase.timeout"
)

// Actors used when no human caused the entry.
const (
	ActorSystem  = "system"
	ActorTimeout = "system.timeout"
)

// Entry is one immutable audit record.
type Entry struct {
	ID                id.EntryID      `json:"id"`
	WorkflowVersionID id.VersionID    `json:"workflow_version_id"`
	GroupID           id.GroupID      `json:"group_id"`
	StepID            string          `json:"step_id"`
	Type              string          `json:"type"`
	Data              json.RawMessage `json:"data,omitempty"`
	Actor             string          `json:"actor"`
	CreatedAt         time.Time       `json:"created_at"`

	// Seq is assigned by the store on append and breaks CreatedAt ties.
	Seq int64 `json:"seq"`
}
