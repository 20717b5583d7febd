// Package version implements the workflow version chain: every state
// transition of a workflow run is captured as a new immutable Version, and
// the previous head of the group is demoted in the same atomic operation.
package version

import (
	"encoding/json"

	"github.com/xraph/signoff"
	"github.com/xraph/signoff/id"
)

// Status is the business state recorded on a version.
type Status string

const (
	// StatusRunning means the run has started and is doing work.
	StatusRunning Status = "running"
	// StatusWaitingApproval means the run is suspended on a human decision.
	StatusWaitingApproval Status = "waiting_approval"
	// StatusApproved means the request was approved.
	StatusApproved Status = "approved"
	// StatusRejected means the request was rejected or timed out.
	StatusRejected Status = "rejected"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusRunning, StatusWaitingApproval, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// Terminal reports whether no further version follows s in the base flow.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// Version is one immutable snapshot of a workflow run. Only IsLatest
// changes after creation, and only from true to false.
type Version struct {
	signoff.Entity

	ID                id.VersionID    `json:"id"`
	GroupID           id.GroupID      `json:"group_id"`
	Number            int             `json:"version"`
	Name              string          `json:"name"`
	Status            Status          `json:"status"`
	CurrentStep       string          `json:"current_step"`
	Context           json.RawMessage `json:"context,omitempty"`
	IsLatest          bool            `json:"is_latest"`
	PreviousVersionID id.VersionID    `json:"previous_version_id"`
	CreatedBy         string          `json:"created_by,omitempty"`
}

// IsFirst reports whether v starts its chain.
func (v *Version) IsFirst() bool {
	return v.PreviousVersionID.IsNil()
}
