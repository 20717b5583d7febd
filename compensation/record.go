// Package compensation stores rollback records raised when a workflow run
// ends rejected or fails. Records are queryable history; no rollback
// engine executes them.
package compensation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/xraph/signoff/id"
)

// Status is the state of a compensation action.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// ActionCancelPurchase is recorded when a purchase is rejected or times out.
const ActionCancelPurchase = "cancel_purchase"

// Record is one compensation action tied to a workflow version.
type Record struct {
	ID                id.CompensationID `json:"id"`
	WorkflowVersionID id.VersionID      `json:"workflow_version_id"`
	GroupID           id.GroupID        `json:"group_id"`
	StepID            string            `json:"step_id"`
	Action            string            `json:"action"`
	Status            Status            `json:"status"`
	Data              json.RawMessage   `json:"data,omitempty"`
	Error             string            `json:"error,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
}

// ListOpts filters compensation queries. Results are oldest first.
type ListOpts struct {
	WorkflowVersionID id.VersionID
	GroupID           id.GroupID
	Action            string
}

// Store defines the persistence contract for compensation records.
type Store interface {
	CreateCompensation(ctx context.Context, r *Record) error
	ListCompensations(ctx context.Context, opts ListOpts) ([]*Record, error)
}

// RecordOnce stores a completed action for a version unless one with the
// same action already exists.
func RecordOnce(ctx context.Context, s Store, r *Record) (*Record, error) {
	existing, err := s.ListCompensations(ctx, ListOpts{
		WorkflowVersionID: r.WorkflowVersionID,
		Action:            r.Action,
	})
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return existing[0], nil
	}

	if r.ID.IsNil() {
		r.ID = id.NewCompensationID()
	}
	if r.Status == "" {
		r.Status = StatusCompleted
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	if err := s.CreateCompensation(ctx, r); err != nil {
		return nil, fmt.Errorf("compensation: record %s: %w", r.Action, err)
	}
	return r, nil
}
