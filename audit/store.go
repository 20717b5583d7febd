package audit

import (
	"context"

	"github.com/xraph/signoff/id"
)

// ListOpts filters entry queries. Results are always oldest first.
type ListOpts struct {
	WorkflowVersionID id.VersionID
	GroupID           id.GroupID
	// Type filters by entry type. Empty means all types.
	Type   string
	Limit  int
	Offset int
}

// Store defines the persistence contract for the audit log.
type Store interface {
	// AppendEntry persists e and assigns e.Seq.
	AppendEntry(ctx context.Context, e *Entry) error

	// ListEntries returns entries matching opts ordered by
	// (CreatedAt, Seq).
	ListEntries(ctx context.Context, opts ListOpts) ([]*Entry, error)
}
