package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/signoff"
	"github.com/xraph/signoff/id"
)

// Record describes an entry to append.
type Record struct {
	WorkflowVersionID id.VersionID
	GroupID           id.GroupID
	StepID            string
	Type              string
	Data              any
	Actor             string
}

// Log is the only writer of audit entries.
type Log struct {
	store  Store
	logger *slog.Logger
}

// NewLog returns a Log over store.
func NewLog(store Store, logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{store: store, logger: logger}
}

// Append writes a new entry.
func (l *Log) Append(ctx context.Context, rec Record) (*Entry, error) {
	if rec.Type == "" {
		return nil, signoff.NewValidationError("type", "required")
	}

	var data json.RawMessage
	if rec.Data != nil {
		raw, err := json.Marshal(rec.Data)
		if err != nil {
			return nil, fmt.Errorf("audit: marshal %s data: %w", rec.Type, err)
		}
		data = raw
	}

	actor := rec.Actor
	if actor == "" {
		actor = ActorSystem
	}

	e := &Entry{
		ID:                id.NewEntryID(),
		WorkflowVersionID: rec.WorkflowVersionID,
		GroupID:           rec.GroupID,
		StepID:            rec.StepID,
		Type:              rec.Type,
		Data:              data,
		Actor:             actor,
		CreatedAt:         time.Now().UTC(),
	}
	if err := l.store.AppendEntry(ctx, e); err != nil {
		return nil, fmt.Errorf("audit: append %s: %w", rec.Type, err)
	}

	l.logger.Debug("audit entry appended",
		slog.String("entry_id", e.ID.String()),
		slog.String("type", e.Type),
		slog.String("version_id", e.WorkflowVersionID.String()),
		slog.String("actor", e.Actor),
	)
	return e, nil
}

// AppendOnce writes rec unless an entry of the same type already exists
// for the same version, in which case the existing entry is returned.
func (l *Log) AppendOnce(ctx context.Context, rec Record) (*Entry, error) {
	existing, err := l.store.ListEntries(ctx, ListOpts{
		WorkflowVersionID: rec.WorkflowVersionID,
		Type:              rec.Type,
		Limit:             1,
	})
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return existing[0], nil
	}
	return l.Append(ctx, rec)
}

// ForVersion returns the entries of one workflow version in order.
func (l *Log) ForVersion(ctx context.Context, versionID id.VersionID) ([]*Entry, error) {
	return l.store.ListEntries(ctx, ListOpts{WorkflowVersionID: versionID})
}

// ForGroup returns the entries of every version of a group in order.
func (l *Log) ForGroup(ctx context.Context, groupID id.GroupID) ([]*Entry, error) {
	return l.store.ListEntries(ctx, ListOpts{GroupID: groupID})
}
