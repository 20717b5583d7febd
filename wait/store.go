package wait

import (
	"context"
	"time"
)

// Store defines the persistence contract for wait records.
type Store interface {
	// CreateWait persists an open record. It fails with ErrWaitConflict if
	// an open record already exists for r.Key; a resolved record under the
	// same key is replaced.
	CreateWait(ctx context.Context, r *Record) error

	// GetWait retrieves the record for a key. Returns ErrWaitNotFound if
	// none was ever registered.
	GetWait(ctx context.Context, key string) (*Record, error)

	// ResolveWait resolves the record for key only if it is open. It
	// reports whether this call performed the resolution; an unknown key
	// reports false without error.
	ResolveWait(ctx context.Context, key string, res Resolution) (bool, error)

	// ListDueWaits returns open records whose deadline is at or before
	// now, earliest deadline first. Zero limit means no limit.
	ListDueWaits(ctx context.Context, now time.Time, limit int) ([]*Record, error)
}
