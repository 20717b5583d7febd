package version

import (
	"context"

	"github.com/xraph/signoff/id"
)

// ListOpts filters and paginates version list queries.
type ListOpts struct {
	// GroupID restricts results to one group. Nil means all groups.
	GroupID id.GroupID
	// Status filters by status. Empty means all statuses.
	Status Status
	// LatestOnly returns only the head of each group.
	LatestOnly bool
	// Limit is the maximum number of versions to return. Zero means no limit.
	Limit int
	// Offset is the number of versions to skip.
	Offset int
}

// Store defines the persistence contract for workflow versions.
//
// It is an arena of version records plus a per-group head. AppendVersion
// is the only write path besides RepairLatest.
type Store interface {
	// AppendVersion inserts v as the new head of its group.
	//
	// When v.PreviousVersionID is nil, v must be version 1 of a new group
	// (ErrAlreadyExists if the group has versions). Otherwise the previous
	// version must exist (ErrVersionNotFound), belong to v.GroupID and be
	// the current head (ErrStaleVersion); it is demoted and v inserted as
	// one atomic unit.
	AppendVersion(ctx context.Context, v *Version) error

	// GetVersion retrieves a version by ID.
	GetVersion(ctx context.Context, versionID id.VersionID) (*Version, error)

	// ListGroupVersions returns every version of a group, newest first.
	// An unknown group yields an empty slice.
	ListGroupVersions(ctx context.Context, groupID id.GroupID) ([]*Version, error)

	// ListVersions returns versions matching opts, newest first.
	ListVersions(ctx context.Context, opts ListOpts) ([]*Version, error)

	// GetSuccessor returns the version whose PreviousVersionID is prevID.
	// Returns ErrVersionNotFound when prevID has not been superseded.
	GetSuccessor(ctx context.Context, prevID id.VersionID) (*Version, error)

	// RepairLatest re-derives IsLatest for a group as "highest version
	// number wins".
	RepairLatest(ctx context.Context, groupID id.GroupID) error
}
