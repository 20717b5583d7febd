package version

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/xraph/signoff"
	"github.com/xraph/signoff/id"
)

// CreateParams describes the next version of a group.
type CreateParams struct {
	GroupID     id.GroupID
	Name        string
	Status      Status
	CurrentStep string
	Context     json.RawMessage
	CreatedBy   string

	// PreviousVersionID is the head the caller last observed. Nil creates
	// version 1 of a new group.
	PreviousVersionID id.VersionID
}

// Chain owns the creation of workflow versions and the reads that must
// see the one-latest-per-group invariant.
type Chain struct {
	store  Store
	logger *slog.Logger
}

// NewChain returns a Chain over store.
func NewChain(store Store, logger *slog.Logger) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{store: store, logger: logger}
}

// NewGroupID generates the identity of a new workflow group.
func NewGroupID() id.GroupID { return id.NewGroupID() }

// Create appends a new version to a group. Passing the previously
// observed head as PreviousVersionID makes the transition optimistic: it
// fails with ErrStaleVersion when someone else advanced the group first.
func (c *Chain) Create(ctx context.Context, p CreateParams) (*Version, error) {
	if p.GroupID.IsNil() {
		return nil, signoff.NewValidationError("group_id", "required")
	}
	if !p.Status.Valid() {
		return nil, signoff.NewValidationError("status", fmt.Sprintf("unknown status %q", p.Status))
	}

	number := 1
	if !p.PreviousVersionID.IsNil() {
		prev, err := c.store.GetVersion(ctx, p.PreviousVersionID)
		if err != nil {
			return nil, fmt.Errorf("version: previous %s: %w", p.PreviousVersionID, err)
		}
		if prev.GroupID.String() != p.GroupID.String() {
			return nil, fmt.Errorf("version: previous %s belongs to group %s: %w",
				prev.ID, prev.GroupID, signoff.ErrStaleVersion)
		}
		number = prev.Number + 1
	}

	v := &Version{
		Entity:            signoff.NewEntity(),
		ID:                id.NewVersionID(),
		GroupID:           p.GroupID,
		Number:            number,
		Name:              p.Name,
		Status:            p.Status,
		CurrentStep:       p.CurrentStep,
		Context:           p.Context,
		IsLatest:          true,
		PreviousVersionID: p.PreviousVersionID,
		CreatedBy:         p.CreatedBy,
	}

	if err := c.store.AppendVersion(ctx, v); err != nil {
		return nil, fmt.Errorf("version: append %d to group %s: %w", number, p.GroupID, err)
	}

	c.logger.Debug("workflow version created",
		slog.String("group_id", v.GroupID.String()),
		slog.String("version_id", v.ID.String()),
		slog.Int("version", v.Number),
		slog.String("status", string(v.Status)),
	)
	return v, nil
}

// Get returns a version by ID.
func (c *Chain) Get(ctx context.Context, versionID id.VersionID) (*Version, error) {
	return c.store.GetVersion(ctx, versionID)
}

// Latest returns the head of a group.
func (c *Chain) Latest(ctx context.Context, groupID id.GroupID) (*Version, error) {
	history, err := c.History(ctx, groupID)
	if err != nil {
		return nil, err
	}
	return history[0], nil
}

// History returns every version of a group, newest first. Each call is a
// fresh read. A group whose latest flags are inconsistent is repaired
// before returning.
func (c *Chain) History(ctx context.Context, groupID id.GroupID) ([]*Version, error) {
	versions, err := c.store.ListGroupVersions(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, fmt.Errorf("version: group %s: %w", groupID, signoff.ErrGroupNotFound)
	}
	if latestConsistent(versions) {
		return versions, nil
	}

	c.logger.Warn("repairing latest flag of workflow group",
		slog.String("group_id", groupID.String()),
		slog.Int("versions", len(versions)),
	)
	if err := c.store.RepairLatest(ctx, groupID); err != nil {
		return nil, fmt.Errorf("version: repair group %s: %w", groupID, err)
	}
	return c.store.ListGroupVersions(ctx, groupID)
}

// List returns versions matching opts, newest first. LatestOnly results
// come from the stored flags and are not repaired.
func (c *Chain) List(ctx context.Context, opts ListOpts) ([]*Version, error) {
	return c.store.ListVersions(ctx, opts)
}

// Successor returns the version created on top of prevID, or nil when
// prevID is still the head.
func (c *Chain) Successor(ctx context.Context, prevID id.VersionID) (*Version, error) {
	v, err := c.store.GetSuccessor(ctx, prevID)
	if errors.Is(err, signoff.ErrVersionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

// latestConsistent reports whether exactly the highest-numbered version of
// a newest-first slice carries IsLatest.
func latestConsistent(versions []*Version) bool {
	for i, v := range versions {
		if v.IsLatest != (i == 0) {
			return false
		}
	}
	return true
}

// VerifyChain checks a newest-first history: numbers are contiguous from
// 1, exactly the head is latest, and following PreviousVersionID from the
// head reaches version 1 in Number-1 hops.
func VerifyChain(versions []*Version) error {
	if len(versions) == 0 {
		return errors.New("version: empty chain")
	}
	if !latestConsistent(versions) {
		return errors.New("version: latest flag not on the head alone")
	}

	byID := make(map[string]*Version, len(versions))
	for i, v := range versions {
		if want := len(versions) - i; v.Number != want {
			return fmt.Errorf("version: position %d has number %d, want %d", i, v.Number, want)
		}
		byID[v.ID.String()] = v
	}

	hops := 0
	for cur := versions[0]; !cur.IsFirst(); hops++ {
		prev, ok := byID[cur.PreviousVersionID.String()]
		if !ok {
			return fmt.Errorf("version: %s links to unknown %s", cur.ID, cur.PreviousVersionID)
		}
		if prev.Number != cur.Number-1 {
			return fmt.Errorf("version: %s (v%d) links to v%d", cur.ID, cur.Number, prev.Number)
		}
		cur = prev
	}
	if hops != versions[0].Number-1 {
		return fmt.Errorf("version: head reaches v1 in %d hops, want %d", hops, versions[0].Number-1)
	}
	return nil
}
