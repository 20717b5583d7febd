package sqlite

import (
	"context"
	"errors"
	"time"

	"github.com/xraph/grove/drivers/sqlitedriver"

	"github.com/xraph/signoff"
	"github.com/xraph/signoff/id"
	"github.com/xraph/signoff/version"
)

// AppendVersion inserts v as the new head of its group, demoting the
// previous head in the same transaction.
func (s *Store) AppendVersion(ctx context.Context, v *version.Version) error {
	m := toVersionModel(v)
	m.IsLatest = true

	err := s.withTx(ctx, func(tx *sqlitedriver.SqliteTx) error {
		if v.PreviousVersionID.IsNil() {
			n, err := tx.NewSelect((*versionModel)(nil)).
				Where("group_id = ?", m.GroupID).
				Count(ctx)
			if err != nil {
				return err
			}
			if n > 0 {
				return signoff.ErrAlreadyExists
			}
		} else {
			prev := new(versionModel)
			err := tx.NewSelect(prev).
				Where("id = ?", *m.PreviousVersionID).
				Limit(1).
				Scan(ctx)
			if isNoRows(err) {
				return signoff.ErrVersionNotFound
			}
			if err != nil {
				return err
			}
			if prev.GroupID != m.GroupID || !prev.IsLatest {
				return signoff.ErrStaleVersion
			}
			if _, err := tx.NewUpdate((*versionModel)(nil)).
				Set("is_latest = 0").
				Set("updated_at = ?", nanos(time.Now())).
				Where("id = ?", prev.ID).
				Exec(ctx); err != nil {
				return err
			}
		}

		_, err := tx.NewInsert(m).Exec(ctx)
		return err
	})

	switch {
	case err == nil:
		v.IsLatest = true
		return nil
	case errors.Is(err, signoff.ErrConflict), errors.Is(err, signoff.ErrNotFound):
		return err
	case isDuplicateKey(err):
		if v.PreviousVersionID.IsNil() || violates(err, "signoff_versions.id") {
			return signoff.ErrAlreadyExists
		}
		return signoff.ErrStaleVersion
	default:
		return signoff.StoreError("signoff/sqlite: append version", err)
	}
}

// GetVersion retrieves a version by ID.
func (s *Store) GetVersion(ctx context.Context, versionID id.VersionID) (*version.Version, error) {
	m := new(versionModel)
	err := s.sdb.NewSelect(m).Where("id = ?", versionID.String()).Limit(1).Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, signoff.ErrVersionNotFound
		}
		return nil, signoff.StoreError("signoff/sqlite: get version", err)
	}
	return fromVersionModel(m)
}

// ListGroupVersions returns every version of a group, newest first.
func (s *Store) ListGroupVersions(ctx context.Context, groupID id.GroupID) ([]*version.Version, error) {
	var models []versionModel
	err := s.sdb.NewSelect(&models).
		Where("group_id = ?", groupID.String()).
		OrderExpr("number DESC").
		Scan(ctx)
	if err != nil {
		return nil, signoff.StoreError("signoff/sqlite: list group versions", err)
	}
	return convert(models, fromVersionModel)
}

// ListVersions returns versions matching opts, newest first.
func (s *Store) ListVersions(ctx context.Context, opts version.ListOpts) ([]*version.Version, error) {
	var models []versionModel
	q := s.sdb.NewSelect(&models)

	if !opts.GroupID.IsNil() {
		q = q.Where("group_id = ?", opts.GroupID.String())
	}
	if opts.Status != "" {
		q = q.Where("status = ?", string(opts.Status))
	}
	if opts.LatestOnly {
		q = q.Where("is_latest = 1")
	}
	q = page(q.OrderExpr("created_at DESC, number DESC"), opts.Limit, opts.Offset)

	if err := q.Scan(ctx); err != nil {
		return nil, signoff.StoreError("signoff/sqlite: list versions", err)
	}
	return convert(models, fromVersionModel)
}

// GetSuccessor returns the version that superseded prevID.
func (s *Store) GetSuccessor(ctx context.Context, prevID id.VersionID) (*version.Version, error) {
	m := new(versionModel)
	err := s.sdb.NewSelect(m).Where("previous_version_id = ?", prevID.String()).Limit(1).Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, signoff.ErrVersionNotFound
		}
		return nil, signoff.StoreError("signoff/sqlite: get successor", err)
	}
	return fromVersionModel(m)
}

// RepairLatest marks the highest-numbered version of the group as the
// only latest one.
func (s *Store) RepairLatest(ctx context.Context, groupID id.GroupID) error {
	err := s.withTx(ctx, func(tx *sqlitedriver.SqliteTx) error {
		head := new(versionModel)
		err := tx.NewSelect(head).
			Where("group_id = ?", groupID.String()).
			OrderExpr("number DESC").
			Limit(1).
			Scan(ctx)
		if isNoRows(err) {
			return signoff.ErrGroupNotFound
		}
		if err != nil {
			return err
		}

		now := nanos(time.Now())
		if _, err := tx.NewUpdate((*versionModel)(nil)).
			Set("is_latest = 0").
			Set("updated_at = ?", now).
			Where("group_id = ?", head.GroupID).
			Where("is_latest = 1").
			Where("id <> ?", head.ID).
			Exec(ctx); err != nil {
			return err
		}
		_, err = tx.NewUpdate((*versionModel)(nil)).
			Set("is_latest = 1").
			Set("updated_at = ?", now).
			Where("id = ?", head.ID).
			Where("is_latest = 0").
			Exec(ctx)
		return err
	})
	if err != nil && !errors.Is(err, signoff.ErrNotFound) {
		return signoff.StoreError("signoff/sqlite: repair latest", err)
	}
	return err
}
