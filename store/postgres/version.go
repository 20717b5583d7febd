package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/signoff"
	"github.com/xraph/signoff/id"
	"github.com/xraph/signoff/version"
)

const versionColumns = `id, group_id, number, name, status, current_step, context,
	is_latest, previous_version_id, created_by, created_at, updated_at`

func scanVersion(row pgx.Row) (*version.Version, error) {
	var (
		v   version.Version
		raw []byte
	)
	err := row.Scan(
		&v.ID, &v.GroupID, &v.Number, &v.Name, &v.Status, &v.CurrentStep, &raw,
		&v.IsLatest, &v.PreviousVersionID, &v.CreatedBy, &v.CreatedAt, &v.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	v.Context = rawJSON(raw)
	v.CreatedAt = v.CreatedAt.UTC()
	v.UpdatedAt = v.UpdatedAt.UTC()
	return &v, nil
}

func (s *Store) queryVersions(ctx context.Context, op, sql string, args ...any) ([]*version.Version, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, signoff.StoreError(op, err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*version.Version, error) {
		return scanVersion(row)
	})
	if err != nil {
		return nil, signoff.StoreError(op, err)
	}
	return out, nil
}

// AppendVersion inserts v as the new head of its group. The previous head
// is locked, checked and demoted in the same transaction.
func (s *Store) AppendVersion(ctx context.Context, v *version.Version) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if v.PreviousVersionID.IsNil() {
			var exists bool
			err := tx.QueryRow(ctx,
				`SELECT EXISTS (SELECT 1 FROM signoff_versions WHERE group_id = $1)`, v.GroupID,
			).Scan(&exists)
			if err != nil {
				return err
			}
			if exists {
				return signoff.ErrAlreadyExists
			}
		} else {
			var (
				group  id.GroupID
				latest bool
			)
			err := tx.QueryRow(ctx,
				`SELECT group_id, is_latest FROM signoff_versions WHERE id = $1 FOR UPDATE`,
				v.PreviousVersionID,
			).Scan(&group, &latest)
			if isNoRows(err) {
				return signoff.ErrVersionNotFound
			}
			if err != nil {
				return err
			}
			if group.String() != v.GroupID.String() || !latest {
				return signoff.ErrStaleVersion
			}
			_, err = tx.Exec(ctx,
				`UPDATE signoff_versions SET is_latest = FALSE, updated_at = $2 WHERE id = $1`,
				v.PreviousVersionID, time.Now().UTC(),
			)
			if err != nil {
				return err
			}
		}

		_, err := tx.Exec(ctx, `INSERT INTO signoff_versions (`+versionColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE, $8, $9, $10, $11)`,
			v.ID, v.GroupID, v.Number, v.Name, string(v.Status), v.CurrentStep, jsonArg(v.Context),
			v.PreviousVersionID, v.CreatedBy, v.CreatedAt, v.UpdatedAt,
		)
		return err
	})

	switch {
	case err == nil:
		v.IsLatest = true
		return nil
	case errors.Is(err, signoff.ErrConflict), errors.Is(err, signoff.ErrNotFound):
		return err
	case isDuplicateKey(err):
		if v.PreviousVersionID.IsNil() || violatedConstraint(err) == "signoff_versions_pkey" {
			return signoff.ErrAlreadyExists
		}
		return signoff.ErrStaleVersion
	default:
		return signoff.StoreError("signoff/postgres: append version", err)
	}
}

// GetVersion retrieves a version by ID.
func (s *Store) GetVersion(ctx context.Context, versionID id.VersionID) (*version.Version, error) {
	v, err := scanVersion(s.pool.QueryRow(ctx,
		`SELECT `+versionColumns+` FROM signoff_versions WHERE id = $1`, versionID))
	if err != nil {
		if isNoRows(err) {
			return nil, signoff.ErrVersionNotFound
		}
		return nil, signoff.StoreError("signoff/postgres: get version", err)
	}
	return v, nil
}

// ListGroupVersions returns every version of a group, newest first.
func (s *Store) ListGroupVersions(ctx context.Context, groupID id.GroupID) ([]*version.Version, error) {
	return s.queryVersions(ctx, "signoff/postgres: list group versions",
		`SELECT `+versionColumns+` FROM signoff_versions WHERE group_id = $1 ORDER BY number DESC`, groupID)
}

// ListVersions returns versions matching opts, newest first.
func (s *Store) ListVersions(ctx context.Context, opts version.ListOpts) ([]*version.Version, error) {
	var f filter
	if !opts.GroupID.IsNil() {
		f.add("group_id = $%d", opts.GroupID)
	}
	if opts.Status != "" {
		f.add("status = $%d", string(opts.Status))
	}
	if opts.LatestOnly {
		f.add("is_latest = $%d", true)
	}
	sql := f.query(`SELECT `+versionColumns+` FROM signoff_versions`,
		"created_at DESC, number DESC", opts.Limit, opts.Offset)
	return s.queryVersions(ctx, "signoff/postgres: list versions", sql, f.args...)
}

// GetSuccessor returns the version that superseded prevID.
func (s *Store) GetSuccessor(ctx context.Context, prevID id.VersionID) (*version.Version, error) {
	v, err := scanVersion(s.pool.QueryRow(ctx,
		`SELECT `+versionColumns+` FROM signoff_versions WHERE previous_version_id = $1`, prevID))
	if err != nil {
		if isNoRows(err) {
			return nil, signoff.ErrVersionNotFound
		}
		return nil, signoff.StoreError("signoff/postgres: get successor", err)
	}
	return v, nil
}

// RepairLatest marks the highest-numbered version of the group as the
// only latest one.
func (s *Store) RepairLatest(ctx context.Context, groupID id.GroupID) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var head id.VersionID
		err := tx.QueryRow(ctx,
			`SELECT id FROM signoff_versions WHERE group_id = $1 ORDER BY number DESC LIMIT 1 FOR UPDATE`,
			groupID,
		).Scan(&head)
		if isNoRows(err) {
			return signoff.ErrGroupNotFound
		}
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		_, err = tx.Exec(ctx,
			`UPDATE signoff_versions SET is_latest = FALSE, updated_at = $3
			 WHERE group_id = $1 AND is_latest AND id <> $2`, groupID, head, now)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx,
			`UPDATE signoff_versions SET is_latest = TRUE, updated_at = $2 WHERE id = $1 AND NOT is_latest`,
			head, now)
		return err
	})
	if err != nil && !errors.Is(err, signoff.ErrNotFound) {
		return signoff.StoreError("signoff/postgres: repair latest", err)
	}
	return err
}
