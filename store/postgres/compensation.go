package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/signoff"
	"github.com/xraph/signoff/compensation"
)

const compensationColumns = `id, workflow_version_id, group_id, step_id, action, status, data, error, created_at`

// CreateCompensation persists a compensation record.
func (s *Store) CreateCompensation(ctx context.Context, r *compensation.Record) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO signoff_compensations (`+compensationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		r.ID, r.WorkflowVersionID, r.GroupID, r.StepID, r.Action, string(r.Status), jsonArg(r.Data), r.Error, r.CreatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return signoff.ErrAlreadyExists
		}
		return signoff.StoreError("signoff/postgres: create compensation", err)
	}
	return nil
}

// ListCompensations returns records matching opts, oldest first.
func (s *Store) ListCompensations(ctx context.Context, opts compensation.ListOpts) ([]*compensation.Record, error) {
	var f filter
	if !opts.WorkflowVersionID.IsNil() {
		f.add("workflow_version_id = $%d", opts.WorkflowVersionID)
	}
	if !opts.GroupID.IsNil() {
		f.add("group_id = $%d", opts.GroupID)
	}
	if opts.Action != "" {
		f.add("action = $%d", opts.Action)
	}
	sql := f.query(`SELECT `+compensationColumns+` FROM signoff_compensations`, "created_at ASC, id ASC", 0, 0)

	rows, err := s.pool.Query(ctx, sql, f.args...)
	if err != nil {
		return nil, signoff.StoreError("signoff/postgres: list compensations", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*compensation.Record, error) {
		var (
			r    compensation.Record
			data []byte
		)
		if err := row.Scan(&r.ID, &r.WorkflowVersionID, &r.GroupID, &r.StepID, &r.Action,
			&r.Status, &data, &r.Error, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.Data = rawJSON(data)
		r.CreatedAt = r.CreatedAt.UTC()
		return &r, nil
	})
	if err != nil {
		return nil, signoff.StoreError("signoff/postgres: list compensations", err)
	}
	return out, nil
}
