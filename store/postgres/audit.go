package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/signoff"
	"github.com/xraph/signoff/audit"
)

const entryColumns = `seq, id, workflow_version_id, group_id, step_id, type, data, actor, created_at`

// AppendEntry persists e. The sequence comes from the table's BIGSERIAL.
func (s *Store) AppendEntry(ctx context.Context, e *audit.Entry) error {
	err := s.pool.QueryRow(ctx, `INSERT INTO signoff_audit_entries
		(id, workflow_version_id, group_id, step_id, type, data, actor, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING seq`,
		e.ID, e.WorkflowVersionID, e.GroupID, e.StepID, e.Type, jsonArg(e.Data), e.Actor, e.CreatedAt,
	).Scan(&e.Seq)
	if err != nil {
		if isDuplicateKey(err) {
			return signoff.ErrAlreadyExists
		}
		return signoff.StoreError("signoff/postgres: append entry", err)
	}
	return nil
}

// ListEntries returns entries matching opts, oldest first.
func (s *Store) ListEntries(ctx context.Context, opts audit.ListOpts) ([]*audit.Entry, error) {
	var f filter
	if !opts.WorkflowVersionID.IsNil() {
		f.add("workflow_version_id = $%d", opts.WorkflowVersionID)
	}
	if !opts.GroupID.IsNil() {
		f.add("group_id = $%d", opts.GroupID)
	}
	if opts.Type != "" {
		f.add("type = $%d", opts.Type)
	}
	sql := f.query(`SELECT `+entryColumns+` FROM signoff_audit_entries`, "created_at ASC, seq ASC", opts.Limit, opts.Offset)

	rows, err := s.pool.Query(ctx, sql, f.args...)
	if err != nil {
		return nil, signoff.StoreError("signoff/postgres: list entries", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*audit.Entry, error) {
		var (
			e    audit.Entry
			data []byte
		)
		if err := row.Scan(&e.Seq, &e.ID, &e.WorkflowVersionID, &e.GroupID, &e.StepID,
			&e.Type, &data, &e.Actor, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Data = rawJSON(data)
		e.CreatedAt = e.CreatedAt.UTC()
		return &e, nil
	})
	if err != nil {
		return nil, signoff.StoreError("signoff/postgres: list entries", err)
	}
	return out, nil
}
