package sqlite

import (
	"context"

	"github.com/xraph/signoff"
	"github.com/xraph/signoff/audit"
)

// AppendEntry persists e and assigns its sequence from the rowid.
func (s *Store) AppendEntry(ctx context.Context, e *audit.Entry) error {
	res, err := s.sdb.NewInsert(toEntryModel(e)).Exec(ctx)
	if err != nil {
		if isDuplicateKey(err) {
			return signoff.ErrAlreadyExists
		}
		return signoff.StoreError("signoff/sqlite: append entry", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return signoff.StoreError("signoff/sqlite: append entry", err)
	}
	e.Seq = seq
	return nil
}

// ListEntries returns entries matching opts, oldest first.
func (s *Store) ListEntries(ctx context.Context, opts audit.ListOpts) ([]*audit.Entry, error) {
	var models []entryModel
	q := s.sdb.NewSelect(&models)

	if !opts.WorkflowVersionID.IsNil() {
		q = q.Where("workflow_version_id = ?", opts.WorkflowVersionID.String())
	}
	if !opts.GroupID.IsNil() {
		q = q.Where("group_id = ?", opts.GroupID.String())
	}
	if opts.Type != "" {
		q = q.Where("type = ?", opts.Type)
	}
	q = page(q.OrderExpr("created_at ASC, seq ASC"), opts.Limit, opts.Offset)

	if err := q.Scan(ctx); err != nil {
		return nil, signoff.StoreError("signoff/sqlite: list entries", err)
	}
	return convert(models, fromEntryModel)
}
