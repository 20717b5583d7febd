package sqlite

import (
	"context"

	"github.com/xraph/signoff"
	"github.com/xraph/signoff/compensation"
)

// CreateCompensation persists a compensation record.
func (s *Store) CreateCompensation(ctx context.Context, r *compensation.Record) error {
	if _, err := s.sdb.NewInsert(toCompensationModel(r)).Exec(ctx); err != nil {
		if isDuplicateKey(err) {
			return signoff.ErrAlreadyExists
		}
		return signoff.StoreError("signoff/sqlite: create compensation", err)
	}
	return nil
}

// ListCompensations returns records matching opts in insertion order.
func (s *Store) ListCompensations(ctx context.Context, opts compensation.ListOpts) ([]*compensation.Record, error) {
	var models []compensationModel
	q := s.sdb.NewSelect(&models)

	if !opts.WorkflowVersionID.IsNil() {
		q = q.Where("workflow_version_id = ?", opts.WorkflowVersionID.String())
	}
	if !opts.GroupID.IsNil() {
		q = q.Where("group_id = ?", opts.GroupID.String())
	}
	if opts.Action != "" {
		q = q.Where("action = ?", opts.Action)
	}

	if err := q.OrderExpr("rowid ASC").Scan(ctx); err != nil {
		return nil, signoff.StoreError("signoff/sqlite: list compensations", err)
	}
	return convert(models, fromCompensationModel)
}
