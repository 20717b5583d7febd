package sqlite

import (
	"context"
	"errors"

	"github.com/xraph/grove/drivers/sqlitedriver"

	"github.com/xraph/signoff"
	"github.com/xraph/signoff/id"
	"github.com/xraph/signoff/task"
)

// CreateTask persists a new task. The partial unique index
// signoff_tasks_one_pending_idx rejects a second pending task for the
// same version.
func (s *Store) CreateTask(ctx context.Context, t *task.Task) error {
	_, err := s.sdb.NewInsert(toTaskModel(t)).Exec(ctx)
	if err != nil {
		switch {
		case violates(err, "signoff_tasks.workflow_version_id"):
			return signoff.ErrTaskPending
		case isDuplicateKey(err):
			return signoff.ErrAlreadyExists
		}
		return signoff.StoreError("signoff/sqlite: create task", err)
	}
	return nil
}

// GetTask retrieves a task by ID.
func (s *Store) GetTask(ctx context.Context, taskID id.TaskID) (*task.Task, error) {
	m := new(taskModel)
	err := s.sdb.NewSelect(m).Where("id = ?", taskID.String()).Limit(1).Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, signoff.ErrTaskNotFound
		}
		return nil, signoff.StoreError("signoff/sqlite: get task", err)
	}
	return fromTaskModel(m)
}

// TransitionTask applies tr with a conditional update on the current
// status.
func (s *Store) TransitionTask(ctx context.Context, taskID id.TaskID, tr task.Transition) (*task.Task, error) {
	var out *task.Task
	err := s.withTx(ctx, func(tx *sqlitedriver.SqliteTx) error {
		at := nanos(tr.At)
		var models []taskModel
		err := tx.NewRaw(`UPDATE signoff_tasks
			SET status = ?, response = ?, resolved_at = ?, updated_at = ?
			WHERE id = ? AND status = ?
			RETURNING *`,
			string(tr.To), jsonText(tr.Response), at, at, taskID.String(), string(tr.From),
		).Scan(ctx, &models)
		if err != nil {
			return err
		}
		if len(models) == 1 {
			out, err = fromTaskModel(&models[0])
			return err
		}

		n, err := tx.NewSelect((*taskModel)(nil)).Where("id = ?", taskID.String()).Count(ctx)
		if err != nil {
			return err
		}
		if n == 0 {
			return signoff.ErrTaskNotFound
		}
		return signoff.ErrInvalidState
	})
	switch {
	case err == nil:
		return out, nil
	case errors.Is(err, signoff.ErrTaskNotFound), errors.Is(err, signoff.ErrInvalidState):
		return nil, err
	default:
		return nil, signoff.StoreError("signoff/sqlite: transition task", err)
	}
}

// ListTasks returns tasks matching opts.
func (s *Store) ListTasks(ctx context.Context, opts task.ListOpts) ([]*task.Task, error) {
	var models []taskModel
	q := s.sdb.NewSelect(&models)

	if opts.Status != "" {
		q = q.Where("status = ?", string(opts.Status))
	}
	if !opts.WorkflowVersionID.IsNil() {
		q = q.Where("workflow_version_id = ?", opts.WorkflowVersionID.String())
	}
	if !opts.GroupID.IsNil() {
		q = q.Where("group_id = ?", opts.GroupID.String())
	}
	if opts.Assignee != "" {
		q = q.Where("assignee = ?", opts.Assignee)
	}

	order := "created_at DESC, id DESC"
	if opts.Ascending {
		order = "created_at ASC, id ASC"
	}
	q = page(q.OrderExpr(order), opts.Limit, opts.Offset)

	if err := q.Scan(ctx); err != nil {
		return nil, signoff.StoreError("signoff/sqlite: list tasks", err)
	}
	return convert(models, fromTaskModel)
}
