package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/signoff"
	"github.com/xraph/signoff/id"
	"github.com/xraph/signoff/task"
)

const taskColumns = `id, workflow_version_id, group_id, step_id, assignee, assignee_id, ui_schema,
	status, response, channel, expires_at, resolved_at, created_at, updated_at`

func scanTask(row pgx.Row) (*task.Task, error) {
	var (
		t                task.Task
		schema, response []byte
	)
	err := row.Scan(
		&t.ID, &t.WorkflowVersionID, &t.GroupID, &t.StepID, &t.Assignee, &t.AssigneeID, &schema,
		&t.Status, &response, &t.Channel, &t.ExpiresAt, &t.ResolvedAt, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.UISchema = rawJSON(schema)
	t.Response = rawJSON(response)
	t.ExpiresAt = utcPtr(t.ExpiresAt)
	t.ResolvedAt = utcPtr(t.ResolvedAt)
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return &t, nil
}

// CreateTask persists a new task. A partial unique index keeps at most
// one pending task per version.
func (s *Store) CreateTask(ctx context.Context, t *task.Task) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO signoff_tasks (`+taskColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		t.ID, t.WorkflowVersionID, t.GroupID, t.StepID, t.Assignee, t.AssigneeID, jsonArg(t.UISchema),
		string(t.Status), jsonArg(t.Response), t.Channel, t.ExpiresAt, t.ResolvedAt, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			if violatedConstraint(err) == "signoff_tasks_one_pending_idx" {
				return signoff.ErrTaskPending
			}
			return signoff.ErrAlreadyExists
		}
		return signoff.StoreError("signoff/postgres: create task", err)
	}
	return nil
}

// GetTask retrieves a task by ID.
func (s *Store) GetTask(ctx context.Context, taskID id.TaskID) (*task.Task, error) {
	t, err := scanTask(s.pool.QueryRow(ctx,
		`SELECT `+taskColumns+` FROM signoff_tasks WHERE id = $1`, taskID))
	if err != nil {
		if isNoRows(err) {
			return nil, signoff.ErrTaskNotFound
		}
		return nil, signoff.StoreError("signoff/postgres: get task", err)
	}
	return t, nil
}

// TransitionTask applies tr with a conditional update on the current
// status.
func (s *Store) TransitionTask(ctx context.Context, taskID id.TaskID, tr task.Transition) (*task.Task, error) {
	at := tr.At.UTC()
	t, err := scanTask(s.pool.QueryRow(ctx, `UPDATE signoff_tasks
		SET status = $3, response = $4, resolved_at = $5, updated_at = $5
		WHERE id = $1 AND status = $2
		RETURNING `+taskColumns,
		taskID, string(tr.From), string(tr.To), jsonArg(tr.Response), at,
	))
	if err == nil {
		return t, nil
	}
	if !isNoRows(err) {
		return nil, signoff.StoreError("signoff/postgres: transition task", err)
	}

	var exists bool
	err = s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM signoff_tasks WHERE id = $1)`, taskID).Scan(&exists)
	if err != nil {
		return nil, signoff.StoreError("signoff/postgres: transition task", err)
	}
	if !exists {
		return nil, signoff.ErrTaskNotFound
	}
	return nil, signoff.ErrInvalidState
}

// ListTasks returns tasks matching opts.
func (s *Store) ListTasks(ctx context.Context, opts task.ListOpts) ([]*task.Task, error) {
	var f filter
	if opts.Status != "" {
		f.add("status = $%d", string(opts.Status))
	}
	if !opts.WorkflowVersionID.IsNil() {
		f.add("workflow_version_id = $%d", opts.WorkflowVersionID)
	}
	if !opts.GroupID.IsNil() {
		f.add("group_id = $%d", opts.GroupID)
	}
	if opts.Assignee != "" {
		f.add("assignee = $%d", opts.Assignee)
	}
	order := "created_at DESC, id DESC"
	if opts.Ascending {
		order = "created_at ASC, id ASC"
	}
	sql := f.query(`SELECT `+taskColumns+` FROM signoff_tasks`, order, opts.Limit, opts.Offset)

	rows, err := s.pool.Query(ctx, sql, f.args...)
	if err != nil {
		return nil, signoff.StoreError("signoff/postgres: list tasks", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*task.Task, error) {
		return scanTask(row)
	})
	if err != nil {
		return nil, signoff.StoreError("signoff/postgres: list tasks", err)
	}
	return out, nil
}
