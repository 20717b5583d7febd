package redis

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/xraph/signoff"
	"github.com/xraph/signoff/id"
	"github.com/xraph/signoff/task"
)

// CreateTask persists a new task. A pending task claims its version's
// pending key in the same transaction, so a second pending task for the
// version is rejected.
func (s *Store) CreateTask(ctx context.Context, t *task.Task) error {
	tid := t.ID.String()
	key := taskKey(tid)
	pendingKey := pendingTaskKey(t.WorkflowVersionID.String())
	pending := t.Status == task.StatusPending

	data, err := encode(toTaskModel(t))
	if err != nil {
		return signoff.StoreError("signoff/redis: create task", err)
	}

	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return signoff.ErrAlreadyExists
		}
		if pending {
			n, err = tx.Exists(ctx, pendingKey).Result()
			if err != nil {
				return err
			}
			if n > 0 {
				return signoff.ErrTaskPending
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			pipe.ZAdd(ctx, taskIDsKey, redis.Z{Score: float64(t.CreatedAt.UnixNano()), Member: tid})
			if pending {
				pipe.Set(ctx, pendingKey, tid, 0)
			}
			return nil
		})
		return err
	}, key, pendingKey)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, signoff.ErrAlreadyExists), errors.Is(err, signoff.ErrTaskPending):
		return err
	case isTxFailed(err):
		if pending {
			return signoff.ErrTaskPending
		}
		return signoff.ErrAlreadyExists
	default:
		return signoff.StoreError("signoff/redis: create task", err)
	}
}

// GetTask retrieves a task by ID.
func (s *Store) GetTask(ctx context.Context, taskID id.TaskID) (*task.Task, error) {
	m, err := getModel[taskModel](ctx, s.client, taskKey(taskID.String()))
	if err != nil {
		if isNil(err) {
			return nil, signoff.ErrTaskNotFound
		}
		return nil, signoff.StoreError("signoff/redis: get task", err)
	}
	return fromTaskModel(m)
}

// TransitionTask applies tr if the task is still in tr.From. A concurrent
// transition aborts the transaction and reports ErrInvalidState.
func (s *Store) TransitionTask(ctx context.Context, taskID id.TaskID, tr task.Transition) (*task.Task, error) {
	key := taskKey(taskID.String())
	var out *task.Task

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		m, err := getModel[taskModel](ctx, tx, key)
		if isNil(err) {
			return signoff.ErrTaskNotFound
		}
		if err != nil {
			return err
		}
		if task.Status(m.Status) != tr.From {
			return signoff.ErrInvalidState
		}

		at := tr.At.UTC()
		m.Status = string(tr.To)
		m.Response = tr.Response
		m.ResolvedAt = &at
		m.UpdatedAt = at
		data, err := encode(m)
		if err != nil {
			return err
		}
		pendingKey := pendingTaskKey(m.WorkflowVersionID)
		release := false
		if tr.From == task.StatusPending && tr.To != task.StatusPending {
			holder, err := tx.Get(ctx, pendingKey).Result()
			if err != nil && !isNil(err) {
				return err
			}
			release = holder == m.ID
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			if release {
				pipe.Del(ctx, pendingKey)
			}
			return nil
		})
		if err != nil {
			return err
		}
		out, err = fromTaskModel(m)
		return err
	}, key)

	switch {
	case err == nil:
		return out, nil
	case errors.Is(err, signoff.ErrTaskNotFound), errors.Is(err, signoff.ErrInvalidState):
		return nil, err
	case isTxFailed(err):
		return nil, signoff.ErrInvalidState
	default:
		return nil, signoff.StoreError("signoff/redis: transition task", err)
	}
}

// ListTasks returns tasks matching opts.
func (s *Store) ListTasks(ctx context.Context, opts task.ListOpts) ([]*task.Task, error) {
	ids, err := s.client.ZRange(ctx, taskIDsKey, 0, -1).Result()
	if err != nil {
		return nil, signoff.StoreError("signoff/redis: list tasks", err)
	}
	models, err := loadModels[taskModel](ctx, s.client, keysFor(ids, taskKey))
	if err != nil {
		return nil, signoff.StoreError("signoff/redis: list tasks", err)
	}

	out := make([]*task.Task, 0, len(models))
	for _, m := range models {
		t, err := fromTaskModel(m)
		if err != nil {
			return nil, signoff.StoreError("signoff/redis: list tasks", err)
		}
		if opts.Status != "" && t.Status != opts.Status {
			continue
		}
		if !opts.WorkflowVersionID.IsNil() && t.WorkflowVersionID.String() != opts.WorkflowVersionID.String() {
			continue
		}
		if !opts.GroupID.IsNil() && t.GroupID.String() != opts.GroupID.String() {
			continue
		}
		if opts.Assignee != "" && t.Assignee != opts.Assignee {
			continue
		}
		out = append(out, t)
	}
	sortStable(out, func(a, b *task.Task) bool {
		if !a.CreatedAt.Equal(b.CreatedAt) {
			if opts.Ascending {
				return a.CreatedAt.Before(b.CreatedAt)
			}
			return a.CreatedAt.After(b.CreatedAt)
		}
		if opts.Ascending {
			return a.ID.String() < b.ID.String()
		}
		return a.ID.String() > b.ID.String()
	})
	return paginate(out, opts.Offset, opts.Limit), nil
}
