package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/xraph/signoff"
	"github.com/xraph/signoff/id"
	"github.com/xraph/signoff/workflow"
)

// CreateRun persists a new workflow run.
func (s *Store) CreateRun(ctx context.Context, run *workflow.Run) error {
	rID := run.ID.String()
	data, err := encode(toRunModel(run))
	if err != nil {
		return signoff.StoreError("signoff/redis: create run", err)
	}
	ok, err := s.client.SetNX(ctx, runKey(rID), data, 0).Result()
	if err != nil {
		return signoff.StoreError("signoff/redis: create run", err)
	}
	if !ok {
		return signoff.ErrAlreadyExists
	}
	if err := s.client.ZAdd(ctx, runIDsKey, redis.Z{Score: float64(run.CreatedAt.UnixMicro()), Member: rID}).Err(); err != nil {
		return signoff.StoreError("signoff/redis: create run index", err)
	}
	return nil
}

// GetRun retrieves a workflow run by ID.
func (s *Store) GetRun(ctx context.Context, runID id.RunID) (*workflow.Run, error) {
	m, err := getModel[runModel](ctx, s.client, runKey(runID.String()))
	if err != nil {
		if isNil(err) {
			return nil, signoff.ErrRunNotFound
		}
		return nil, signoff.StoreError("signoff/redis: get run", err)
	}
	return fromRunModel(m)
}

// UpdateRun persists changes to an existing workflow run.
func (s *Store) UpdateRun(ctx context.Context, run *workflow.Run) error {
	m := toRunModel(run)
	m.UpdatedAt = time.Now().UTC()
	data, err := encode(m)
	if err != nil {
		return signoff.StoreError("signoff/redis: update run", err)
	}
	ok, err := s.client.SetXX(ctx, runKey(m.ID), data, 0).Result()
	if err != nil {
		return signoff.StoreError("signoff/redis: update run", err)
	}
	if !ok {
		return signoff.ErrRunNotFound
	}
	return nil
}

// ListRuns returns workflow runs matching the given options, oldest first.
func (s *Store) ListRuns(ctx context.Context, opts workflow.ListOpts) ([]*workflow.Run, error) {
	ids, err := s.client.ZRange(ctx, runIDsKey, 0, -1).Result()
	if err != nil {
		return nil, signoff.StoreError("signoff/redis: list runs", err)
	}
	models, err := loadModels[runModel](ctx, s.client, keysFor(ids, runKey))
	if err != nil {
		return nil, signoff.StoreError("signoff/redis: list runs", err)
	}

	runs := make([]*workflow.Run, 0, len(models))
	for _, m := range models {
		if opts.State != "" && workflow.RunState(m.State) != opts.State {
			continue
		}
		r, err := fromRunModel(m)
		if err != nil {
			return nil, signoff.StoreError("signoff/redis: list runs", err)
		}
		runs = append(runs, r)
	}
	sortStable(runs, func(a, b *workflow.Run) bool { return a.CreatedAt.Before(b.CreatedAt) })
	return paginate(runs, opts.Offset, opts.Limit), nil
}

// SaveCheckpoint persists checkpoint data for a workflow step.
// If a checkpoint already exists for the same run/step, it is replaced
// and keeps its position.
func (s *Store) SaveCheckpoint(ctx context.Context, runID id.RunID, stepName string, data []byte) error {
	rID := runID.String()
	blob, err := encode(&checkpointModel{
		ID:        id.NewCheckpointID().String(),
		Data:      data,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return signoff.StoreError("signoff/redis: save checkpoint", err)
	}
	seq, err := s.client.Incr(ctx, checkpointSeqKey).Result()
	if err != nil {
		return signoff.StoreError("signoff/redis: save checkpoint seq", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, checkpointKey(rID), stepName, blob)
		pipe.ZAddNX(ctx, checkpointIndexKey(rID), redis.Z{Score: float64(seq), Member: stepName})
		return nil
	})
	if err != nil {
		return signoff.StoreError("signoff/redis: save checkpoint", err)
	}
	return nil
}

// GetCheckpoint retrieves checkpoint data for a specific workflow step.
// Returns nil data if no checkpoint exists.
func (s *Store) GetCheckpoint(ctx context.Context, runID id.RunID, stepName string) ([]byte, error) {
	blob, err := s.client.HGet(ctx, checkpointKey(runID.String()), stepName).Bytes()
	if err != nil {
		if isNil(err) {
			return nil, nil
		}
		return nil, signoff.StoreError("signoff/redis: get checkpoint", err)
	}
	m, err := decode[checkpointModel](blob)
	if err != nil {
		return nil, signoff.StoreError("signoff/redis: get checkpoint", err)
	}
	return m.Data, nil
}

// ListCheckpoints returns all checkpoints for a workflow run in creation
// order.
func (s *Store) ListCheckpoints(ctx context.Context, runID id.RunID) ([]*workflow.Checkpoint, error) {
	rID := runID.String()
	steps, err := s.client.ZRange(ctx, checkpointIndexKey(rID), 0, -1).Result()
	if err != nil {
		return nil, signoff.StoreError("signoff/redis: list checkpoints", err)
	}
	out := make([]*workflow.Checkpoint, 0, len(steps))
	if len(steps) == 0 {
		return out, nil
	}
	blobs, err := s.client.HMGet(ctx, checkpointKey(rID), steps...).Result()
	if err != nil {
		return nil, signoff.StoreError("signoff/redis: list checkpoints", err)
	}
	for i, v := range blobs {
		str, ok := v.(string)
		if !ok {
			continue
		}
		m, err := decode[checkpointModel]([]byte(str))
		if err != nil {
			return nil, signoff.StoreError("signoff/redis: list checkpoints", err)
		}
		cpID, err := id.ParseCheckpointID(m.ID)
		if err != nil {
			return nil, signoff.StoreError("signoff/redis: list checkpoints", err)
		}
		out = append(out, &workflow.Checkpoint{
			ID:        cpID,
			RunID:     runID,
			StepName:  steps[i],
			Data:      m.Data,
			CreatedAt: m.CreatedAt.UTC(),
		})
	}
	return out, nil
}
