package sqlite

import (
	"context"
	"time"

	"github.com/xraph/signoff"
	"github.com/xraph/signoff/id"
	"github.com/xraph/signoff/workflow"
)

// CreateRun persists a new workflow run.
func (s *Store) CreateRun(ctx context.Context, run *workflow.Run) error {
	if _, err := s.sdb.NewInsert(toRunModel(run)).Exec(ctx); err != nil {
		if isDuplicateKey(err) {
			return signoff.ErrAlreadyExists
		}
		return signoff.StoreError("signoff/sqlite: create run", err)
	}
	return nil
}

// GetRun retrieves a workflow run by ID.
func (s *Store) GetRun(ctx context.Context, runID id.RunID) (*workflow.Run, error) {
	m := new(runModel)
	err := s.sdb.NewSelect(m).Where("id = ?", runID.String()).Limit(1).Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, signoff.ErrRunNotFound
		}
		return nil, signoff.StoreError("signoff/sqlite: get run", err)
	}
	return fromRunModel(m)
}

// UpdateRun persists changes to an existing workflow run.
func (s *Store) UpdateRun(ctx context.Context, run *workflow.Run) error {
	m := toRunModel(run)
	m.UpdatedAt = nanos(time.Now())
	res, err := s.sdb.NewUpdate(m).WherePK().Exec(ctx)
	if err != nil {
		return signoff.StoreError("signoff/sqlite: update run", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return signoff.ErrRunNotFound
	}
	return nil
}

// ListRuns returns workflow runs matching the given options, oldest first.
func (s *Store) ListRuns(ctx context.Context, opts workflow.ListOpts) ([]*workflow.Run, error) {
	var models []runModel
	q := s.sdb.NewSelect(&models)

	if opts.State != "" {
		q = q.Where("state = ?", string(opts.State))
	}
	q = page(q.OrderExpr("created_at ASC, id ASC"), opts.Limit, opts.Offset)

	if err := q.Scan(ctx); err != nil {
		return nil, signoff.StoreError("signoff/sqlite: list runs", err)
	}
	return convert(models, fromRunModel)
}

// SaveCheckpoint persists checkpoint data for a workflow step.
// If a checkpoint already exists for the same run/step, it is replaced
// and keeps its position.
func (s *Store) SaveCheckpoint(ctx context.Context, runID id.RunID, stepName string, data []byte) error {
	if data == nil {
		data = []byte{}
	}
	m := &checkpointModel{
		ID:        id.NewCheckpointID().String(),
		RunID:     runID.String(),
		StepName:  stepName,
		Data:      data,
		CreatedAt: nanos(time.Now()),
	}
	_, err := s.sdb.NewInsert(m).
		OnConflict("(run_id, step_name) DO UPDATE").
		Set("data = EXCLUDED.data").
		Set("created_at = EXCLUDED.created_at").
		Exec(ctx)
	if err != nil {
		return signoff.StoreError("signoff/sqlite: save checkpoint", err)
	}
	return nil
}

// GetCheckpoint retrieves checkpoint data for a specific workflow step.
// Returns nil data if no checkpoint exists.
func (s *Store) GetCheckpoint(ctx context.Context, runID id.RunID, stepName string) ([]byte, error) {
	m := new(checkpointModel)
	err := s.sdb.NewSelect(m).
		Where("run_id = ?", runID.String()).
		Where("step_name = ?", stepName).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, signoff.StoreError("signoff/sqlite: get checkpoint", err)
	}
	return m.Data, nil
}

// ListCheckpoints returns all checkpoints for a workflow run in creation
// order.
func (s *Store) ListCheckpoints(ctx context.Context, runID id.RunID) ([]*workflow.Checkpoint, error) {
	var models []checkpointModel
	err := s.sdb.NewSelect(&models).
		Where("run_id = ?", runID.String()).
		OrderExpr("seq ASC").
		Scan(ctx)
	if err != nil {
		return nil, signoff.StoreError("signoff/sqlite: list checkpoints", err)
	}
	return convert(models, fromCheckpointModel)
}
