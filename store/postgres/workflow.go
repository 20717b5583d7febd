package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/signoff"
	"github.com/xraph/signoff/id"
	"github.com/xraph/signoff/workflow"
)

const runColumns = `id, name, version, state, input, error, wait_key, started_at, completed_at, created_at, updated_at`

func scanRun(row pgx.Row) (*workflow.Run, error) {
	var (
		r     workflow.Run
		input []byte
	)
	if err := row.Scan(&r.ID, &r.Name, &r.Version, &r.State, &input, &r.Error, &r.WaitKey,
		&r.StartedAt, &r.CompletedAt, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.Input = rawJSON(input)
	r.StartedAt = r.StartedAt.UTC()
	r.CompletedAt = utcPtr(r.CompletedAt)
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	return &r, nil
}

// CreateRun persists a new workflow run.
func (s *Store) CreateRun(ctx context.Context, run *workflow.Run) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO signoff_workflow_runs (`+runColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		run.ID, run.Name, run.Version, string(run.State), jsonArg(run.Input), run.Error, run.WaitKey,
		run.StartedAt, run.CompletedAt, run.CreatedAt, run.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return signoff.ErrAlreadyExists
		}
		return signoff.StoreError("signoff/postgres: create run", err)
	}
	return nil
}

// GetRun retrieves a workflow run by ID.
func (s *Store) GetRun(ctx context.Context, runID id.RunID) (*workflow.Run, error) {
	r, err := scanRun(s.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM signoff_workflow_runs WHERE id = $1`, runID))
	if err != nil {
		if isNoRows(err) {
			return nil, signoff.ErrRunNotFound
		}
		return nil, signoff.StoreError("signoff/postgres: get run", err)
	}
	return r, nil
}

// UpdateRun persists changes to an existing workflow run.
func (s *Store) UpdateRun(ctx context.Context, run *workflow.Run) error {
	tag, err := s.pool.Exec(ctx, `UPDATE signoff_workflow_runs SET
		name = $2, version = $3, state = $4, input = $5, error = $6, wait_key = $7,
		started_at = $8, completed_at = $9, updated_at = $10
		WHERE id = $1`,
		run.ID, run.Name, run.Version, string(run.State), jsonArg(run.Input), run.Error, run.WaitKey,
		run.StartedAt, run.CompletedAt, time.Now().UTC(),
	)
	if err != nil {
		return signoff.StoreError("signoff/postgres: update run", err)
	}
	if tag.RowsAffected() == 0 {
		return signoff.ErrRunNotFound
	}
	return nil
}

// ListRuns returns workflow runs matching the given options, oldest first.
func (s *Store) ListRuns(ctx context.Context, opts workflow.ListOpts) ([]*workflow.Run, error) {
	var f filter
	if opts.State != "" {
		f.add("state = $%d", string(opts.State))
	}
	sql := f.query(`SELECT `+runColumns+` FROM signoff_workflow_runs`, "created_at ASC, id ASC", opts.Limit, opts.Offset)

	rows, err := s.pool.Query(ctx, sql, f.args...)
	if err != nil {
		return nil, signoff.StoreError("signoff/postgres: list runs", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*workflow.Run, error) {
		return scanRun(row)
	})
	if err != nil {
		return nil, signoff.StoreError("signoff/postgres: list runs", err)
	}
	return out, nil
}

// SaveCheckpoint persists checkpoint data for a workflow step.
// If a checkpoint already exists for the same run/step, it is replaced
// and keeps its position.
func (s *Store) SaveCheckpoint(ctx context.Context, runID id.RunID, stepName string, data []byte) error {
	if data == nil {
		data = []byte{}
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO signoff_checkpoints (id, run_id, step_name, data, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (run_id, step_name) DO UPDATE SET data = EXCLUDED.data, created_at = EXCLUDED.created_at`,
		id.NewCheckpointID(), runID, stepName, data, time.Now().UTC(),
	)
	if err != nil {
		return signoff.StoreError("signoff/postgres: save checkpoint", err)
	}
	return nil
}

// GetCheckpoint retrieves checkpoint data for a specific workflow step.
// Returns nil data if no checkpoint exists.
func (s *Store) GetCheckpoint(ctx context.Context, runID id.RunID, stepName string) ([]byte, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM signoff_checkpoints WHERE run_id = $1 AND step_name = $2`, runID, stepName,
	).Scan(&data)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, signoff.StoreError("signoff/postgres: get checkpoint", err)
	}
	return data, nil
}

// ListCheckpoints returns all checkpoints for a workflow run in creation
// order.
func (s *Store) ListCheckpoints(ctx context.Context, runID id.RunID) ([]*workflow.Checkpoint, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, run_id, step_name, data, created_at
		FROM signoff_checkpoints WHERE run_id = $1 ORDER BY seq ASC`, runID)
	if err != nil {
		return nil, signoff.StoreError("signoff/postgres: list checkpoints", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*workflow.Checkpoint, error) {
		var cp workflow.Checkpoint
		if err := row.Scan(&cp.ID, &cp.RunID, &cp.StepName, &cp.Data, &cp.CreatedAt); err != nil {
			return nil, err
		}
		cp.CreatedAt = cp.CreatedAt.UTC()
		return &cp, nil
	})
	if err != nil {
		return nil, signoff.StoreError("signoff/postgres: list checkpoints", err)
	}
	return out, nil
}
