package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/signoff"
	"github.com/xraph/signoff/wait"
)

const waitColumns = `key, id, run_id, state, outcome, payload, deadline, registered_at, resolved_at`

func scanWait(row pgx.Row) (*wait.Record, error) {
	var (
		r       wait.Record
		payload []byte
	)
	if err := row.Scan(&r.Key, &r.ID, &r.RunID, &r.State, &r.Outcome, &payload,
		&r.Deadline, &r.RegisteredAt, &r.ResolvedAt); err != nil {
		return nil, err
	}
	r.Payload = rawJSON(payload)
	r.Deadline = r.Deadline.UTC()
	r.RegisteredAt = r.RegisteredAt.UTC()
	r.ResolvedAt = utcPtr(r.ResolvedAt)
	return &r, nil
}

// CreateWait persists an open wait record. A resolved record under the
// same key is overwritten; an open one is a conflict.
func (s *Store) CreateWait(ctx context.Context, r *wait.Record) error {
	tag, err := s.pool.Exec(ctx, `INSERT INTO signoff_waits (`+waitColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (key) DO UPDATE SET
			id = EXCLUDED.id, run_id = EXCLUDED.run_id, state = EXCLUDED.state,
			outcome = EXCLUDED.outcome, payload = EXCLUDED.payload, deadline = EXCLUDED.deadline,
			registered_at = EXCLUDED.registered_at, resolved_at = EXCLUDED.resolved_at
		WHERE signoff_waits.state <> 'open'`,
		r.Key, r.ID, r.RunID, string(r.State), string(r.Outcome), jsonArg(r.Payload),
		r.Deadline, r.RegisteredAt, r.ResolvedAt,
	)
	if err != nil {
		return signoff.StoreError("signoff/postgres: create wait", err)
	}
	if tag.RowsAffected() == 0 {
		return signoff.ErrWaitConflict
	}
	return nil
}

// GetWait retrieves the record for key.
func (s *Store) GetWait(ctx context.Context, key string) (*wait.Record, error) {
	r, err := scanWait(s.pool.QueryRow(ctx, `SELECT `+waitColumns+` FROM signoff_waits WHERE key = $1`, key))
	if err != nil {
		if isNoRows(err) {
			return nil, signoff.ErrWaitNotFound
		}
		return nil, signoff.StoreError("signoff/postgres: get wait", err)
	}
	return r, nil
}

// ResolveWait resolves the record for key if it is still open.
func (s *Store) ResolveWait(ctx context.Context, key string, res wait.Resolution) (bool, error) {
	tag, err := s.pool.Exec(ctx, `UPDATE signoff_waits
		SET state = $2, outcome = $3, payload = $4, resolved_at = $5
		WHERE key = $1 AND state = 'open'`,
		key, string(wait.StateResolved), string(res.Outcome), jsonArg(res.Payload), res.At.UTC(),
	)
	if err != nil {
		return false, signoff.StoreError("signoff/postgres: resolve wait", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListDueWaits returns open records whose deadline has passed.
func (s *Store) ListDueWaits(ctx context.Context, now time.Time, limit int) ([]*wait.Record, error) {
	var f filter
	f.add("state = $%d", string(wait.StateOpen))
	f.add("deadline <= $%d", now.UTC())
	sql := f.query(`SELECT `+waitColumns+` FROM signoff_waits`, "deadline ASC", limit, 0)

	rows, err := s.pool.Query(ctx, sql, f.args...)
	if err != nil {
		return nil, signoff.StoreError("signoff/postgres: list due waits", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*wait.Record, error) {
		return scanWait(row)
	})
	if err != nil {
		return nil, signoff.StoreError("signoff/postgres: list due waits", err)
	}
	return out, nil
}
