package sqlite

import (
	"context"
	"errors"
	"time"

	"github.com/xraph/grove/drivers/sqlitedriver"

	"github.com/xraph/signoff"
	"github.com/xraph/signoff/wait"
)

// CreateWait persists an open wait record. A resolved record under the
// same key is replaced; an open one is a conflict.
func (s *Store) CreateWait(ctx context.Context, r *wait.Record) error {
	err := s.withTx(ctx, func(tx *sqlitedriver.SqliteTx) error {
		var state string
		err := tx.NewRaw(`SELECT state FROM signoff_waits WHERE key = ?`, r.Key).Scan(ctx, &state)
		switch {
		case err == nil && wait.State(state) == wait.StateOpen:
			return signoff.ErrWaitConflict
		case err == nil:
			if _, err := tx.NewDelete((*waitModel)(nil)).Where("key = ?", r.Key).Exec(ctx); err != nil {
				return err
			}
		case !isNoRows(err):
			return err
		}
		_, err = tx.NewInsert(toWaitModel(r)).Exec(ctx)
		return err
	})
	if err != nil && !errors.Is(err, signoff.ErrWaitConflict) {
		return signoff.StoreError("signoff/sqlite: create wait", err)
	}
	return err
}

// GetWait retrieves the record for key.
func (s *Store) GetWait(ctx context.Context, key string) (*wait.Record, error) {
	m := new(waitModel)
	err := s.sdb.NewSelect(m).Where("key = ?", key).Limit(1).Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, signoff.ErrWaitNotFound
		}
		return nil, signoff.StoreError("signoff/sqlite: get wait", err)
	}
	return fromWaitModel(m)
}

// ResolveWait resolves the record for key if it is still open.
func (s *Store) ResolveWait(ctx context.Context, key string, res wait.Resolution) (bool, error) {
	result, err := s.sdb.NewUpdate((*waitModel)(nil)).
		Set("state = ?", string(wait.StateResolved)).
		Set("outcome = ?", string(res.Outcome)).
		Set("payload = ?", jsonText(res.Payload)).
		Set("resolved_at = ?", nanos(res.At)).
		Where("key = ?", key).
		Where("state = ?", string(wait.StateOpen)).
		Exec(ctx)
	if err != nil {
		return false, signoff.StoreError("signoff/sqlite: resolve wait", err)
	}
	n, _ := result.RowsAffected() //nolint:errcheck // driver always returns nil
	return n == 1, nil
}

// ListDueWaits returns open records whose deadline has passed.
func (s *Store) ListDueWaits(ctx context.Context, now time.Time, limit int) ([]*wait.Record, error) {
	var models []waitModel
	q := s.sdb.NewSelect(&models).
		Where("state = ?", string(wait.StateOpen)).
		Where("deadline <= ?", nanos(now)).
		OrderExpr("deadline ASC")
	q = page(q, limit, 0)

	if err := q.Scan(ctx); err != nil {
		return nil, signoff.StoreError("signoff/sqlite: list due waits", err)
	}
	return convert(models, fromWaitModel)
}
