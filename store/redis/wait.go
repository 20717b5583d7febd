package redis

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/xraph/signoff"
	"github.com/xraph/signoff/wait"
)

// deadlineScore is exact in a float64 for any realistic date.
func deadlineScore(t time.Time) float64 { return float64(t.UnixMicro()) }

// CreateWait persists an open wait record. A resolved record under the
// same key is replaced; an open one is a conflict.
func (s *Store) CreateWait(ctx context.Context, r *wait.Record) error {
	key := waitKey(r.Key)
	data, err := encode(toWaitModel(r))
	if err != nil {
		return signoff.StoreError("signoff/redis: create wait", err)
	}

	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		existing, err := getModel[waitModel](ctx, tx, key)
		if err != nil && !isNil(err) {
			return err
		}
		if existing != nil && existing.open() {
			return signoff.ErrWaitConflict
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			if r.Open() {
				pipe.ZAdd(ctx, openWaitsKey, redis.Z{Score: deadlineScore(r.Deadline), Member: r.Key})
			}
			return nil
		})
		return err
	}, key)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, signoff.ErrWaitConflict):
		return err
	case isTxFailed(err):
		return signoff.ErrWaitConflict
	default:
		return signoff.StoreError("signoff/redis: create wait", err)
	}
}

// GetWait retrieves the record for key.
func (s *Store) GetWait(ctx context.Context, key string) (*wait.Record, error) {
	m, err := getModel[waitModel](ctx, s.client, waitKey(key))
	if err != nil {
		if isNil(err) {
			return nil, signoff.ErrWaitNotFound
		}
		return nil, signoff.StoreError("signoff/redis: get wait", err)
	}
	return fromWaitModel(m)
}

// ResolveWait resolves the record for key if it is still open. Losing a
// race to another resolver reports false.
func (s *Store) ResolveWait(ctx context.Context, key string, res wait.Resolution) (bool, error) {
	rkey := waitKey(key)
	resolved := false

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		m, err := getModel[waitModel](ctx, tx, rkey)
		if isNil(err) {
			return nil
		}
		if err != nil {
			return err
		}
		if !m.open() {
			return nil
		}

		at := res.At.UTC()
		m.State = string(wait.StateResolved)
		m.Outcome = string(res.Outcome)
		m.Payload = res.Payload
		m.ResolvedAt = &at
		data, err := encode(m)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, rkey, data, 0)
			pipe.ZRem(ctx, openWaitsKey, key)
			return nil
		})
		if err == nil {
			resolved = true
		}
		return err
	}, rkey)

	switch {
	case err == nil:
		return resolved, nil
	case isTxFailed(err):
		return false, nil
	default:
		return false, signoff.StoreError("signoff/redis: resolve wait", err)
	}
}

// ListDueWaits returns open records whose deadline has passed.
func (s *Store) ListDueWaits(ctx context.Context, now time.Time, limit int) ([]*wait.Record, error) {
	keys, err := s.client.ZRangeByScore(ctx, openWaitsKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatFloat(deadlineScore(now), 'f', -1, 64),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, signoff.StoreError("signoff/redis: list due waits", err)
	}
	models, err := loadModels[waitModel](ctx, s.client, keysFor(keys, waitKey))
	if err != nil {
		return nil, signoff.StoreError("signoff/redis: list due waits", err)
	}

	out := make([]*wait.Record, 0, len(models))
	for _, m := range models {
		if !m.open() || m.Deadline.After(now) {
			continue
		}
		r, err := fromWaitModel(m)
		if err != nil {
			return nil, signoff.StoreError("signoff/redis: list due waits", err)
		}
		out = append(out, r)
	}
	return out, nil
}
