package redis

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/xraph/signoff"
	"github.com/xraph/signoff/audit"
	"github.com/xraph/signoff/compensation"
)

// AppendEntry persists e and assigns its sequence from a counter.
func (s *Store) AppendEntry(ctx context.Context, e *audit.Entry) error {
	eid := e.ID.String()
	exists, err := s.client.Exists(ctx, entryKey(eid)).Result()
	if err != nil {
		return signoff.StoreError("signoff/redis: append entry", err)
	}
	if exists > 0 {
		return signoff.ErrAlreadyExists
	}

	seq, err := s.client.Incr(ctx, entrySeqKey).Result()
	if err != nil {
		return signoff.StoreError("signoff/redis: append entry seq", err)
	}
	e.Seq = seq

	data, err := encode(toEntryModel(e))
	if err != nil {
		return signoff.StoreError("signoff/redis: append entry", err)
	}
	member := redis.Z{Score: float64(seq), Member: eid}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, entryKey(eid), data, 0)
		pipe.ZAdd(ctx, entryIDsKey, member)
		if !e.WorkflowVersionID.IsNil() {
			pipe.ZAdd(ctx, versionEntriesKey(e.WorkflowVersionID.String()), member)
		}
		if !e.GroupID.IsNil() {
			pipe.ZAdd(ctx, groupEntriesKey(e.GroupID.String()), member)
		}
		return nil
	})
	if err != nil {
		return signoff.StoreError("signoff/redis: append entry", err)
	}
	return nil
}

// ListEntries returns entries matching opts, oldest first. The narrowest
// index available is scanned.
func (s *Store) ListEntries(ctx context.Context, opts audit.ListOpts) ([]*audit.Entry, error) {
	index := entryIDsKey
	switch {
	case !opts.WorkflowVersionID.IsNil():
		index = versionEntriesKey(opts.WorkflowVersionID.String())
	case !opts.GroupID.IsNil():
		index = groupEntriesKey(opts.GroupID.String())
	}
	ids, err := s.client.ZRange(ctx, index, 0, -1).Result()
	if err != nil {
		return nil, signoff.StoreError("signoff/redis: list entries", err)
	}
	models, err := loadModels[entryModel](ctx, s.client, keysFor(ids, entryKey))
	if err != nil {
		return nil, signoff.StoreError("signoff/redis: list entries", err)
	}

	out := make([]*audit.Entry, 0, len(models))
	for _, m := range models {
		if !opts.WorkflowVersionID.IsNil() && m.WorkflowVersionID != opts.WorkflowVersionID.String() {
			continue
		}
		if !opts.GroupID.IsNil() && m.GroupID != opts.GroupID.String() {
			continue
		}
		if opts.Type != "" && m.Type != opts.Type {
			continue
		}
		e, err := fromEntryModel(m)
		if err != nil {
			return nil, signoff.StoreError("signoff/redis: list entries", err)
		}
		out = append(out, e)
	}
	sortStable(out, func(a, b *audit.Entry) bool {
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.Seq < b.Seq
	})
	return paginate(out, opts.Offset, opts.Limit), nil
}

// CreateCompensation persists a compensation record.
func (s *Store) CreateCompensation(ctx context.Context, r *compensation.Record) error {
	cid := r.ID.String()
	data, err := encode(toCompensationModel(r))
	if err != nil {
		return signoff.StoreError("signoff/redis: create compensation", err)
	}
	ok, err := s.client.SetNX(ctx, compensationKey(cid), data, 0).Result()
	if err != nil {
		return signoff.StoreError("signoff/redis: create compensation", err)
	}
	if !ok {
		return signoff.ErrAlreadyExists
	}
	seq, err := s.client.Incr(ctx, compensationSeqKey).Result()
	if err != nil {
		return signoff.StoreError("signoff/redis: create compensation seq", err)
	}
	if err := s.client.ZAdd(ctx, compensationIDsKey, redis.Z{Score: float64(seq), Member: cid}).Err(); err != nil {
		return signoff.StoreError("signoff/redis: create compensation index", err)
	}
	return nil
}

// ListCompensations returns records matching opts in insertion order.
func (s *Store) ListCompensations(ctx context.Context, opts compensation.ListOpts) ([]*compensation.Record, error) {
	ids, err := s.client.ZRange(ctx, compensationIDsKey, 0, -1).Result()
	if err != nil {
		return nil, signoff.StoreError("signoff/redis: list compensations", err)
	}
	models, err := loadModels[compensationModel](ctx, s.client, keysFor(ids, compensationKey))
	if err != nil {
		return nil, signoff.StoreError("signoff/redis: list compensations", err)
	}

	out := make([]*compensation.Record, 0)
	for _, m := range models {
		if !opts.WorkflowVersionID.IsNil() && m.WorkflowVersionID != opts.WorkflowVersionID.String() {
			continue
		}
		if !opts.GroupID.IsNil() && m.GroupID != opts.GroupID.String() {
			continue
		}
		if opts.Action != "" && m.Action != opts.Action {
			continue
		}
		r, err := fromCompensationModel(m)
		if err != nil {
			return nil, signoff.StoreError("signoff/redis: list compensations", err)
		}
		out = append(out, r)
	}
	return out, nil
}
