package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/xraph/signoff"
	"github.com/xraph/signoff/id"
	"github.com/xraph/signoff/version"
)

// AppendVersion inserts v as the new head of its group. The group head and
// the previous version are watched, so a concurrent append aborts the
// transaction.
func (s *Store) AppendVersion(ctx context.Context, v *version.Version) error {
	vid := v.ID.String()
	group := v.GroupID.String()
	prevID := v.PreviousVersionID.String()

	watched := []string{headKey(group), versionKey(vid)}
	if prevID != "" {
		watched = append(watched, versionKey(prevID))
	}

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		exists, err := tx.Exists(ctx, versionKey(vid)).Result()
		if err != nil {
			return err
		}
		if exists > 0 {
			return signoff.ErrAlreadyExists
		}
		head, err := tx.Get(ctx, headKey(group)).Result()
		if err != nil && !isNil(err) {
			return err
		}

		var prevData []byte
		if prevID == "" {
			if head != "" {
				return signoff.ErrAlreadyExists
			}
		} else {
			prev, err := getModel[versionModel](ctx, tx, versionKey(prevID))
			if isNil(err) {
				return signoff.ErrVersionNotFound
			}
			if err != nil {
				return err
			}
			if prev.GroupID != group || head != prevID {
				return signoff.ErrStaleVersion
			}
			prev.IsLatest = false
			prev.UpdatedAt = time.Now().UTC()
			if prevData, err = encode(prev); err != nil {
				return err
			}
		}

		m := toVersionModel(v)
		m.IsLatest = true
		data, err := encode(m)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if prevData != nil {
				pipe.Set(ctx, versionKey(prevID), prevData, 0)
				pipe.Set(ctx, successorKey(prevID), vid, 0)
			}
			pipe.Set(ctx, versionKey(vid), data, 0)
			pipe.Set(ctx, headKey(group), vid, 0)
			pipe.ZAdd(ctx, groupVersionsKey(group), redis.Z{Score: float64(v.Number), Member: vid})
			pipe.ZAdd(ctx, versionIDsKey, redis.Z{Score: float64(v.CreatedAt.UnixNano()), Member: vid})
			return nil
		})
		return err
	}, watched...)

	switch {
	case err == nil:
		v.IsLatest = true
		return nil
	case errors.Is(err, signoff.ErrConflict), errors.Is(err, signoff.ErrNotFound):
		return err
	case isTxFailed(err):
		if prevID == "" {
			return signoff.ErrAlreadyExists
		}
		return signoff.ErrStaleVersion
	default:
		return signoff.StoreError("signoff/redis: append version", err)
	}
}

// GetVersion retrieves a version by ID.
func (s *Store) GetVersion(ctx context.Context, versionID id.VersionID) (*version.Version, error) {
	m, err := getModel[versionModel](ctx, s.client, versionKey(versionID.String()))
	if err != nil {
		if isNil(err) {
			return nil, signoff.ErrVersionNotFound
		}
		return nil, signoff.StoreError("signoff/redis: get version", err)
	}
	return fromVersionModel(m)
}

func (s *Store) loadVersions(ctx context.Context, ids []string) ([]*version.Version, error) {
	models, err := loadModels[versionModel](ctx, s.client, keysFor(ids, versionKey))
	if err != nil {
		return nil, err
	}
	out := make([]*version.Version, 0, len(models))
	for _, m := range models {
		v, err := fromVersionModel(m)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// ListGroupVersions returns every version of a group, newest first.
func (s *Store) ListGroupVersions(ctx context.Context, groupID id.GroupID) ([]*version.Version, error) {
	ids, err := s.client.ZRevRange(ctx, groupVersionsKey(groupID.String()), 0, -1).Result()
	if err != nil {
		return nil, signoff.StoreError("signoff/redis: list group versions", err)
	}
	out, err := s.loadVersions(ctx, ids)
	if err != nil {
		return nil, signoff.StoreError("signoff/redis: list group versions", err)
	}
	if out == nil {
		out = []*version.Version{}
	}
	return out, nil
}

// ListVersions returns versions matching opts, newest first.
func (s *Store) ListVersions(ctx context.Context, opts version.ListOpts) ([]*version.Version, error) {
	index := versionIDsKey
	if !opts.GroupID.IsNil() {
		index = groupVersionsKey(opts.GroupID.String())
	}
	ids, err := s.client.ZRange(ctx, index, 0, -1).Result()
	if err != nil {
		return nil, signoff.StoreError("signoff/redis: list versions", err)
	}
	all, err := s.loadVersions(ctx, ids)
	if err != nil {
		return nil, signoff.StoreError("signoff/redis: list versions", err)
	}

	out := make([]*version.Version, 0, len(all))
	for _, v := range all {
		if opts.Status != "" && v.Status != opts.Status {
			continue
		}
		if opts.LatestOnly && !v.IsLatest {
			continue
		}
		out = append(out, v)
	}
	sortStable(out, func(a, b *version.Version) bool {
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.Number > b.Number
	})
	return paginate(out, opts.Offset, opts.Limit), nil
}

// GetSuccessor returns the version that superseded prevID.
func (s *Store) GetSuccessor(ctx context.Context, prevID id.VersionID) (*version.Version, error) {
	next, err := s.client.Get(ctx, successorKey(prevID.String())).Result()
	if err != nil {
		if isNil(err) {
			return nil, signoff.ErrVersionNotFound
		}
		return nil, signoff.StoreError("signoff/redis: get successor", err)
	}
	parsed, err := id.ParseVersionID(next)
	if err != nil {
		return nil, signoff.StoreError("signoff/redis: get successor", err)
	}
	return s.GetVersion(ctx, parsed)
}

// RepairLatest marks the highest-numbered version of the group as the
// only latest one.
func (s *Store) RepairLatest(ctx context.Context, groupID id.GroupID) error {
	group := groupID.String()
	ids, err := s.client.ZRevRange(ctx, groupVersionsKey(group), 0, -1).Result()
	if err != nil {
		return signoff.StoreError("signoff/redis: repair latest", err)
	}
	if len(ids) == 0 {
		return signoff.ErrGroupNotFound
	}
	models, err := loadModels[versionModel](ctx, s.client, keysFor(ids, versionKey))
	if err != nil {
		return signoff.StoreError("signoff/redis: repair latest", err)
	}

	var head *versionModel
	for _, m := range models {
		if head == nil || m.Number > head.Number {
			head = m
		}
	}
	if head == nil {
		return signoff.ErrGroupNotFound
	}

	now := time.Now().UTC()
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, m := range models {
			want := m == head
			if m.IsLatest == want {
				continue
			}
			m.IsLatest = want
			m.UpdatedAt = now
			data, err := encode(m)
			if err != nil {
				return err
			}
			pipe.Set(ctx, versionKey(m.ID), data, 0)
		}
		pipe.Set(ctx, headKey(group), head.ID, 0)
		return nil
	})
	if err != nil {
		return signoff.StoreError("signoff/redis: repair latest", err)
	}
	return nil
}
