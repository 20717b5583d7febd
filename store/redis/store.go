package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/xraph/signoff"
	"github.com/xraph/signoff/audit"
	"github.com/xraph/signoff/compensation"
	"github.com/xraph/signoff/task"
	"github.com/xraph/signoff/version"
	"github.com/xraph/signoff/wait"
	"github.com/xraph/signoff/workflow"
)

// Compile-time interface checks.
var (
	_ version.Store      = (*Store)(nil)
	_ task.Store         = (*Store)(nil)
	_ audit.Store        = (*Store)(nil)
	_ compensation.Store = (*Store)(nil)
	_ wait.Store         = (*Store)(nil)
	_ workflow.Store     = (*Store)(nil)
)

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Store implements the composite store.Store interface backed by Redis.
type Store struct {
	client redis.UniversalClient
	logger *slog.Logger
}

// New creates a new Redis-backed store. The caller owns the Redis client
// lifecycle.
func New(client redis.UniversalClient, opts ...Option) *Store {
	s := &Store{client: client, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Client returns the underlying Redis client.
func (s *Store) Client() redis.UniversalClient { return s.client }

// Migrate is a no-op for Redis (schemaless).
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return signoff.StoreError("signoff/redis: ping", s.client.Ping(ctx).Err())
}

// Close is a no-op because the caller owns the Redis client lifecycle.
func (s *Store) Close() error { return nil }

// ── helpers ──────────────────────────────────────────────────────

func encode(v any) ([]byte, error) {
	return msgpack.Marshal(v)
}

func decode[T any](data []byte) (*T, error) {
	var v T
	if err := msgpack.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// reader is the read surface shared by the client and a WATCH transaction.
type reader interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	MGet(ctx context.Context, keys ...string) *redis.SliceCmd
}

// getModel loads and decodes one record. It returns redis.Nil when the key
// does not exist.
func getModel[T any](ctx context.Context, c reader, key string) (*T, error) {
	data, err := c.Get(ctx, key).Bytes()
	if err != nil {
		return nil, err
	}
	return decode[T](data)
}

// loadModels fetches keys with one MGET, skipping keys that vanished.
func loadModels[T any](ctx context.Context, c reader, keys []string) ([]*T, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	vals, err := c.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*T, 0, len(vals))
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		m, err := decode[T]([]byte(str))
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", keys[i], err)
		}
		out = append(out, m)
	}
	return out, nil
}

func isNil(err error) bool {
	return errors.Is(err, redis.Nil)
}

func isTxFailed(err error) bool {
	return errors.Is(err, redis.TxFailedErr)
}

func keysFor(ids []string, key func(string) string) []string {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = key(id)
	}
	return keys
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return items[:0]
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

// sortStable sorts items in place with less, keeping equal items in index
// order.
func sortStable[T any](items []T, less func(a, b T) bool) {
	sort.SliceStable(items, func(i, k int) bool { return less(items[i], items[k]) })
}
