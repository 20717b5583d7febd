package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/xraph/grove"
	"github.com/xraph/grove/driver"
	"github.com/xraph/grove/drivers/sqlitedriver"
	_ "github.com/xraph/grove/drivers/sqlitedriver/sqlitemigrate" // register sqlite migration executor
	"github.com/xraph/grove/migrate"

	"github.com/xraph/signoff"
	"github.com/xraph/signoff/audit"
	"github.com/xraph/signoff/compensation"
	"github.com/xraph/signoff/task"
	"github.com/xraph/signoff/version"
	"github.com/xraph/signoff/wait"
	"github.com/xraph/signoff/workflow"
)

// Ensure Store implements all subsystem interfaces at compile time.
var (
	_ version.Store      = (*Store)(nil)
	_ task.Store         = (*Store)(nil)
	_ audit.Store        = (*Store)(nil)
	_ compensation.Store = (*Store)(nil)
	_ wait.Store         = (*Store)(nil)
	_ workflow.Store     = (*Store)(nil)
)

// Store is a grove ORM implementation of store.Store using the SQLite
// dialect.
type Store struct {
	db     *grove.DB
	sdb    *sqlitedriver.SqliteDB
	logger *slog.Logger
	owned  bool
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// New creates a store on db. The caller owns the db lifecycle; Close
// leaves it open.
func New(db *grove.DB, opts ...Option) *Store {
	s := &Store{
		db:     db,
		sdb:    sqlitedriver.Unwrap(db),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open opens the database at dsn, e.g. "file:signoff.db", and returns a
// store that closes it on Close. A busy timeout is added unless the DSN
// already sets pragmas. Access goes through one connection.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	if !strings.Contains(dsn, "_pragma") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_pragma=busy_timeout(5000)"
	}

	sdb := sqlitedriver.New()
	if err := sdb.Open(ctx, dsn, driver.WithPoolSize(1)); err != nil {
		return nil, signoff.StoreError("signoff/sqlite: open", err)
	}
	db, err := grove.Open(sdb)
	if err != nil {
		_ = sdb.Close()
		return nil, fmt.Errorf("signoff/sqlite: grove: %w", err)
	}
	if err := db.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, signoff.StoreError("signoff/sqlite: connect", err)
	}

	s := New(db, opts...)
	s.owned = true
	return s, nil
}

// DB returns the underlying *grove.DB for advanced usage.
func (s *Store) DB() *grove.DB {
	return s.db
}

// Migrate runs programmatic migrations via the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.sdb)
	if err != nil {
		return fmt.Errorf("%w: signoff/sqlite: create migration executor: %w", signoff.ErrMigrationFailed, err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	res, err := orch.Migrate(ctx)
	if err != nil {
		return fmt.Errorf("%w: signoff/sqlite: %w", signoff.ErrMigrationFailed, err)
	}
	if res != nil {
		s.logger.InfoContext(ctx, "sqlite schema ready", slog.Int("applied", len(res.Applied)))
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return signoff.StoreError("signoff/sqlite: ping", s.db.Ping(ctx))
}

// Close closes the database when the store opened it and is a no-op
// for a caller-owned *grove.DB.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

// withTx runs fn in a transaction, committing when it returns nil.
func (s *Store) withTx(ctx context.Context, fn func(tx *sqlitedriver.SqliteTx) error) error {
	tx, err := s.sdb.BeginTxQuery(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// ── helpers ──────────────────────────────────────────────────────

// isNoRows returns true when err indicates no rows were found.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// isDuplicateKey checks if a SQLite error is a unique constraint violation.
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// violates reports whether err is a unique violation on column, given
// as "table.column".
func violates(err error, column string) bool {
	return isDuplicateKey(err) && strings.Contains(err.Error(), column)
}

// page applies limit and offset. SQLite rejects OFFSET without LIMIT.
func page(q *sqlitedriver.SelectQuery, limit, offset int) *sqlitedriver.SelectQuery {
	if offset > 0 && limit <= 0 {
		limit = math.MaxInt32
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}
	return q
}

// convert maps every model with fn.
func convert[M, T any](models []M, fn func(*M) (*T, error)) ([]*T, error) {
	out := make([]*T, 0, len(models))
	for i := range models {
		item, err := fn(&models[i])
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}
