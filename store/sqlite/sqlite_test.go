package sqlite_test

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xraph/grove"
	"github.com/xraph/grove/driver"
	"github.com/xraph/grove/drivers/sqlitedriver"

	"github.com/xraph/signoff/store"
	"github.com/xraph/signoff/store/sqlite"
	"github.com/xraph/signoff/store/storetest"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	ctx := context.Background()

	dsn := "file:" + filepath.Join(t.TempDir(), "signoff.db")
	s, err := sqlite.Open(ctx, dsn, sqlite.WithLogger(quietLogger()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.Migrate(ctx))
	return s
}

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return newTestStore(t)
	})
}

func TestNew_CallerOwnsDB(t *testing.T) {
	ctx := context.Background()

	sdb := sqlitedriver.New()
	require.NoError(t, sdb.Open(ctx, "file:"+filepath.Join(t.TempDir(), "owned.db"), driver.WithPoolSize(1)))
	db, err := grove.Open(sdb)
	require.NoError(t, err)
	defer db.Close()

	s := sqlite.New(db, sqlite.WithLogger(quietLogger()))
	require.Same(t, db, s.DB())
	require.NoError(t, s.Migrate(ctx))
	require.NoError(t, s.Migrate(ctx), "migrations are idempotent")

	require.NoError(t, s.Close())
	require.NoError(t, db.Ping(ctx), "Close must leave a caller-owned db open")
	require.NoError(t, s.Ping(ctx))
}
