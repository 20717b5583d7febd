//go:build integration

package postgres_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	pgmodule "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/xraph/signoff/store"
	"github.com/xraph/signoff/store/postgres"
	"github.com/xraph/signoff/store/storetest"
)

// setupTestStore starts a Postgres container and returns a migrated Store.
func setupTestStore(t *testing.T) *postgres.Store {
	t.Helper()

	ctx := context.Background()

	container, err := pgmodule.Run(ctx,
		"postgres:16-alpine",
		pgmodule.WithDatabase("signoff_test"),
		pgmodule.WithUsername("test"),
		pgmodule.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if termErr := container.Terminate(ctx); termErr != nil {
			t.Logf("terminate container: %v", termErr)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("get connection string: %v", err)
	}

	s, err := postgres.New(ctx, connStr, postgres.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func TestConformance(t *testing.T) {
	s := setupTestStore(t)

	storetest.Run(t, func(t *testing.T) store.Store {
		t.Helper()
		_, err := s.Pool().Exec(context.Background(), `TRUNCATE
			signoff_versions, signoff_tasks, signoff_audit_entries, signoff_compensations,
			signoff_waits, signoff_workflow_runs, signoff_checkpoints`)
		if err != nil {
			t.Fatalf("truncate: %v", err)
		}
		return s
	})
}
