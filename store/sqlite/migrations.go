package sqlite

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the signoff sqlite store.
var Migrations = migrate.NewGroup("signoff")

// execAll runs each statement in order.
func execAll(ctx context.Context, exec migrate.Executor, stmts ...string) error {
	for _, stmt := range stmts {
		if _, err := exec.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func init() {
	Migrations.MustRegister(
		// 001: Create the approval tables.
		&migrate.Migration{
			Name:    "create_signoff_tables",
			Version: "20240101120000",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				return execAll(ctx, exec,
					`CREATE TABLE IF NOT EXISTS signoff_versions (
						id                  TEXT PRIMARY KEY,
						group_id            TEXT    NOT NULL,
						number              INTEGER NOT NULL,
						name                TEXT    NOT NULL,
						status              TEXT    NOT NULL,
						current_step        TEXT    NOT NULL DEFAULT '',
						context             TEXT,
						is_latest           INTEGER NOT NULL DEFAULT 0,
						previous_version_id TEXT,
						created_by          TEXT    NOT NULL DEFAULT '',
						created_at          INTEGER NOT NULL,
						updated_at          INTEGER NOT NULL,
						UNIQUE (group_id, number)
					)`,
					`CREATE UNIQUE INDEX IF NOT EXISTS signoff_versions_latest_idx
						ON signoff_versions (group_id) WHERE is_latest = 1`,
					`CREATE UNIQUE INDEX IF NOT EXISTS signoff_versions_previous_idx
						ON signoff_versions (previous_version_id) WHERE previous_version_id IS NOT NULL`,

					`CREATE TABLE IF NOT EXISTS signoff_tasks (
						id                  TEXT PRIMARY KEY,
						workflow_version_id TEXT    NOT NULL,
						group_id            TEXT    NOT NULL,
						step_id             TEXT    NOT NULL,
						assignee            TEXT    NOT NULL DEFAULT '',
						assignee_id         TEXT    NOT NULL DEFAULT '',
						ui_schema           TEXT,
						status              TEXT    NOT NULL,
						response            TEXT,
						channel             TEXT    NOT NULL DEFAULT '',
						expires_at          INTEGER,
						resolved_at         INTEGER,
						created_at          INTEGER NOT NULL,
						updated_at          INTEGER NOT NULL
					)`,
					`CREATE INDEX IF NOT EXISTS signoff_tasks_status_idx ON signoff_tasks (status, created_at)`,
					`CREATE INDEX IF NOT EXISTS signoff_tasks_group_idx ON signoff_tasks (group_id)`,

					`CREATE TABLE IF NOT EXISTS signoff_audit_entries (
						seq                 INTEGER PRIMARY KEY AUTOINCREMENT,
						id                  TEXT    NOT NULL UNIQUE,
						workflow_version_id TEXT    NOT NULL,
						group_id            TEXT    NOT NULL,
						step_id             TEXT    NOT NULL DEFAULT '',
						type                TEXT    NOT NULL,
						data                TEXT,
						actor               TEXT    NOT NULL DEFAULT '',
						created_at          INTEGER NOT NULL
					)`,
					`CREATE INDEX IF NOT EXISTS signoff_audit_version_idx
						ON signoff_audit_entries (workflow_version_id, created_at, seq)`,
					`CREATE INDEX IF NOT EXISTS signoff_audit_group_idx
						ON signoff_audit_entries (group_id, created_at, seq)`,

					`CREATE TABLE IF NOT EXISTS signoff_compensations (
						id                  TEXT PRIMARY KEY,
						workflow_version_id TEXT    NOT NULL,
						group_id            TEXT    NOT NULL,
						step_id             TEXT    NOT NULL DEFAULT '',
						action              TEXT    NOT NULL,
						status              TEXT    NOT NULL,
						data                TEXT,
						error               TEXT    NOT NULL DEFAULT '',
						created_at          INTEGER NOT NULL
					)`,

					`CREATE TABLE IF NOT EXISTS signoff_waits (
						key           TEXT PRIMARY KEY,
						id            TEXT    NOT NULL,
						run_id        TEXT,
						state         TEXT    NOT NULL,
						outcome       TEXT    NOT NULL DEFAULT '',
						payload       TEXT,
						deadline      INTEGER NOT NULL,
						registered_at INTEGER NOT NULL,
						resolved_at   INTEGER
					)`,
					`CREATE INDEX IF NOT EXISTS signoff_waits_due_idx ON signoff_waits (state, deadline)`,

					`CREATE TABLE IF NOT EXISTS signoff_workflow_runs (
						id           TEXT PRIMARY KEY,
						name         TEXT    NOT NULL,
						version      INTEGER NOT NULL DEFAULT 1,
						state        TEXT    NOT NULL,
						input        TEXT,
						error        TEXT    NOT NULL DEFAULT '',
						wait_key     TEXT    NOT NULL DEFAULT '',
						started_at   INTEGER NOT NULL,
						completed_at INTEGER,
						created_at   INTEGER NOT NULL,
						updated_at   INTEGER NOT NULL
					)`,
					`CREATE INDEX IF NOT EXISTS signoff_workflow_runs_state_idx
						ON signoff_workflow_runs (state, created_at)`,

					`CREATE TABLE IF NOT EXISTS signoff_checkpoints (
						seq        INTEGER PRIMARY KEY AUTOINCREMENT,
						id         TEXT    NOT NULL,
						run_id     TEXT    NOT NULL,
						step_name  TEXT    NOT NULL,
						data       BLOB    NOT NULL,
						created_at INTEGER NOT NULL,
						UNIQUE (run_id, step_name)
					)`,
				)
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				return execAll(ctx, exec,
					`DROP TABLE IF EXISTS signoff_checkpoints`,
					`DROP TABLE IF EXISTS signoff_workflow_runs`,
					`DROP TABLE IF EXISTS signoff_waits`,
					`DROP TABLE IF EXISTS signoff_compensations`,
					`DROP TABLE IF EXISTS signoff_audit_entries`,
					`DROP TABLE IF EXISTS signoff_tasks`,
					`DROP TABLE IF EXISTS signoff_versions`,
				)
			},
		},

		// 002: At most one pending task per version.
		&migrate.Migration{
			Name:    "one_pending_task_per_version",
			Version: "20240101120001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
					CREATE UNIQUE INDEX IF NOT EXISTS signoff_tasks_one_pending_idx
						ON signoff_tasks (workflow_version_id) WHERE status = 'pending'`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP INDEX IF EXISTS signoff_tasks_one_pending_idx`)
				return err
			},
		},
	)
}
