// Package store defines the aggregate persistence interface. Each subsystem
// (version, task, audit, compensation, wait, workflow) defines its own store
// interface. The composite Store composes them all. Backends: Memory,
// Postgres, SQLite, Redis, and MongoDB.
package store

import (
	"context"

	"github.com/xraph/signoff/audit"
	"github.com/xraph/signoff/compensation"
	"github.com/xraph/signoff/task"
	"github.com/xraph/signoff/version"
	"github.com/xraph/signoff/wait"
	"github.com/xraph/signoff/workflow"
)

// Store is the aggregate persistence interface.
// A single backend implements every subsystem store.
type Store interface {
	version.Store
	task.Store
	audit.Store
	compensation.Store
	wait.Store
	workflow.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks database connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
