// Package sqlite implements store.Store on the grove ORM with the SQLite
// dialect (github.com/xraph/grove/drivers/sqlitedriver, backed by the
// pure-Go modernc.org/sqlite). Suitable for embedded and edge
// deployments, CLI tools, and single-node installs.
//
// Timestamps are stored as Unix nanoseconds so range scans over deadlines
// compare numerically. Compare-and-set operations run inside grove
// transactions; the partial unique indexes on versions and tasks back the
// single-head and single-pending-task rules.
//
// Use New with a caller-owned *grove.DB:
//
//	sdb := sqlitedriver.New()
//	if err := sdb.Open(ctx, "file:signoff.db", driver.WithPoolSize(1)); err != nil { ... }
//	db, err := grove.Open(sdb)
//	if err != nil { ... }
//	s := sqlite.New(db)
//	if err := s.Migrate(ctx); err != nil { ... }
//
// or let Open manage the database:
//
//	s, err := sqlite.Open(ctx, "file:signoff.db")
//	if err != nil { ... }
//	defer s.Close()
package sqlite
