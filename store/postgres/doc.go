// Package postgres implements store.Store on PostgreSQL using pgx/v5 with
// raw SQL. Version appends lock the previous head row, task and wait
// resolutions are conditional updates, and the schema is managed with
// golang-migrate from embedded SQL files.
package postgres
