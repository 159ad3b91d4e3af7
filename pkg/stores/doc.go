// Package stores provides the run history persistence layer for homestack.
// It includes SQLite-based storage with WAL mode, embedded migrations,
// and records of completed runs, per-unit results, quarantines,
// provisioning outcomes, and the run event log.
package stores
