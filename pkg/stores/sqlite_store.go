package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/homestack/homestack/pkg/engine"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 10
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 2
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	return &SQLiteStore{cfg: cfg}, nil
}

// DefaultPath returns the default location of the history database.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "homestack-history.db"
	}
	return filepath.Join(home, ".homestack", "history.db")
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	if s.cfg.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(s.cfg.Path), 0o755); err != nil {
			return fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// The pragmas apply per pooled connection; _time_format makes the
	// driver write time.Time values in a form it can scan back.
	dsn := s.cfg.Path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)" +
		"&_pragma=foreign_keys(1)&_pragma=synchronous(NORMAL)" +
		"&_txlock=immediate&_time_format=sqlite"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	if s.cfg.Path == ":memory:" {
		// A pooled in-memory DSN opens one empty database per
		// connection, so the pool is pinned to a single connection.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		db.SetMaxOpenConns(s.cfg.MaxOpenConns)
		db.SetMaxIdleConns(s.cfg.MaxIdleConns)
		db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	// Create migration source from embedded FS
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	// Create database driver
	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	// Create migration instance
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	// Run migrations
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// RecordRun persists a finished run, its per-unit results, quarantine
// records, and provisioning outcomes in one transaction.
func (s *SQLiteStore) RecordRun(ctx context.Context, stack string, report *engine.RunReport) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	runQuery := `
		INSERT INTO runs (id, stack, verdict, started_at, completed_at, duration_ms,
						  healthy, unhealthy, failed, blocked, provision_failures)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = tx.ExecContext(ctx, runQuery,
		report.RunID,
		stack,
		report.Verdict,
		report.StartedAt,
		report.CompletedAt,
		report.Duration.Milliseconds(),
		report.Healthy,
		report.Unhealthy,
		report.Failed,
		report.Blocked,
		report.ProvisionFailures,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	names := make([]string, 0, len(report.Units))
	for name := range report.Units {
		names = append(names, name)
	}
	sort.Strings(names)

	unitQuery := `
		INSERT INTO unit_results (run_id, unit, state, cause, attempts,
								  started_at, ready_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	provisionQuery := `
		INSERT INTO provisions (run_id, unit, task_key, outcome, error, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	for _, name := range names {
		res := report.Units[name]

		var cause string
		if res.Err != nil {
			cause = res.Err.Error()
		}
		_, err = tx.ExecContext(ctx, unitQuery,
			report.RunID,
			name,
			res.State,
			cause,
			res.Attempts,
			nullableTime(res.StartedAt),
			nullableTime(res.ReadyAt),
			nullableTime(res.CompletedAt),
		)
		if err != nil {
			return fmt.Errorf("failed to insert unit result for %s: %w", name, err)
		}

		for _, prov := range res.Provisions {
			var provErr string
			if prov.Err != nil {
				provErr = prov.Err.Error()
			}
			_, err = tx.ExecContext(ctx, provisionQuery,
				report.RunID,
				name,
				prov.Key,
				prov.Outcome,
				provErr,
				prov.Duration.Milliseconds(),
			)
			if err != nil {
				return fmt.Errorf("failed to insert provision record for %s: %w", prov.Key, err)
			}
		}
	}

	quarantineQuery := `
		INSERT INTO quarantines (run_id, unit, quarantined_as, was_active, at)
		VALUES (?, ?, ?, ?, ?)
	`
	for _, q := range report.Quarantines {
		_, err = tx.ExecContext(ctx, quarantineQuery,
			report.RunID, q.Unit, q.QuarantinedAs, q.WasActive, q.At)
		if err != nil {
			return fmt.Errorf("failed to insert quarantine record for %s: %w", q.Unit, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run record: %w", err)
	}

	return nil
}

// GetRun retrieves a run by ID
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	query := `
		SELECT id, stack, verdict, started_at, completed_at, duration_ms,
			   healthy, unhealthy, failed, blocked, provision_failures
		FROM runs
		WHERE id = ?
	`

	run := &Run{}
	var durationMS int64
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&run.ID,
		&run.Stack,
		&run.Verdict,
		&run.StartedAt,
		&run.CompletedAt,
		&durationMS,
		&run.Healthy,
		&run.Unhealthy,
		&run.Failed,
		&run.Blocked,
		&run.ProvisionFailures,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	run.Duration = time.Duration(durationMS) * time.Millisecond
	return run, nil
}

// ListRuns lists runs newest first with pagination
func (s *SQLiteStore) ListRuns(ctx context.Context, limit, offset int) ([]*Run, error) {
	query := `
		SELECT id, stack, verdict, started_at, completed_at, duration_ms,
			   healthy, unhealthy, failed, blocked, provision_failures
		FROM runs
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*Run{}
	for rows.Next() {
		run := &Run{}
		var durationMS int64
		err := rows.Scan(
			&run.ID,
			&run.Stack,
			&run.Verdict,
			&run.StartedAt,
			&run.CompletedAt,
			&durationMS,
			&run.Healthy,
			&run.Unhealthy,
			&run.Failed,
			&run.Blocked,
			&run.ProvisionFailures,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		run.Duration = time.Duration(durationMS) * time.Millisecond
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

// ListUnitResults lists a run's per-unit results in unit name order
func (s *SQLiteStore) ListUnitResults(ctx context.Context, runID string) ([]*UnitResult, error) {
	query := `
		SELECT run_id, unit, state, cause, attempts, started_at, ready_at, completed_at
		FROM unit_results
		WHERE run_id = ?
		ORDER BY unit ASC
	`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list unit results: %w", err)
	}
	defer rows.Close()

	results := []*UnitResult{}
	for rows.Next() {
		res := &UnitResult{}
		err := rows.Scan(
			&res.RunID,
			&res.Unit,
			&res.State,
			&res.Cause,
			&res.Attempts,
			&res.StartedAt,
			&res.ReadyAt,
			&res.CompletedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan unit result: %w", err)
		}
		results = append(results, res)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating unit results: %w", err)
	}

	return results, nil
}

// ListQuarantines lists a run's quarantine records
func (s *SQLiteStore) ListQuarantines(ctx context.Context, runID string) ([]engine.QuarantineRecord, error) {
	query := `
		SELECT unit, quarantined_as, was_active, at
		FROM quarantines
		WHERE run_id = ?
		ORDER BY at ASC
	`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list quarantines: %w", err)
	}
	defer rows.Close()

	records := []engine.QuarantineRecord{}
	for rows.Next() {
		var q engine.QuarantineRecord
		if err := rows.Scan(&q.Unit, &q.QuarantinedAs, &q.WasActive, &q.At); err != nil {
			return nil, fmt.Errorf("failed to scan quarantine record: %w", err)
		}
		records = append(records, q)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating quarantines: %w", err)
	}

	return records, nil
}

// ListProvisions lists a run's provisioning outcomes
func (s *SQLiteStore) ListProvisions(ctx context.Context, runID string) ([]*Provision, error) {
	query := `
		SELECT run_id, unit, task_key, outcome, error, duration_ms
		FROM provisions
		WHERE run_id = ?
		ORDER BY id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list provisions: %w", err)
	}
	defer rows.Close()

	provisions := []*Provision{}
	for rows.Next() {
		p := &Provision{}
		var durationMS int64
		err := rows.Scan(&p.RunID, &p.Unit, &p.Key, &p.Outcome, &p.Error, &durationMS)
		if err != nil {
			return nil, fmt.Errorf("failed to scan provision record: %w", err)
		}
		p.Duration = time.Duration(durationMS) * time.Millisecond
		provisions = append(provisions, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating provisions: %w", err)
	}

	return provisions, nil
}

// PruneRuns deletes all but the newest keep runs and their dependent rows.
// It returns the number of runs deleted.
func (s *SQLiteStore) PruneRuns(ctx context.Context, keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		DELETE FROM runs
		WHERE id NOT IN (SELECT id FROM runs ORDER BY started_at DESC LIMIT ?)
	`, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}

	pruned, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	// Events carry no foreign key, so they are pruned explicitly.
	_, err = tx.ExecContext(ctx, `DELETE FROM events WHERE run_id NOT IN (SELECT id FROM runs)`)
	if err != nil {
		return 0, fmt.Errorf("failed to prune events: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit prune: %w", err)
	}

	return pruned, nil
}

// AppendEvent appends a run timeline event to the log
func (s *SQLiteStore) AppendEvent(ctx context.Context, event engine.Event) error {
	query := `
		INSERT INTO events (run_id, unit, type, message, at)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		event.RunID,
		event.Unit,
		event.Type,
		event.Message,
		event.At,
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	return nil
}

// ListEvents lists a run's events in append order with pagination
func (s *SQLiteStore) ListEvents(ctx context.Context, runID string, limit, offset int) ([]engine.Event, error) {
	query := `
		SELECT run_id, unit, type, message, at
		FROM events
		WHERE run_id = ?
		ORDER BY id ASC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, runID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	events := []engine.Event{}
	for rows.Next() {
		var event engine.Event
		err := rows.Scan(&event.RunID, &event.Unit, &event.Type, &event.Message, &event.At)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}

// nullableTime maps the zero time to NULL.
func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
