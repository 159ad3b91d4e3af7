package stores

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/homestack/homestack/pkg/engine"
)

// setupTestStore creates a file-backed store in a per-test temp dir
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{
		Path: filepath.Join(t.TempDir(), "history.db"),
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	return store
}

var (
	runStarted   = time.Date(2025, 3, 9, 6, 0, 0, 0, time.UTC)
	runCompleted = runStarted.Add(92 * time.Second)
)

// sampleReport builds a degraded run: postgres came up and provisioned,
// grafana timed out after a quarantine, paperless never started.
func sampleReport() *engine.RunReport {
	quarantine := engine.QuarantineRecord{
		Unit:          "grafana",
		QuarantinedAs: "grafana-old-1741500000",
		WasActive:     true,
		At:            runStarted.Add(2 * time.Second),
	}

	postgresStarted := runStarted.Add(1 * time.Second)
	postgresReady := runStarted.Add(9 * time.Second)
	grafanaStarted := runStarted.Add(12 * time.Second)

	return &engine.RunReport{
		RunID:             "run-20250309-060000",
		Verdict:           engine.VerdictDegraded,
		StartedAt:         runStarted,
		CompletedAt:       runCompleted,
		Duration:          runCompleted.Sub(runStarted),
		Healthy:           1,
		Unhealthy:         1,
		Blocked:           1,
		ProvisionFailures: 1,
		Quarantines:       []engine.QuarantineRecord{quarantine},
		Units: map[string]*engine.UnitResult{
			"postgres": {
				Name:        "postgres",
				State:       engine.UnitHealthy,
				Attempts:    3,
				StartedAt:   postgresStarted,
				ReadyAt:     postgresReady,
				CompletedAt: postgresReady,
				Provisions: []engine.ProvisionRecord{
					{
						Key:      "db:authelia",
						Outcome:  engine.ProvisionCreated,
						Duration: 40 * time.Millisecond,
					},
					{
						Key:     "db:paperless",
						Outcome: engine.ProvisionFailed,
						Err: &engine.EngineError{
							Kind:    engine.KindProvisioning,
							Message: "create database paperless failed",
							Unit:    "postgres",
						},
						Duration: 15 * time.Millisecond,
					},
				},
			},
			"grafana": {
				Name:  "grafana",
				State: engine.UnitUnhealthy,
				Err: &engine.EngineError{
					Kind:      engine.KindReadinessTimeout,
					Message:   "readiness not reached",
					Unit:      "grafana",
					Operation: "probe",
				},
				Attempts:    18,
				StartedAt:   grafanaStarted,
				CompletedAt: runCompleted,
				Quarantine:  &quarantine,
			},
			"paperless": {
				Name:  "paperless",
				State: engine.UnitBlocked,
				Err: &engine.EngineError{
					Kind:    engine.KindDependencyBlocked,
					Message: "dependency grafana is unhealthy",
					Unit:    "paperless",
				},
			},
		},
	}
}

// smallReport builds a single-unit converged run for list and prune tests
func smallReport(id string, started time.Time) *engine.RunReport {
	completed := started.Add(10 * time.Second)
	return &engine.RunReport{
		RunID:       id,
		Verdict:     engine.VerdictConverged,
		StartedAt:   started,
		CompletedAt: completed,
		Duration:    completed.Sub(started),
		Healthy:     1,
		Units: map[string]*engine.UnitResult{
			"caddy": {
				Name:        "caddy",
				State:       engine.UnitHealthy,
				Attempts:    1,
				StartedAt:   started,
				ReadyAt:     completed,
				CompletedAt: completed,
			},
		},
	}
}

// TestStoreLifecycle tests database initialization and closure
func TestStoreLifecycle(t *testing.T) {
	store, err := NewSQLiteStore(Config{
		Path: filepath.Join(t.TempDir(), "history.db"),
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}

	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

// TestStoreMigrations tests database migrations
func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)

	ctx := context.Background()

	// Check that tables exist by querying them
	tables := []string{"runs", "unit_results", "quarantines", "provisions", "events"}
	for _, table := range tables {
		query := "SELECT COUNT(*) FROM " + table
		var count int
		err := store.db.QueryRowContext(ctx, query).Scan(&count)
		if err != nil {
			t.Errorf("table %s does not exist or is not accessible: %v", table, err)
		}
	}
}

// TestRecordRunRoundTrip records a full report and reads all of it back
func TestRecordRunRoundTrip(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	report := sampleReport()

	if err := store.RecordRun(ctx, "homelab", report); err != nil {
		t.Fatalf("failed to record run: %v", err)
	}

	run, err := store.GetRun(ctx, report.RunID)
	if err != nil {
		t.Fatalf("failed to get run: %v", err)
	}
	if run.Stack != "homelab" {
		t.Errorf("expected stack homelab, got %s", run.Stack)
	}
	if run.Verdict != engine.VerdictDegraded {
		t.Errorf("expected verdict degraded, got %s", run.Verdict)
	}
	if !run.StartedAt.Equal(runStarted) || !run.CompletedAt.Equal(runCompleted) {
		t.Errorf("run times not preserved: started %v, completed %v", run.StartedAt, run.CompletedAt)
	}
	if run.Duration != 92*time.Second {
		t.Errorf("expected duration 92s, got %v", run.Duration)
	}
	if run.Healthy != 1 || run.Unhealthy != 1 || run.Failed != 0 || run.Blocked != 1 {
		t.Errorf("counts not preserved: %+v", run)
	}
	if run.ProvisionFailures != 1 {
		t.Errorf("expected 1 provision failure, got %d", run.ProvisionFailures)
	}

	units, err := store.ListUnitResults(ctx, report.RunID)
	if err != nil {
		t.Fatalf("failed to list unit results: %v", err)
	}
	if len(units) != 3 {
		t.Fatalf("expected 3 unit results, got %d", len(units))
	}
	for i, want := range []string{"grafana", "paperless", "postgres"} {
		if units[i].Unit != want {
			t.Errorf("expected unit %s at position %d, got %s", want, i, units[i].Unit)
		}
	}

	grafana := units[0]
	if grafana.State != engine.UnitUnhealthy {
		t.Errorf("expected grafana unhealthy, got %s", grafana.State)
	}
	if !strings.Contains(grafana.Cause, "readiness not reached") {
		t.Errorf("grafana cause not preserved: %q", grafana.Cause)
	}
	if grafana.Attempts != 18 {
		t.Errorf("expected 18 attempts, got %d", grafana.Attempts)
	}
	if grafana.StartedAt == nil || !grafana.StartedAt.Equal(runStarted.Add(12*time.Second)) {
		t.Errorf("grafana start time not preserved: %v", grafana.StartedAt)
	}
	if grafana.ReadyAt != nil {
		t.Errorf("expected nil ready time for unhealthy unit, got %v", grafana.ReadyAt)
	}

	paperless := units[1]
	if paperless.State != engine.UnitBlocked {
		t.Errorf("expected paperless blocked, got %s", paperless.State)
	}
	if paperless.StartedAt != nil {
		t.Errorf("expected nil start time for blocked unit, got %v", paperless.StartedAt)
	}

	postgres := units[2]
	if postgres.State != engine.UnitHealthy {
		t.Errorf("expected postgres healthy, got %s", postgres.State)
	}
	if postgres.Cause != "" {
		t.Errorf("expected empty cause for healthy unit, got %q", postgres.Cause)
	}
	if postgres.ReadyAt == nil || !postgres.ReadyAt.Equal(runStarted.Add(9*time.Second)) {
		t.Errorf("postgres ready time not preserved: %v", postgres.ReadyAt)
	}

	quarantines, err := store.ListQuarantines(ctx, report.RunID)
	if err != nil {
		t.Fatalf("failed to list quarantines: %v", err)
	}
	if len(quarantines) != 1 {
		t.Fatalf("expected 1 quarantine record, got %d", len(quarantines))
	}
	q := quarantines[0]
	if q.Unit != "grafana" || q.QuarantinedAs != "grafana-old-1741500000" {
		t.Errorf("quarantine record not preserved: %+v", q)
	}
	if !q.WasActive {
		t.Error("expected quarantined resource to be recorded as active")
	}
	if !q.At.Equal(runStarted.Add(2 * time.Second)) {
		t.Errorf("quarantine time not preserved: %v", q.At)
	}

	provisions, err := store.ListProvisions(ctx, report.RunID)
	if err != nil {
		t.Fatalf("failed to list provisions: %v", err)
	}
	if len(provisions) != 2 {
		t.Fatalf("expected 2 provision records, got %d", len(provisions))
	}
	if provisions[0].Key != "db:authelia" || provisions[0].Outcome != engine.ProvisionCreated {
		t.Errorf("first provision not preserved: %+v", provisions[0])
	}
	if provisions[0].Error != "" {
		t.Errorf("expected empty error for created provision, got %q", provisions[0].Error)
	}
	if provisions[0].Duration != 40*time.Millisecond {
		t.Errorf("expected 40ms duration, got %v", provisions[0].Duration)
	}
	if provisions[1].Key != "db:paperless" || provisions[1].Outcome != engine.ProvisionFailed {
		t.Errorf("second provision not preserved: %+v", provisions[1])
	}
	if !strings.Contains(provisions[1].Error, "create database paperless failed") {
		t.Errorf("provision error not preserved: %q", provisions[1].Error)
	}
	if provisions[1].Unit != "postgres" {
		t.Errorf("expected provision bound to postgres, got %s", provisions[1].Unit)
	}
}

// TestGetRunMissing tests the not-found path
func TestGetRunMissing(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.GetRun(context.Background(), "run-nope")
	if err == nil {
		t.Fatal("expected an error for a missing run")
	}
	if !strings.Contains(err.Error(), "not found") {
		t.Errorf("unexpected error: %v", err)
	}
}

// TestListRunsNewestFirst tests ordering and pagination
func TestListRunsNewestFirst(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 3, 9, 6, 0, 0, 0, time.UTC)
	for i, id := range []string{"run-a", "run-b", "run-c"} {
		report := smallReport(id, base.Add(time.Duration(i)*time.Hour))
		if err := store.RecordRun(ctx, "homelab", report); err != nil {
			t.Fatalf("failed to record %s: %v", id, err)
		}
	}

	runs, err := store.ListRuns(ctx, 2, 0)
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "run-c" || runs[1].ID != "run-b" {
		t.Errorf("expected [run-c run-b], got %v", runIDs(runs))
	}

	rest, err := store.ListRuns(ctx, 2, 2)
	if err != nil {
		t.Fatalf("failed to list runs with offset: %v", err)
	}
	if len(rest) != 1 || rest[0].ID != "run-a" {
		t.Errorf("expected [run-a], got %v", runIDs(rest))
	}
}

func runIDs(runs []*Run) []string {
	ids := make([]string, len(runs))
	for i, run := range runs {
		ids[i] = run.ID
	}
	return ids
}

// TestAppendAndListEvents tests the append-only event log
func TestAppendAndListEvents(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	at := time.Date(2025, 3, 9, 6, 0, 0, 0, time.UTC)
	events := []engine.Event{
		{RunID: "run-a", Type: engine.EventRunStarted, Message: "run started", At: at},
		{RunID: "run-a", Unit: "caddy", Type: engine.EventUnitStarting, Message: "starting caddy", At: at.Add(time.Second)},
		{RunID: "run-a", Unit: "caddy", Type: engine.EventUnitHealthy, Message: "caddy healthy", At: at.Add(5 * time.Second)},
		{RunID: "run-b", Type: engine.EventRunStarted, Message: "other run", At: at.Add(time.Minute)},
	}
	for _, event := range events {
		if err := store.AppendEvent(ctx, event); err != nil {
			t.Fatalf("failed to append event: %v", err)
		}
	}

	got, err := store.ListEvents(ctx, "run-a", 10, 0)
	if err != nil {
		t.Fatalf("failed to list events: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 events for run-a, got %d", len(got))
	}
	if got[0].Type != engine.EventRunStarted || got[0].Unit != "" {
		t.Errorf("first event not preserved: %+v", got[0])
	}
	if got[1].Type != engine.EventUnitStarting || got[1].Unit != "caddy" {
		t.Errorf("second event not preserved: %+v", got[1])
	}
	if got[2].Message != "caddy healthy" {
		t.Errorf("third event not preserved: %+v", got[2])
	}
	if !got[2].At.Equal(at.Add(5 * time.Second)) {
		t.Errorf("event time not preserved: %v", got[2].At)
	}
}

// TestPruneRuns tests retention, cascade deletes, and event cleanup
func TestPruneRuns(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 3, 9, 6, 0, 0, 0, time.UTC)
	for i, id := range []string{"run-a", "run-b", "run-c"} {
		report := smallReport(id, base.Add(time.Duration(i)*time.Hour))
		if err := store.RecordRun(ctx, "homelab", report); err != nil {
			t.Fatalf("failed to record %s: %v", id, err)
		}
		event := engine.Event{RunID: id, Type: engine.EventRunCompleted, Message: "done", At: base}
		if err := store.AppendEvent(ctx, event); err != nil {
			t.Fatalf("failed to append event for %s: %v", id, err)
		}
	}

	pruned, err := store.PruneRuns(ctx, 1)
	if err != nil {
		t.Fatalf("failed to prune runs: %v", err)
	}
	if pruned != 2 {
		t.Errorf("expected 2 pruned runs, got %d", pruned)
	}

	runs, err := store.ListRuns(ctx, 10, 0)
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != "run-c" {
		t.Errorf("expected only run-c to survive, got %v", runIDs(runs))
	}

	// Unit rows cascade with their run
	units, err := store.ListUnitResults(ctx, "run-a")
	if err != nil {
		t.Fatalf("failed to list unit results: %v", err)
	}
	if len(units) != 0 {
		t.Errorf("expected pruned run's unit results to be gone, got %d", len(units))
	}

	gone, err := store.ListEvents(ctx, "run-a", 10, 0)
	if err != nil {
		t.Fatalf("failed to list events: %v", err)
	}
	if len(gone) != 0 {
		t.Errorf("expected pruned run's events to be gone, got %d", len(gone))
	}

	kept, err := store.ListEvents(ctx, "run-c", 10, 0)
	if err != nil {
		t.Fatalf("failed to list events: %v", err)
	}
	if len(kept) != 1 {
		t.Errorf("expected surviving run's events to remain, got %d", len(kept))
	}

	// Pruning with a budget above the row count removes nothing
	pruned, err = store.PruneRuns(ctx, 10)
	if err != nil {
		t.Fatalf("failed to prune runs: %v", err)
	}
	if pruned != 0 {
		t.Errorf("expected 0 pruned runs, got %d", pruned)
	}
}
