package stores

import (
	"context"
	"time"

	"github.com/homestack/homestack/pkg/engine"
)

// Run is one recorded orchestration run.
type Run struct {
	ID                string            `json:"id"`
	Stack             string            `json:"stack"`
	Verdict           engine.RunVerdict `json:"verdict"`
	StartedAt         time.Time         `json:"started_at"`
	CompletedAt       time.Time         `json:"completed_at"`
	Duration          time.Duration     `json:"duration"`
	Healthy           int               `json:"healthy"`
	Unhealthy         int               `json:"unhealthy"`
	Failed            int               `json:"failed"`
	Blocked           int               `json:"blocked"`
	ProvisionFailures int               `json:"provision_failures"`
}

// UnitResult is one unit's recorded outcome within a run. The time fields
// are nil for phases the unit never reached.
type UnitResult struct {
	RunID       string           `json:"run_id"`
	Unit        string           `json:"unit"`
	State       engine.UnitState `json:"state"`
	Cause       string           `json:"cause,omitempty"`
	Attempts    int              `json:"attempts"`
	StartedAt   *time.Time       `json:"started_at,omitempty"`
	ReadyAt     *time.Time       `json:"ready_at,omitempty"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
}

// Provision is one recorded provisioning task outcome within a run.
type Provision struct {
	RunID    string                  `json:"run_id"`
	Unit     string                  `json:"unit"`
	Key      string                  `json:"key"`
	Outcome  engine.ProvisionOutcome `json:"outcome"`
	Error    string                  `json:"error,omitempty"`
	Duration time.Duration           `json:"duration"`
}

// Store defines the interface for the run history persistence layer.
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Run records
	RecordRun(ctx context.Context, stack string, report *engine.RunReport) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, limit, offset int) ([]*Run, error)
	ListUnitResults(ctx context.Context, runID string) ([]*UnitResult, error)
	ListQuarantines(ctx context.Context, runID string) ([]engine.QuarantineRecord, error)
	ListProvisions(ctx context.Context, runID string) ([]*Provision, error)
	PruneRuns(ctx context.Context, keep int) (int64, error)

	// Event log
	AppendEvent(ctx context.Context, event engine.Event) error
	ListEvents(ctx context.Context, runID string, limit, offset int) ([]engine.Event, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
