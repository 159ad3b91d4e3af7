package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Engine orchestrates one stack bring-up: it walks the dependency graph in
// topological batches, clears conflicts, starts units through the backend,
// probes readiness, and runs provisioning tasks for units that reached
// Healthy. The engine holds no state between runs beyond the Gate's memory
// of provisioned keys; everything else is reconstructed per invocation.
type Engine struct {
	backend  Backend
	prober   *Prober
	resolver *ConflictResolver
	gate     *Gate
	sink     EventSink

	// mu guards run-level aggregates shared between unit goroutines.
	// Per-unit results need no lock: each entry is written only by the
	// goroutine executing that unit.
	mu sync.Mutex
}

// defaultMaxParallel caps concurrent units within a batch when the caller
// does not choose a cap.
const defaultMaxParallel = 10

// New creates an engine over the given backend and provisioner. A nil sink
// disables event publishing; a nil provisioner fails provisioning tasks
// loudly instead of skipping them.
func New(backend Backend, provisioner Provisioner, sink EventSink) *Engine {
	return &Engine{
		backend:  backend,
		prober:   NewProber(backend),
		resolver: NewConflictResolver(backend),
		gate:     NewGate(provisioner),
		sink:     sink,
	}
}

// Run brings the declared units up in dependency order and reports every
// unit's terminal state. Configuration errors (cycles, unknown
// dependencies, bad policies) return before any side effect; per-unit
// failures are contained, leave siblings running, and block only the
// failed unit's dependents.
func (e *Engine) Run(ctx context.Context, units []UnitSpec, opts Options) (*RunReport, error) {
	graph, err := BuildGraph(units)
	if err != nil {
		return nil, err
	}
	if opts.MaxParallel <= 0 {
		opts.MaxParallel = defaultMaxParallel
	}

	report := &RunReport{
		RunID:     uuid.New().String(),
		Units:     make(map[string]*UnitResult, len(units)),
		StartedAt: time.Now(),
	}
	for _, unit := range units {
		report.Units[unit.Name] = &UnitResult{Name: unit.Name, State: UnitPending}
	}

	runCtx := ctx
	if opts.Deadline > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, opts.Deadline)
		defer cancel()
	}

	e.publish(runCtx, Event{
		RunID:   report.RunID,
		Type:    EventRunStarted,
		Message: fmt.Sprintf("run started with %d units", len(units)),
		At:      time.Now(),
	})

	healthy := make(map[string]bool, len(units))
	for {
		batch := graph.NextBatch(healthy)
		if len(batch) == 0 {
			break
		}

		e.publish(runCtx, Event{
			RunID:   report.RunID,
			Type:    EventBatchStarted,
			Message: fmt.Sprintf("starting batch: %s", strings.Join(batch, ", ")),
			At:      time.Now(),
		})

		e.executeBatch(runCtx, report, graph, batch, opts)

		for _, name := range batch {
			if report.Units[name].State == UnitHealthy {
				healthy[name] = true
			}
		}

		if runCtx.Err() != nil {
			break
		}
	}

	e.markBlocked(runCtx, report, graph)
	e.summarize(report, errors.Is(ctx.Err(), context.Canceled))

	e.publish(runCtx, Event{
		RunID: report.RunID,
		Type:  EventRunCompleted,
		Message: fmt.Sprintf("run %s: %d healthy, %d unhealthy, %d failed, %d blocked",
			report.Verdict, report.Healthy, report.Unhealthy, report.Failed, report.Blocked),
		At: time.Now(),
	})

	return report, nil
}

// executeBatch starts and probes one batch's units concurrently through a
// bounded worker pool.
func (e *Engine) executeBatch(ctx context.Context, report *RunReport, graph *Graph, batch []string, opts Options) {
	workerCount := opts.MaxParallel
	if len(batch) < workerCount {
		workerCount = len(batch)
	}

	queue := make(chan string, len(batch))
	for _, name := range batch {
		queue <- name
	}
	close(queue)

	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for name := range queue {
				select {
				case <-ctx.Done():
					return
				default:
				}

				unit, _ := graph.Unit(name)
				e.executeUnit(ctx, report, unit, report.Units[name], opts)
			}
		}()
	}
	wg.Wait()
}

// executeUnit drives one unit through its state machine. The result entry
// belongs exclusively to this goroutine until the state is terminal.
func (e *Engine) executeUnit(ctx context.Context, report *RunReport, unit UnitSpec, res *UnitResult, opts Options) {
	resolution, err := e.resolver.Resolve(ctx, unit.Name)
	if err != nil {
		if ctx.Err() != nil {
			// The run ended mid-resolution. The unit never started, so it
			// is resolved as blocked with the rest of the pending units.
			return
		}
		e.finishUnit(ctx, report.RunID, res, UnitFailed, asEngineError(err))
		return
	}
	if q := resolution.Quarantine; q != nil {
		res.Quarantine = q
		e.mu.Lock()
		report.Quarantines = append(report.Quarantines, *q)
		e.mu.Unlock()
		e.publish(ctx, Event{
			RunID:   report.RunID,
			Unit:    unit.Name,
			Type:    EventUnitQuarantined,
			Message: fmt.Sprintf("foreign resource quarantined as %s", q.QuarantinedAs),
			At:      time.Now(),
		})
	}

	res.State = UnitStarting
	res.StartedAt = time.Now()
	e.publish(ctx, Event{
		RunID:   report.RunID,
		Unit:    unit.Name,
		Type:    EventUnitStarting,
		Message: "starting unit",
		At:      time.Now(),
	})

	if err := e.backend.EnsureRunning(ctx, unit.Name, unit.Start); err != nil {
		if ctx.Err() != nil {
			// The run was cancelled mid-start; the backend resource may
			// still come up and a later run's conflict resolution will
			// reconcile it.
			e.finishUnit(ctx, report.RunID, res, UnitUnhealthy,
				NewReadinessTimeoutError("run cancelled during start", ctx.Err()).
					WithUnit(unit.Name).
					WithCode(ErrCodeRunDeadline))
			return
		}
		e.finishUnit(ctx, report.RunID, res, UnitFailed,
			NewBackendStartError("backend could not start unit", err).
				WithUnit(unit.Name).
				WithCode(ErrCodeStartFailed))
		return
	}

	res.State = UnitProbing
	probe := e.prober.Probe(ctx, unit.Name, unit.Readiness)
	res.Attempts = probe.Attempts

	switch probe.Verdict {
	case ProbeHealthy:
		res.ReadyAt = time.Now()
		e.finishUnit(ctx, report.RunID, res, UnitHealthy, nil)
		e.runProvisioning(ctx, report.RunID, unit, res, opts)
	case ProbeFailed:
		e.finishUnit(ctx, report.RunID, res, UnitFailed, probe.Err)
	case ProbeTimedOut:
		e.finishUnit(ctx, report.RunID, res, UnitUnhealthy, probe.Err)
	}
}

// runProvisioning executes the unit's tasks through the gate. Task
// failures are recorded per task and never change the owning unit's state:
// the unit itself is running.
func (e *Engine) runProvisioning(ctx context.Context, runID string, unit UnitSpec, res *UnitResult, opts Options) {
	for _, task := range unit.Provision {
		if opts.SkipProvision {
			res.Provisions = append(res.Provisions, ProvisionRecord{
				Key:     task.Key,
				Outcome: ProvisionSkipped,
			})
			continue
		}

		start := time.Now()
		outcome, err := e.gate.Ensure(ctx, task)
		record := ProvisionRecord{
			Key:      task.Key,
			Outcome:  outcome,
			Duration: time.Since(start),
		}
		if err != nil {
			record.Err = asEngineError(err)
			e.publish(ctx, Event{
				RunID:   runID,
				Unit:    unit.Name,
				Type:    EventProvisionFailed,
				Message: fmt.Sprintf("provisioning %s failed: %v", task.Key, err),
				At:      time.Now(),
			})
		} else {
			e.publish(ctx, Event{
				RunID:   runID,
				Unit:    unit.Name,
				Type:    EventProvisioned,
				Message: fmt.Sprintf("provisioning %s: %s", task.Key, outcome),
				At:      time.Now(),
			})
		}
		res.Provisions = append(res.Provisions, record)
	}
}

// markBlocked resolves every unit still Pending after the batch loop. The
// walk follows topological order so a blocked unit can name a blocked
// dependency that was itself resolved moments earlier.
func (e *Engine) markBlocked(ctx context.Context, report *RunReport, graph *Graph) {
	for _, level := range graph.Batches() {
		for _, name := range level {
			res := report.Units[name]
			if res.State.IsTerminal() {
				continue
			}

			var blockers []string
			for _, dep := range graph.Dependencies(name) {
				if depRes := report.Units[dep]; depRes.State != UnitHealthy {
					blockers = append(blockers, fmt.Sprintf("%s is %s", dep, depRes.State))
				}
			}
			message := "never started: " + strings.Join(blockers, ", ")
			if len(blockers) == 0 {
				message = "never started: run ended before the unit's batch"
			}

			e.finishUnit(ctx, report.RunID, res, UnitBlocked,
				NewDependencyBlockedError(message, nil).
					WithUnit(name).
					WithCode(ErrCodeDependencyFailed))
		}
	}
}

// finishUnit records a terminal state and publishes the matching event.
func (e *Engine) finishUnit(ctx context.Context, runID string, res *UnitResult, state UnitState, cause *EngineError) {
	res.State = state
	res.Err = cause
	res.CompletedAt = time.Now()

	var (
		evType  EventType
		message string
	)
	switch state {
	case UnitHealthy:
		evType = EventUnitHealthy
		message = fmt.Sprintf("healthy after %d attempts", res.Attempts)
	case UnitUnhealthy:
		evType = EventUnitUnhealthy
		message = cause.Message
	case UnitFailed:
		evType = EventUnitFailed
		message = cause.Message
	case UnitBlocked:
		evType = EventUnitBlocked
		message = cause.Message
	default:
		return
	}
	e.publish(ctx, Event{
		RunID:   runID,
		Unit:    res.Name,
		Type:    evType,
		Message: message,
		At:      time.Now(),
	})
}

// summarize fills the report's counts, duration, and verdict.
func (e *Engine) summarize(report *RunReport, cancelled bool) {
	for _, res := range report.Units {
		switch res.State {
		case UnitHealthy:
			report.Healthy++
		case UnitUnhealthy:
			report.Unhealthy++
		case UnitFailed:
			report.Failed++
		case UnitBlocked:
			report.Blocked++
		}
		for _, p := range res.Provisions {
			if p.Outcome == ProvisionFailed {
				report.ProvisionFailures++
			}
		}
	}

	report.CompletedAt = time.Now()
	report.Duration = report.CompletedAt.Sub(report.StartedAt)

	switch {
	case report.Healthy == len(report.Units):
		report.Verdict = VerdictConverged
	case cancelled:
		report.Verdict = VerdictCancelled
	default:
		report.Verdict = VerdictDegraded
	}
}

// Down stops the declared units in reverse dependency order, dependents
// before dependencies. Only resources owned by this orchestrator are
// touched; foreign and quarantined resources are reported and left alone.
func (e *Engine) Down(ctx context.Context, units []UnitSpec, opts DownOptions) (*TeardownReport, error) {
	graph, err := BuildGraph(units)
	if err != nil {
		return nil, err
	}
	maxParallel := opts.MaxParallel
	if maxParallel <= 0 {
		maxParallel = defaultMaxParallel
	}

	report := &TeardownReport{
		Units:     make(map[string]*TeardownResult, len(units)),
		StartedAt: time.Now(),
	}
	for _, unit := range units {
		report.Units[unit.Name] = &TeardownResult{Name: unit.Name}
	}

	for _, batch := range graph.ReverseBatches() {
		workerCount := maxParallel
		if len(batch) < workerCount {
			workerCount = len(batch)
		}

		queue := make(chan string, len(batch))
		for _, name := range batch {
			queue <- name
		}
		close(queue)

		var wg sync.WaitGroup
		for i := 0; i < workerCount; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for name := range queue {
					select {
					case <-ctx.Done():
						return
					default:
					}

					e.teardownUnit(ctx, report.Units[name], opts)
				}
			}()
		}
		wg.Wait()

		if ctx.Err() != nil {
			break
		}
	}

	for _, res := range report.Units {
		if res.Action == "" {
			res.Action = TeardownFailed
			res.Err = NewBackendStartError("teardown cancelled before unit", ctx.Err()).
				WithUnit(res.Name).
				WithOperation("stop")
		}
		if res.Action == TeardownFailed {
			report.Failed++
		}
	}
	report.CompletedAt = time.Now()
	return report, nil
}

// teardownUnit stops (and optionally removes) one owned unit.
func (e *Engine) teardownUnit(ctx context.Context, res *TeardownResult, opts DownOptions) {
	obs, err := e.backend.Inspect(ctx, res.Name)
	if err != nil {
		res.Action = TeardownFailed
		res.Err = NewBackendStartError("cannot inspect unit", err).
			WithUnit(res.Name).
			WithOperation("inspect")
		return
	}
	if obs.State == ObservedAbsent {
		res.Action = TeardownAbsent
		return
	}

	owned, err := e.backend.Owned(ctx, res.Name)
	if err != nil {
		res.Action = TeardownFailed
		res.Err = NewBackendStartError("cannot determine ownership", err).
			WithUnit(res.Name).
			WithOperation("owned")
		return
	}
	if !owned {
		res.Action = TeardownSkippedForeign
		return
	}

	if obs.State.IsActive() {
		if err := e.backend.Stop(ctx, res.Name); err != nil {
			res.Action = TeardownFailed
			res.Err = NewBackendStartError("stop failed", err).
				WithUnit(res.Name).
				WithOperation("stop")
			return
		}
	}
	res.Action = TeardownStopped

	if opts.Remove {
		if err := e.backend.Remove(ctx, res.Name); err != nil {
			res.Action = TeardownFailed
			res.Err = NewBackendStartError("remove failed", err).
				WithUnit(res.Name).
				WithOperation("remove")
			return
		}
		res.Action = TeardownRemoved
	}
}

// publish forwards an event to the sink when one is configured.
func (e *Engine) publish(ctx context.Context, ev Event) {
	if e.sink == nil {
		return
	}
	e.sink.Publish(ctx, ev)
}

// asEngineError coerces any error into the engine's classified form.
func asEngineError(err error) *EngineError {
	if err == nil {
		return nil
	}
	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		return engineErr
	}
	return NewBackendStartError("unclassified failure", err)
}
