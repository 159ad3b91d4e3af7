// Package engine implements the homestack orchestration core: an idempotent,
// dependency-ordered bring-up engine for a declared set of service units.
//
// # Overview
//
// A caller hands the engine a set of UnitSpecs (name, opaque start descriptor,
// dependencies, readiness policy, provisioning tasks) and the engine brings the
// stack to a healthy state through five collaborating pieces:
//
//  1. Graph - validates the declaration and computes topological batches
//  2. ConflictResolver - quarantines foreign same-named resources before start
//  3. Backend (interface) - ensures units are running, inspects their state
//  4. Prober - polls observed state until a terminal readiness verdict
//  5. Gate - executes first-run provisioning tasks at most once per key
//
// # Execution model
//
// Units within one batch start and probe concurrently; batches execute
// strictly in dependency order. A unit whose dependency never becomes healthy
// is reported Blocked and is never started. Failures are contained per unit:
// siblings in the same batch proceed, independent later batches proceed, and
// the caller receives a RunReport mapping every unit to a terminal status
// with a cause.
//
// # State machine
//
// Per unit: Pending -> Starting -> Probing -> {Healthy | Unhealthy | Failed},
// with Blocked as the terminal state for units whose dependencies did not
// reach Healthy. Unhealthy (readiness timed out, may converge later) is
// deliberately distinct from Failed (backend crash or start error).
//
// # Error classification
//
// Errors carry an ErrorKind so callers can distinguish configuration
// problems (which abort a run before any side effect) from per-unit
// failures (which are contained and reported):
//
//	report, err := eng.Run(ctx, units, engine.Options{})
//	if engine.IsConfiguration(err) {
//	    // bad declaration, nothing was touched
//	}
//
// # Thread safety
//
// An Engine value is safe for sequential reuse; a single Run owns its
// per-unit state exclusively and partitions it by unit name, so concurrent
// batch members never contend on the same entry. The returned RunReport is
// immutable after Run returns.
package engine
