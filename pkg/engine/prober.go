package engine

import (
	"context"
	"fmt"
	"math"
	"time"
)

// Prober polls a unit's observed state until it can hand down a terminal
// readiness verdict. Probing is read-only: the only backend call it makes
// is Inspect, so probes for independent units run concurrently without
// coordination.
type Prober struct {
	backend Backend
}

// NewProber creates a prober over the given backend.
func NewProber(backend Backend) *Prober {
	return &Prober{backend: backend}
}

// ProbeResult is the terminal outcome of one probe.
type ProbeResult struct {
	// Verdict is the prober's decision.
	Verdict ProbeVerdict

	// Attempts is the number of observations made.
	Attempts int

	// Last is the final observation, zero if every inspect call errored.
	Last Observation

	// Elapsed is the total probing time.
	Elapsed time.Duration

	// Err carries the cause for ProbeTimedOut and ProbeFailed verdicts.
	Err *EngineError
}

const (
	probeBackoffFactor = 1.5
	probeBackoffCap    = 5
)

// probeDelay grows the poll interval by probeBackoffFactor per attempt so
// long waits poll less often, capped at probeBackoffCap times the base.
func probeDelay(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := time.Duration(float64(base) * math.Pow(probeBackoffFactor, float64(attempt-1)))
	if capped := base * probeBackoffCap; delay > capped {
		delay = capped
	}
	return delay
}

// Probe polls the backend until the unit reaches a verdict:
//
//   - an observed healthy state returns ProbeHealthy immediately
//   - an observed failed state returns ProbeFailed immediately, without
//     waiting out the remaining budget
//   - policy.StableIterations consecutive running observations count as
//     healthy for units whose backend exposes no health signal
//   - exhausting MaxAttempts or MaxDuration (whichever the policy sets
//     trips first) returns ProbeTimedOut
//
// Cancellation is checked between polls; an expired caller context yields
// ProbeTimedOut with the context's cause.
func (p *Prober) Probe(ctx context.Context, name string, policy ReadinessPolicy) ProbeResult {
	policy = policy.WithDefaults()
	start := time.Now()

	parent := ctx
	if policy.MaxDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, policy.MaxDuration)
		defer cancel()
	}

	var (
		last       Observation
		lastErr    error
		attempts   int
		stableRuns int
	)

	for {
		obs, err := p.backend.Inspect(ctx, name)
		attempts++
		if err != nil {
			// An inspect hiccup consumes an attempt but is not a verdict;
			// the backend may answer on the next poll.
			lastErr = err
			stableRuns = 0
		} else {
			last = obs
			lastErr = nil
			switch obs.State {
			case ObservedHealthy:
				return ProbeResult{
					Verdict:  ProbeHealthy,
					Attempts: attempts,
					Last:     last,
					Elapsed:  time.Since(start),
				}
			case ObservedFailed:
				return ProbeResult{
					Verdict:  ProbeFailed,
					Attempts: attempts,
					Last:     last,
					Elapsed:  time.Since(start),
					Err: NewBackendCrashError(
						fmt.Sprintf("unit crashed: %s", crashDetail(obs)), nil).
						WithUnit(name).
						WithCode(ErrCodeUnitCrashed).
						WithDetail("attempts", attempts),
				}
			case ObservedRunning:
				stableRuns++
				if stableRuns >= policy.StableIterations {
					return ProbeResult{
						Verdict:  ProbeHealthy,
						Attempts: attempts,
						Last:     last,
						Elapsed:  time.Since(start),
					}
				}
			default:
				stableRuns = 0
			}
		}

		if policy.MaxAttempts > 0 && attempts >= policy.MaxAttempts {
			return p.timedOut(name, attempts, last, lastErr, start,
				fmt.Sprintf("not healthy after %d attempts", attempts), ErrCodeProbeTimeout)
		}

		select {
		case <-ctx.Done():
			if parent.Err() != nil {
				return p.timedOut(name, attempts, last, parent.Err(), start,
					"run cancelled while probing", ErrCodeRunDeadline)
			}
			return p.timedOut(name, attempts, last, lastErr, start,
				fmt.Sprintf("not healthy within %s", policy.MaxDuration), ErrCodeProbeTimeout)
		case <-time.After(probeDelay(policy.Interval, attempts)):
		}
	}
}

func (p *Prober) timedOut(
	name string,
	attempts int,
	last Observation,
	cause error,
	start time.Time,
	message, code string,
) ProbeResult {
	err := NewReadinessTimeoutError(message, cause).
		WithUnit(name).
		WithCode(code).
		WithDetail("attempts", attempts)
	if last.State != "" {
		err = err.WithDetail("last_observed", string(last.State))
	}
	return ProbeResult{
		Verdict:  ProbeTimedOut,
		Attempts: attempts,
		Last:     last,
		Elapsed:  time.Since(start),
		Err:      err,
	}
}

func crashDetail(obs Observation) string {
	if obs.Detail != "" {
		return obs.Detail
	}
	return string(obs.State)
}
