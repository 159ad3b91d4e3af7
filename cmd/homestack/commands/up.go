package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/homestack/homestack/pkg/config"
	"github.com/homestack/homestack/pkg/edge"
	"github.com/homestack/homestack/pkg/engine"
	"github.com/homestack/homestack/pkg/stores"
	"github.com/homestack/homestack/pkg/telemetry"
)

func newUpCommand() *cobra.Command {
	var (
		deadline        time.Duration
		maxParallel     int
		only            []string
		skipProvision   bool
		noHistory       bool
		watch           bool
		metrics         bool
		policyDirs      []string
		disablePolicies []string
	)

	cmd := &cobra.Command{
		Use:   "up",
		Short: "Bring the stack up in dependency order",
		Long: `Bring every declared unit up in dependency order and report each
unit's terminal state.

The run:
  - Evaluates policies; a blocking violation stops the run before any
    side effect
  - Quarantines foreign resources occupying a unit's name (rename, never
    delete)
  - Starts units batch by batch, probing readiness before dependents
  - Runs first-time provisioning tasks for units that reached Healthy
  - Syncs DNS records for healthy units against the edge provider
  - Records the run in the history database

The exit code is 0 exactly when every unit reached Healthy.`,
		Example: `  # Bring the stack up
  homestack up

  # Bound the whole run to five minutes
  homestack up --deadline 5m

  # Keep the stack converged while editing the manifest
  homestack up --watch`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			m, err := loadManifest(ctx)
			if err != nil {
				return err
			}

			tel, err := newTelemetry(m.Stack.Environment, metrics)
			if err != nil {
				return err
			}
			defer shutdownTelemetry(tel)
			if metrics {
				if err := tel.StartMetricsServer(); err != nil {
					log.Warn().Err(err).Msg("Metrics endpoint unavailable")
				}
			}

			if err := policyGate(ctx, m, policyDirs, disablePolicies); err != nil {
				return err
			}

			runOnce := func(ctx context.Context, m *config.Manifest) (*engine.RunReport, error) {
				return executeRun(ctx, m, tel, runOptions{
					deadline:      deadline,
					maxParallel:   maxParallel,
					only:          only,
					skipProvision: skipProvision,
					noHistory:     noHistory,
				})
			}

			if watch {
				if _, err := runOnce(ctx, m); err != nil {
					log.Error().Err(err).Msg("Run failed")
				}
				return watchManifest(ctx, func(next *config.Manifest) {
					if err := policyGate(ctx, next, policyDirs, disablePolicies); err != nil {
						log.Error().Err(err).Msg("Policy denied the reload")
						return
					}
					if _, err := runOnce(ctx, next); err != nil {
						log.Error().Err(err).Msg("Run failed")
					}
				})
			}

			report, err := runOnce(ctx, m)
			if err != nil {
				return err
			}
			if !report.AllHealthy() {
				return fmt.Errorf("stack did not converge: verdict %s", report.Verdict)
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&deadline, "deadline", 0, "bound the whole run (0 means no deadline)")
	cmd.Flags().IntVar(&maxParallel, "max-parallel", 0, "max units brought up concurrently (0 means default)")
	cmd.Flags().StringSliceVar(&only, "only", nil, "restrict the run to these units and their dependencies")
	cmd.Flags().BoolVar(&skipProvision, "skip-provision", false, "skip provisioning tasks, recording them as skipped")
	cmd.Flags().BoolVar(&noHistory, "no-history", false, "do not record the run in the history database")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "rerun whenever the manifest changes")
	cmd.Flags().BoolVar(&metrics, "metrics", false, "serve prometheus metrics during the run")
	cmd.Flags().StringSliceVar(&policyDirs, "policy-dir", nil, "additional policy files or directories")
	cmd.Flags().StringSliceVar(&disablePolicies, "disable-policy", nil, "policies to skip by name")

	return cmd
}

// runOptions carries the up flags into executeRun.
type runOptions struct {
	deadline      time.Duration
	maxParallel   int
	only          []string
	skipProvision bool
	noHistory     bool
}

// executeRun wires backends, provisioners, and the history store for
// one pass, runs the engine, and persists and prints the outcome.
func executeRun(ctx context.Context, m *config.Manifest, tel *telemetry.Telemetry, opts runOptions) (*engine.RunReport, error) {
	router, closeBackends, err := buildRouter(ctx, m)
	if err != nil {
		return nil, err
	}
	defer closeBackends()

	registry, closeProvisioners, err := buildProvisioners(ctx, m)
	if err != nil {
		return nil, err
	}
	defer closeProvisioners()

	var store *stores.SQLiteStore
	if !opts.noHistory {
		store, err = historyStore(ctx, m)
		if err != nil {
			log.Warn().Err(err).Msg("Run history unavailable")
		} else {
			defer store.Close()
		}
	}

	sink := tel.EngineSink()
	eng := engine.New(router, registry, runSink(sink, store))

	specs, err := m.UnitSpecs()
	if err != nil {
		return nil, err
	}
	if len(opts.only) > 0 {
		specs, err = selectUnits(specs, opts.only)
		if err != nil {
			return nil, err
		}
	}

	report, err := eng.Run(ctx, specs, engine.Options{
		Deadline:      opts.deadline,
		MaxParallel:   opts.maxParallel,
		SkipProvision: opts.skipProvision,
	})
	if err != nil {
		return nil, err
	}

	sink.RecordReport(report)

	// Persist with a fresh context so an interrupted run still lands in
	// history.
	if store != nil {
		persistCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := store.RecordRun(persistCtx, m.Stack.Name, report); err != nil {
			log.Warn().Err(err).Msg("Failed to record run in history")
		} else if keep := m.Stack.History.Keep; keep > 0 {
			if _, err := store.PruneRuns(persistCtx, keep); err != nil {
				log.Warn().Err(err).Msg("Failed to prune run history")
			}
		}
	}

	if report.Verdict != engine.VerdictCancelled {
		syncHealthyDNS(ctx, m, report)
	}

	if jsonOutput {
		if err := printJSON(report); err != nil {
			return nil, err
		}
	} else {
		printRunReport(report)
	}
	return report, nil
}

// selectUnits narrows the run to the requested units plus their
// transitive dependencies, keeping the original declaration order.
func selectUnits(specs []engine.UnitSpec, only []string) ([]engine.UnitSpec, error) {
	byName := make(map[string]engine.UnitSpec, len(specs))
	for _, spec := range specs {
		byName[spec.Name] = spec
	}

	keep := make(map[string]bool)
	var visit func(name string) error
	visit = func(name string) error {
		if keep[name] {
			return nil
		}
		spec, ok := byName[name]
		if !ok {
			return fmt.Errorf("unknown unit %q in --only", name)
		}
		keep[name] = true
		for _, dep := range spec.DependsOn {
			if err := visit(dep); err != nil {
				return err
			}
		}
		return nil
	}
	for _, name := range only {
		if err := visit(name); err != nil {
			return nil, err
		}
	}

	selected := make([]engine.UnitSpec, 0, len(keep))
	for _, spec := range specs {
		if keep[spec.Name] {
			selected = append(selected, spec)
		}
	}
	return selected, nil
}

// syncHealthyDNS publishes the DNS records of units that reached
// Healthy. Failures are logged, never fatal: the stack is already up.
func syncHealthyDNS(ctx context.Context, m *config.Manifest, report *engine.RunReport) {
	if !m.Stack.Edge.Enabled() {
		return
	}

	var desired []config.DNSRecordConfig
	for i := range m.Units {
		unit := &m.Units[i]
		if len(unit.DNS) == 0 {
			continue
		}
		res, ok := report.Units[unit.Name]
		if !ok || res.State != engine.UnitHealthy {
			continue
		}
		desired = append(desired, unit.DNS...)
	}
	if len(desired) == 0 {
		return
	}

	if m.Stack.Edge.Zone == "" {
		log.Warn().Msg("DNS records declared but edge zone is not set")
		return
	}

	client := edge.NewClient(m.Stack.Edge.Endpoint, m.Stack.Edge.Token)
	result, err := client.Sync(ctx, m.Stack.Edge.Zone, edgeRecords(desired))
	if err != nil {
		log.Error().Err(err).Msg("DNS sync failed")
		return
	}
	log.Info().
		Int("created", len(result.Created)).
		Int("updated", len(result.Updated)).
		Int("unchanged", len(result.Unchanged)).
		Msg("DNS records synced")
}

// watchManifest reruns onChange for every manifest edit until the
// context ends.
func watchManifest(ctx context.Context, onChange func(*config.Manifest)) error {
	loader, err := config.NewLoader()
	if err != nil {
		return err
	}

	log.Info().Str("path", manifestPath).Msg("Watching manifest for changes")
	err = config.NewWatcher(loader, manifestPath).Watch(ctx, onChange)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// shutdownTelemetry flushes telemetry with a bounded grace period.
func shutdownTelemetry(tel *telemetry.Telemetry) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tel.Shutdown(ctx); err != nil {
		log.Debug().Err(err).Msg("Telemetry shutdown incomplete")
	}
}
