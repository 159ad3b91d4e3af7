package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/homestack/homestack/pkg/stores"
)

func newHistoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect recorded runs",
		Long: `Browse the run history database: list recent runs or show one run's
per-unit outcomes, quarantines, provisioning tasks, and events.`,
	}

	cmd.AddCommand(newHistoryListCommand())
	cmd.AddCommand(newHistoryShowCommand())
	cmd.AddCommand(newHistoryPruneCommand())

	return cmd
}

// openHistoryStore resolves the store path from the manifest when it
// loads, otherwise from the default location, so history works from
// directories without a manifest.
func openHistoryStore(ctx context.Context) (*stores.SQLiteStore, error) {
	m, err := loadManifest(ctx)
	if err == nil {
		return historyStore(ctx, m)
	}
	log.Debug().Err(err).Msg("Manifest unavailable, using default history path")
	return openStoreAt(ctx, stores.DefaultPath())
}

func newHistoryListCommand() *cobra.Command {
	var (
		limit  int
		offset int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent runs, newest first",
		Example: `  # The last twenty runs
  homestack history list

  # Page through older runs
  homestack history list --limit 50 --offset 50`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			store, err := openHistoryStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.ListRuns(ctx, limit, offset)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(runs)
			}

			if len(runs) == 0 {
				fmt.Println("No recorded runs.")
				return nil
			}

			w := newTable()
			fmt.Fprintln(w, "RUN\tSTACK\tVERDICT\tSTARTED\tDURATION\tUNITS")
			for _, run := range runs {
				total := run.Healthy + run.Unhealthy + run.Failed + run.Blocked
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d/%d healthy\n",
					run.ID,
					run.Stack,
					run.Verdict,
					run.StartedAt.Local().Format("2006-01-02 15:04:05"),
					run.Duration.Round(time.Millisecond),
					run.Healthy,
					total,
				)
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "max runs to list")
	cmd.Flags().IntVar(&offset, "offset", 0, "runs to skip from the newest")

	return cmd
}

func newHistoryShowCommand() *cobra.Command {
	var withEvents bool

	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one run's recorded detail",
		Args:  cobra.ExactArgs(1),
		Example: `  # Everything recorded for a run
  homestack history show 4f9c1e2a-... --events`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			runID := args[0]

			store, err := openHistoryStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			run, err := store.GetRun(ctx, runID)
			if err != nil {
				return err
			}
			units, err := store.ListUnitResults(ctx, runID)
			if err != nil {
				return err
			}
			quarantines, err := store.ListQuarantines(ctx, runID)
			if err != nil {
				return err
			}
			provisions, err := store.ListProvisions(ctx, runID)
			if err != nil {
				return err
			}

			if jsonOutput {
				doc := map[string]interface{}{
					"run":         run,
					"units":       units,
					"quarantines": quarantines,
					"provisions":  provisions,
				}
				if withEvents {
					events, err := store.ListEvents(ctx, runID, eventPageSize, 0)
					if err != nil {
						return err
					}
					doc["events"] = events
				}
				return printJSON(doc)
			}

			fmt.Printf("Run %s  stack=%s  verdict=%s\n", run.ID, run.Stack, run.Verdict)
			fmt.Printf("Started %s, took %s\n\n",
				run.StartedAt.Local().Format("2006-01-02 15:04:05"),
				run.Duration.Round(time.Millisecond),
			)

			w := newTable()
			fmt.Fprintln(w, "UNIT\tSTATE\tATTEMPTS\tCAUSE")
			for _, u := range units {
				cause := u.Cause
				if cause == "" {
					cause = "-"
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", u.Unit, u.State, u.Attempts, cause)
			}
			w.Flush()

			for _, q := range quarantines {
				fmt.Printf("! quarantined: %s -> %s (was active: %t)\n", q.Unit, q.QuarantinedAs, q.WasActive)
			}
			if len(provisions) > 0 {
				fmt.Println()
				w = newTable()
				fmt.Fprintln(w, "UNIT\tTASK\tOUTCOME\tDURATION\tERROR")
				for _, p := range provisions {
					errText := p.Error
					if errText == "" {
						errText = "-"
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
						p.Unit, p.Key, p.Outcome, p.Duration.Round(time.Millisecond), errText)
				}
				w.Flush()
			}

			if withEvents {
				events, err := store.ListEvents(ctx, runID, eventPageSize, 0)
				if err != nil {
					return err
				}
				if len(events) > 0 {
					fmt.Println()
					for _, ev := range events {
						unit := ev.Unit
						if unit == "" {
							unit = "run"
						}
						fmt.Printf("%s  %-12s %s  %s\n",
							ev.At.Local().Format("15:04:05.000"), ev.Type, unit, ev.Message)
					}
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&withEvents, "events", false, "include the run's event timeline")

	return cmd
}

// eventPageSize bounds how many events show prints for one run.
const eventPageSize = 500

func newHistoryPruneCommand() *cobra.Command {
	var keep int

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete all but the most recent runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			store, err := openHistoryStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			deleted, err := store.PruneRuns(ctx, keep)
			if err != nil {
				return err
			}
			fmt.Printf("✓ Pruned %d run(s), kept the newest %d\n", deleted, keep)
			return nil
		},
	}

	cmd.Flags().IntVar(&keep, "keep", 50, "runs to retain")

	return cmd
}
