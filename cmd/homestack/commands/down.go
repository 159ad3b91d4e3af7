package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/homestack/homestack/pkg/engine"
)

func newDownCommand() *cobra.Command {
	var (
		remove      bool
		maxParallel int
	)

	cmd := &cobra.Command{
		Use:   "down",
		Short: "Stop the stack in reverse dependency order",
		Long: `Stop every declared unit, dependents before dependencies.

Only resources carrying the ownership label are touched; anything else
with a matching name is reported as skipped. Units that are already
absent are reported as such, not as errors.`,
		Example: `  # Stop the stack, keeping stopped containers around
  homestack down

  # Stop and remove containers and host unit definitions
  homestack down --remove`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			m, err := loadManifest(ctx)
			if err != nil {
				return err
			}

			tel, err := newTelemetry(m.Stack.Environment, false)
			if err != nil {
				return err
			}
			defer shutdownTelemetry(tel)

			router, closeBackends, err := buildRouter(ctx, m)
			if err != nil {
				return err
			}
			defer closeBackends()

			specs, err := m.UnitSpecs()
			if err != nil {
				return err
			}

			eng := engine.New(router, nil, tel.EngineSink())
			report, err := eng.Down(ctx, specs, engine.DownOptions{
				MaxParallel: maxParallel,
				Remove:      remove,
			})
			if err != nil {
				return err
			}

			if jsonOutput {
				if err := printJSON(report); err != nil {
					return err
				}
			} else {
				printTeardownReport(report)
			}

			if report.Failed > 0 {
				return fmt.Errorf("teardown finished with %d failure(s)", report.Failed)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&remove, "remove", false, "remove containers and unit definitions after stopping")
	cmd.Flags().IntVar(&maxParallel, "max-parallel", 0, "max units stopped concurrently (0 means default)")

	return cmd
}
