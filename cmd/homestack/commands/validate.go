package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/homestack/homestack/pkg/engine"
)

func newValidateCommand() *cobra.Command {
	var (
		policyDirs      []string
		disablePolicies []string
	)

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the stack manifest",
		Long: `Parse the manifest, check it against the schema, resolve the
dependency graph, and evaluate policies. Exits nonzero when the
manifest fails to load or a blocking policy violation is found.`,
		Example: `  # Validate homestack.yaml in the current directory
  homestack validate

  # Validate with the team's policy bundle
  homestack validate --policy-dir ./policies`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			m, err := loadManifest(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("✓ Manifest parsed: %s\n", m.Path)

			specs, err := m.UnitSpecs()
			if err != nil {
				return err
			}
			graph, err := engine.BuildGraph(specs)
			if err != nil {
				return err
			}
			fmt.Printf("✓ Dependency graph resolved: %d unit(s) in %d batch(es)\n", graph.Len(), graph.Depth())

			if hosts := m.ReferencedHosts(); len(hosts) > 0 {
				fmt.Printf("✓ Host backend units reference %d host(s)\n", len(hosts))
			}
			if records := m.DNSRecords(); len(records) > 0 {
				total := 0
				for _, rs := range records {
					total += len(rs)
				}
				fmt.Printf("✓ %d DNS record(s) across %d unit(s)\n", total, len(records))
			}

			result, err := evaluatePolicies(ctx, m, policyDirs, disablePolicies)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(result)
			}

			printPolicyResult(result)
			if !result.Allowed {
				return fmt.Errorf("%d blocking policy violation(s)", len(result.Blocking()))
			}
			fmt.Printf("✓ %d policies evaluated, stack %s is valid\n", result.EvaluatedPolicies, m.Stack.Name)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&policyDirs, "policy-dir", nil, "additional policy files or directories")
	cmd.Flags().StringSliceVar(&disablePolicies, "disable-policy", nil, "policies to skip by name")

	return cmd
}
