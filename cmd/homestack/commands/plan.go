package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/homestack/homestack/pkg/config"
	"github.com/homestack/homestack/pkg/engine"
)

func newPlanCommand() *cobra.Command {
	var (
		dot             bool
		policyDirs      []string
		disablePolicies []string
	)

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show the bring-up order without touching anything",
		Long: `Resolve the dependency graph and print the batches a run would
start, together with each unit's backend, provisioning tasks, and DNS
records. Nothing is started.

Policies are evaluated the same way "up" evaluates them, so a plan
that prints blocking violations is a run that would be denied.`,
		Example: `  # Show the plan
  homestack plan

  # Render the dependency graph for graphviz
  homestack plan --dot | dot -Tsvg > stack.svg`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			m, err := loadManifest(ctx)
			if err != nil {
				return err
			}

			specs, err := m.UnitSpecs()
			if err != nil {
				return err
			}
			graph, err := engine.BuildGraph(specs)
			if err != nil {
				return err
			}

			if dot {
				fmt.Fprint(os.Stdout, graph.ToDOT())
				return nil
			}

			result, err := evaluatePolicies(ctx, m, policyDirs, disablePolicies)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(planDocument(m, graph, result))
			}

			printPlan(m, graph)
			printPolicyResult(result)
			if !result.Allowed {
				return fmt.Errorf("policy would deny the run: %d blocking violation(s)", len(result.Blocking()))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dot, "dot", false, "print the dependency graph in DOT format")
	cmd.Flags().StringSliceVar(&policyDirs, "policy-dir", nil, "additional policy files or directories")
	cmd.Flags().StringSliceVar(&disablePolicies, "disable-policy", nil, "policies to skip by name")

	return cmd
}

// planUnit is one unit row in the JSON plan.
type planUnit struct {
	Name      string   `json:"name"`
	Backend   string   `json:"backend"`
	Host      string   `json:"host,omitempty"`
	DependsOn []string `json:"depends_on,omitempty"`
	Provision []string `json:"provision,omitempty"`
	DNS       []string `json:"dns,omitempty"`
}

// planDocument shapes the plan for --json output.
func planDocument(m *config.Manifest, graph *engine.Graph, result interface{}) map[string]interface{} {
	batches := graph.Batches()
	out := make([][]planUnit, 0, len(batches))
	for _, batch := range batches {
		row := make([]planUnit, 0, len(batch))
		for _, name := range batch {
			row = append(row, planUnitFor(m, name))
		}
		out = append(out, row)
	}
	return map[string]interface{}{
		"stack":   m.Stack.Name,
		"batches": out,
		"policy":  result,
	}
}

func planUnitFor(m *config.Manifest, name string) planUnit {
	pu := planUnit{Name: name, Backend: config.BackendDocker}
	unit := m.Unit(name)
	if unit == nil {
		return pu
	}
	if unit.Backend != "" {
		pu.Backend = unit.Backend
	}
	pu.Host = unit.Host
	pu.DependsOn = unit.DependsOn
	for _, p := range unit.Provision {
		pu.Provision = append(pu.Provision, p.Key)
	}
	for _, r := range unit.DNS {
		pu.DNS = append(pu.DNS, fmt.Sprintf("%s %s -> %s", r.Type, r.Name, r.Value))
	}
	return pu
}

// printPlan writes the batch-by-batch bring-up order.
func printPlan(m *config.Manifest, graph *engine.Graph) {
	fmt.Printf("Stack %s: %d unit(s) in %d batch(es)\n", m.Stack.Name, graph.Len(), graph.Depth())
	for i, batch := range graph.Batches() {
		fmt.Printf("\nBatch %d:\n", i+1)
		for _, name := range batch {
			pu := planUnitFor(m, name)
			line := "  " + name + " (" + pu.Backend
			if pu.Host != "" {
				line += "@" + pu.Host
			}
			line += ")"
			if len(pu.Provision) > 0 {
				line += fmt.Sprintf("  provision: %d task(s)", len(pu.Provision))
			}
			if len(pu.DNS) > 0 {
				line += fmt.Sprintf("  dns: %d record(s)", len(pu.DNS))
			}
			fmt.Println(line)
		}
	}
	fmt.Println()
}
