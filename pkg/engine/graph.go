package engine

import (
	"fmt"
	"sort"
	"strings"
)

// Graph is the dependency graph over one run's declared units. BuildGraph
// validates the declaration and precomputes topological batches; after
// construction the graph is immutable except for the bookkeeping NextBatch
// keeps about which units it has handed out.
//
// Graph methods are not safe for concurrent use. The engine calls NextBatch
// only between batches, from a single goroutine.
type Graph struct {
	// units indexes the declared specs by name.
	units map[string]UnitSpec

	// order preserves declaration order so batch contents are stable.
	order []string

	// dependencies maps a unit to the units it depends on.
	dependencies map[string][]string

	// dependents maps a unit to the units that depend on it.
	dependents map[string][]string

	// batches are the topological levels from Kahn's algorithm, kept for
	// plan display and teardown ordering.
	batches [][]string

	// handedOut tracks units already returned by NextBatch.
	handedOut map[string]bool
}

// BuildGraph validates the declared units and constructs their dependency
// graph. It fails fast, before any side effect, on empty or duplicate
// names, dependencies that do not resolve to a declared unit, invalid
// readiness policies, and dependency cycles. Cycle errors name the specific
// cycle path so the declaration can be fixed without guesswork.
func BuildGraph(units []UnitSpec) (*Graph, error) {
	g := &Graph{
		units:        make(map[string]UnitSpec, len(units)),
		order:        make([]string, 0, len(units)),
		dependencies: make(map[string][]string, len(units)),
		dependents:   make(map[string][]string, len(units)),
		handedOut:    make(map[string]bool, len(units)),
	}

	for _, unit := range units {
		if unit.Name == "" {
			return nil, NewConfigurationError("unit has empty name", nil).
				WithCode(ErrCodeEmptyName)
		}
		if _, exists := g.units[unit.Name]; exists {
			return nil, NewConfigurationError(
				fmt.Sprintf("duplicate unit name: %s", unit.Name), nil).
				WithCode(ErrCodeDuplicateUnit).
				WithUnit(unit.Name)
		}
		if err := unit.Readiness.Validate(); err != nil {
			return nil, NewConfigurationError("invalid readiness policy", err).
				WithCode(ErrCodeInvalidPolicy).
				WithUnit(unit.Name)
		}
		g.units[unit.Name] = unit
		g.order = append(g.order, unit.Name)
	}

	for _, name := range g.order {
		for _, dep := range g.units[name].DependsOn {
			if _, exists := g.units[dep]; !exists {
				return nil, NewConfigurationError(
					fmt.Sprintf("unknown dependency %q", dep), nil).
					WithCode(ErrCodeUnknownDependency).
					WithUnit(name).
					WithDetail("dependency", dep)
			}
			g.dependencies[name] = append(g.dependencies[name], dep)
			g.dependents[dep] = append(g.dependents[dep], name)
		}
	}

	if err := g.detectCycles(); err != nil {
		return nil, err
	}
	g.computeBatches()

	return g, nil
}

// detectCycles runs a DFS over the dependency edges and reports the first
// cycle found with its full path.
func (g *Graph) detectCycles() error {
	visited := make(map[string]bool, len(g.units))
	inStack := make(map[string]bool, len(g.units))
	var path []string

	var visit func(name string) error
	visit = func(name string) error {
		visited[name] = true
		inStack[name] = true
		path = append(path, name)

		for _, dep := range g.dependencies[name] {
			if inStack[dep] {
				return NewConfigurationError(
					fmt.Sprintf("dependency cycle: %s", formatCycle(path, dep)), nil).
					WithCode(ErrCodeCycle).
					WithUnit(dep)
			}
			if !visited[dep] {
				if err := visit(dep); err != nil {
					return err
				}
			}
		}

		inStack[name] = false
		path = path[:len(path)-1]
		return nil
	}

	for _, name := range g.order {
		if !visited[name] {
			if err := visit(name); err != nil {
				return err
			}
		}
	}
	return nil
}

// formatCycle renders the cycle portion of a DFS path, closing the loop on
// the repeated node: "a -> b -> c -> a".
func formatCycle(path []string, repeat string) string {
	start := 0
	for i, name := range path {
		if name == repeat {
			start = i
			break
		}
	}
	return strings.Join(append(append([]string{}, path[start:]...), repeat), " -> ")
}

// computeBatches derives the topological levels by repeatedly extracting
// zero-in-degree units (Kahn's algorithm). Each batch is sorted so plan
// output is stable.
func (g *Graph) computeBatches() {
	inDegree := make(map[string]int, len(g.units))
	for _, name := range g.order {
		inDegree[name] = len(g.dependencies[name])
	}

	remaining := len(g.units)
	for remaining > 0 {
		var batch []string
		for _, name := range g.order {
			if deg, ok := inDegree[name]; ok && deg == 0 {
				batch = append(batch, name)
			}
		}
		if len(batch) == 0 {
			break
		}
		sort.Strings(batch)
		for _, name := range batch {
			delete(inDegree, name)
			for _, dependent := range g.dependents[name] {
				if _, ok := inDegree[dependent]; ok {
					inDegree[dependent]--
				}
			}
		}
		g.batches = append(g.batches, batch)
		remaining -= len(batch)
	}
}

// NextBatch returns every unit whose dependencies are all in the completed
// set and which has not been handed out before. An empty result with
// Remaining() non-empty means the leftover units can never start this run.
func (g *Graph) NextBatch(completed map[string]bool) []string {
	var batch []string
	for _, name := range g.order {
		if g.handedOut[name] {
			continue
		}
		eligible := true
		for _, dep := range g.dependencies[name] {
			if !completed[dep] {
				eligible = false
				break
			}
		}
		if eligible {
			batch = append(batch, name)
		}
	}
	sort.Strings(batch)
	for _, name := range batch {
		g.handedOut[name] = true
	}
	return batch
}

// Remaining returns the units NextBatch has not handed out, in declaration
// order.
func (g *Graph) Remaining() []string {
	var names []string
	for _, name := range g.order {
		if !g.handedOut[name] {
			names = append(names, name)
		}
	}
	return names
}

// Unit returns the declared spec for a name.
func (g *Graph) Unit(name string) (UnitSpec, bool) {
	u, ok := g.units[name]
	return u, ok
}

// Dependencies returns a copy of the unit's direct dependencies.
func (g *Graph) Dependencies(name string) []string {
	return append([]string(nil), g.dependencies[name]...)
}

// Dependents returns a copy of the units that directly depend on the name.
func (g *Graph) Dependents(name string) []string {
	return append([]string(nil), g.dependents[name]...)
}

// Batches returns a copy of the topological levels.
func (g *Graph) Batches() [][]string {
	out := make([][]string, len(g.batches))
	for i, batch := range g.batches {
		out[i] = append([]string(nil), batch...)
	}
	return out
}

// ReverseBatches returns the topological levels in reverse order, the order
// teardown walks so dependents stop before their dependencies.
func (g *Graph) ReverseBatches() [][]string {
	out := make([][]string, len(g.batches))
	for i, batch := range g.batches {
		out[len(g.batches)-1-i] = append([]string(nil), batch...)
	}
	return out
}

// Depth returns the number of topological levels.
func (g *Graph) Depth() int {
	return len(g.batches)
}

// Len returns the number of declared units.
func (g *Graph) Len() int {
	return len(g.units)
}

// ToDOT renders the graph in Graphviz DOT format for visualization.
func (g *Graph) ToDOT() string {
	var sb strings.Builder
	sb.WriteString("digraph stack {\n")
	sb.WriteString("  rankdir=BT;\n")
	sb.WriteString("  node [shape=box];\n\n")

	for level, batch := range g.batches {
		for _, name := range batch {
			sb.WriteString(fmt.Sprintf("  %q [label=%q];\n",
				name, fmt.Sprintf("%s\nbatch %d", name, level)))
		}
	}
	sb.WriteString("\n")
	for _, name := range g.order {
		for _, dep := range g.dependencies[name] {
			sb.WriteString(fmt.Sprintf("  %q -> %q;\n", name, dep))
		}
	}
	sb.WriteString("}\n")
	return sb.String()
}
