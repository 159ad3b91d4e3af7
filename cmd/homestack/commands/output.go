package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/homestack/homestack/pkg/engine"
	"github.com/homestack/homestack/pkg/policy"
)

// printJSON writes v as indented JSON on stdout.
func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable() *tabwriter.Writer {
	return tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
}

// printPolicyResult lists violations and evaluation warnings. Built-in
// violation messages already name the offending unit.
func printPolicyResult(result *policy.Result) {
	for _, v := range result.Violations {
		marker := "!"
		if v.Severity.Blocking() {
			marker = "✗"
		}
		fmt.Printf("%s [%s] %s: %s\n", marker, v.Severity, v.Policy, v.Message)
	}
	for _, w := range result.Warnings {
		fmt.Printf("! policy skipped: %s\n", w)
	}
}

// printRunReport renders the per-unit outcomes and the verdict line.
func printRunReport(report *engine.RunReport) {
	names := make([]string, 0, len(report.Units))
	for name := range report.Units {
		names = append(names, name)
	}
	sort.Strings(names)

	w := newTable()
	fmt.Fprintln(w, "UNIT\tSTATE\tATTEMPTS\tELAPSED\tCAUSE")
	for _, name := range names {
		res := report.Units[name]
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
			name, res.State, res.Attempts, unitElapsed(res), unitCause(res))
	}
	w.Flush()

	for _, q := range report.Quarantines {
		fmt.Printf("! quarantined: %s was occupied by a foreign resource, now named %s\n", q.Unit, q.QuarantinedAs)
	}
	if report.ProvisionFailures > 0 {
		fmt.Printf("! %d provisioning task(s) failed; unit states are unaffected\n", report.ProvisionFailures)
	}

	total := len(report.Units)
	elapsed := report.Duration.Round(time.Millisecond)
	switch report.Verdict {
	case engine.VerdictConverged:
		fmt.Printf("✓ converged: %d/%d units healthy in %s\n", report.Healthy, total, elapsed)
	case engine.VerdictCancelled:
		fmt.Printf("✗ cancelled after %s: %d/%d units healthy\n", elapsed, report.Healthy, total)
	default:
		fmt.Printf("✗ degraded after %s: %d healthy, %d unhealthy, %d failed, %d blocked\n",
			elapsed, report.Healthy, report.Unhealthy, report.Failed, report.Blocked)
	}
}

func unitElapsed(res *engine.UnitResult) string {
	if res.StartedAt.IsZero() || res.CompletedAt.IsZero() {
		return "-"
	}
	return res.CompletedAt.Sub(res.StartedAt).Round(time.Millisecond).String()
}

func unitCause(res *engine.UnitResult) string {
	if res.Err == nil {
		return ""
	}
	return fmt.Sprintf("[%s] %s", res.Err.Kind, res.Err.Message)
}

// printTeardownReport renders what Down did with each unit.
func printTeardownReport(report *engine.TeardownReport) {
	names := make([]string, 0, len(report.Units))
	for name := range report.Units {
		names = append(names, name)
	}
	sort.Strings(names)

	w := newTable()
	fmt.Fprintln(w, "UNIT\tACTION\tCAUSE")
	for _, name := range names {
		res := report.Units[name]
		cause := ""
		if res.Err != nil {
			cause = fmt.Sprintf("[%s] %s", res.Err.Kind, res.Err.Message)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", name, res.Action, cause)
	}
	w.Flush()

	elapsed := report.CompletedAt.Sub(report.StartedAt).Round(time.Millisecond)
	if report.Failed > 0 {
		fmt.Printf("✗ teardown finished in %s with %d failure(s)\n", elapsed, report.Failed)
	} else {
		fmt.Printf("✓ teardown finished in %s\n", elapsed)
	}
}
