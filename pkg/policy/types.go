package policy

import (
	"time"
)

// Severity ranks how a violation affects the run.
type Severity string

const (
	// SeverityInfo is for informational findings.
	SeverityInfo Severity = "info"

	// SeverityWarning is for findings worth reviewing that do not block.
	SeverityWarning Severity = "warning"

	// SeverityError is for violations that block the run.
	SeverityError Severity = "error"

	// SeverityCritical is for violations that block the run and need
	// immediate attention.
	SeverityCritical Severity = "critical"
)

// Blocking reports whether violations at this severity abort a run.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy is one named rule set over a manifest.
type Policy struct {
	// Name uniquely identifies the policy. File-loaded policies take
	// their file name.
	Name string `json:"name"`

	// Description is a human-readable summary.
	Description string `json:"description"`

	// Rego is the policy source. Its deny set is queried during
	// evaluation.
	Rego string `json:"rego"`

	// Severity is the default severity for the policy's violations.
	Severity Severity `json:"severity"`

	// Enabled gates evaluation.
	Enabled bool `json:"enabled"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty"`

	// Source is the file the policy came from. Empty for built-ins.
	Source string `json:"source,omitempty"`

	// LoadedAt is when the policy was loaded or registered.
	LoadedAt time.Time `json:"loaded_at"`
}

// Violation is a single rule hit against one unit or the stack.
type Violation struct {
	// Policy names the policy that produced the violation.
	Policy string `json:"policy"`

	// Unit is the offending unit, when the rule targets one.
	Unit string `json:"unit,omitempty"`

	// Message explains the violation.
	Message string `json:"message"`

	// Severity is the violation's effective severity.
	Severity Severity `json:"severity"`
}

// Result is the outcome of evaluating every enabled policy against a
// manifest.
type Result struct {
	// Allowed is false when any violation carries a blocking severity.
	Allowed bool `json:"allowed"`

	// Violations lists every rule hit, blocking or not.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists policies that failed to evaluate. A policy that
	// cannot run never blocks.
	Warnings []string `json:"warnings,omitempty"`

	// EvaluatedPolicies names the policies that ran.
	EvaluatedPolicies []string `json:"evaluated_policies"`

	// EvaluatedAt is when evaluation started.
	EvaluatedAt time.Time `json:"evaluated_at"`

	// Duration is how long evaluation took.
	Duration time.Duration `json:"duration"`
}

// Blocking returns the violations that force the run to abort.
func (r *Result) Blocking() []Violation {
	var out []Violation
	for i := range r.Violations {
		if r.Violations[i].Severity.Blocking() {
			out = append(out, r.Violations[i])
		}
	}
	return out
}
