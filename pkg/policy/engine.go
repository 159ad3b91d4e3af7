package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/rego"
	"github.com/rs/zerolog/log"

	"github.com/homestack/homestack/pkg/config"
)

// Engine compiles policies once and evaluates manifests against them.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
}

// compiledPolicy pairs a policy with its prepared deny query so each
// evaluation skips recompilation.
type compiledPolicy struct {
	policy Policy
	query  rego.PreparedEvalQuery
}

// NewEngine returns an engine loaded with the built-in policies.
func NewEngine() (*Engine, error) {
	e := &Engine{
		policies: make(map[string]*compiledPolicy),
	}

	builtins := BuiltinPolicies()
	for i := range builtins {
		if err := e.register(context.Background(), builtins[i]); err != nil {
			return nil, fmt.Errorf("failed to compile built-in policy %s: %w", builtins[i].Name, err)
		}
	}

	return e, nil
}

// LoadPolicies compiles policies from the given file or directory paths
// and registers them alongside the built-ins. A policy that fails to
// compile aborts the load.
func (e *Engine) LoadPolicies(ctx context.Context, paths ...string) error {
	loader := NewLoader()

	policies, err := loader.LoadFromPaths(paths...)
	if err != nil {
		return err
	}

	for i := range policies {
		if err := e.register(ctx, policies[i]); err != nil {
			return fmt.Errorf("failed to compile policy %s: %w", policies[i].Name, err)
		}
	}

	log.Info().
		Int("count", len(policies)).
		Msg("Policies loaded")

	return nil
}

// register compiles the policy's deny query and stores it, replacing
// any policy with the same name.
func (e *Engine) register(ctx context.Context, p Policy) error {
	pkg := extractPackageName(p.Rego)
	if pkg == "" {
		return fmt.Errorf("policy has no package declaration")
	}

	r := rego.New(
		rego.Query(fmt.Sprintf("data.%s.deny", pkg)),
		rego.Module(p.Name, p.Rego),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.policies[p.Name] = &compiledPolicy{policy: p, query: query}
	e.mu.Unlock()

	return nil
}

// Evaluate runs every enabled policy against the manifest. A policy
// that fails to evaluate is reported as a warning in the result rather
// than blocking the run.
func (e *Engine) Evaluate(ctx context.Context, m *config.Manifest) (*Result, error) {
	started := time.Now()

	doc, err := manifestDocument(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode manifest for evaluation: %w", err)
	}

	e.mu.RLock()
	compiled := make([]*compiledPolicy, 0, len(e.policies))
	for _, cp := range e.policies {
		if cp.policy.Enabled {
			compiled = append(compiled, cp)
		}
	}
	e.mu.RUnlock()

	sort.Slice(compiled, func(i, j int) bool {
		return compiled[i].policy.Name < compiled[j].policy.Name
	})

	result := &Result{
		Allowed:           true,
		EvaluatedPolicies: len(compiled),
		EvaluatedAt:       started,
	}

	for _, cp := range compiled {
		violations, err := e.evaluatePolicy(ctx, cp, doc)
		if err != nil {
			log.Error().
				Err(err).
				Str("policy", cp.policy.Name).
				Msg("Policy evaluation failed")
			result.Warnings = append(result.Warnings, fmt.Sprintf("policy %s: %v", cp.policy.Name, err))
			continue
		}
		result.Violations = append(result.Violations, violations...)
	}

	for _, v := range result.Violations {
		if v.Severity.Blocking() {
			result.Allowed = false
			break
		}
	}

	result.Duration = time.Since(started)
	return result, nil
}

// evaluatePolicy runs one prepared query and converts its deny set.
func (e *Engine) evaluatePolicy(ctx context.Context, cp *compiledPolicy, doc map[string]interface{}) ([]Violation, error) {
	results, err := cp.query.Eval(ctx, rego.EvalInput(doc))
	if err != nil {
		return nil, err
	}

	var violations []Violation
	for _, result := range results {
		if len(result.Expressions) == 0 {
			continue
		}
		denySet, ok := result.Expressions[0].Value.([]interface{})
		if !ok {
			continue
		}
		for _, d := range denySet {
			violations = append(violations, createViolation(cp.policy, d))
		}
	}

	return violations, nil
}

// createViolation converts one deny entry. Entries are either bare
// message strings or objects with message, unit, and severity keys.
func createViolation(p Policy, entry interface{}) Violation {
	violation := Violation{
		Policy:   p.Name,
		Severity: p.Severity,
	}

	switch v := entry.(type) {
	case string:
		violation.Message = v
	case map[string]interface{}:
		if msg, ok := v["message"].(string); ok {
			violation.Message = msg
		}
		if unit, ok := v["unit"].(string); ok {
			violation.Unit = unit
		}
		if sev, ok := v["severity"].(string); ok {
			if parsed, valid := parseSeverity(sev); valid {
				violation.Severity = parsed
			}
		}
	default:
		violation.Message = fmt.Sprintf("%v", entry)
	}

	return violation
}

// GetPolicy returns a registered policy by name.
func (e *Engine) GetPolicy(name string) (Policy, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cp, ok := e.policies[name]
	if !ok {
		return Policy{}, false
	}
	return cp.policy, true
}

// ListPolicies returns all registered policies sorted by name.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]Policy, 0, len(e.policies))
	for _, cp := range e.policies {
		policies = append(policies, cp.policy)
	}
	sort.Slice(policies, func(i, j int) bool {
		return policies[i].Name < policies[j].Name
	})
	return policies
}

// EnablePolicy marks a policy for evaluation.
func (e *Engine) EnablePolicy(name string) error {
	return e.setEnabled(name, true)
}

// DisablePolicy excludes a policy from evaluation without removing it.
func (e *Engine) DisablePolicy(name string) error {
	return e.setEnabled(name, false)
}

func (e *Engine) setEnabled(name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, ok := e.policies[name]
	if !ok {
		return fmt.Errorf("policy not found: %s", name)
	}
	cp.policy.Enabled = enabled
	return nil
}

// manifestDocument converts the manifest into the evaluation input.
// The unit_names list is added so rules can resolve dependency
// references without walking units twice.
func manifestDocument(m *config.Manifest) (map[string]interface{}, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}

	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}

	names := make([]interface{}, 0, len(m.Units))
	for _, unit := range m.Units {
		names = append(names, unit.Name)
	}
	doc["unit_names"] = names

	return doc, nil
}

// extractPackageName finds the package declaration in Rego source.
func extractPackageName(src string) string {
	for _, line := range strings.Split(src, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "package ") {
			parts := strings.Fields(trimmed)
			if len(parts) >= 2 {
				return parts[1]
			}
		}
	}
	return ""
}

func parseSeverity(s string) (Severity, bool) {
	switch Severity(s) {
	case SeverityInfo, SeverityWarning, SeverityError, SeverityCritical:
		return Severity(s), true
	}
	return "", false
}
