// Package policy evaluates Rego rules against a loaded manifest before
// a run starts.
//
// # Overview
//
// Policies catch manifest mistakes the schema cannot express: names
// that collide with the quarantine namespace, dependencies on units
// that do not exist, attempts to override the ownership label, probe
// settings that hammer or stall a run, DNS records without an edge to
// publish them to, and unpinned container images.
//
// # Severities
//
// Violations at error or critical severity block the run; warning and
// info violations are reported and the run proceeds. Built-in policies
// use error for rules whose breach would corrupt a run and warning for
// hygiene.
//
// # Custom policies
//
// Users can add .rego files (or JSON policy documents) under a policy
// directory. A .rego file's name becomes the policy name, its leading
// comment block the description, and a "# severity: error" comment
// line sets the severity. Each policy's deny set is queried as
// data.<package>.deny with the manifest document as input; entries are
// either strings or objects with message, unit, and severity fields.
//
// # Usage Example
//
//	engine, err := policy.NewEngine()
//	if err != nil {
//	    return err
//	}
//	if err := engine.LoadPolicies(ctx, []string{"./policies"}); err != nil {
//	    return err
//	}
//	result, err := engine.Evaluate(ctx, manifest)
//	if err != nil {
//	    return err
//	}
//	if !result.Allowed {
//	    // refuse to run, print result.Violations
//	}
package policy
