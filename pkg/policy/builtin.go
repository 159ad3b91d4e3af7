package policy

import (
	"time"
)

// BuiltinPolicies returns the policies every engine starts with.
func BuiltinPolicies() []Policy {
	return []Policy{
		unitNamingPolicy(),
		reservedNamesPolicy(),
		declaredDependenciesPolicy(),
		ownershipLabelPolicy(),
		probeBoundsPolicy(),
		edgeRecordsPolicy(),
		imageTagsPolicy(),
	}
}

// unitNamingPolicy enforces the unit name syntax. The same pattern is
// checked at schema level for loaded manifests; this covers manifests
// built in code.
func unitNamingPolicy() Policy {
	return Policy{
		Name:        "unit-naming",
		Description: "Requires unit names to match ^[a-z0-9][a-z0-9_-]*$",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"naming"},
		LoadedAt:    time.Now(),
		Rego: `package homestack.policies.unit_naming

import rego.v1

deny contains violation if {
	some unit in input.units
	not regex.match("^[a-z0-9][a-z0-9_-]*$", unit.name)
	violation := {
		"message": sprintf("unit name '%s' must match ^[a-z0-9][a-z0-9_-]*$", [unit.name]),
		"unit": unit.name,
	}
}
`,
	}
}

// reservedNamesPolicy keeps unit names out of the quarantine namespace.
// A unit named like a renamed-aside resource would collide with the
// next conflict resolution.
func reservedNamesPolicy() Policy {
	return Policy{
		Name:        "reserved-names",
		Description: "Rejects unit names ending in the quarantine suffix -old-<timestamp>",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"naming"},
		LoadedAt:    time.Now(),
		Rego: `package homestack.policies.reserved_names

import rego.v1

deny contains violation if {
	some unit in input.units
	regex.match("-old-[0-9]+$", unit.name)
	violation := {
		"message": sprintf("unit name '%s' uses the reserved quarantine suffix", [unit.name]),
		"unit": unit.name,
	}
}
`,
	}
}

// declaredDependenciesPolicy requires depends_on references to resolve
// within the manifest.
func declaredDependenciesPolicy() Policy {
	return Policy{
		Name:        "declared-dependencies",
		Description: "Requires every depends_on entry to name a unit defined in the manifest",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"dependencies"},
		LoadedAt:    time.Now(),
		Rego: `package homestack.policies.dependencies

import rego.v1

deny contains violation if {
	some unit in input.units
	some dep in unit.depends_on
	not dep in input.unit_names
	violation := {
		"message": sprintf("unit '%s' depends on undeclared unit '%s'", [unit.name, dep]),
		"unit": unit.name,
	}
}

deny contains violation if {
	some unit in input.units
	some dep in unit.depends_on
	dep == unit.name
	violation := {
		"message": sprintf("unit '%s' depends on itself", [unit.name]),
		"unit": unit.name,
	}
}
`,
	}
}

// ownershipLabelPolicy stops manifests from setting the label the
// orchestrator uses to recognize its own containers.
func ownershipLabelPolicy() Policy {
	return Policy{
		Name:        "ownership-label",
		Description: "Rejects start descriptors that set the homestack.managed ownership label",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"ownership"},
		LoadedAt:    time.Now(),
		Rego: `package homestack.policies.ownership

import rego.v1

deny contains violation if {
	some unit in input.units
	unit.start.labels["homestack.managed"]
	violation := {
		"message": sprintf("unit '%s' overrides the ownership label homestack.managed", [unit.name]),
		"unit": unit.name,
	}
}
`,
	}
}

// probeBoundsPolicy flags readiness settings that hammer the backend
// or stall a run.
func probeBoundsPolicy() Policy {
	return Policy{
		Name:        "probe-bounds",
		Description: "Warns on probe intervals under 100ms and probe windows over an hour",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"readiness"},
		LoadedAt:    time.Now(),
		Rego: `package homestack.policies.probes

import rego.v1

deny contains violation if {
	some unit in input.units
	interval := unit.readiness.interval
	time.parse_duration_ns(interval) < 100000000
	violation := {
		"message": sprintf("unit '%s' probes every %s, which hammers the backend", [unit.name, interval]),
		"unit": unit.name,
	}
}

deny contains violation if {
	some unit in input.units
	limit := unit.readiness.max_duration
	time.parse_duration_ns(limit) > 3600000000000
	violation := {
		"message": sprintf("unit '%s' allows probing for %s, which can stall the run", [unit.name, limit]),
		"unit": unit.name,
	}
}
`,
	}
}

// edgeRecordsPolicy flags DNS records that have nowhere to go.
func edgeRecordsPolicy() Policy {
	return Policy{
		Name:        "edge-records",
		Description: "Warns when units declare DNS records but the stack has no edge endpoint",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"dns"},
		LoadedAt:    time.Now(),
		Rego: `package homestack.policies.edge

import rego.v1

deny contains violation if {
	some unit in input.units
	count(unit.dns) > 0
	not input.stack.edge.endpoint
	violation := {
		"message": sprintf("unit '%s' declares DNS records but no edge endpoint is configured", [unit.name]),
		"unit": unit.name,
	}
}
`,
	}
}

// imageTagsPolicy flags container images that float.
func imageTagsPolicy() Policy {
	return Policy{
		Name:        "image-tags",
		Description: "Warns on docker images without an explicit tag or pinned to latest",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"images"},
		LoadedAt:    time.Now(),
		Rego: `package homestack.policies.images

import rego.v1

deny contains violation if {
	some unit in input.units
	unit.backend == "docker"
	image := unit.start.image
	parts := split(image, "/")
	last := count(parts) - 1
	not contains(parts[last], ":")
	violation := {
		"message": sprintf("unit '%s' image '%s' has no tag and floats on latest", [unit.name, image]),
		"unit": unit.name,
	}
}

deny contains violation if {
	some unit in input.units
	unit.backend == "docker"
	image := unit.start.image
	endswith(image, ":latest")
	violation := {
		"message": sprintf("unit '%s' pins image '%s' to the latest tag", [unit.name, image]),
		"unit": unit.name,
	}
}
`,
	}
}
