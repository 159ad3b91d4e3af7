// Package config loads, validates, and expands homestack manifests.
//
// # Overview
//
// A manifest is a single YAML document, conventionally homestack.yaml,
// describing a stack: shared settings (docker CLI, SSH hosts, edge DNS,
// provisioner endpoints, run history) and the units the stack runs in
// dependency order.
//
// # Pipeline
//
// Loading runs the document through a fixed sequence:
//
//   - environment expansion: ${VAR} references are replaced from the
//     process environment; $${VAR} escapes to a literal ${VAR}; an
//     unset variable is an error
//   - schema validation: the decoded document is unified with an
//     embedded CUE schema, catching misspelled fields, bad unit names,
//     malformed provision keys, and wrong types with field paths
//   - strict decoding: yaml.v3 with KnownFields into typed structs
//   - struct validation: go-playground/validator tags
//   - defaulting: units inherit the stack readiness policy for fields
//     they leave unset, the docker backend when none is named, and the
//     stack's sole host when the host backend is used without one
//   - generator expansion: Starlark scripts append computed units,
//     each validated against the same unit schema
//
// # Usage Example
//
//	loader, err := config.NewLoader()
//	if err != nil {
//	    log.Fatal().Err(err).Msg("loader init failed")
//	}
//	manifest, err := loader.Load(ctx, "homestack.yaml")
//	if err != nil {
//	    log.Fatal().Err(err).Msg("manifest rejected")
//	}
//	specs, err := manifest.UnitSpecs()
//
// The resulting specs feed the engine; the stack section carries
// everything the CLI needs to construct backends, provisioners, the
// edge client, and the history store.
package config
