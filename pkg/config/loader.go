package config

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Loader parses, validates, and expands stack manifests. A Loader is
// safe for concurrent use and can be reused across reloads.
type Loader struct {
	schema    *SchemaValidator
	validator *validator.Validate
	eval      *StarlarkEvaluator
}

// NewLoader creates a loader with the embedded schema compiled.
func NewLoader() (*Loader, error) {
	schema, err := NewSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &Loader{
		schema:    schema,
		validator: validator.New(),
		eval:      NewStarlarkEvaluator(),
	}, nil
}

// Load reads, validates, and expands the manifest at path.
func (l *Loader) Load(ctx context.Context, path string) (*Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	m, err := l.Parse(ctx, raw, filepath.Dir(path))
	if err != nil {
		return nil, err
	}
	m.Path = path
	return m, nil
}

// Parse runs manifest bytes through the full pipeline. baseDir anchors
// relative generator script paths.
func (l *Loader) Parse(ctx context.Context, raw []byte, baseDir string) (*Manifest, error) {
	expanded, err := expandEnv(raw)
	if err != nil {
		return nil, err
	}

	var doc map[string]interface{}
	if err := yaml.Unmarshal(expanded, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}
	if doc == nil {
		return nil, fmt.Errorf("manifest is empty")
	}
	if err := l.schema.ValidateManifest(doc); err != nil {
		return nil, err
	}

	var m Manifest
	dec := yaml.NewDecoder(bytes.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}

	if err := l.validator.Struct(&m); err != nil {
		return nil, convertValidatorError(err)
	}

	if err := l.expandGenerators(ctx, &m, baseDir); err != nil {
		return nil, err
	}

	m.applyDefaults()

	if err := m.check(); err != nil {
		return nil, err
	}
	return &m, nil
}

func (l *Loader) expandGenerators(ctx context.Context, m *Manifest, baseDir string) error {
	for gi := range m.Generators {
		g := &m.Generators[gi]
		scriptPath := g.Script
		if !filepath.IsAbs(scriptPath) {
			scriptPath = filepath.Join(baseDir, scriptPath)
		}
		script, err := os.ReadFile(scriptPath)
		if err != nil {
			return fmt.Errorf("failed to read generator script: %w", err)
		}

		docs, err := l.eval.GenerateUnits(ctx, string(script), g.Vars)
		if err != nil {
			return fmt.Errorf("generator %s: %w", g.Script, err)
		}

		for _, doc := range docs {
			unit, err := l.decodeUnit(doc)
			if err != nil {
				return fmt.Errorf("generator %s: %w", g.Script, err)
			}
			m.Units = append(m.Units, unit)
		}
	}
	return nil
}

// decodeUnit turns a generated unit document into a UnitConfig through
// the unit schema and a JSON round trip.
func (l *Loader) decodeUnit(doc map[string]interface{}) (UnitConfig, error) {
	if err := l.schema.ValidateUnit(doc); err != nil {
		return UnitConfig{}, err
	}
	buf, err := json.Marshal(doc)
	if err != nil {
		return UnitConfig{}, fmt.Errorf("failed to encode unit: %w", err)
	}
	var unit UnitConfig
	if err := json.Unmarshal(buf, &unit); err != nil {
		return UnitConfig{}, fmt.Errorf("failed to decode unit: %w", err)
	}
	if err := l.validator.Struct(&unit); err != nil {
		return UnitConfig{}, convertValidatorError(err)
	}
	return unit, nil
}

// applyDefaults fills unit fields the manifest may omit: the docker
// backend, the stack's sole host, and readiness inheritance.
func (m *Manifest) applyDefaults() {
	var soleHost string
	if len(m.Stack.Hosts) == 1 {
		for name := range m.Stack.Hosts {
			soleHost = name
		}
	}
	for i := range m.Units {
		u := &m.Units[i]
		if u.Backend == "" {
			u.Backend = BackendDocker
		}
		if u.Backend == BackendHost && u.Host == "" {
			u.Host = soleHost
		}
		u.Readiness = u.Readiness.merged(m.Stack.Readiness)
	}
}

// check enforces the cross-field rules the schema cannot express.
func (m *Manifest) check() error {
	if len(m.Units) == 0 {
		return fmt.Errorf("manifest defines no units")
	}
	seen := make(map[string]struct{}, len(m.Units))
	for i := range m.Units {
		u := &m.Units[i]
		if _, dup := seen[u.Name]; dup {
			return fmt.Errorf("duplicate unit name %q", u.Name)
		}
		seen[u.Name] = struct{}{}

		switch u.Backend {
		case BackendHost:
			if u.Host == "" {
				return fmt.Errorf("unit %s: host backend requires a host reference", u.Name)
			}
			if _, ok := m.Stack.Hosts[u.Host]; !ok {
				return fmt.Errorf("unit %s: unknown host %q", u.Name, u.Host)
			}
		case BackendDocker:
			if u.Host != "" {
				return fmt.Errorf("unit %s: host is only valid with the host backend", u.Name)
			}
		}
	}
	return nil
}

func convertValidatorError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %s validation", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("manifest validation: %s", strings.Join(msgs, "; "))
}

// envPattern matches ${VAR} references and their $${VAR} escape form.
var envPattern = regexp.MustCompile(`\$?\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv substitutes ${VAR} from the process environment. $${VAR}
// becomes the literal ${VAR}. Referencing an unset variable is an
// error, so a typo fails loudly instead of producing an empty
// credential.
func expandEnv(raw []byte) ([]byte, error) {
	var missing []string
	seen := make(map[string]struct{})
	out := envPattern.ReplaceAllFunc(raw, func(match []byte) []byte {
		if bytes.HasPrefix(match, []byte("$$")) {
			return match[1:]
		}
		name := string(match[2 : len(match)-1])
		value, ok := os.LookupEnv(name)
		if !ok {
			if _, dup := seen[name]; !dup {
				seen[name] = struct{}{}
				missing = append(missing, name)
			}
			return match
		}
		return []byte(value)
	})
	if len(missing) > 0 {
		return nil, fmt.Errorf("undefined environment variables: %s", strings.Join(missing, ", "))
	}
	return out, nil
}
