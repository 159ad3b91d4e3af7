package policy

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// severityDirective is the comment that sets a .rego policy's severity,
// for example "# severity: error".
var severityDirective = regexp.MustCompile(`(?i)^#\s*severity:\s*(info|warning|error|critical)\s*$`)

// Loader reads policies from .rego and .json files.
type Loader struct{}

// NewLoader creates a policy loader.
func NewLoader() *Loader {
	return &Loader{}
}

// LoadFromPaths loads policies from files and directories. Directories
// are walked recursively; unparseable files inside a directory are
// skipped with a warning, while a path given directly must load.
func (l *Loader) LoadFromPaths(paths ...string) ([]Policy, error) {
	var policies []Policy

	for _, path := range paths {
		loaded, err := l.loadFromPath(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load policies from %s: %w", path, err)
		}
		policies = append(policies, loaded...)
	}

	return policies, nil
}

func (l *Loader) loadFromPath(path string) ([]Policy, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	if info.IsDir() {
		return l.loadFromDirectory(path)
	}

	policy, err := l.loadFromFile(path)
	if err != nil {
		return nil, err
	}
	return []Policy{policy}, nil
}

func (l *Loader) loadFromDirectory(dir string) ([]Policy, error) {
	var policies []Policy

	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		ext := filepath.Ext(path)
		if ext != ".rego" && ext != ".json" {
			return nil
		}

		policy, err := l.loadFromFile(path)
		if err != nil {
			log.Warn().
				Err(err).
				Str("file", path).
				Msg("Skipping unparseable policy file")
			return nil
		}

		policies = append(policies, policy)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return policies, nil
}

func (l *Loader) loadFromFile(path string) (Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, err
	}

	switch filepath.Ext(path) {
	case ".rego":
		return l.parseRego(path, data)
	case ".json":
		return l.parseJSON(path, data)
	default:
		return Policy{}, fmt.Errorf("unsupported policy file extension: %s", filepath.Ext(path))
	}
}

// parseRego builds a policy from raw Rego source. The policy is named
// after the file, the description comes from the leading comment
// block, and the severity directive overrides the warning default.
func (l *Loader) parseRego(path string, data []byte) (Policy, error) {
	src := string(data)
	if strings.TrimSpace(src) == "" {
		return Policy{}, fmt.Errorf("policy file is empty")
	}
	if extractPackageName(src) == "" {
		return Policy{}, fmt.Errorf("policy has no package declaration")
	}

	severity := SeverityWarning
	if m := severityDirective.FindStringSubmatch(firstDirective(src)); m != nil {
		severity = Severity(strings.ToLower(m[1]))
	}

	return Policy{
		Name:        strings.TrimSuffix(filepath.Base(path), ".rego"),
		Description: extractDescription(src),
		Rego:        src,
		Severity:    severity,
		Enabled:     true,
		Source:      path,
		LoadedAt:    time.Now(),
	}, nil
}

// jsonPolicy is the on-disk shape of a .json policy file.
type jsonPolicy struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Rego        string   `json:"rego"`
	Severity    string   `json:"severity"`
	Tags        []string `json:"tags"`
}

func (l *Loader) parseJSON(path string, data []byte) (Policy, error) {
	var raw jsonPolicy
	if err := json.Unmarshal(data, &raw); err != nil {
		return Policy{}, fmt.Errorf("failed to parse policy JSON: %w", err)
	}

	if raw.Name == "" {
		return Policy{}, fmt.Errorf("policy is missing a name")
	}
	if strings.TrimSpace(raw.Rego) == "" {
		return Policy{}, fmt.Errorf("policy %s has no rego source", raw.Name)
	}

	severity := SeverityWarning
	if raw.Severity != "" {
		parsed, ok := parseSeverity(raw.Severity)
		if !ok {
			return Policy{}, fmt.Errorf("policy %s has invalid severity %q", raw.Name, raw.Severity)
		}
		severity = parsed
	}

	return Policy{
		Name:        raw.Name,
		Description: raw.Description,
		Rego:        raw.Rego,
		Severity:    severity,
		Enabled:     true,
		Tags:        raw.Tags,
		Source:      path,
		LoadedAt:    time.Now(),
	}, nil
}

// firstDirective returns the first severity directive line, if any,
// from the leading comment block.
func firstDirective(src string) string {
	for _, line := range strings.Split(src, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if !strings.HasPrefix(trimmed, "#") {
			return ""
		}
		if severityDirective.MatchString(trimmed) {
			return trimmed
		}
	}
	return ""
}

// extractDescription joins the leading comment block, minus any
// severity directive, into a single line.
func extractDescription(src string) string {
	var parts []string
	for _, line := range strings.Split(src, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if !strings.HasPrefix(trimmed, "#") {
			break
		}
		if severityDirective.MatchString(trimmed) {
			continue
		}
		parts = append(parts, strings.TrimSpace(strings.TrimPrefix(trimmed, "#")))
	}
	return strings.Join(parts, " ")
}
