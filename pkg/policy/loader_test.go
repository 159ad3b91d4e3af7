package policy

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writePolicy(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadFromFileRego(t *testing.T) {
	dir := t.TempDir()
	path := writePolicy(t, dir, "pinned-volumes.rego", `# Requires every volume mount
# to use an absolute host path.
# severity: error
package homestack.policies.volumes

import rego.v1

deny contains msg if {
	some unit in input.units
	some volume in unit.start.volumes
	not startswith(volume, "/")
	msg := sprintf("unit '%s' mounts relative path '%s'", [unit.name, volume])
}
`)

	policies, err := NewLoader().LoadFromPaths(path)
	if err != nil {
		t.Fatalf("LoadFromPaths: %v", err)
	}
	if len(policies) != 1 {
		t.Fatalf("expected 1 policy, got %d", len(policies))
	}

	p := policies[0]
	if p.Name != "pinned-volumes" {
		t.Errorf("name = %q", p.Name)
	}
	if p.Severity != SeverityError {
		t.Errorf("severity = %q, want error", p.Severity)
	}
	if p.Description != "Requires every volume mount to use an absolute host path." {
		t.Errorf("description = %q", p.Description)
	}
	if p.Source != path {
		t.Errorf("source = %q, want %q", p.Source, path)
	}
	if !p.Enabled {
		t.Error("loaded policy starts disabled")
	}
	if p.LoadedAt.IsZero() {
		t.Error("LoadedAt not set")
	}
}

func TestLoadFromFileRegoDefaultSeverity(t *testing.T) {
	dir := t.TempDir()
	path := writePolicy(t, dir, "plain.rego", `package homestack.policies.plain

import rego.v1

deny contains msg if {
	input.stack.name == "forbidden"
	msg := "stack name is forbidden"
}
`)

	policies, err := NewLoader().LoadFromPaths(path)
	if err != nil {
		t.Fatalf("LoadFromPaths: %v", err)
	}
	if policies[0].Severity != SeverityWarning {
		t.Errorf("severity = %q, want warning default", policies[0].Severity)
	}
	if policies[0].Description != "" {
		t.Errorf("description = %q, want empty", policies[0].Description)
	}
}

func TestLoadFromFileJSON(t *testing.T) {
	dir := t.TempDir()
	path := writePolicy(t, dir, "quota.json", `{
  "name": "unit-quota",
  "description": "Caps the number of units in one manifest.",
  "severity": "critical",
  "tags": ["capacity"],
  "rego": "package homestack.policies.quota\n\nimport rego.v1\n\ndeny contains msg if {\n\tcount(input.units) > 50\n\tmsg := \"manifest exceeds 50 units\"\n}\n"
}`)

	policies, err := NewLoader().LoadFromPaths(path)
	if err != nil {
		t.Fatalf("LoadFromPaths: %v", err)
	}

	p := policies[0]
	if p.Name != "unit-quota" {
		t.Errorf("name = %q", p.Name)
	}
	if p.Severity != SeverityCritical {
		t.Errorf("severity = %q", p.Severity)
	}
	if len(p.Tags) != 1 || p.Tags[0] != "capacity" {
		t.Errorf("tags = %v", p.Tags)
	}
	if !strings.Contains(p.Rego, "package homestack.policies.quota") {
		t.Errorf("rego source not carried over: %q", p.Rego)
	}
}

func TestLoadFromFileJSONRejections(t *testing.T) {
	dir := t.TempDir()

	cases := []struct {
		name    string
		file    string
		content string
		want    string
	}{
		{
			name:    "missing name",
			file:    "anonymous.json",
			content: `{"rego": "package x\n"}`,
			want:    "name",
		},
		{
			name:    "missing rego",
			file:    "empty.json",
			content: `{"name": "empty"}`,
			want:    "rego",
		},
		{
			name:    "invalid severity",
			file:    "sev.json",
			content: `{"name": "sev", "rego": "package x\n", "severity": "fatal"}`,
			want:    "severity",
		},
		{
			name:    "malformed json",
			file:    "garbage.json",
			content: `{"name": `,
			want:    "parse",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writePolicy(t, dir, tc.file, tc.content)
			_, err := NewLoader().LoadFromPaths(path)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestLoadFromDirectoryRecursive(t *testing.T) {
	dir := t.TempDir()
	writePolicy(t, dir, "top.rego", "package homestack.policies.top\n\nimport rego.v1\n")
	writePolicy(t, dir, "nested/deep.rego", "package homestack.policies.deep\n\nimport rego.v1\n")
	writePolicy(t, dir, "notes.txt", "not a policy")

	policies, err := NewLoader().LoadFromPaths(dir)
	if err != nil {
		t.Fatalf("LoadFromPaths: %v", err)
	}
	if len(policies) != 2 {
		t.Fatalf("expected 2 policies, got %d", len(policies))
	}

	names := map[string]bool{}
	for _, p := range policies {
		names[p.Name] = true
	}
	if !names["top"] || !names["deep"] {
		t.Errorf("loaded policies = %v", names)
	}
}

func TestLoadFromDirectorySkipsBroken(t *testing.T) {
	dir := t.TempDir()
	writePolicy(t, dir, "good.rego", "package homestack.policies.good\n\nimport rego.v1\n")
	writePolicy(t, dir, "bad.json", `{"name": `)

	policies, err := NewLoader().LoadFromPaths(dir)
	if err != nil {
		t.Fatalf("LoadFromPaths: %v", err)
	}
	if len(policies) != 1 || policies[0].Name != "good" {
		t.Errorf("policies = %+v", policies)
	}
}

func TestLoadFromPathMissing(t *testing.T) {
	_, err := NewLoader().LoadFromPaths(filepath.Join(t.TempDir(), "absent.rego"))
	if err == nil {
		t.Fatal("expected error for missing path")
	}
}

func TestLoadRegoWithoutPackage(t *testing.T) {
	dir := t.TempDir()
	path := writePolicy(t, dir, "headless.rego", "# just a comment\n\ndeny contains msg if { msg := \"x\" }\n")

	_, err := NewLoader().LoadFromPaths(path)
	if err == nil {
		t.Fatal("expected error for policy without package")
	}
	if !strings.Contains(err.Error(), "package") {
		t.Errorf("error = %v", err)
	}
}

func TestExtractDescription(t *testing.T) {
	cases := []struct {
		name string
		src  string
		want string
	}{
		{
			name: "single line",
			src:  "# Blocks floating tags.\npackage x\n",
			want: "Blocks floating tags.",
		},
		{
			name: "multi line with directive",
			src:  "# Caps probe rates\n# across all units.\n# severity: error\npackage x\n",
			want: "Caps probe rates across all units.",
		},
		{
			name: "directive only",
			src:  "# severity: info\npackage x\n",
			want: "",
		},
		{
			name: "code first",
			src:  "package x\n\n# trailing comment\n",
			want: "",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := extractDescription(tc.src); got != tc.want {
				t.Errorf("extractDescription = %q, want %q", got, tc.want)
			}
		})
	}
}
