package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/homestack/homestack/pkg/engine"
	"github.com/homestack/homestack/pkg/transports/ssh"
)

// Backend names a unit can run on.
const (
	BackendDocker = "docker"
	BackendHost   = "host"
)

// Manifest is a fully loaded stack description: validated, defaulted,
// and with generator output appended to Units.
type Manifest struct {
	Stack      StackConfig       `yaml:"stack" json:"stack" validate:"required"`
	Units      []UnitConfig      `yaml:"units" json:"units" validate:"dive"`
	Generators []GeneratorConfig `yaml:"generators" json:"generators,omitempty" validate:"dive"`

	// Path is the file the manifest was loaded from. Empty when parsed
	// from raw bytes.
	Path string `yaml:"-" json:"-"`
}

// StackConfig holds the settings shared by every unit in the stack.
type StackConfig struct {
	// Name identifies the stack in logs and run history.
	Name string `yaml:"name" json:"name" validate:"required"`

	// Environment is a free-form label (staging, homelab) carried into
	// telemetry.
	Environment string `yaml:"environment" json:"environment,omitempty"`

	Docker       DockerConfig          `yaml:"docker" json:"docker,omitempty"`
	Hosts        map[string]HostConfig `yaml:"hosts" json:"hosts,omitempty" validate:"dive"`
	Edge         EdgeConfig            `yaml:"edge" json:"edge,omitempty"`
	Readiness    ReadinessConfig       `yaml:"readiness" json:"readiness,omitempty"`
	Provisioners ProvisionersConfig    `yaml:"provisioners" json:"provisioners,omitempty"`
	History      HistoryConfig         `yaml:"history" json:"history,omitempty"`
}

// DockerConfig selects and tunes the docker CLI backend.
type DockerConfig struct {
	// Binary is the CLI to invoke. Empty resolves "docker" on PATH.
	Binary string `yaml:"binary" json:"binary,omitempty"`

	// Context selects a docker CLI context, typically one pointing at a
	// remote engine over ssh.
	Context string `yaml:"context" json:"context,omitempty"`

	// StopTimeout is how long stops wait before the container is killed.
	StopTimeout Duration `yaml:"stop_timeout" json:"stop_timeout,omitempty"`
}

// HostConfig describes an SSH-reachable machine whose services run
// under systemd.
type HostConfig struct {
	Address              string `yaml:"address" json:"address" validate:"required"`
	Port                 int    `yaml:"port" json:"port,omitempty" validate:"omitempty,min=1,max=65535"`
	User                 string `yaml:"user" json:"user" validate:"required"`
	AuthMethod           string `yaml:"auth_method" json:"auth_method,omitempty" validate:"omitempty,oneof=password key agent"`
	Password             string `yaml:"password" json:"password,omitempty"`
	PrivateKeyPath       string `yaml:"private_key_path" json:"private_key_path,omitempty"`
	PrivateKeyPassphrase string `yaml:"private_key_passphrase" json:"private_key_passphrase,omitempty"`
	KnownHostsPath       string `yaml:"known_hosts_path" json:"known_hosts_path,omitempty"`

	// StrictHostKey controls known_hosts verification. Unset means
	// strict.
	StrictHostKey *bool `yaml:"strict_host_key" json:"strict_host_key,omitempty"`

	// SudoPassword authorizes privileged systemctl and file operations
	// on the host. Empty assumes passwordless sudo.
	SudoPassword string `yaml:"sudo_password" json:"sudo_password,omitempty"`

	// StagingDir is where uploads land before sudo moves them into
	// place.
	StagingDir string `yaml:"staging_dir" json:"staging_dir,omitempty"`
}

// SSHConfig converts the host entry into transport settings.
func (h *HostConfig) SSHConfig() *ssh.Config {
	cfg := ssh.DefaultConfig(h.Address, h.User)
	if h.Port != 0 {
		cfg.Port = h.Port
	}
	if h.AuthMethod != "" {
		cfg.AuthMethod = ssh.AuthMethod(h.AuthMethod)
	}
	cfg.Password = h.Password
	cfg.PrivateKeyPath = h.PrivateKeyPath
	cfg.PrivateKeyPassphrase = h.PrivateKeyPassphrase
	if h.KnownHostsPath != "" {
		cfg.KnownHostsPath = h.KnownHostsPath
	}
	if h.StrictHostKey != nil {
		cfg.StrictHostKeyChecking = *h.StrictHostKey
	}
	return cfg
}

// EdgeConfig points at the DNS edge API records are published to.
type EdgeConfig struct {
	Endpoint string `yaml:"endpoint" json:"endpoint,omitempty" validate:"omitempty,url"`
	Token    string `yaml:"token" json:"token,omitempty"`
	Zone     string `yaml:"zone" json:"zone,omitempty"`
}

// Enabled reports whether the manifest configures an edge at all.
func (e *EdgeConfig) Enabled() bool {
	return e.Endpoint != ""
}

// ProvisionersConfig carries the endpoints provisioning tasks run
// against. A scheme whose endpoint is absent makes tasks using that
// scheme fail with a configuration error.
type ProvisionersConfig struct {
	// PostgresURL is the admin connection string db: tasks use.
	PostgresURL string `yaml:"postgres_url" json:"postgres_url,omitempty"`

	Minio  MinioConfig  `yaml:"minio" json:"minio,omitempty"`
	Qdrant QdrantConfig `yaml:"qdrant" json:"qdrant,omitempty"`
}

// MinioConfig is the object store bucket: tasks are created on.
type MinioConfig struct {
	Endpoint  string `yaml:"endpoint" json:"endpoint,omitempty"`
	AccessKey string `yaml:"access_key" json:"access_key,omitempty"`
	SecretKey string `yaml:"secret_key" json:"secret_key,omitempty"`
	UseSSL    bool   `yaml:"use_ssl" json:"use_ssl,omitempty"`
	Region    string `yaml:"region" json:"region,omitempty"`
}

// QdrantConfig is the vector store vector: tasks are created on.
type QdrantConfig struct {
	URL    string `yaml:"url" json:"url,omitempty"`
	APIKey string `yaml:"api_key" json:"api_key,omitempty"`
}

// HistoryConfig controls the local run history database.
type HistoryConfig struct {
	// Path overrides the default database location.
	Path string `yaml:"path" json:"path,omitempty"`

	// Keep bounds how many runs are retained after each recorded run.
	// Zero keeps everything.
	Keep int `yaml:"keep" json:"keep,omitempty" validate:"min=0"`
}

// ReadinessConfig mirrors engine.ReadinessPolicy in manifest form.
// Unset unit fields inherit the stack-level values during loading.
type ReadinessConfig struct {
	Interval         Duration `yaml:"interval" json:"interval,omitempty"`
	MaxAttempts      int      `yaml:"max_attempts" json:"max_attempts,omitempty" validate:"min=0"`
	MaxDuration      Duration `yaml:"max_duration" json:"max_duration,omitempty"`
	StableIterations int      `yaml:"stable_iterations" json:"stable_iterations,omitempty" validate:"min=0"`
}

// Policy converts to the engine representation. Remaining zero fields
// are filled by the engine's own defaults.
func (r ReadinessConfig) Policy() engine.ReadinessPolicy {
	return engine.ReadinessPolicy{
		Interval:         time.Duration(r.Interval),
		MaxAttempts:      r.MaxAttempts,
		MaxDuration:      time.Duration(r.MaxDuration),
		StableIterations: r.StableIterations,
	}
}

// merged returns r with zero fields taken from the stack defaults.
func (r ReadinessConfig) merged(defaults ReadinessConfig) ReadinessConfig {
	if r.Interval == 0 {
		r.Interval = defaults.Interval
	}
	if r.MaxAttempts == 0 {
		r.MaxAttempts = defaults.MaxAttempts
	}
	if r.MaxDuration == 0 {
		r.MaxDuration = defaults.MaxDuration
	}
	if r.StableIterations == 0 {
		r.StableIterations = defaults.StableIterations
	}
	return r
}

// UnitConfig is one service in the stack.
type UnitConfig struct {
	Name string `yaml:"name" json:"name" validate:"required"`

	// Backend picks the runtime. Empty defaults to docker.
	Backend string `yaml:"backend" json:"backend,omitempty" validate:"omitempty,oneof=docker host"`

	// Host names the stack host a host-backend unit runs on. Optional
	// when the stack defines exactly one host.
	Host string `yaml:"host" json:"host,omitempty"`

	// Start is the backend-specific start descriptor, passed through
	// opaquely. The backend decodes and validates it.
	Start map[string]interface{} `yaml:"start" json:"start" validate:"required"`

	DependsOn []string          `yaml:"depends_on" json:"depends_on,omitempty"`
	Readiness ReadinessConfig   `yaml:"readiness" json:"readiness,omitempty"`
	Provision []ProvisionConfig `yaml:"provision" json:"provision,omitempty" validate:"dive"`
	DNS       []DNSRecordConfig `yaml:"dns" json:"dns,omitempty" validate:"dive"`
}

// Spec converts the unit into its engine form.
func (u *UnitConfig) Spec() (engine.UnitSpec, error) {
	start, err := json.Marshal(u.Start)
	if err != nil {
		return engine.UnitSpec{}, fmt.Errorf("encode start descriptor for %s: %w", u.Name, err)
	}

	var tasks []engine.ProvisionTask
	if len(u.Provision) > 0 {
		tasks = make([]engine.ProvisionTask, 0, len(u.Provision))
		for _, p := range u.Provision {
			tasks = append(tasks, engine.ProvisionTask{Key: p.Key, Params: p.Params})
		}
	}

	return engine.UnitSpec{
		Name:      u.Name,
		Start:     start,
		DependsOn: append([]string(nil), u.DependsOn...),
		Readiness: u.Readiness.Policy(),
		Provision: tasks,
	}, nil
}

// ProvisionConfig is one provisioning task in manifest form. Key is
// scheme-prefixed, for example "db:authelia" or "bucket:paperless".
type ProvisionConfig struct {
	Key    string            `yaml:"key" json:"key" validate:"required"`
	Params map[string]string `yaml:"params" json:"params,omitempty"`
}

// DNSRecordConfig is a record published to the edge once its unit is
// healthy.
type DNSRecordConfig struct {
	Name    string `yaml:"name" json:"name" validate:"required"`
	Type    string `yaml:"type" json:"type" validate:"required,oneof=A AAAA CNAME"`
	Value   string `yaml:"value" json:"value" validate:"required"`
	Proxied bool   `yaml:"proxied" json:"proxied,omitempty"`
	TTL     int    `yaml:"ttl" json:"ttl,omitempty" validate:"min=0"`
}

// GeneratorConfig expands into additional units via a Starlark script.
// The script path is resolved relative to the manifest file.
type GeneratorConfig struct {
	Script string                 `yaml:"script" json:"script" validate:"required"`
	Vars   map[string]interface{} `yaml:"vars" json:"vars,omitempty"`
}

// UnitSpecs converts every unit into its engine form, generator output
// included.
func (m *Manifest) UnitSpecs() ([]engine.UnitSpec, error) {
	specs := make([]engine.UnitSpec, 0, len(m.Units))
	for i := range m.Units {
		spec, err := m.Units[i].Spec()
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// Unit returns the named unit, or nil.
func (m *Manifest) Unit(name string) *UnitConfig {
	for i := range m.Units {
		if m.Units[i].Name == name {
			return &m.Units[i]
		}
	}
	return nil
}

// ReferencedHosts returns the distinct host names host-backend units
// run on, in manifest order.
func (m *Manifest) ReferencedHosts() []string {
	var hosts []string
	seen := make(map[string]struct{})
	for i := range m.Units {
		u := &m.Units[i]
		if u.Backend != BackendHost || u.Host == "" {
			continue
		}
		if _, ok := seen[u.Host]; ok {
			continue
		}
		seen[u.Host] = struct{}{}
		hosts = append(hosts, u.Host)
	}
	return hosts
}

// DNSRecords returns every record the manifest publishes, paired with
// the unit that owns it.
func (m *Manifest) DNSRecords() map[string][]DNSRecordConfig {
	records := make(map[string][]DNSRecordConfig)
	for i := range m.Units {
		u := &m.Units[i]
		if len(u.DNS) > 0 {
			records[u.Name] = u.DNS
		}
	}
	return records
}

// Duration is a time.Duration that unmarshals from strings in
// time.ParseDuration syntax ("2s", "1m30s") in both YAML and JSON.
type Duration time.Duration

// Std returns the standard library representation.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("duration must be a string like \"30s\": %w", err)
	}
	return d.parse(raw)
}

// UnmarshalJSON implements json.Unmarshaler. Generator output travels
// through JSON, so generated units need the same parsing.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("duration must be a string like \"30s\": %w", err)
	}
	return d.parse(raw)
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) parse(raw string) error {
	if strings.TrimSpace(raw) == "" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}
