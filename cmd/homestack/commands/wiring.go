package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/homestack/homestack/pkg/backends"
	"github.com/homestack/homestack/pkg/backends/docker"
	"github.com/homestack/homestack/pkg/backends/hostsvc"
	"github.com/homestack/homestack/pkg/config"
	"github.com/homestack/homestack/pkg/edge"
	"github.com/homestack/homestack/pkg/engine"
	"github.com/homestack/homestack/pkg/policy"
	"github.com/homestack/homestack/pkg/provision"
	"github.com/homestack/homestack/pkg/stores"
	"github.com/homestack/homestack/pkg/telemetry"
	"github.com/homestack/homestack/pkg/transports/ssh"
)

// loadManifest loads and fully validates the manifest behind --file.
func loadManifest(ctx context.Context) (*config.Manifest, error) {
	loader, err := config.NewLoader()
	if err != nil {
		return nil, err
	}
	return loader.Load(ctx, manifestPath)
}

// buildRouter connects every runtime the manifest references and binds
// each unit to its backend. The returned cleanup closes the SSH
// connections; call it when the run is over.
func buildRouter(ctx context.Context, m *config.Manifest) (*backends.Router, func(), error) {
	router := backends.NewRouter()

	var transports []ssh.Transport
	cleanup := func() {
		for _, t := range transports {
			if err := t.Disconnect(); err != nil {
				log.Warn().Err(err).Msg("Failed to close SSH connection")
			}
		}
	}

	hostBackends := make(map[string]*hostsvc.Backend)
	for _, name := range m.ReferencedHosts() {
		hostCfg := m.Stack.Hosts[name]

		client, err := ssh.NewSSHClient(hostCfg.SSHConfig())
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("host %s: %w", name, err)
		}
		if err := client.Connect(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("connect to host %s: %w", name, err)
		}
		transports = append(transports, client)

		hostBackends[name] = hostsvc.New(client, hostsvc.Options{
			SudoPassword: hostCfg.SudoPassword,
			StagingDir:   hostCfg.StagingDir,
		})
	}

	var dockerBackend *docker.Backend
	for i := range m.Units {
		unit := &m.Units[i]
		switch unit.Backend {
		case config.BackendHost:
			router.Bind(unit.Name, hostBackends[unit.Host])
		default:
			if dockerBackend == nil {
				var err error
				dockerBackend, err = docker.New(docker.Options{
					Binary:      m.Stack.Docker.Binary,
					Context:     m.Stack.Docker.Context,
					StopTimeout: m.Stack.Docker.StopTimeout.Std(),
				})
				if err != nil {
					cleanup()
					return nil, nil, err
				}
			}
			router.Bind(unit.Name, dockerBackend)
		}
	}

	return router, cleanup, nil
}

// buildProvisioners registers a provisioner for each backing service
// the manifest configures. Units whose tasks reference an unconfigured
// scheme fail at provisioning time with a scheme lookup error.
func buildProvisioners(ctx context.Context, m *config.Manifest) (*provision.Registry, func(), error) {
	registry := provision.NewRegistry()

	var closers []func()
	cleanup := func() {
		for _, c := range closers {
			c()
		}
	}

	cfg := m.Stack.Provisioners
	if cfg.PostgresURL != "" {
		db, err := provision.OpenPostgres(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres provisioner: %w", err)
		}
		closers = append(closers, func() { _ = db.Close() })
		registry.Register(provision.SchemeDatabase, provision.NewPostgresProvisioner(db))
	}
	if cfg.Minio.Endpoint != "" {
		bp, err := provision.NewBucketProvisioner(provision.BucketConfig{
			Endpoint:  cfg.Minio.Endpoint,
			AccessKey: cfg.Minio.AccessKey,
			SecretKey: cfg.Minio.SecretKey,
			UseSSL:    cfg.Minio.UseSSL,
			Region:    cfg.Minio.Region,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("bucket provisioner: %w", err)
		}
		registry.Register(provision.SchemeBucket, bp)
	}
	if cfg.Qdrant.URL != "" {
		registry.Register(provision.SchemeVector, provision.NewQdrantProvisioner(cfg.Qdrant.URL, cfg.Qdrant.APIKey))
	}

	return registry, cleanup, nil
}

// newTelemetry builds run telemetry matching the global log flags.
func newTelemetry(environment string, enableMetrics bool) (*telemetry.Telemetry, error) {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = buildVersion
	if environment != "" {
		cfg.Environment = environment
	}
	cfg.Metrics.Enabled = enableMetrics

	switch logLevel {
	case "trace", "debug", "info", "warn", "error", "fatal":
		cfg.Logging.Level = logLevel
	}
	if logFormat == "json" {
		cfg.Logging.Format = "json"
	}

	return telemetry.NewTelemetry(cfg)
}

// historyStore opens the run history database the manifest configures,
// falling back to the default path.
func historyStore(ctx context.Context, m *config.Manifest) (*stores.SQLiteStore, error) {
	path := m.Stack.History.Path
	if path == "" {
		path = stores.DefaultPath()
	}
	return openStoreAt(ctx, path)
}

// openStoreAt opens, initializes, and migrates the store at path.
func openStoreAt(ctx context.Context, path string) (*stores.SQLiteStore, error) {
	store, err := stores.NewSQLiteStore(stores.Config{Path: path})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		store.Close()
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

// runSink fans engine events out to telemetry and the history store.
func runSink(tel *telemetry.Sink, store *stores.SQLiteStore) engine.EventSink {
	return engine.EventSinkFunc(func(ctx context.Context, ev engine.Event) {
		tel.Publish(ctx, ev)
		if store != nil {
			if err := store.AppendEvent(ctx, ev); err != nil {
				log.Warn().Err(err).Msg("Failed to record event in history")
			}
		}
	})
}

// evaluatePolicies runs built-in and user policies against the manifest.
func evaluatePolicies(ctx context.Context, m *config.Manifest, policyDirs, disabled []string) (*policy.Result, error) {
	eng, err := policy.NewEngine()
	if err != nil {
		return nil, err
	}
	if len(policyDirs) > 0 {
		if err := eng.LoadPolicies(ctx, policyDirs...); err != nil {
			return nil, err
		}
	}
	for _, name := range disabled {
		if err := eng.DisablePolicy(name); err != nil {
			return nil, err
		}
	}

	result, err := eng.Evaluate(ctx, m)
	if err != nil {
		return nil, fmt.Errorf("policy evaluation: %w", err)
	}
	return result, nil
}

// policyGate evaluates policies against the manifest and prints the
// findings. A blocking violation denies the run before any side effect.
func policyGate(ctx context.Context, m *config.Manifest, policyDirs, disabled []string) error {
	result, err := evaluatePolicies(ctx, m, policyDirs, disabled)
	if err != nil {
		return err
	}

	printPolicyResult(result)
	if !result.Allowed {
		return fmt.Errorf("policy denied the run: %d blocking violation(s)", len(result.Blocking()))
	}
	return nil
}

// edgeRecords maps manifest DNS entries onto edge provider records.
func edgeRecords(records []config.DNSRecordConfig) []edge.Record {
	out := make([]edge.Record, 0, len(records))
	for _, r := range records {
		out = append(out, edge.Record{
			Name:    r.Name,
			Type:    r.Type,
			Value:   r.Value,
			Proxied: r.Proxied,
			TTL:     r.TTL,
		})
	}
	return out
}
