package provision

import (
	"context"
	"strings"
	"testing"

	"github.com/homestack/homestack/pkg/engine"
)

// fakeProvisioner records calls and returns scripted results.
type fakeProvisioner struct {
	existsCalls []engine.ProvisionTask
	createCalls []engine.ProvisionTask
	exists      bool
	existsErr   error
	createErr   error
}

func (f *fakeProvisioner) Exists(_ context.Context, task engine.ProvisionTask) (bool, error) {
	f.existsCalls = append(f.existsCalls, task)
	return f.exists, f.existsErr
}

func (f *fakeProvisioner) Create(_ context.Context, task engine.ProvisionTask) error {
	f.createCalls = append(f.createCalls, task)
	return f.createErr
}

func TestParseKey(t *testing.T) {
	tests := []struct {
		key        string
		wantScheme string
		wantName   string
		wantErr    bool
	}{
		{key: "db:authelia", wantScheme: "db", wantName: "authelia"},
		{key: "bucket:paperless", wantScheme: "bucket", wantName: "paperless"},
		{key: "vector:documents", wantScheme: "vector", wantName: "documents"},
		{key: "authelia", wantErr: true},
		{key: ":authelia", wantErr: true},
		{key: "db:", wantErr: true},
		{key: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			scheme, name, err := ParseKey(tt.key)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseKey(%q) error = %v, wantErr %v", tt.key, err, tt.wantErr)
			}
			if scheme != tt.wantScheme || name != tt.wantName {
				t.Errorf("ParseKey(%q) = (%q, %q), want (%q, %q)",
					tt.key, scheme, name, tt.wantScheme, tt.wantName)
			}
		})
	}
}

func TestRegistryDispatch(t *testing.T) {
	dbFake := &fakeProvisioner{exists: true}
	bucketFake := &fakeProvisioner{}

	r := NewRegistry()
	r.Register(SchemeDatabase, dbFake)
	r.Register(SchemeBucket, bucketFake)

	task := engine.ProvisionTask{Key: "db:authelia", Params: map[string]string{"owner": "authelia"}}
	exists, err := r.Exists(context.Background(), task)
	if err != nil {
		t.Fatalf("Exists() error = %v", err)
	}
	if !exists {
		t.Error("Exists() = false, want true")
	}
	if len(dbFake.existsCalls) != 1 || dbFake.existsCalls[0].Key != "db:authelia" {
		t.Errorf("db provisioner calls = %v, want the full task", dbFake.existsCalls)
	}
	if len(bucketFake.existsCalls) != 0 {
		t.Errorf("bucket provisioner should not be called, got %v", bucketFake.existsCalls)
	}

	if err := r.Create(context.Background(), engine.ProvisionTask{Key: "bucket:paperless"}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if len(bucketFake.createCalls) != 1 {
		t.Errorf("bucket create calls = %v, want one", bucketFake.createCalls)
	}
}

func TestRegistryUnknownScheme(t *testing.T) {
	r := NewRegistry()
	r.Register(SchemeDatabase, &fakeProvisioner{})

	_, err := r.Exists(context.Background(), engine.ProvisionTask{Key: "queue:jobs"})
	if err == nil {
		t.Fatal("expected an error for an unregistered scheme")
	}
	if !strings.Contains(err.Error(), "no provisioner registered") {
		t.Errorf("error = %v, want unregistered scheme complaint", err)
	}
}

func TestRegistryMalformedKey(t *testing.T) {
	r := NewRegistry()

	if err := r.Create(context.Background(), engine.ProvisionTask{Key: "nocolon"}); err == nil {
		t.Fatal("expected an error for a malformed key")
	}
}
