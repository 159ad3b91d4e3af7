package engine

import (
	"context"
	"sync"
)

// Gate executes first-run provisioning tasks at most once per logical
// resource key. Within one engine instance a per-key lock serializes
// concurrent callers and a done set short-circuits repeats; across runs the
// existence re-check carries the guarantee, because the created resource
// itself lives in the external collaborator.
type Gate struct {
	provisioner Provisioner

	mu    sync.Mutex
	locks map[string]*sync.Mutex
	done  map[string]bool
}

// NewGate creates a gate over the given provisioner.
func NewGate(provisioner Provisioner) *Gate {
	return &Gate{
		provisioner: provisioner,
		locks:       make(map[string]*sync.Mutex),
		done:        make(map[string]bool),
	}
}

// Ensure brings the task's logical resource into existence at most once.
// The existence check runs immediately before any create, closing the race
// between check and act, and a create is re-verified before Ensure reports
// ProvisionCreated. A present resource is the common idempotent path on
// every re-run and reports ProvisionAlreadyExists without error.
func (g *Gate) Ensure(ctx context.Context, task ProvisionTask) (ProvisionOutcome, error) {
	if g.provisioner == nil {
		return ProvisionFailed, NewProvisioningError(
			"no provisioner configured", nil).
			WithCode(ErrCodeNoProvisioner).
			WithDetail("key", task.Key)
	}

	lock := g.keyLock(task.Key)
	lock.Lock()
	defer lock.Unlock()

	if g.isDone(task.Key) {
		return ProvisionAlreadyExists, nil
	}

	exists, err := g.provisioner.Exists(ctx, task)
	if err != nil {
		return ProvisionFailed, NewProvisioningError(
			"existence check failed", err).
			WithOperation("exists").
			WithCode(ErrCodeProvisionFailed).
			WithDetail("key", task.Key)
	}
	if exists {
		g.markDone(task.Key)
		return ProvisionAlreadyExists, nil
	}

	if err := g.provisioner.Create(ctx, task); err != nil {
		return ProvisionFailed, NewProvisioningError(
			"create failed", err).
			WithOperation("create").
			WithCode(ErrCodeProvisionFailed).
			WithDetail("key", task.Key)
	}

	exists, err = g.provisioner.Exists(ctx, task)
	if err != nil {
		return ProvisionFailed, NewProvisioningError(
			"verification after create failed", err).
			WithOperation("verify").
			WithCode(ErrCodeProvisionFailed).
			WithDetail("key", task.Key)
	}
	if !exists {
		return ProvisionFailed, NewProvisioningError(
			"create reported success but resource is absent", nil).
			WithOperation("verify").
			WithCode(ErrCodeProvisionNoVerify).
			WithDetail("key", task.Key)
	}

	g.markDone(task.Key)
	return ProvisionCreated, nil
}

// keyLock returns the serialization lock for one resource key.
func (g *Gate) keyLock(key string) *sync.Mutex {
	g.mu.Lock()
	defer g.mu.Unlock()
	lock, ok := g.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		g.locks[key] = lock
	}
	return lock
}

func (g *Gate) isDone(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.done[key]
}

func (g *Gate) markDone(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.done[key] = true
}
