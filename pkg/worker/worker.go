package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/aegiskernel/aegis/pkg/types"
)

// ErrCapacity is returned when the swarm is at its configured limit
var ErrCapacity = errors.New("worker: capacity exhausted")

// Plugin is the worker contract. Implementations run in an isolated
// execution context: they may perform blocking I/O but must not call back
// into the mission engine or the ledger. Their only channel of effect is
// the returned WorkerResult. Execute must honor ctx cancellation.
type Plugin interface {
	Describe() types.WorkerDescriptor
	Execute(ctx context.Context, task *types.Task) (*types.WorkerResult, error)
}

// Registry is the typed plugin catalog, keyed by worker kind
type Registry struct {
	mu      sync.RWMutex
	plugins map[types.WorkerKind]Plugin
}

// NewRegistry creates an empty plugin registry
func NewRegistry() *Registry {
	return &Registry{plugins: make(map[types.WorkerKind]Plugin)}
}

// Register adds a plugin; a kind may only be registered once
func (r *Registry) Register(p Plugin) error {
	desc := p.Describe()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.plugins[desc.Kind]; exists {
		return fmt.Errorf("worker kind already registered: %s", desc.Kind)
	}
	r.plugins[desc.Kind] = p
	return nil
}

// Get returns the plugin for a kind
func (r *Registry) Get(kind types.WorkerKind) (Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[kind]
	return p, ok
}

// Descriptor returns the descriptor for a kind, or nil when unregistered
func (r *Registry) Descriptor(kind types.WorkerKind) *types.WorkerDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.plugins[kind]
	if !ok {
		return nil
	}
	desc := p.Describe()
	return &desc
}

// Kinds lists the registered worker kinds
func (r *Registry) Kinds() []types.WorkerKind {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]types.WorkerKind, 0, len(r.plugins))
	for k := range r.plugins {
		kinds = append(kinds, k)
	}
	return kinds
}
