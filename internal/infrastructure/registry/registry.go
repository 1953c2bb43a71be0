package registry

import (
	"sort"
	"sync"

	"github.com/caseproof/evidence-backend/internal/domain/errors"
)

// entry is one registered service.
type entry struct {
	instance interface{}
	ready    bool
}

// Registry is the name-to-instance service directory. Registration is
// idempotent for the same instance; re-registering a name with a different
// instance is a conflict, which catches double-wiring at startup.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Register adds a service under a name, initially not ready.
func (r *Registry) Register(name string, instance interface{}) error {
	if name == "" {
		return errors.NewMalformedRequestError("service name is required")
	}
	if instance == nil {
		return errors.NewMalformedRequestError("service instance is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.entries[name]; ok {
		if existing.instance == instance {
			return nil
		}
		return errors.NewConflictError("service name already registered").
			WithDetail("name", name)
	}
	r.entries[name] = entry{instance: instance}
	return nil
}

// MarkReady flips a registered service to ready.
func (r *Registry) MarkReady(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[name]
	if !ok {
		return errors.NewNotFoundError("service")
	}
	e.ready = true
	r.entries[name] = e
	return nil
}

// Lookup returns a service instance by name, ready or not.
func (r *Registry) Lookup(name string) (interface{}, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[name]
	if !ok {
		return nil, errors.NewNotFoundError("service")
	}
	return e.instance, nil
}

// Ready reports whether a named service is registered and ready.
func (r *Registry) Ready(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return ok && e.ready
}

// Names returns the registered service names sorted for stable output.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AllReady reports whether every registered service is ready; readiness
// endpoints gate on this.
func (r *Registry) AllReady() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, e := range r.entries {
		if !e.ready {
			return false
		}
	}
	return len(r.entries) > 0
}
