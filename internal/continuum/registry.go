package continuum

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
)

// Factory constructs a continuum. Initialize is called by the registry.
type Factory func() (Continuum, error)

// Registry lazily constructs, initializes and memoizes one continuum per name.
type Registry struct {
	mu        sync.Mutex
	factories map[string]Factory
	instances map[string]Continuum
	order     []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		instances: make(map[string]Continuum),
	}
}

// Register installs the factory for name, replacing any earlier factory.
// An instance that already exists is not affected.
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Registered reports whether name has a factory or an instance.
func (r *Registry) Registered(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.factories[name]; ok {
		return true
	}
	_, ok := r.instances[name]
	return ok
}

// Add stores an already constructed and initialized continuum.
func (r *Registry) Add(c Continuum) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.instances[c.Name()]; exists {
		return errors.Newf("continuum %q already registered", c.Name())
	}
	r.instances[c.Name()] = c
	r.order = append(r.order, c.Name())
	return nil
}

// Get returns the continuum registered under name, constructing and
// initializing it on first use. Concurrent callers get the same instance.
// A failed construction is not memoized.
func (r *Registry) Get(ctx context.Context, name string) (Continuum, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.instances[name]; ok {
		return c, nil
	}

	factory, ok := r.factories[name]
	if !ok {
		return nil, errors.Wrapf(ErrNotFound, "continuum %q", name)
	}

	c, err := factory()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create continuum %q", name)
	}
	if err := c.Initialize(ctx); err != nil {
		return nil, errors.Wrapf(err, "failed to initialize continuum %q", name)
	}

	r.instances[name] = c
	r.order = append(r.order, name)
	return c, nil
}

// All returns every constructed continuum in creation order.
func (r *Registry) All() []Continuum {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := make([]Continuum, 0, len(r.order))
	for _, name := range r.order {
		result = append(result, r.instances[name])
	}
	return result
}

// Lookup returns the continuum that currently holds the entry with id.
func (r *Registry) Lookup(id string) (Continuum, bool) {
	for _, c := range r.All() {
		if _, ok := c.GetEntry(id); ok {
			return c, true
		}
	}
	return nil, false
}
