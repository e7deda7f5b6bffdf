package fsys

import (
	"fmt"
	"sync"
)

// Factory builds an adapter for one host. Factories close over their
// adapter's configuration.
type Factory func(host string) (Filesystem, error)

// Registry maps product names to adapter factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	order     []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds or replaces the factory for product.
func (r *Registry) Register(product string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.factories[product]; !ok {
		r.order = append(r.order, product)
	}
	r.factories[product] = f
}

// Has reports whether product is registered.
func (r *Registry) Has(product string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[product]
	return ok
}

// Products returns registered products in registration order.
func (r *Registry) Products() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// New builds an adapter for host.
func (r *Registry) New(product, host string) (Filesystem, error) {
	r.mu.RLock()
	f, ok := r.factories[product]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProduct, product)
	}

	fs, err := f(host)
	if err != nil {
		return nil, fmt.Errorf("creating %s adapter for %s: %w", product, host, err)
	}
	return fs, nil
}
