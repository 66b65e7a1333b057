package provider

import (
	"context"
	"fmt"
)

// Registry holds the configured providers and designates the primary one
// used for outbound calls.
type Registry struct {
	providers map[Name]Provider
	primary   Name
}

func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[Name]Provider),
	}
}

// Register adds a provider. The first registered provider becomes primary.
func (r *Registry) Register(p Provider) {
	r.providers[p.GetName()] = p
	if r.primary == "" {
		r.primary = p.GetName()
	}
}

// Get returns a provider by name.
func (r *Registry) Get(name Name) (Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("payment provider %s not registered", name)
	}
	return p, nil
}

// Primary returns the provider outbound calls go through.
func (r *Registry) Primary() (Provider, error) {
	if r.primary == "" {
		return nil, fmt.Errorf("no payment provider configured")
	}
	return r.Get(r.primary)
}

// SetPrimary switches the primary provider.
func (r *Registry) SetPrimary(name Name) error {
	if _, ok := r.providers[name]; !ok {
		return fmt.Errorf("payment provider %s not registered", name)
	}
	r.primary = name
	return nil
}

// Names lists the registered providers.
func (r *Registry) Names() []Name {
	names := make([]Name, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}

// Close shuts down every registered provider.
func (r *Registry) Close(ctx context.Context) error {
	var firstErr error
	for _, p := range r.providers {
		if err := p.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
