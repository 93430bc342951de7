package provider

import (
	"github.com/tierd-ai/tierd/pkg/config"
)

// Registry resolves provider ids to Provider instances.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry builds HTTP providers for every config entry.
func NewRegistry(cfgs []config.ProviderConfig) *Registry {
	r := &Registry{providers: make(map[string]Provider, len(cfgs))}
	for _, cfg := range cfgs {
		if cfg.ID == "" {
			continue
		}
		r.providers[cfg.ID] = NewHTTP(cfg)
	}
	return r
}

// Register adds or replaces a provider. Useful for tests and custom backends.
func (r *Registry) Register(p Provider) {
	r.providers[p.ID()] = p
}

// Resolve returns the provider for id.
func (r *Registry) Resolve(id string) (Provider, bool) {
	p, ok := r.providers[id]
	return p, ok
}

// IDs returns all registered provider ids.
func (r *Registry) IDs() []string {
	out := make([]string, 0, len(r.providers))
	for id := range r.providers {
		out = append(out, id)
	}
	return out
}
