package llm

import (
	"fmt"
	"slices"
)

// ProviderInfo is one row of the provider listing.
type ProviderInfo struct {
	ID     string   `json:"id"`
	Models []string `json:"models"`
}

// Registry maps provider identifiers to Providers. It is built once at
// startup and read-only afterwards; Resolve performs a pure lookup.
type Registry struct {
	ordered []Provider
	byID    map[string]Provider
}

// NewRegistry builds a registry from the given providers, preserving order.
// Nil entries are skipped so callers can pass conditionally-built providers.
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{byID: make(map[string]Provider)}
	for _, p := range providers {
		if p == nil {
			continue
		}
		if _, dup := r.byID[p.ID()]; dup {
			continue
		}
		r.ordered = append(r.ordered, p)
		r.byID[p.ID()] = p
	}
	return r
}

// Resolve validates the provider/model pair and opens a Client for it.
// It fails with ErrUnknownProvider or ErrUnknownModel before any transport
// work happens.
func (r *Registry) Resolve(providerID, modelID string) (Client, error) {
	p, ok := r.byID[providerID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, providerID)
	}
	if !slices.Contains(p.Models(), modelID) {
		return nil, fmt.Errorf("%w: %q for provider %q", ErrUnknownModel, modelID, providerID)
	}
	return p.Open(modelID), nil
}

// Providers lists registered providers in registration order. The result is
// stable across calls within a process lifetime.
func (r *Registry) Providers() []ProviderInfo {
	infos := make([]ProviderInfo, 0, len(r.ordered))
	for _, p := range r.ordered {
		infos = append(infos, ProviderInfo{
			ID:     p.ID(),
			Models: slices.Clone(p.Models()),
		})
	}
	return infos
}
