package chains

import (
	"fmt"
	"sort"
)

// Registry holds the chain adapters keyed by chain id.
// It is built once at startup and never mutated afterwards, so it is safe for concurrent reads.
type Registry struct {
	adapters  map[string]ChainAdapter
	authority string
}

// NewRegistry builds a registry from the authority adapter and any number of secondary adapters.
// Duplicate chain ids are rejected.
func NewRegistry(authority ChainAdapter, others ...ChainAdapter) (*Registry, error) {
	if authority == nil {
		return nil, fmt.Errorf("authority adapter is required")
	}

	r := &Registry{
		adapters:  make(map[string]ChainAdapter, len(others)+1),
		authority: authority.ChainID(),
	}

	for _, adapter := range append([]ChainAdapter{authority}, others...) {
		if adapter == nil {
			return nil, fmt.Errorf("nil adapter")
		}
		id := adapter.ChainID()
		if id == "" {
			return nil, fmt.Errorf("adapter has empty chain id")
		}
		if _, exists := r.adapters[id]; exists {
			return nil, fmt.Errorf("duplicate adapter for chain: %s", id)
		}
		r.adapters[id] = adapter
	}

	return r, nil
}

// Get retrieves a chain adapter by chain id
func (r *Registry) Get(chainID string) (ChainAdapter, error) {
	adapter, exists := r.adapters[chainID]
	if !exists {
		return nil, Errorf(ErrUnsupportedChain, chainID, "", "no adapter registered for chain: %s", chainID)
	}
	return adapter, nil
}

// Authority returns the adapter of the authority chain
func (r *Registry) Authority() ChainAdapter {
	return r.adapters[r.authority]
}

// AuthorityID returns the chain id of the authority chain
func (r *Registry) AuthorityID() string {
	return r.authority
}

// IsAuthority reports whether chainID is the authority chain
func (r *Registry) IsAuthority(chainID string) bool {
	return chainID == r.authority
}

// SupportedChains returns all registered chain ids, sorted
func (r *Registry) SupportedChains() []string {
	ids := make([]string, 0, len(r.adapters))
	for id := range r.adapters {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// IsSupported checks if a chain is registered
func (r *Registry) IsSupported(chainID string) bool {
	_, exists := r.adapters[chainID]
	return exists
}
