package store

import (
	"context"
	"sync"

	"github.com/sigweihq/simchain/pkg/chains"
	"github.com/sigweihq/simchain/pkg/identity"
)

// MemoryAliasStore keeps aliases in process memory, keyed by normalized phone number.
// Aliases are unique: one alias maps to at most one phone number.
type MemoryAliasStore struct {
	mu      sync.RWMutex
	aliases map[string]string // sim -> alias
	owners  map[string]string // alias -> sim
}

// Verify MemoryAliasStore implements chains.AliasStore
var _ chains.AliasStore = (*MemoryAliasStore)(nil)

// NewMemoryAliasStore creates an empty store
func NewMemoryAliasStore() *MemoryAliasStore {
	return &MemoryAliasStore{
		aliases: make(map[string]string),
		owners:  make(map[string]string),
	}
}

// GetAlias implements chains.AliasStore. An unknown sim has the empty alias.
func (s *MemoryAliasStore) GetAlias(ctx context.Context, sim string) (string, error) {
	normalized, err := identity.NormalizeSim(sim)
	if err != nil {
		return "", err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.aliases[normalized], nil
}

// SetAlias implements chains.AliasStore
func (s *MemoryAliasStore) SetAlias(ctx context.Context, sim, alias string) error {
	normalized, err := identity.NormalizeSim(sim)
	if err != nil {
		return err
	}
	if err := identity.ValidateAlias(alias); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if owner, taken := s.owners[alias]; taken && owner != normalized {
		return chains.Errorf(chains.ErrValidation, "", "setAlias", "alias %q is already taken", alias)
	}
	if previous, ok := s.aliases[normalized]; ok {
		delete(s.owners, previous)
	}
	s.aliases[normalized] = alias
	s.owners[alias] = normalized
	return nil
}

// LookupAlias returns the phone number that owns alias
func (s *MemoryAliasStore) LookupAlias(ctx context.Context, alias string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sim, ok := s.owners[alias]
	return sim, ok
}
