// Package strategy holds the row strategies of each bulk processing type and
// the registry the runner selects them from.
package strategy

import (
	"fmt"
	"slices"
	"sync"

	"github.com/erp/ingest/internal/domain/bulk"
	"github.com/erp/ingest/internal/domain/shared"
)

// StrategyRegistry maps processing types to their row strategies
type StrategyRegistry struct {
	mu         sync.RWMutex
	strategies map[bulk.ProcessingType]bulk.RowStrategy
}

// NewStrategyRegistry creates an empty registry
func NewStrategyRegistry() *StrategyRegistry {
	return &StrategyRegistry{
		strategies: make(map[bulk.ProcessingType]bulk.RowStrategy),
	}
}

// Register adds a strategy. Each processing type may be registered once.
func (r *StrategyRegistry) Register(s bulk.RowStrategy) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t := s.Type()
	if !t.IsValid() {
		return shared.NewValidationError("invalid bulk processing type: %s", t)
	}
	if _, exists := r.strategies[t]; exists {
		return shared.NewConflictError(shared.CodeConflict, fmt.Sprintf("strategy for %s already registered", t))
	}
	r.strategies[t] = s
	return nil
}

// Get returns the strategy for a processing type
func (r *StrategyRegistry) Get(t bulk.ProcessingType) (bulk.RowStrategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, exists := r.strategies[t]
	if !exists {
		return nil, fmt.Errorf("%w: no strategy for bulk processing type %s", shared.ErrNotFound, t)
	}
	return s, nil
}

// Types lists the registered processing types in sorted order
func (r *StrategyRegistry) Types() []bulk.ProcessingType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]bulk.ProcessingType, 0, len(r.strategies))
	for t := range r.strategies {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}

// Unregister removes the strategy of a processing type
func (r *StrategyRegistry) Unregister(t bulk.ProcessingType) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.strategies[t]; !exists {
		return fmt.Errorf("%w: no strategy for bulk processing type %s", shared.ErrNotFound, t)
	}
	delete(r.strategies, t)
	return nil
}
