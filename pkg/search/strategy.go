package search

import (
	"context"
	"database/sql"
)

// Reader runs read-only content queries. A *sql.DB satisfies it, as does the
// Postgres connection manager, which picks a replica for every query.
type Reader interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

// StrategyRequest is the immutable input handed to every strategy
type StrategyRequest struct {
	Expansion Expansion
	// Limit is the per-type budget; strategies always start at offset 0
	Limit   int
	Filters Filters
	Geo     *GeoPoint
}

// Strategy searches one entity type
type Strategy interface {
	EntityType() EntityType
	Search(ctx context.Context, req StrategyRequest) ([]SearchResult, error)
}

// Registry maps entity types to their strategies. Registration order is the
// order results are concatenated in before sorting.
type Registry struct {
	order      []EntityType
	strategies map[EntityType]Strategy
}

// NewRegistry creates a registry holding strategies
func NewRegistry(strategies ...Strategy) *Registry {
	r := &Registry{strategies: make(map[EntityType]Strategy)}
	for _, s := range strategies {
		r.Register(s)
	}
	return r
}

// Register adds or replaces the strategy for its entity type
func (r *Registry) Register(s Strategy) {
	t := s.EntityType()
	if _, exists := r.strategies[t]; !exists {
		r.order = append(r.order, t)
	}
	r.strategies[t] = s
}

// Get returns the strategy for t
func (r *Registry) Get(t EntityType) (Strategy, bool) {
	s, ok := r.strategies[t]
	return s, ok
}

// Resolve returns the registered strategies for types, in registry order.
// Types without a strategy are skipped.
func (r *Registry) Resolve(types []EntityType) []Strategy {
	out := make([]Strategy, 0, len(types))
	for _, t := range r.order {
		if containsType(types, t) {
			out = append(out, r.strategies[t])
		}
	}
	return out
}

// Types lists registered entity types in registration order
func (r *Registry) Types() []EntityType {
	return append([]EntityType(nil), r.order...)
}
