package search

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/pawprint/pkg/observability"
)

func newTestEngine(cfg EngineConfig, strategies ...Strategy) *Engine {
	return NewEngine(NewRegistry(strategies...), cfg, observability.NopLogger(), nil)
}

func TestEngineBudget(t *testing.T) {
	e := newTestEngine(EngineConfig{})
	assert.Equal(t, 20, e.Budget(20, 1))
	assert.Equal(t, 4, e.Budget(20, 5))
	assert.Equal(t, 7, e.Budget(20, 3))
	assert.Equal(t, 1, e.Budget(1, 5))

	full := newTestEngine(EngineConfig{FullFetch: true})
	assert.Equal(t, 20, full.Budget(20, 5))
}

func TestEngineSearchMergesByRelevance(t *testing.T) {
	places := &stubStrategy{entityType: EntityPlaces, results: results(EntityPlaces, 0.9, 0.2)}
	pets := &stubStrategy{entityType: EntityPets, results: results(EntityPets, 1.0, 0.5)}
	e := newTestEngine(EngineConfig{}, places, pets)

	merged := e.Search(context.Background(), PlainExpansion("dog"), SearchQuery{
		Types: []EntityType{EntityPlaces, EntityPets},
		Limit: 10,
	})

	assert.Equal(t, 4, merged.Total)
	require.Len(t, merged.Hits, 4)
	var scores []float64
	for _, h := range merged.Hits {
		scores = append(scores, h.Relevance)
	}
	assert.Equal(t, []float64{1.0, 0.9, 0.5, 0.2}, scores)
	assert.Equal(t, 5, places.lastRequest().Limit)
}

func TestEngineSearchTiesKeepRegistryOrder(t *testing.T) {
	pets := &stubStrategy{entityType: EntityPets, results: results(EntityPets, 1.0)}
	groups := &stubStrategy{entityType: EntityGroups, results: results(EntityGroups, 1.0)}
	e := newTestEngine(EngineConfig{}, pets, groups)

	merged := e.Search(context.Background(), PlainExpansion("dog"), SearchQuery{
		Types: []EntityType{EntityGroups, EntityPets},
		Limit: 10,
	})
	require.Len(t, merged.Hits, 2)
	assert.Equal(t, EntityPets, merged.Hits[0].EntityType)
	assert.Equal(t, EntityGroups, merged.Hits[1].EntityType)
}

func TestEngineSearchNormalizesRawRanks(t *testing.T) {
	posts := &stubStrategy{entityType: EntityPosts, results: results(EntityPosts, 3.0)}
	places := &stubStrategy{entityType: EntityPlaces, results: results(EntityPlaces, 0.8)}
	e := newTestEngine(EngineConfig{}, posts, places)

	merged := e.Search(context.Background(), PlainExpansion("dog"), SearchQuery{Limit: 10})
	require.Len(t, merged.Hits, 2)
	for _, h := range merged.Hits {
		assert.GreaterOrEqual(t, h.Relevance, 0.0)
		assert.LessOrEqual(t, h.Relevance, 1.0)
	}
	assert.Equal(t, EntityPlaces, merged.Hits[0].EntityType)
	assert.InDelta(t, 0.75, merged.Hits[1].Relevance, 1e-9)
}

func TestEngineSearchPagination(t *testing.T) {
	pets := &stubStrategy{entityType: EntityPets, results: results(EntityPets, 0.9, 0.8, 0.7, 0.6, 0.5)}
	e := newTestEngine(EngineConfig{}, pets)
	ctx := context.Background()

	merged := e.Search(ctx, PlainExpansion("dog"), SearchQuery{Types: []EntityType{EntityPets}, Limit: 2, Offset: 1})
	assert.Equal(t, 5, merged.Total)
	require.Len(t, merged.Hits, 2)
	assert.Equal(t, 0.8, merged.Hits[0].Relevance)
	assert.Equal(t, 0.7, merged.Hits[1].Relevance)

	merged = e.Search(ctx, PlainExpansion("dog"), SearchQuery{Types: []EntityType{EntityPets}, Limit: 10, Offset: 50})
	assert.Equal(t, 5, merged.Total)
	assert.Empty(t, merged.Hits)
	assert.NotNil(t, merged.Hits)
}

func TestEngineSearchTruncatesOverfetchingStrategy(t *testing.T) {
	pets := &stubStrategy{entityType: EntityPets, results: results(EntityPets, 0.9, 0.8, 0.7, 0.6, 0.5)}
	groups := &stubStrategy{entityType: EntityGroups, results: results(EntityGroups, 0.4)}
	e := newTestEngine(EngineConfig{}, pets, groups)

	merged := e.Search(context.Background(), PlainExpansion("dog"), SearchQuery{
		Types: []EntityType{EntityPets, EntityGroups},
		Limit: 4,
	})
	// budget is 2 per type
	assert.Equal(t, 3, merged.Total)
	assert.LessOrEqual(t, len(merged.Hits), 4)
}

func TestEngineSearchAbsorbsStrategyFailures(t *testing.T) {
	tests := []struct {
		name   string
		broken *stubStrategy
	}{
		{"error", &stubStrategy{entityType: EntityPosts, err: errors.New("relation does not exist")}},
		{"panic", &stubStrategy{entityType: EntityPosts, panics: true}},
		{"timeout", &stubStrategy{entityType: EntityPosts, delay: time.Second, results: results(EntityPosts, 1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pets := &stubStrategy{entityType: EntityPets, results: results(EntityPets, 1.0)}
			e := newTestEngine(EngineConfig{StrategyTimeout: 50 * time.Millisecond}, tt.broken, pets)

			merged := e.Search(context.Background(), PlainExpansion("dog"), SearchQuery{
				Types: []EntityType{EntityPosts, EntityPets},
				Limit: 10,
			})
			assert.Equal(t, 1, merged.Total)
			require.Len(t, merged.Hits, 1)
			assert.Equal(t, EntityPets, merged.Hits[0].EntityType)
		})
	}
}

func TestEngineSearchOnlyRunsRequestedTypes(t *testing.T) {
	posts := &stubStrategy{entityType: EntityPosts}
	pets := &stubStrategy{entityType: EntityPets, results: results(EntityPets, 1.0)}
	e := newTestEngine(EngineConfig{}, posts, pets)

	e.Search(context.Background(), PlainExpansion("dog"), SearchQuery{Types: []EntityType{EntityPets}, Limit: 5})
	assert.Empty(t, posts.requests)
	assert.Len(t, pets.requests, 1)
	assert.Equal(t, 5, pets.lastRequest().Limit)
}

func TestPaginate(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}
	assert.Equal(t, []int{1, 2}, Paginate(items, 2, 0))
	assert.Equal(t, []int{4, 5}, Paginate(items, 10, 3))
	assert.Equal(t, []int{}, Paginate(items, 2, 5))
	assert.Equal(t, []int{}, Paginate(items, 0, 0))
}

func TestScorePolicy(t *testing.T) {
	p := DefaultScorePolicy()
	assert.Equal(t, 0.5, p.Normalize(EntityPosts, 1))
	assert.Equal(t, 0.0, p.Normalize(EntityWiki, -1))
	assert.Equal(t, 1.0, p.Normalize(EntityPets, 3))
	assert.Equal(t, 0.3, p.Normalize(EntityType("unknown"), 0.3))
	assert.Equal(t, 1.0, SaturatingRank(math.Inf(1)))
	assert.Equal(t, 0.0, Clamp(math.NaN()))
}

func TestRegistryResolve(t *testing.T) {
	posts := &stubStrategy{entityType: EntityPosts}
	wiki := &stubStrategy{entityType: EntityWiki}
	pets := &stubStrategy{entityType: EntityPets}
	r := NewRegistry(posts, wiki, pets)

	got := r.Resolve([]EntityType{EntityPets, EntityPosts, EntityPlaces})
	require.Len(t, got, 2)
	assert.Equal(t, EntityPosts, got[0].EntityType())
	assert.Equal(t, EntityPets, got[1].EntityType())
	assert.Equal(t, []EntityType{EntityPosts, EntityWiki, EntityPets}, r.Types())
}
