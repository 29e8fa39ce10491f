package search

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubFacets struct {
	facets Facets
	calls  int
}

func (s *stubFacets) Compute(ctx context.Context, exp Expansion, q SearchQuery) Facets {
	s.calls++
	return s.facets
}

type stubTags struct {
	tags   []string
	err    error
	tokens []string
}

func (s *stubTags) SuggestTags(ctx context.Context, tokens []string, limit int) ([]string, error) {
	s.tokens = tokens
	if s.err != nil {
		return nil, s.err
	}
	return Paginate(s.tags, limit, 0), nil
}

type serviceFixture struct {
	service   *Service
	telemetry *memTelemetryStore
	saved     *memSavedStore
	synonyms  *memSynonymStore
	tags      *stubTags
	facets    *stubFacets
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	synonyms := newMemSynonymStore(map[string][]string{"german shepherd": {"gsd", "alsatian"}})
	graph := NewSynonymGraph(synonyms, nopLogger())

	registry := NewRegistry(
		&matchingStrategy{entityType: EntityPosts, docs: []SearchResult{
			{EntityType: EntityPosts, ID: "b1", Title: "German Shepherd puppy diary", Relevance: 2.0, Type: PostResultType},
			{EntityType: EntityPosts, ID: "b2", Title: "Alsatian at the lake", Relevance: 0.5, Type: PostResultType},
		}},
		&matchingStrategy{entityType: EntityWiki, docs: []SearchResult{
			{EntityType: EntityWiki, ID: "w1", Title: "German Shepherd", Relevance: 3.0, Type: "breed"},
		}},
		&matchingStrategy{entityType: EntityPets, docs: []SearchResult{
			{EntityType: EntityPets, ID: "p1", Title: "GSD Rex", Relevance: 1.0, Type: "dog"},
		}},
	)
	engine := NewEngine(registry, EngineConfig{}, nopLogger(), nil)
	pipeline := NewPipeline(graph, engine)

	telemetry := &memTelemetryStore{}
	saved := newMemSavedStore()
	tags := &stubTags{tags: []string{"dogs", "dog-training", "dog-parks", "doggo", "dogsitting", "dogfood"}}
	facets := &stubFacets{facets: Facets{
		Species:   map[string]int{"dog": 1},
		Tags:      map[string]int{"training": 2},
		PostTypes: map[string]int{"story": 1},
	}}

	svc := NewService(ServiceDeps{
		Pipeline:       pipeline,
		Synonyms:       graph,
		Facets:         facets,
		Tags:           tags,
		Telemetry:      NewTelemetryRecorder(telemetry, true, time.Second, nopLogger(), nil),
		TelemetryStore: telemetry,
		Saved:          saved,
		Checker:        NewAlertChecker(saved, pipeline, nil, AlertCheckerConfig{}, nopLogger(), nil),
		Suggester:      NewSuggester(nil, nil, graph, nopLogger()),
		Logger:         nopLogger(),
	})
	return &serviceFixture{service: svc, telemetry: telemetry, saved: saved, synonyms: synonyms, tags: tags, facets: facets}
}

func (f *serviceFixture) waitForTelemetry(t *testing.T, n int) []TelemetryRecord {
	t.Helper()
	require.Eventually(t, func() bool { return len(f.telemetry.snapshot()) >= n }, time.Second, 10*time.Millisecond)
	return f.telemetry.snapshot()
}

func TestServiceSearchExpandsSynonyms(t *testing.T) {
	f := newServiceFixture(t)

	resp, err := f.service.Search(context.Background(), SearchQuery{Text: " gsd ", Limit: 20}, RequestMeta{IPAddress: "10.1.1.1", UserAgent: "test"})
	require.NoError(t, err)

	assert.Equal(t, "gsd", resp.Query)
	assert.Equal(t, "gsd german shepherd alsatian", resp.ExpandedQuery)
	assert.Equal(t, 4, resp.Pagination.Total)
	require.Len(t, resp.Hits, 4)
	assert.Equal(t, "p1", resp.Hits[0].ID)
	assert.Equal(t, "w1", resp.Hits[1].ID)
	for i := 1; i < len(resp.Hits); i++ {
		assert.GreaterOrEqual(t, resp.Hits[i-1].Relevance, resp.Hits[i].Relevance)
	}
	assert.Nil(t, resp.Suggestions)
	assert.Equal(t, 1, resp.Facets.Species["dog"])

	records := f.waitForTelemetry(t, 1)
	assert.Equal(t, "gsd", records[0].Query)
	assert.Equal(t, 4, records[0].ResultCount)
	assert.True(t, records[0].HasResults)
	require.NotNil(t, records[0].IPAddress)
	assert.Equal(t, "10.1.1.1", *records[0].IPAddress)
}

func TestServiceSearchZeroResults(t *testing.T) {
	f := newServiceFixture(t)

	resp, err := f.service.Search(context.Background(), SearchQuery{Text: "xyzabc123", Limit: 20}, RequestMeta{})
	require.NoError(t, err)
	assert.Empty(t, resp.Hits)
	assert.Equal(t, 0, resp.Pagination.Total)
	require.NotNil(t, resp.Suggestions)
	assert.Contains(t, resp.Suggestions.Message, "xyzabc123")
	assert.Len(t, resp.Suggestions.Tags, 5)
	assert.Equal(t, []string{"xyzabc123"}, f.tags.tokens)

	records := f.waitForTelemetry(t, 1)
	assert.True(t, records[0].ZeroResultQuery)
	assert.False(t, records[0].HasResults)
	assert.Nil(t, records[0].IPAddress)
}

func TestServiceSearchTagSuggestionFailureStillAnswers(t *testing.T) {
	f := newServiceFixture(t)
	f.tags.err = errors.New("timeout")

	resp, err := f.service.Search(context.Background(), SearchQuery{Text: "nothing here", Limit: 20}, RequestMeta{})
	require.NoError(t, err)
	require.NotNil(t, resp.Suggestions)
	assert.Empty(t, resp.Suggestions.Tags)
	assert.NotNil(t, resp.Suggestions.Tags)
}

func TestServiceSearchTypesAndPagination(t *testing.T) {
	f := newServiceFixture(t)

	resp, err := f.service.Search(context.Background(), SearchQuery{
		Text:   "gsd",
		Types:  []EntityType{EntityPosts, EntityWiki},
		Limit:  1,
		Offset: 1,
	}, RequestMeta{})
	require.NoError(t, err)
	require.Len(t, resp.Hits, 1)
	assert.Equal(t, 1, resp.Pagination.Limit)
	assert.Equal(t, 1, resp.Pagination.Offset)
	for _, h := range resp.Hits {
		assert.Contains(t, []EntityType{EntityPosts, EntityWiki}, h.EntityType)
	}
}

func TestServiceSearchValidation(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		q     SearchQuery
		field string
	}{
		{"empty", SearchQuery{Text: "   ", Limit: 20}, "q"},
		{"limit too large", SearchQuery{Text: "dog", Limit: 101}, "limit"},
		{"limit zero", SearchQuery{Text: "dog", Limit: 0}, "limit"},
		{"negative offset", SearchQuery{Text: "dog", Limit: 10, Offset: -1}, "offset"},
		{"bad radius", SearchQuery{Text: "dog", Limit: 10, Geo: &GeoPoint{Lat: 1, Lng: 1, RadiusKm: -1}}, "radius"},
		{"bad lat", SearchQuery{Text: "dog", Limit: 10, Geo: &GeoPoint{Lat: 100, Lng: 1, RadiusKm: 1}}, "lat"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.service.Search(ctx, tt.q, RequestMeta{})
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
	assert.Equal(t, 0, f.facets.calls)
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, f.telemetry.snapshot())
}

func TestServiceSynonymUpsertAffectsExpansion(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	_, err := f.service.UpsertSynonyms(ctx, "Puppy", []string{"gsd"})
	require.NoError(t, err)

	resp, err := f.service.Search(ctx, SearchQuery{Text: "puppy", Limit: 20}, RequestMeta{})
	require.NoError(t, err)
	assert.Equal(t, "puppy gsd", resp.ExpandedQuery)

	entries, err := f.service.ListSynonyms(ctx, 10, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestServiceSavedSearchLifecycle(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	user := "u1"

	saved, err := f.service.CreateSavedSearch(ctx, SavedSearchInput{UserID: &user, Query: "gsd", EntityTypes: []string{"posts", "wiki"}})
	require.NoError(t, err)
	assert.Equal(t, "gsd", saved.Name)

	result, err := f.service.CheckSavedSearch(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, result.NewResultsCount)

	result, err = f.service.CheckSavedSearch(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, result.NewResultsCount)

	name := "Shepherds"
	updated, err := f.service.UpdateSavedSearch(ctx, saved.ID, SavedSearchPatch{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "Shepherds", updated.Name)

	list, err := f.service.ListSavedSearches(ctx, &user, 10, 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, f.service.DeleteSavedSearch(ctx, saved.ID))
	_, err = f.service.GetSavedSearch(ctx, saved.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.service.CheckSavedSearch(ctx, saved.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestServiceListTelemetry(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	f.service.RecordTelemetry(ctx, NewTelemetryRecord("a", 0, nil, Filters{}, "", "", 0))
	f.service.RecordTelemetry(ctx, NewTelemetryRecord("b", 2, nil, Filters{}, "", "", 0))
	f.waitForTelemetry(t, 2)

	page, err := f.service.ListTelemetry(ctx, 10, 0, true)
	require.NoError(t, err)
	assert.Equal(t, 1, page.Pagination.Total)
	assert.Equal(t, "a", page.Records[0].Query)
}
