package search

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/pawprint/pkg/catalog"
)

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func testCatalog() *catalog.Memory {
	return catalog.NewMemory(
		[]catalog.Pet{
			{ID: "p1", Name: "Rex", Species: "dog", Breed: "German Shepherd", Bio: "Loves the park"},
			{ID: "p2", Name: "Shadow", Species: "dog", Breed: "Labrador", Bio: "Best friend of a german shepherd"},
			{ID: "p3", Name: "Mittens", Species: "cat", Breed: "Tabby", Bio: "Sleeps all day"},
			{ID: "p4", Name: "Shepherd's Pie", Species: "cat", Breed: "Persian", Bio: "Named after dinner"},
		},
		[]catalog.Group{
			{ID: "g1", Name: "City Dog Walkers", Description: "Morning walks", Tags: []string{"dogs", "walking"}, MemberCount: 12},
			{ID: "g2", Name: "Cat Lovers", Description: "Everything about cats and the odd dog", Tags: []string{"cats"}, MemberCount: 40},
			{ID: "g3", Name: "Trainers", Description: "Positive training", Tags: []string{"dog training"}, MemberCount: 7},
		},
	)
}

func TestPetsStrategy(t *testing.T) {
	s := NewPetsStrategy(testCatalog())
	ctx := context.Background()

	t.Run("name matches rank before breed and bio", func(t *testing.T) {
		got, err := s.Search(ctx, StrategyRequest{Expansion: PlainExpansion("shepherd"), Limit: 10})
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, "p4", got[0].ID)
		assert.Equal(t, "p1", got[1].ID)
		assert.Equal(t, "p2", got[2].ID)
		assert.Equal(t, "cat", got[0].Type)
		assert.Equal(t, 1.0, got[0].Relevance)
	})

	t.Run("species filter applies first", func(t *testing.T) {
		got, err := s.Search(ctx, StrategyRequest{
			Expansion: PlainExpansion("shepherd"),
			Limit:     10,
			Filters:   Filters{Species: "Dog"},
		})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "p1", got[0].ID)
	})

	t.Run("phrase alternatives match", func(t *testing.T) {
		exp := Expansion{Groups: []TermGroup{{Token: "gsd", Alternatives: []string{"gsd", "german shepherd"}}}}
		got, err := s.Search(ctx, StrategyRequest{Expansion: exp, Limit: 10})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "p1", got[0].ID)
	})

	t.Run("limit", func(t *testing.T) {
		got, err := s.Search(ctx, StrategyRequest{Expansion: PlainExpansion("shepherd"), Limit: 1})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "p4", got[0].ID)
	})
}

func TestGroupsStrategy(t *testing.T) {
	s := NewGroupsStrategy(testCatalog())

	got, err := s.Search(context.Background(), StrategyRequest{Expansion: PlainExpansion("dog"), Limit: 10})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "g1", got[0].ID)
	assert.Equal(t, "g3", got[1].ID)
	assert.Equal(t, "g2", got[2].ID)
	assert.Equal(t, "group", got[0].Type)
	assert.Equal(t, 12, got[0].Extra["memberCount"])
}

type failingCatalog struct{}

func (failingCatalog) ListPets(ctx context.Context) ([]catalog.Pet, error) {
	return nil, errors.New("catalog unavailable")
}

func (failingCatalog) ListGroups(ctx context.Context) ([]catalog.Group, error) {
	return nil, errors.New("catalog unavailable")
}

func (failingCatalog) Ping(ctx context.Context) error { return errors.New("catalog unavailable") }

func TestCatalogStrategiesPropagateErrors(t *testing.T) {
	_, err := NewPetsStrategy(failingCatalog{}).Search(context.Background(), StrategyRequest{Expansion: PlainExpansion("x"), Limit: 1})
	assert.Error(t, err)
	_, err = NewGroupsStrategy(failingCatalog{}).Search(context.Background(), StrategyRequest{Expansion: PlainExpansion("x"), Limit: 1})
	assert.Error(t, err)
}

func TestPostsStrategy(t *testing.T) {
	db, mock := newMockDB(t)
	s := NewPostsStrategy(db)
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`FROM blog_posts bp`).
		WithArgs("('puppy':*)", sqlmock.AnyArg(), "story", "dog", 5).
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "post_type", "created_at", "rank", "snippet", "tags"}).
			AddRow("b1", "Puppy days", "story", created, 0.4, "our <b>puppy</b>", "{recall,training}"))

	got, err := s.Search(context.Background(), StrategyRequest{
		Expansion: PlainExpansion("puppy"),
		Limit:     5,
		Filters:   Filters{Tags: []string{"training"}, PostType: "story", Species: "dog"},
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, PostResultType, got[0].Type)
	assert.Equal(t, "story", got[0].Extra["postType"])
	assert.Equal(t, []string{"recall", "training"}, got[0].Extra["tags"])
	assert.Equal(t, 0.4, got[0].Relevance)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostsStrategyEmptyQuerySkipsDatabase(t *testing.T) {
	db, mock := newMockDB(t)
	got, err := NewPostsStrategy(db).Search(context.Background(), StrategyRequest{Expansion: PlainExpansion("!!"), Limit: 5})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWikiStrategy(t *testing.T) {
	db, mock := newMockDB(t)
	created := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`FROM articles a`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "slug", "title", "type", "created_at", "rank", "snippet"}).
			AddRow("a1", "crate-training", "Crate training", "guide", created, 1.2, "crate"))

	got, err := NewWikiStrategy(db).Search(context.Background(), StrategyRequest{Expansion: PlainExpansion("crate"), Limit: 3})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "guide", got[0].Type)
	assert.Equal(t, "crate-training", got[0].Extra["slug"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWikiStrategyQueryError(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery(`FROM articles a`).WillReturnError(errors.New("relation does not exist"))

	_, err := NewWikiStrategy(db).Search(context.Background(), StrategyRequest{Expansion: PlainExpansion("crate"), Limit: 3})
	assert.Error(t, err)
}

func TestPlacesStrategyGeo(t *testing.T) {
	db, mock := newMockDB(t)
	created := time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC)

	// Berlin center; Potsdam is ~27km away, Hamburg ~255km
	mock.ExpectQuery(`FROM places p`).
		WithArgs("%park%", "park", 4).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "address", "category", "lat", "lng", "amenities", "created_at"}).
			AddRow("far", "Hamburg Park", "Hamburg", "park", 53.5511, 9.9937, "{}", created).
			AddRow("mid", "Potsdam Park", "Potsdam", "park", 52.3906, 13.0645, "{water}", created).
			AddRow("nocoord", "Lost Park", "", "park", nil, nil, "{}", created).
			AddRow("near", "Tiergarten Park", "Berlin", "park", 52.5145, 13.3501, "{}", created))

	got, err := NewPlacesStrategy(db).Search(context.Background(), StrategyRequest{
		Expansion: PlainExpansion("park"),
		Limit:     2,
		Geo:       &GeoPoint{Lat: 52.52, Lng: 13.405, RadiusKm: 50},
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "near", got[0].ID)
	assert.Equal(t, "mid", got[1].ID)
	assert.Greater(t, got[0].Relevance, got[1].Relevance)
	assert.GreaterOrEqual(t, got[1].Relevance, 0.5)
	assert.Contains(t, got[0].Extra, "distanceKm")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPlacesStrategyWithoutGeo(t *testing.T) {
	db, mock := newMockDB(t)
	created := time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`FROM places p`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "address", "category", "lat", "lng", "amenities", "created_at"}).
			AddRow("x", "Dog Cafe", "Main St", "cafe", nil, nil, "{wifi,water}", created))

	got, err := NewPlacesStrategy(db).Search(context.Background(), StrategyRequest{Expansion: PlainExpansion("water"), Limit: 5})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "cafe", got[0].Type)
	assert.Equal(t, 1.0, got[0].Relevance)
	assert.Equal(t, []string{"wifi", "water"}, got[0].Extra["amenities"])
}

func TestGeoHelpers(t *testing.T) {
	d := Haversine(52.52, 13.405, 48.8566, 2.3522)
	assert.InDelta(t, 878, d, 5)
	assert.Equal(t, 0.0, Haversine(1, 1, 1, 1))

	assert.NoError(t, ValidateCoordinates(90, -180))
	assert.True(t, IsValidation(ValidateCoordinates(91, 0)))
	assert.True(t, IsValidation(ValidateCoordinates(0, 181)))

	assert.Equal(t, 1.0, DistanceRelevance(0, 10))
	assert.Equal(t, 0.5, DistanceRelevance(10, 10))

	in := []Located{
		{Lat: 52.52, Lng: 13.405, Result: SearchResult{ID: "here"}},
		{Lat: 48.8566, Lng: 2.3522, Result: SearchResult{ID: "paris"}},
	}
	out := FilterByRadius(in, GeoPoint{Lat: 52.52, Lng: 13.405, RadiusKm: 10})
	require.Len(t, out, 1)
	assert.Equal(t, "here", out[0].Result.ID)

	assert.True(t, IsValidation(GeoPoint{Lat: 1, Lng: 1, RadiusKm: 0}.Validate()))
	assert.True(t, IsValidation(GeoPoint{RadiusKm: math.NaN()}.Validate()))
	assert.True(t, IsValidation(GeoPoint{RadiusKm: math.Inf(1)}.Validate()))
	assert.True(t, IsValidation(ValidateCoordinates(math.NaN(), 0)))
}

func TestEscapeLike(t *testing.T) {
	assert.Equal(t, `100\%\_dog\\`, escapeLike(`100%_dog\`))
}
