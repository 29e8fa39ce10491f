package search

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/pawprint/pkg/observability"
)

const (
	postTagsQuery    = `FROM blog_post_tags t\s+WHERE t.post_id IN`
	articleTagsQuery = `FROM article_tags t\s+WHERE t.article_id IN`
	postTypesQuery   = `SELECT COALESCE\(bp.post_type, ''\), COUNT`
)

func TestFacetAggregatorCompute(t *testing.T) {
	db, mock := newMockDB(t)
	mock.MatchExpectationsInOrder(false)

	mock.ExpectQuery(postTagsQuery).
		WillReturnRows(sqlmock.NewRows([]string{"tag", "count"}).AddRow("training", 3).AddRow("puppies", 1))
	mock.ExpectQuery(articleTagsQuery).
		WillReturnRows(sqlmock.NewRows([]string{"tag", "count"}).AddRow("training", 2).AddRow("health", 4))
	mock.ExpectQuery(postTypesQuery).
		WillReturnRows(sqlmock.NewRows([]string{"post_type", "count"}).AddRow("story", 2).AddRow("question", 2).AddRow("", 1))

	agg := NewFacetAggregator(db, testCatalog(), time.Second, observability.NopLogger(), nil)
	facets := agg.Compute(context.Background(), PlainExpansion("shepherd"), SearchQuery{
		Types: []EntityType{EntityPosts, EntityWiki, EntityPets},
	})

	assert.Equal(t, map[string]int{"training": 5, "puppies": 1, "health": 4}, facets.Tags)
	assert.Equal(t, map[string]int{"story": 2, "question": 2}, facets.PostTypes)
	// matching pets only: Rex, Shadow and Shepherd's Pie
	assert.Equal(t, map[string]int{"dog": 2, "cat": 1}, facets.Species)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFacetAggregatorSpeciesForPostsOnly(t *testing.T) {
	db, mock := newMockDB(t)
	mock.MatchExpectationsInOrder(false)
	mock.ExpectQuery(postTagsQuery).WillReturnRows(sqlmock.NewRows([]string{"tag", "count"}))
	mock.ExpectQuery(postTypesQuery).WillReturnRows(sqlmock.NewRows([]string{"post_type", "count"}))

	agg := NewFacetAggregator(db, testCatalog(), time.Second, observability.NopLogger(), nil)
	facets := agg.Compute(context.Background(), PlainExpansion("walk"), SearchQuery{Types: []EntityType{EntityPosts}})

	assert.Equal(t, map[string]int{"dog": 2, "cat": 2}, facets.Species)
	assert.Empty(t, facets.Tags)
	assert.NotNil(t, facets.Tags)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFacetAggregatorFailedFacetIsEmpty(t *testing.T) {
	db, mock := newMockDB(t)
	mock.MatchExpectationsInOrder(false)
	mock.ExpectQuery(postTagsQuery).WillReturnError(errors.New("canceling statement due to statement timeout"))
	mock.ExpectQuery(postTypesQuery).
		WillReturnRows(sqlmock.NewRows([]string{"post_type", "count"}).AddRow("story", 1))

	agg := NewFacetAggregator(db, failingCatalog{}, time.Second, observability.NopLogger(), nil)
	facets := agg.Compute(context.Background(), PlainExpansion("dog"), SearchQuery{Types: []EntityType{EntityPosts}})

	assert.Equal(t, map[string]int{}, facets.Tags)
	assert.Equal(t, map[string]int{}, facets.Species)
	assert.Equal(t, map[string]int{"story": 1}, facets.PostTypes)
}

func TestFacetAggregatorSkipsInapplicableFacets(t *testing.T) {
	db, mock := newMockDB(t)

	agg := NewFacetAggregator(db, testCatalog(), time.Second, observability.NopLogger(), nil)
	facets := agg.Compute(context.Background(), PlainExpansion("park"), SearchQuery{Types: []EntityType{EntityPlaces, EntityGroups}})

	assert.Equal(t, EmptyFacets(), facets)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFacetAggregatorSuggestTags(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery(`UNION ALL`).
		WithArgs(sqlmock.AnyArg(), 5).
		WillReturnRows(sqlmock.NewRows([]string{"tag"}).AddRow("dog-friendly").AddRow("dogs"))

	agg := NewFacetAggregator(db, testCatalog(), time.Second, observability.NopLogger(), nil)
	tags, err := agg.SuggestTags(context.Background(), []string{"dog", " "}, 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"dog-friendly", "dogs"}, tags)

	tags, err = agg.SuggestTags(context.Background(), []string{" "}, 5)
	require.NoError(t, err)
	assert.Empty(t, tags)
	assert.NoError(t, mock.ExpectationsWereMet())
}
