package search

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var savedSearchRowColumns = []string{
	"id", "user_id", "name", "query", "entity_types", "filters", "geo",
	"alert_enabled", "last_checked_at", "created_at", "updated_at",
}

const testSavedID = "8b0d5f53-3b7e-4d43-9a3c-4d2b1f7e9c11"

func TestNewSavedSearch(t *testing.T) {
	disabled := false
	tests := []struct {
		name    string
		in      SavedSearchInput
		field   string
		check   func(t *testing.T, s *SavedSearch)
		wantErr bool
	}{
		{
			name: "defaults",
			in:   SavedSearchInput{Query: "  gsd puppies ", EntityTypes: []string{"Posts", "wiki", "posts"}},
			check: func(t *testing.T, s *SavedSearch) {
				assert.Equal(t, "gsd puppies", s.Query)
				assert.Equal(t, "gsd puppies", s.Name)
				assert.True(t, s.AlertEnabled)
				assert.Equal(t, []EntityType{EntityPosts, EntityWiki}, s.EntityTypes)
			},
		},
		{
			name: "alerts can be disabled and filters are normalized",
			in: SavedSearchInput{
				Name:         "Mine",
				Query:        "dog",
				Filters:      Filters{Species: " DOG ", Tags: []string{"Walk", "walk", " "}},
				AlertEnabled: &disabled,
			},
			check: func(t *testing.T, s *SavedSearch) {
				assert.False(t, s.AlertEnabled)
				assert.Equal(t, "dog", s.Filters.Species)
				assert.Equal(t, []string{"walk"}, s.Filters.Tags)
			},
		},
		{name: "unknown type", in: SavedSearchInput{Query: "dog", EntityTypes: []string{"videos"}}, field: "entityTypes", wantErr: true},
		{name: "missing query", in: SavedSearchInput{Query: " "}, field: "query", wantErr: true},
		{name: "zero radius", in: SavedSearchInput{Query: "park", Geo: &GeoPoint{Lat: 1, Lng: 1}}, field: "radius", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewSavedSearch(tt.in)
			if tt.wantErr {
				var verr *ValidationError
				require.ErrorAs(t, err, &verr)
				assert.Equal(t, tt.field, verr.Field)
				return
			}
			require.NoError(t, err)
			tt.check(t, s)
		})
	}
}

func TestSavedSearchApply(t *testing.T) {
	s, err := NewSavedSearch(SavedSearchInput{Query: "park", Geo: &GeoPoint{Lat: 1, Lng: 1, RadiusKm: 2}})
	require.NoError(t, err)

	name := "Parks nearby"
	require.NoError(t, s.Apply(SavedSearchPatch{Name: &name, ClearGeo: true}))
	assert.Equal(t, "Parks nearby", s.Name)
	assert.Nil(t, s.Geo)
	assert.Equal(t, "park", s.Query)

	bad := []string{"places", "nope"}
	assert.True(t, IsValidation(s.Apply(SavedSearchPatch{EntityTypes: &bad})))
}

func TestPostgresSavedSearchStoreCreate(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewPostgresSavedSearchStore(db)

	s, err := NewSavedSearch(SavedSearchInput{Query: "dog park", Geo: &GeoPoint{Lat: 52.5, Lng: 13.4, RadiusKm: 5}})
	require.NoError(t, err)

	mock.ExpectExec(`INSERT INTO saved_searches`).
		WithArgs(sqlmock.AnyArg(), nil, "dog park", "dog park", sqlmock.AnyArg(), `{}`,
			`{"lat":52.5,"lng":13.4,"radiusKm":5}`, true, nil, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.Create(context.Background(), s))
	assert.NotEmpty(t, s.ID)
	assert.False(t, s.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSavedSearchStoreGet(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewPostgresSavedSearchStore(db)
	now := time.Now().UTC()

	mock.ExpectQuery(`FROM saved_searches\s+WHERE id = \$1`).
		WithArgs(testSavedID).
		WillReturnRows(sqlmock.NewRows(savedSearchRowColumns).
			AddRow(testSavedID, "user-1", "Parks", "park", "{places}", []byte(`{"tags":["dogs"]}`),
				[]byte(`{"lat":1,"lng":2,"radiusKm":3}`), true, nil, now, now))

	s, err := store.Get(context.Background(), testSavedID)
	require.NoError(t, err)
	require.NotNil(t, s.UserID)
	assert.Equal(t, "user-1", *s.UserID)
	assert.Equal(t, []EntityType{EntityPlaces}, s.EntityTypes)
	assert.Equal(t, []string{"dogs"}, s.Filters.Tags)
	require.NotNil(t, s.Geo)
	assert.Equal(t, 3.0, s.Geo.RadiusKm)
	assert.Nil(t, s.LastCheckedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSavedSearchStoreNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewPostgresSavedSearchStore(db)
	ctx := context.Background()

	_, err := store.Get(ctx, "not-a-uuid")
	assert.ErrorIs(t, err, ErrNotFound)

	mock.ExpectQuery(`FROM saved_searches`).WithArgs(testSavedID).
		WillReturnRows(sqlmock.NewRows(savedSearchRowColumns))
	_, err = store.Get(ctx, testSavedID)
	assert.ErrorIs(t, err, ErrNotFound)

	mock.ExpectExec(`DELETE FROM saved_searches`).WithArgs(testSavedID).
		WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, store.Delete(ctx, testSavedID), ErrNotFound)

	mock.ExpectExec(`UPDATE saved_searches SET last_checked_at`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, store.TouchLastChecked(ctx, testSavedID, time.Now()), ErrNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSavedSearchStoreListByUser(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewPostgresSavedSearchStore(db)
	now := time.Now().UTC()
	user := "user-1"

	mock.ExpectQuery(`WHERE user_id = \$1`).
		WithArgs(user, 10, 0).
		WillReturnRows(sqlmock.NewRows(savedSearchRowColumns).
			AddRow(testSavedID, user, "A", "a", "{}", []byte(`{}`), nil, false, now, now, now))

	list, err := store.List(context.Background(), &user, 10, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Nil(t, list[0].Geo)
	require.NotNil(t, list[0].LastCheckedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSavedSearchStoreInsertAlerts(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewPostgresSavedSearchStore(db)
	now := time.Now().UTC()
	alertColumns := []string{"id", "saved_search_id", "entity_type", "entity_id", "created_at"}

	mock.ExpectBegin()
	prep := mock.ExpectPrepare(`INSERT INTO search_alerts`)
	prep.ExpectQuery().
		WithArgs(sqlmock.AnyArg(), testSavedID, "posts", "b1").
		WillReturnRows(sqlmock.NewRows(alertColumns).AddRow("a1", testSavedID, "posts", "b1", now))
	// conflict: the pair was alerted by a concurrent check
	prep.ExpectQuery().
		WithArgs(sqlmock.AnyArg(), testSavedID, "pets", "p1").
		WillReturnRows(sqlmock.NewRows(alertColumns))
	mock.ExpectCommit()

	alerts, err := store.InsertAlerts(context.Background(), testSavedID, []SearchResult{
		{EntityType: EntityPosts, ID: "b1"},
		{EntityType: EntityPets, ID: "p1"},
	})
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "posts:b1", alerts[0].Key())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSavedSearchStoreInsertAlertsRollsBack(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewPostgresSavedSearchStore(db)

	mock.ExpectBegin()
	prep := mock.ExpectPrepare(`INSERT INTO search_alerts`)
	prep.ExpectQuery().WillReturnError(errors.New("deadlock detected"))
	mock.ExpectRollback()

	_, err := store.InsertAlerts(context.Background(), testSavedID, []SearchResult{{EntityType: EntityPosts, ID: "b1"}})
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresTelemetryStore(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewPostgresTelemetryStore(db)
	ctx := context.Background()

	rec := NewTelemetryRecord("xyzabc123", 0, []EntityType{EntityPosts}, Filters{}, "10.0.0.1", "", 12*time.Millisecond)
	assert.True(t, rec.ZeroResultQuery)
	assert.False(t, rec.HasResults)
	assert.Nil(t, rec.UserAgent)

	mock.ExpectExec(`INSERT INTO search_telemetry`).
		WithArgs(sqlmock.AnyArg(), "xyzabc123", 0, false, true, sqlmock.AnyArg(), `{}`, "10.0.0.1", nil, int64(12), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, store.Insert(ctx, rec))

	now := time.Now().UTC()
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM search_telemetry WHERE zero_result_query = true`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(`FROM search_telemetry WHERE zero_result_query = true`).
		WithArgs(20, 0).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "query", "result_count", "has_results", "zero_result_query",
			"entity_types", "filters", "ip_address", "user_agent", "duration_ms", "created_at",
		}).AddRow("t1", "xyzabc123", 0, false, true, "{posts}", []byte(`{}`), "10.0.0.1", nil, 12, now))

	page, err := store.List(ctx, 20, 0, true)
	require.NoError(t, err)
	assert.Equal(t, 1, page.Pagination.Total)
	require.Len(t, page.Records, 1)
	assert.Equal(t, []string{"posts"}, page.Records[0].EntityTypes)
	require.NotNil(t, page.Records[0].IPAddress)
	assert.Nil(t, page.Records[0].UserAgent)

	mock.ExpectQuery(`GROUP BY lower\(query\)`).
		WillReturnRows(sqlmock.NewRows([]string{"query", "count"}).AddRow("xyzabc123", 4))
	top, err := store.TopZeroResultQueries(ctx, now.Add(-time.Hour), 10)
	require.NoError(t, err)
	assert.Equal(t, []QueryCount{{Query: "xyzabc123", Count: 4}}, top)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTelemetryRecorder(t *testing.T) {
	store := &memTelemetryStore{}
	rec := NewTelemetryRecorder(store, true, time.Second, nopLogger(), nil)

	rec.Record(context.Background(), NewTelemetryRecord("dog", 3, nil, Filters{}, "", "", 0))
	assert.Eventually(t, func() bool { return len(store.snapshot()) == 1 }, time.Second, 10*time.Millisecond)

	disabled := NewTelemetryRecorder(store, false, time.Second, nopLogger(), nil)
	disabled.Record(context.Background(), NewTelemetryRecord("cat", 1, nil, Filters{}, "", "", 0))

	var nilRecorder *TelemetryRecorder
	nilRecorder.Record(context.Background(), NewTelemetryRecord("cat", 1, nil, Filters{}, "", "", 0))

	time.Sleep(50 * time.Millisecond)
	assert.Len(t, store.snapshot(), 1)
}

func TestTelemetryRecorderSwallowsFailures(t *testing.T) {
	store := &memTelemetryStore{fail: errors.New("disk full")}
	rec := NewTelemetryRecorder(store, true, time.Second, nopLogger(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NotPanics(t, func() {
		rec.Record(ctx, NewTelemetryRecord("dog", 0, nil, Filters{}, "", "", 0))
	})
}
