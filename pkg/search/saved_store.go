package search

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// SavedSearchStore persists saved searches and the alerts raised for them
type SavedSearchStore interface {
	Create(ctx context.Context, s *SavedSearch) error
	Get(ctx context.Context, id string) (*SavedSearch, error)
	List(ctx context.Context, userID *string, limit, offset int) ([]SavedSearch, error)
	Update(ctx context.Context, s *SavedSearch) error
	Delete(ctx context.Context, id string) error

	ListAlertEnabled(ctx context.Context) ([]string, error)
	ListAlerts(ctx context.Context, savedSearchID string) ([]SearchAlert, error)
	// InsertAlerts skips pairs that already exist and returns only new rows
	InsertAlerts(ctx context.Context, savedSearchID string, results []SearchResult) ([]SearchAlert, error)
	TouchLastChecked(ctx context.Context, savedSearchID string, at time.Time) error
}

// PostgresSavedSearchStore implements SavedSearchStore
type PostgresSavedSearchStore struct {
	db *sql.DB
}

// NewPostgresSavedSearchStore creates the store
func NewPostgresSavedSearchStore(db *sql.DB) *PostgresSavedSearchStore {
	return &PostgresSavedSearchStore{db: db}
}

const savedSearchColumns = `id, user_id, name, query, entity_types, filters, geo,
	alert_enabled, last_checked_at, created_at, updated_at`

// Create assigns ID and timestamps
func (s *PostgresSavedSearchStore) Create(ctx context.Context, ss *SavedSearch) error {
	ss.ID = uuid.New().String()
	now := time.Now().UTC()
	ss.CreatedAt, ss.UpdatedAt = now, now

	filters, geo, err := encodeSavedSearch(ss)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO saved_searches (`+savedSearchColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, ss.ID, ss.UserID, ss.Name, ss.Query, pq.Array(entityTypeStrings(ss.EntityTypes)), filters, geo,
		ss.AlertEnabled, ss.LastCheckedAt, ss.CreatedAt, ss.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create saved search: %w", err)
	}
	return nil
}

// Get returns ErrNotFound for unknown or malformed ids
func (s *PostgresSavedSearchStore) Get(ctx context.Context, id string) (*SavedSearch, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT `+savedSearchColumns+`
		FROM saved_searches
		WHERE id = $1
	`, id)
	ss, err := scanSavedSearch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get saved search: %w", err)
	}
	return ss, nil
}

// List returns saved searches newest first, restricted to userID when set
func (s *PostgresSavedSearchStore) List(ctx context.Context, userID *string, limit, offset int) ([]SavedSearch, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if userID != nil {
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+savedSearchColumns+`
			FROM saved_searches
			WHERE user_id = $1
			ORDER BY created_at DESC
			LIMIT $2 OFFSET $3
		`, *userID, limit, offset)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT `+savedSearchColumns+`
			FROM saved_searches
			ORDER BY created_at DESC
			LIMIT $1 OFFSET $2
		`, limit, offset)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list saved searches: %w", err)
	}
	defer rows.Close()

	out := make([]SavedSearch, 0)
	for rows.Next() {
		ss, err := scanSavedSearch(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan saved search: %w", err)
		}
		out = append(out, *ss)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating saved searches: %w", err)
	}
	return out, nil
}

// Update writes every mutable field and bumps updated_at
func (s *PostgresSavedSearchStore) Update(ctx context.Context, ss *SavedSearch) error {
	ss.UpdatedAt = time.Now().UTC()
	filters, geo, err := encodeSavedSearch(ss)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE saved_searches
		SET name = $2, query = $3, entity_types = $4, filters = $5, geo = $6,
			alert_enabled = $7, updated_at = $8
		WHERE id = $1
	`, ss.ID, ss.Name, ss.Query, pq.Array(entityTypeStrings(ss.EntityTypes)), filters, geo,
		ss.AlertEnabled, ss.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update saved search: %w", err)
	}
	return requireAffected(res)
}

// Delete removes the saved search and, by cascade, its alerts
func (s *PostgresSavedSearchStore) Delete(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM saved_searches WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete saved search: %w", err)
	}
	return requireAffected(res)
}

// ListAlertEnabled returns ids of saved searches that raise alerts, least
// recently checked first
func (s *PostgresSavedSearchStore) ListAlertEnabled(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id
		FROM saved_searches
		WHERE alert_enabled = true
		ORDER BY last_checked_at ASC NULLS FIRST
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list alert-enabled saved searches: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan saved search id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PostgresSavedSearchStore) ListAlerts(ctx context.Context, savedSearchID string) ([]SearchAlert, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, saved_search_id, entity_type, entity_id, created_at
		FROM search_alerts
		WHERE saved_search_id = $1
		ORDER BY created_at ASC
	`, savedSearchID)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer rows.Close()

	return collectAlerts(rows)
}

// InsertAlerts relies on the (saved_search_id, entity_type, entity_id)
// unique constraint so concurrent checks never duplicate a pair
func (s *PostgresSavedSearchStore) InsertAlerts(ctx context.Context, savedSearchID string, results []SearchResult) ([]SearchAlert, error) {
	if len(results) == 0 {
		return []SearchAlert{}, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO search_alerts (id, saved_search_id, entity_type, entity_id, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (saved_search_id, entity_type, entity_id) DO NOTHING
		RETURNING id, saved_search_id, entity_type, entity_id, created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare alert insert: %w", err)
	}
	defer stmt.Close()

	created := make([]SearchAlert, 0, len(results))
	for _, r := range results {
		var a SearchAlert
		err := stmt.QueryRowContext(ctx, uuid.New().String(), savedSearchID, string(r.EntityType), r.ID).
			Scan(&a.ID, &a.SavedSearchID, &a.EntityType, &a.EntityID, &a.CreatedAt)
		if errors.Is(err, sql.ErrNoRows) {
			// already alerted by a concurrent check
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to insert alert: %w", err)
		}
		created = append(created, a)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit alerts: %w", err)
	}
	return created, nil
}

func (s *PostgresSavedSearchStore) TouchLastChecked(ctx context.Context, savedSearchID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE saved_searches SET last_checked_at = $2 WHERE id = $1
	`, savedSearchID, at)
	if err != nil {
		return fmt.Errorf("failed to update last checked time: %w", err)
	}
	return requireAffected(res)
}

// encodeSavedSearch renders the JSONB columns as text; a nil geo is NULL
func encodeSavedSearch(ss *SavedSearch) (filters string, geo any, err error) {
	raw, err := json.Marshal(ss.Filters)
	if err != nil {
		return "", nil, fmt.Errorf("failed to encode filters: %w", err)
	}
	if ss.Geo != nil {
		g, err := json.Marshal(ss.Geo)
		if err != nil {
			return "", nil, fmt.Errorf("failed to encode geo: %w", err)
		}
		geo = string(g)
	}
	return string(raw), geo, nil
}

func scanSavedSearch(row rowScanner) (*SavedSearch, error) {
	var (
		ss          SavedSearch
		userID      sql.NullString
		entityTypes []string
		filters     []byte
		geo         []byte
		lastChecked sql.NullTime
	)
	if err := row.Scan(&ss.ID, &userID, &ss.Name, &ss.Query, pq.Array(&entityTypes), &filters, &geo,
		&ss.AlertEnabled, &lastChecked, &ss.CreatedAt, &ss.UpdatedAt); err != nil {
		return nil, err
	}
	if userID.Valid {
		ss.UserID = &userID.String
	}
	if lastChecked.Valid {
		ss.LastCheckedAt = &lastChecked.Time
	}
	ss.EntityTypes = make([]EntityType, len(entityTypes))
	for i, t := range entityTypes {
		ss.EntityTypes[i] = EntityType(t)
	}
	if len(filters) > 0 {
		if err := json.Unmarshal(filters, &ss.Filters); err != nil {
			return nil, fmt.Errorf("failed to decode filters: %w", err)
		}
	}
	if len(geo) > 0 {
		ss.Geo = &GeoPoint{}
		if err := json.Unmarshal(geo, ss.Geo); err != nil {
			return nil, fmt.Errorf("failed to decode geo: %w", err)
		}
	}
	return &ss, nil
}

func collectAlerts(rows *sql.Rows) ([]SearchAlert, error) {
	alerts := make([]SearchAlert, 0)
	for rows.Next() {
		var a SearchAlert
		if err := rows.Scan(&a.ID, &a.SavedSearchID, &a.EntityType, &a.EntityID, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating alerts: %w", err)
	}
	return alerts, nil
}

func entityTypeStrings(types []EntityType) []string {
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = string(t)
	}
	return out
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
