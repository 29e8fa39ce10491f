package search

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/pawprint/pkg/async"
	"github.com/platinummonkey/pawprint/pkg/observability"
)

// TelemetryRecord describes one executed search
type TelemetryRecord struct {
	ID              string    `json:"id"`
	Query           string    `json:"query"`
	ResultCount     int       `json:"resultCount"`
	HasResults      bool      `json:"hasResults"`
	ZeroResultQuery bool      `json:"zeroResultQuery"`
	EntityTypes     []string  `json:"entityTypes"`
	Filters         Filters   `json:"filters"`
	IPAddress       *string   `json:"ipAddress,omitempty"`
	UserAgent       *string   `json:"userAgent,omitempty"`
	DurationMs      int64     `json:"durationMs"`
	CreatedAt       time.Time `json:"createdAt"`
}

// NewTelemetryRecord derives the result flags from resultCount
func NewTelemetryRecord(query string, resultCount int, types []EntityType, filters Filters, ip, userAgent string, duration time.Duration) TelemetryRecord {
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t)
	}
	rec := TelemetryRecord{
		Query:           query,
		ResultCount:     resultCount,
		HasResults:      resultCount > 0,
		ZeroResultQuery: resultCount == 0,
		EntityTypes:     names,
		Filters:         filters,
		DurationMs:      duration.Milliseconds(),
	}
	if ip != "" {
		rec.IPAddress = &ip
	}
	if userAgent != "" {
		rec.UserAgent = &userAgent
	}
	return rec
}

// QueryCount is a query and how often it was seen
type QueryCount struct {
	Query string `json:"query"`
	Count int    `json:"count"`
}

// TelemetryPage is one page of telemetry records
type TelemetryPage struct {
	Records    []TelemetryRecord `json:"records"`
	Pagination Pagination        `json:"pagination"`
}

// TelemetryStore persists telemetry records
type TelemetryStore interface {
	Insert(ctx context.Context, rec TelemetryRecord) error
	List(ctx context.Context, limit, offset int, zeroOnly bool) (*TelemetryPage, error)
	TopZeroResultQueries(ctx context.Context, since time.Time, limit int) ([]QueryCount, error)
}

// PostgresTelemetryStore writes to search_telemetry
type PostgresTelemetryStore struct {
	db *sql.DB
}

// NewPostgresTelemetryStore creates a telemetry store
func NewPostgresTelemetryStore(db *sql.DB) *PostgresTelemetryStore {
	return &PostgresTelemetryStore{db: db}
}

// Insert assigns ID and CreatedAt when empty
func (s *PostgresTelemetryStore) Insert(ctx context.Context, rec TelemetryRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	filters, err := json.Marshal(rec.Filters)
	if err != nil {
		return fmt.Errorf("failed to encode filters: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO search_telemetry (
			id, query, result_count, has_results, zero_result_query,
			entity_types, filters, ip_address, user_agent, duration_ms, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, rec.ID, rec.Query, rec.ResultCount, rec.HasResults, rec.ZeroResultQuery,
		pq.Array(rec.EntityTypes), string(filters), rec.IPAddress, rec.UserAgent, rec.DurationMs, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert telemetry: %w", err)
	}
	return nil
}

// List returns records newest first
func (s *PostgresTelemetryStore) List(ctx context.Context, limit, offset int, zeroOnly bool) (*TelemetryPage, error) {
	where := ""
	if zeroOnly {
		where = "WHERE zero_result_query = true"
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM search_telemetry `+where).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count telemetry: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, query, result_count, has_results, zero_result_query,
			entity_types, filters, ip_address, user_agent, duration_ms, created_at
		FROM search_telemetry `+where+`
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list telemetry: %w", err)
	}
	defer rows.Close()

	page := &TelemetryPage{
		Records:    make([]TelemetryRecord, 0, limit),
		Pagination: Pagination{Total: total, Limit: limit, Offset: offset},
	}
	for rows.Next() {
		var (
			rec         TelemetryRecord
			filters     []byte
			ip, agent   sql.NullString
			entityTypes []string
		)
		if err := rows.Scan(&rec.ID, &rec.Query, &rec.ResultCount, &rec.HasResults, &rec.ZeroResultQuery,
			pq.Array(&entityTypes), &filters, &ip, &agent, &rec.DurationMs, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan telemetry: %w", err)
		}
		rec.EntityTypes = entityTypes
		if len(filters) > 0 {
			if err := json.Unmarshal(filters, &rec.Filters); err != nil {
				return nil, fmt.Errorf("failed to decode telemetry filters: %w", err)
			}
		}
		if ip.Valid {
			rec.IPAddress = &ip.String
		}
		if agent.Valid {
			rec.UserAgent = &agent.String
		}
		page.Records = append(page.Records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating telemetry: %w", err)
	}
	return page, nil
}

// TopZeroResultQueries reports the most frequent queries that found nothing
func (s *PostgresTelemetryStore) TopZeroResultQueries(ctx context.Context, since time.Time, limit int) ([]QueryCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT lower(query), COUNT(*)
		FROM search_telemetry
		WHERE zero_result_query = true AND created_at >= $1
		GROUP BY lower(query)
		ORDER BY COUNT(*) DESC, lower(query) ASC
		LIMIT $2
	`, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to report zero result queries: %w", err)
	}
	defer rows.Close()

	out := make([]QueryCount, 0, limit)
	for rows.Next() {
		var qc QueryCount
		if err := rows.Scan(&qc.Query, &qc.Count); err != nil {
			return nil, fmt.Errorf("failed to scan query count: %w", err)
		}
		out = append(out, qc)
	}
	return out, rows.Err()
}

// TelemetryRecorder writes records in the background. Record never blocks
// and never reports failure to the caller.
type TelemetryRecorder struct {
	store   TelemetryStore
	timeout time.Duration
	enabled bool
	logger  logrus.FieldLogger
	metrics *observability.Metrics
}

// NewTelemetryRecorder creates a recorder; a disabled recorder drops records
func NewTelemetryRecorder(store TelemetryStore, enabled bool, timeout time.Duration, logger logrus.FieldLogger, metrics *observability.Metrics) *TelemetryRecorder {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &TelemetryRecorder{store: store, timeout: timeout, enabled: enabled, logger: logger, metrics: metrics}
}

// Record detaches from ctx cancellation so the write outlives the request
func (r *TelemetryRecorder) Record(ctx context.Context, rec TelemetryRecord) {
	if r == nil || !r.enabled || r.store == nil {
		return
	}
	async.SafeGo(context.WithoutCancel(ctx), r.logger, r.timeout, "search telemetry", func(ctx context.Context) error {
		if err := r.store.Insert(ctx, rec); err != nil {
			r.metrics.TelemetryFailed()
			return err
		}
		return nil
	})
}
