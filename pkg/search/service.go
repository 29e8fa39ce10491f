package search

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/pawprint/pkg/observability"
)

// zeroResultTagLimit caps the tags suggested for an empty result page
const zeroResultTagLimit = 5

// TagSuggester finds popular tags resembling query tokens
type TagSuggester interface {
	SuggestTags(ctx context.Context, tokens []string, limit int) ([]string, error)
}

// RequestMeta is requester metadata recorded with telemetry
type RequestMeta struct {
	IPAddress string
	UserAgent string
}

// ServiceDeps wires a Service
type ServiceDeps struct {
	Pipeline  *Pipeline
	Synonyms  *SynonymGraph
	Facets    FacetComputer
	Tags      TagSuggester
	Telemetry *TelemetryRecorder
	// TelemetryStore serves the reporting endpoints
	TelemetryStore TelemetryStore
	Saved          SavedSearchStore
	Checker        *AlertChecker
	Suggester      *Suggester
	Logger         logrus.FieldLogger
	Metrics        *observability.Metrics
}

// Service orchestrates searches, synonyms, saved searches and telemetry
type Service struct {
	deps ServiceDeps
}

// NewService creates a service
func NewService(deps ServiceDeps) *Service {
	return &Service{deps: deps}
}

// Search validates q, expands it, runs the merged search, computes facets and
// records telemetry in the background. Only an invalid query is an error.
func (s *Service) Search(ctx context.Context, q SearchQuery, meta RequestMeta) (*Response, error) {
	ctx, span := searchTracer.Start(ctx, "Search",
		trace.WithAttributes(
			attribute.String("query", q.Text),
			attribute.Int("limit", q.Limit),
			attribute.Int("offset", q.Offset),
		),
	)
	defer span.End()

	if err := q.Validate(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid search query")
		return nil, err
	}

	start := time.Now()
	exp, merged := s.deps.Pipeline.Run(ctx, q)
	facets := EmptyFacets()
	if s.deps.Facets != nil {
		facets = s.deps.Facets.Compute(ctx, exp, q)
	}

	resp := &Response{
		Query:         q.Text,
		ExpandedQuery: exp.Query,
		Hits:          merged.Hits,
		Facets:        facets,
		Pagination: Pagination{
			Total:  merged.Total,
			Limit:  q.Limit,
			Offset: q.Offset,
		},
	}
	if merged.Total == 0 {
		resp.Suggestions = s.zeroResultSuggestions(ctx, q.Text)
	}

	elapsed := time.Since(start)
	s.deps.Metrics.ObserveSearch(elapsed, merged.Total)
	s.deps.Telemetry.Record(ctx, NewTelemetryRecord(q.Text, merged.Total, q.Types, q.Filters, meta.IPAddress, meta.UserAgent, elapsed))

	span.SetAttributes(
		attribute.String("expanded_query", exp.Query),
		attribute.Int("total", merged.Total),
		attribute.Int("hit_count", len(merged.Hits)),
	)
	span.SetStatus(codes.Ok, "search completed")
	return resp, nil
}

func (s *Service) zeroResultSuggestions(ctx context.Context, text string) *ZeroResultSuggestions {
	out := &ZeroResultSuggestions{
		Message: fmt.Sprintf("No results found for %q. Try another spelling or one of the suggested tags.", text),
		Tags:    []string{},
	}
	if s.deps.Tags == nil {
		return out
	}
	tags, err := s.deps.Tags.SuggestTags(ctx, strings.Fields(strings.ToLower(text)), zeroResultTagLimit)
	if err != nil {
		observability.FromContextOr(ctx, s.deps.Logger).WithError(err).Warn("failed to suggest tags for empty result")
		return out
	}
	out.Tags = tags
	return out
}

// UpsertSynonyms stores an admin-maintained synonym entry
func (s *Service) UpsertSynonyms(ctx context.Context, term string, synonyms []string) (*SynonymEntry, error) {
	return s.deps.Synonyms.Upsert(ctx, term, synonyms)
}

// ListSynonyms pages through synonym entries
func (s *Service) ListSynonyms(ctx context.Context, limit, offset int) ([]SynonymEntry, error) {
	return s.deps.Synonyms.List(ctx, limit, offset)
}

// Suggest returns typeahead suggestions
func (s *Service) Suggest(ctx context.Context, q string, limit int) ([]Suggestion, error) {
	return s.deps.Suggester.Suggest(ctx, q, limit)
}

// CreateSavedSearch validates and persists a saved search
func (s *Service) CreateSavedSearch(ctx context.Context, in SavedSearchInput) (*SavedSearch, error) {
	saved, err := NewSavedSearch(in)
	if err != nil {
		return nil, err
	}
	if err := s.deps.Saved.Create(ctx, saved); err != nil {
		return nil, err
	}
	return saved, nil
}

func (s *Service) GetSavedSearch(ctx context.Context, id string) (*SavedSearch, error) {
	return s.deps.Saved.Get(ctx, id)
}

func (s *Service) ListSavedSearches(ctx context.Context, userID *string, limit, offset int) ([]SavedSearch, error) {
	return s.deps.Saved.List(ctx, userID, limit, offset)
}

// UpdateSavedSearch applies a partial update
func (s *Service) UpdateSavedSearch(ctx context.Context, id string, patch SavedSearchPatch) (*SavedSearch, error) {
	saved, err := s.deps.Saved.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := saved.Apply(patch); err != nil {
		return nil, err
	}
	if err := s.deps.Saved.Update(ctx, saved); err != nil {
		return nil, err
	}
	return saved, nil
}

func (s *Service) DeleteSavedSearch(ctx context.Context, id string) error {
	return s.deps.Saved.Delete(ctx, id)
}

// CheckSavedSearch runs the alert checker for one saved search
func (s *Service) CheckSavedSearch(ctx context.Context, id string) (*CheckResult, error) {
	return s.deps.Checker.Check(ctx, id)
}

// RecordTelemetry queues a client-reported telemetry record
func (s *Service) RecordTelemetry(ctx context.Context, rec TelemetryRecord) {
	s.deps.Telemetry.Record(ctx, rec)
}

// ListTelemetry pages through telemetry for reporting
func (s *Service) ListTelemetry(ctx context.Context, limit, offset int, zeroOnly bool) (*TelemetryPage, error) {
	if s.deps.TelemetryStore == nil {
		return &TelemetryPage{Records: []TelemetryRecord{}, Pagination: Pagination{Limit: limit, Offset: offset}}, nil
	}
	return s.deps.TelemetryStore.List(ctx, limit, offset, zeroOnly)
}
