package search

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/pawprint/pkg/observability"
)

var searchTracer = otel.Tracer("pawprint/search")

// EngineConfig tunes the merger
type EngineConfig struct {
	// StrategyTimeout bounds every strategy call
	StrategyTimeout time.Duration
	// FullFetch asks every strategy for the whole limit instead of
	// ceil(limit/types), trading backend load for top-K precision
	FullFetch bool
	Policy    ScorePolicy
}

// MergedResults is one page of the merged ranking plus the merged total
type MergedResults struct {
	Hits  []SearchResult
	Total int
}

// Engine fans a query out to the registered strategies and merges the results
type Engine struct {
	registry *Registry
	config   EngineConfig
	logger   logrus.FieldLogger
	metrics  *observability.Metrics
}

// NewEngine creates an engine
func NewEngine(registry *Registry, config EngineConfig, logger logrus.FieldLogger, metrics *observability.Metrics) *Engine {
	if config.StrategyTimeout <= 0 {
		config.StrategyTimeout = 3 * time.Second
	}
	if config.Policy == nil {
		config.Policy = DefaultScorePolicy()
	}
	return &Engine{
		registry: registry,
		config:   config,
		logger:   logger,
		metrics:  metrics,
	}
}

// Budget is the per-type fetch size for a search over typeCount types
func (e *Engine) Budget(limit, typeCount int) int {
	if e.config.FullFetch || typeCount <= 1 {
		return limit
	}
	return (limit + typeCount - 1) / typeCount
}

// Search runs every requested strategy concurrently, waits for all of them,
// sorts the concatenation by normalized relevance and slices the page at
// q.Offset. A failing strategy contributes no results.
func (e *Engine) Search(ctx context.Context, exp Expansion, q SearchQuery) MergedResults {
	types := NormalizeEntityTypes(q.Types)
	ctx, span := searchTracer.Start(ctx, "Engine.Search",
		trace.WithAttributes(
			attribute.String("expanded_query", exp.Query),
			attribute.Int("type_count", len(types)),
			attribute.Int("limit", q.Limit),
			attribute.Int("offset", q.Offset),
		),
	)
	defer span.End()

	strategies := e.registry.Resolve(types)
	req := StrategyRequest{
		Expansion: exp,
		Limit:     e.Budget(q.Limit, len(types)),
		Filters:   q.Filters,
		Geo:       q.Geo,
	}

	// one slot per strategy, no shared writes
	slots := make([][]SearchResult, len(strategies))
	g, gctx := errgroup.WithContext(ctx)
	for i, s := range strategies {
		i, s := i, s
		g.Go(func() error {
			slots[i] = e.runStrategy(gctx, s, req)
			return nil
		})
	}
	_ = g.Wait()

	merged := make([]SearchResult, 0, req.Limit*len(strategies))
	for _, results := range slots {
		for _, r := range results {
			r.Relevance = e.config.Policy.Normalize(r.EntityType, r.Relevance)
			merged = append(merged, r)
		}
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Relevance > merged[j].Relevance
	})

	span.SetAttributes(attribute.Int("merged_total", len(merged)))
	return MergedResults{
		Hits:  Paginate(merged, q.Limit, q.Offset),
		Total: len(merged),
	}
}

// runStrategy never fails: errors, timeouts and panics are logged and yield
// an empty slice
func (e *Engine) runStrategy(ctx context.Context, s Strategy, req StrategyRequest) (results []SearchResult) {
	entityType := s.EntityType()
	logger := observability.FromContextOr(ctx, e.logger).WithField("entity_type", entityType)
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, e.config.StrategyTimeout)
	defer cancel()

	ctx, span := searchTracer.Start(ctx, "Strategy.Search",
		trace.WithAttributes(
			attribute.String("entity_type", string(entityType)),
			attribute.Int("budget", req.Limit),
		),
	)
	defer span.End()

	failed := false
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("strategy panic: %v", r)
			logger.WithError(err).Error("search strategy panicked")
			span.RecordError(err)
			span.SetStatus(codes.Error, "strategy panicked")
			results = []SearchResult{}
			failed = true
		}
		e.metrics.ObserveStrategy(string(entityType), time.Since(start), failed)
	}()

	results, err := s.Search(ctx, req)
	if err != nil {
		logger.WithError(err).Warn("search strategy failed, contributing no results")
		span.RecordError(err)
		span.SetStatus(codes.Error, "strategy failed")
		failed = true
		return []SearchResult{}
	}
	if len(results) > req.Limit {
		results = results[:req.Limit]
	}
	span.SetAttributes(attribute.Int("result_count", len(results)))
	return results
}

// Paginate returns the window [offset, offset+limit) of items, clipped to
// the slice bounds
func Paginate[T any](items []T, limit, offset int) []T {
	if offset >= len(items) || limit <= 0 {
		return []T{}
	}
	if offset < 0 {
		offset = 0
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}
