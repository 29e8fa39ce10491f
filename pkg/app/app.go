// Package app assembles the search service from configuration. The server,
// the alerter and the CLI all build on the same App so that every process
// sees identical wiring.
package app

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/pawprint/pkg/catalog"
	"github.com/platinummonkey/pawprint/pkg/config"
	"github.com/platinummonkey/pawprint/pkg/httputil"
	"github.com/platinummonkey/pawprint/pkg/observability"
	"github.com/platinummonkey/pawprint/pkg/search"
	"github.com/platinummonkey/pawprint/pkg/storage/postgres"
)

const (
	// alertLockPrefix namespaces the per saved search check locks in Redis
	alertLockPrefix = "pawprint:alert-check:"
	rateLimitPrefix = "pawprint:ratelimit:"
)

// App holds the long-lived dependencies of a search process
type App struct {
	Config   *config.Config
	Logger   logrus.FieldLogger
	Registry *prometheus.Registry
	Metrics  *observability.Metrics

	DB      *postgres.ConnectionManager
	Redis   *redis.Client
	Catalog catalog.Catalog

	Synonyms  *search.SynonymGraph
	Telemetry search.TelemetryStore
	Checker   *search.AlertChecker
	Service   *search.Service
	Health    *observability.HealthChecker

	otel          *observability.OTelProviders
	catalogCloser io.Closer
}

// Options controls which optional parts New starts
type Options struct {
	// Version is reported by the readiness probe and OpenTelemetry
	Version string
	// SkipOTel keeps short-lived processes such as the CLI from dialing the
	// collector
	SkipOTel bool
}

// NewLogger builds the process logger from the observability settings
func NewLogger(cfg *config.Config) *logrus.Logger {
	return observability.NewLogger(observability.ParseLogLevel(cfg.Observability.LogLevel), os.Stdout)
}

// New connects every backend and builds the service graph. On error every
// resource opened so far is released.
func New(ctx context.Context, cfg *config.Config, logger logrus.FieldLogger, opts Options) (_ *App, err error) {
	a := &App{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	if !opts.SkipOTel {
		o := cfg.Observability
		a.otel, err = observability.InitOTel(ctx, observability.OTelConfig{
			Enabled:        o.OTelEnabled,
			Endpoint:       o.OTelEndpoint,
			ServiceName:    o.OTelServiceName,
			ServiceVersion: firstNonEmpty(opts.Version, o.OTelServiceVersion),
			Insecure:       o.OTelInsecure,
			SampleRatio:    o.OTelSampleRatio,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
		}
	}

	if cfg.Observability.MetricsEnabled {
		a.Registry = prometheus.NewRegistry()
		a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		a.Metrics = observability.NewMetrics(a.Registry)
	}

	a.DB, err = postgres.NewConnectionManager(postgres.ConnectionConfig{
		PrimaryURL:  cfg.Postgres.URL,
		ReplicaURLs: cfg.Postgres.ReplicaURLs,
		MaxConns:    cfg.Postgres.MaxConns,
		MinConns:    cfg.Postgres.MinConns,
		Timeout:     cfg.Postgres.Timeout,
	}, logger)
	if err != nil {
		return nil, err
	}

	if cfg.Postgres.MigrateOnStart {
		if err = postgres.Migrate(ctx, a.DB.Primary(), logger); err != nil {
			return nil, err
		}
	}

	if cfg.Redis.URL != "" {
		a.Redis, err = postgres.NewRedisClient(ctx, postgres.RedisConfig{
			URL:        cfg.Redis.URL,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
		})
		if err != nil {
			return nil, err
		}
	} else {
		logger.Warn("Redis is not configured; saved search checks rely on the alert unique constraint only")
	}

	a.Catalog, a.catalogCloser, err = catalog.Open(ctx, cfg.Catalog.Type, cfg.Catalog.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s catalog: %w", cfg.Catalog.Type, err)
	}

	a.build(opts.Version)
	return a, nil
}

// build wires the search graph. Content reads go through the connection
// manager, which picks a live replica per query; the search service's own
// tables live on the primary.
func (a *App) build(version string) {
	cfg := a.Config
	primary := a.DB.Primary()
	var reader search.Reader = a.DB

	var synonymStore search.SynonymStore = search.NewPostgresSynonymStore(primary)
	if cfg.Search.SynonymCacheSize > 0 {
		synonymStore = search.NewCachedSynonymStore(synonymStore, cfg.Search.SynonymCacheSize, cfg.Search.SynonymCacheTTL, a.Metrics)
	}
	a.Synonyms = search.NewSynonymGraph(synonymStore, a.Logger)

	registry := search.NewRegistry(
		search.NewPostsStrategy(reader),
		search.NewWikiStrategy(reader),
		search.NewPlacesStrategy(reader),
		search.NewPetsStrategy(a.Catalog),
		search.NewGroupsStrategy(a.Catalog),
	)
	engine := search.NewEngine(registry, search.EngineConfig{
		StrategyTimeout: cfg.Search.StrategyTimeout,
		FullFetch:       cfg.Search.FullFetch,
	}, a.Logger, a.Metrics)
	pipeline := search.NewPipeline(a.Synonyms, engine)

	facets := search.NewFacetAggregator(reader, a.Catalog, cfg.Search.FacetTimeout, a.Logger, a.Metrics)
	a.Telemetry = search.NewPostgresTelemetryStore(primary)
	saved := search.NewPostgresSavedSearchStore(primary)

	var locker search.Locker
	if a.Redis != nil {
		locker = search.NewRedisLocker(a.Redis, alertLockPrefix, cfg.Redis.LockTTL)
	}
	a.Checker = search.NewAlertChecker(saved, pipeline, locker, search.AlertCheckerConfig{
		Workers:      cfg.Alerter.Workers,
		CheckTimeout: cfg.Alerter.CheckTimeout,
	}, a.Logger, a.Metrics)

	a.Service = search.NewService(search.ServiceDeps{
		Pipeline:       pipeline,
		Synonyms:       a.Synonyms,
		Facets:         facets,
		Tags:           facets,
		Telemetry:      search.NewTelemetryRecorder(a.Telemetry, cfg.Search.TelemetryEnabled, cfg.Search.TelemetryTimeout, a.Logger, a.Metrics),
		TelemetryStore: a.Telemetry,
		Saved:          saved,
		Checker:        a.Checker,
		Suggester:      search.NewSuggester(reader, a.Catalog, a.Synonyms, a.Logger),
		Logger:         a.Logger,
		Metrics:        a.Metrics,
	})

	a.Health = observability.NewHealthChecker(primary, a.Redis, a.Catalog, version)
	if len(cfg.Postgres.ReplicaURLs) > 0 {
		a.Health.WithReplicas(observability.PingFunc(a.DB.HealthCheck))
	}
}

// Handler returns the HTTP surface: the search API, health probes and
// metrics, wrapped in the standard middleware chain and traced with otelhttp
func (a *App) Handler() http.Handler {
	router := mux.NewRouter()
	router.Use(observability.HTTPMetricsMiddleware(a.Metrics))

	search.NewHandlers(a.Service, a.Logger).RegisterRoutes(router)

	router.HandleFunc("/healthz", a.Health.Liveness).Methods(http.MethodGet)
	router.HandleFunc("/readyz", a.Health.Readiness).Methods(http.MethodGet)
	if a.Registry != nil {
		router.Handle("/metrics", observability.MetricsHandler(a.Registry)).Methods(http.MethodGet)
	}

	middlewares := []func(http.Handler) http.Handler{
		httputil.RequestIDMiddleware(a.Logger),
		httputil.LoggingMiddleware,
		httputil.RecoveryMiddleware,
		httputil.CORSMiddleware(a.Config.Server.CORSOrigins),
	}
	if limiter := a.rateLimiter(); limiter != nil {
		middlewares = append(middlewares, httputil.RateLimitMiddleware(limiter, a.Metrics, "/healthz", "/readyz", "/metrics"))
	}
	middlewares = append(middlewares, httputil.MaxBytesMiddleware(a.Config.Server.MaxBodyBytes))
	return otelhttp.NewHandler(httputil.Chain(middlewares...)(router), "pawprint-search")
}

// rateLimiter shares windows through Redis when it is configured
func (a *App) rateLimiter() httputil.RateLimiter {
	limit := a.Config.Server.RateLimitPerMinute
	if limit <= 0 {
		return nil
	}
	if a.Redis != nil {
		return httputil.NewRedisRateLimiter(a.Redis, limit, time.Minute, rateLimitPrefix)
	}
	return httputil.NewMemoryRateLimiter(limit, time.Minute)
}

// RegisterShutdown hands every resource to the shutdown manager
func (a *App) RegisterShutdown(sm *observability.ShutdownManager) {
	sm.Register("search backends", a.Close)
}

// Close releases every backend. It is safe on a partially built App.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.catalogCloser != nil {
		if err := a.catalogCloser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("catalog: %w", err))
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("postgres: %w", err))
		}
	}
	if a.otel != nil {
		if err := observability.ShutdownOTel(ctx, a.otel, a.Logger); err != nil {
			errs = append(errs, fmt.Errorf("otel: %w", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to close app: %v", errs)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
