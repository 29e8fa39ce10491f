package search

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/pawprint/pkg/async"
	"github.com/platinummonkey/pawprint/pkg/observability"
)

// CheckResult is the outcome of re-running one saved search
type CheckResult struct {
	Success         bool           `json:"success"`
	NewResultsCount int            `json:"newResultsCount"`
	NewResults      []SearchResult `json:"newResults"`
	Alerts          []SearchAlert  `json:"alerts"`
}

// CheckSummary aggregates a sweep over every alert-enabled saved search
type CheckSummary struct {
	Checked       int `json:"checked"`
	Skipped       int `json:"skipped"`
	Failed        int `json:"failed"`
	AlertsCreated int `json:"alertsCreated"`
}

// AlertCheckerConfig tunes CheckAll
type AlertCheckerConfig struct {
	Workers      int
	CheckTimeout time.Duration
}

// AlertChecker diffs a saved search's current results against the results
// it has already alerted on
type AlertChecker struct {
	store    SavedSearchStore
	pipeline *Pipeline
	locker   Locker
	config   AlertCheckerConfig
	logger   logrus.FieldLogger
	metrics  *observability.Metrics
	now      func() time.Time
}

// NewAlertChecker creates a checker. locker may be nil, in which case only
// the alert unique constraint guards concurrent checks.
func NewAlertChecker(store SavedSearchStore, pipeline *Pipeline, locker Locker, config AlertCheckerConfig, logger logrus.FieldLogger, metrics *observability.Metrics) *AlertChecker {
	if config.Workers <= 0 {
		config.Workers = 4
	}
	if config.CheckTimeout <= 0 {
		config.CheckTimeout = 30 * time.Second
	}
	return &AlertChecker{
		store:    store,
		pipeline: pipeline,
		locker:   locker,
		config:   config,
		logger:   logger,
		metrics:  metrics,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Check re-runs the saved search with a wide recall window, drops every
// result already alerted and records alerts for the rest when alerting is
// enabled. last_checked_at is updated whether or not anything is new.
func (c *AlertChecker) Check(ctx context.Context, id string) (*CheckResult, error) {
	ctx, span := searchTracer.Start(ctx, "AlertChecker.Check",
		trace.WithAttributes(attribute.String("saved_search_id", id)),
	)
	defer span.End()

	result, err := c.check(ctx, id)
	switch {
	case err == nil:
		c.metrics.ObserveCheck("ok", len(result.Alerts))
	case errors.Is(err, ErrNotFound):
		c.metrics.ObserveCheck("not_found", 0)
	case errors.Is(err, ErrCheckInProgress):
		c.metrics.ObserveCheck("locked", 0)
	default:
		c.metrics.ObserveCheck("error", 0)
		span.RecordError(err)
		span.SetStatus(codes.Error, "saved search check failed")
	}
	return result, err
}

func (c *AlertChecker) check(ctx context.Context, id string) (*CheckResult, error) {
	logger := observability.FromContextOr(ctx, c.logger).WithField("saved_search_id", id)

	if c.locker != nil {
		release, ok, err := c.locker.Acquire(ctx, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrCheckInProgress
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				logger.WithError(err).Warn("failed to release saved search lock")
			}
		}()
	}

	saved, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	existing, err := c.store.ListAlerts(ctx, id)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(existing))
	for _, a := range existing {
		seen[a.Key()] = true
	}

	_, merged := c.pipeline.Run(ctx, saved.SearchQuery(AlertCheckLimit))
	fresh := make([]SearchResult, 0)
	for _, r := range merged.Hits {
		if !seen[r.Key()] {
			fresh = append(fresh, r)
		}
	}

	alerts := []SearchAlert{}
	if saved.AlertEnabled && len(fresh) > 0 {
		alerts, err = c.store.InsertAlerts(ctx, id, fresh)
		if err != nil {
			return nil, err
		}
	}

	if err := c.store.TouchLastChecked(ctx, id, c.now()); err != nil {
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"new_results":    len(fresh),
		"alerts_created": len(alerts),
	}).Debug("saved search checked")

	return &CheckResult{
		Success:         true,
		NewResultsCount: len(fresh),
		NewResults:      Paginate(fresh, MaxAlertResults, 0),
		Alerts:          alerts,
	}, nil
}

// CheckAll checks every alert-enabled saved search with a bounded number of
// workers. Searches locked by another process are skipped.
func (c *AlertChecker) CheckAll(ctx context.Context) (CheckSummary, error) {
	ids, err := c.store.ListAlertEnabled(ctx)
	if err != nil {
		return CheckSummary{}, fmt.Errorf("failed to list saved searches: %w", err)
	}

	var skipped, alertsCreated int64
	errs := async.Batch(ctx, c.logger, ids, c.config.Workers, "saved search checks", c.config.CheckTimeout,
		func(ctx context.Context, id string) error {
			result, err := c.Check(ctx, id)
			switch {
			case errors.Is(err, ErrCheckInProgress), errors.Is(err, ErrNotFound):
				// locked elsewhere or deleted since listing
				atomic.AddInt64(&skipped, 1)
				return nil
			case err != nil:
				return fmt.Errorf("saved search %s: %w", id, err)
			}
			atomic.AddInt64(&alertsCreated, int64(len(result.Alerts)))
			return nil
		})

	summary := CheckSummary{
		Checked:       len(ids) - int(skipped) - len(errs),
		Skipped:       int(skipped),
		Failed:        len(errs),
		AlertsCreated: int(alertsCreated),
	}
	if ctx.Err() != nil {
		return summary, ctx.Err()
	}
	if summary.Checked < 0 {
		summary.Checked = 0
	}
	return summary, errors.Join(errs...)
}
