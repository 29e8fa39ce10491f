package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/pawprint/pkg/app"
	"github.com/platinummonkey/pawprint/pkg/config"
	"github.com/platinummonkey/pawprint/pkg/observability"
	"github.com/platinummonkey/pawprint/pkg/search"
)

var version = "dev"

var (
	configPath     = flag.String("config", os.Getenv(config.ConfigPathEnv), "Path to the YAML configuration file")
	schedule       = flag.String("schedule", "", "Cron schedule for saved search checks (defaults to alerter.schedule)")
	reportSchedule = flag.String("report-schedule", "0 6 * * *", "Cron schedule for the zero-result query report (empty disables it)")
	runOnce        = flag.Bool("once", false, "Check every alert-enabled saved search once and exit")
)

// sweeper is the part of the alert checker the jobs need
type sweeper interface {
	CheckAll(ctx context.Context) (search.CheckSummary, error)
}

// zeroResultReporter is the part of the telemetry store the report needs
type zeroResultReporter interface {
	TopZeroResultQueries(ctx context.Context, since time.Time, limit int) ([]search.QueryCount, error)
}

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		observability.NewLogger(logrus.InfoLevel, os.Stderr).WithError(err).Fatal("Failed to load configuration")
	}
	if *schedule != "" {
		cfg.Alerter.Schedule = *schedule
	}

	logger := app.NewLogger(cfg)
	log := logger.WithField("component", "search-alerter")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log, app.Options{Version: version})
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize search service")
	}
	defer func() {
		if err := a.Close(context.Background()); err != nil {
			log.WithError(err).Warn("Failed to release resources")
		}
	}()

	if *runOnce {
		if _, err := runChecks(ctx, a.Checker, log); err != nil {
			_ = a.Close(context.Background())
			os.Exit(1)
		}
		return
	}

	c := cron.New(cron.WithChain(
		cron.Recover(cron.PrintfLogger(log)),
		cron.SkipIfStillRunning(cron.PrintfLogger(log)),
	))

	_, err = c.AddFunc(cfg.Alerter.Schedule, func() {
		_, _ = runChecks(ctx, a.Checker, log)
	})
	if err != nil {
		log.WithError(err).Fatal("Failed to schedule saved search checks")
	}

	if *reportSchedule != "" {
		_, err = c.AddFunc(*reportSchedule, func() {
			_ = reportZeroResults(ctx, a.Telemetry, 24*time.Hour, 20, log)
		})
		if err != nil {
			log.WithError(err).Fatal("Failed to schedule zero-result report")
		}
	}

	c.Start()
	log.WithFields(logrus.Fields{
		"schedule":        cfg.Alerter.Schedule,
		"report_schedule": *reportSchedule,
		"workers":         cfg.Alerter.Workers,
	}).Info("Pawprint search alerter started")

	<-ctx.Done()
	log.Info("Shutting down gracefully")

	// Wait for running jobs
	<-c.Stop().Done()
	log.Info("Alerter stopped")
}

// runChecks sweeps every alert-enabled saved search and logs the summary
func runChecks(ctx context.Context, s sweeper, log logrus.FieldLogger) (search.CheckSummary, error) {
	start := time.Now()
	log.Info("Starting saved search sweep")

	summary, err := s.CheckAll(ctx)
	fields := logrus.Fields{
		"checked":        summary.Checked,
		"skipped":        summary.Skipped,
		"failed":         summary.Failed,
		"alerts_created": summary.AlertsCreated,
		"duration_ms":    time.Since(start).Milliseconds(),
	}
	if err != nil {
		log.WithFields(fields).WithError(err).Error("Saved search sweep finished with errors")
		return summary, err
	}
	log.WithFields(fields).Info("Saved search sweep completed")
	return summary, nil
}

// reportZeroResults logs the most frequent queries that found nothing
// during the trailing window
func reportZeroResults(ctx context.Context, r zeroResultReporter, window time.Duration, limit int, log logrus.FieldLogger) error {
	top, err := r.TopZeroResultQueries(ctx, time.Now().Add(-window), limit)
	if err != nil {
		log.WithError(err).Warn("Failed to build zero-result report")
		return err
	}
	if len(top) == 0 {
		log.Info("No zero-result queries in the report window")
		return nil
	}
	for i, qc := range top {
		log.WithFields(logrus.Fields{
			"rank":  i + 1,
			"query": qc.Query,
			"count": qc.Count,
		}).Info("Zero-result query")
	}
	return nil
}
