package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/platinummonkey/pawprint/pkg/app"
	"github.com/platinummonkey/pawprint/pkg/config"
	"github.com/platinummonkey/pawprint/pkg/observability"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	configPath := flag.String("config", os.Getenv(config.ConfigPathEnv), "Path to the YAML configuration file")
	migrate := flag.Bool("migrate", false, "Apply pending schema migrations before serving")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		observability.NewLogger(observability.ParseLogLevel("info"), os.Stderr).WithError(err).Fatal("Failed to load configuration")
	}
	if *migrate {
		cfg.Postgres.MigrateOnStart = true
	}

	logger := app.NewLogger(cfg)
	log := logger.WithField("component", "search-server")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log, app.Options{Version: version})
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize search service")
	}

	// Prune replicas that stop answering
	a.DB.StartHealthCheckRoutine(ctx, 30*time.Second)

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      a.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := observability.NewShutdownManager(log, server, cfg.Server.ShutdownTimeout)
	a.RegisterShutdown(shutdown)

	go func() {
		defer observability.RecoverPanic(log, "http server")
		log.WithField("addr", server.Addr).Info("Starting pawprint search server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("HTTP server failed")
			stop()
		}
	}()

	if err := shutdown.WaitForShutdown(ctx); err != nil {
		log.WithError(err).Error("Shutdown finished with errors")
		os.Exit(1)
	}
}
