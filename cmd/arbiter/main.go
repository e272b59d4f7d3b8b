package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/MikeSquared-Agency/arbiter/internal/api"
	"github.com/MikeSquared-Agency/arbiter/internal/config"
	"github.com/MikeSquared-Agency/arbiter/internal/correction"
	"github.com/MikeSquared-Agency/arbiter/internal/hermes"
	"github.com/MikeSquared-Agency/arbiter/internal/ladder"
	"github.com/MikeSquared-Agency/arbiter/internal/memstore"
	"github.com/MikeSquared-Agency/arbiter/internal/metrics"
	"github.com/MikeSquared-Agency/arbiter/internal/processor"
	"github.com/MikeSquared-Agency/arbiter/internal/settlement"
	"github.com/MikeSquared-Agency/arbiter/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		setupLogging("info")
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	setupLogging(cfg.LogLevel)

	slog.Info("arbiter starting", "port", cfg.Port, "store", cfg.Store)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// Rating store
	var ratings ladder.Store
	switch cfg.Store {
	case config.StoreMemory:
		ratings = memstore.New()
		slog.Warn("using in-memory rating store, nothing survives a restart")
	default:
		db, err := store.New(ctx, cfg.DatabaseURL, cfg.TxRetries, m, slog.Default())
		if err != nil {
			slog.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		slog.Info("database connected")

		if cfg.AutoMigrate {
			if err := db.Migrate(ctx); err != nil {
				slog.Error("failed to run migrations", "error", err)
				os.Exit(1)
			}
			slog.Info("migrations applied")
		}
		ratings = db
	}

	settler := settlement.New(ratings, cfg.Policy, m, slog.Default())
	corrector := correction.New(ratings, cfg.Policy.Floor, m, slog.Default())

	// NATS/Hermes
	hermesClient, err := hermes.NewClient(ctx, cfg.NatsURL, cfg.NatsToken, slog.Default())
	if err != nil {
		slog.Error("failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer hermesClient.Close()
	slog.Info("NATS connected", "url", cfg.NatsURL)

	proc := processor.New(settler, corrector, hermesClient, slog.Default())
	if err := proc.Subscribe(hermesClient); err != nil {
		slog.Error("failed to subscribe to ladder events", "error", err)
		os.Exit(1)
	}

	// HTTP API
	if cfg.APIToken == "" {
		slog.Warn("ARBITER_API_TOKEN not set, rating routes are unauthenticated")
	}
	srv := api.NewServer(cfg.Port, cfg.APIToken, api.Deps{
		Store:     ratings,
		Settler:   settler,
		Corrector: corrector,
		Policy:    cfg.Policy,
		Gatherer:  reg,
		StoreKind: cfg.Store,
		Bus:       hermesClient,
	}, slog.Default())
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	slog.Info("arbiter ready", "port", cfg.Port)

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP shutdown incomplete", "error", err)
	}
	cancel()
	slog.Info("arbiter stopped")
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
