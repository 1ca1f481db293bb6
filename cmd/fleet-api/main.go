package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hallvard/fleet/internal/api"
	"github.com/hallvard/fleet/internal/config"
	"github.com/hallvard/fleet/internal/core"
	"github.com/hallvard/fleet/internal/crypto"
	"github.com/hallvard/fleet/internal/db"
	"github.com/hallvard/fleet/internal/logging"
	"github.com/hallvard/fleet/internal/metrics"
	"github.com/hallvard/fleet/internal/node"
)

func main() {
	migrateFlag := flag.Bool("migrate", false, "Run database migrations before starting")
	migrateDirFlag := flag.String("migrate-dir", "migrations", "Migration files directory")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg)

	if *migrateFlag {
		logger.Info().Str("dir", *migrateDirFlag).Msg("running database migrations")
		if err := db.RunMigrations(cfg.DatabaseURL, *migrateDirFlag); err != nil {
			logger.Fatal().Err(err).Msg("migration failed")
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	metrics.RegisterPgxPoolMetrics(pool)

	cc, err := crypto.LoadContext(cfg.ControllerPrivateKeyPath, cfg.ControllerPublicKeyPath, cfg.NodePublicKeyPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load key material")
	}

	client := node.NewClient(cc, cfg.NodeAgentPort, logger)
	prober := node.NewProber(client, cfg.NodeProbeTimeout, cfg.NodeProbeBackoff, logger)

	services := core.NewServices(pool, client, prober, core.HeartbeatConfig{
		CallTimeout: cfg.NodeCommandTimeout,
		Timeout:     cfg.HeartbeatTimeout,
		Interval:    cfg.HeartbeatInterval,
	}, cfg.NodeCommandTimeout, logger)

	srv := api.NewServer(logger, pool, services)

	httpServer := &http.Server{
		Addr:         cfg.HTTPListenAddr,
		Handler:      srv,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.HTTPListenAddr).Msg("starting fleet API server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	// A separate metrics listener is optional; the API server also exposes
	// /metrics on its own port.
	if cfg.MetricsListenAddr != "" {
		metricsServer := metrics.NewServer(cfg.MetricsListenAddr)
		go func() {
			logger.Info().Str("addr", cfg.MetricsListenAddr).Msg("starting metrics server")
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error().Err(err).Msg("metrics server failed")
			}
		}()
		defer metricsServer.Close()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)

	// Let in-flight reconciliation workers finish before the process exits.
	if err := services.Heartbeats.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("heartbeat workers did not drain in time")
	}
}
