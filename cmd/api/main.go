package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/clinic-queue/cmd/mainconfig"
	"github.com/wolfman30/clinic-queue/internal/api/router"
	"github.com/wolfman30/clinic-queue/internal/app/bootstrap"
	"github.com/wolfman30/clinic-queue/internal/audit"
	"github.com/wolfman30/clinic-queue/internal/auth"
	appconfig "github.com/wolfman30/clinic-queue/internal/config"
	"github.com/wolfman30/clinic-queue/internal/encryption"
	"github.com/wolfman30/clinic-queue/internal/http/handlers"
	"github.com/wolfman30/clinic-queue/internal/observability/metrics"
	"github.com/wolfman30/clinic-queue/internal/queue"
	"github.com/wolfman30/clinic-queue/internal/realtime"
	"github.com/wolfman30/clinic-queue/internal/scheduling"
	"github.com/wolfman30/clinic-queue/pkg/logging"
)

func main() {
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting clinic-queue API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
	fmt.Println("Server exited gracefully")
}

func run(cfg *appconfig.Config, logger *logging.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, sqlDB, err := bootstrap.BuildDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()
	defer func() { _ = sqlDB.Close() }()

	sealer, err := encryption.NewSealerFromBase64(cfg.EncryptionKey)
	if err != nil {
		return fmt.Errorf("load encryption key: %w", err)
	}
	if cfg.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	verifier := auth.NewVerifier(cfg.JWTSecret)

	metricsHandler, queueMetrics, hubMetrics := setupMetrics()

	hub := realtime.NewHub(verifier, logger, realtime.Options{
		HeartbeatInterval: cfg.HeartbeatInterval,
		SendBuffer:        cfg.SendBufferSize,
		AllowedOrigins:    cfg.CORSAllowedOrigins,
		Metrics:           hubMetrics,
	})
	hubDone := make(chan struct{})
	go func() {
		defer close(hubDone)
		hub.Run(ctx)
	}()

	var docs queue.DocumentStore
	if cfg.DocumentBucket != "" {
		awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
		if err != nil {
			return fmt.Errorf("load AWS config: %w", err)
		}
		docs = bootstrap.BuildDocumentStore(awsCfg, cfg, logger)
	}

	engine, err := queue.NewEngine(queue.Config{
		Pool:            pool,
		Sealer:          sealer,
		Publisher:       hub,
		Documents:       docs,
		Metrics:         queueMetrics,
		Logger:          logger,
		DefaultLocation: scheduling.Location(cfg.DefaultTimezone, time.UTC),
	})
	if err != nil {
		return err
	}

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
	}

	r := router.New(&router.Config{
		Logger:             logger,
		Authenticator:      verifier,
		Appointments:       handlers.NewAppointmentHandler(engine, logger),
		Patients:           handlers.NewPatientHandler(engine, logger),
		AuditLogs:          handlers.NewAuditLogHandler(audit.NewReader(sqlDB), logger),
		Realtime:           hub,
		MetricsHandler:     metricsHandler,
		RateLimiter:        bootstrap.BuildRateLimiter(redisClient, cfg, logger),
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		DB:                 pool,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down server...")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Hijacked websocket connections are not tracked by Shutdown; the hub
	// closes them once ctx is cancelled.
	<-hubDone
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

func setupMetrics() (http.Handler, *metrics.QueueMetrics, *metrics.HubMetrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	handler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	return handler, metrics.NewQueueMetrics(reg), metrics.NewHubMetrics(reg)
}
