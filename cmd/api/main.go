package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/curohealth/clinic-scheduler/internal/api/handlers"
	"github.com/curohealth/clinic-scheduler/internal/api/router"
	"github.com/curohealth/clinic-scheduler/internal/booking"
	appconfig "github.com/curohealth/clinic-scheduler/internal/config"
	"github.com/curohealth/clinic-scheduler/internal/observability/metrics"
	"github.com/curohealth/clinic-scheduler/internal/settings"
	"github.com/curohealth/clinic-scheduler/pkg/logging"
)

func main() {
	// .env is a development convenience; absence is fine.
	_ = godotenv.Load()

	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting clinic-scheduler API server",
		"env", cfg.Env,
		"port", cfg.Port,
		"clinic_id", cfg.ClinicID,
	)

	if cfg.BackendBaseURL == "" || cfg.ClinicID == "" {
		logger.Error("BACKEND_BASE_URL and CLINIC_ID are required")
		os.Exit(1)
	}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logger.Warn("redis unreachable, settings cache disabled", "error", err)
			redisClient = nil
		}
	}

	client := booking.NewClient(cfg.BackendBaseURL, cfg.ClinicID, cfg.BackendAuthToken, logger)
	settingsStore := settings.NewStore(client, redisClient, cfg.ClinicID, logger,
		settings.WithTTL(cfg.SettingsCacheTTL))

	scheduleMetrics := metrics.NewScheduleMetrics(nil)
	reconciler := booking.NewReconciler(client, logger, scheduleMetrics)

	// Warm the collection; a cold start with an unreachable backend still
	// serves, the first mutation will surface the error.
	loadCtx, cancelLoad := context.WithTimeout(context.Background(), 30*time.Second)
	if err := reconciler.Load(loadCtx); err != nil {
		logger.Warn("initial booking load failed", "error", err)
	}
	cancelLoad()

	scheduleHandler := handlers.NewScheduleHandler(
		reconciler,
		settingsStore,
		cfg.ClinicUTCOffsetMinutes,
		cfg.WeekStart,
		logger,
	)

	r := router.New(&router.Config{
		Logger:             logger,
		Schedule:           scheduleHandler,
		MetricsHandler:     promhttp.Handler(),
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
