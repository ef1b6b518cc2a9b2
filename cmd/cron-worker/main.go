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

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/catermatch-backend/internal/cron"
	"github.com/angelmondragon/catermatch-backend/internal/eventrequests"
	"github.com/angelmondragon/catermatch-backend/internal/roundrobin"
	"github.com/angelmondragon/catermatch-backend/pkg/config"
	"github.com/angelmondragon/catermatch-backend/pkg/db"
	"github.com/angelmondragon/catermatch-backend/pkg/logger"
	"github.com/angelmondragon/catermatch-backend/pkg/metrics"
	"github.com/angelmondragon/catermatch-backend/pkg/migrate"
	"github.com/angelmondragon/catermatch-backend/pkg/redis"
)

const serviceKind = "cron-worker"

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	cfg.Service.Kind = serviceKind
	logg := logger.New(logger.Options{
		ServiceName: serviceKind,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithField(ctx, "env", cfg.App.Env)

	if err := run(ctx, cfg, logg); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped", err)
		os.Exit(1)
	}
	logg.Info(ctx, "cron worker shut down")
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger) error {
	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer dbClient.Close()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return fmt.Errorf("dev migrations: %w", err)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	defer redisClient.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	jobMetrics := metrics.NewCronJobMetrics(registry)

	service, err := buildService(cfg, logg, dbClient, redisClient, jobMetrics)
	if err != nil {
		return err
	}

	if cfg.Cron.MetricsAddr != "" {
		stopMetrics := serveMetrics(ctx, logg, cfg.Cron.MetricsAddr, registry)
		defer stopMetrics()
	}

	logg.Info(logg.WithField(ctx, "interval", cfg.Cron.Interval.String()), "cron worker started")
	return service.Run(ctx)
}

func buildService(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, redisClient *redis.Client, jobMetrics *metrics.CronJobMetrics) (*cron.Service, error) {
	lock, err := cron.NewRedisLock(redisClient, lockName(cfg.App.Env), cfg.Cron.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("cron lock: %w", err)
	}
	monthlyReset, err := cron.NewMonthlyResetJob(cron.MonthlyResetJobParams{
		Repo:    roundrobin.NewRepository(dbClient.DB()),
		Logger:  logg,
		Metrics: jobMetrics,
	})
	if err != nil {
		return nil, err
	}
	staleMatching, err := cron.NewStaleMatchingJob(cron.StaleMatchingJobParams{
		Repo:       eventrequests.NewRepository(dbClient.DB()),
		Logger:     logg,
		Metrics:    jobMetrics,
		StaleAfter: cfg.Matching.StaleAfter,
	})
	if err != nil {
		return nil, err
	}
	return cron.NewService(cron.ServiceParams{
		Logger:       logg,
		Registry:     cron.NewRegistry(monthlyReset, staleMatching),
		Lock:         lock,
		Metrics:      jobMetrics,
		Interval:     cfg.Cron.Interval,
		CycleTimeout: cfg.Cron.LockTTL,
	})
}

// serveMetrics exposes the job counters for scraping and returns a shutdown func.
func serveMetrics(ctx context.Context, logg *logger.Logger, addr string, gatherer prometheus.Gatherer) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "metrics listener failed", err)
		}
	}()
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}
}

// lockName scopes the lock per environment so staging and prod workers sharing a redis do not
// block each other.
func lockName(env string) string {
	if env == "" {
		env = "local"
	}
	return serviceKind + ":" + env
}
