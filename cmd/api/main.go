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

	"github.com/angelmondragon/catermatch-backend/api/routes"
	"github.com/angelmondragon/catermatch-backend/pkg/config"
	"github.com/angelmondragon/catermatch-backend/pkg/db"
	"github.com/angelmondragon/catermatch-backend/pkg/env"
	"github.com/angelmondragon/catermatch-backend/pkg/logger"
	"github.com/angelmondragon/catermatch-backend/pkg/migrate"
	"github.com/angelmondragon/catermatch-backend/pkg/redis"
)

const (
	serviceKind       = "api"
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 15 * time.Second
)

func main() {
	bootLog := logger.New(logger.Options{ServiceName: serviceKind})
	if err := godotenv.Load(); err != nil {
		bootLog.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		bootLog.Error(context.Background(), "failed to load config", err)
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

	if err := run(ctx, cfg, logg); err != nil {
		logg.Error(ctx, "api server stopped", err)
		os.Exit(1)
	}
	logg.Info(ctx, "api server shut down")
}

// run owns every resource so deferred closes happen before main exits.
func run(ctx context.Context, cfg *config.Config, logg *logger.Logger) error {
	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer closeLogged(logg, "database", dbClient.Close)

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return fmt.Errorf("dev migrations: %w", err)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	defer closeLogged(logg, "redis", redisClient.Close)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	app, err := buildServices(ctx, cfg, logg, dbClient, redisClient, registry)
	if err != nil {
		return fmt.Errorf("services: %w", err)
	}
	defer app.close(logg)

	server := &http.Server{
		Addr:              ":" + env.Get("PORT", cfg.App.Port),
		Handler:           routes.NewRouter(cfg, logg, redisClient, registry, app.probes, app.services),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	ctx = logg.WithFields(ctx, map[string]any{"addr": server.Addr, "ai_rerank": app.aiRerank})
	return serve(ctx, logg, server)
}

// serve blocks until the listener fails or ctx is canceled, then drains in-flight requests.
func serve(ctx context.Context, logg *logger.Logger, server *http.Server) error {
	logg.Info(ctx, "starting api server")
	serveErr := make(chan error, 1)
	go func() { serveErr <- server.ListenAndServe() }()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logg.Info(ctx, "shutting down api server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func closeLogged(logg *logger.Logger, name string, closeFn func() error) {
	if err := closeFn(); err != nil {
		logg.Error(logg.WithField(context.Background(), "resource", name), "close failed", err)
	}
}
