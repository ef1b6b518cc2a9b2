package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/catermatch-backend/pkg/config"
	"github.com/angelmondragon/catermatch-backend/pkg/db"
	"github.com/angelmondragon/catermatch-backend/pkg/logger"
	"github.com/angelmondragon/catermatch-backend/pkg/migrate"
)

func main() {
	_ = godotenv.Load()

	cmd := flag.String("cmd", "up", "up|down|to|pending|create|lint")
	dir := flag.String("dir", migrate.DefaultDir, "migrations directory on disk")
	embedded := flag.Bool("embedded", false, "use the migrations compiled into the binary instead of -dir")
	name := flag.String("name", "", "migration name for -cmd=create")
	version := flag.String("version", "", "target version (YYYYMMDDHHMMSS) for -cmd=to")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logg := logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx := logg.WithFields(context.Background(), map[string]any{"env": cfg.App.Env, "cmd": *cmd})

	source := migrate.DirFS(*dir)
	if *embedded {
		source = migrate.EmbeddedFS()
	}

	if err := run(ctx, cfg, logg, *cmd, source, *dir, *name, *version); err != nil {
		logg.Error(ctx, "migrate failed", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger, cmd string, source fs.FS, dir, name, version string) error {
	// create and lint work on files only.
	switch cmd {
	case "create":
		if name == "" {
			return errors.New("-name is required for create")
		}
		path, err := migrate.Create(dir, name, time.Now())
		if err != nil {
			return err
		}
		logg.Info(logg.WithField(ctx, "file", path), "migration created")
		return nil
	case "lint":
		if err := migrate.Lint(source); err != nil {
			return err
		}
		logg.Info(ctx, "migrations ok")
		return nil
	}

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return err
	}
	sqlDB, err := dbClient.DB().DB()
	if err != nil {
		return err
	}
	runner, err := migrate.NewRunner(sqlDB, source)
	if err != nil {
		return err
	}
	// Closing the runner also closes the pool.
	defer runner.Close()

	var applied []migrate.Applied
	switch cmd {
	case "up":
		applied, err = runner.Up(ctx)
	case "down":
		applied, err = runner.Down(ctx)
	case "to":
		target, parseErr := strconv.ParseInt(version, 10, 64)
		if parseErr != nil {
			return fmt.Errorf("-version %q must be YYYYMMDDHHMMSS: %w", version, parseErr)
		}
		applied, err = runner.To(ctx, target)
	case "pending":
		pending, pendErr := runner.Pending(ctx)
		if pendErr != nil {
			return pendErr
		}
		logg.Info(logg.WithField(ctx, "pending", pending), "pending migrations")
		return nil
	default:
		return fmt.Errorf("unknown -cmd %q", cmd)
	}

	for _, a := range applied {
		logg.Info(logg.WithFields(ctx, map[string]any{
			"version":     a.Version,
			"file":        a.File,
			"direction":   a.Direction,
			"duration_ms": a.Millis,
		}), "migration applied")
	}
	return err
}
