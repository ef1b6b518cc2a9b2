package migrate

import (
	"context"
	"fmt"

	"github.com/angelmondragon/catermatch-backend/pkg/config"
	"github.com/angelmondragon/catermatch-backend/pkg/db"
	"github.com/angelmondragon/catermatch-backend/pkg/logger"
)

// MaybeRunDev applies the embedded migrations at boot, but only in dev with
// CATERMATCH_AUTO_MIGRATE set. Other environments run cmd/migrate explicitly.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if !cfg.App.IsDev() || !cfg.FeatureFlags.AutoMigrate {
		return nil
	}
	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("extracting sql.DB: %w", err)
	}
	// The runner shares the pool with the API, so it is not closed here.
	runner, err := NewRunner(sqlDB, EmbeddedFS())
	if err != nil {
		return err
	}

	applied, err := runner.Up(ctx)
	for _, a := range applied {
		logg.Info(logg.WithFields(ctx, map[string]any{
			"version":     a.Version,
			"file":        a.File,
			"duration_ms": a.Millis,
		}), "migration applied")
	}
	if err != nil {
		return err
	}
	logg.Info(logg.WithField(ctx, "applied", len(applied)), "dev auto-migrate finished")
	return nil
}
