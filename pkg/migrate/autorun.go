package migrate

import (
	"context"
	"fmt"

	"github.com/angelmondragon/bidroom-backend/pkg/config"
	"github.com/angelmondragon/bidroom-backend/pkg/db"
	"github.com/angelmondragon/bidroom-backend/pkg/logger"
)

type bootSchema int

const (
	bootSkip bootSchema = iota
	bootSQLite
	bootGoose
)

func (b bootSchema) String() string {
	switch b {
	case bootSQLite:
		return "sqlite_schema"
	case bootGoose:
		return "goose_up"
	default:
		return "skip"
	}
}

// schemaOnBoot picks what a binary does to the schema at startup. sqlite
// always gets the embedded schema; Postgres only migrates itself in dev with
// auto-migrate enabled.
func schemaOnBoot(cfg *config.Config) bootSchema {
	switch {
	case cfg.FeatureFlags.UseSQLite:
		return bootSQLite
	case cfg.App.IsDev() && cfg.FeatureFlags.AutoMigrate:
		return bootGoose
	default:
		return bootSkip
	}
}

// MaybeRunDev brings the schema up to date at startup when the configuration
// allows it.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	mode := schemaOnBoot(cfg)
	if mode == bootSkip {
		return nil
	}
	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env, "schema_on_boot": mode.String()})

	if mode == bootSQLite {
		logg.Info(ctx, "migration.boot")
		return ApplySQLiteSchema(ctx, client.DB())
	}

	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("extracting sql.DB: %w", err)
	}
	runner, err := NewRunner(sqlDB, DefaultDir, logg)
	if err != nil {
		return err
	}
	logg.Info(logg.WithField(ctx, "dir", DefaultDir), "migration.boot")
	return runner.Up(ctx)
}
