package migrate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/bidroom-backend/pkg/config"
	"github.com/angelmondragon/bidroom-backend/pkg/db"
	"github.com/angelmondragon/bidroom-backend/pkg/logger"
)

func TestSchemaOnBoot(t *testing.T) {
	cases := []struct {
		name   string
		env    string
		sqlite bool
		auto   bool
		want   bootSchema
	}{
		{"sqlite wins in any env", config.AppEnvProd, true, false, bootSQLite},
		{"dev with auto migrate", config.AppEnvDev, false, true, bootGoose},
		{"dev without auto migrate", config.AppEnvDev, false, false, bootSkip},
		{"prod never migrates itself", config.AppEnvProd, false, true, bootSkip},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := &config.Config{}
			cfg.App.Env = tc.env
			cfg.FeatureFlags.UseSQLite = tc.sqlite
			cfg.FeatureFlags.AutoMigrate = tc.auto
			assert.Equal(t, tc.want, schemaOnBoot(cfg))
		})
	}
}

func TestMaybeRunDevAppliesSQLiteSchema(t *testing.T) {
	conn, err := gorm.Open(sqlite.Open("file:autorun?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.FeatureFlags.UseSQLite = true
	logg := logger.New(logger.Options{ServiceName: "migrate-test"})

	require.NoError(t, MaybeRunDev(context.Background(), cfg, logg, db.NewFromConn(conn)))
	assert.True(t, conn.Migrator().HasTable("bids"))
	assert.True(t, conn.Migrator().HasTable("negotiation_messages"))
}
