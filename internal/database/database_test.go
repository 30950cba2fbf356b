package database

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"futures-trade-assistant/internal/config"
	"futures-trade-assistant/internal/models"
)

func TestNewDatabase_Sqlite(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "stats.db")

	db, err := NewDatabase(config.Database{Driver: "sqlite", DSN: dsn})
	require.NoError(t, err)

	assert.True(t, db.Migrator().HasTable(&models.DailyTradeStat{}))
	assert.True(t, db.Migrator().HasIndex(&models.DailyTradeStat{}, "idx_day_symbol"))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	assert.NoError(t, sqlDB.Close())
}

func TestNewDatabase_UnsupportedDriver(t *testing.T) {
	_, err := NewDatabase(config.Database{Driver: "mysql"})
	assert.ErrorContains(t, err, `unsupported database driver "mysql"`)
}
