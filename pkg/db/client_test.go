package db

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/catermatch-backend/pkg/config"
	"github.com/angelmondragon/catermatch-backend/pkg/logger"
)

type cursorRow struct {
	Slot  string `gorm:"primaryKey"`
	Index int64
}

func newTestDB(t *testing.T, cfg *gorm.Config) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), cfg)
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&cursorRow{}))
	return conn
}

func TestNewRequiresDSN(t *testing.T) {
	_, err := New(context.Background(), config.DBConfig{}, nil)
	require.EqualError(t, err, "database DSN is required")
}

func TestPingAndClose(t *testing.T) {
	client := FromGorm(newTestDB(t, gormConfig(nil, 0)))
	require.NoError(t, client.Ping(context.Background()))
	require.NoError(t, client.Close())
	require.Error(t, client.Ping(context.Background()))
}

func TestSlowQueriesAreLogged(t *testing.T) {
	var buf bytes.Buffer
	logg := logger.New(logger.Options{ServiceName: "db-test", Level: zerolog.DebugLevel, Output: &buf, Format: "json"})
	// Any query is slower than a nanosecond.
	conn := newTestDB(t, gormConfig(logg, time.Nanosecond))

	require.NoError(t, conn.Create(&cursorRow{Slot: "basic|austin", Index: 1}).Error)
	require.Contains(t, buf.String(), "SLOW SQL")
	require.Contains(t, buf.String(), `"level":"warn"`)
}

func TestQuietByDefault(t *testing.T) {
	var buf bytes.Buffer
	logg := logger.New(logger.Options{ServiceName: "db-test", Level: zerolog.DebugLevel, Output: &buf, Format: "json"})
	conn := newTestDB(t, gormConfig(logg, 0))

	var row cursorRow
	require.Error(t, conn.Where("slot = ?", "missing").First(&row).Error)
	require.Empty(t, buf.String())
}

func TestIsUniqueViolation(t *testing.T) {
	conn := newTestDB(t, gormConfig(nil, 0))
	require.NoError(t, conn.Create(&cursorRow{Slot: "dup"}).Error)
	err := conn.Create(&cursorRow{Slot: "dup"}).Error
	require.True(t, IsUniqueViolation(err, ""))
	require.False(t, IsUniqueViolation(errors.New("other"), ""))
	require.False(t, IsUniqueViolation(nil, ""))
	require.True(t, IsUniqueViolation(errors.New(`duplicate key value violates unique constraint "matches_request_caterer_key"`), "matches_request_caterer_key"))
	require.False(t, IsUniqueViolation(errors.New(`duplicate key value violates unique constraint "other_key"`), "matches_request_caterer_key"))
}

func TestIsNotFound(t *testing.T) {
	conn := newTestDB(t, gormConfig(nil, 0))
	var row cursorRow
	require.True(t, IsNotFound(conn.Where("slot = ?", "missing").First(&row).Error))
	require.False(t, IsNotFound(errors.New("boom")))
}
