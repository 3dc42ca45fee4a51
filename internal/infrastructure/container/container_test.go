package container

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mt5bot/internal/infrastructure/config"
	"mt5bot/internal/infrastructure/notify"
)

func baseConfig(t *testing.T) *config.Config {
	cfg := &config.Config{}
	cfg.Broker.Kind = "paper"
	cfg.Storage.Backend = "file"
	cfg.Storage.StateDir = filepath.Join(t.TempDir(), "state")
	cfg.Signals.Source = "none"
	return cfg
}

func TestContainerFileBackend(t *testing.T) {
	c, err := New(context.Background(), baseConfig(t))
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, "paper", c.Broker().Name())
	assert.NotNil(t, c.State())
	assert.Nil(t, c.Journal())
	assert.Nil(t, c.Signals())
	assert.Nil(t, c.Archiver())
	assert.IsType(t, notify.LogAlerter{}, c.Alerter())
}

func TestContainerWithSQLiteAndRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := baseConfig(t)
	cfg.Storage.Backend = "sqlite"
	cfg.Storage.SQLite.Path = filepath.Join(t.TempDir(), "bot.db")
	cfg.Storage.Redis.Enabled = true
	cfg.Storage.Redis.Addr = mr.Addr()
	cfg.Storage.Redis.Prefix = "t"
	cfg.Signals.Source = "redis"
	cfg.Signals.Prefix = "t"

	c, err := New(context.Background(), cfg)
	require.NoError(t, err)

	require.NotNil(t, c.SQLiteRepo())
	assert.Same(t, c.SQLiteRepo(), c.State())
	require.NotNil(t, c.Journal())
	assert.Equal(t, 2, c.journal.Len())
	require.NotNil(t, c.Signals())
	assert.Equal(t, "redis", c.Signals().Name())

	assert.NoError(t, c.Close())
	assert.NoError(t, c.Close(), "close is idempotent")
}

func TestContainerRedisUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg := baseConfig(t)
	cfg.Storage.Redis.Enabled = true
	cfg.Storage.Redis.Addr = addr

	_, err := New(context.Background(), cfg)
	assert.Error(t, err)
}

func TestContainerUnknownBroker(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Broker.Kind = "fix"
	_, err := New(context.Background(), cfg)
	assert.ErrorIs(t, err, ErrUnknownBroker)
}
