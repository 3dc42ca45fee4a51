package signal

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mt5bot/internal/domain/model"
)

func newSource(t *testing.T) (*RedisSource, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewRedisSource(rdb, "bot", time.Minute), s
}

func TestNextConsumesSignalOnce(t *testing.T) {
	src, mr := newSource(t)
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	src.now = func() time.Time { return now }

	b, err := json.Marshal(model.Signal{Direction: model.Buy, Confidence: 0.8, StopLoss: 1.09, CreatedAt: now.Add(-10 * time.Second)})
	require.NoError(t, err)
	require.NoError(t, mr.Set("bot:signal:momentum:EURUSD", string(b)))

	sig, err := src.Next(context.Background(), "momentum", "eurusd")
	require.NoError(t, err)
	require.NotNil(t, sig)
	assert.Equal(t, model.Buy, sig.Direction)
	assert.Equal(t, "momentum", sig.Strategy)
	assert.Equal(t, "eurusd", sig.Symbol)

	sig, err = src.Next(context.Background(), "momentum", "EURUSD")
	require.NoError(t, err)
	assert.Nil(t, sig)
}

func TestNextDropsStaleAndMalformed(t *testing.T) {
	src, mr := newSource(t)
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	src.now = func() time.Time { return now }

	b, _ := json.Marshal(model.Signal{Direction: model.Sell, Confidence: 0.9, CreatedAt: now.Add(-time.Hour)})
	require.NoError(t, mr.Set("bot:signal:s:EURUSD", string(b)))
	sig, err := src.Next(context.Background(), "s", "EURUSD")
	require.NoError(t, err)
	assert.Nil(t, sig)

	require.NoError(t, mr.Set("bot:signal:s:XAUUSD", "{oops"))
	sig, err = src.Next(context.Background(), "s", "XAUUSD")
	require.NoError(t, err)
	assert.Nil(t, sig)
	assert.False(t, mr.Exists("bot:signal:s:XAUUSD"))
}

func TestNextPropagatesConnectionErrors(t *testing.T) {
	src, mr := newSource(t)
	mr.Close()
	_, err := src.Next(context.Background(), "s", "EURUSD")
	assert.Error(t, err)
}
