package svc

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mt5bot/internal/domain/model"
	"mt5bot/internal/infrastructure/config"
)

func loadConfig(t *testing.T, body string) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	cfg, err := config.Load(path)
	require.NoError(t, err)
	return cfg
}

func TestAppDepsFromConfig(t *testing.T) {
	cfg := loadConfig(t, `
[lifecycle]
tick_interval = "500ms"
min_peak_profit = 5.0

[exit_policies.default]
max_hold = "12h"

[exit_policies.momentum]
trailing_distance = 0.002
min_hold = "1m"

[orders]
dedup_window = "45s"
`)
	deps, err := AppDeps(cfg)
	require.NoError(t, err)

	assert.Equal(t, 500*time.Millisecond, deps.Engine.TickInterval)
	assert.Equal(t, 5.0, deps.Engine.Rules.MinPeakProfit)
	assert.Equal(t, 0.8, deps.Engine.Rules.EmergencyLossFraction)
	assert.Equal(t, 45*time.Second, deps.DedupWindow)
	assert.Equal(t, 0.6, deps.Learning.DefaultConfidence)
	assert.Equal(t, 0.002, deps.Policies.For("momentum").TrailingDistance)
	assert.Equal(t, 12*time.Hour, deps.Policies.For("unknown").MaxHold)
}

func TestProducersSkipDisabled(t *testing.T) {
	cfg := loadConfig(t, `
[[strategies]]
name = "momentum"
symbols = ["EURUSD", "GBPUSD"]
interval = "30s"
volume = 0.2

[[strategies]]
name = "off"
symbols = ["XAUUSD"]
disabled = true
`)
	ps := Producers(cfg)
	require.Len(t, ps, 2)
	assert.Equal(t, "momentum", ps[0].Strategy)
	assert.Equal(t, "GBPUSD", ps[1].Symbol)
	assert.Equal(t, 30*time.Second, ps[1].Interval)
	assert.Equal(t, 0.2, ps[1].Volume)
}

func TestServiceContextPlacesFromRedisSignal(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := loadConfig(t, fmt.Sprintf(`
[lifecycle]
tick_interval = "20ms"

[broker.paper.prices]
EURUSD = 1.1

[storage]
state_dir = %q

[storage.redis]
enabled = true
addr = %q
prefix = "t"

[signals]
source = "redis"
prefix = "t"

[[strategies]]
name = "momentum"
symbols = ["EURUSD"]
interval = "20ms"
volume = 0.1
`, filepath.Join(t.TempDir(), "state"), mr.Addr()))

	sc, err := New(context.Background(), cfg, Options{})
	require.NoError(t, err)
	defer sc.Close()

	sig, err := json.Marshal(model.Signal{
		Strategy: "momentum", Symbol: "EURUSD", Direction: model.Buy,
		Confidence: 0.9, StopLoss: 1.09, TakeProfit: 1.12, CreatedAt: time.Now(),
	})
	require.NoError(t, err)
	require.NoError(t, mr.Set("t:signal:momentum:EURUSD", string(sig)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sc.Trader().Run(ctx) }()

	store := sc.App().PositionStore()
	require.Eventually(t, func() bool { return store.Len() == 1 }, 3*time.Second, 20*time.Millisecond)
	p := store.Snapshot()[0]
	assert.Equal(t, "momentum", p.StrategyName)
	assert.Equal(t, model.StageOpen, p.Stage)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("trader did not stop")
	}
	assert.FileExists(t, filepath.Join(cfg.Storage.StateDir, "positions.json"))
}

func TestNewRejectsNilConfig(t *testing.T) {
	_, err := New(context.Background(), nil, Options{})
	assert.ErrorIs(t, err, ErrNilConfig)
}
