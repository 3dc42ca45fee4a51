package redis

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

func newRepo(t *testing.T) (*Repo, *redis.Client) {
	t.Helper()
	s := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return New(rdb, "test", 100), rdb
}

func TestRecordOutcomeAppendsToStream(t *testing.T) {
	repo, rdb := newRepo(t)
	ctx := context.Background()

	o := model.TradeOutcome{ID: "x1", Ticket: 5, StrategyName: "momentum", Profit: -2.5, Direction: model.Sell, FinalStage: model.StageOpen}
	require.NoError(t, repo.RecordOutcome(ctx, o))

	msgs, err := rdb.XRange(ctx, "test:outcomes", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "momentum", msgs[0].Values["strategy"])

	var got model.TradeOutcome
	require.NoError(t, json.Unmarshal([]byte(msgs[0].Values["payload"].(string)), &got))
	assert.Equal(t, o.ID, got.ID)
	assert.Equal(t, model.Sell, got.Direction)
}

func TestRecordEventPublishes(t *testing.T) {
	repo, rdb := newRepo(t)
	ctx := context.Background()

	sub := rdb.Subscribe(ctx, repo.EventChannel())
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, repo.RecordEvent(ctx, model.LifecycleEvent{
		Type: model.EventTrailingMoved, Ticket: 9, Stage: model.StageTrailing, StopLoss: 1.2, Timestamp: time.Now(),
	}))

	select {
	case msg := <-sub.Channel():
		var ev model.LifecycleEvent
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &ev))
		assert.Equal(t, model.EventTrailingMoved, ev.Type)
		assert.Equal(t, int64(9), ev.Ticket)
	case <-time.After(2 * time.Second):
		t.Fatal("event not published")
	}
}
