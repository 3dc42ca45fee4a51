package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mt5bot/internal/domain/model"
)

func newLearning(t *testing.T) (*LearningLoop, *ParamStore, *memState) {
	t.Helper()
	state := newMemState()
	params := NewParamStore(state, testLearningPolicy())
	loop := NewLearningLoop(params, testLearningPolicy())
	loop.now = func() time.Time { return base }
	return loop, params, state
}

func outcome(ticket int64, strategy string, profit float64) model.TradeOutcome {
	return model.TradeOutcome{Ticket: ticket, StrategyName: strategy, Symbol: "EURUSD", Direction: model.Buy, Profit: profit, OpenTime: base, ClosedAt: base}
}

func TestLearningLowersConfidenceOnStrongWinRate(t *testing.T) {
	loop, params, state := newLearning(t)
	ctx := context.Background()

	for i := 1; i <= 20; i++ {
		profit := 10.0
		if i%4 == 0 {
			profit = -5
		}
		_, err := loop.Record(ctx, outcome(int64(i), "scalp", profit))
		require.NoError(t, err)
		if i < 20 {
			assert.Equal(t, 0.6, params.Confidence("scalp"), "no adjustment before the sample size")
		}
	}

	p, ok := params.Get("scalp")
	require.True(t, ok)
	assert.Equal(t, 20, p.TotalTrades)
	assert.Equal(t, 15, p.Wins)
	assert.Equal(t, 5, p.Losses)
	assert.InDelta(t, 0.55, p.MinConfidence, 1e-9)
	assert.Equal(t, base, p.LastAdjustmentTime)
	assert.InDelta(t, 0.55, state.params["scalp"].MinConfidence, 1e-9)
	assert.Equal(t, 20, state.paramSave)
}

func TestLearningRaisesConfidenceOnWeakWinRate(t *testing.T) {
	loop, params, _ := newLearning(t)
	for i := 1; i <= 20; i++ {
		profit := -1.0
		if i <= 8 {
			profit = 2
		}
		_, err := loop.Record(context.Background(), outcome(int64(i), "range", profit))
		require.NoError(t, err)
	}
	assert.InDelta(t, 0.65, params.Confidence("range"), 1e-9)
}

func TestLearningZeroProfitCountsOnlyTotal(t *testing.T) {
	loop, params, _ := newLearning(t)
	_, err := loop.Record(context.Background(), outcome(1, "news", 0))
	require.NoError(t, err)
	p, _ := params.Get("news")
	assert.Equal(t, 1, p.TotalTrades)
	assert.Zero(t, p.Wins)
	assert.Zero(t, p.Losses)
}

func TestLearningIgnoresDuplicateTicket(t *testing.T) {
	loop, params, _ := newLearning(t)
	ctx := context.Background()
	_, err := loop.Record(ctx, outcome(77, "trend", 5))
	require.NoError(t, err)
	_, err = loop.Record(ctx, outcome(77, "trend", 5))
	require.NoError(t, err)

	p, _ := params.Get("trend")
	assert.Equal(t, 1, p.TotalTrades)
	assert.Equal(t, 1, p.Wins)
	assert.Len(t, p.FavorablePatterns, 1)
}

func TestLearningApproximateWinSkipsPatterns(t *testing.T) {
	loop, params, _ := newLearning(t)
	o := outcome(1, "trend", 3)
	o.Approximate = true
	_, err := loop.Record(context.Background(), o)
	require.NoError(t, err)
	p, _ := params.Get("trend")
	assert.Equal(t, 1, p.Wins)
	assert.Empty(t, p.FavorablePatterns)
}

func TestLearningConfidenceStaysClamped(t *testing.T) {
	loop, params, _ := newLearning(t)
	ctx := context.Background()
	ticket := int64(0)
	for round := 0; round < 10; round++ {
		for i := 0; i < 20; i++ {
			ticket++
			_, err := loop.Record(ctx, outcome(ticket, "breakout", 1))
			require.NoError(t, err)
			c := params.Confidence("breakout")
			require.GreaterOrEqual(t, c, 0.4)
			require.LessOrEqual(t, c, 0.9)
		}
	}
	assert.Equal(t, 0.4, params.Confidence("breakout"))

	for round := 0; round < 20; round++ {
		for i := 0; i < 20; i++ {
			ticket++
			_, err := loop.Record(ctx, outcome(ticket, "breakout", -1))
			require.NoError(t, err)
		}
	}
	assert.Equal(t, 0.9, params.Confidence("breakout"))
}

func TestLearningConcurrentStrategies(t *testing.T) {
	loop, params, _ := newLearning(t)
	strategies := []string{"trend", "range", "scalp", "news"}

	var wg sync.WaitGroup
	for si, name := range strategies {
		for w := 0; w < 4; w++ {
			wg.Add(1)
			go func(si, w int, name string) {
				defer wg.Done()
				for i := 0; i < 25; i++ {
					ticket := int64(si*10000 + w*100 + i)
					profit := 1.0
					if i%3 == 0 {
						profit = -1
					}
					_, _ = loop.Record(context.Background(), outcome(ticket, name, profit))
					_ = params.Confidence(name)
				}
			}(si, w, name)
		}
	}
	wg.Wait()

	for _, name := range strategies {
		p, ok := params.Get(name)
		require.True(t, ok)
		assert.Equal(t, 100, p.TotalTrades, name)
		assert.Equal(t, p.TotalTrades, p.Wins+p.Losses, name)
	}
}

func TestLearningPersistFailureStillCounts(t *testing.T) {
	loop, params, state := newLearning(t)
	state.saveErr = errors.New("disk full")
	_, err := loop.Record(context.Background(), outcome(1, "trend", 1))
	require.Error(t, err)
	assert.Equal(t, 1, params.List()[0].TotalTrades)

	state.saveErr = nil
	_, err = loop.Record(context.Background(), outcome(2, "trend", 1))
	require.NoError(t, err)
	assert.Equal(t, 2, state.params["trend"].TotalTrades)
}

func TestParamStoreLoadClampsPersistedConfidence(t *testing.T) {
	state := newMemState()
	state.params["trend"] = &model.StrategyParams{StrategyName: "trend", MinConfidence: 1.7, TotalTrades: 3, Wins: 2, Losses: 1}
	params := NewParamStore(state, testLearningPolicy())
	require.NoError(t, params.Load(context.Background()))
	assert.Equal(t, 0.9, params.Confidence("trend"))
	assert.Equal(t, 0.6, params.Confidence("unknown"))
	assert.Equal(t, fmt.Sprint([]string{"trend"}), fmt.Sprint(names(params.List())))
}

func names(ps []*model.StrategyParams) []string {
	out := make([]string, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.StrategyName)
	}
	return out
}
