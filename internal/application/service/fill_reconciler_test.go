package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mt5bot/internal/domain/model"
)

func newTestReconciler(b *fakeBroker, retries int) (*FillReconciler, *[]time.Duration) {
	r := NewFillReconciler(b, ReconcileConfig{
		Lookback:   4 * time.Hour,
		MaxRetries: retries,
		Backoff:    100 * time.Millisecond,
		MaxBackoff: 250 * time.Millisecond,
	})
	var slept []time.Duration
	r.now = func() time.Time { return base }
	r.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return r, &slept
}

func TestReconcileSumsClosingDeals(t *testing.T) {
	b := newFakeBroker()
	b.deals[5] = []model.Deal{
		{Ticket: 5, Profit: 0, IsClosing: false},
		{Ticket: 5, Profit: 12.10, IsClosing: true},
		{Ticket: 5, Profit: -2.05, IsClosing: true},
	}
	r, _ := newTestReconciler(b, 3)

	out := r.Reconcile(context.Background(), model.Position{Ticket: 5, StrategyName: "trend", LastKnownProfit: 99})
	assert.False(t, out.Approximate)
	assert.Equal(t, 10.05, out.Profit)
	assert.Equal(t, 2, out.Deals)
	assert.NotEmpty(t, out.ID)
	assert.Equal(t, base, out.ClosedAt)
}

func TestReconcileEmptyHistoryFallsBackWithoutRetry(t *testing.T) {
	b := newFakeBroker()
	r, slept := newTestReconciler(b, 3)

	out := r.Reconcile(context.Background(), model.Position{Ticket: 5, LastKnownProfit: -50})
	assert.True(t, out.Approximate)
	assert.Equal(t, -50.0, out.Profit)
	assert.Equal(t, 1, b.historyCalls)
	assert.Empty(t, *slept)
}

func TestReconcileRetriesBrokerErrors(t *testing.T) {
	b := newFakeBroker()
	b.historyErrs = 2
	b.deals[5] = []model.Deal{{Ticket: 5, Profit: 7, IsClosing: true}}
	r, slept := newTestReconciler(b, 3)

	out := r.Reconcile(context.Background(), model.Position{Ticket: 5})
	assert.False(t, out.Approximate)
	assert.Equal(t, 7.0, out.Profit)
	assert.Equal(t, 3, b.historyCalls)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, *slept)
}

func TestReconcileExhaustedRetriesFallBack(t *testing.T) {
	b := newFakeBroker()
	b.historyErrs = 10
	r, slept := newTestReconciler(b, 3)

	out := r.Reconcile(context.Background(), model.Position{Ticket: 5, LastKnownProfit: 4.5})
	assert.True(t, out.Approximate)
	assert.Equal(t, 4.5, out.Profit)
	assert.Equal(t, 4, b.historyCalls)
	require.Len(t, *slept, 3)
	assert.Equal(t, 250*time.Millisecond, (*slept)[2])
}

func TestReconcileQueriesLookbackWindow(t *testing.T) {
	b := &windowBroker{fakeBroker: newFakeBroker()}
	r := NewFillReconciler(b, ReconcileConfig{Lookback: 6 * time.Hour})
	r.now = func() time.Time { return base }
	r.Reconcile(context.Background(), model.Position{Ticket: 1})
	assert.Equal(t, base.Add(-6*time.Hour), b.since)
	assert.Equal(t, base, b.until)
}

type windowBroker struct {
	*fakeBroker
	since, until time.Time
}

func (w *windowBroker) GetHistoricalDeals(ctx context.Context, ticket int64, since, until time.Time) ([]model.Deal, error) {
	w.since, w.until = since, until
	return nil, nil
}
