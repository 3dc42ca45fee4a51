package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mt5bot/internal/application/port"
	"mt5bot/internal/domain/model"
	domainservice "mt5bot/internal/domain/service"
)

func newOrderService(t *testing.T) (*OrderService, *fakeBroker, *PositionStore, *recSink) {
	t.Helper()
	b := newFakeBroker()
	store := NewPositionStore(nil)
	params := NewParamStore(newMemState(), testLearningPolicy())
	sink := &recSink{}
	svc := NewOrderService(b, store, params, domainservice.NewPlacementGuard(time.Minute), sink, time.Second)
	svc.now = func() time.Time { return base }
	return svc, b, store, sink
}

func TestPlacePositionTracksOpenRecord(t *testing.T) {
	svc, b, store, sink := newOrderService(t)

	ticket, err := svc.PlacePosition(context.Background(), port.PlaceRequest{
		Strategy: "trend", Symbol: "eurusd", Direction: model.Buy,
		Volume: 0.2, OpenPrice: 1.1, StopLoss: 1.09, TakeProfit: 1.12,
		Conditions: map[string]float64{"rsi": 55},
	})
	require.NoError(t, err)

	p, ok := store.Get(ticket)
	require.True(t, ok)
	assert.Equal(t, model.StageOpen, p.Stage)
	assert.Equal(t, base, p.OpenTime)
	assert.Equal(t, "EURUSD", p.Symbol)
	assert.Equal(t, "trend", p.StrategyName)
	assert.Equal(t, 0.2, p.Volume)
	assert.Equal(t, 55.0, p.Conditions["rsi"])
	require.Len(t, b.placed, 1)
	assert.Equal(t, "trend", b.placed[0].Comment)
	assert.Equal(t, []model.EventType{model.EventPlaced}, sink.types())
}

func TestPlacePositionRejectsInvalid(t *testing.T) {
	svc, b, _, _ := newOrderService(t)
	cases := []port.PlaceRequest{
		{Symbol: "EURUSD", Direction: model.Buy, Volume: 1},
		{Strategy: "trend", Symbol: "EURUSD", Volume: 1},
		{Strategy: "trend", Symbol: "EURUSD", Direction: model.Sell, Volume: 0},
		{Strategy: "trend", Symbol: "EURUSD", Direction: model.Buy, Volume: 1, OpenPrice: 1.1, StopLoss: 1.2},
		{Strategy: "trend", Symbol: "EURUSD", Direction: model.Sell, Volume: 1, OpenPrice: 1.1, TakeProfit: 1.2},
	}
	for i, req := range cases {
		_, err := svc.PlacePosition(context.Background(), req)
		assert.ErrorIs(t, err, ErrInvalidOrder, "case %d", i)
	}
	assert.Empty(t, b.placed)
}

func TestPlacePositionDeduplicates(t *testing.T) {
	svc, _, store, _ := newOrderService(t)
	req := port.PlaceRequest{Strategy: "scalp", Symbol: "XAUUSD", Direction: model.Sell, Volume: 0.1}

	_, err := svc.PlacePosition(context.Background(), req)
	require.NoError(t, err)
	_, err = svc.PlacePosition(context.Background(), req)
	assert.ErrorIs(t, err, ErrDuplicatePlacement)

	req.Direction = model.Buy
	_, err = svc.PlacePosition(context.Background(), req)
	assert.NoError(t, err)
	assert.Equal(t, 2, store.Len())
}

func TestPlacePositionBrokerRejectionReleasesGuard(t *testing.T) {
	svc, b, store, _ := newOrderService(t)
	b.placeErr = errors.New("market closed")
	req := port.PlaceRequest{Strategy: "news", Symbol: "GBPUSD", Direction: model.Buy, Volume: 0.1}

	_, err := svc.PlacePosition(context.Background(), req)
	require.Error(t, err)
	assert.Zero(t, store.Len())

	b.placeErr = nil
	_, err = svc.PlacePosition(context.Background(), req)
	assert.NoError(t, err)
}

func TestGetStrategyConfidenceDefaults(t *testing.T) {
	svc, _, _, _ := newOrderService(t)
	assert.Equal(t, 0.6, svc.GetStrategyConfidence("never-traded"))
}
