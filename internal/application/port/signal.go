package port

import (
	"context"

	"mt5bot/internal/domain/model"
)

// SignalSource yields at most one signal per call for a strategy and symbol.
// A nil signal with nil error means "no-op this cycle".
type SignalSource interface {
	Name() string
	Next(ctx context.Context, strategy, symbol string) (*model.Signal, error)
}

// Placer is the narrow surface signal producers use to act.
type Placer interface {
	PlacePosition(ctx context.Context, req PlaceRequest) (int64, error)
	GetStrategyConfidence(strategy string) float64
}

// PlaceRequest carries the fields a producer supplies for a new position.
type PlaceRequest struct {
	Strategy   string
	Symbol     string
	Direction  model.Direction
	Volume     float64
	OpenPrice  float64
	StopLoss   float64
	TakeProfit float64
	Conditions map[string]float64
}
