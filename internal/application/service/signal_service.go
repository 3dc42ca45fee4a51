package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"mt5bot/internal/application/port"
)

// SignalService runs one producer cycle: ask the source, gate on the
// strategy's confidence, place.
type SignalService struct {
	source port.SignalSource
	placer port.Placer
}

func NewSignalService(source port.SignalSource, placer port.Placer) *SignalService {
	return &SignalService{source: source, placer: placer}
}

// Step returns the new ticket, or 0 when the cycle was a no-op.
func (s *SignalService) Step(ctx context.Context, strategy, symbol string, volume float64) (int64, error) {
	sig, err := s.source.Next(ctx, strategy, symbol)
	if err != nil {
		return 0, fmt.Errorf("signal source %s: %w", s.source.Name(), err)
	}
	if sig == nil {
		return 0, nil
	}

	threshold := s.placer.GetStrategyConfidence(strategy)
	if sig.Confidence < threshold {
		log.Debug().
			Str("strategy", strategy).
			Str("symbol", symbol).
			Float64("confidence", sig.Confidence).
			Float64("threshold", threshold).
			Msg("signal below confidence threshold")
		return 0, nil
	}

	if sig.Volume > 0 {
		volume = sig.Volume
	}
	return s.placer.PlacePosition(ctx, port.PlaceRequest{
		Strategy:   strategy,
		Symbol:     symbol,
		Direction:  sig.Direction,
		Volume:     volume,
		OpenPrice:  sig.Price,
		StopLoss:   sig.StopLoss,
		TakeProfit: sig.TakeProfit,
		Conditions: sig.Conditions,
	})
}
