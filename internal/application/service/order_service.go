package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"mt5bot/internal/application/port"
	"mt5bot/internal/domain/model"
	domainservice "mt5bot/internal/domain/service"
)

var (
	ErrInvalidOrder       = errors.New("invalid order")
	ErrDuplicatePlacement = errors.New("duplicate placement")
)

// OrderService is the surface signal producers use: place a position, read a confidence.
type OrderService struct {
	broker  port.Broker
	store   *PositionStore
	params  *ParamStore
	guard   *domainservice.PlacementGuard
	events  port.EventSink
	timeout time.Duration
	now     func() time.Time
}

func NewOrderService(broker port.Broker, store *PositionStore, params *ParamStore,
	guard *domainservice.PlacementGuard, events port.EventSink, timeout time.Duration) *OrderService {
	return &OrderService{
		broker:  broker,
		store:   store,
		params:  params,
		guard:   guard,
		events:  events,
		timeout: timeout,
		now:     time.Now,
	}
}

// PlacePosition sends a market order and, once the broker accepts it, tracks the new
// ticket at stage OPEN.
func (s *OrderService) PlacePosition(ctx context.Context, req port.PlaceRequest) (int64, error) {
	req.Symbol = strings.ToUpper(strings.TrimSpace(req.Symbol))
	if err := validatePlacement(req); err != nil {
		return 0, err
	}
	if ok, reason := s.guard.Reserve(req.Strategy, req.Symbol, req.Direction); !ok {
		return 0, fmt.Errorf("%w: %s", ErrDuplicatePlacement, reason)
	}

	callCtx, cancel := ctx, context.CancelFunc(func() {})
	if s.timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, s.timeout)
	}
	res, err := s.broker.PlaceOrder(callCtx, port.OrderRequest{
		Symbol:     req.Symbol,
		Direction:  req.Direction,
		Volume:     req.Volume,
		Price:      req.OpenPrice,
		StopLoss:   req.StopLoss,
		TakeProfit: req.TakeProfit,
		Comment:    req.Strategy,
	})
	cancel()
	if err != nil {
		s.guard.Release(req.Strategy, req.Symbol, req.Direction)
		return 0, fmt.Errorf("place %s %s %s: %w", req.Strategy, req.Symbol, req.Direction, err)
	}

	now := s.now()
	openPrice := req.OpenPrice
	if res.FillPrice > 0 {
		openPrice = res.FillPrice
	}
	volume := req.Volume
	if res.Volume > 0 {
		volume = res.Volume
	}
	p := model.Position{
		Ticket:        res.Ticket,
		Symbol:        req.Symbol,
		StrategyName:  req.Strategy,
		Direction:     req.Direction,
		Volume:        volume,
		InitialVolume: volume,
		OpenPrice:     openPrice,
		StopLoss:      req.StopLoss,
		TakeProfit:    req.TakeProfit,
		Digits:        res.Digits,
		OpenTime:      now,
		Stage:         model.StageOpen,
		BestPrice:     openPrice,
		Comment:       req.Strategy,
		Conditions:    req.Conditions,
		UpdatedAt:     now,
	}
	if err := s.store.Insert(p); err != nil {
		// the broker holds the position; the engine adopts it on its next tick
		log.Error().Err(err).Int64("ticket", res.Ticket).Msg("track placed position failed")
		return res.Ticket, err
	}

	log.Info().
		Int64("ticket", res.Ticket).
		Str("strategy", req.Strategy).
		Str("symbol", req.Symbol).
		Str("direction", req.Direction.String()).
		Float64("volume", volume).
		Float64("price", openPrice).
		Msg("position placed")
	if s.events != nil {
		s.events.Publish(model.LifecycleEvent{
			Type:      model.EventPlaced,
			Ticket:    res.Ticket,
			Strategy:  req.Strategy,
			Symbol:    req.Symbol,
			Stage:     model.StageOpen,
			StopLoss:  req.StopLoss,
			Volume:    volume,
			Timestamp: now,
		})
	}
	return res.Ticket, nil
}

// GetStrategyConfidence returns the strategy's current min_confidence.
func (s *OrderService) GetStrategyConfidence(strategy string) float64 {
	return s.params.Confidence(strategy)
}

func validatePlacement(req port.PlaceRequest) error {
	switch {
	case strings.TrimSpace(req.Strategy) == "":
		return fmt.Errorf("%w: empty strategy", ErrInvalidOrder)
	case req.Symbol == "":
		return fmt.Errorf("%w: empty symbol", ErrInvalidOrder)
	case !req.Direction.Valid():
		return fmt.Errorf("%w: bad direction", ErrInvalidOrder)
	case req.Volume <= 0:
		return fmt.Errorf("%w: volume %v", ErrInvalidOrder, req.Volume)
	case req.OpenPrice < 0 || req.StopLoss < 0 || req.TakeProfit < 0:
		return fmt.Errorf("%w: negative price", ErrInvalidOrder)
	}
	if req.OpenPrice > 0 {
		sign := req.Direction.Sign()
		if req.StopLoss > 0 && (req.OpenPrice-req.StopLoss)*sign <= 0 {
			return fmt.Errorf("%w: stop_loss %v on wrong side of %v", ErrInvalidOrder, req.StopLoss, req.OpenPrice)
		}
		if req.TakeProfit > 0 && (req.TakeProfit-req.OpenPrice)*sign <= 0 {
			return fmt.Errorf("%w: take_profit %v on wrong side of %v", ErrInvalidOrder, req.TakeProfit, req.OpenPrice)
		}
	}
	return nil
}

var _ port.Placer = (*OrderService)(nil)
