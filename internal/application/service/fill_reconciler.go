package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"mt5bot/internal/application/port"
	"mt5bot/internal/domain/model"
)

// ReconcileConfig controls the history lookup. The defaults suit a broker whose deal
// history may lag the position list by hours.
type ReconcileConfig struct {
	Lookback    time.Duration
	MaxRetries  int
	Backoff     time.Duration
	MaxBackoff  time.Duration
	CallTimeout time.Duration
}

func DefaultReconcileConfig() ReconcileConfig {
	return ReconcileConfig{
		Lookback:    6 * time.Hour,
		MaxRetries:  3,
		Backoff:     500 * time.Millisecond,
		MaxBackoff:  5 * time.Second,
		CallTimeout: 10 * time.Second,
	}
}

// errNoDeals means the broker answered but had no closing deal for the ticket yet.
var errNoDeals = errors.New("no closing deals")

// FillReconciler recovers the realized profit of a ticket that left the live list.
type FillReconciler struct {
	broker port.Broker
	cfg    ReconcileConfig
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewFillReconciler(broker port.Broker, cfg ReconcileConfig) *FillReconciler {
	return &FillReconciler{broker: broker, cfg: cfg, now: time.Now, sleep: sleepCtx}
}

// Reconcile never fails: when history cannot provide an answer the outcome falls back to
// the last unrealized profit seen and is marked approximate.
func (r *FillReconciler) Reconcile(ctx context.Context, p model.Position) model.TradeOutcome {
	now := r.now()
	out := model.TradeOutcome{
		ID:           uuid.NewString(),
		Ticket:       p.Ticket,
		StrategyName: p.StrategyName,
		Symbol:       p.Symbol,
		Direction:    p.Direction,
		OpenTime:     p.OpenTime,
		ClosedAt:     now,
		FinalStage:   model.StageClosed,
		Conditions:   p.Conditions,
	}

	profit, deals, err := r.fromHistory(ctx, p.Ticket, now)
	if err == nil {
		out.Profit = profit
		out.Deals = deals
		return out
	}

	out.Profit = p.LastKnownProfit
	out.Approximate = true
	ev := log.Warn()
	if errors.Is(err, errNoDeals) {
		ev = log.Info()
	}
	ev.Err(err).
		Int64("ticket", p.Ticket).
		Str("strategy", p.StrategyName).
		Float64("fallback_profit", p.LastKnownProfit).
		Msg("fill history unavailable, using last known profit")
	return out
}

// fromHistory sums closing deals inside the look-back window, retrying broker errors with
// exponential backoff. An empty answer is not retried.
func (r *FillReconciler) fromHistory(ctx context.Context, ticket int64, now time.Time) (float64, int, error) {
	since := now.Add(-r.cfg.Lookback)
	backoff := r.cfg.Backoff

	var lastErr error
	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := r.sleep(ctx, backoff); err != nil {
				return 0, 0, fmt.Errorf("reconcile ticket %d: %w (last: %v)", ticket, err, lastErr)
			}
			backoff *= 2
			if r.cfg.MaxBackoff > 0 && backoff > r.cfg.MaxBackoff {
				backoff = r.cfg.MaxBackoff
			}
		}

		callCtx, cancel := r.callContext(ctx)
		deals, err := r.broker.GetHistoricalDeals(callCtx, ticket, since, now)
		cancel()
		if err != nil {
			lastErr = err
			log.Debug().Err(err).Int64("ticket", ticket).Int("attempt", attempt+1).Msg("history query failed")
			continue
		}

		sum := decimal.Zero
		n := 0
		for _, d := range deals {
			if d.Ticket != ticket || !d.IsClosing {
				continue
			}
			sum = sum.Add(decimal.NewFromFloat(d.Profit))
			n++
		}
		if n == 0 {
			return 0, 0, errNoDeals
		}
		return sum.InexactFloat64(), n, nil
	}
	return 0, 0, fmt.Errorf("reconcile ticket %d after %d attempts: %w", ticket, r.cfg.MaxRetries+1, lastErr)
}

func (r *FillReconciler) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.cfg.CallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.cfg.CallTimeout)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
