package service

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"mt5bot/internal/domain/model"
	domainservice "mt5bot/internal/domain/service"
)

// LearningLoop turns closed-trade outcomes into durable Strategy Parameter updates.
type LearningLoop struct {
	params *ParamStore
	policy domainservice.LearningPolicy
	now    func() time.Time
}

func NewLearningLoop(params *ParamStore, policy domainservice.LearningPolicy) *LearningLoop {
	return &LearningLoop{params: params, policy: policy, now: time.Now}
}

// Record counts the outcome exactly once per ticket and recomputes min_confidence when due.
// It returns the committed record.
func (l *LearningLoop) Record(ctx context.Context, o model.TradeOutcome) (*model.StrategyParams, error) {
	var adjusted bool
	var before float64
	p, err := l.params.Update(ctx, o.StrategyName, func(p *model.StrategyParams) (bool, error) {
		if p.HasTicket(o.Ticket) {
			return false, nil
		}
		before = p.MinConfidence
		adjusted = l.policy.ApplyOutcome(p, o, l.now())
		return true, nil
	})
	if err != nil {
		log.Error().Err(err).Str("strategy", o.StrategyName).Int64("ticket", o.Ticket).Msg("learning update not persisted")
		return p, err
	}
	if adjusted {
		rate, _ := p.WinRate()
		log.Info().
			Str("strategy", o.StrategyName).
			Float64("from", before).
			Float64("to", p.MinConfidence).
			Float64("win_rate", rate).
			Int("total_trades", p.TotalTrades).
			Msg("min_confidence adjusted")
	}
	return p, nil
}
