package service

import (
	"math"
	"time"

	"mt5bot/internal/domain/model"
)

// LearningPolicy 置信度调整参数
type LearningPolicy struct {
	DefaultConfidence float64
	MinSampleSize     int
	AdjustEvery       int
	HighWinRate       float64
	LowWinRate        float64
	Step              float64
	Floor             float64
	Ceiling           float64
	MaxPatterns       int
	MaxTickets        int
}

func (lp LearningPolicy) Clamp(v float64) float64 {
	return math.Min(lp.Ceiling, math.Max(lp.Floor, v))
}

// NewParams builds the lazily created record for a strategy.
func (lp LearningPolicy) NewParams(strategy string) *model.StrategyParams {
	return &model.StrategyParams{
		StrategyName:  strategy,
		MinConfidence: lp.Clamp(lp.DefaultConfidence),
	}
}

// ApplyOutcome mutates p with one closed trade and returns whether min_confidence changed.
// The caller owns p exclusively and is responsible for duplicate-ticket filtering.
func (lp LearningPolicy) ApplyOutcome(p *model.StrategyParams, o model.TradeOutcome, now time.Time) bool {
	p.TotalTrades++
	var r int8
	switch {
	case o.IsWin():
		p.Wins++
		r = 1
	case o.IsLoss():
		p.Losses++
		r = -1
	}

	window := lp.AdjustEvery
	if window <= 0 {
		window = lp.MinSampleSize
	}
	p.RecentResults = appendBounded(p.RecentResults, r, window)
	p.RecentTickets = appendBounded(p.RecentTickets, o.Ticket, lp.MaxTickets)

	if o.IsWin() && !o.Approximate && lp.MaxPatterns > 0 {
		p.FavorablePatterns = appendBounded(p.FavorablePatterns, model.ConditionPattern{
			Ticket:     o.Ticket,
			Symbol:     o.Symbol,
			Direction:  o.Direction,
			Profit:     o.Profit,
			HoldSecs:   int64(o.ClosedAt.Sub(o.OpenTime).Seconds()),
			HourUTC:    o.OpenTime.UTC().Hour(),
			Conditions: o.Conditions,
			ClosedAt:   o.ClosedAt,
		}, lp.MaxPatterns)
	}
	p.UpdatedAt = now

	if !lp.adjustDue(p.TotalTrades) {
		return false
	}
	rate, ok := p.WinRate()
	if !ok {
		return false
	}
	next := p.MinConfidence
	switch {
	case rate >= lp.HighWinRate:
		next -= lp.Step
	case rate < lp.LowWinRate:
		next += lp.Step
	}
	next = lp.Clamp(next)
	if next == p.MinConfidence {
		return false
	}
	p.MinConfidence = next
	p.LastAdjustmentTime = now
	return true
}

func (lp LearningPolicy) adjustDue(total int) bool {
	if total < lp.MinSampleSize || total <= 0 {
		return false
	}
	every := lp.AdjustEvery
	if every <= 0 {
		return total == lp.MinSampleSize
	}
	return total%every == 0
}

func appendBounded[T any](s []T, v T, limit int) []T {
	s = append(s, v)
	if limit > 0 && len(s) > limit {
		s = append(s[:0:0], s[len(s)-limit:]...)
	}
	return s
}
