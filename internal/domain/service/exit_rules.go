package service

import (
	"time"

	"github.com/shopspring/decimal"

	"mt5bot/internal/domain/model"
)

// ExitRules holds the engine-wide knobs that are not per-strategy.
type ExitRules struct {
	EmergencyLossFraction float64 // adverse move / stop distance that overrides min hold
	GivebackFraction      float64 // share of MFE given back before profit protection fires
	LockFraction          float64 // share of the peak move locked in by profit protection
	MinPeakProfit         float64 // MFE below this never triggers profit protection
}

func DefaultExitRules() ExitRules {
	return ExitRules{
		EmergencyLossFraction: 0.8,
		GivebackFraction:      0.3,
		LockFraction:          0.5,
	}
}

// InMinHold reports whether the position is still inside its minimum hold window.
func (r ExitRules) InMinHold(p *model.Position, policy model.ExitPolicy, now time.Time) bool {
	return policy.MinHold > 0 && now.Sub(p.OpenTime) < policy.MinHold
}

// EmergencyTriggered reports whether the adverse move has eaten enough of the stop distance
// to justify closing inside the min hold window.
func (r ExitRules) EmergencyTriggered(p *model.Position, price float64) bool {
	if r.EmergencyLossFraction <= 0 {
		return false
	}
	dist := p.StopDistance()
	if dist <= 0 {
		return false
	}
	adverse := -p.FavorableMove(price)
	return adverse >= r.EmergencyLossFraction*dist
}

// BreakevenStop returns the breakeven stop-loss when the trigger is met and stage is OPEN.
func (r ExitRules) BreakevenStop(p *model.Position, policy model.ExitPolicy, price float64) (float64, bool) {
	if !policy.HasBreakeven() || p.Stage != model.StageOpen {
		return 0, false
	}
	planned := p.PlannedDistance()
	if planned <= 0 || p.FavorableMove(price) < policy.BreakevenTriggerFraction*planned {
		return 0, false
	}
	sl := RoundPrice(p.OpenPrice+p.Direction.Sign()*policy.BreakevenOffset, p.Digits)
	return sl, true
}

// BreakevenSatisfied reports whether the current stop already sits at or beyond breakeven,
// so the stage can advance without a broker call.
func (r ExitRules) BreakevenSatisfied(p *model.Position, sl float64) bool {
	return p.StopLoss > 0 && !p.IsTighter(sl)
}

// PartialCloseDue reports whether the partial close trigger is met at price.
func (r ExitRules) PartialCloseDue(p *model.Position, policy model.ExitPolicy, price float64) bool {
	if !policy.HasPartialClose() || p.Stage > model.StageBreakevenApplied {
		return false
	}
	planned := p.PlannedDistance()
	return planned > 0 && p.FavorableMove(price) >= policy.PartialCloseTriggerFraction*planned
}

// TrailingStop recomputes the trailing stop from the favorable extreme. ok is false unless the
// candidate is strictly tighter than the current stop and still on the protective side of price.
func (r ExitRules) TrailingStop(p *model.Position, policy model.ExitPolicy, price float64) (float64, bool) {
	if !policy.HasTrailing() || p.Stage < TrailingGate(policy) || p.Stage >= model.StageClosed {
		return 0, false
	}
	if p.BestPrice <= 0 {
		return 0, false
	}
	sl := RoundPrice(p.BestPrice-p.Direction.Sign()*policy.TrailingDistance, p.Digits)
	if !p.IsTighter(sl) || !protective(p, sl, price) {
		return 0, false
	}
	return sl, true
}

func (r ExitRules) TimedExitDue(p *model.Position, policy model.ExitPolicy, now time.Time) bool {
	return policy.MaxHold > 0 && now.Sub(p.OpenTime) > policy.MaxHold
}

// ProtectionStop locks a share of the peak move once too much of it was given back.
// Giveback is measured in price so a partial close, which shrinks profit but not the
// move, never looks like a retracement.
func (r ExitRules) ProtectionStop(p *model.Position, price float64) (float64, bool) {
	mfe := p.MaxFavorableExcursion
	if mfe <= 0 || mfe < r.MinPeakProfit || r.GivebackFraction <= 0 || r.LockFraction <= 0 {
		return 0, false
	}
	peakMove := p.FavorableMove(p.BestPrice)
	if peakMove <= 0 {
		return 0, false
	}
	if peakMove-p.FavorableMove(price) <= r.GivebackFraction*peakMove {
		return 0, false
	}
	sl := RoundPrice(p.OpenPrice+p.Direction.Sign()*r.LockFraction*peakMove, p.Digits)
	if !p.IsTighter(sl) || !protective(p, sl, price) {
		return 0, false
	}
	return sl, true
}

// Protective reports whether a stop at sl still lies behind the current price.
func (r ExitRules) Protective(p *model.Position, sl, price float64) bool { return protective(p, sl, price) }

func protective(p *model.Position, sl, price float64) bool {
	if price <= 0 {
		return false
	}
	return (price-sl)*p.Direction.Sign() > 0
}

// RoundPrice rounds v to digits decimal places; digits <= 0 leaves v untouched.
func RoundPrice(v float64, digits int) float64 {
	if digits <= 0 {
		return v
	}
	return decimal.NewFromFloat(v).Round(int32(digits)).InexactFloat64()
}
