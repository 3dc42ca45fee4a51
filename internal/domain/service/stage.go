package service

import (
	"fmt"

	"mt5bot/internal/domain/model"
)

// Advance is the single forward-transition function for position stages.
// Moving to the same stage is a no-op; moving backwards is an error.
func Advance(from, to model.Stage) (model.Stage, error) {
	if !to.Valid() {
		return from, fmt.Errorf("advance %s: invalid target %d", from, int(to))
	}
	if from == model.StageClosed && to != model.StageClosed {
		return from, fmt.Errorf("advance: position already %s", from)
	}
	if to < from {
		return from, fmt.Errorf("advance: regression %s -> %s", from, to)
	}
	return to, nil
}

// TrailingGate returns the stage a position must have reached before the trailing
// step may run under policy. Trailing never precedes a configured breakeven or partial step.
func TrailingGate(policy model.ExitPolicy) model.Stage {
	switch {
	case policy.HasPartialClose():
		return model.StagePartialClosed
	case policy.HasBreakeven():
		return model.StageBreakevenApplied
	default:
		return model.StageOpen
	}
}
