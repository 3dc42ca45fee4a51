package model

import (
	"errors"
	"fmt"
	"time"
)

// ExitPolicy 单个策略的离场参数，运行期只读
type ExitPolicy struct {
	TrailingDistance            float64       `json:"trailing_distance"`
	BreakevenTriggerFraction    float64       `json:"breakeven_trigger_fraction"`
	BreakevenOffset             float64       `json:"breakeven_offset"`
	PartialCloseTriggerFraction float64       `json:"partial_close_trigger_fraction"`
	PartialCloseVolumeFraction  float64       `json:"partial_close_volume_fraction"`
	MaxHold                     time.Duration `json:"max_hold"` // 0 = unbounded
	MinHold                     time.Duration `json:"min_hold"`
}

func (p ExitPolicy) HasBreakeven() bool { return p.BreakevenTriggerFraction > 0 }

func (p ExitPolicy) HasPartialClose() bool {
	return p.PartialCloseTriggerFraction > 0 && p.PartialCloseVolumeFraction > 0
}

func (p ExitPolicy) HasTrailing() bool { return p.TrailingDistance > 0 }

func (p ExitPolicy) Validate() error {
	for name, v := range map[string]float64{
		"breakeven_trigger_fraction":     p.BreakevenTriggerFraction,
		"partial_close_trigger_fraction": p.PartialCloseTriggerFraction,
		"partial_close_volume_fraction":  p.PartialCloseVolumeFraction,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s must be within [0,1], got %v", name, v)
		}
	}
	if p.TrailingDistance < 0 || p.BreakevenOffset < 0 {
		return errors.New("trailing_distance and breakeven_offset must not be negative")
	}
	if p.MaxHold < 0 || p.MinHold < 0 {
		return errors.New("hold durations must not be negative")
	}
	if p.MaxHold > 0 && p.MinHold > p.MaxHold {
		return fmt.Errorf("min_hold %s exceeds max_hold %s", p.MinHold, p.MaxHold)
	}
	if p.HasBreakeven() && p.HasPartialClose() && p.PartialCloseTriggerFraction < p.BreakevenTriggerFraction {
		return fmt.Errorf("partial_close_trigger_fraction %v is below breakeven_trigger_fraction %v",
			p.PartialCloseTriggerFraction, p.BreakevenTriggerFraction)
	}
	return nil
}
