package model

import "time"

// ConditionPattern is a market snapshot attached to a winning trade.
type ConditionPattern struct {
	Ticket     int64              `json:"ticket"`
	Symbol     string             `json:"symbol"`
	Direction  Direction          `json:"direction"`
	Profit     float64            `json:"profit"`
	HoldSecs   int64              `json:"hold_secs"`
	HourUTC    int                `json:"hour_utc"`
	Conditions map[string]float64 `json:"conditions,omitempty"`
	ClosedAt   time.Time          `json:"closed_at"`
}

// StrategyParams 每个策略的学习状态
type StrategyParams struct {
	StrategyName       string             `json:"strategy_name"`
	MinConfidence      float64            `json:"min_confidence"`
	TotalTrades        int                `json:"total_trades"`
	Wins               int                `json:"wins"`
	Losses             int                `json:"losses"`
	FavorablePatterns  []ConditionPattern `json:"favorable_condition_patterns"`
	RecentResults      []int8             `json:"recent_results"` // +1 win, -1 loss, 0 flat
	RecentTickets      []int64            `json:"recent_tickets"`
	LastAdjustmentTime time.Time          `json:"last_adjustment_time"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

// Clone returns a deep copy so callers never share slices with the store.
func (p *StrategyParams) Clone() *StrategyParams {
	if p == nil {
		return nil
	}
	out := *p
	out.FavorablePatterns = append([]ConditionPattern(nil), p.FavorablePatterns...)
	out.RecentResults = append([]int8(nil), p.RecentResults...)
	out.RecentTickets = append([]int64(nil), p.RecentTickets...)
	return &out
}

func (p *StrategyParams) HasTicket(ticket int64) bool {
	for _, t := range p.RecentTickets {
		if t == ticket {
			return true
		}
	}
	return false
}

// WinRate over the recent window; flat results are ignored. ok is false with no decided trades.
func (p *StrategyParams) WinRate() (rate float64, ok bool) {
	var wins, decided int
	for _, r := range p.RecentResults {
		switch {
		case r > 0:
			wins++
			decided++
		case r < 0:
			decided++
		}
	}
	if decided == 0 {
		return 0, false
	}
	return float64(wins) / float64(decided), true
}
