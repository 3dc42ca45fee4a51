package model

import (
	"fmt"
	"strings"
	"time"
)

// Direction of a position.
type Direction int

const (
	Buy  Direction = 1
	Sell Direction = -1
)

func (d Direction) String() string {
	switch d {
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

// Sign is +1 for BUY and -1 for SELL, so that (price-open)*Sign is the favorable move.
func (d Direction) Sign() float64 { return float64(d) }

func (d Direction) Valid() bool { return d == Buy || d == Sell }

func (d Direction) MarshalText() ([]byte, error) {
	if !d.Valid() {
		return nil, fmt.Errorf("invalid direction %d", int(d))
	}
	return []byte(d.String()), nil
}

func (d *Direction) UnmarshalText(b []byte) error {
	dir, err := ParseDirection(string(b))
	if err != nil {
		return err
	}
	*d = dir
	return nil
}

func ParseDirection(s string) (Direction, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY", "LONG":
		return Buy, nil
	case "SELL", "SHORT":
		return Sell, nil
	}
	return 0, fmt.Errorf("unknown direction %q", s)
}

// Position 跟踪中的持仓记录，ticket 为主键
type Position struct {
	Ticket       int64     `json:"ticket"`
	Symbol       string    `json:"symbol"`
	StrategyName string    `json:"strategy_name"`
	Direction    Direction `json:"direction"`

	Volume        float64 `json:"volume"`
	InitialVolume float64 `json:"initial_volume"`
	OpenPrice     float64 `json:"open_price"`
	StopLoss      float64 `json:"stop_loss"`
	TakeProfit    float64 `json:"take_profit"`
	Digits        int     `json:"digits,omitempty"`

	OpenTime time.Time `json:"open_time"`
	Stage    Stage     `json:"stage"`

	MaxFavorableExcursion float64 `json:"max_favorable_excursion"`
	LastKnownProfit       float64 `json:"last_known_profit"`
	BestPrice             float64 `json:"best_price"`

	FailedMutations int  `json:"failed_mutations"`
	Alerted         bool `json:"alerted,omitempty"`
	Adopted         bool `json:"adopted,omitempty"`

	Comment    string             `json:"comment,omitempty"`
	Conditions map[string]float64 `json:"conditions,omitempty"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

// Clone returns a deep copy.
func (p Position) Clone() Position {
	if p.Conditions != nil {
		c := make(map[string]float64, len(p.Conditions))
		for k, v := range p.Conditions {
			c[k] = v
		}
		p.Conditions = c
	}
	return p
}

// FavorableMove is the price distance travelled in the position's favor (negative when adverse).
func (p *Position) FavorableMove(price float64) float64 {
	return (price - p.OpenPrice) * p.Direction.Sign()
}

// PlannedDistance is |take_profit - open_price|, zero when no take-profit is set.
func (p *Position) PlannedDistance() float64 {
	if p.TakeProfit <= 0 {
		return 0
	}
	d := (p.TakeProfit - p.OpenPrice) * p.Direction.Sign()
	if d < 0 {
		return 0
	}
	return d
}

// StopDistance is the adverse distance between open price and stop-loss, zero when unset.
func (p *Position) StopDistance() float64 {
	if p.StopLoss <= 0 {
		return 0
	}
	d := (p.OpenPrice - p.StopLoss) * p.Direction.Sign()
	if d < 0 {
		return 0
	}
	return d
}

// IsTighter reports whether candidate stop-loss is strictly more protective than the current one.
func (p *Position) IsTighter(candidate float64) bool {
	if candidate <= 0 {
		return false
	}
	if p.StopLoss <= 0 {
		return true
	}
	return (candidate-p.StopLoss)*p.Direction.Sign() > 0
}

// ObserveLive folds a live snapshot into the running excursion fields.
func (p *Position) ObserveLive(lp LivePosition, now time.Time) {
	p.LastKnownProfit = lp.UnrealizedProfit
	if lp.UnrealizedProfit > p.MaxFavorableExcursion {
		p.MaxFavorableExcursion = lp.UnrealizedProfit
	}
	if lp.CurrentPrice > 0 {
		if p.BestPrice <= 0 || (lp.CurrentPrice-p.BestPrice)*p.Direction.Sign() > 0 {
			p.BestPrice = lp.CurrentPrice
		}
	}
	if lp.Volume > 0 {
		p.Volume = lp.Volume
	}
	if lp.Digits > 0 {
		p.Digits = lp.Digits
	}
	p.UpdatedAt = now
}

// LivePosition is the broker's view of an open trade.
type LivePosition struct {
	Ticket           int64     `json:"ticket"`
	Symbol           string    `json:"symbol"`
	Direction        Direction `json:"direction"`
	Volume           float64   `json:"volume"`
	OpenPrice        float64   `json:"open_price"`
	CurrentPrice     float64   `json:"current_price"`
	UnrealizedProfit float64   `json:"unrealized_profit"`
	StopLoss         float64   `json:"stop_loss"`
	TakeProfit       float64   `json:"take_profit"`
	OpenTime         time.Time `json:"open_time"`
	Comment          string    `json:"comment,omitempty"`
	Digits           int       `json:"digits,omitempty"`
}

// Deal 成交记录
type Deal struct {
	Ticket    int64     `json:"ticket"`
	Profit    float64   `json:"profit"`
	IsClosing bool      `json:"is_closing_deal"`
	Time      time.Time `json:"time"`
}
