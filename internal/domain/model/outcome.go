package model

import "time"

// TradeOutcome is the realized result of a closed ticket.
type TradeOutcome struct {
	ID           string             `json:"id"`
	Ticket       int64              `json:"ticket"`
	StrategyName string             `json:"strategy_name"`
	Symbol       string             `json:"symbol"`
	Direction    Direction          `json:"direction"`
	Profit       float64            `json:"profit"`
	Approximate  bool               `json:"approximate"`
	Deals        int                `json:"deals"`
	OpenTime     time.Time          `json:"open_time"`
	ClosedAt     time.Time          `json:"closed_at"`
	FinalStage   Stage              `json:"final_stage"`
	Conditions   map[string]float64 `json:"conditions,omitempty"`
}

func (o TradeOutcome) IsWin() bool  { return o.Profit > 0 }
func (o TradeOutcome) IsLoss() bool { return o.Profit < 0 }

// EventType 生命周期事件类型
type EventType string

const (
	EventPlaced            EventType = "placed"
	EventAdopted           EventType = "adopted"
	EventBreakevenApplied  EventType = "breakeven_applied"
	EventPartialClosed     EventType = "partial_closed"
	EventTrailingActivated EventType = "trailing_activated"
	EventTrailingMoved     EventType = "trailing_moved"
	EventProfitProtected   EventType = "profit_protected"
	EventTimedExit         EventType = "timed_exit"
	EventEmergencyClose    EventType = "emergency_close"
	EventCloseRetried      EventType = "close_retried"
	EventClosed            EventType = "closed"
	EventMutationFailed    EventType = "mutation_failed"
)

// LifecycleEvent is published for observers; it carries no state the engine depends on.
type LifecycleEvent struct {
	Type      EventType `json:"type"`
	Ticket    int64     `json:"ticket"`
	Strategy  string    `json:"strategy"`
	Symbol    string    `json:"symbol"`
	Stage     Stage     `json:"stage"`
	StopLoss  float64   `json:"stop_loss,omitempty"`
	Volume    float64   `json:"volume,omitempty"`
	Profit    float64   `json:"profit,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"ts"`
}

// Signal is what a producer's source emits for one strategy and symbol.
type Signal struct {
	Strategy   string             `json:"strategy"`
	Symbol     string             `json:"symbol"`
	Direction  Direction          `json:"direction"`
	Confidence float64            `json:"confidence"`
	Volume     float64            `json:"volume"`
	Price      float64            `json:"price"`
	StopLoss   float64            `json:"stop_loss"`
	TakeProfit float64            `json:"take_profit"`
	Conditions map[string]float64 `json:"conditions,omitempty"`
	CreatedAt  time.Time          `json:"created_at"`
}
