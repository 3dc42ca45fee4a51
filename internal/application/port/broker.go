package port

import (
	"context"
	"errors"
	"time"

	"mt5bot/internal/domain/model"
)

// ErrBrokerRejected wraps a request the broker understood and refused.
var ErrBrokerRejected = errors.New("broker rejected request")

// OrderRequest is a market order for a new position.
type OrderRequest struct {
	Symbol     string
	Direction  model.Direction
	Volume     float64
	Price      float64
	StopLoss   float64
	TakeProfit float64
	Comment    string
}

// OrderResult is the broker's acceptance of an OrderRequest.
type OrderResult struct {
	Ticket    int64
	FillPrice float64
	Volume    float64
	OpenTime  time.Time
	Digits    int
}

// Broker is the MT5 terminal collaborator. Implementations must be safe for
// concurrent use and must bound every call with a timeout.
type Broker interface {
	Name() string
	ListOpenPositions(ctx context.Context) ([]model.LivePosition, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	ModifyPosition(ctx context.Context, ticket int64, stopLoss, takeProfit float64) error
	// ClosePosition closes fraction of the current volume; 1.0 closes everything.
	ClosePosition(ctx context.Context, ticket int64, fraction float64) error
	GetHistoricalDeals(ctx context.Context, ticket int64, since, until time.Time) ([]model.Deal, error)
}
