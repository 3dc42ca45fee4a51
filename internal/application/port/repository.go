package port

import (
	"context"
	"errors"

	"mt5bot/internal/domain/model"
)

// ErrSnapshotCorrupt marks a persisted snapshot that exists but cannot be decoded.
var ErrSnapshotCorrupt = errors.New("snapshot corrupt")

// SnapshotStore persists the Position Store as a whole.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, positions []model.Position) error
	// LoadSnapshot returns an empty slice when nothing was saved yet.
	LoadSnapshot(ctx context.Context) ([]model.Position, error)
}

// ParamRepository persists one Strategy Parameter record per strategy.
type ParamRepository interface {
	SaveParams(ctx context.Context, p *model.StrategyParams) error
	LoadParams(ctx context.Context, strategy string) (*model.StrategyParams, error) // nil, nil when absent
	ListParams(ctx context.Context) ([]*model.StrategyParams, error)
}

// StateStore is a backend holding both snapshot and parameters.
type StateStore interface {
	SnapshotStore
	ParamRepository
	Close() error
}

// TradeJournal records closed-trade outcomes and lifecycle events for later analysis.
type TradeJournal interface {
	RecordOutcome(ctx context.Context, o model.TradeOutcome) error
	RecordEvent(ctx context.Context, e model.LifecycleEvent) error
}
