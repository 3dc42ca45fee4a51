package composite

import (
	"context"

	"mt5bot/internal/application/port"
	"mt5bot/internal/domain/model"
)

// Journal fans writes out to every backend and returns the first error.
type Journal struct {
	journals []port.TradeJournal
}

var _ port.TradeJournal = (*Journal)(nil)

func New(journals ...port.TradeJournal) *Journal {
	// nil journals are allowed; filter in constructor for safety
	out := make([]port.TradeJournal, 0, len(journals))
	for _, j := range journals {
		if j != nil {
			out = append(out, j)
		}
	}
	return &Journal{journals: out}
}

func (j *Journal) Len() int { return len(j.journals) }

func (j *Journal) RecordOutcome(ctx context.Context, o model.TradeOutcome) error {
	var firstErr error
	for _, jr := range j.journals {
		if err := jr.RecordOutcome(ctx, o); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (j *Journal) RecordEvent(ctx context.Context, e model.LifecycleEvent) error {
	var firstErr error
	for _, jr := range j.journals {
		if err := jr.RecordEvent(ctx, e); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
