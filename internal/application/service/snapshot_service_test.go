package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mt5bot/internal/domain/model"
)

type memArchiver struct {
	keys   []string
	bodies [][]byte
	err    error
}

func (a *memArchiver) Archive(_ context.Context, key string, body []byte) error {
	if a.err != nil {
		return a.err
	}
	a.keys = append(a.keys, key)
	a.bodies = append(a.bodies, body)
	return nil
}

func TestSnapshotServiceArchive(t *testing.T) {
	store := NewPositionStore(nil)
	require.NoError(t, store.Insert(model.Position{Ticket: 1, Symbol: "EURUSD", StrategyName: "trend", Direction: model.Buy, Volume: 0.1, OpenPrice: 1.1}))
	params := NewParamStore(newMemState(), testLearningPolicy())
	_, err := params.Update(context.Background(), "trend", func(p *model.StrategyParams) (bool, error) {
		p.TotalTrades = 3
		return true, nil
	})
	require.NoError(t, err)

	arch := &memArchiver{}
	svc := NewSnapshotService(store, params, arch)
	svc.now = func() time.Time { return time.Date(2026, 6, 7, 8, 9, 10, 0, time.UTC) }

	key, err := svc.Archive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "state/2026/06/07/080910.json", key)

	var doc StateBackup
	require.NoError(t, json.Unmarshal(arch.bodies[0], &doc))
	require.Len(t, doc.Positions, 1)
	require.Len(t, doc.Strategies, 1)
	assert.Equal(t, 3, doc.Strategies[0].TotalTrades)
}

func TestSnapshotServiceArchiveError(t *testing.T) {
	boom := errors.New("bucket gone")
	svc := NewSnapshotService(NewPositionStore(nil), NewParamStore(newMemState(), testLearningPolicy()), &memArchiver{err: boom})
	_, err := svc.Archive(context.Background())
	assert.ErrorIs(t, err, boom)
}
