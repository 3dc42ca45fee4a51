package container

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mt5bot/internal/application/port"
	"mt5bot/internal/application/service"
	"mt5bot/internal/domain/model"
	domainservice "mt5bot/internal/domain/service"
	"mt5bot/internal/infrastructure/broker/paper"
	sqliterepo "mt5bot/internal/infrastructure/storage/sqlite"
)

func newDeps(t *testing.T) (Deps, *sqliterepo.Repo) {
	t.Helper()
	repo, err := sqliterepo.New(t.TempDir() + "/container.db")
	if err != nil {
		t.Fatalf("failed to create repo: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	policies, err := domainservice.NewExitPolicyTable(map[string]model.ExitPolicy{
		"trend": {BreakevenTriggerFraction: 0.5},
	}, model.ExitPolicy{})
	require.NoError(t, err)

	return Deps{
		Broker:   paper.New(paper.Options{Prices: map[string]float64{"EURUSD": 1.1}}),
		State:    repo,
		Journal:  repo,
		Policies: policies,
		Learning: domainservice.LearningPolicy{
			DefaultConfidence: 0.6, MinSampleSize: 20, AdjustEvery: 20, HighWinRate: 0.7, LowWinRate: 0.5,
			Step: 0.05, Floor: 0.4, Ceiling: 0.95, MaxPatterns: 10, MaxTickets: 100,
		},
		Engine:       service.DefaultEngineConfig(),
		Reconcile:    service.DefaultReconcileConfig(),
		PlaceTimeout: time.Second,
		DedupWindow:  time.Minute,
	}, repo
}

func TestGettersAreSingletons(t *testing.T) {
	deps, _ := newDeps(t)
	c := New(deps)

	assert.Same(t, c.PositionStore(), c.PositionStore())
	assert.Same(t, c.ParamStore(), c.ParamStore())
	assert.Same(t, c.LifecycleEngine(), c.LifecycleEngine())
	assert.Same(t, c.OrderService(), c.OrderService())
	assert.Same(t, c.JournalWriter(), c.JournalWriter())
	assert.Nil(t, c.SignalService(), "no source configured")
	assert.Nil(t, c.SnapshotService(), "no archiver configured")
}

func TestContainerServiceWorkflow(t *testing.T) {
	deps, repo := newDeps(t)
	c := New(deps)
	ctx := context.Background()

	ticket, err := c.OrderService().PlacePosition(ctx, port.PlaceRequest{
		Strategy: "trend", Symbol: "EURUSD", Direction: model.Buy, Volume: 0.1, StopLoss: 1.09, TakeProfit: 1.12,
	})
	require.NoError(t, err)
	assert.True(t, c.PositionStore().Has(ticket))

	require.NoError(t, c.LifecycleEngine().Tick(ctx))

	snap, err := repo.LoadSnapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap, 1)
	assert.Equal(t, ticket, snap[0].Ticket)
	assert.Equal(t, 0.6, c.OrderService().GetStrategyConfidence("trend"))
}
