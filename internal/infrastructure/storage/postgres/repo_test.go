package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mt5bot/internal/domain/model"
)

func TestMigrate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS trade_outcomes").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, NewWithDB(mock).Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordOutcome(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	closed := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	o := model.TradeOutcome{
		ID: "o-1", Ticket: 42, StrategyName: "momentum", Symbol: "EURUSD", Direction: model.Buy,
		Profit: 18.4, FinalStage: model.StageTrailing, OpenTime: closed.Add(-time.Hour), ClosedAt: closed,
	}

	mock.ExpectExec("INSERT INTO trade_outcomes").
		WithArgs("o-1", int64(42), "momentum", "EURUSD", "BUY", 18.4, false, "TRAILING",
			o.OpenTime, o.ClosedAt, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, NewWithDB(mock).RecordOutcome(context.Background(), o))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordEventError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	boom := errors.New("connection reset")
	mock.ExpectExec("INSERT INTO lifecycle_events").
		WithArgs(int64(7), "closed", "scalper", "CLOSED", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(boom)

	err = NewWithDB(mock).RecordEvent(context.Background(), model.LifecycleEvent{
		Type: model.EventClosed, Ticket: 7, Strategy: "scalper", Stage: model.StageClosed, Timestamp: time.Now(),
	})
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}
