package sqlite

import (
	"context"
	"encoding/json"

	"mt5bot/internal/domain/model"
)

// RecordOutcome is idempotent on outcome id.
func (r *Repo) RecordOutcome(ctx context.Context, o model.TradeOutcome) error {
	b, err := json.Marshal(o)
	if err != nil {
		return err
	}
	approx := 0
	if o.Approximate {
		approx = 1
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO trade_outcomes(id, ticket, strategy, symbol, direction, profit, approximate, final_stage, open_time, closed_at, payload)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, o.ID, o.Ticket, o.StrategyName, o.Symbol, o.Direction.String(), o.Profit, approx,
		o.FinalStage.String(), o.OpenTime.UnixMilli(), o.ClosedAt.UnixMilli(), string(b))
	return err
}

func (r *Repo) RecordEvent(ctx context.Context, e model.LifecycleEvent) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO lifecycle_events(ticket, type, strategy, stage, payload, ts_ms) VALUES(?, ?, ?, ?, ?, ?)
	`, e.Ticket, string(e.Type), e.Strategy, e.Stage.String(), string(b), e.Timestamp.UnixMilli())
	return err
}

// ListOutcomes returns the most recent outcomes, newest first. Empty strategy means all.
func (r *Repo) ListOutcomes(ctx context.Context, strategy string, limit int) ([]model.TradeOutcome, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT payload FROM trade_outcomes
		WHERE (? = '' OR strategy = ?)
		ORDER BY closed_at DESC LIMIT ?
	`, strategy, strategy, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.TradeOutcome
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var o model.TradeOutcome
		if err := json.Unmarshal([]byte(payload), &o); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (r *Repo) CountEvents(ctx context.Context, ticket int64) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM lifecycle_events WHERE ticket = ?`, ticket).Scan(&n)
	return n, err
}
