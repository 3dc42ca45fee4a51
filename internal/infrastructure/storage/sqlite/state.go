package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"mt5bot/internal/application/port"
	"mt5bot/internal/domain/model"
)

func (r *Repo) SaveSnapshot(ctx context.Context, positions []model.Position) error {
	if positions == nil {
		positions = []model.Position{}
	}
	b, err := json.Marshal(positions)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO position_snapshot(id, payload, updated_at) VALUES(1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET payload=excluded.payload, updated_at=excluded.updated_at
	`, string(b), time.Now().UnixMilli())
	return err
}

func (r *Repo) LoadSnapshot(ctx context.Context) ([]model.Position, error) {
	var payload string
	err := r.db.QueryRowContext(ctx, `SELECT payload FROM position_snapshot WHERE id = 1`).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return []model.Position{}, nil
	}
	if err != nil {
		return nil, err
	}
	var out []model.Position
	if err := json.Unmarshal([]byte(payload), &out); err != nil {
		return nil, fmt.Errorf("%w: %v", port.ErrSnapshotCorrupt, err)
	}
	return out, nil
}

func (r *Repo) SaveParams(ctx context.Context, p *model.StrategyParams) error {
	b, err := json.Marshal(p)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO strategy_params(strategy, min_confidence, total_trades, payload, updated_at)
		VALUES(?, ?, ?, ?, ?)
		ON CONFLICT(strategy) DO UPDATE SET
		min_confidence=excluded.min_confidence, total_trades=excluded.total_trades,
		payload=excluded.payload, updated_at=excluded.updated_at
	`, p.StrategyName, p.MinConfidence, p.TotalTrades, string(b), p.UpdatedAt.UnixMilli())
	return err
}

func (r *Repo) LoadParams(ctx context.Context, strategy string) (*model.StrategyParams, error) {
	var payload string
	err := r.db.QueryRowContext(ctx, `SELECT payload FROM strategy_params WHERE strategy = ?`, strategy).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var p model.StrategyParams
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return nil, fmt.Errorf("decode params %s: %w", strategy, err)
	}
	return &p, nil
}

func (r *Repo) ListParams(ctx context.Context) ([]*model.StrategyParams, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT strategy, payload FROM strategy_params ORDER BY strategy`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.StrategyParams
	for rows.Next() {
		var name, payload string
		if err := rows.Scan(&name, &payload); err != nil {
			return nil, err
		}
		var p model.StrategyParams
		if err := json.Unmarshal([]byte(payload), &p); err != nil {
			return nil, fmt.Errorf("decode params %s: %w", name, err)
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}
