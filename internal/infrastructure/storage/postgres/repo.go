package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"mt5bot/internal/application/port"
	"mt5bot/internal/domain/model"
)

// DB is the subset of *pgxpool.Pool the journal needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Repo is an append-only trade journal in postgres.
type Repo struct {
	db   DB
	pool *pgxpool.Pool
}

var _ port.TradeJournal = (*Repo)(nil)

func New(ctx context.Context, dsn string) (*Repo, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	r := &Repo{db: pool, pool: pool}
	if err := r.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return r, nil
}

// NewWithDB wraps an existing connection; Close is then the caller's job.
func NewWithDB(db DB) *Repo { return &Repo{db: db} }

func (r *Repo) Close() error {
	if r.pool != nil {
		r.pool.Close()
	}
	return nil
}

func (r *Repo) Migrate(ctx context.Context) error {
	_, err := r.db.Exec(ctx, `
CREATE TABLE IF NOT EXISTS trade_outcomes (
  id TEXT PRIMARY KEY,
  ticket BIGINT NOT NULL,
  strategy TEXT NOT NULL,
  symbol TEXT NOT NULL,
  direction TEXT NOT NULL,
  profit DOUBLE PRECISION NOT NULL,
  approximate BOOLEAN NOT NULL,
  final_stage TEXT NOT NULL,
  open_time TIMESTAMPTZ NOT NULL,
  closed_at TIMESTAMPTZ NOT NULL,
  payload JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trade_outcomes_strategy ON trade_outcomes(strategy, closed_at);

CREATE TABLE IF NOT EXISTS lifecycle_events (
  id BIGSERIAL PRIMARY KEY,
  ticket BIGINT NOT NULL,
  type TEXT NOT NULL,
  strategy TEXT NOT NULL,
  stage TEXT NOT NULL,
  payload JSONB NOT NULL,
  ts TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_lifecycle_events_ticket ON lifecycle_events(ticket);
`)
	return err
}

func (r *Repo) RecordOutcome(ctx context.Context, o model.TradeOutcome) error {
	b, err := json.Marshal(o)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO trade_outcomes(id, ticket, strategy, symbol, direction, profit, approximate, final_stage, open_time, closed_at, payload)
		VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING`,
		o.ID, o.Ticket, o.StrategyName, o.Symbol, o.Direction.String(), o.Profit, o.Approximate,
		o.FinalStage.String(), o.OpenTime, o.ClosedAt, b)
	if err != nil {
		return fmt.Errorf("insert outcome %d: %w", o.Ticket, err)
	}
	return nil
}

func (r *Repo) RecordEvent(ctx context.Context, e model.LifecycleEvent) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO lifecycle_events(ticket, type, strategy, stage, payload, ts)
		VALUES($1, $2, $3, $4, $5, $6)`,
		e.Ticket, string(e.Type), e.Strategy, e.Stage.String(), b, e.Timestamp)
	if err != nil {
		return fmt.Errorf("insert event %d/%s: %w", e.Ticket, e.Type, err)
	}
	return nil
}
