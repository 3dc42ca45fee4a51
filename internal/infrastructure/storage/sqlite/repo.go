package sqlite

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"mt5bot/internal/application/port"
)

// Repo keeps the position snapshot, strategy parameters and the trade journal
// in one sqlite file.
type Repo struct {
	db *sql.DB
}

var (
	_ port.StateStore   = (*Repo)(nil)
	_ port.TradeJournal = (*Repo)(nil)
)

func New(path string) (*Repo, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		_ = os.MkdirAll(dir, 0o755)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	r := &Repo{db: db}
	if err := r.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Repo) Close() error { return r.db.Close() }

func (r *Repo) migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS position_snapshot (
  id INTEGER PRIMARY KEY CHECK (id = 1),
  payload TEXT NOT NULL,
  updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS strategy_params (
  strategy TEXT PRIMARY KEY,
  min_confidence REAL NOT NULL,
  total_trades INTEGER NOT NULL,
  payload TEXT NOT NULL,
  updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS trade_outcomes (
  id TEXT PRIMARY KEY,
  ticket INTEGER NOT NULL,
  strategy TEXT NOT NULL,
  symbol TEXT NOT NULL,
  direction TEXT NOT NULL,
  profit REAL NOT NULL,
  approximate INTEGER NOT NULL,
  final_stage TEXT NOT NULL,
  open_time INTEGER NOT NULL,
  closed_at INTEGER NOT NULL,
  payload TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_outcomes_strategy ON trade_outcomes(strategy);
CREATE INDEX IF NOT EXISTS idx_outcomes_closed ON trade_outcomes(closed_at);

CREATE TABLE IF NOT EXISTS lifecycle_events (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  ticket INTEGER NOT NULL,
  type TEXT NOT NULL,
  strategy TEXT NOT NULL,
  stage TEXT NOT NULL,
  payload TEXT NOT NULL,
  ts_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_ticket ON lifecycle_events(ticket);
`)
	return err
}
