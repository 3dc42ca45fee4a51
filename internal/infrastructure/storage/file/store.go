// Package file keeps the position snapshot and strategy parameters as JSON
// files, replaced atomically on every save.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"mt5bot/internal/application/port"
	"mt5bot/internal/domain/model"
)

const (
	snapshotFile = "positions.json"
	paramsFile   = "strategy_params.json"
)

type Store struct {
	dir string

	// params file is shared by all strategies
	paramsMu sync.Mutex
	snapMu   sync.Mutex
}

var _ port.StateStore = (*Store)(nil)

func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Store{dir: dir}, nil
}

func (s *Store) Close() error { return nil }

func (s *Store) SaveSnapshot(ctx context.Context, positions []model.Position) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if positions == nil {
		positions = []model.Position{}
	}
	b, err := json.MarshalIndent(positions, "", "  ")
	if err != nil {
		return err
	}
	s.snapMu.Lock()
	defer s.snapMu.Unlock()
	return writeAtomic(filepath.Join(s.dir, snapshotFile), b)
}

func (s *Store) LoadSnapshot(ctx context.Context) ([]model.Position, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.snapMu.Lock()
	b, err := os.ReadFile(filepath.Join(s.dir, snapshotFile))
	s.snapMu.Unlock()
	if errors.Is(err, os.ErrNotExist) {
		return []model.Position{}, nil
	}
	if err != nil {
		return nil, err
	}
	var out []model.Position
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", port.ErrSnapshotCorrupt, err)
	}
	return out, nil
}

func (s *Store) SaveParams(ctx context.Context, p *model.StrategyParams) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.paramsMu.Lock()
	defer s.paramsMu.Unlock()

	all, err := s.readParams()
	if err != nil {
		return err
	}
	all[p.StrategyName] = p
	b, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomic(filepath.Join(s.dir, paramsFile), b)
}

func (s *Store) LoadParams(ctx context.Context, strategy string) (*model.StrategyParams, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.paramsMu.Lock()
	defer s.paramsMu.Unlock()
	all, err := s.readParams()
	if err != nil {
		return nil, err
	}
	return all[strategy], nil
}

func (s *Store) ListParams(ctx context.Context) ([]*model.StrategyParams, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.paramsMu.Lock()
	defer s.paramsMu.Unlock()
	all, err := s.readParams()
	if err != nil {
		return nil, err
	}
	out := make([]*model.StrategyParams, 0, len(all))
	for _, p := range all {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StrategyName < out[j].StrategyName })
	return out, nil
}

func (s *Store) readParams() (map[string]*model.StrategyParams, error) {
	b, err := os.ReadFile(filepath.Join(s.dir, paramsFile))
	if errors.Is(err, os.ErrNotExist) {
		return map[string]*model.StrategyParams{}, nil
	}
	if err != nil {
		return nil, err
	}
	all := map[string]*model.StrategyParams{}
	if err := json.Unmarshal(b, &all); err != nil {
		return nil, fmt.Errorf("decode %s: %w", paramsFile, err)
	}
	return all, nil
}

// writeAtomic writes to a temp file in the same directory, fsyncs it and
// renames it over path, so readers see either the old or the new content.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		d.Close()
	}
	return nil
}
