package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"mt5bot/internal/application/port"
	"mt5bot/internal/domain/model"
)

// StateBackup is the document archived off-site: every tracked position and
// every strategy's parameters at one instant.
type StateBackup struct {
	TakenAt    time.Time               `json:"taken_at"`
	Positions  []model.Position        `json:"positions"`
	Strategies []*model.StrategyParams `json:"strategies"`
}

// SnapshotService periodically archives the in-memory state.
type SnapshotService struct {
	store    *PositionStore
	params   *ParamStore
	archiver port.Archiver
	now      func() time.Time
}

func NewSnapshotService(store *PositionStore, params *ParamStore, archiver port.Archiver) *SnapshotService {
	return &SnapshotService{store: store, params: params, archiver: archiver, now: time.Now}
}

func (s *SnapshotService) Build() StateBackup {
	return StateBackup{
		TakenAt:    s.now().UTC(),
		Positions:  s.store.Snapshot(),
		Strategies: s.params.List(),
	}
}

// Archive uploads one backup and returns its key.
func (s *SnapshotService) Archive(ctx context.Context) (string, error) {
	b := s.Build()
	body, err := json.Marshal(b)
	if err != nil {
		return "", err
	}
	key := "state/" + b.TakenAt.Format("2006/01/02/150405") + ".json"
	if err := s.archiver.Archive(ctx, key, body); err != nil {
		return "", fmt.Errorf("archive state: %w", err)
	}
	return key, nil
}

// Run archives every interval until ctx is done. Failures are logged and retried next interval.
func (s *SnapshotService) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			key, err := s.Archive(ctx)
			if err != nil {
				log.Error().Err(err).Msg("state backup failed")
				continue
			}
			log.Info().Str("key", key).Msg("state backup uploaded")
		}
	}
}
