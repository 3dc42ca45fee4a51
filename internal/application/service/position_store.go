package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"mt5bot/internal/application/port"
	"mt5bot/internal/domain/model"
)

// ErrUnknownTicket is returned for operations on tickets the store does not track.
var ErrUnknownTicket = errors.New("unknown ticket")

// AdoptedStrategy names the strategy of a recovered position whose origin is unknown.
const AdoptedStrategy = "adopted"

// PositionStore is the in-memory ticket -> record map. Every accessor hands out copies,
// so the engine can work on a snapshot while producers keep inserting.
type PositionStore struct {
	mu        sync.RWMutex
	positions map[int64]*model.Position

	persist port.SnapshotStore
	now     func() time.Time
}

func NewPositionStore(persist port.SnapshotStore) *PositionStore {
	return &PositionStore{
		positions: make(map[int64]*model.Position),
		persist:   persist,
		now:       time.Now,
	}
}

// Insert adds a freshly placed position. When the engine already adopted the ticket
// (the tick raced the placement), the producer's metadata wins and lifecycle data is kept.
func (s *PositionStore) Insert(p model.Position) error {
	if p.Ticket == 0 {
		return errors.New("insert: ticket is zero")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.positions[p.Ticket]; ok {
		if !cur.Adopted {
			return fmt.Errorf("insert ticket %d: already tracked", p.Ticket)
		}
		merged := p.Clone()
		merged.Stage = cur.Stage
		merged.MaxFavorableExcursion = cur.MaxFavorableExcursion
		merged.LastKnownProfit = cur.LastKnownProfit
		merged.BestPrice = cur.BestPrice
		merged.StopLoss = cur.StopLoss
		merged.Volume = cur.Volume
		s.positions[p.Ticket] = &merged
		return nil
	}
	c := p.Clone()
	s.positions[p.Ticket] = &c
	return nil
}

func (s *PositionStore) Get(ticket int64) (model.Position, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.positions[ticket]
	if !ok {
		return model.Position{}, false
	}
	return p.Clone(), true
}

func (s *PositionStore) Has(ticket int64) bool {
	s.mu.RLock()
	_, ok := s.positions[ticket]
	s.mu.RUnlock()
	return ok
}

func (s *PositionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.positions)
}

// Snapshot returns copies of every record ordered by ticket.
func (s *PositionStore) Snapshot() []model.Position {
	s.mu.RLock()
	out := make([]model.Position, 0, len(s.positions))
	for _, p := range s.positions {
		out = append(out, p.Clone())
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Ticket < out[j].Ticket })
	return out
}

// Replace writes back a record the engine mutated. Records removed in the meantime stay removed.
func (s *PositionStore) Replace(p model.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.positions[p.Ticket]
	if !ok {
		return fmt.Errorf("replace ticket %d: %w", p.Ticket, ErrUnknownTicket)
	}
	c := p.Clone()
	if p.Adopted && !cur.Adopted {
		// a producer claimed the adopted ticket while the engine held its copy
		c.Adopted = false
		c.StrategyName = cur.StrategyName
		c.Conditions = cur.Conditions
		c.InitialVolume = cur.InitialVolume
	}
	s.positions[p.Ticket] = &c
	return nil
}

// Remove deletes the ticket and returns its last record. Only the caller that gets ok=true
// owns the closed-trade outcome for that ticket.
func (s *PositionStore) Remove(ticket int64) (model.Position, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.positions[ticket]
	if !ok {
		return model.Position{}, false
	}
	delete(s.positions, ticket)
	return *p, true
}

// Adopt tracks a live position the store did not know about at stage OPEN.
// strategy is the broker comment when it names a known strategy, else AdoptedStrategy.
func (s *PositionStore) Adopt(lp model.LivePosition, strategy string) (model.Position, bool) {
	now := s.now()
	if strategy == "" {
		strategy = AdoptedStrategy
	}
	openTime := lp.OpenTime
	if openTime.IsZero() {
		openTime = now
	}
	p := model.Position{
		Ticket:          lp.Ticket,
		Symbol:          lp.Symbol,
		StrategyName:    strategy,
		Direction:       lp.Direction,
		Volume:          lp.Volume,
		InitialVolume:   lp.Volume,
		OpenPrice:       lp.OpenPrice,
		StopLoss:        lp.StopLoss,
		TakeProfit:      lp.TakeProfit,
		Digits:          lp.Digits,
		OpenTime:        openTime,
		Stage:           model.StageOpen,
		LastKnownProfit: lp.UnrealizedProfit,
		BestPrice:       lp.CurrentPrice,
		Adopted:         true,
		Comment:         lp.Comment,
		UpdatedAt:       now,
	}
	if lp.UnrealizedProfit > 0 {
		p.MaxFavorableExcursion = lp.UnrealizedProfit
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.positions[lp.Ticket]; ok {
		return model.Position{}, false
	}
	c := p.Clone()
	s.positions[p.Ticket] = &c
	return p, true
}

// Persist writes the current snapshot through the configured SnapshotStore.
func (s *PositionStore) Persist(ctx context.Context) error {
	if s.persist == nil {
		return nil
	}
	if err := s.persist.SaveSnapshot(ctx, s.Snapshot()); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// Restore loads the last snapshot. A corrupt or unreadable snapshot leaves the store empty
// and is only logged; the next tick adopts every live position instead.
func (s *PositionStore) Restore(ctx context.Context) int {
	if s.persist == nil {
		return 0
	}
	positions, err := s.persist.LoadSnapshot(ctx)
	if err != nil {
		log.Error().Err(err).Bool("corrupt", errors.Is(err, port.ErrSnapshotCorrupt)).
			Msg("position snapshot unreadable, rebuilding from broker")
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, p := range positions {
		if p.Ticket == 0 || !p.Stage.Valid() {
			log.Warn().Int64("ticket", p.Ticket).Msg("skip invalid snapshot record")
			continue
		}
		c := p.Clone()
		s.positions[p.Ticket] = &c
		n++
	}
	return n
}
