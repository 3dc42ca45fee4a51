package service

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"mt5bot/internal/application/port"
	"mt5bot/internal/domain/model"
	domainservice "mt5bot/internal/domain/service"
)

// ParamStore holds the committed Strategy Parameter records. Readers get copies of an
// immutable committed value; writers serialize per strategy key only.
type ParamStore struct {
	repo   port.ParamRepository
	policy domainservice.LearningPolicy

	mu        sync.RWMutex
	committed map[string]*model.StrategyParams

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

func NewParamStore(repo port.ParamRepository, policy domainservice.LearningPolicy) *ParamStore {
	return &ParamStore{
		repo:      repo,
		policy:    policy,
		committed: make(map[string]*model.StrategyParams),
		locks:     make(map[string]*sync.Mutex),
	}
}

// Load reads every persisted record into memory, clamping confidence into the current band.
func (s *ParamStore) Load(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}
	all, err := s.repo.ListParams(ctx)
	if err != nil {
		return fmt.Errorf("list params: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range all {
		if p == nil || p.StrategyName == "" {
			continue
		}
		c := p.Clone()
		c.MinConfidence = s.policy.Clamp(c.MinConfidence)
		s.committed[c.StrategyName] = c
	}
	log.Info().Int("strategies", len(all)).Msg("strategy params loaded")
	return nil
}

// Confidence returns the current min_confidence, or the clamped default for unseen strategies.
func (s *ParamStore) Confidence(strategy string) float64 {
	s.mu.RLock()
	p, ok := s.committed[strategy]
	s.mu.RUnlock()
	if !ok {
		return s.policy.Clamp(s.policy.DefaultConfidence)
	}
	return p.MinConfidence
}

// Get returns a copy of the committed record.
func (s *ParamStore) Get(strategy string) (*model.StrategyParams, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.committed[strategy]
	if !ok {
		return nil, false
	}
	return p.Clone(), true
}

func (s *ParamStore) List() []*model.StrategyParams {
	s.mu.RLock()
	out := make([]*model.StrategyParams, 0, len(s.committed))
	for _, p := range s.committed {
		out = append(out, p.Clone())
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StrategyName < out[j].StrategyName })
	return out
}

func (s *ParamStore) keyLock(strategy string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[strategy]
	if !ok {
		l = &sync.Mutex{}
		s.locks[strategy] = l
	}
	return l
}

// Update applies fn to a private copy of the strategy's record under that strategy's lock,
// persists the copy and then publishes it. fn returning changed=false skips the write.
// When persistence fails the new value is still published, so counts stay ahead of disk
// rather than diverging, and the error is returned to the caller.
func (s *ParamStore) Update(ctx context.Context, strategy string, fn func(p *model.StrategyParams) (changed bool, err error)) (*model.StrategyParams, error) {
	l := s.keyLock(strategy)
	l.Lock()
	defer l.Unlock()

	cur, err := s.current(ctx, strategy)
	if err != nil {
		return nil, err
	}
	next := cur.Clone()
	changed, err := fn(next)
	if err != nil {
		return cur.Clone(), err
	}
	if !changed {
		return cur.Clone(), nil
	}

	var saveErr error
	if s.repo != nil {
		if err := s.repo.SaveParams(ctx, next); err != nil {
			saveErr = fmt.Errorf("save params %s: %w", strategy, err)
		}
	}

	s.mu.Lock()
	s.committed[strategy] = next
	s.mu.Unlock()
	return next.Clone(), saveErr
}

// current must be called with the strategy lock held.
func (s *ParamStore) current(ctx context.Context, strategy string) (*model.StrategyParams, error) {
	s.mu.RLock()
	p, ok := s.committed[strategy]
	s.mu.RUnlock()
	if ok {
		return p, nil
	}
	if s.repo != nil {
		loaded, err := s.repo.LoadParams(ctx, strategy)
		if err != nil {
			return nil, fmt.Errorf("load params %s: %w", strategy, err)
		}
		if loaded != nil {
			loaded.MinConfidence = s.policy.Clamp(loaded.MinConfidence)
			return loaded, nil
		}
	}
	return s.policy.NewParams(strategy), nil
}
