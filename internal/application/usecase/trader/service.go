package trader

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"mt5bot/internal/application/service"
)

// Producer is one strategy trading one symbol on its own interval.
type Producer struct {
	Strategy string
	Symbol   string
	Interval time.Duration
	Volume   float64
}

// Runner is any background component that lives as long as the trader.
type Runner interface {
	Run(ctx context.Context) error
}

type RunnerFunc func(ctx context.Context) error

func (f RunnerFunc) Run(ctx context.Context) error { return f(ctx) }

type ServiceDeps struct {
	Engine    *service.LifecycleEngine
	Store     *service.PositionStore
	Params    *service.ParamStore
	Signals   *service.SignalService // nil disables producers
	Producers []Producer

	Snapshot       *service.SnapshotService // nil disables backups
	BackupInterval time.Duration

	Workers        []Runner
	PersistTimeout time.Duration
}

type Service struct {
	deps ServiceDeps
}

func NewService(deps ServiceDeps) *Service {
	if deps.PersistTimeout <= 0 {
		deps.PersistTimeout = 10 * time.Second
	}
	return &Service{deps: deps}
}

// Run restores persisted state, then runs the lifecycle engine, every producer
// and every worker until ctx is done. The snapshot is written once more on the way out.
func (s *Service) Run(ctx context.Context) error {
	if s.deps.Engine == nil || s.deps.Store == nil || s.deps.Params == nil {
		return errors.New("trader: engine, store and params are required")
	}

	restored := s.deps.Store.Restore(ctx)
	if err := s.deps.Params.Load(ctx); err != nil {
		return err
	}
	log.Info().
		Int("positions", restored).
		Int("strategies", len(s.deps.Params.List())).
		Int("producers", len(s.deps.Producers)).
		Msg("trader started")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.deps.Engine.Run(gctx) })

	if s.deps.Signals != nil {
		for _, p := range s.deps.Producers {
			g.Go(func() error { return s.produce(gctx, p) })
		}
	}
	if s.deps.Snapshot != nil {
		g.Go(func() error { return s.deps.Snapshot.Run(gctx, s.deps.BackupInterval) })
	}
	for _, w := range s.deps.Workers {
		g.Go(func() error { return w.Run(gctx) })
	}

	err := g.Wait()

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.deps.PersistTimeout)
	defer cancel()
	if perr := s.deps.Store.Persist(pctx); perr != nil {
		log.Error().Err(perr).Msg("final snapshot failed")
	}
	log.Info().Msg("trader stopped")
	return err
}

// produce runs one producer loop. A cycle in progress completes; shutdown is seen between cycles.
func (s *Service) produce(ctx context.Context, p Producer) error {
	interval := p.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger := log.With().Str("strategy", p.Strategy).Str("symbol", p.Symbol).Logger()
	logger.Info().Dur("interval", interval).Msg("producer started")

	cycleCtx := context.WithoutCancel(ctx)
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("producer stopped")
			return nil
		case <-ticker.C:
		}
		ticket, err := s.deps.Signals.Step(cycleCtx, p.Strategy, p.Symbol, p.Volume)
		switch {
		case errors.Is(err, service.ErrDuplicatePlacement):
			logger.Debug().Err(err).Msg("placement suppressed")
		case err != nil:
			logger.Warn().Err(err).Msg("producer cycle failed")
		case ticket != 0:
			logger.Info().Int64("ticket", ticket).Msg("producer placed position")
		}
	}
}
