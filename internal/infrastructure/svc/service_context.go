package svc

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"

	"mt5bot/internal/application/container"
	"mt5bot/internal/application/service"
	"mt5bot/internal/application/usecase/trader"
	"mt5bot/internal/domain/model"
	domainservice "mt5bot/internal/domain/service"
	"mt5bot/internal/infrastructure/config"
	infracontainer "mt5bot/internal/infrastructure/container"
	"mt5bot/internal/infrastructure/notify"
	"mt5bot/internal/interfaces/console"
	"mt5bot/internal/interfaces/httpapi"
)

// alertEvents are lifecycle events forwarded to the alerter on top of the engine's own alerts.
var alertEvents = []model.EventType{model.EventClosed, model.EventEmergencyClose}

type Options struct {
	// Console prints every lifecycle event to stdout.
	Console bool
	Color   bool
}

type ServiceContext struct {
	Ctx    context.Context
	Config *config.Config

	// 基础设施层（第一层初始化）
	infra *infracontainer.Container

	// 应用层
	app *container.Container

	forwarder *notify.Forwarder
	api       *httpapi.Server
	producers []trader.Producer
}

// New 创建并初始化 ServiceContext
// 这是应用启动的唯一入口点，所有依赖初始化都在这里完成
func New(ctx context.Context, cfg *config.Config, opts Options) (*ServiceContext, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}
	infra, err := infracontainer.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("infrastructure: %w", err)
	}
	sc := &ServiceContext{Ctx: ctx, Config: cfg, infra: infra}
	if err := sc.initializeComponents(opts); err != nil {
		_ = sc.Close()
		return nil, err
	}
	return sc, nil
}

// initializeComponents 按依赖顺序构建应用组件
func (sc *ServiceContext) initializeComponents(opts Options) error {
	if sc.infra.Broker() == nil {
		return ErrNoBrokerReady
	}
	deps, err := AppDeps(sc.Config)
	if err != nil {
		return err
	}
	deps.Broker = sc.infra.Broker()
	deps.State = sc.infra.State()
	deps.Journal = sc.infra.Journal()
	deps.Alerter = sc.infra.Alerter()
	deps.Archiver = sc.infra.Archiver()
	deps.Signals = sc.infra.Signals()
	sc.app = container.New(deps)

	sc.producers = Producers(sc.Config)
	if len(sc.producers) == 0 && deps.Signals != nil {
		return ErrNoStrategies
	}

	events := sc.app.Events()
	if opts.Console {
		events.Subscribe(console.NewSink(os.Stdout, opts.Color))
	}
	if deps.Alerter != nil {
		sc.forwarder = notify.NewForwarder(deps.Alerter, 64, alertEvents...)
		events.Subscribe(sc.forwarder)
	}
	_ = sc.app.JournalWriter()

	if sc.Config.HTTP.Enabled {
		sc.api = httpapi.NewServer(sc.Config.HTTP.Addr, httpapi.Deps{
			Positions:  sc.app.PositionStore(),
			Params:     sc.app.ParamStore(),
			Stats:      sc.app.LifecycleEngine(),
			StaleAfter: 10 * sc.Config.Lifecycle.TickInterval.Duration,
		})
		events.Subscribe(sc.api.Hub())
	}

	log.Info().
		Str("broker", deps.Broker.Name()).
		Int("producers", len(sc.producers)).
		Int("policies", len(sc.Config.ExitPolicies)).
		Bool("journal", deps.Journal != nil).
		Bool("alerts", deps.Alerter != nil).
		Bool("backup", deps.Archiver != nil).
		Bool("http", sc.api != nil).
		Msg("✓ All components initialized")
	return nil
}

// AppDeps converts config into application tuning; ports are left for the caller.
func AppDeps(cfg *config.Config) (container.Deps, error) {
	policies, fallback := cfg.ExitPolicyModels()
	table, err := domainservice.NewExitPolicyTable(policies, fallback)
	if err != nil {
		return container.Deps{}, fmt.Errorf("exit policies: %w", err)
	}
	lc := cfg.Lifecycle
	engine := service.DefaultEngineConfig()
	engine.TickInterval = lc.TickInterval.Duration
	engine.ListTimeout = lc.ListTimeout.Duration
	engine.MutationTimeout = lc.MutationTimeout.Duration
	engine.RetryCeiling = lc.RetryCeiling
	engine.TickFailureCeiling = lc.TickFailureCeiling
	engine.ReconcileConcurrency = lc.ReconcileConcurrency
	engine.Rules = domainservice.ExitRules{
		EmergencyLossFraction: lc.EmergencyLossFraction,
		GivebackFraction:      lc.GivebackFraction,
		LockFraction:          lc.LockFraction,
		MinPeakProfit:         lc.MinPeakProfit,
	}

	rc := cfg.Reconcile
	l := cfg.Learning
	return container.Deps{
		Policies: table,
		Learning: domainservice.LearningPolicy{
			DefaultConfidence: l.DefaultConfidence,
			MinSampleSize:     l.MinSampleSize,
			AdjustEvery:       l.AdjustEvery,
			HighWinRate:       l.HighWinRate,
			LowWinRate:        l.LowWinRate,
			Step:              l.Step,
			Floor:             l.Floor,
			Ceiling:           l.Ceiling,
			MaxPatterns:       l.MaxPatterns,
			MaxTickets:        l.MaxTickets,
		},
		Engine: engine,
		Reconcile: service.ReconcileConfig{
			Lookback:    rc.Lookback.Duration,
			MaxRetries:  rc.MaxRetries,
			Backoff:     rc.Backoff.Duration,
			MaxBackoff:  rc.MaxBackoff.Duration,
			CallTimeout: rc.CallTimeout.Duration,
		},
		PlaceTimeout: cfg.Orders.PlaceTimeout.Duration,
		DedupWindow:  cfg.Orders.DedupWindow.Duration,
	}, nil
}

// Producers expands enabled strategies into one producer per symbol.
func Producers(cfg *config.Config) []trader.Producer {
	var out []trader.Producer
	for _, s := range cfg.Strategies {
		if s.Disabled {
			continue
		}
		for _, sym := range s.Symbols {
			out = append(out, trader.Producer{
				Strategy: s.Name,
				Symbol:   sym,
				Interval: s.Interval.Duration,
				Volume:   s.Volume,
			})
		}
	}
	return out
}

func (sc *ServiceContext) App() *container.Container { return sc.app }

func (sc *ServiceContext) Infra() *infracontainer.Container { return sc.infra }

// Trader assembles the long-running trader from the wired components.
func (sc *ServiceContext) Trader() *trader.Service {
	var workers []trader.Runner
	if jw := sc.app.JournalWriter(); jw != nil {
		workers = append(workers, jw)
	}
	if sc.forwarder != nil {
		workers = append(workers, sc.forwarder)
	}
	if sc.api != nil {
		workers = append(workers, sc.api)
	}
	return trader.NewService(trader.ServiceDeps{
		Engine:         sc.app.LifecycleEngine(),
		Store:          sc.app.PositionStore(),
		Params:         sc.app.ParamStore(),
		Signals:        sc.app.SignalService(),
		Producers:      sc.producers,
		Snapshot:       sc.app.SnapshotService(),
		BackupInterval: sc.Config.Backup.Interval.Duration,
		Workers:        workers,
		PersistTimeout: sc.Config.App.ShutdownTimeout.Duration,
	})
}

// Close 释放所有资源
func (sc *ServiceContext) Close() error {
	if sc.infra == nil {
		return nil
	}
	return sc.infra.Close()
}
