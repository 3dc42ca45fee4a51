package container

import (
	"time"

	"mt5bot/internal/application/port"
	"mt5bot/internal/application/service"
	domainservice "mt5bot/internal/domain/service"
)

// Deps are the ports and tuning the application layer is built from.
// Journal, Alerter, Archiver and Signals are optional.
type Deps struct {
	Broker   port.Broker
	State    port.StateStore
	Journal  port.TradeJournal
	Alerter  port.Alerter
	Archiver port.Archiver
	Signals  port.SignalSource

	Policies  *domainservice.ExitPolicyTable
	Learning  domainservice.LearningPolicy
	Engine    service.EngineConfig
	Reconcile service.ReconcileConfig

	PlaceTimeout time.Duration
	DedupWindow  time.Duration
}

// Container builds application services lazily; every getter returns the same instance.
type Container struct {
	deps Deps

	events        *service.EventBus
	store         *service.PositionStore
	params        *service.ParamStore
	learning      *service.LearningLoop
	reconciler    *service.FillReconciler
	engine        *service.LifecycleEngine
	orders        *service.OrderService
	signalService *service.SignalService
	snapshot      *service.SnapshotService
	journalWriter *service.JournalWriter
}

func New(deps Deps) *Container {
	return &Container{deps: deps}
}

func (c *Container) Broker() port.Broker { return c.deps.Broker }

func (c *Container) Policies() *domainservice.ExitPolicyTable { return c.deps.Policies }

func (c *Container) Events() *service.EventBus {
	if c.events == nil {
		c.events = service.NewEventBus()
	}
	return c.events
}

func (c *Container) PositionStore() *service.PositionStore {
	if c.store == nil {
		c.store = service.NewPositionStore(c.deps.State)
	}
	return c.store
}

func (c *Container) ParamStore() *service.ParamStore {
	if c.params == nil {
		c.params = service.NewParamStore(c.deps.State, c.deps.Learning)
	}
	return c.params
}

func (c *Container) LearningLoop() *service.LearningLoop {
	if c.learning == nil {
		c.learning = service.NewLearningLoop(c.ParamStore(), c.deps.Learning)
	}
	return c.learning
}

func (c *Container) FillReconciler() *service.FillReconciler {
	if c.reconciler == nil {
		c.reconciler = service.NewFillReconciler(c.deps.Broker, c.deps.Reconcile)
	}
	return c.reconciler
}

func (c *Container) LifecycleEngine() *service.LifecycleEngine {
	if c.engine == nil {
		c.engine = service.NewLifecycleEngine(service.EngineDeps{
			Broker:     c.deps.Broker,
			Store:      c.PositionStore(),
			Policies:   c.deps.Policies,
			Reconciler: c.FillReconciler(),
			Learning:   c.LearningLoop(),
			Journal:    c.deps.Journal,
			Events:     c.Events(),
			Alerter:    c.deps.Alerter,
		}, c.deps.Engine)
	}
	return c.engine
}

func (c *Container) OrderService() *service.OrderService {
	if c.orders == nil {
		c.orders = service.NewOrderService(c.deps.Broker, c.PositionStore(), c.ParamStore(),
			domainservice.NewPlacementGuard(c.deps.DedupWindow), c.Events(), c.deps.PlaceTimeout)
	}
	return c.orders
}

// SignalService is nil when no signal source is configured.
func (c *Container) SignalService() *service.SignalService {
	if c.signalService == nil && c.deps.Signals != nil {
		c.signalService = service.NewSignalService(c.deps.Signals, c.OrderService())
	}
	return c.signalService
}

// SnapshotService is nil when no archiver is configured.
func (c *Container) SnapshotService() *service.SnapshotService {
	if c.snapshot == nil && c.deps.Archiver != nil {
		c.snapshot = service.NewSnapshotService(c.PositionStore(), c.ParamStore(), c.deps.Archiver)
	}
	return c.snapshot
}

// JournalWriter is nil without a journal; when built it is subscribed to Events.
func (c *Container) JournalWriter() *service.JournalWriter {
	if c.journalWriter == nil && c.deps.Journal != nil {
		c.journalWriter = service.NewJournalWriter(c.deps.Journal, 256)
		c.Events().Subscribe(c.journalWriter)
	}
	return c.journalWriter
}
