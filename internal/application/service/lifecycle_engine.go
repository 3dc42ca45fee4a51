package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"mt5bot/internal/application/port"
	"mt5bot/internal/domain/model"
	domainservice "mt5bot/internal/domain/service"
)

// EngineConfig 生命周期引擎参数
type EngineConfig struct {
	TickInterval         time.Duration
	ListTimeout          time.Duration
	MutationTimeout      time.Duration
	PersistTimeout       time.Duration
	RetryCeiling         int // consecutive failed mutations before alerting
	TickFailureCeiling   int // consecutive skipped ticks before alerting
	ReconcileConcurrency int
	Rules                domainservice.ExitRules
}

func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		TickInterval:         2 * time.Second,
		ListTimeout:          5 * time.Second,
		MutationTimeout:      5 * time.Second,
		PersistTimeout:       5 * time.Second,
		RetryCeiling:         10,
		TickFailureCeiling:   30,
		ReconcileConcurrency: 4,
		Rules:                domainservice.DefaultExitRules(),
	}
}

type EngineDeps struct {
	Broker     port.Broker
	Store      *PositionStore
	Policies   *domainservice.ExitPolicyTable
	Reconciler *FillReconciler
	Learning   *LearningLoop
	Journal    port.TradeJournal // optional
	Events     port.EventSink    // optional
	Alerter    port.Alerter      // optional
}

// EngineStats are cumulative counters exposed for status reporting.
type EngineStats struct {
	Ticks        int64     `json:"ticks"`
	SkippedTicks int64     `json:"skipped_ticks"`
	Closed       int64     `json:"closed"`
	Adopted      int64     `json:"adopted"`
	Mutations    int64     `json:"mutations"`
	Failures     int64     `json:"mutation_failures"`
	LastTick     time.Time `json:"last_tick"`
}

// LifecycleEngine owns every tracked position and walks each one through
// OPEN -> BREAKEVEN_APPLIED -> PARTIAL_CLOSED -> TRAILING -> CLOSED, once per tick.
type LifecycleEngine struct {
	deps EngineDeps
	cfg  EngineConfig
	now  func() time.Time

	ticks, skipped, closed, adopted, mutations, failures atomic.Int64
	lastTick                                             atomic.Int64

	consecutiveSkips int
	tickMu           sync.Mutex
}

func NewLifecycleEngine(deps EngineDeps, cfg EngineConfig) *LifecycleEngine {
	if cfg.ReconcileConcurrency <= 0 {
		cfg.ReconcileConcurrency = 1
	}
	return &LifecycleEngine{deps: deps, cfg: cfg, now: time.Now}
}

func (e *LifecycleEngine) Stats() EngineStats {
	st := EngineStats{
		Ticks:        e.ticks.Load(),
		SkippedTicks: e.skipped.Load(),
		Closed:       e.closed.Load(),
		Adopted:      e.adopted.Load(),
		Mutations:    e.mutations.Load(),
		Failures:     e.failures.Load(),
	}
	if ms := e.lastTick.Load(); ms > 0 {
		st.LastTick = time.UnixMilli(ms)
	}
	return st
}

// Run ticks until ctx is done. Tick errors are logged, never returned.
func (e *LifecycleEngine) Run(ctx context.Context) error {
	interval := e.cfg.TickInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info().Dur("interval", interval).Str("broker", e.deps.Broker.Name()).Msg("lifecycle engine started")
	// a started tick runs to completion; shutdown is observed between ticks
	tickCtx := context.WithoutCancel(ctx)
	for {
		if err := e.Tick(tickCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Warn().Err(err).Msg("tick skipped")
		}
		select {
		case <-ctx.Done():
			log.Info().Msg("lifecycle engine stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Tick runs one pass. It returns an error only when the live list could not be fetched,
// in which case no record was touched.
func (e *LifecycleEngine) Tick(ctx context.Context) error {
	e.tickMu.Lock()
	defer e.tickMu.Unlock()

	// records inserted after this point are left for the next tick
	tracked := e.deps.Store.Snapshot()

	listCtx, cancel := e.timeout(ctx, e.cfg.ListTimeout)
	live, err := e.deps.Broker.ListOpenPositions(listCtx)
	cancel()
	if err != nil {
		e.skipped.Add(1)
		e.consecutiveSkips++
		if e.cfg.TickFailureCeiling > 0 && e.consecutiveSkips == e.cfg.TickFailureCeiling {
			e.alert(ctx, "broker unreachable",
				fmt.Sprintf("%d consecutive ticks failed to list positions: %v", e.consecutiveSkips, err))
		}
		return fmt.Errorf("list open positions: %w", err)
	}
	e.consecutiveSkips = 0
	now := e.now()

	liveByTicket := make(map[int64]model.LivePosition, len(live))
	for _, lp := range live {
		liveByTicket[lp.Ticket] = lp
	}

	// closed tickets: claim by removal, then reconcile off the main path
	var gone []model.Position
	for _, p := range tracked {
		if _, ok := liveByTicket[p.Ticket]; ok {
			continue
		}
		if rec, ok := e.deps.Store.Remove(p.Ticket); ok {
			gone = append(gone, rec)
		}
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		var g errgroup.Group
		g.SetLimit(e.cfg.ReconcileConcurrency)
		for _, rec := range gone {
			g.Go(func() error {
				e.finalize(ctx, rec)
				return nil
			})
		}
		_ = g.Wait()
	}()

	for _, lp := range live {
		p, ok := e.deps.Store.Get(lp.Ticket)
		if !ok {
			p, ok = e.adopt(lp)
			if !ok {
				continue
			}
		}
		e.advance(ctx, &p, lp, now)
		if err := e.deps.Store.Replace(p); err != nil {
			log.Debug().Err(err).Int64("ticket", p.Ticket).Msg("position vanished during tick")
		}
	}

	<-done

	persistCtx, cancelPersist := e.timeout(ctx, e.cfg.PersistTimeout)
	if err := e.deps.Store.Persist(persistCtx); err != nil {
		log.Error().Err(err).Msg("persist position snapshot failed")
	}
	cancelPersist()

	e.ticks.Add(1)
	e.lastTick.Store(now.UnixMilli())
	return nil
}

func (e *LifecycleEngine) adopt(lp model.LivePosition) (model.Position, bool) {
	strategy := ""
	if e.deps.Policies != nil && e.deps.Policies.Known(lp.Comment) {
		strategy = lp.Comment
	}
	p, ok := e.deps.Store.Adopt(lp, strategy)
	if !ok {
		// inserted by a producer between Get and Adopt
		return e.deps.Store.Get(lp.Ticket)
	}
	e.adopted.Add(1)
	log.Warn().
		Int64("ticket", p.Ticket).
		Str("symbol", p.Symbol).
		Str("strategy", p.StrategyName).
		Msg("adopted untracked live position")
	e.emit(model.EventAdopted, &p, "")
	return p, true
}

// advance refreshes the excursion data and runs the ordered exit checks for one ticket.
func (e *LifecycleEngine) advance(ctx context.Context, p *model.Position, lp model.LivePosition, now time.Time) {
	p.ObserveLive(lp, now)
	rules := e.cfg.Rules
	policy := e.policy(p.StrategyName)
	price := lp.CurrentPrice

	if p.Stage == model.StageClosed {
		e.closeAll(ctx, p, model.EventCloseRetried, "close still pending")
		return
	}

	if rules.InMinHold(p, policy, now) {
		if rules.EmergencyTriggered(p, price) {
			e.closeAll(ctx, p, model.EventEmergencyClose, "adverse move inside min hold")
		}
		return
	}

	// ordered steps; a failed broker call stops the chain for this tick
	chain := true

	if sl, ok := rules.BreakevenStop(p, policy, price); ok {
		switch {
		case rules.BreakevenSatisfied(p, sl):
			e.setStage(p, model.StageBreakevenApplied)
			e.emit(model.EventBreakevenApplied, p, "stop already at or beyond breakeven")
		case !rules.Protective(p, sl, price):
			chain = false
		case e.modify(ctx, p, sl):
			p.StopLoss = sl
			e.setStage(p, model.StageBreakevenApplied)
			e.emit(model.EventBreakevenApplied, p, "")
		default:
			chain = false
		}
	}

	if chain && rules.PartialCloseDue(p, policy, price) {
		f := policy.PartialCloseVolumeFraction
		if e.closePart(ctx, p, f) {
			p.Volume = remainingVolume(p.Volume, f)
			e.setStage(p, model.StagePartialClosed)
			e.emit(model.EventPartialClosed, p, "")
		} else {
			chain = false
		}
	}

	if chain {
		if sl, ok := rules.TrailingStop(p, policy, price); ok {
			if e.modify(ctx, p, sl) {
				p.StopLoss = sl
				if p.Stage < model.StageTrailing {
					e.setStage(p, model.StageTrailing)
					e.emit(model.EventTrailingActivated, p, "")
				} else {
					e.emit(model.EventTrailingMoved, p, "")
				}
			}
		}
	}

	if rules.TimedExitDue(p, policy, now) {
		e.closeAll(ctx, p, model.EventTimedExit, fmt.Sprintf("held longer than %s", policy.MaxHold))
		return
	}

	if sl, ok := rules.ProtectionStop(p, price); ok {
		if e.modify(ctx, p, sl) {
			p.StopLoss = sl
			e.emit(model.EventProfitProtected, p, "")
		}
	}
}

func (e *LifecycleEngine) policy(strategy string) model.ExitPolicy {
	if e.deps.Policies == nil {
		return model.ExitPolicy{}
	}
	return e.deps.Policies.For(strategy)
}

func (e *LifecycleEngine) setStage(p *model.Position, to model.Stage) {
	next, err := domainservice.Advance(p.Stage, to)
	if err != nil {
		log.Error().Err(err).Int64("ticket", p.Ticket).Msg("stage transition refused")
		return
	}
	p.Stage = next
}

func (e *LifecycleEngine) modify(ctx context.Context, p *model.Position, sl float64) bool {
	callCtx, cancel := e.timeout(ctx, e.cfg.MutationTimeout)
	defer cancel()
	err := e.deps.Broker.ModifyPosition(callCtx, p.Ticket, sl, p.TakeProfit)
	return e.mutated(ctx, p, "modify", err)
}

func (e *LifecycleEngine) closePart(ctx context.Context, p *model.Position, fraction float64) bool {
	callCtx, cancel := e.timeout(ctx, e.cfg.MutationTimeout)
	defer cancel()
	err := e.deps.Broker.ClosePosition(callCtx, p.Ticket, fraction)
	return e.mutated(ctx, p, "close", err)
}

func (e *LifecycleEngine) closeAll(ctx context.Context, p *model.Position, ev model.EventType, reason string) {
	if !e.closePart(ctx, p, 1.0) {
		return
	}
	e.setStage(p, model.StageClosed)
	log.Info().Int64("ticket", p.Ticket).Str("strategy", p.StrategyName).Str("reason", reason).Msg("full close requested")
	e.emit(ev, p, reason)
}

// mutated books the result of a broker mutation against the ticket's retry counter.
func (e *LifecycleEngine) mutated(ctx context.Context, p *model.Position, op string, err error) bool {
	if err == nil {
		e.mutations.Add(1)
		p.FailedMutations = 0
		p.Alerted = false
		return true
	}
	e.failures.Add(1)
	p.FailedMutations++
	log.Warn().Err(err).
		Int64("ticket", p.Ticket).
		Str("op", op).
		Str("stage", p.Stage.String()).
		Int("failures", p.FailedMutations).
		Msg("broker mutation failed")
	e.emit(model.EventMutationFailed, p, fmt.Sprintf("%s: %v", op, err))

	if e.cfg.RetryCeiling > 0 && p.FailedMutations >= e.cfg.RetryCeiling && !p.Alerted {
		p.Alerted = true
		e.alert(ctx, fmt.Sprintf("ticket %d stuck", p.Ticket),
			fmt.Sprintf("%s %s %s: %d consecutive %s failures at stage %s, last error: %v",
				p.StrategyName, p.Symbol, p.Direction, p.FailedMutations, op, p.Stage, err))
	}
	return false
}

// finalize turns a removed record into exactly one outcome.
func (e *LifecycleEngine) finalize(ctx context.Context, rec model.Position) {
	out := e.deps.Reconciler.Reconcile(ctx, rec)
	out.FinalStage = rec.Stage
	e.closed.Add(1)

	if e.deps.Learning != nil {
		if _, err := e.deps.Learning.Record(ctx, out); err != nil {
			log.Error().Err(err).Int64("ticket", rec.Ticket).Msg("record outcome failed")
		}
	}
	if e.deps.Journal != nil {
		jctx, cancel := e.timeout(ctx, e.cfg.PersistTimeout)
		if err := e.deps.Journal.RecordOutcome(jctx, out); err != nil {
			log.Warn().Err(err).Int64("ticket", rec.Ticket).Msg("journal outcome failed")
		}
		cancel()
	}

	log.Info().
		Int64("ticket", rec.Ticket).
		Str("strategy", rec.StrategyName).
		Str("symbol", rec.Symbol).
		Float64("profit", out.Profit).
		Bool("approximate", out.Approximate).
		Str("last_stage", rec.Stage.String()).
		Msg("position closed")

	rec.Stage = model.StageClosed
	ev := e.event(model.EventClosed, &rec, "")
	ev.Profit = out.Profit
	if out.Approximate {
		ev.Message = "approximate"
	}
	e.publish(ev)
}

func (e *LifecycleEngine) emit(t model.EventType, p *model.Position, msg string) {
	e.publish(e.event(t, p, msg))
}

func (e *LifecycleEngine) event(t model.EventType, p *model.Position, msg string) model.LifecycleEvent {
	return model.LifecycleEvent{
		Type:      t,
		Ticket:    p.Ticket,
		Strategy:  p.StrategyName,
		Symbol:    p.Symbol,
		Stage:     p.Stage,
		StopLoss:  p.StopLoss,
		Volume:    p.Volume,
		Profit:    p.LastKnownProfit,
		Message:   msg,
		Timestamp: e.now(),
	}
}

func (e *LifecycleEngine) publish(ev model.LifecycleEvent) {
	if e.deps.Events != nil {
		e.deps.Events.Publish(ev)
	}
}

func (e *LifecycleEngine) alert(ctx context.Context, title, body string) {
	log.Error().Str("title", title).Msg(body)
	if e.deps.Alerter == nil {
		return
	}
	actx, cancel := e.timeout(ctx, e.cfg.MutationTimeout)
	defer cancel()
	if err := e.deps.Alerter.Alert(actx, title, body); err != nil {
		log.Warn().Err(err).Msg("alert delivery failed")
	}
}

func (e *LifecycleEngine) timeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func remainingVolume(volume, fraction float64) float64 {
	keep := decimal.NewFromInt(1).Sub(decimal.NewFromFloat(fraction))
	v := decimal.NewFromFloat(volume).Mul(keep).Round(8)
	return v.InexactFloat64()
}
