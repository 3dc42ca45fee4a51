package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"mt5bot/internal/application/port"
	"mt5bot/internal/domain/model"
)

type modifyCall struct {
	Ticket     int64
	StopLoss   float64
	TakeProfit float64
}

type closeCall struct {
	Ticket   int64
	Fraction float64
}

// fakeBroker is a hand-written Broker double with scripted failures.
type fakeBroker struct {
	mu sync.Mutex

	live  map[int64]model.LivePosition
	deals map[int64][]model.Deal

	listErr     error
	listHang    bool
	modifyErr   error
	closeErr    error
	placeErr    error
	historyErrs int    // number of leading history calls that fail
	afterList   func() // runs once the live list has been built, outside the lock

	nextTicket   int64
	modifies     []modifyCall
	closes       []closeCall
	placed       []port.OrderRequest
	historyCalls int
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		live:       make(map[int64]model.LivePosition),
		deals:      make(map[int64][]model.Deal),
		nextTicket: 1000,
	}
}

func (b *fakeBroker) Name() string { return "fake" }

func (b *fakeBroker) setLive(lp model.LivePosition) {
	b.mu.Lock()
	b.live[lp.Ticket] = lp
	b.mu.Unlock()
}

// setPrice moves a live position's price and recomputes its profit per unit volume.
func (b *fakeBroker) setPrice(ticket int64, price float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	lp, ok := b.live[ticket]
	if !ok {
		return
	}
	lp.CurrentPrice = price
	lp.UnrealizedProfit = (price - lp.OpenPrice) * lp.Direction.Sign() * lp.Volume
	b.live[ticket] = lp
}

func (b *fakeBroker) drop(ticket int64) {
	b.mu.Lock()
	delete(b.live, ticket)
	b.mu.Unlock()
}

func (b *fakeBroker) ListOpenPositions(ctx context.Context) ([]model.LivePosition, error) {
	b.mu.Lock()
	hang, err := b.listHang, b.listErr
	b.mu.Unlock()
	if hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	out := make([]model.LivePosition, 0, len(b.live))
	for _, lp := range b.live {
		out = append(out, lp)
	}
	hook := b.afterList
	b.afterList = nil
	b.mu.Unlock()
	if hook != nil {
		hook()
	}
	return out, nil
}

func (b *fakeBroker) PlaceOrder(ctx context.Context, req port.OrderRequest) (port.OrderResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.placeErr != nil {
		return port.OrderResult{}, b.placeErr
	}
	b.nextTicket++
	b.placed = append(b.placed, req)
	b.live[b.nextTicket] = model.LivePosition{
		Ticket:       b.nextTicket,
		Symbol:       req.Symbol,
		Direction:    req.Direction,
		Volume:       req.Volume,
		OpenPrice:    req.Price,
		CurrentPrice: req.Price,
		StopLoss:     req.StopLoss,
		TakeProfit:   req.TakeProfit,
		Comment:      req.Comment,
	}
	return port.OrderResult{Ticket: b.nextTicket, FillPrice: req.Price, Volume: req.Volume}, nil
}

func (b *fakeBroker) ModifyPosition(ctx context.Context, ticket int64, sl, tp float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.modifyErr != nil {
		return b.modifyErr
	}
	b.modifies = append(b.modifies, modifyCall{ticket, sl, tp})
	if lp, ok := b.live[ticket]; ok {
		lp.StopLoss, lp.TakeProfit = sl, tp
		b.live[ticket] = lp
	}
	return nil
}

func (b *fakeBroker) ClosePosition(ctx context.Context, ticket int64, fraction float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closeErr != nil {
		return b.closeErr
	}
	b.closes = append(b.closes, closeCall{ticket, fraction})
	if lp, ok := b.live[ticket]; ok && fraction < 1 {
		lp.Volume *= 1 - fraction
		b.live[ticket] = lp
	}
	return nil
}

func (b *fakeBroker) GetHistoricalDeals(ctx context.Context, ticket int64, since, until time.Time) ([]model.Deal, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.historyCalls++
	if b.historyCalls <= b.historyErrs {
		return nil, errors.New("history: connection reset")
	}
	return append([]model.Deal(nil), b.deals[ticket]...), nil
}

func (b *fakeBroker) modifyCalls() []modifyCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]modifyCall(nil), b.modifies...)
}

func (b *fakeBroker) closeCalls() []closeCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]closeCall(nil), b.closes...)
}

// memState is an in-memory StateStore.
type memState struct {
	mu        sync.Mutex
	snapshot  []model.Position
	params    map[string]*model.StrategyParams
	loadErr   error
	saveErr   error
	saves     int
	paramSave int
}

func newMemState() *memState {
	return &memState{params: make(map[string]*model.StrategyParams)}
}

func (m *memState) SaveSnapshot(ctx context.Context, positions []model.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	m.snapshot = append([]model.Position(nil), positions...)
	return nil
}

func (m *memState) LoadSnapshot(ctx context.Context) ([]model.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	return append([]model.Position(nil), m.snapshot...), nil
}

func (m *memState) SaveParams(ctx context.Context, p *model.StrategyParams) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.paramSave++
	m.params[p.StrategyName] = p.Clone()
	return nil
}

func (m *memState) LoadParams(ctx context.Context, strategy string) (*model.StrategyParams, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.params[strategy]; ok {
		return p.Clone(), nil
	}
	return nil, nil
}

func (m *memState) ListParams(ctx context.Context) ([]*model.StrategyParams, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.StrategyParams, 0, len(m.params))
	for _, p := range m.params {
		out = append(out, p.Clone())
	}
	return out, nil
}

func (m *memState) Close() error { return nil }

type recJournal struct {
	mu       sync.Mutex
	outcomes []model.TradeOutcome
}

func (j *recJournal) RecordOutcome(ctx context.Context, o model.TradeOutcome) error {
	j.mu.Lock()
	j.outcomes = append(j.outcomes, o)
	j.mu.Unlock()
	return nil
}

func (j *recJournal) RecordEvent(ctx context.Context, e model.LifecycleEvent) error { return nil }

func (j *recJournal) all() []model.TradeOutcome {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]model.TradeOutcome(nil), j.outcomes...)
}

type recSink struct {
	mu     sync.Mutex
	events []model.LifecycleEvent
}

func (s *recSink) Publish(e model.LifecycleEvent) {
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
}

func (s *recSink) types() []model.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.EventType, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.Type)
	}
	return out
}

type recAlerter struct {
	mu     sync.Mutex
	titles []string
}

func (a *recAlerter) Alert(ctx context.Context, title, body string) error {
	a.mu.Lock()
	a.titles = append(a.titles, title)
	a.mu.Unlock()
	return nil
}

func (a *recAlerter) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.titles)
}

var (
	_ port.Broker       = (*fakeBroker)(nil)
	_ port.StateStore   = (*memState)(nil)
	_ port.TradeJournal = (*recJournal)(nil)
)
