// Package paper is an in-memory broker used for dry runs and tests.
package paper

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"mt5bot/internal/application/port"
	"mt5bot/internal/domain/model"
)

// Op names a broker operation for fault injection.
type Op string

const (
	OpList    Op = "list"
	OpPlace   Op = "place"
	OpModify  Op = "modify"
	OpClose   Op = "close"
	OpHistory Op = "history"
)

const minVolume = 0.01

type Options struct {
	Prices       map[string]float64
	Digits       map[string]int
	ContractSize map[string]float64
	FirstTicket  int64
	Now          func() time.Time
}

type fault struct {
	remaining int
	err       error
}

type position struct {
	model.LivePosition
}

// Broker simulates an MT5 account: market fills at the last set price,
// stop-loss/take-profit triggers on SetPrice, and a deal history.
type Broker struct {
	mu         sync.Mutex
	prices     map[string]float64
	digits     map[string]int
	contract   map[string]float64
	positions  map[int64]*position
	deals      []model.Deal
	nextTicket int64
	faults     map[Op]*fault
	now        func() time.Time
}

var _ port.Broker = (*Broker)(nil)

func New(opts Options) *Broker {
	b := &Broker{
		prices:     map[string]float64{},
		digits:     map[string]int{},
		contract:   map[string]float64{},
		positions:  map[int64]*position{},
		nextTicket: opts.FirstTicket,
		faults:     map[Op]*fault{},
		now:        opts.Now,
	}
	if b.nextTicket <= 0 {
		b.nextTicket = 1000
	}
	if b.now == nil {
		b.now = time.Now
	}
	for k, v := range opts.Prices {
		b.prices[k] = v
	}
	for k, v := range opts.Digits {
		b.digits[k] = v
	}
	for k, v := range opts.ContractSize {
		b.contract[k] = v
	}
	return b
}

func (b *Broker) Name() string { return "paper" }

// InjectFault makes the next n calls of op fail with err.
func (b *Broker) InjectFault(op Op, n int, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n <= 0 {
		delete(b.faults, op)
		return
	}
	b.faults[op] = &fault{remaining: n, err: err}
}

func (b *Broker) takeFault(op Op) error {
	f, ok := b.faults[op]
	if !ok {
		return nil
	}
	f.remaining--
	if f.remaining <= 0 {
		delete(b.faults, op)
	}
	return f.err
}

// SetPrice moves the market for symbol and fires any stop-loss or take-profit it crosses.
func (b *Broker) SetPrice(symbol string, price float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prices[symbol] = price

	now := b.now()
	for ticket, p := range b.positions {
		if p.Symbol != symbol {
			continue
		}
		p.CurrentPrice = price
		p.UnrealizedProfit = b.profit(p, price, p.Volume)
		sign := p.Direction.Sign()
		hitSL := p.StopLoss > 0 && (price-p.StopLoss)*sign <= 0
		hitTP := p.TakeProfit > 0 && (price-p.TakeProfit)*sign >= 0
		if !hitSL && !hitTP {
			continue
		}
		exit := p.StopLoss
		if hitTP {
			exit = p.TakeProfit
		}
		b.deals = append(b.deals, model.Deal{
			Ticket: ticket, Profit: b.profit(p, exit, p.Volume), IsClosing: true, Time: now,
		})
		delete(b.positions, ticket)
	}
}

func (b *Broker) Price(symbol string) (float64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.prices[symbol]
	return v, ok
}

func (b *Broker) ListOpenPositions(ctx context.Context) ([]model.LivePosition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.takeFault(OpList); err != nil {
		return nil, err
	}
	out := make([]model.LivePosition, 0, len(b.positions))
	for _, p := range b.positions {
		out = append(out, p.LivePosition)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticket < out[j].Ticket })
	return out, nil
}

func (b *Broker) PlaceOrder(ctx context.Context, req port.OrderRequest) (port.OrderResult, error) {
	if err := ctx.Err(); err != nil {
		return port.OrderResult{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.takeFault(OpPlace); err != nil {
		return port.OrderResult{}, err
	}
	if !req.Direction.Valid() || req.Volume < minVolume {
		return port.OrderResult{}, fmt.Errorf("%w: invalid direction or volume", port.ErrBrokerRejected)
	}
	price, ok := b.prices[req.Symbol]
	if !ok || price <= 0 {
		price = req.Price
	}
	if price <= 0 {
		return port.OrderResult{}, fmt.Errorf("%w: no quote for %s", port.ErrBrokerRejected, req.Symbol)
	}
	if req.StopLoss > 0 && (price-req.StopLoss)*req.Direction.Sign() <= 0 {
		return port.OrderResult{}, fmt.Errorf("%w: invalid stops", port.ErrBrokerRejected)
	}

	ticket := b.nextTicket
	b.nextTicket++
	now := b.now()
	digits := b.digits[req.Symbol]
	b.positions[ticket] = &position{LivePosition: model.LivePosition{
		Ticket:       ticket,
		Symbol:       req.Symbol,
		Direction:    req.Direction,
		Volume:       req.Volume,
		OpenPrice:    price,
		CurrentPrice: price,
		StopLoss:     req.StopLoss,
		TakeProfit:   req.TakeProfit,
		OpenTime:     now,
		Comment:      req.Comment,
		Digits:       digits,
	}}
	b.deals = append(b.deals, model.Deal{Ticket: ticket, Time: now})

	return port.OrderResult{Ticket: ticket, FillPrice: price, Volume: req.Volume, OpenTime: now, Digits: digits}, nil
}

func (b *Broker) ModifyPosition(ctx context.Context, ticket int64, stopLoss, takeProfit float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.takeFault(OpModify); err != nil {
		return err
	}
	p, ok := b.positions[ticket]
	if !ok {
		return fmt.Errorf("%w: position %d not found", port.ErrBrokerRejected, ticket)
	}
	if stopLoss > 0 && (p.CurrentPrice-stopLoss)*p.Direction.Sign() <= 0 {
		return fmt.Errorf("%w: invalid stops", port.ErrBrokerRejected)
	}
	p.StopLoss = stopLoss
	p.TakeProfit = takeProfit
	return nil
}

func (b *Broker) ClosePosition(ctx context.Context, ticket int64, fraction float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.takeFault(OpClose); err != nil {
		return err
	}
	p, ok := b.positions[ticket]
	if !ok {
		return fmt.Errorf("%w: position %d not found", port.ErrBrokerRejected, ticket)
	}
	if fraction <= 0 || fraction > 1 {
		return fmt.Errorf("%w: fraction %v", port.ErrBrokerRejected, fraction)
	}

	vol := decimal.NewFromFloat(p.Volume)
	closing := vol.Mul(decimal.NewFromFloat(fraction)).Round(2)
	rest := vol.Sub(closing)
	if rest.LessThan(decimal.NewFromFloat(minVolume)) {
		closing, rest = vol, decimal.Zero
	}
	closeVol, _ := closing.Float64()

	b.deals = append(b.deals, model.Deal{
		Ticket: ticket, Profit: b.profit(p, p.CurrentPrice, closeVol), IsClosing: true, Time: b.now(),
	})
	if rest.IsZero() {
		delete(b.positions, ticket)
		return nil
	}
	p.Volume, _ = rest.Float64()
	p.UnrealizedProfit = b.profit(p, p.CurrentPrice, p.Volume)
	return nil
}

func (b *Broker) GetHistoricalDeals(ctx context.Context, ticket int64, since, until time.Time) ([]model.Deal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.takeFault(OpHistory); err != nil {
		return nil, err
	}
	var out []model.Deal
	for _, d := range b.deals {
		if d.Ticket != ticket || d.Time.Before(since) || d.Time.After(until) {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

func (b *Broker) profit(p *position, price, volume float64) float64 {
	size := b.contract[p.Symbol]
	if size <= 0 {
		size = 1
	}
	v, _ := decimal.NewFromFloat(price).
		Sub(decimal.NewFromFloat(p.OpenPrice)).
		Mul(decimal.NewFromFloat(p.Direction.Sign())).
		Mul(decimal.NewFromFloat(volume)).
		Mul(decimal.NewFromFloat(size)).
		Round(2).
		Float64()
	return v
}
