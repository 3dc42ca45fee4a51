package service

import (
	"fmt"
	"sync"
	"time"

	"mt5bot/internal/domain/model"
)

// PlacementGuard 下单去重器 - 防止同一策略在同一品种上重复开仓
type PlacementGuard struct {
	mu     sync.Mutex
	recent map[string]time.Time // strategy|symbol|direction -> placed at

	Window time.Duration
	now    func() time.Time
}

func NewPlacementGuard(window time.Duration) *PlacementGuard {
	return &PlacementGuard{
		recent: make(map[string]time.Time),
		Window: window,
		now:    time.Now,
	}
}

func guardKey(strategy, symbol string, dir model.Direction) string {
	return strategy + "|" + symbol + "|" + dir.String()
}

// Reserve claims the slot for a placement. It fails when the same strategy, symbol and
// direction was reserved inside the window. Release undoes a reservation whose order failed.
func (g *PlacementGuard) Reserve(strategy, symbol string, dir model.Direction) (bool, string) {
	if g == nil || g.Window <= 0 {
		return true, ""
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	key := guardKey(strategy, symbol, dir)
	if at, ok := g.recent[key]; ok {
		if since := now.Sub(at); since < g.Window {
			return false, fmt.Sprintf("same placement within dedup window (%.1fs ago)", since.Seconds())
		}
	}
	g.recent[key] = now
	g.gc(now)
	return true, ""
}

func (g *PlacementGuard) Release(strategy, symbol string, dir model.Direction) {
	if g == nil || g.Window <= 0 {
		return
	}
	g.mu.Lock()
	delete(g.recent, guardKey(strategy, symbol, dir))
	g.mu.Unlock()
}

// gc 清理过期记录
func (g *PlacementGuard) gc(now time.Time) {
	for k, at := range g.recent {
		if now.Sub(at) >= g.Window {
			delete(g.recent, k)
		}
	}
}
