package service

import (
	"sync"

	"mt5bot/internal/application/port"
	"mt5bot/internal/domain/model"
)

// EventBus fans lifecycle events out to subscribers. Subscribers must not block.
type EventBus struct {
	mu   sync.RWMutex
	subs []port.EventSink
}

func NewEventBus(subs ...port.EventSink) *EventBus {
	b := &EventBus{}
	for _, s := range subs {
		b.Subscribe(s)
	}
	return b
}

func (b *EventBus) Subscribe(s port.EventSink) {
	if s == nil {
		return
	}
	b.mu.Lock()
	b.subs = append(b.subs, s)
	b.mu.Unlock()
}

func (b *EventBus) Publish(e model.LifecycleEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		s.Publish(e)
	}
}

var _ port.EventSink = (*EventBus)(nil)
