package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"mt5bot/internal/application/port"
	"mt5bot/internal/domain/model"
)

// Forwarder is an EventSink that turns selected lifecycle events into alerts.
// Delivery happens on its own goroutine; a full buffer drops the event.
type Forwarder struct {
	alerter port.Alerter
	types   map[model.EventType]struct{}
	ch      chan model.LifecycleEvent
	timeout time.Duration
}

var _ port.EventSink = (*Forwarder)(nil)

func NewForwarder(alerter port.Alerter, buffer int, types ...model.EventType) *Forwarder {
	if buffer <= 0 {
		buffer = 64
	}
	set := make(map[model.EventType]struct{}, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}
	return &Forwarder{alerter: alerter, types: set, ch: make(chan model.LifecycleEvent, buffer), timeout: 10 * time.Second}
}

func (f *Forwarder) Publish(e model.LifecycleEvent) {
	if _, ok := f.types[e.Type]; !ok {
		return
	}
	select {
	case f.ch <- e:
	default:
		log.Warn().Int64("ticket", e.Ticket).Str("type", string(e.Type)).Msg("alert buffer full, dropping event")
	}
}

// Run delivers queued events until ctx is done.
func (f *Forwarder) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case e := <-f.ch:
			actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.timeout)
			if err := f.alerter.Alert(actx, Title(e), Body(e)); err != nil {
				log.Error().Err(err).Int64("ticket", e.Ticket).Msg("alert delivery failed")
			}
			cancel()
		}
	}
}

func Title(e model.LifecycleEvent) string {
	return fmt.Sprintf("%s #%d %s", e.Type, e.Ticket, e.Symbol)
}

func Body(e model.LifecycleEvent) string {
	s := fmt.Sprintf("strategy=%s stage=%s", e.Strategy, e.Stage)
	if e.Profit != 0 {
		s += fmt.Sprintf(" profit=%.2f", e.Profit)
	}
	if e.StopLoss != 0 {
		s += fmt.Sprintf(" sl=%g", e.StopLoss)
	}
	if e.Message != "" {
		s += "\n" + e.Message
	}
	return s
}
