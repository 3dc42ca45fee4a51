package service

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"mt5bot/internal/application/port"
	"mt5bot/internal/domain/model"
)

// JournalWriter records lifecycle events off the engine's goroutine.
type JournalWriter struct {
	journal port.TradeJournal
	ch      chan model.LifecycleEvent
	timeout time.Duration
}

var _ port.EventSink = (*JournalWriter)(nil)

func NewJournalWriter(journal port.TradeJournal, buffer int) *JournalWriter {
	if buffer <= 0 {
		buffer = 256
	}
	return &JournalWriter{journal: journal, ch: make(chan model.LifecycleEvent, buffer), timeout: 5 * time.Second}
}

func (w *JournalWriter) Publish(e model.LifecycleEvent) {
	select {
	case w.ch <- e:
	default:
		log.Warn().Int64("ticket", e.Ticket).Str("type", string(e.Type)).Msg("journal buffer full, event dropped")
	}
}

// Run drains the buffer until ctx is done, then flushes what is left.
func (w *JournalWriter) Run(ctx context.Context) error {
	for {
		select {
		case e := <-w.ch:
			w.write(ctx, e)
		case <-ctx.Done():
			flush := context.WithoutCancel(ctx)
			for {
				select {
				case e := <-w.ch:
					w.write(flush, e)
				default:
					return nil
				}
			}
		}
	}
}

func (w *JournalWriter) write(ctx context.Context, e model.LifecycleEvent) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.timeout)
	defer cancel()
	if err := w.journal.RecordEvent(wctx, e); err != nil {
		log.Error().Err(err).Int64("ticket", e.Ticket).Str("type", string(e.Type)).Msg("journal event failed")
	}
}
