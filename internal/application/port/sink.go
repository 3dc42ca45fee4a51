package port

import (
	"context"

	"mt5bot/internal/domain/model"
)

// EventSink receives lifecycle events. Publish must not block the caller for long.
type EventSink interface {
	Publish(e model.LifecycleEvent)
}

// Alerter delivers operator alerts (retry ceiling reached, repeated tick failures).
type Alerter interface {
	Alert(ctx context.Context, title, body string) error
}

// Archiver uploads a named blob to off-site storage.
type Archiver interface {
	Archive(ctx context.Context, key string, body []byte) error
}
