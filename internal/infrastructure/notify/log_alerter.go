// Package notify delivers operator alerts.
package notify

import (
	"context"

	"github.com/rs/zerolog/log"

	"mt5bot/internal/application/port"
)

// LogAlerter writes alerts to the log. Used when no chat channel is configured.
type LogAlerter struct{}

var _ port.Alerter = LogAlerter{}

func (LogAlerter) Alert(_ context.Context, title, body string) error {
	log.Warn().Str("alert", title).Msg(body)
	return nil
}
