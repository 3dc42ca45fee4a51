package telegram

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"mt5bot/internal/application/port"
)

const maxMessageLength = 4096

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Alerter sends operator alerts to one Telegram chat.
type Alerter struct {
	api    sender
	chatID int64
}

var _ port.Alerter = (*Alerter)(nil)

func New(token string, chatID int64) (*Alerter, error) {
	return NewWithEndpoint(token, chatID, tgbotapi.APIEndpoint)
}

// NewWithEndpoint points the bot at a different API endpoint (format "<base>/bot%s/%s").
func NewWithEndpoint(token string, chatID int64, endpoint string) (*Alerter, error) {
	bot, err := tgbotapi.NewBotAPIWithAPIEndpoint(token, endpoint)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return &Alerter{api: bot, chatID: chatID}, nil
}

func (a *Alerter) Alert(ctx context.Context, title, body string) error {
	text := title
	if body != "" {
		text += "\n\n" + body
	}
	for _, part := range splitMessage(text, maxMessageLength) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := a.api.Send(tgbotapi.NewMessage(a.chatID, part)); err != nil {
			return fmt.Errorf("telegram send: %w", err)
		}
	}
	return nil
}

func splitMessage(text string, maxLength int) []string {
	r := []rune(text)
	if len(r) <= maxLength {
		return []string{text}
	}
	var out []string
	for len(r) > 0 {
		n := maxLength
		if n > len(r) {
			n = len(r)
		}
		out = append(out, string(r[:n]))
		r = r[n:]
	}
	return out
}
