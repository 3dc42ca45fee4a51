package console

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"mt5bot/internal/application/port"
	"mt5bot/internal/domain/model"
)

// ANSI color codes
const (
	ansiReset  = "\033[0m"
	ansiRed    = "\033[31m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiCyan   = "\033[36m"
	ansiDim    = "\033[2m"
)

func colorize(s, color string, on bool) string {
	if !on || color == "" {
		return s
	}
	return color + s + ansiReset
}

// Sink 把生命周期事件逐行打印到终端
type Sink struct {
	mu    sync.Mutex
	w     io.Writer
	color bool
}

var _ port.EventSink = (*Sink)(nil)

func NewSink(w io.Writer, color bool) *Sink {
	if w == nil {
		w = os.Stdout
	}
	return &Sink{w: w, color: color}
}

func (s *Sink) Publish(e model.LifecycleEvent) {
	line := s.Format(e)
	s.mu.Lock()
	fmt.Fprintln(s.w, line)
	s.mu.Unlock()
}

func (s *Sink) Format(e model.LifecycleEvent) string {
	var sb strings.Builder
	sb.WriteString(colorize("[MT5] ", ansiDim, s.color))
	sb.WriteString(e.Timestamp.UTC().Format("2006-01-02 15:04:05"))
	sb.WriteByte(' ')
	sb.WriteString(colorize(fmt.Sprintf("%-18s", e.Type), eventColor(e), s.color))
	fmt.Fprintf(&sb, " #%d %s %s stage=%s", e.Ticket, e.Symbol, e.Strategy, e.Stage)
	if e.StopLoss > 0 {
		fmt.Fprintf(&sb, " sl=%g", e.StopLoss)
	}
	if e.Volume > 0 {
		fmt.Fprintf(&sb, " vol=%g", e.Volume)
	}
	if e.Type == model.EventClosed || e.Profit != 0 {
		sb.WriteString(" pnl=")
		sb.WriteString(colorize(fmt.Sprintf("%+.2f", e.Profit), profitColor(e.Profit), s.color))
	}
	if e.Message != "" {
		sb.WriteString(" ")
		sb.WriteString(colorize(e.Message, ansiDim, s.color))
	}
	return sb.String()
}

func eventColor(e model.LifecycleEvent) string {
	switch e.Type {
	case model.EventEmergencyClose, model.EventMutationFailed:
		return ansiRed
	case model.EventClosed:
		return profitColor(e.Profit)
	case model.EventPlaced, model.EventAdopted:
		return ansiCyan
	default:
		return ansiYellow
	}
}

func profitColor(v float64) string {
	switch {
	case v > 0:
		return ansiGreen
	case v < 0:
		return ansiRed
	default:
		return ""
	}
}
