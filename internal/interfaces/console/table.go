package console

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"mt5bot/internal/domain/model"
)

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

// WritePositions renders tracked positions ordered by ticket.
func WritePositions(w io.Writer, positions []model.Position, now time.Time) error {
	sorted := append([]model.Position(nil), positions...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Ticket < sorted[j].Ticket })

	tw := newTable(w)
	fmt.Fprintln(tw, "TICKET\tSYMBOL\tSTRATEGY\tDIR\tVOLUME\tOPEN\tSL\tTP\tSTAGE\tMFE\tPNL\tAGE")
	for _, p := range sorted {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%g\t%g\t%g\t%g\t%s\t%.2f\t%.2f\t%s\n",
			p.Ticket, p.Symbol, p.StrategyName, p.Direction, p.Volume, p.OpenPrice,
			p.StopLoss, p.TakeProfit, p.Stage, p.MaxFavorableExcursion, p.LastKnownProfit,
			now.Sub(p.OpenTime).Truncate(time.Second))
	}
	return tw.Flush()
}

// WriteStrategies renders learning state per strategy.
func WriteStrategies(w io.Writer, params []*model.StrategyParams) error {
	tw := newTable(w)
	fmt.Fprintln(tw, "STRATEGY\tMIN_CONF\tTRADES\tWINS\tLOSSES\tWIN_RATE\tPATTERNS\tADJUSTED")
	for _, p := range params {
		winRate := 0.0
		if p.TotalTrades > 0 {
			winRate = float64(p.Wins) / float64(p.TotalTrades)
		}
		adjusted := "-"
		if !p.LastAdjustmentTime.IsZero() {
			adjusted = p.LastAdjustmentTime.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%.3f\t%d\t%d\t%d\t%.1f%%\t%d\t%s\n",
			p.StrategyName, p.MinConfidence, p.TotalTrades, p.Wins, p.Losses,
			winRate*100, len(p.FavorablePatterns), adjusted)
	}
	return tw.Flush()
}

// WriteOutcomes renders journaled trade outcomes.
func WriteOutcomes(w io.Writer, outcomes []model.TradeOutcome) error {
	tw := newTable(w)
	fmt.Fprintln(tw, "CLOSED\tTICKET\tSTRATEGY\tSYMBOL\tDIR\tPROFIT\tDEALS\tAPPROX")
	for _, o := range outcomes {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%.2f\t%d\t%t\n",
			o.ClosedAt.UTC().Format("2006-01-02 15:04:05"), o.Ticket, o.StrategyName, o.Symbol,
			o.Direction, o.Profit, o.Deals, o.Approximate)
	}
	return tw.Flush()
}
