package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/alejandrodnm/ictbot/internal/domain"
	"github.com/olekukonko/tablewriter"
)

// Console implementa ports.Notifier.
type Console struct {
	out     io.Writer
	table   bool
	verbose bool
}

// NewConsole crea un notificador que escribe a stdout.
// table=true imprime tablas completas; verbose=true agrega el detalle de trades.
func NewConsole(table, verbose bool) *Console {
	return &Console{out: os.Stdout, table: table, verbose: verbose}
}

// NewConsoleWriter crea un notificador para tests.
func NewConsoleWriter(w io.Writer, table, verbose bool) *Console {
	return &Console{out: w, table: table, verbose: verbose}
}

// NotifySignal imprime una señal recién emitida en una línea.
func (c *Console) NotifySignal(_ context.Context, sig domain.Signal) error {
	fmt.Fprintf(c.out, "[%s] %s %s %s %s @ %s | SL %s | TP %s | RR %.1f",
		sig.Time.UTC().Format("2006-01-02 15:04"),
		sig.Strategy, sig.Symbol, sig.Timeframe, sig.Direction,
		price(sig.Entry), price(sig.StopLoss), target(sig), sig.RiskReward)
	if sig.Reason != "" {
		fmt.Fprintf(c.out, " | %s", compactName(sig.Reason, 60))
	}
	fmt.Fprintln(c.out)
	return nil
}

// PrintTradeClosed imprime el cierre de un trade en replay.
func (c *Console) PrintTradeClosed(tr domain.Trade) {
	fmt.Fprintf(c.out, "[%s] %s %s %s %s exit %s | pnl %+.2f | bal %.2f\n",
		tr.ExitTime.UTC().Format("2006-01-02 15:04"),
		outcomeIcon(tr.Outcome), tr.Signal.Strategy, tr.Signal.Symbol, tr.Outcome,
		price(tr.ExitPrice), tr.PnL, tr.BalanceAfter)
}

// PrintBacktest imprime el resumen de cada corrida y, con más de una, la
// comparación entre estrategias.
func (c *Console) PrintBacktest(results []domain.BacktestResult) {
	if len(results) == 0 {
		fmt.Fprintln(c.out, "\n  No backtest results available.")
		return
	}

	fmt.Fprintf(c.out, "\n╔══════════════════════════════════════════════════════════════════╗\n")
	fmt.Fprintf(c.out, "║  BACKTEST — sweep → displacement → shift → retrace → entry       ║\n")
	fmt.Fprintf(c.out, "╚══════════════════════════════════════════════════════════════════╝\n\n")

	for _, r := range results {
		c.printResult(r)
	}
	if len(results) > 1 {
		c.PrintComparison(results)
	}
}

func (c *Console) printResult(r domain.BacktestResult) {
	st := r.Stats
	fmt.Fprintf(c.out, "  %s | %s %s | %d bars", r.Strategy, r.Symbol, r.Timeframe, r.Bars)
	if !r.From.IsZero() {
		fmt.Fprintf(c.out, " | %s → %s", r.From.UTC().Format("2006-01-02"), r.To.UTC().Format("2006-01-02"))
	}
	fmt.Fprintln(c.out)

	fmt.Fprintf(c.out, "     Signals:      %d\n", len(r.Signals))
	fmt.Fprintf(c.out, "     Trades:       %d (W %d / L %d, %d unresolved)\n", st.Trades, st.Wins, st.Losses, st.Unresolved)
	fmt.Fprintf(c.out, "     Win rate:     %.1f%%\n", st.WinRate)
	fmt.Fprintf(c.out, "     Profit/Loss:  +%.2f / -%.2f\n", st.TotalProfit, st.TotalLoss)
	fmt.Fprintf(c.out, "     Balance:      %.2f → %.2f (%+.2f%%)\n", st.InitialBalance, st.FinalBalance, st.ReturnPct)
	fmt.Fprintf(c.out, "     Max drawdown: %.2f%%\n\n", st.MaxDrawdownPct)

	if c.table && len(r.Trades) > 0 && (c.verbose || len(r.Trades) <= 20) {
		c.PrintTrades(r.Trades)
	}
}

// PrintTrades imprime la tabla de trades de una corrida.
func (c *Console) PrintTrades(trades []domain.Trade) {
	table := tablewriter.NewWriter(c.out)
	table.Header("#", "Time", "Dir", "Entry", "SL", "TP", "Outcome", "Exit", "Bars", "PnL", "Balance")

	for i, tr := range trades {
		bars := "-"
		if tr.Resolved() {
			bars = fmt.Sprintf("%d", tr.ExitOffset)
		}
		table.Append(
			fmt.Sprintf("%d", i+1),
			tr.Signal.Time.UTC().Format("01-02 15:04"),
			string(tr.Signal.Direction),
			price(tr.Signal.Entry),
			price(tr.Signal.StopLoss),
			target(tr.Signal),
			string(tr.Outcome),
			price(tr.ExitPrice),
			bars,
			fmt.Sprintf("%+.2f", tr.PnL),
			fmt.Sprintf("%.2f", tr.BalanceAfter),
		)
	}
	table.Render()
	fmt.Fprintln(c.out)
}

// PrintComparison imprime una fila por corrida, ordenadas por retorno.
func (c *Console) PrintComparison(results []domain.BacktestResult) {
	sorted := make([]domain.BacktestResult, len(results))
	copy(sorted, results)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Stats.ReturnPct > sorted[j].Stats.ReturnPct
	})

	fmt.Fprintf(c.out, "=== STRATEGY COMPARISON ===\n")
	table := tablewriter.NewWriter(c.out)
	table.Header("#", "Strategy", "Symbol", "TF", "Signals", "Trades", "Win%", "Return", "MaxDD", "Final")

	for i, r := range sorted {
		st := r.Stats
		table.Append(
			fmt.Sprintf("%d", i+1),
			r.Strategy,
			r.Symbol,
			string(r.Timeframe),
			fmt.Sprintf("%d", len(r.Signals)),
			fmt.Sprintf("%d", st.Trades),
			fmt.Sprintf("%.1f", st.WinRate),
			fmt.Sprintf("%+.2f%%", st.ReturnPct),
			fmt.Sprintf("%.2f%%", st.MaxDrawdownPct),
			fmt.Sprintf("%.2f", st.FinalBalance),
		)
	}
	table.Render()

	best := sorted[0]
	if best.Stats.Trades == 0 {
		fmt.Fprintf(c.out, "\n  >>> No strategy produced resolved trades in this range\n\n")
		return
	}
	fmt.Fprintf(c.out, "\n  >>> Best: %s on %s (%+.2f%%)\n\n", best.Strategy, best.Symbol, best.Stats.ReturnPct)
}

// PrintRuns imprime el histórico de corridas guardadas.
func (c *Console) PrintRuns(runs []domain.RunSummary) {
	if len(runs) == 0 {
		fmt.Fprintln(c.out, "\n  No stored runs in range.")
		return
	}

	table := tablewriter.NewWriter(c.out)
	table.Header("Started", "Mode", "Strategy", "Symbol", "TF", "Trades", "W/L/U", "Return", "Final", "Run")
	for _, r := range runs {
		table.Append(
			r.StartedAt.Local().Format("01-02 15:04"),
			r.Mode,
			r.Strategy,
			r.Symbol,
			string(r.Timeframe),
			fmt.Sprintf("%d", r.Trades),
			fmt.Sprintf("%d/%d/%d", r.Wins, r.Losses, r.Unresolved),
			fmt.Sprintf("%+.2f%%", r.ReturnPct),
			fmt.Sprintf("%.2f", r.FinalBalance),
			truncate(r.ID, 12),
		)
	}
	table.Render()
}

// --- helpers ---

func price(v float64) string {
	return fmt.Sprintf("%.2f", v)
}

func target(sig domain.Signal) string {
	if !sig.HasTarget() {
		return "-"
	}
	return price(sig.TakeProfit)
}

func outcomeIcon(o domain.Outcome) string {
	switch o {
	case domain.OutcomeWin:
		return "OK"
	case domain.OutcomeLoss:
		return "x"
	default:
		return "~"
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func compactName(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := s[:maxLen]
	if idx := strings.LastIndex(cut, " "); idx > maxLen/2 {
		cut = cut[:idx]
	}
	return cut + "…"
}

func since(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Hour:
		return fmt.Sprintf("%.0fm", d.Minutes())
	case d < 48*time.Hour:
		return fmt.Sprintf("%.1fh", d.Hours())
	default:
		return fmt.Sprintf("%.1fd", d.Hours()/24)
	}
}
