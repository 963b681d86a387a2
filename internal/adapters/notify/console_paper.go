package notify

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/alejandrodnm/ictbot/internal/domain"
	"github.com/olekukonko/tablewriter"
)

// PrintPaperStatus prints a compact status for the current paper cycle.
func (c *Console) PrintPaperStatus(cycle domain.PaperCycle) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s][PAPER] %d open | +%d signals | +%d opened | %d closed | %d rejected | bal $%.2f",
		cycle.At.Local().Format("15:04:05"), len(cycle.Open), len(cycle.NewSignals),
		len(cycle.Opened), len(cycle.Closed), len(cycle.Rejected), cycle.Balance)

	for _, p := range cycle.Closed {
		fmt.Fprintf(&sb, "\n  %s %s %s %s pnl %+.2f", statusIcon(p.Status), p.Signal.Strategy, p.Signal.Symbol, p.Status, p.PnL)
	}
	for i, r := range cycle.Rejected {
		if i >= 2 {
			break
		}
		fmt.Fprintf(&sb, "\n  !! %s", r)
	}
	for i, warn := range cycle.Warnings {
		if i >= 2 {
			break
		}
		fmt.Fprintf(&sb, "\n  >> %s", warn)
	}

	fmt.Fprintln(c.out, sb.String())

	if c.table && len(cycle.Open) > 0 {
		c.printOpenPositions(cycle.Open)
	}
}

func (c *Console) printOpenPositions(open []domain.Position) {
	tbl := tablewriter.NewWriter(c.out)
	tbl.Header("Strategy", "Symbol", "Dir", "Entry", "SL", "TP", "Risk$", "Age")
	for _, p := range open {
		tbl.Append(
			p.Signal.Strategy,
			p.Signal.Symbol,
			string(p.Signal.Direction),
			price(p.Signal.Entry),
			price(p.Signal.StopLoss),
			target(p.Signal),
			fmt.Sprintf("%.2f", p.RiskAmount),
			since(p.OpenedAt),
		)
	}
	tbl.Render()
}

// PrintPaperReport prints a comprehensive paper trading report.
func (c *Console) PrintPaperReport(stats domain.PaperStats, closed []domain.Position) {
	if stats.TotalPositions == 0 {
		fmt.Fprintln(c.out, "\n  No paper trading data yet. Run -mode paper first.")
		return
	}

	fmt.Fprintf(c.out, "\n")
	fmt.Fprintf(c.out, "========================================================\n")
	fmt.Fprintf(c.out, "  PAPER TRADING REPORT\n")
	if stats.FirstOpenedAt != nil {
		days := int(time.Since(*stats.FirstOpenedAt).Hours()/24) + 1
		fmt.Fprintf(c.out, "  since %s (%d days)\n", stats.FirstOpenedAt.UTC().Format("2006-01-02"), days)
	}
	fmt.Fprintf(c.out, "========================================================\n\n")

	if len(closed) > 0 {
		tbl := tablewriter.NewWriter(c.out)
		tbl.Header("Closed", "Strategy", "Symbol", "Dir", "Entry", "Exit", "Result", "PnL", "Bal$")
		for _, p := range closed {
			closedAt := "-"
			if p.ClosedAt != nil {
				closedAt = p.ClosedAt.UTC().Format("01-02 15:04")
			}
			tbl.Append(
				closedAt,
				p.Signal.Strategy,
				p.Signal.Symbol,
				string(p.Signal.Direction),
				price(p.Signal.Entry),
				price(p.ExitPrice),
				string(p.Status),
				fmt.Sprintf("%+.2f", p.PnL),
				fmt.Sprintf("%.2f", p.BalanceAfter),
			)
		}
		tbl.Render()
	}

	fmt.Fprintf(c.out, "\n  --- AGGREGATE ---\n")
	fmt.Fprintf(c.out, "  Positions:             %d (%d open)\n", stats.TotalPositions, stats.OpenPositions)
	fmt.Fprintf(c.out, "  Wins / Losses:         %d / %d\n", stats.Wins, stats.Losses)
	fmt.Fprintf(c.out, "  Win rate:              %.1f%%\n", stats.WinRate)
	fmt.Fprintf(c.out, "  Total PnL:             $%+.2f\n", stats.TotalPnL)
	fmt.Fprintf(c.out, "  Balance:               $%.2f → $%.2f (%+.2f%%)\n",
		stats.InitialBalance, stats.Balance, stats.ReturnPct)

	if len(stats.BySymbol) > 0 {
		fmt.Fprintf(c.out, "\n  --- BY SYMBOL ---\n")
		symbols := make([]string, 0, len(stats.BySymbol))
		for s := range stats.BySymbol {
			symbols = append(symbols, s)
		}
		sort.Strings(symbols)
		for _, s := range symbols {
			st := stats.BySymbol[s]
			fmt.Fprintf(c.out, "  %-12s %3d pos | W %d / L %d | $%+.2f\n", s, st.Positions, st.Wins, st.Losses, st.PnL)
		}
	}

	fmt.Fprintf(c.out, "\n  --- VERDICT ---\n")
	closedN := stats.Wins + stats.Losses
	switch {
	case closedN < 10:
		fmt.Fprintf(c.out, "  Need at least 10 closed positions. Currently %d.\n", closedN)
	case stats.TotalPnL > 0:
		fmt.Fprintf(c.out, "  POSITIVE: paper trading is net profitable.\n")
	default:
		fmt.Fprintf(c.out, "  NEGATIVE: paper trading is not profitable. Review strategy parameters.\n")
	}

	fmt.Fprintln(c.out)
}

func statusIcon(s domain.PositionStatus) string {
	switch s {
	case domain.PositionWon:
		return "OK"
	case domain.PositionLost:
		return "x"
	default:
		return "~"
	}
}
