// Package report exports backtest results to spreadsheet files.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/alejandrodnm/ictbot/internal/domain"
)

const (
	summarySheet = "Summary"
	tradesSheet  = "Trades"
	equitySheet  = "Equity"
)

type styles struct {
	header  int
	price   int
	money   int
	percent int
	win     int
	loss    int
}

// XLSX writes one workbook per call with a summary row per run, every trade
// and the equity curve of each run.
type XLSX struct{}

// NewXLSX creates the exporter.
func NewXLSX() *XLSX { return &XLSX{} }

// Write saves results to path, creating the parent directory if needed.
func (x *XLSX) Write(results []domain.BacktestResult, path string) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("report.Write: create dir %s: %w", dir, err)
		}
	}

	fx := excelize.NewFile()
	defer fx.Close()

	fx.SetSheetName(fx.GetSheetName(0), summarySheet)
	if _, err := fx.NewSheet(tradesSheet); err != nil {
		return fmt.Errorf("report.Write: %w", err)
	}
	if _, err := fx.NewSheet(equitySheet); err != nil {
		return fmt.Errorf("report.Write: %w", err)
	}

	st, err := newStyles(fx)
	if err != nil {
		return fmt.Errorf("report.Write: styles: %w", err)
	}

	if err := writeSummary(fx, results, st); err != nil {
		return fmt.Errorf("report.Write: summary: %w", err)
	}
	if err := writeTrades(fx, results, st); err != nil {
		return fmt.Errorf("report.Write: trades: %w", err)
	}
	if err := writeEquity(fx, results, st); err != nil {
		return fmt.Errorf("report.Write: equity: %w", err)
	}

	if err := fx.SaveAs(path); err != nil {
		return fmt.Errorf("report.Write: save %s: %w", path, err)
	}
	return nil
}

func newStyles(fx *excelize.File) (styles, error) {
	var s styles
	var err error
	border := []excelize.Border{
		{Type: "left", Color: "E0E0E0", Style: 1},
		{Type: "right", Color: "E0E0E0", Style: 1},
		{Type: "bottom", Color: "E0E0E0", Style: 1},
	}

	s.header, err = fx.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"2F4F4F"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return s, err
	}
	fmtPrice := "0.00###"
	s.price, err = fx.NewStyle(&excelize.Style{CustomNumFmt: &fmtPrice, Border: border})
	if err != nil {
		return s, err
	}
	s.money, err = fx.NewStyle(&excelize.Style{NumFmt: 4, Border: border}) // #,##0.00
	if err != nil {
		return s, err
	}
	fmtPct := "0.00\"%\""
	s.percent, err = fx.NewStyle(&excelize.Style{CustomNumFmt: &fmtPct, Border: border})
	if err != nil {
		return s, err
	}
	s.win, err = fx.NewStyle(&excelize.Style{Font: &excelize.Font{Color: "008000", Bold: true}, Border: border})
	if err != nil {
		return s, err
	}
	s.loss, err = fx.NewStyle(&excelize.Style{Font: &excelize.Font{Color: "FF0000", Bold: true}, Border: border})
	return s, err
}

func writeHeader(fx *excelize.File, sheet string, headers []string, st styles) error {
	for i, h := range headers {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		if err := fx.SetCellValue(sheet, cell, h); err != nil {
			return err
		}
	}
	last, _ := excelize.CoordinatesToCellName(len(headers), 1)
	if err := fx.SetCellStyle(sheet, "A1", last, st.header); err != nil {
		return err
	}
	return fx.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})
}

// setRow writes values starting at column A; styleFor picks the style per
// column (0 = none).
func setRow(fx *excelize.File, sheet string, row int, values []any, styleFor func(col int) int) error {
	for i, v := range values {
		cell, err := excelize.CoordinatesToCellName(i+1, row)
		if err != nil {
			return err
		}
		if err := fx.SetCellValue(sheet, cell, v); err != nil {
			return err
		}
		if s := styleFor(i); s != 0 {
			if err := fx.SetCellStyle(sheet, cell, cell, s); err != nil {
				return err
			}
		}
	}
	return nil
}

func writeSummary(fx *excelize.File, results []domain.BacktestResult, st styles) error {
	headers := []string{
		"Strategy", "Symbol", "TF", "From", "To", "Bars", "Signals", "Trades",
		"Wins", "Losses", "Unresolved", "Win %", "Profit", "Loss",
		"Initial", "Final", "Return %", "Max DD %",
	}
	if err := writeHeader(fx, summarySheet, headers, st); err != nil {
		return err
	}
	fx.SetColWidth(summarySheet, "A", "A", 18)
	fx.SetColWidth(summarySheet, "D", "E", 12)

	for i, r := range results {
		s := r.Stats
		values := []any{
			r.Strategy, r.Symbol, string(r.Timeframe), dateOrEmpty(r.From), dateOrEmpty(r.To),
			r.Bars, len(r.Signals), s.Trades, s.Wins, s.Losses, s.Unresolved,
			s.WinRate, s.TotalProfit, s.TotalLoss, s.InitialBalance, s.FinalBalance,
			s.ReturnPct, s.MaxDrawdownPct,
		}
		err := setRow(fx, summarySheet, i+2, values, func(col int) int {
			switch {
			case col == 11 || col >= 16:
				return st.percent
			case col >= 12:
				return st.money
			}
			return 0
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func writeTrades(fx *excelize.File, results []domain.BacktestResult, st styles) error {
	headers := []string{
		"Strategy", "Symbol", "Signal ID", "Time", "Dir", "Entry", "Stop", "Target", "RR",
		"Outcome", "Exit", "Exit time", "Bars held", "PnL", "Balance", "Reason",
	}
	if err := writeHeader(fx, tradesSheet, headers, st); err != nil {
		return err
	}
	fx.SetColWidth(tradesSheet, "C", "C", 32)
	fx.SetColWidth(tradesSheet, "D", "D", 18)
	fx.SetColWidth(tradesSheet, "L", "L", 18)
	fx.SetColWidth(tradesSheet, "P", "P", 48)

	row := 2
	for _, r := range results {
		for _, tr := range r.Trades {
			sig := tr.Signal
			exitTime := ""
			if !tr.ExitTime.IsZero() {
				exitTime = tr.ExitTime.UTC().Format("2006-01-02 15:04")
			}
			values := []any{
				sig.Strategy, sig.Symbol, sig.ID, sig.Time.UTC().Format("2006-01-02 15:04"),
				string(sig.Direction), sig.Entry, sig.StopLoss, sig.TakeProfit, sig.RiskReward,
				string(tr.Outcome), tr.ExitPrice, exitTime, tr.ExitOffset, tr.PnL, tr.BalanceAfter,
				sig.Reason,
			}
			outcomeStyle := 0
			switch tr.Outcome {
			case domain.OutcomeWin:
				outcomeStyle = st.win
			case domain.OutcomeLoss:
				outcomeStyle = st.loss
			}
			err := setRow(fx, tradesSheet, row, values, func(col int) int {
				switch col {
				case 5, 6, 7, 10:
					return st.price
				case 9:
					return outcomeStyle
				case 13, 14:
					return st.money
				}
				return 0
			})
			if err != nil {
				return err
			}
			row++
		}
	}
	if row > 2 {
		last, _ := excelize.CoordinatesToCellName(len(headers), row-1)
		if err := fx.AutoFilter(tradesSheet, "A1:"+last, nil); err != nil {
			return err
		}
	}
	return nil
}

// writeEquity puts one column per run: the initial balance followed by the
// balance after each resolved trade.
func writeEquity(fx *excelize.File, results []domain.BacktestResult, st styles) error {
	headers := []string{"Trade"}
	maxLen := 0
	for _, r := range results {
		headers = append(headers, r.Strategy+" "+r.Symbol)
		if n := len(r.Stats.EquityCurve); n > maxLen {
			maxLen = n
		}
	}
	if err := writeHeader(fx, equitySheet, headers, st); err != nil {
		return err
	}

	for k := 0; k < maxLen; k++ {
		if err := fx.SetCellValue(equitySheet, fmt.Sprintf("A%d", k+2), k); err != nil {
			return err
		}
	}
	for c, r := range results {
		for k, v := range r.Stats.EquityCurve {
			cell, err := excelize.CoordinatesToCellName(c+2, k+2)
			if err != nil {
				return err
			}
			if err := fx.SetCellValue(equitySheet, cell, v); err != nil {
				return err
			}
			if err := fx.SetCellStyle(equitySheet, cell, cell, st.money); err != nil {
				return err
			}
		}
	}
	return nil
}

func dateOrEmpty(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format("2006-01-02")
}
