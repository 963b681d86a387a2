package notify_test

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alejandrodnm/ictbot/internal/adapters/notify"
	"github.com/alejandrodnm/ictbot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var sigTime = time.Date(2024, 3, 4, 8, 15, 0, 0, time.UTC)

func makeSignal(strategy string) domain.Signal {
	return domain.Signal{
		ID:         domain.SignalID(strategy, "NQ=F", sigTime),
		Strategy:   strategy,
		Symbol:     "NQ=F",
		Timeframe:  domain.TF15m,
		Time:       sigTime,
		Direction:  domain.Buy,
		Entry:      1019,
		StopLoss:   960,
		TakeProfit: 1196,
		RiskReward: 3,
		Reason:     "sweep 1000",
	}
}

func makeResult(strategy string, outcomes ...domain.Outcome) domain.BacktestResult {
	sig := makeSignal(strategy)
	balance := 100.0
	var trades []domain.Trade
	for _, o := range outcomes {
		pnl := domain.TradePnL(o, 0.1, balance, 3)
		balance += pnl
		trades = append(trades, domain.Trade{Signal: sig, Outcome: o, PnL: pnl, BalanceAfter: balance, ExitIndex: -1})
	}
	return domain.BacktestResult{
		Strategy:  strategy,
		Symbol:    "NQ=F",
		Timeframe: domain.TF15m,
		Bars:      1000,
		Signals:   []domain.Signal{sig},
		Trades:    trades,
		Stats:     domain.ComputeStats(100, trades),
	}
}

func TestConsole_NotifySignal(t *testing.T) {
	var buf bytes.Buffer
	n := notify.NewConsoleWriter(&buf, false, false)

	require.NoError(t, n.NotifySignal(context.Background(), makeSignal("liquidity_sweep")))

	out := buf.String()
	assert.Contains(t, out, "liquidity_sweep NQ=F 15m BUY @ 1019.00")
	assert.Contains(t, out, "SL 960.00")
	assert.Contains(t, out, "TP 1196.00")
	assert.Equal(t, 1, strings.Count(out, "\n"))
}

func TestConsole_NotifySignal_NoTarget(t *testing.T) {
	var buf bytes.Buffer
	n := notify.NewConsoleWriter(&buf, false, false)

	sig := makeSignal("liquidity_sweep")
	sig.TakeProfit = 0
	require.NoError(t, n.NotifySignal(context.Background(), sig))
	assert.Contains(t, buf.String(), "TP -")
}

func TestConsole_PrintBacktest(t *testing.T) {
	var buf bytes.Buffer
	n := notify.NewConsoleWriter(&buf, true, false)

	n.PrintBacktest([]domain.BacktestResult{
		makeResult("liquidity_sweep", domain.OutcomeWin, domain.OutcomeLoss),
		makeResult("h1_m5_bos", domain.OutcomeLoss),
	})

	out := buf.String()
	assert.Contains(t, out, "liquidity_sweep")
	assert.Contains(t, out, "STRATEGY COMPARISON")
	assert.Contains(t, out, "Best: liquidity_sweep")
	// 100 → 130 → 117
	assert.Contains(t, out, "117.00")
}

func TestConsole_PrintBacktest_Empty(t *testing.T) {
	var buf bytes.Buffer
	n := notify.NewConsoleWriter(&buf, true, false)

	n.PrintBacktest(nil)
	assert.Contains(t, buf.String(), "No backtest results")
}

func TestConsole_PrintRuns(t *testing.T) {
	var buf bytes.Buffer
	n := notify.NewConsoleWriter(&buf, true, false)

	n.PrintRuns([]domain.RunSummary{{
		ID: "0123456789abcdef", Mode: "backtest", Strategy: "pdh_pdl", Symbol: "ES=F",
		Timeframe: domain.TF15m, StartedAt: time.Now(), Wins: 2, Losses: 1, Trades: 3,
	}})

	out := buf.String()
	assert.Contains(t, out, "pdh_pdl")
	assert.Contains(t, out, "2/1/0")
	assert.Contains(t, out, "012345678...")
}

func TestConsole_PrintPaperStatus(t *testing.T) {
	var buf bytes.Buffer
	n := notify.NewConsoleWriter(&buf, false, false)

	closedAt := sigTime.Add(time.Hour)
	n.PrintPaperStatus(domain.PaperCycle{
		At:       time.Now(),
		Closed:   []domain.Position{{ID: "p1", Signal: makeSignal("confluence"), Status: domain.PositionWon, PnL: 30, ClosedAt: &closedAt}},
		Rejected: []string{"confluence:NQ=F:1: daily cap"},
		Balance:  130,
	})

	out := buf.String()
	assert.Contains(t, out, "[PAPER] 0 open")
	assert.Contains(t, out, "bal $130.00")
	assert.Contains(t, out, "pnl +30.00")
	assert.Contains(t, out, "!! confluence:NQ=F:1: daily cap")
}

func TestConsole_PrintPaperReport(t *testing.T) {
	var buf bytes.Buffer
	n := notify.NewConsoleWriter(&buf, true, false)

	n.PrintPaperReport(domain.PaperStats{}, nil)
	assert.Contains(t, buf.String(), "No paper trading data")

	buf.Reset()
	first := time.Now().Add(-48 * time.Hour)
	n.PrintPaperReport(domain.PaperStats{
		InitialBalance: 100, Balance: 130, TotalPositions: 1, Wins: 1, WinRate: 100,
		TotalPnL: 30, ReturnPct: 30, FirstOpenedAt: &first,
		BySymbol: map[string]domain.SymbolStats{"NQ=F": {Positions: 1, Wins: 1, PnL: 30}},
	}, []domain.Position{{Signal: makeSignal("confluence"), Status: domain.PositionWon, ExitPrice: 1196, PnL: 30, BalanceAfter: 130}})

	out := buf.String()
	assert.Contains(t, out, "PAPER TRADING REPORT")
	assert.Contains(t, out, "(3 days)")
	assert.Contains(t, out, "$100.00 → $130.00")
	assert.Contains(t, out, "Need at least 10 closed positions")
}
