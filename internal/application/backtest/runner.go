// Package backtest runs strategies over historical series and resolves every
// signal against the bars that follow it.
package backtest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alejandrodnm/ictbot/internal/application/engine"
	"github.com/alejandrodnm/ictbot/internal/domain"
	"github.com/alejandrodnm/ictbot/internal/domain/strategy"
	"github.com/alejandrodnm/ictbot/internal/ports"
)

// Config holds the sizing rules shared by every run.
type Config struct {
	InitialBalance float64
	RiskPerTrade   float64 // fraction of the current balance risked per trade
	MaxHoldBars    int     // 0 = resolve until the end of the series
	Workers        int     // RunAll goroutines (0 = NumCPU)
}

// Job is one (strategy, symbol) run.
type Job struct {
	Strategy strategy.Config
	Series   domain.Series // entry timeframe
	HTF      domain.Series // bias timeframe; ignored when Bias is set
	Bias     strategy.BiasFunc
}

// Runner executes jobs.
type Runner struct {
	cfg       Config
	observers func(name string) []strategy.Option
	metrics   ports.Metrics
}

// Option configures a Runner.
type Option func(*Runner)

// WithObservers attaches machine options (usually observers) per strategy.
func WithObservers(f func(name string) []strategy.Option) Option {
	return func(r *Runner) { r.observers = f }
}

// WithMetrics records signals and trades.
func WithMetrics(m ports.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// NewRunner creates a Runner.
func NewRunner(cfg Config, opts ...Option) *Runner {
	r := &Runner{cfg: cfg, metrics: engine.NopMetrics{}}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Run detects every signal in job.Series and resolves them in signal order.
// Each trade risks RiskPerTrade of the balance left by the previous trades.
func (r *Runner) Run(ctx context.Context, job Job) (domain.BacktestResult, error) {
	start := time.Now()
	name := job.Strategy.Name
	sym := job.Series.Symbol

	if err := job.Series.Validate(); err != nil {
		return domain.BacktestResult{}, fmt.Errorf("backtest.Run %s/%s: %w", name, sym, err)
	}

	var opts []strategy.Option
	if r.observers != nil {
		opts = r.observers(name)
	}
	in, err := engine.NewInstance(job.Strategy, sym, opts...)
	if err != nil {
		return domain.BacktestResult{}, fmt.Errorf("backtest.Run: %w", err)
	}
	if job.Bias != nil {
		in.SetBias(job.Bias)
	} else if err := in.SetHTF(job.HTF); err != nil {
		return domain.BacktestResult{}, fmt.Errorf("backtest.Run: %w", err)
	}
	if _, err := in.Append(job.Series.Bars, time.Time{}); err != nil {
		return domain.BacktestResult{}, fmt.Errorf("backtest.Run: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return domain.BacktestResult{}, err
	}

	signals := in.Step()
	trades := r.resolve(job.Series.Bars, signals)
	for _, sig := range signals {
		r.metrics.RecordSignal(sig)
	}
	for _, tr := range trades {
		if tr.Resolved() {
			r.metrics.RecordTrade(name, tr.Outcome)
		}
	}

	res := domain.BacktestResult{
		RunID:     uuid.New().String(),
		Strategy:  name,
		Symbol:    sym,
		Timeframe: job.Series.Timeframe,
		Bars:      job.Series.Len(),
		Signals:   signals,
		Trades:    trades,
		Stats:     domain.ComputeStats(r.cfg.InitialBalance, trades),
	}
	if n := job.Series.Len(); n > 0 {
		res.From = job.Series.Bars[0].Time
		res.To = job.Series.Bars[n-1].Time
	}

	r.metrics.RecordLatency("backtest", time.Since(start).Seconds())
	slog.Debug("backtest run complete",
		"strategy", name,
		"symbol", sym,
		"bars", res.Bars,
		"signals", len(signals),
		"trades", res.Stats.Trades,
		"return_pct", fmt.Sprintf("%.2f", res.Stats.ReturnPct),
		"elapsed", time.Since(start),
	)
	return res, nil
}

// resolve turns signals into trades against the bars strictly after each
// signal bar, compounding the balance in signal order.
func (r *Runner) resolve(bars []domain.Bar, signals []domain.Signal) []domain.Trade {
	balance := r.cfg.InitialBalance
	trades := make([]domain.Trade, 0, len(signals))
	for _, sig := range signals {
		from := sig.BarIndex + 1
		to := len(bars)
		if r.cfg.MaxHoldBars > 0 && from+r.cfg.MaxHoldBars < to {
			to = from + r.cfg.MaxHoldBars
		}
		if from > to {
			from = to
		}
		tr := domain.Resolve(sig, bars[from:to], r.cfg.RiskPerTrade, balance)
		balance = tr.BalanceAfter
		trades = append(trades, tr)
	}
	return trades
}
