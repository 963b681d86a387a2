// Package replay drives the live flow over historical bars: bars arrive in
// batches, open positions are checked against each new bar, and new signals
// open positions sized from the balance at that moment.
package replay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alejandrodnm/ictbot/internal/application/backtest"
	"github.com/alejandrodnm/ictbot/internal/application/engine"
	"github.com/alejandrodnm/ictbot/internal/domain"
	"github.com/alejandrodnm/ictbot/internal/domain/strategy"
	"github.com/alejandrodnm/ictbot/internal/ports"
)

const defaultStepBars = 1

// Config holds replay-specific settings.
type Config struct {
	InitialBalance  float64
	RiskPerTrade    float64
	StepBars        int           // bars delivered per batch
	MaxTradesPerDay int           // 0 = sin límite
	Delay           time.Duration // pausa entre batches; 0 = lo más rápido posible
}

// Engine replays one job at a time.
type Engine struct {
	cfg      Config
	notifier ports.Notifier
	metrics  ports.Metrics
	onTrade  func(domain.Trade)
	opts     []strategy.Option
}

// Option configures an Engine.
type Option func(*Engine)

// WithNotifier presents every new signal.
func WithNotifier(n ports.Notifier) Option { return func(e *Engine) { e.notifier = n } }

// WithMetrics records signals, trades and rejections.
func WithMetrics(m ports.Metrics) Option { return func(e *Engine) { e.metrics = m } }

// WithTradeHook is called each time a position closes.
func WithTradeHook(f func(domain.Trade)) Option { return func(e *Engine) { e.onTrade = f } }

// WithMachineOptions is passed to every instance the engine creates.
func WithMachineOptions(opts ...strategy.Option) Option {
	return func(e *Engine) { e.opts = append(e.opts, opts...) }
}

// New creates a replay engine.
func New(cfg Config, opts ...Option) *Engine {
	if cfg.StepBars <= 0 {
		cfg.StepBars = defaultStepBars
	}
	e := &Engine{cfg: cfg, metrics: engine.NopMetrics{}}
	for _, o := range opts {
		o(e)
	}
	return e
}

type openPos struct {
	sig     domain.Signal
	balance float64 // balance al abrir
}

// Run replays job.Series. Trades are returned in the order they closed;
// positions still open when the series ends are appended as UNRESOLVED.
// Cancelling ctx stops the replay and returns ctx.Err().
func (e *Engine) Run(ctx context.Context, job backtest.Job) (domain.BacktestResult, error) {
	name := job.Strategy.Name
	series := job.Series
	if err := series.Validate(); err != nil {
		return domain.BacktestResult{}, fmt.Errorf("replay.Run %s/%s: %w", name, series.Symbol, err)
	}

	in, err := engine.NewInstance(job.Strategy, series.Symbol, e.opts...)
	if err != nil {
		return domain.BacktestResult{}, fmt.Errorf("replay.Run: %w", err)
	}
	if job.Bias != nil {
		in.SetBias(job.Bias)
	} else if err := in.SetHTF(job.HTF); err != nil {
		return domain.BacktestResult{}, fmt.Errorf("replay.Run: %w", err)
	}
	// Anotar de una vez: las anotaciones de la vela i sólo dependen de [0, i],
	// así que avanzar la máquina con StepTo equivale a recibir las velas de a una.
	if _, err := in.Append(series.Bars, time.Time{}); err != nil {
		return domain.BacktestResult{}, fmt.Errorf("replay.Run: %w", err)
	}

	slog.Info("replay started",
		"strategy", name,
		"symbol", series.Symbol,
		"bars", series.Len(),
		"step", e.cfg.StepBars,
	)

	var (
		balance = e.cfg.InitialBalance
		open    []openPos
		signals []domain.Signal
		trades  []domain.Trade
		perDay  = map[string]int{}
		bars    = series.Bars
	)

	for cursor := 0; cursor < len(bars); cursor += e.cfg.StepBars {
		if err := ctx.Err(); err != nil {
			return domain.BacktestResult{}, err
		}
		end := min(cursor+e.cfg.StepBars, len(bars))

		for j := cursor; j < end; j++ {
			// 1. posiciones abiertas contra la vela que acaba de llegar
			still := open[:0]
			for _, p := range open {
				outcome, price, ok := domain.CheckBar(p.sig, bars[j])
				if !ok {
					still = append(still, p)
					continue
				}
				pnl := domain.TradePnL(outcome, e.cfg.RiskPerTrade, p.balance, p.sig.RiskReward)
				balance += pnl
				tr := domain.Trade{
					Signal:       p.sig,
					Outcome:      outcome,
					ExitPrice:    price,
					ExitIndex:    j,
					ExitOffset:   j - p.sig.BarIndex,
					ExitTime:     bars[j].Time,
					PnL:          pnl,
					BalanceAfter: balance,
				}
				trades = append(trades, tr)
				e.metrics.RecordTrade(name, outcome)
				e.metrics.SetBalance("replay", balance)
				if e.onTrade != nil {
					e.onTrade(tr)
				}
			}
			open = still

			// 2. la máquina procesa la vela j
			for _, sig := range in.StepTo(j + 1) {
				signals = append(signals, sig)
				e.metrics.RecordSignal(sig)
				if e.notifier != nil {
					if err := e.notifier.NotifySignal(ctx, sig); err != nil {
						slog.Warn("replay: notify failed", "signal", sig.ID, "err", err)
					}
				}

				day := sig.Time.UTC().Format(time.DateOnly)
				if e.cfg.MaxTradesPerDay > 0 && perDay[day] >= e.cfg.MaxTradesPerDay {
					e.metrics.RecordRejection(name)
					slog.Debug("replay: daily limit reached", "signal", sig.ID, "day", day)
					continue
				}
				perDay[day]++
				open = append(open, openPos{sig: sig, balance: balance})
			}
		}

		if e.cfg.Delay > 0 && end < len(bars) {
			select {
			case <-ctx.Done():
				return domain.BacktestResult{}, ctx.Err()
			case <-time.After(e.cfg.Delay):
			}
		}
	}

	// Lo que sigue abierto al final queda UNRESOLVED.
	for _, p := range open {
		tr := domain.Resolve(p.sig, nil, e.cfg.RiskPerTrade, balance)
		if n := len(bars); n > 0 && p.sig.BarIndex < n-1 {
			tr.ExitPrice = bars[n-1].Close
			tr.ExitTime = bars[n-1].Time
		}
		trades = append(trades, tr)
	}

	res := domain.BacktestResult{
		RunID:     uuid.New().String(),
		Strategy:  name,
		Symbol:    series.Symbol,
		Timeframe: series.Timeframe,
		Bars:      series.Len(),
		Signals:   signals,
		Trades:    trades,
		Stats:     domain.ComputeStats(e.cfg.InitialBalance, trades),
	}
	if n := series.Len(); n > 0 {
		res.From = bars[0].Time
		res.To = bars[n-1].Time
	}

	slog.Info("replay finished",
		"strategy", name,
		"symbol", series.Symbol,
		"signals", len(signals),
		"trades", res.Stats.Trades,
		"unresolved", res.Stats.Unresolved,
		"balance", fmt.Sprintf("%.2f", res.Stats.FinalBalance),
	)
	return res, nil
}
