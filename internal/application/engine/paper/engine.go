package paper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrodnm/ictbot/internal/application/engine"
	"github.com/alejandrodnm/ictbot/internal/domain"
	"github.com/alejandrodnm/ictbot/internal/domain/strategy"
	"github.com/alejandrodnm/ictbot/internal/ports"
)

const (
	defaultBalance    = 100
	defaultRisk       = 0.10
	defaultHistory    = 5 * 24 * time.Hour
	defaultHTFHistory = 30 * 24 * time.Hour
)

// Config holds paper trading-specific settings.
type Config struct {
	InitialBalance  float64
	RiskPerTrade    float64
	MaxTradesPerDay int           // por (estrategia, símbolo); 0 = sin límite
	History         time.Duration // ventana de velas de entrada pedida en cada ciclo
	HTFHistory      time.Duration // ventana de velas del bias
}

// Track is one (strategy, symbol) pair followed by the engine. With Bias set
// the bias timeframe is never fetched.
type Track struct {
	Strategy strategy.Config
	Symbol   string
	Bias     strategy.BiasFunc
}

type tracked struct {
	inst  *engine.Instance
	fixed bool
}

// Engine runs the paper trading polling loop: each cycle fetches closed bars,
// resolves open positions, steps every instance and executes fresh signals.
type Engine struct {
	src      ports.BarSource
	store    ports.PaperStorage
	notifier ports.Notifier
	metrics  ports.Metrics
	cfg      Config
	tracks   []tracked
	now      func() time.Time
	observe  func(name string) []strategy.Option

	cycleMu   sync.Mutex // serializa RunOnce
	mu        sync.Mutex
	startedAt time.Time
	balance   float64
	last      domain.PaperCycle
}

// Option configures an Engine.
type Option func(*Engine)

// WithNotifier presents fresh signals.
func WithNotifier(n ports.Notifier) Option { return func(e *Engine) { e.notifier = n } }

// WithMetrics records signals, trades, rejections and the balance.
func WithMetrics(m ports.Metrics) Option { return func(e *Engine) { e.metrics = m } }

// WithObservers attaches machine options per strategy.
func WithObservers(f func(name string) []strategy.Option) Option {
	return func(e *Engine) { e.observe = f }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// New creates a paper trading engine.
func New(src ports.BarSource, store ports.PaperStorage, tracks []Track, cfg Config, opts ...Option) (*Engine, error) {
	if cfg.InitialBalance <= 0 {
		cfg.InitialBalance = defaultBalance
	}
	if cfg.RiskPerTrade <= 0 {
		cfg.RiskPerTrade = defaultRisk
	}
	if cfg.History <= 0 {
		cfg.History = defaultHistory
	}
	if cfg.HTFHistory <= 0 {
		cfg.HTFHistory = defaultHTFHistory
	}

	e := &Engine{
		src:     src,
		store:   store,
		metrics: engine.NopMetrics{},
		cfg:     cfg,
		now:     time.Now,
		balance: cfg.InitialBalance,
	}
	for _, o := range opts {
		o(e)
	}

	for _, t := range tracks {
		var mopts []strategy.Option
		if e.observe != nil {
			mopts = e.observe(t.Strategy.Name)
		}
		in, err := engine.NewInstance(t.Strategy, t.Symbol, mopts...)
		if err != nil {
			return nil, fmt.Errorf("paper.New: %w", err)
		}
		if t.Bias != nil {
			in.SetBias(t.Bias)
		}
		e.tracks = append(e.tracks, tracked{inst: in, fixed: t.Bias != nil})
	}
	return e, nil
}

// Init aplica el schema y recupera el balance de las posiciones ya cerradas.
// Las señales cuya vela cerró antes del arranque se consideran warm-up.
func (e *Engine) Init(ctx context.Context) error {
	if err := e.store.ApplyPaperSchema(ctx); err != nil {
		return fmt.Errorf("paper.Init: %w", err)
	}
	stats, err := e.store.GetPaperStats(ctx, e.cfg.InitialBalance)
	if err != nil {
		return fmt.Errorf("paper.Init: stats: %w", err)
	}

	e.mu.Lock()
	e.balance = stats.Balance
	e.startedAt = e.now()
	e.mu.Unlock()

	e.metrics.SetBalance("paper", stats.Balance)
	e.metrics.SetOpenPositions(stats.OpenPositions)
	slog.Info("paper: initialized",
		"instances", len(e.tracks),
		"balance", fmt.Sprintf("%.2f", stats.Balance),
		"open", stats.OpenPositions,
		"closed", stats.Wins+stats.Losses,
	)
	return nil
}

// Balance devuelve el balance virtual actual.
func (e *Engine) Balance() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.balance
}

// Snapshot devuelve una copia del último ciclo.
func (e *Engine) Snapshot() domain.PaperCycle {
	e.mu.Lock()
	defer e.mu.Unlock()
	c := e.last
	c.NewSignals = append([]domain.Signal(nil), c.NewSignals...)
	c.Opened = append([]domain.Position(nil), c.Opened...)
	c.Closed = append([]domain.Position(nil), c.Closed...)
	c.Rejected = append([]string(nil), c.Rejected...)
	c.Open = append([]domain.Position(nil), c.Open...)
	c.Warnings = append([]string(nil), c.Warnings...)
	return c
}

// RunOnce executes a single polling cycle. Fetch and storage failures of one
// instance become warnings; the other instances still run.
func (e *Engine) RunOnce(ctx context.Context) (domain.PaperCycle, error) {
	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()

	start := time.Now()
	now := e.now()
	cycle := domain.PaperCycle{At: now}

	for _, t := range e.tracks {
		if err := ctx.Err(); err != nil {
			return cycle, err
		}
		e.runInstance(ctx, t, now, &cycle)
	}

	open, err := e.store.GetOpenPositions(ctx)
	if err != nil {
		return cycle, fmt.Errorf("paper.RunOnce: open positions: %w", err)
	}
	cycle.Open = open
	cycle.Balance = e.Balance()

	e.metrics.SetOpenPositions(len(open))
	e.metrics.SetBalance("paper", cycle.Balance)
	e.metrics.RecordLatency("paper_cycle", time.Since(start).Seconds())

	e.mu.Lock()
	e.last = cycle
	e.mu.Unlock()

	slog.Debug("paper: cycle complete",
		"signals", len(cycle.NewSignals),
		"opened", len(cycle.Opened),
		"closed", len(cycle.Closed),
		"rejected", len(cycle.Rejected),
		"open", len(open),
		"warnings", len(cycle.Warnings),
	)
	return cycle, nil
}

func (e *Engine) runInstance(ctx context.Context, t tracked, now time.Time, cycle *domain.PaperCycle) {
	in := t.inst
	cfg := in.Config()
	warn := func(format string, args ...any) {
		detail := fmt.Sprintf(format, args...)
		slog.Warn("paper: instance skipped", "strategy", cfg.Name, "symbol", in.Symbol(), "err", detail)
		cycle.Warnings = append(cycle.Warnings, fmt.Sprintf("%s %s: %s", cfg.Name, in.Symbol(), detail))
	}

	bars, err := e.src.FetchBars(ctx, domain.BarRequest{
		Symbol:    in.Symbol(),
		Timeframe: cfg.Timeframe,
		From:      now.Add(-e.cfg.History),
		To:        now,
	})
	if err != nil {
		e.metrics.RecordFetchError(in.Symbol())
		warn("fetch %s: %v", cfg.Timeframe, err)
		return
	}
	if !t.fixed {
		htf, err := e.src.FetchBars(ctx, domain.BarRequest{
			Symbol:    in.Symbol(),
			Timeframe: cfg.BiasTimeframe,
			From:      now.Add(-e.cfg.HTFHistory),
			To:        now,
		})
		if err != nil {
			e.metrics.RecordFetchError(in.Symbol())
			warn("fetch %s: %v", cfg.BiasTimeframe, err)
			return
		}
		if err := in.SetHTF(htf); err != nil {
			warn("%v", err)
			return
		}
	}
	if _, err := in.Append(bars.Bars, now); err != nil {
		warn("%v", err)
		return
	}

	// 1. cerrar posiciones con las velas nuevas, 2. señales, 3. revisar las recién abiertas
	if err := e.checkPositions(ctx, in, cycle); err != nil {
		warn("%v", err)
	}

	tf := cfg.Timeframe.Duration()
	e.mu.Lock()
	freshAfter := e.startedAt.Add(-tf)
	e.mu.Unlock()

	opened := false
	for _, sig := range in.Step() {
		if sig.Time.Add(tf).Before(freshAfter) {
			continue // warm-up: la vela cerró antes del arranque
		}
		cycle.NewSignals = append(cycle.NewSignals, sig)
		e.metrics.RecordSignal(sig)
		if e.notifier != nil {
			if err := e.notifier.NotifySignal(ctx, sig); err != nil {
				slog.Warn("paper: notify failed", "signal", sig.ID, "err", err)
			}
		}

		pos, err := e.Execute(ctx, sig)
		if err != nil {
			cycle.Rejected = append(cycle.Rejected, fmt.Sprintf("%s: %v", sig.ID, err))
			continue
		}
		cycle.Opened = append(cycle.Opened, pos)
		opened = true
	}

	if opened {
		if err := e.checkPositions(ctx, in, cycle); err != nil {
			warn("%v", err)
		}
	}
}
