package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alejandrodnm/ictbot/config"
	"github.com/alejandrodnm/ictbot/internal/adapters/metrics"
	"github.com/alejandrodnm/ictbot/internal/adapters/notify"
	"github.com/alejandrodnm/ictbot/internal/adapters/report"
	"github.com/alejandrodnm/ictbot/internal/adapters/storage"
	"github.com/alejandrodnm/ictbot/internal/application/backtest"
	"github.com/alejandrodnm/ictbot/internal/domain"
	"github.com/alejandrodnm/ictbot/internal/domain/strategy"
	"github.com/alejandrodnm/ictbot/internal/ports"
)

func runBacktest(
	ctx context.Context,
	cfg *config.Config,
	src ports.BarSource,
	store *storage.SQLiteStorage,
	notifier *notify.Console,
	rec *metrics.Recorder,
	strategies []strategy.Config,
	symbols []string,
	opts options,
) error {
	slog.Info("=== BACKTEST MODE ===",
		"initial_balance", cfg.Backtest.InitialBalance,
		"risk_per_trade", cfg.Backtest.RiskPerTrade,
		"max_hold_bars", cfg.Backtest.MaxHoldBars,
	)

	jobs, err := loadJobs(ctx, cfg, src, strategies, symbols)
	if err != nil {
		return err
	}

	runner := backtest.NewRunner(backtest.Config{
		InitialBalance: cfg.Backtest.InitialBalance,
		RiskPerTrade:   cfg.Backtest.RiskPerTrade,
		MaxHoldBars:    cfg.Backtest.MaxHoldBars,
		Workers:        cfg.Backtest.Workers,
	},
		backtest.WithMetrics(rec),
		backtest.WithObservers(observers(rec)),
	)

	results, runErr := runner.RunAll(ctx, jobs)
	if len(results) == 0 && runErr != nil {
		return fmt.Errorf("backtest: %w", runErr)
	}
	if runErr != nil {
		slog.Warn("some backtest jobs failed", "err", runErr)
	}

	return finishRuns(ctx, store, notifier, results, "backtest", opts)
}

// finishRuns imprime, persiste y exporta los resultados de backtest o replay.
func finishRuns(ctx context.Context, store *storage.SQLiteStorage, notifier *notify.Console, results []domain.BacktestResult, mode string, opts options) error {
	notifier.PrintBacktest(results)

	var errs []error
	if !opts.noSave {
		for _, r := range results {
			if err := store.SaveRun(ctx, r, mode); err != nil {
				errs = append(errs, err)
				continue
			}
			slog.Debug("run saved", "run_id", r.RunID, "strategy", r.Strategy, "symbol", r.Symbol)
		}
	}

	if opts.xlsx != "" {
		if err := report.NewXLSX().Write(results, opts.xlsx); err != nil {
			errs = append(errs, err)
		} else {
			slog.Info("xlsx report written", "path", opts.xlsx)
		}
	}

	slog.Info(mode+" complete", "runs", len(results))
	return errors.Join(errs...)
}

func loadJobs(ctx context.Context, cfg *config.Config, src ports.BarSource, strategies []strategy.Config, symbols []string) ([]backtest.Job, error) {
	from, to, err := cfg.Data.Range()
	if err != nil {
		return nil, err
	}
	slog.Info("loading bars", "symbols", len(symbols), "from", from.Format("2006-01-02"), "to", to.Format("2006-01-02"))
	return backtest.LoadJobs(ctx, src, strategies, symbols, from, to)
}

func observers(rec *metrics.Recorder) func(string) []strategy.Option {
	return func(name string) []strategy.Option {
		return []strategy.Option{strategy.WithObserver(rec.Observer(name))}
	}
}
