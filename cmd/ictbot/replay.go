package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alejandrodnm/ictbot/config"
	"github.com/alejandrodnm/ictbot/internal/adapters/metrics"
	"github.com/alejandrodnm/ictbot/internal/adapters/notify"
	"github.com/alejandrodnm/ictbot/internal/adapters/storage"
	"github.com/alejandrodnm/ictbot/internal/application/engine/replay"
	"github.com/alejandrodnm/ictbot/internal/domain"
	"github.com/alejandrodnm/ictbot/internal/domain/strategy"
	"github.com/alejandrodnm/ictbot/internal/ports"
)

func runReplay(
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
	slog.Info("=== REPLAY MODE ===",
		"step_bars", cfg.Replay.StepBars,
		"max_trades_per_day", cfg.Replay.MaxTradesPerDay,
		"delay", cfg.ReplayDelay(),
	)

	jobs, err := loadJobs(ctx, cfg, src, strategies, symbols)
	if err != nil {
		return err
	}

	var results []domain.BacktestResult
	for _, job := range jobs {
		// una instancia a la vez: la salida en consola sigue el orden de las velas
		e := replay.New(replay.Config{
			InitialBalance:  cfg.Backtest.InitialBalance,
			RiskPerTrade:    cfg.Backtest.RiskPerTrade,
			StepBars:        cfg.Replay.StepBars,
			MaxTradesPerDay: cfg.Replay.MaxTradesPerDay,
			Delay:           cfg.ReplayDelay(),
		},
			replay.WithNotifier(notifier),
			replay.WithMetrics(rec),
			replay.WithTradeHook(notifier.PrintTradeClosed),
			replay.WithMachineOptions(strategy.WithObserver(rec.Observer(job.Strategy.Name))),
		)

		res, err := e.Run(ctx, job)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("replay %s/%s: %w", job.Strategy.Name, job.Series.Symbol, err)
		}
		results = append(results, res)
	}

	return finishRuns(ctx, store, notifier, results, "replay", opts)
}
