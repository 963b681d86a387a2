package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/alejandrodnm/ictbot/config"
	"github.com/alejandrodnm/ictbot/internal/adapters/metrics"
	"github.com/alejandrodnm/ictbot/internal/adapters/notify"
	"github.com/alejandrodnm/ictbot/internal/adapters/storage"
	"github.com/alejandrodnm/ictbot/internal/application/engine/paper"
	"github.com/alejandrodnm/ictbot/internal/domain/strategy"
	"github.com/alejandrodnm/ictbot/internal/ports"
)

func runPaper(
	ctx context.Context,
	cfg *config.Config,
	src ports.BarSource,
	store *storage.SQLiteStorage,
	notifier *notify.Console,
	rec *metrics.Recorder,
	strategies []strategy.Config,
	symbols []string,
) error {
	slog.Info("=== PAPER TRADING MODE ===",
		"initial_balance", cfg.Backtest.InitialBalance,
		"risk_per_trade", cfg.Backtest.RiskPerTrade,
		"max_trades_per_day", cfg.Paper.MaxTradesPerDay,
		"interval", cfg.PaperInterval(),
	)

	var tracks []paper.Track
	for _, s := range strategies {
		for _, sym := range symbols {
			tracks = append(tracks, paper.Track{Strategy: s, Symbol: sym})
		}
	}

	pe, err := paper.New(src, store, tracks, paper.Config{
		InitialBalance:  cfg.Backtest.InitialBalance,
		RiskPerTrade:    cfg.Backtest.RiskPerTrade,
		MaxTradesPerDay: cfg.Paper.MaxTradesPerDay,
		History:         time.Duration(cfg.Paper.HistoryHours) * time.Hour,
		HTFHistory:      time.Duration(cfg.Paper.HTFHistoryHours) * time.Hour,
	},
		paper.WithNotifier(notifier),
		paper.WithMetrics(rec),
		paper.WithObservers(observers(rec)),
	)
	if err != nil {
		return err
	}
	if err := pe.Init(ctx); err != nil {
		return fmt.Errorf("failed to init paper trading: %w", err)
	}

	if cfg.Metrics.Enabled {
		srv := serveMetrics(cfg.Metrics.Addr, rec)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	ticker := time.NewTicker(cfg.PaperInterval())
	defer ticker.Stop()

	slog.Info("paper trading started, press Ctrl+C or create the STOP file to exit", "stop_file", cfg.Paper.StopFile)
	fmt.Printf("[PAPER] Starting loop (%s interval, balance $%.2f)...\n", cfg.PaperInterval(), pe.Balance())

	runPaperCycle(ctx, pe, notifier)

	for {
		select {
		case <-ctx.Done():
			slog.Info("paper trading stopped (signal)")
			printPaperExitSummary(store, notifier, cfg.Backtest.InitialBalance)
			return nil
		case <-ticker.C:
			if _, err := os.Stat(cfg.Paper.StopFile); err == nil {
				slog.Info("STOP file detected, shutting down paper trading")
				os.Remove(cfg.Paper.StopFile)
				printPaperExitSummary(store, notifier, cfg.Backtest.InitialBalance)
				return nil
			}
			runPaperCycle(ctx, pe, notifier)
		}
	}
}

func runPaperCycle(ctx context.Context, pe *paper.Engine, notifier *notify.Console) {
	cycle, err := pe.RunOnce(ctx)
	if err != nil {
		slog.Error("paper cycle failed", "err", err)
		return
	}
	notifier.PrintPaperStatus(cycle)
}

func serveMetrics(addr string, rec *metrics.Recorder) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", rec.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", "addr", addr, "err", err)
		}
	}()
	slog.Info("metrics server listening", "addr", addr)
	return srv
}

func runPaperReport(ctx context.Context, store *storage.SQLiteStorage, notifier *notify.Console, initialBalance float64) error {
	if err := store.ApplyPaperSchema(ctx); err != nil {
		return fmt.Errorf("failed to init paper schema: %w", err)
	}
	stats, err := store.GetPaperStats(ctx, initialBalance)
	if err != nil {
		return fmt.Errorf("failed to get paper stats: %w", err)
	}
	closed, err := store.GetClosedPositions(ctx)
	if err != nil {
		return fmt.Errorf("failed to get closed positions: %w", err)
	}
	notifier.PrintPaperReport(stats, closed)
	return nil
}

// printPaperExitSummary usa un contexto propio: el del loop ya está cancelado.
func printPaperExitSummary(store *storage.SQLiteStorage, notifier *notify.Console, initialBalance float64) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := runPaperReport(ctx, store, notifier, initialBalance); err != nil {
		slog.Warn("could not generate exit summary", "err", err)
	}
}
