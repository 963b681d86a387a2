package main

import (
	"context"
	"fmt"
	"time"

	"github.com/alejandrodnm/ictbot/config"
	"github.com/alejandrodnm/ictbot/internal/adapters/notify"
	"github.com/alejandrodnm/ictbot/internal/adapters/storage"
)

// runReport imprime las corridas guardadas y el estado de paper trading.
// Con -run imprime los trades de esa corrida.
func runReport(ctx context.Context, cfg *config.Config, store *storage.SQLiteStorage, notifier *notify.Console, opts options) error {
	if opts.runID != "" {
		trades, err := store.GetTrades(ctx, opts.runID)
		if err != nil {
			return err
		}
		if len(trades) == 0 {
			return fmt.Errorf("report: no trades for run %q", opts.runID)
		}
		notifier.PrintTrades(trades)
		return nil
	}

	to := time.Now()
	from := to.AddDate(0, 0, -opts.days)
	runs, err := store.GetRuns(ctx, from, to)
	if err != nil {
		return err
	}
	notifier.PrintRuns(runs)

	return runPaperReport(ctx, store, notifier, cfg.Backtest.InitialBalance)
}
