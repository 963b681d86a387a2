package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"

	"github.com/alejandrodnm/ictbot/config"
	"github.com/alejandrodnm/ictbot/internal/adapters/marketdata"
	"github.com/alejandrodnm/ictbot/internal/adapters/metrics"
	"github.com/alejandrodnm/ictbot/internal/adapters/notify"
	"github.com/alejandrodnm/ictbot/internal/adapters/storage"
	"github.com/alejandrodnm/ictbot/internal/domain"
	"github.com/alejandrodnm/ictbot/internal/domain/strategy"
	"github.com/alejandrodnm/ictbot/internal/ports"
)

// options son los flags que no vienen del archivo de configuración.
type options struct {
	strategies []string
	symbols    []string
	xlsx       string
	runID      string
	days       int
	noSave     bool
}

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	mode := flag.String("mode", "backtest", "backtest | replay | paper | report")
	strategyFilter := flag.String("strategy", "", "comma-separated strategy names (default: all configured)")
	symbolFilter := flag.String("symbol", "", "comma-separated symbols (default: all configured)")
	xlsxPath := flag.String("xlsx", "", "write the backtest/replay report to this XLSX file")
	runID := flag.String("run", "", "report mode: print the trades of this run")
	days := flag.Int("days", 30, "report mode: runs started in the last N days")
	noSave := flag.Bool("no-save", false, "do not persist backtest/replay runs")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	table := flag.Bool("table", false, "print full tables (default: compact 1-line)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	setupLogger(cfg.Log)

	opts := options{
		strategies: splitFlag(*strategyFilter),
		symbols:    splitFlag(*symbolFilter),
		xlsx:       *xlsxPath,
		runID:      *runID,
		days:       *days,
		noSave:     *noSave,
	}

	strategies, err := selectStrategies(cfg, opts.strategies)
	if err != nil {
		slog.Error("invalid strategy selection", "err", err)
		os.Exit(1)
	}
	symbols := selectSymbols(cfg.Data.Symbols, opts.symbols)

	slog.Info("ictbot starting",
		"config", *configPath,
		"mode", *mode,
		"source", cfg.Data.Source,
		"strategies", len(strategies),
		"symbols", strings.Join(symbols, ","),
	)

	store, err := storage.NewSQLiteStorage(cfg.Storage.DSN)
	if err != nil {
		slog.Error("failed to open storage", "err", err, "dsn", cfg.Storage.DSN)
		os.Exit(1)
	}
	defer store.Close()

	notifier := notify.NewConsole(*table, *verbose)
	recorder := metrics.New()
	src := newBarSource(cfg)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	switch *mode {
	case "backtest":
		err = runBacktest(ctx, cfg, src, store, notifier, recorder, strategies, symbols, opts)
	case "replay":
		err = runReplay(ctx, cfg, src, store, notifier, recorder, strategies, symbols, opts)
	case "paper":
		err = runPaper(ctx, cfg, src, store, notifier, recorder, strategies, symbols)
	case "report":
		err = runReport(ctx, cfg, store, notifier, opts)
	default:
		slog.Error("unknown mode", "mode", *mode)
		os.Exit(2)
	}
	if err != nil {
		slog.Error("ictbot exited with error", "mode", *mode, "err", err)
		os.Exit(1)
	}

	slog.Info("ictbot stopped cleanly")
}

func newBarSource(cfg *config.Config) ports.BarSource {
	if cfg.Data.Source == "yahoo" {
		return marketdata.NewYahooSource(cfg.Data.YahooBase)
	}
	native, _ := domain.ParseTimeframe(cfg.Data.NativeTimeframe) // validado en config.Load
	return marketdata.NewCSVSource(cfg.Data.Files, native)
}

func selectStrategies(cfg *config.Config, names []string) ([]strategy.Config, error) {
	all, err := cfg.StrategyConfigs()
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return all, nil
	}
	var out []strategy.Config
	for _, c := range all {
		if slices.Contains(names, c.Name) {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		known := make([]string, len(all))
		for i, c := range all {
			known[i] = c.Name
		}
		return nil, fmt.Errorf("no configured strategy matches %s (configured: %s)",
			strings.Join(names, ","), strings.Join(known, ","))
	}
	return out, nil
}

func selectSymbols(all, filter []string) []string {
	if len(filter) == 0 {
		return all
	}
	return filter
}

func splitFlag(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
