package backtest

import (
	"context"
	"fmt"
	"time"

	"github.com/alejandrodnm/ictbot/internal/domain"
	"github.com/alejandrodnm/ictbot/internal/domain/strategy"
	"github.com/alejandrodnm/ictbot/internal/ports"
)

// LoadJobs fetches the entry and bias series for every (strategy, symbol)
// pair. Series are fetched once per (symbol, timeframe) and shared between
// strategies.
func LoadJobs(ctx context.Context, src ports.BarSource, strategies []strategy.Config, symbols []string, from, to time.Time) ([]Job, error) {
	type key struct {
		symbol string
		tf     domain.Timeframe
	}
	cache := map[key]domain.Series{}
	fetch := func(symbol string, tf domain.Timeframe) (domain.Series, error) {
		k := key{symbol, tf}
		if s, ok := cache[k]; ok {
			return s, nil
		}
		s, err := src.FetchBars(ctx, domain.BarRequest{Symbol: symbol, Timeframe: tf, From: from, To: to})
		if err != nil {
			return domain.Series{}, err
		}
		cache[k] = s
		return s, nil
	}

	jobs := make([]Job, 0, len(strategies)*len(symbols))
	for _, cfg := range strategies {
		for _, sym := range symbols {
			series, err := fetch(sym, cfg.Timeframe)
			if err != nil {
				return nil, fmt.Errorf("backtest.LoadJobs %s %s: %w", sym, cfg.Timeframe, err)
			}
			htf, err := fetch(sym, cfg.BiasTimeframe)
			if err != nil {
				return nil, fmt.Errorf("backtest.LoadJobs %s %s: %w", sym, cfg.BiasTimeframe, err)
			}
			jobs = append(jobs, Job{Strategy: cfg, Series: series, HTF: htf})
		}
	}
	return jobs, nil
}
