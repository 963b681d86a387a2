package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/ictbot/internal/domain"
	"github.com/alejandrodnm/ictbot/internal/domain/feature"
	"github.com/alejandrodnm/ictbot/internal/domain/strategy"
)

const minimal = `
data:
  source: yahoo
  symbols: [NQ]
strategies:
  - preset: liquidity_sweep
`

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(minimal))
	require.NoError(t, err)

	assert.Equal(t, 100.0, cfg.Backtest.InitialBalance)
	assert.Equal(t, 0.1, cfg.Backtest.RiskPerTrade)
	assert.Equal(t, 1, cfg.Replay.StepBars)
	assert.Equal(t, 3, cfg.Paper.MaxTradesPerDay)
	assert.Equal(t, time.Minute, cfg.PaperInterval())
	assert.Equal(t, "ictbot.db", cfg.Storage.DSN)
	assert.Equal(t, ":9090", cfg.Metrics.Addr)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, "15m", cfg.Data.NativeTimeframe)
}

func TestParse_ExplicitZeroKept(t *testing.T) {
	cfg, err := Parse([]byte(minimal + `
replay:
  max_trades_per_day: 0
`))
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.Replay.MaxTradesPerDay)
}

func TestLoad_ShippedConfig(t *testing.T) {
	cfg, err := Load("config.yaml")
	require.NoError(t, err)

	strategies, err := cfg.StrategyConfigs()
	require.NoError(t, err)
	require.Len(t, strategies, 5)
	assert.Equal(t, "liquidity_sweep", strategies[0].Name)

	ny := strategies[4]
	assert.Equal(t, "liquidity_sweep_ny", ny.Name)
	assert.Equal(t, []int{13, 14, 15, 16}, ny.KillZoneHours)
	assert.Equal(t, 10.0, ny.SweepMinSize)
	assert.Equal(t, 6*time.Hour, ny.RetraceWindow)
	assert.Equal(t, 2.0, ny.RiskReward)
	// lo no sobreescrito viene del preset
	assert.Equal(t, domain.TF15m, ny.Timeframe)
	assert.Equal(t, strategy.ZoneModeFVG, ny.ZoneSource)

	from, to, err := cfg.Data.Range()
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), from)
	assert.True(t, to.After(from))
}

func TestBuild_Overrides(t *testing.T) {
	zero := 0.0
	kz := []int{}
	s := StrategyConfig{
		Preset:         "pdh_pdl",
		Name:           "custom",
		Timeframe:      "5m",
		BiasTimeframe:  "4h",
		BiasSource:     "ema",
		BiasLookback:   21,
		ZoneSource:     "order_block",
		KillZoneHours:  &kz,
		StopBuffer:     &zero,
		SwingLookback:  3,
		SweepReference: "swing",
	}
	c, err := s.Build()
	require.NoError(t, err)

	assert.Equal(t, "custom", c.Name)
	assert.Equal(t, domain.TF5m, c.Timeframe)
	assert.Equal(t, domain.TF4h, c.BiasTimeframe)
	assert.Equal(t, strategy.BiasEMA, c.BiasSource)
	assert.Equal(t, 21, c.BiasLookback)
	assert.Equal(t, strategy.ZoneModeOrderBlock, c.ZoneSource)
	assert.Empty(t, c.KillZoneHours)
	assert.Equal(t, 3, c.Features.SwingLookback)
	assert.Equal(t, feature.ReferenceSwing, c.Features.SweepReference)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"no symbols", "data: {source: yahoo}\nstrategies: [{preset: liquidity_sweep}]", "Symbols"},
		{"no strategies", "data: {source: yahoo, symbols: [NQ]}", "Strategies"},
		{"bad source", "data: {source: ftp, symbols: [NQ]}\nstrategies: [{preset: liquidity_sweep}]", "oneof"},
		{"csv without file", "data: {source: csv, symbols: [NQ]}\nstrategies: [{preset: liquidity_sweep}]", "no CSV"},
		{"unknown preset", "data: {source: yahoo, symbols: [NQ]}\nstrategies: [{preset: turtle}]", "unknown preset"},
		{"duplicate name", "data: {source: yahoo, symbols: [NQ]}\nstrategies: [{preset: pdh_pdl}, {preset: pdh_pdl}]", "duplicate"},
		{"bias below entry", "data: {source: yahoo, symbols: [NQ]}\nstrategies: [{preset: liquidity_sweep, bias_timeframe: 5m}]", "below entry"},
		{"bad risk", "data: {source: yahoo, symbols: [NQ]}\nbacktest: {risk_per_trade: 2}\nstrategies: [{preset: pdh_pdl}]", "RiskPerTrade"},
		{"bad dates", "data: {source: yahoo, symbols: [NQ], from: \"2024-05-01\", to: \"2024-01-01\"}\nstrategies: [{preset: pdh_pdl}]", "after"},
		{"bad log level", "data: {source: yahoo, symbols: [NQ]}\nlog: {level: trace}\nstrategies: [{preset: pdh_pdl}]", "Level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParse_EnvOverrides(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("ICTBOT_DB", filepath.Join(t.TempDir(), "x.db"))
	t.Setenv("ICTBOT_SYMBOLS", "ES, YM ,")
	t.Setenv("METRICS_ADDR", ":9100")

	cfg, err := Parse([]byte(minimal))
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, []string{"ES", "YM"}, cfg.Data.Symbols)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, ":9100", cfg.Metrics.Addr)
	assert.Contains(t, cfg.Storage.DSN, "x.db")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
