package backtest_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/ictbot/internal/application/backtest"
	"github.com/alejandrodnm/ictbot/internal/application/engine/enginetest"
	"github.com/alejandrodnm/ictbot/internal/domain"
	"github.com/alejandrodnm/ictbot/internal/domain/strategy"
)

func defaultRunner(opts ...backtest.Option) *backtest.Runner {
	return backtest.NewRunner(backtest.Config{InitialBalance: 100, RiskPerTrade: 0.1, Workers: 2}, opts...)
}

func setupJob(name, symbol string) backtest.Job {
	return backtest.Job{
		Strategy: enginetest.SetupConfig(name),
		Series:   enginetest.SetupSeries(symbol),
		Bias:     strategy.FixedBias(domain.BiasBullish),
	}
}

func looseJob(t *testing.T, seed int64) backtest.Job {
	t.Helper()
	cfg := enginetest.LooseConfig("loose")
	s := enginetest.RandomSeries("RND", 800, seed)
	htf, err := s.Resample(cfg.BiasTimeframe)
	require.NoError(t, err)
	return backtest.Job{Strategy: cfg, Series: s, HTF: htf}
}

func TestRun_SetupWins(t *testing.T) {
	res, err := defaultRunner().Run(context.Background(), setupJob("setup", "NQ"))
	require.NoError(t, err)

	require.Len(t, res.Signals, 1)
	require.Len(t, res.Trades, 1)
	tr := res.Trades[0]
	assert.Equal(t, domain.OutcomeWin, tr.Outcome)
	assert.Equal(t, enginetest.SetupTargetIndex, tr.ExitIndex)
	assert.InDelta(t, 1196.0, tr.ExitPrice, 1e-9)
	assert.InDelta(t, 30.0, tr.PnL, 1e-9)

	assert.Equal(t, 1, res.Stats.Wins)
	assert.InDelta(t, 130.0, res.Stats.FinalBalance, 1e-9)
	assert.InDelta(t, 30.0, res.Stats.ReturnPct, 1e-9)
	assert.Equal(t, enginetest.Start, res.From)
	assert.NotEmpty(t, res.RunID)
}

func TestRun_MaxHoldBarsLeavesUnresolved(t *testing.T) {
	r := backtest.NewRunner(backtest.Config{InitialBalance: 100, RiskPerTrade: 0.1, MaxHoldBars: 3})
	res, err := r.Run(context.Background(), setupJob("setup", "NQ"))
	require.NoError(t, err)

	require.Len(t, res.Trades, 1)
	assert.Equal(t, domain.OutcomeUnresolved, res.Trades[0].Outcome)
	assert.Equal(t, 0, res.Stats.Trades)
	assert.Equal(t, 1, res.Stats.Unresolved)
	assert.InDelta(t, 100.0, res.Stats.FinalBalance, 1e-9)
}

func TestRun_MalformedSeries(t *testing.T) {
	job := setupJob("setup", "NQ")
	job.Series.Bars[3].Time = job.Series.Bars[2].Time

	_, err := defaultRunner().Run(context.Background(), job)
	assert.ErrorIs(t, err, domain.ErrMalformedSeries)
}

func TestRun_Deterministic(t *testing.T) {
	job := looseJob(t, 7)
	a, err := defaultRunner().Run(context.Background(), job)
	require.NoError(t, err)
	b, err := defaultRunner().Run(context.Background(), job)
	require.NoError(t, err)

	assert.Equal(t, a.Signals, b.Signals)
	assert.Equal(t, a.Trades, b.Trades)
	assert.Equal(t, a.Stats, b.Stats)
}

func TestRun_Conservation(t *testing.T) {
	job := looseJob(t, 11)
	res, err := defaultRunner().Run(context.Background(), job)
	require.NoError(t, err)
	require.NotEmpty(t, res.Signals, "loose config should fire on a random walk")

	var outcomes []domain.Outcome
	for _, tr := range res.Trades {
		outcomes = append(outcomes, tr.Outcome)
		assert.Greater(t, tr.Signal.BarIndex, -1)
		if tr.Resolved() {
			assert.Greater(t, tr.ExitIndex, tr.Signal.BarIndex)
		}
	}
	rr := job.Strategy.RiskReward
	want := domain.CompoundBalance(100, 0.1, rr, outcomes)
	assert.InDelta(t, want, res.Stats.FinalBalance, 1e-6)
}

func TestRunAll_SortedAndJoinedErrors(t *testing.T) {
	bad := setupJob("broken", "ES")
	bad.Series.Bars[1].High = bad.Series.Bars[1].Low - 1

	jobs := []backtest.Job{
		setupJob("setup", "YM"),
		bad,
		setupJob("setup", "NQ"),
		setupJob("alpha", "NQ"),
	}
	results, err := defaultRunner().RunAll(context.Background(), jobs)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrMalformedSeries)
	assert.Contains(t, err.Error(), "broken/ES")

	require.Len(t, results, 3)
	got := make([]string, len(results))
	for i, r := range results {
		got[i] = r.Strategy + "/" + r.Symbol
	}
	assert.Equal(t, []string{"alpha/NQ", "setup/NQ", "setup/YM"}, got)
}

func TestRun_ObserversSeeTransitions(t *testing.T) {
	var trace []strategy.Transition
	obs := func(name string) []strategy.Option {
		return []strategy.Option{strategy.WithObserver(func(tr strategy.Transition) {
			trace = append(trace, tr)
		})}
	}
	_, err := defaultRunner(backtest.WithObservers(obs)).Run(context.Background(), setupJob("setup", "NQ"))
	require.NoError(t, err)

	require.NotEmpty(t, trace)
	last := trace[len(trace)-1]
	assert.Equal(t, strategy.ReasonEmitted, last.Reason)
}

type fakeSource struct {
	calls int
}

func (f *fakeSource) FetchBars(_ context.Context, req domain.BarRequest) (domain.Series, error) {
	f.calls++
	s := enginetest.SetupSeries(req.Symbol)
	if req.Timeframe == domain.TF15m {
		return s, nil
	}
	return s.Resample(req.Timeframe)
}

func TestLoadJobs_FetchesOncePerTimeframe(t *testing.T) {
	src := &fakeSource{}
	cfgs := []strategy.Config{enginetest.SetupConfig("a"), enginetest.SetupConfig("b")}

	jobs, err := backtest.LoadJobs(context.Background(), src, cfgs, []string{"NQ", "ES"}, enginetest.Start, enginetest.BarTime(30))
	require.NoError(t, err)
	require.Len(t, jobs, 4)
	// 2 símbolos × (15m + 4h)
	assert.Equal(t, 4, src.calls)
	assert.Equal(t, domain.TF4h, jobs[0].HTF.Timeframe)
	assert.Equal(t, "NQ", jobs[0].Series.Symbol)
}
