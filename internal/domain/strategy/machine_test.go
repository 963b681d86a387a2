package strategy

import (
	"math/rand"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/ictbot/internal/domain"
	"github.com/alejandrodnm/ictbot/internal/domain/feature"
)

var sessionStart = time.Date(2024, 3, 4, 7, 0, 0, 0, time.UTC)

func barTime(i int) time.Time { return sessionStart.Add(time.Duration(i) * 15 * time.Minute) }

func series(rows [][4]float64) domain.Series {
	s := domain.Series{Symbol: "NQ", Timeframe: domain.TF15m}
	for i, r := range rows {
		s.Bars = append(s.Bars, domain.Bar{Time: barTime(i), Open: r[0], High: r[1], Low: r[2], Close: r[3]})
	}
	return s
}

// setupRows: swing low 1000 (pivot 5), swing high 1024 (pivot 7), sweep of
// 1000 by 40 at bar 10, displacement 2.0x at bar 12 closing above 1024, FVG
// [1015, 1020] completed at bar 13, retrace at 16, bullish confirmation at 17.
func setupRows() [][4]float64 {
	return [][4]float64{
		{1020, 1024, 1016, 1018}, // 0
		{1018, 1026, 1014, 1022},
		{1022, 1027, 1015, 1017},
		{1017, 1030, 1012, 1027},
		{1027, 1028, 1006, 1008},
		{1008, 1012, 1000, 1010}, // 5 swing low
		{1010, 1022, 1008, 1020},
		{1020, 1024, 1009, 1010}, // 7 swing high
		{1010, 1023, 1008, 1020},
		{1020, 1022, 1009, 1010},
		{1012, 1015, 960, 1002}, // 10 sweep
		{1003, 1015, 1001, 1013},
		{1013, 1036, 1012, 1033}, // 12 displacement
		{1033, 1040, 1020, 1036}, // 13 FVG
		{1036, 1038, 1026, 1028},
		{1028, 1030, 1022, 1024},
		{1024, 1025, 1016, 1018}, // 16 retrace
		{1016, 1021, 1014, 1019}, // 17 confirmation
		{1019, 1030, 1017, 1028},
		{1028, 1032, 1024, 1030},
	}
}

func testConfig() Config {
	p := feature.DefaultParams()
	p.SwingLookback = 2
	p.SweepLookback = 2
	p.DisplacementPeriod = 5
	p.OBLookback = 5
	return Config{
		Name:                 "test",
		Timeframe:            domain.TF15m,
		BiasTimeframe:        domain.TF4h,
		BiasSource:           BiasStructure,
		BiasLookback:         2,
		Features:             p,
		SweepMinSize:         35,
		DisplacementMinRatio: 1.8,
		DisplacementWindow:   24 * time.Hour,
		ZoneWindow:           24 * time.Hour,
		RetraceWindow:        24 * time.Hour,
		ZoneSource:           ZoneModeFVG,
		RiskReward:           3,
	}
}

type recorder struct {
	mu    sync.Mutex
	trace []Transition
}

func (r *recorder) observe(t Transition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trace = append(r.trace, t)
}

func (r *recorder) reasons() []string {
	var out []string
	for _, t := range r.trace {
		if t.IsReset() {
			out = append(out, t.Reason)
		}
	}
	return out
}

func run(t *testing.T, cfg Config, rows [][4]float64, bias BiasFunc) ([]domain.Signal, *recorder, *Machine) {
	t.Helper()
	rec := &recorder{}
	m, err := NewMachine(cfg, "NQ", bias, WithObserver(rec.observe))
	require.NoError(t, err)
	f := feature.NewFrame(series(rows), cfg.Features)
	return m.Run(f), rec, m
}

func TestMachine_FullSetupEmitsOneSignal(t *testing.T) {
	signals, rec, _ := run(t, testConfig(), setupRows(), FixedBias(domain.BiasBullish))

	require.Len(t, signals, 1)
	sig := signals[0]
	assert.Equal(t, 17, sig.BarIndex)
	assert.Equal(t, domain.Buy, sig.Direction)
	assert.Equal(t, 1019.0, sig.Entry)
	assert.Equal(t, 960.0, sig.StopLoss)
	assert.InDelta(t, 1019+59*3, sig.TakeProfit, 1e-9)
	assert.Equal(t, "test:NQ:"+strconv.FormatInt(barTime(17).Unix(), 10), sig.ID)
	require.NoError(t, sig.Validate())

	type step struct {
		to    Stage
		index int
	}
	var got []step
	for _, tr := range rec.trace {
		if tr.Index <= 17 {
			got = append(got, step{tr.To, tr.Index})
		}
	}
	assert.Equal(t, []step{
		{StageBiasSet, 0},
		{StageAwaitingSweep, 0},
		{StageSwept, 10},
		{StageAwaitingDisplacement, 11},
		{StageStructureShift, 12},
		{StageAwaitingRetrace, 13},
		{StageEntryReady, 16},
		{StageSignalEmitted, 17},
		{StageAwaitingBias, 17},
	}, got)
}

func TestMachine_ShallowSweepHaltsAtAwaitingSweep(t *testing.T) {
	rows := setupRows()
	rows[10] = [4]float64{1012, 1015, 972, 1002} // 28 below the level, minimum is 35

	signals, _, m := run(t, testConfig(), rows, FixedBias(domain.BiasBullish))

	assert.Empty(t, signals)
	assert.Equal(t, StageAwaitingSweep, m.State().Stage)
}

func TestMachine_CloseThroughZoneInvalidates(t *testing.T) {
	rows := setupRows()
	rows[14] = [4]float64{1036, 1038, 1008, 1010}

	signals, rec, _ := run(t, testConfig(), rows, FixedBias(domain.BiasBullish))

	assert.Empty(t, signals)
	assert.Contains(t, rec.reasons(), ReasonZoneInvalidated)
}

func TestMachine_StageTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.DisplacementWindow = 15 * time.Minute

	signals, rec, _ := run(t, cfg, setupRows(), FixedBias(domain.BiasBullish))

	assert.Empty(t, signals)
	require.Contains(t, rec.reasons(), ReasonTimeout)
	for _, tr := range rec.trace {
		if tr.Reason == ReasonTimeout {
			assert.Equal(t, 12, tr.Index)
			assert.Equal(t, StageAwaitingDisplacement, tr.From)
		}
	}
}

func TestMachine_BiasFlipResets(t *testing.T) {
	flip := barTime(14)
	bias := func(_ string, asOf time.Time) domain.Bias {
		if asOf.After(flip) {
			return domain.BiasBearish
		}
		return domain.BiasBullish
	}

	signals, rec, _ := run(t, testConfig(), setupRows(), bias)

	assert.Empty(t, signals)
	require.Contains(t, rec.reasons(), ReasonBiasFlip)
	for _, tr := range rec.trace {
		if tr.Reason == ReasonBiasFlip {
			assert.Equal(t, 14, tr.Index)
			assert.Equal(t, StageAwaitingRetrace, tr.From)
		}
	}
}

func TestMachine_NeutralBiasIdles(t *testing.T) {
	signals, rec, m := run(t, testConfig(), setupRows(), FixedBias(domain.BiasNeutral))

	assert.Empty(t, signals)
	assert.Empty(t, rec.trace)
	assert.Equal(t, StageAwaitingBias, m.State().Stage)
}

func TestMachine_OutsideKillZoneIdles(t *testing.T) {
	cfg := testConfig()
	cfg.KillZoneHours = []int{20}

	signals, _, m := run(t, cfg, setupRows(), FixedBias(domain.BiasBullish))

	assert.Empty(t, signals)
	assert.Equal(t, StageBiasSet, m.State().Stage)
}

func TestMachine_SweepOutsideKillZoneIgnored(t *testing.T) {
	cfg := testConfig()
	cfg.KillZoneHours = []int{7} // bars 0-3; the sweep at bar 10 is 09:30

	signals, rec, m := run(t, cfg, setupRows(), FixedBias(domain.BiasBullish))

	assert.Empty(t, signals)
	assert.Equal(t, StageAwaitingSweep, m.State().Stage)
	for _, tr := range rec.trace {
		assert.NotEqual(t, StageSwept, tr.To, "transition at bar %d", tr.Index)
	}
}

func TestMachine_ConfirmationOutsideKillZoneWaits(t *testing.T) {
	cfg := testConfig()
	cfg.KillZoneHours = []int{7, 8, 9, 10} // confirmation at bar 17 is 11:15

	signals, _, m := run(t, cfg, setupRows(), FixedBias(domain.BiasBullish))

	assert.Empty(t, signals)
	assert.Equal(t, StageEntryReady, m.State().Stage)

	cfg.KillZoneHours = append(cfg.KillZoneHours, 11)
	signals, _, _ = run(t, cfg, setupRows(), FixedBias(domain.BiasBullish))
	require.Len(t, signals, 1)
	assert.Equal(t, 17, signals[0].BarIndex)
}

func TestMachine_InvalidSignalIsDiscarded(t *testing.T) {
	cfg := testConfig()
	rec := &recorder{}
	m, err := NewMachine(cfg, "NQ", FixedBias(domain.BiasBullish), WithObserver(rec.observe))
	require.NoError(t, err)
	m.cfg.StopBuffer = -100 // stop lands above the entry

	signals := m.Run(feature.NewFrame(series(setupRows()), cfg.Features))

	assert.Empty(t, signals)
	assert.Contains(t, rec.reasons(), ReasonInvalidSignal)
}

func TestMachine_OrderBlockZone(t *testing.T) {
	cfg := testConfig()
	cfg.ZoneSource = ZoneModeOrderBlock
	m, err := NewMachine(cfg, "NQ", FixedBias(domain.BiasBullish))
	require.NoError(t, err)

	f := feature.NewFrame(series(setupRows()), cfg.Features)
	for i := 0; i <= 13; i++ {
		m.Step(f, i)
	}

	st := m.State()
	require.Equal(t, StageAwaitingRetrace, st.Stage)
	require.True(t, st.HasZone)
	assert.Equal(t, domain.ZoneOrderBlock, st.Zone.Source)
	assert.Equal(t, 960.0, st.Zone.Low)
	assert.Equal(t, 1015.0, st.Zone.High)
}

func TestMachine_AnyZonePrefersFVG(t *testing.T) {
	cfg := testConfig()
	cfg.ZoneSource = ZoneModeAny

	signals, _, _ := run(t, cfg, setupRows(), FixedBias(domain.BiasBullish))
	require.Len(t, signals, 1)
	assert.Contains(t, signals[0].Reason, string(domain.ZoneFVG))
}

func TestMachine_StepIgnoresProcessedBars(t *testing.T) {
	cfg := testConfig()
	m, err := NewMachine(cfg, "NQ", FixedBias(domain.BiasBullish))
	require.NoError(t, err)
	f := feature.NewFrame(series(setupRows()), cfg.Features)

	var signals []domain.Signal
	for n := 1; n <= f.Len(); n++ {
		// a live loop re-feeds everything it has on every tick
		for i := 0; i < n; i++ {
			if sig := m.Step(f, i); sig != nil {
				signals = append(signals, *sig)
			}
		}
	}
	require.Len(t, signals, 1)
	assert.Equal(t, 17, signals[0].BarIndex)
}

func TestMachine_StateIsACopy(t *testing.T) {
	cfg := testConfig()
	m, err := NewMachine(cfg, "NQ", FixedBias(domain.BiasBullish))
	require.NoError(t, err)
	f := feature.NewFrame(series(setupRows()), cfg.Features)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			_ = m.State()
		}
	}()
	m.Run(f)
	wg.Wait()

	st := m.State()
	st.Stage = StageEntryReady
	assert.NotEqual(t, StageEntryReady, m.State().Stage)
}

func TestNewMachine_RejectsBadConfig(t *testing.T) {
	cfg := testConfig()
	cfg.RiskReward = 0
	_, err := NewMachine(cfg, "NQ", FixedBias(domain.BiasBullish))
	assert.Error(t, err)

	_, err = NewMachine(testConfig(), "NQ", nil)
	assert.Error(t, err)
}

// --- properties over random walks ---

func randomSeries(n int, seed int64) domain.Series {
	r := rand.New(rand.NewSource(seed))
	s := domain.Series{Symbol: "RND", Timeframe: domain.TF15m, Bars: make([]domain.Bar, n)}
	price := 1000.0
	for i := range s.Bars {
		o := price
		c := o + r.NormFloat64()*4
		if r.Intn(15) == 0 {
			c = o + r.NormFloat64()*20
		}
		h := max(o, c) + r.Float64()*5
		l := min(o, c) - r.Float64()*5
		s.Bars[i] = domain.Bar{Time: barTime(i), Open: o, High: h, Low: l, Close: c}
		price = c
	}
	return s
}

func looseConfig(zone ZoneMode) Config {
	cfg := testConfig()
	cfg.Name = "loose"
	cfg.BiasTimeframe = domain.TF1h
	cfg.SweepMinSize = 0
	cfg.DisplacementMinRatio = 1.3
	cfg.DisplacementWindow = 3 * time.Hour
	cfg.ZoneWindow = 2 * time.Hour
	cfg.RetraceWindow = 6 * time.Hour
	cfg.ZoneSource = zone
	cfg.StopBuffer = 0.5
	return cfg
}

func runRandom(t *testing.T, cfg Config, s domain.Series) ([]domain.Signal, []Transition) {
	t.Helper()
	htf, err := s.Resample(cfg.BiasTimeframe)
	require.NoError(t, err)
	bias, err := NewBias(cfg, htf)
	require.NoError(t, err)

	rec := &recorder{}
	m, err := NewMachine(cfg, s.Symbol, bias, WithObserver(rec.observe))
	require.NoError(t, err)
	return m.Run(feature.NewFrame(s, cfg.Features)), rec.trace
}

func TestMachine_Properties(t *testing.T) {
	for _, zone := range []ZoneMode{ZoneModeFVG, ZoneModeOrderBlock, ZoneModeAny} {
		for seed := int64(1); seed <= 4; seed++ {
			s := randomSeries(1500, seed)
			cfg := looseConfig(zone)

			signals, trace := runRandom(t, cfg, s)

			for _, sig := range signals {
				require.NoError(t, sig.Validate())
				if sig.Direction == domain.Buy {
					assert.Less(t, sig.StopLoss, sig.Entry)
				} else {
					assert.Greater(t, sig.StopLoss, sig.Entry)
				}
			}

			for _, tr := range trace {
				if tr.To != StageAwaitingBias {
					require.Equal(t, tr.From+1, tr.To, "stage skipped at bar %d", tr.Index)
				}
			}

			again, _ := runRandom(t, cfg, s)
			require.Equal(t, signals, again, "fresh runs over the same bars must agree")

			// no lookahead: running on a prefix reproduces the signals inside it
			cut := 900
			prefix, _ := runRandom(t, cfg, s.Slice(0, cut))
			var want []domain.Signal
			for _, sig := range signals {
				if sig.BarIndex < cut {
					want = append(want, sig)
				}
			}
			require.Equal(t, want, prefix)
		}
	}
}
