// Package enginetest provides bar fixtures shared by the engine tests.
package enginetest

import (
	"math/rand"
	"time"

	"github.com/alejandrodnm/ictbot/internal/domain"
	"github.com/alejandrodnm/ictbot/internal/domain/feature"
	"github.com/alejandrodnm/ictbot/internal/domain/strategy"
)

// Start is the open time of bar 0 in every fixture.
var Start = time.Date(2024, 3, 4, 7, 0, 0, 0, time.UTC)

// BarTime returns the open time of 15m bar i.
func BarTime(i int) time.Time { return Start.Add(time.Duration(i) * 15 * time.Minute) }

// setupRows: swing low 1000, sweep to 960 at bar 10, displacement at 12,
// FVG [1015, 1020] at 13, retrace at 16 and a BUY at 17 (entry 1019, stop
// 960, target 1196 with RR 3). Bars 18+ rally through the target at bar 23.
var setupRows = [][4]float64{
	{1020, 1024, 1016, 1018}, // 0
	{1018, 1026, 1014, 1022},
	{1022, 1027, 1015, 1017},
	{1017, 1030, 1012, 1027},
	{1027, 1028, 1006, 1008},
	{1008, 1012, 1000, 1010}, // 5
	{1010, 1022, 1008, 1020},
	{1020, 1024, 1009, 1010},
	{1010, 1023, 1008, 1020},
	{1020, 1022, 1009, 1010},
	{1012, 1015, 960, 1002}, // 10 sweep
	{1003, 1015, 1001, 1013},
	{1013, 1036, 1012, 1033}, // 12 displacement
	{1033, 1040, 1020, 1036}, // 13 FVG
	{1036, 1038, 1026, 1028},
	{1028, 1030, 1022, 1024},
	{1024, 1025, 1016, 1018}, // 16 retrace
	{1016, 1021, 1014, 1019}, // 17 signal
	{1019, 1030, 1017, 1028},
	{1028, 1060, 1024, 1055},
	{1055, 1100, 1050, 1095},
	{1095, 1140, 1090, 1135},
	{1135, 1180, 1130, 1175},
	{1175, 1200, 1170, 1190}, // 23 target
	{1190, 1195, 1180, 1185},
}

// SetupSeries returns the single-setup fixture.
func SetupSeries(symbol string) domain.Series {
	s := domain.Series{Symbol: symbol, Timeframe: domain.TF15m}
	for i, r := range setupRows {
		s.Bars = append(s.Bars, domain.Bar{Time: BarTime(i), Open: r[0], High: r[1], Low: r[2], Close: r[3], Volume: 1})
	}
	return s
}

// SetupSignalIndex is the bar at which SetupSeries emits its signal.
const SetupSignalIndex = 17

// SetupTargetIndex is the bar at which the setup signal hits its target.
const SetupTargetIndex = 23

// SetupConfig detects the SetupSeries pattern under a fixed BULLISH bias.
func SetupConfig(name string) strategy.Config {
	p := feature.DefaultParams()
	p.SwingLookback = 2
	p.SweepLookback = 2
	p.DisplacementPeriod = 5
	p.OBLookback = 5
	return strategy.Config{
		Name:                 name,
		Timeframe:            domain.TF15m,
		BiasTimeframe:        domain.TF4h,
		BiasSource:           strategy.BiasStructure,
		BiasLookback:         2,
		Features:             p,
		SweepMinSize:         35,
		DisplacementMinRatio: 1.8,
		DisplacementWindow:   24 * time.Hour,
		ZoneWindow:           24 * time.Hour,
		RetraceWindow:        24 * time.Hour,
		ZoneSource:           strategy.ZoneModeFVG,
		RiskReward:           3,
	}
}

// RandomSeries is a seeded random walk of n 15m bars with occasional large
// candles.
func RandomSeries(symbol string, n int, seed int64) domain.Series {
	r := rand.New(rand.NewSource(seed))
	s := domain.Series{Symbol: symbol, Timeframe: domain.TF15m, Bars: make([]domain.Bar, n)}
	price := 1000.0
	for i := range s.Bars {
		o := price
		c := o + r.NormFloat64()*4
		if r.Intn(15) == 0 {
			c = o + r.NormFloat64()*20
		}
		h := max(o, c) + r.Float64()*5
		l := min(o, c) - r.Float64()*5
		s.Bars[i] = domain.Bar{Time: BarTime(i), Open: o, High: h, Low: l, Close: c}
		price = c
	}
	return s
}

// LooseConfig fires often on RandomSeries.
func LooseConfig(name string) strategy.Config {
	cfg := SetupConfig(name)
	cfg.BiasTimeframe = domain.TF1h
	cfg.SweepMinSize = 0
	cfg.DisplacementMinRatio = 1.3
	cfg.DisplacementWindow = 3 * time.Hour
	cfg.ZoneWindow = 2 * time.Hour
	cfg.RetraceWindow = 6 * time.Hour
	cfg.ZoneSource = strategy.ZoneModeAny
	cfg.StopBuffer = 0.5
	return cfg
}
