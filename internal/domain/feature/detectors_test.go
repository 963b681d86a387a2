package feature

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/ictbot/internal/domain"
)

var start = time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

func ohlc(rows ...[4]float64) []domain.Bar {
	bars := make([]domain.Bar, len(rows))
	for i, r := range rows {
		bars[i] = domain.Bar{
			Time: start.Add(time.Duration(i) * 15 * time.Minute),
			Open: r[0], High: r[1], Low: r[2], Close: r[3],
		}
	}
	return bars
}

// highs builds bars whose highs follow hs and lows sit 1 below.
func highs(hs ...float64) []domain.Bar {
	rows := make([][4]float64, len(hs))
	for i, h := range hs {
		rows[i] = [4]float64{h - 0.5, h, h - 1, h - 0.5}
	}
	return ohlc(rows...)
}

func randomWalk(n int, seed int64) []domain.Bar {
	r := rand.New(rand.NewSource(seed))
	bars := make([]domain.Bar, n)
	price := 100.0
	for i := range bars {
		o := price
		c := o + r.NormFloat64()*0.8
		h := max(o, c) + r.Float64()*0.6
		l := min(o, c) - r.Float64()*0.6
		bars[i] = domain.Bar{Time: start.Add(time.Duration(i) * 15 * time.Minute), Open: o, High: h, Low: l, Close: c}
		price = c
	}
	return bars
}

func TestAnnotate_NoLookahead(t *testing.T) {
	bars := randomWalk(400, 7)
	for _, ref := range []SweepReference{ReferenceSwing, ReferencePreviousDay} {
		p := Params{
			SwingLookback:      3,
			SweepLookback:      2,
			SweepReference:     ref,
			DisplacementPeriod: 10,
			OBLookback:         10,
			OBMinBodyRatio:     0.6,
			EMAPeriod:          20,
		}
		full := Annotate(bars, p)
		for k := range bars {
			prefix := Annotate(bars[:k+1], p)
			require.Equal(t, full[k], prefix[k], "reference %s bar %d differs when later bars are removed", ref, k)
		}
	}
}

func TestAnnotate_DetectorsAreOrderIndependent(t *testing.T) {
	bars := randomWalk(200, 11)
	p := DefaultParams()

	a := Annotate(bars, p)

	b := make([]Annotation, len(bars))
	DetectEMA(bars, p.EMAPeriod, b)
	DetectDisplacement(bars, p.DisplacementPeriod, b)
	DetectSweeps(bars, p.SweepReference, p.SweepLookback, p.SweepMinDistance, b)
	DetectOrderBlocks(bars, p.OBLookback, p.OBMinBodyRatio, b)
	DetectFVG(bars, b)
	DetectSwings(bars, p.SwingLookback, b)

	assert.Equal(t, a, b)
}

func TestDetectSwings_ConfirmedAfterLookback(t *testing.T) {
	bars := highs(1, 2, 5, 2, 1, 1, 1)
	ann := make([]Annotation, len(bars))
	DetectSwings(bars, 2, ann)

	assert.False(t, ann[3].SwingHigh.Defined(), "not enough history before 2*lookback")
	sw, ok := ann[4].SwingHigh.Get()
	require.True(t, ok)
	assert.Equal(t, 5.0, sw.Level)
	assert.Equal(t, 2, sw.Pivot)

	last, ok := ann[6].LastSwingHigh.Get()
	require.True(t, ok)
	assert.Equal(t, 2, last.Pivot)
	_, ok = ann[6].SwingHigh.Get()
	assert.False(t, ok)
	assert.True(t, ann[6].SwingHigh.Defined())
}

func TestDetectSwings_EqualHighsKeepEarliest(t *testing.T) {
	bars := highs(1, 2, 5, 5, 2, 1, 1)
	ann := make([]Annotation, len(bars))
	DetectSwings(bars, 2, ann)

	sw, ok := ann[4].SwingHigh.Get()
	require.True(t, ok)
	assert.Equal(t, 2, sw.Pivot)

	_, ok = ann[5].SwingHigh.Get()
	assert.False(t, ok, "the later equal high is not a second swing")
}

func TestDetectFVG(t *testing.T) {
	bars := ohlc(
		[4]float64{100, 101, 99, 100.5},
		[4]float64{100.5, 106, 100.2, 105.5},
		[4]float64{105.5, 107, 103, 106},
		[4]float64{106, 106.5, 98, 98.5},
		[4]float64{98.5, 99, 97, 97.5},
	)
	ann := make([]Annotation, len(bars))
	DetectFVG(bars, ann)

	assert.False(t, ann[1].FVGBull.Defined())

	z, ok := ann[2].FVGBull.Get()
	require.True(t, ok)
	assert.Equal(t, 101.0, z.Low)
	assert.Equal(t, 103.0, z.High)
	assert.Equal(t, domain.ZoneFVG, z.Source)

	bear, ok := ann[4].FVGBear.Get()
	require.True(t, ok)
	assert.Equal(t, 99.0, bear.Low)
	assert.Equal(t, 103.0, bear.High)
}

func TestDetectOrderBlocks(t *testing.T) {
	bars := ohlc(
		[4]float64{100, 100.5, 99, 99.2}, // bearish
		[4]float64{99.2, 99.8, 99, 99.5}, // bullish, small
		[4]float64{99.5, 103, 99.4, 102.8},
	)
	ann := make([]Annotation, len(bars))
	DetectOrderBlocks(bars, 5, 0.7, ann)

	z, ok := ann[2].OBBull.Get()
	require.True(t, ok)
	assert.Equal(t, 99.0, z.Low)
	assert.Equal(t, 100.5, z.High)
	assert.Equal(t, domain.ZoneOrderBlock, z.Source)

	_, ok = ann[1].OBBull.Get()
	assert.False(t, ok, "weak body is not a displacement anchor")
}

func TestDetectSweeps_SwingReference(t *testing.T) {
	rows := [][4]float64{
		{105, 106, 104, 105},
		{104, 105, 103, 104},
		{103, 104, 100, 103}, // swing low 100 at pivot 2
		{103, 105, 102, 104},
		{104, 106, 103, 105}, // confirms pivot 2
		{105, 106, 104, 105},
		{104, 105, 97, 101}, // wick 3 below, close back above
		{101, 102, 96, 99},  // wick below but closes below
	}
	bars := ohlc(rows...)
	ann := make([]Annotation, len(bars))
	DetectSweeps(bars, ReferenceSwing, 2, 2.5, ann)

	assert.False(t, ann[4].SweepLow.Defined(), "level only usable from the bar after confirmation")
	assert.True(t, ann[5].SweepLow.Defined())

	sw, ok := ann[6].SweepLow.Get()
	require.True(t, ok)
	assert.Equal(t, 100.0, sw.Level)
	assert.Equal(t, 97.0, sw.Extreme)
	assert.InDelta(t, 3.0, sw.Size, 1e-9)

	_, ok = ann[7].SweepLow.Get()
	assert.False(t, ok)
}

func TestDetectSweeps_MinDistance(t *testing.T) {
	bars := ohlc(
		[4]float64{105, 106, 104, 105},
		[4]float64{104, 105, 103, 104},
		[4]float64{103, 104, 100, 103},
		[4]float64{103, 105, 102, 104},
		[4]float64{104, 106, 103, 105},
		[4]float64{104, 105, 99, 101},
	)
	ann := make([]Annotation, len(bars))
	DetectSweeps(bars, ReferenceSwing, 2, 2, ann)

	_, ok := ann[5].SweepLow.Get()
	assert.False(t, ok, "1 point beyond the level is below the 2 point minimum")
}

func TestDetectSweeps_PreviousDay(t *testing.T) {
	day1 := time.Date(2024, 3, 4, 20, 0, 0, 0, time.UTC)
	bars := []domain.Bar{
		{Time: day1, Open: 100, High: 110, Low: 95, Close: 105},
		{Time: day1.Add(time.Hour), Open: 105, High: 108, Low: 98, Close: 100},
		{Time: day1.Add(5 * time.Hour), Open: 100, High: 112, Low: 99, Close: 109}, // next day, takes 110
	}
	ann := make([]Annotation, len(bars))
	DetectSweeps(bars, ReferencePreviousDay, 0, 0, ann)

	assert.False(t, ann[1].SweepHigh.Defined())
	sw, ok := ann[2].SweepHigh.Get()
	require.True(t, ok)
	assert.Equal(t, 110.0, sw.Level)
	assert.Equal(t, 112.0, sw.Extreme)
}

func TestDetectDisplacement(t *testing.T) {
	bars := ohlc(
		[4]float64{100, 101.5, 99.5, 101},
		[4]float64{101, 101.5, 99.5, 100},
		[4]float64{100, 104, 99.8, 104},
	)
	ann := make([]Annotation, len(bars))
	DetectDisplacement(bars, 2, ann)

	assert.False(t, ann[1].Displacement.Defined())
	ratio, ok := ann[2].Displacement.Get()
	require.True(t, ok)
	assert.InDelta(t, 4.0, ratio, 1e-9)

	br, ok := ann[2].BodyRange.Get()
	require.True(t, ok)
	assert.InDelta(t, 4/4.2, br, 1e-9)
}

func TestDetectEMA(t *testing.T) {
	bars := ohlc(
		[4]float64{10, 10, 10, 10},
		[4]float64{10, 13, 10, 13},
		[4]float64{13, 13, 10, 10},
	)
	ann := make([]Annotation, len(bars))
	DetectEMA(bars, 3, ann)

	assert.False(t, ann[1].EMA.Defined())
	v, ok := ann[2].EMA.Get()
	require.True(t, ok)
	// alpha 0.5: 10 -> 11.5 -> 10.75
	assert.InDelta(t, 10.75, v, 1e-9)
}
