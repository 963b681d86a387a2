package feature

import (
	"math"
	"time"

	"github.com/alejandrodnm/ictbot/internal/domain"
)

// IsSwingHigh reports whether the bar at pivot is a fractal high: strictly
// above the lookback bars before it and not below the lookback bars after it.
// Equal highs therefore keep the earliest bar as the swing. Reads bars up to
// pivot+lookback, which callers must only do once that bar exists.
func IsSwingHigh(bars []domain.Bar, pivot, lookback int) bool {
	if lookback <= 0 || pivot-lookback < 0 || pivot+lookback >= len(bars) {
		return false
	}
	h := bars[pivot].High
	for j := pivot - lookback; j < pivot; j++ {
		if bars[j].High >= h {
			return false
		}
	}
	for j := pivot + 1; j <= pivot+lookback; j++ {
		if bars[j].High > h {
			return false
		}
	}
	return true
}

// IsSwingLow is the mirror of IsSwingHigh.
func IsSwingLow(bars []domain.Bar, pivot, lookback int) bool {
	if lookback <= 0 || pivot-lookback < 0 || pivot+lookback >= len(bars) {
		return false
	}
	l := bars[pivot].Low
	for j := pivot - lookback; j < pivot; j++ {
		if bars[j].Low <= l {
			return false
		}
	}
	for j := pivot + 1; j <= pivot+lookback; j++ {
		if bars[j].Low < l {
			return false
		}
	}
	return true
}

// DetectSwings annotates swings on their confirmation bar i = pivot+lookback.
func DetectSwings(bars []domain.Bar, lookback int, ann []Annotation) {
	lastHigh, lastLow := absent[Swing](), absent[Swing]()
	for i := range bars {
		if lookback <= 0 || i < 2*lookback {
			continue
		}
		p := i - lookback
		ann[i].SwingHigh, ann[i].SwingLow = absent[Swing](), absent[Swing]()
		if IsSwingHigh(bars[:i+1], p, lookback) {
			ann[i].SwingHigh = present(Swing{Level: bars[p].High, Pivot: p})
			lastHigh = ann[i].SwingHigh
		}
		if IsSwingLow(bars[:i+1], p, lookback) {
			ann[i].SwingLow = present(Swing{Level: bars[p].Low, Pivot: p})
			lastLow = ann[i].SwingLow
		}
		ann[i].LastSwingHigh, ann[i].LastSwingLow = lastHigh, lastLow
	}
}

// DetectFVG marks three-candle imbalances on their third candle.
func DetectFVG(bars []domain.Bar, ann []Annotation) {
	for i := 2; i < len(bars); i++ {
		first, cur := bars[i-2], bars[i]
		ann[i].FVGBull, ann[i].FVGBear = absent[domain.Zone](), absent[domain.Zone]()
		if cur.Low > first.High {
			ann[i].FVGBull = present(domain.Zone{Low: first.High, High: cur.Low, Index: i, Side: domain.BiasBullish, Source: domain.ZoneFVG})
		}
		if cur.High < first.Low {
			ann[i].FVGBear = present(domain.Zone{Low: cur.High, High: first.Low, Index: i, Side: domain.BiasBearish, Source: domain.ZoneFVG})
		}
	}
}

// OrderBlockAt walks back from bar i (exclusive) at most lookback bars to the
// most recent candle of the opposite colour to dir. Its full range is the zone.
func OrderBlockAt(bars []domain.Bar, i int, dir domain.Bias, lookback int) (domain.Zone, bool) {
	for j := i - 1; j >= 0 && j >= i-lookback; j-- {
		b := bars[j]
		if (dir == domain.BiasBullish && b.IsBearish()) || (dir == domain.BiasBearish && b.IsBullish()) {
			return domain.Zone{Low: b.Low, High: b.High, Index: i, Side: dir, Source: domain.ZoneOrderBlock}, true
		}
	}
	return domain.Zone{}, false
}

// DetectOrderBlocks anchors an order block on every strong-bodied candle
// (body/range >= minBodyRatio).
func DetectOrderBlocks(bars []domain.Bar, lookback int, minBodyRatio float64, ann []Annotation) {
	for i := 1; i < len(bars); i++ {
		ann[i].OBBull, ann[i].OBBear = absent[domain.Zone](), absent[domain.Zone]()
		b := bars[i]
		if b.BodyRatio() < minBodyRatio {
			continue
		}
		switch {
		case b.IsBullish():
			if z, ok := OrderBlockAt(bars, i, domain.BiasBullish, lookback); ok {
				ann[i].OBBull = present(z)
			}
		case b.IsBearish():
			if z, ok := OrderBlockAt(bars, i, domain.BiasBearish, lookback); ok {
				ann[i].OBBear = present(z)
			}
		}
	}
}

// DetectSweeps marks wicks beyond a reference level that close back on the
// original side within the same bar. With ReferenceSwing the level is the
// latest swing confirmed before this bar; with ReferencePreviousDay it is the
// previous UTC day's high or low.
func DetectSweeps(bars []domain.Bar, ref SweepReference, lookback int, minDistance float64, ann []Annotation) {
	if ref == ReferencePreviousDay {
		detectPreviousDaySweeps(bars, minDistance, ann)
		return
	}
	if lookback <= 0 {
		return
	}

	var lowLevel, highLevel float64
	var haveLow, haveHigh bool
	for i := range bars {
		// levels confirmed up to i-1
		if p := i - 1 - lookback; p >= lookback {
			if IsSwingLow(bars[:i], p, lookback) {
				lowLevel, haveLow = bars[p].Low, true
			}
			if IsSwingHigh(bars[:i], p, lookback) {
				highLevel, haveHigh = bars[p].High, true
			}
		}
		if haveLow {
			ann[i].SweepLow = sweepBelow(bars[i], lowLevel, minDistance)
		}
		if haveHigh {
			ann[i].SweepHigh = sweepAbove(bars[i], highLevel, minDistance)
		}
	}
}

func detectPreviousDaySweeps(bars []domain.Bar, minDistance float64, ann []Annotation) {
	var (
		day               time.Time
		dayHigh, dayLow   float64
		prevHigh, prevLow float64
		havePrev, haveDay bool
	)
	for i, b := range bars {
		d := b.Time.UTC().Truncate(24 * time.Hour)
		if !haveDay || !d.Equal(day) {
			if haveDay {
				prevHigh, prevLow, havePrev = dayHigh, dayLow, true
			}
			day, dayHigh, dayLow, haveDay = d, b.High, b.Low, true
		} else {
			dayHigh = math.Max(dayHigh, b.High)
			dayLow = math.Min(dayLow, b.Low)
		}
		if havePrev {
			ann[i].SweepLow = sweepBelow(b, prevLow, minDistance)
			ann[i].SweepHigh = sweepAbove(b, prevHigh, minDistance)
		}
	}
}

func sweepBelow(b domain.Bar, level, minDistance float64) Value[Sweep] {
	depth := level - b.Low
	if depth > 0 && depth >= minDistance && b.Close > level {
		return present(Sweep{Level: level, Extreme: b.Low, Size: depth})
	}
	return absent[Sweep]()
}

func sweepAbove(b domain.Bar, level, minDistance float64) Value[Sweep] {
	depth := b.High - level
	if depth > 0 && depth >= minDistance && b.Close < level {
		return present(Sweep{Level: level, Extreme: b.High, Size: depth})
	}
	return absent[Sweep]()
}

// DetectDisplacement compares each body with the mean body of the previous
// period bars, and records body/range on every bar.
func DetectDisplacement(bars []domain.Bar, period int, ann []Annotation) {
	sum := 0.0
	for i, b := range bars {
		ann[i].BodyRange = present(b.BodyRatio())
		if period > 0 && i >= period {
			if mean := sum / float64(period); mean > 0 {
				ann[i].Displacement = present(b.Body() / mean)
			}
		}
		sum += b.Body()
		if period > 0 && i >= period {
			sum -= bars[i-period].Body()
		}
	}
}

// DetectEMA computes the recursive EMA seeded with the first close
// (alpha = 2/(period+1)). The first period-1 bars are undefined.
func DetectEMA(bars []domain.Bar, period int, ann []Annotation) {
	if period <= 0 || len(bars) == 0 {
		return
	}
	alpha := 2.0 / float64(period+1)
	ema := bars[0].Close
	for i, b := range bars {
		if i > 0 {
			ema = alpha*b.Close + (1-alpha)*ema
		}
		if i >= period-1 {
			ann[i].EMA = present(ema)
		}
	}
}
