package domain

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// Timeframe es la resolución de una serie de velas ("15m", "1h", "4h", ...).
type Timeframe string

const (
	TF1m  Timeframe = "1m"
	TF5m  Timeframe = "5m"
	TF15m Timeframe = "15m"
	TF30m Timeframe = "30m"
	TF1h  Timeframe = "1h"
	TF4h  Timeframe = "4h"
	TF1d  Timeframe = "1d"
)

var timeframeDurations = map[Timeframe]time.Duration{
	TF1m:  time.Minute,
	TF5m:  5 * time.Minute,
	TF15m: 15 * time.Minute,
	TF30m: 30 * time.Minute,
	TF1h:  time.Hour,
	TF4h:  4 * time.Hour,
	TF1d:  24 * time.Hour,
}

// ParseTimeframe valida un timeframe textual.
func ParseTimeframe(s string) (Timeframe, error) {
	tf := Timeframe(s)
	if _, ok := timeframeDurations[tf]; !ok {
		return "", fmt.Errorf("domain.ParseTimeframe: unknown timeframe %q", s)
	}
	return tf, nil
}

// Duration devuelve la duración de una vela. Cero si el timeframe es desconocido.
func (tf Timeframe) Duration() time.Duration {
	return timeframeDurations[tf]
}

// Bar es una vela OHLC. Time es la apertura de la vela, en UTC.
type Bar struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// Body devuelve el tamaño absoluto del cuerpo.
func (b Bar) Body() float64 {
	return math.Abs(b.Close - b.Open)
}

// Range devuelve high - low.
func (b Bar) Range() float64 {
	return b.High - b.Low
}

// BodyRatio devuelve body/range; 0 para velas sin rango.
func (b Bar) BodyRatio() float64 {
	r := b.Range()
	if r <= 0 {
		return 0
	}
	return b.Body() / r
}

func (b Bar) IsBullish() bool { return b.Close > b.Open }
func (b Bar) IsBearish() bool { return b.Close < b.Open }

// Series es una secuencia ordenada de velas de un símbolo en un timeframe.
type Series struct {
	Symbol    string
	Timeframe Timeframe
	Bars      []Bar
}

// Len devuelve la cantidad de velas.
func (s Series) Len() int { return len(s.Bars) }

// CloseTime devuelve el instante en que la vela i queda cerrada.
func (s Series) CloseTime(i int) time.Time {
	return s.Bars[i].Time.Add(s.Timeframe.Duration())
}

// Validate verifica que la serie sea utilizable: timestamps estrictamente
// crecientes y OHLC completos y coherentes. Devuelve ErrMalformedSeries envuelto
// con el índice de la primera vela inválida.
func (s Series) Validate() error {
	for i, b := range s.Bars {
		if b.Time.IsZero() {
			return fmt.Errorf("%w: %s bar %d: missing timestamp", ErrMalformedSeries, s.Symbol, i)
		}
		if i > 0 && !b.Time.After(s.Bars[i-1].Time) {
			return fmt.Errorf("%w: %s bar %d: timestamp %s not after %s",
				ErrMalformedSeries, s.Symbol, i, b.Time.Format(time.RFC3339), s.Bars[i-1].Time.Format(time.RFC3339))
		}
		for _, v := range [...]float64{b.Open, b.High, b.Low, b.Close} {
			if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
				return fmt.Errorf("%w: %s bar %d: missing or non-positive price", ErrMalformedSeries, s.Symbol, i)
			}
		}
		if b.High < b.Low {
			return fmt.Errorf("%w: %s bar %d: high %.5f below low %.5f", ErrMalformedSeries, s.Symbol, i, b.High, b.Low)
		}
		if b.Open > b.High || b.Open < b.Low || b.Close > b.High || b.Close < b.Low {
			return fmt.Errorf("%w: %s bar %d: open/close outside high-low range", ErrMalformedSeries, s.Symbol, i)
		}
	}
	return nil
}

// Slice devuelve una copia superficial con las velas [from, to).
func (s Series) Slice(from, to int) Series {
	return Series{Symbol: s.Symbol, Timeframe: s.Timeframe, Bars: s.Bars[from:to]}
}

// IndexAfter devuelve el índice de la primera vela con Time > t, o Len() si no hay.
func (s Series) IndexAfter(t time.Time) int {
	return sort.Search(len(s.Bars), func(i int) bool { return s.Bars[i].Time.After(t) })
}

// Resample agrega la serie a un timeframe mayor. Los buckets se alinean en UTC
// (open del primero, max high, min low, close del último, suma de volumen).
// Un bucket incompleto al final se conserva.
func (s Series) Resample(tf Timeframe) (Series, error) {
	d := tf.Duration()
	if d == 0 {
		return Series{}, fmt.Errorf("domain.Resample: unknown timeframe %q", tf)
	}
	if src := s.Timeframe.Duration(); src > d {
		return Series{}, fmt.Errorf("domain.Resample: cannot resample %s down to %s", s.Timeframe, tf)
	}

	out := Series{Symbol: s.Symbol, Timeframe: tf, Bars: make([]Bar, 0, len(s.Bars))}
	for _, b := range s.Bars {
		bucket := b.Time.UTC().Truncate(d)
		n := len(out.Bars)
		if n > 0 && out.Bars[n-1].Time.Equal(bucket) {
			agg := &out.Bars[n-1]
			agg.High = math.Max(agg.High, b.High)
			agg.Low = math.Min(agg.Low, b.Low)
			agg.Close = b.Close
			agg.Volume += b.Volume
			continue
		}
		out.Bars = append(out.Bars, Bar{
			Time:   bucket,
			Open:   b.Open,
			High:   b.High,
			Low:    b.Low,
			Close:  b.Close,
			Volume: b.Volume,
		})
	}
	return out, nil
}

// BarRequest describe qué velas pedirle a un BarSource.
type BarRequest struct {
	Symbol    string
	Timeframe Timeframe
	From      time.Time // zero = lo que el proveedor tenga
	To        time.Time // zero = ahora
}
