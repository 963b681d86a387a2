// Package feature annotates OHLC bars with price-action features: swing points,
// fair value gaps, order blocks, liquidity sweeps, displacement and EMA.
//
// Every detector writes only its own fields of the Annotation record and never
// reads a bar with an index greater than the one it annotates, so annotating a
// truncated series yields exactly the same values for the bars it keeps.
package feature

import "github.com/alejandrodnm/ictbot/internal/domain"

// State distinguishes "not enough history" from a defined absence.
type State uint8

const (
	Undefined State = iota
	Absent
	Present
)

// Value is one annotated feature on one bar.
type Value[T any] struct {
	State State
	V     T
}

func present[T any](v T) Value[T] { return Value[T]{State: Present, V: v} }

func absent[T any]() Value[T] { return Value[T]{State: Absent} }

// Get returns the value and true only when the feature is present.
// Undefined is treated as absent.
func (v Value[T]) Get() (T, bool) {
	return v.V, v.State == Present
}

// Defined reports whether the bar had enough history for the detector.
func (v Value[T]) Defined() bool { return v.State != Undefined }

// Swing is a confirmed pivot.
type Swing struct {
	Level float64
	Pivot int // index of the pivot bar
}

// Sweep is a wick beyond a reference level that closed back inside it.
type Sweep struct {
	Level   float64 // level that was swept
	Extreme float64 // wick low (sweep of lows) or wick high (sweep of highs)
	Size    float64 // distance of the wick beyond the level
}

// Annotation is the fixed per-bar feature record.
type Annotation struct {
	SwingHigh     Value[Swing] // swing confirmed on this bar
	SwingLow      Value[Swing]
	LastSwingHigh Value[Swing] // latest swing confirmed at or before this bar
	LastSwingLow  Value[Swing]

	FVGBull Value[domain.Zone]
	FVGBear Value[domain.Zone]
	OBBull  Value[domain.Zone]
	OBBear  Value[domain.Zone]

	SweepLow  Value[Sweep] // bullish: lows taken, close back above
	SweepHigh Value[Sweep] // bearish: highs taken, close back below

	Displacement Value[float64] // body / mean body of the previous N bars
	BodyRange    Value[float64] // body / range
	EMA          Value[float64]
}

// SweepReference selects the level a sweep is measured against.
type SweepReference string

const (
	ReferenceSwing       SweepReference = "swing"
	ReferencePreviousDay SweepReference = "previous_day"
)

// Params configures all detectors.
type Params struct {
	SwingLookback      int
	SweepLookback      int // swing lookback used for the sweep reference level
	SweepMinDistance   float64
	SweepReference     SweepReference
	DisplacementPeriod int
	OBLookback         int
	OBMinBodyRatio     float64
	EMAPeriod          int
}

// DefaultParams mirrors the defaults used by the shipped strategy presets.
func DefaultParams() Params {
	return Params{
		SwingLookback:      5,
		SweepLookback:      5,
		SweepReference:     ReferenceSwing,
		DisplacementPeriod: 20,
		OBLookback:         20,
		OBMinBodyRatio:     0.7,
		EMAPeriod:          50,
	}
}

// Annotate runs every detector over bars and returns one Annotation per bar.
func Annotate(bars []domain.Bar, p Params) []Annotation {
	ann := make([]Annotation, len(bars))
	DetectSwings(bars, p.SwingLookback, ann)
	DetectFVG(bars, ann)
	DetectOrderBlocks(bars, p.OBLookback, p.OBMinBodyRatio, ann)
	DetectSweeps(bars, p.SweepReference, p.SweepLookback, p.SweepMinDistance, ann)
	DetectDisplacement(bars, p.DisplacementPeriod, ann)
	DetectEMA(bars, p.EMAPeriod, ann)
	return ann
}

// Frame is a series together with its annotations.
type Frame struct {
	Series domain.Series
	Ann    []Annotation
	Params Params
}

// NewFrame annotates s with p.
func NewFrame(s domain.Series, p Params) *Frame {
	return &Frame{Series: s, Ann: Annotate(s.Bars, p), Params: p}
}

// Len returns the number of bars.
func (f *Frame) Len() int { return len(f.Series.Bars) }

// Bar returns bar i.
func (f *Frame) Bar(i int) domain.Bar { return f.Series.Bars[i] }
