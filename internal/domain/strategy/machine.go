package strategy

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/alejandrodnm/ictbot/internal/domain"
	"github.com/alejandrodnm/ictbot/internal/domain/feature"
)

// Machine es una instancia del patrón para un símbolo. Procesa velas en orden
// estricto; instancias distintas no comparten estado y pueden correr en paralelo.
type Machine struct {
	cfg       Config
	symbol    string
	bias      BiasFunc
	observers []Observer

	mu sync.Mutex
	st State
}

// Option configura una Machine.
type Option func(*Machine)

// WithObserver registra un observer de transiciones.
func WithObserver(o Observer) Option {
	return func(m *Machine) { m.observers = append(m.observers, o) }
}

// NewMachine crea una instancia en AWAITING_BIAS.
func NewMachine(cfg Config, symbol string, bias BiasFunc, opts ...Option) (*Machine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if bias == nil {
		return nil, fmt.Errorf("strategy.NewMachine %s/%s: nil bias provider", cfg.Name, symbol)
	}
	m := &Machine{
		cfg:    cfg,
		symbol: symbol,
		bias:   bias,
		st:     State{Stage: StageAwaitingBias, LastIndex: -1},
	}
	for _, o := range opts {
		o(m)
	}
	return m, nil
}

// Config devuelve la configuración de la instancia.
func (m *Machine) Config() Config { return m.cfg }

// Symbol devuelve el símbolo de la instancia.
func (m *Machine) Symbol() string { return m.symbol }

// State devuelve una copia del estado actual.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st
}

// Run procesa todas las velas del frame que aún no se procesaron.
func (m *Machine) Run(f *feature.Frame) []domain.Signal {
	var out []domain.Signal
	for i := 0; i < f.Len(); i++ {
		if sig := m.Step(f, i); sig != nil {
			out = append(out, *sig)
		}
	}
	return out
}

// Step evalúa la vela i del frame y devuelve una señal si el patrón se completó.
// Las velas ya procesadas (i <= LastIndex) se ignoran, así un loop en vivo
// puede volver a pasar el frame completo.
//
// Por vela pueden encadenarse transiciones pasivas (bias, kill zone, paso a
// espera de displacement) pero a lo sumo una transición de evento (sweep,
// displacement, zona, retroceso, confirmación).
func (m *Machine) Step(f *feature.Frame, i int) *domain.Signal {
	m.mu.Lock()
	defer m.mu.Unlock()

	if i <= m.st.LastIndex || i >= f.Len() {
		return nil
	}
	m.st.LastIndex = i

	bar := f.Bar(i)
	ann := f.Ann[i]
	asOf := f.Series.CloseTime(i)
	bias := m.bias(m.symbol, asOf)

	if m.st.Stage != StageAwaitingBias {
		switch {
		case bias.Opposes(m.st.Bias):
			m.reset(i, bar.Time, ReasonBiasFlip)
		case !m.st.Deadline.IsZero() && asOf.After(m.st.Deadline):
			m.reset(i, bar.Time, ReasonTimeout)
		}
	}

	for {
		switch m.st.Stage {
		case StageAwaitingBias:
			if bias == domain.BiasNeutral {
				return nil
			}
			m.st.Bias = bias
			m.advance(StageBiasSet, i, bar.Time, string(bias))

		case StageBiasSet:
			if !m.inKillZone(bar.Time) {
				return nil
			}
			m.advance(StageAwaitingSweep, i, bar.Time, "kill zone")

		case StageAwaitingSweep:
			if !m.inKillZone(bar.Time) {
				return nil
			}
			sw, ok := m.sweepOf(ann)
			if !ok || sw.Size < m.cfg.SweepMinSize {
				return nil
			}
			m.st.SweepIndex = i
			m.st.SweepLevel = sw.Level
			m.st.SweepExtreme = sw.Extreme
			m.st.Deadline = asOf.Add(m.cfg.DisplacementWindow)
			m.advance(StageSwept, i, bar.Time, fmt.Sprintf("swept %.5f by %.5f", sw.Level, sw.Size))
			return nil

		case StageSwept:
			if i <= m.st.SweepIndex {
				return nil
			}
			m.advance(StageAwaitingDisplacement, i, bar.Time, "")

		case StageAwaitingDisplacement:
			if !m.isStructureShift(f, i) {
				return nil
			}
			m.st.DisplacementIndex = i
			m.st.Deadline = asOf.Add(m.cfg.ZoneWindow)
			m.advance(StageStructureShift, i, bar.Time, "displacement")
			return nil

		case StageStructureShift:
			if i <= m.st.DisplacementIndex {
				return nil
			}
			z, ok := m.findZone(f, i)
			if !ok {
				return nil
			}
			m.st.Zone, m.st.HasZone = z, true
			m.st.Deadline = asOf.Add(m.cfg.RetraceWindow)
			m.advance(StageAwaitingRetrace, i, bar.Time, fmt.Sprintf("%s [%.5f, %.5f]", z.Source, z.Low, z.High))
			return nil

		case StageAwaitingRetrace:
			if m.closedThrough(bar) {
				m.reset(i, bar.Time, ReasonZoneInvalidated)
				return nil
			}
			if !m.st.Zone.Contains(bar.Close) {
				return nil
			}
			m.advance(StageEntryReady, i, bar.Time, "retrace")
			return nil

		case StageEntryReady:
			if m.closedThrough(bar) {
				m.reset(i, bar.Time, ReasonZoneInvalidated)
				return nil
			}
			// la entrada también tiene que caer dentro de la kill zone
			if !m.inKillZone(bar.Time) || !m.confirms(bar, ann) {
				return nil
			}
			sig := m.buildSignal(f, i)
			if err := sig.Validate(); err != nil {
				m.reset(i, bar.Time, ReasonInvalidSignal)
				return nil
			}
			m.advance(StageSignalEmitted, i, bar.Time, sig.ID)
			m.reset(i, bar.Time, ReasonEmitted)
			return &sig

		default:
			m.reset(i, bar.Time, "unknown stage")
			return nil
		}
	}
}

func (m *Machine) advance(to Stage, i int, at time.Time, reason string) {
	from := m.st.Stage
	m.st.Stage = to
	m.st.StageEnteredAt = at
	m.notify(Transition{From: from, To: to, Reason: reason, Index: i, Time: at})
}

func (m *Machine) reset(i int, at time.Time, reason string) {
	from := m.st.Stage
	m.st = State{Stage: StageAwaitingBias, StageEnteredAt: at, LastIndex: m.st.LastIndex}
	m.notify(Transition{From: from, To: StageAwaitingBias, Reason: reason, Index: i, Time: at})
}

func (m *Machine) notify(t Transition) {
	for _, o := range m.observers {
		o(t)
	}
}

func (m *Machine) inKillZone(t time.Time) bool {
	if len(m.cfg.KillZoneHours) == 0 {
		return true
	}
	return slices.Contains(m.cfg.KillZoneHours, t.UTC().Hour())
}

// sweepOf devuelve el sweep contra la liquidez opuesta al bias: mínimos para
// BULLISH, máximos para BEARISH.
func (m *Machine) sweepOf(ann feature.Annotation) (feature.Sweep, bool) {
	if m.st.Bias == domain.BiasBearish {
		return ann.SweepHigh.Get()
	}
	return ann.SweepLow.Get()
}

func (m *Machine) isStructureShift(f *feature.Frame, i int) bool {
	bar, ann := f.Bar(i), f.Ann[i]
	bullish := m.st.Bias == domain.BiasBullish

	if bullish && !bar.IsBullish() || !bullish && !bar.IsBearish() {
		return false
	}
	ratio, ok := ann.Displacement.Get()
	if !ok || ratio < m.cfg.DisplacementMinRatio {
		return false
	}
	if m.cfg.MinBodyRange > 0 {
		if br, ok := ann.BodyRange.Get(); !ok || br < m.cfg.MinBodyRange {
			return false
		}
	}

	sweepBar := f.Bar(m.st.SweepIndex)
	if bullish {
		level := sweepBar.High
		if sw, ok := ann.LastSwingHigh.Get(); ok {
			level = sw.Level
		}
		return bar.Close > level
	}
	level := sweepBar.Low
	if sw, ok := ann.LastSwingLow.Get(); ok {
		level = sw.Level
	}
	return bar.Close < level
}

// findZone busca la zona del tramo de displacement en la vela i.
func (m *Machine) findZone(f *feature.Frame, i int) (domain.Zone, bool) {
	fvg := func() (domain.Zone, bool) {
		for k := i; k > m.st.SweepIndex; k-- {
			v := f.Ann[k].FVGBull
			if m.st.Bias == domain.BiasBearish {
				v = f.Ann[k].FVGBear
			}
			if z, ok := v.Get(); ok {
				return z, true
			}
		}
		return domain.Zone{}, false
	}
	ob := func() (domain.Zone, bool) {
		return feature.OrderBlockAt(f.Series.Bars, m.st.DisplacementIndex, m.st.Bias, f.Params.OBLookback)
	}

	switch m.cfg.ZoneSource {
	case ZoneModeFVG:
		return fvg()
	case ZoneModeOrderBlock:
		return ob()
	default:
		if z, ok := fvg(); ok {
			return z, true
		}
		return ob()
	}
}

// closedThrough es true si la vela cerró del otro lado de la zona.
func (m *Machine) closedThrough(bar domain.Bar) bool {
	if m.st.Bias == domain.BiasBearish {
		return bar.Close > m.st.Zone.High
	}
	return bar.Close < m.st.Zone.Low
}

func (m *Machine) confirms(bar domain.Bar, ann feature.Annotation) bool {
	bullish := m.st.Bias == domain.BiasBullish
	if bullish && !bar.IsBullish() || !bullish && !bar.IsBearish() {
		return false
	}
	if !m.st.Zone.Contains(bar.Close) {
		return false
	}
	if m.cfg.EMAFilter {
		ema, ok := ann.EMA.Get()
		if !ok {
			return false
		}
		if bullish && bar.Close <= ema || !bullish && bar.Close >= ema {
			return false
		}
	}
	return true
}

func (m *Machine) buildSignal(f *feature.Frame, i int) domain.Signal {
	bar := f.Bar(i)
	dir := m.st.Bias.Direction()
	entry := bar.Close

	stop := m.st.SweepExtreme - m.cfg.StopBuffer
	if dir == domain.Sell {
		stop = m.st.SweepExtreme + m.cfg.StopBuffer
	}
	risk := entry - stop
	target := entry + risk*m.cfg.RiskReward
	if dir == domain.Sell {
		risk = stop - entry
		target = entry - risk*m.cfg.RiskReward
	}

	return domain.Signal{
		ID:         domain.SignalID(m.cfg.Name, m.symbol, bar.Time),
		Strategy:   m.cfg.Name,
		Symbol:     m.symbol,
		Timeframe:  f.Series.Timeframe,
		Time:       bar.Time,
		BarIndex:   i,
		Direction:  dir,
		Entry:      entry,
		StopLoss:   stop,
		TakeProfit: target,
		RiskReward: m.cfg.RiskReward,
		Reason: fmt.Sprintf("%s bias, sweep %.5f@%d, displacement@%d, %s [%.5f, %.5f]",
			m.st.Bias, m.st.SweepLevel, m.st.SweepIndex, m.st.DisplacementIndex,
			m.st.Zone.Source, m.st.Zone.Low, m.st.Zone.High),
	}
}
