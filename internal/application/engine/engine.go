package engine

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alejandrodnm/ictbot/internal/domain"
	"github.com/alejandrodnm/ictbot/internal/domain/feature"
	"github.com/alejandrodnm/ictbot/internal/domain/strategy"
)

// Instance es una estrategia corriendo sobre un símbolo: la serie acumulada,
// sus anotaciones y la máquina de patrones. Backtest, replay y paper la usan
// igual, así la secuencia de señales no depende del modo.
type Instance struct {
	cfg     strategy.Config
	symbol  string
	machine *strategy.Machine
	bias    atomic.Pointer[strategy.BiasFunc]

	mu    sync.RWMutex
	frame *feature.Frame
}

// NewInstance crea una instancia sin velas. Hasta que se llame SetHTF el bias
// es NEUTRAL y la máquina no avanza.
func NewInstance(cfg strategy.Config, symbol string, opts ...strategy.Option) (*Instance, error) {
	in := &Instance{cfg: cfg, symbol: symbol}
	neutral := strategy.FixedBias(domain.BiasNeutral)
	in.bias.Store(&neutral)

	// la máquina lee el bias vigente en cada vela
	m, err := strategy.NewMachine(cfg, symbol, func(sym string, asOf time.Time) domain.Bias {
		return (*in.bias.Load())(sym, asOf)
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("engine.NewInstance %s/%s: %w", cfg.Name, symbol, err)
	}
	in.machine = m
	in.frame = feature.NewFrame(domain.Series{Symbol: symbol, Timeframe: cfg.Timeframe}, cfg.Features)
	return in, nil
}

// Name devuelve el nombre de la estrategia.
func (in *Instance) Name() string { return in.cfg.Name }

// Symbol devuelve el símbolo.
func (in *Instance) Symbol() string { return in.symbol }

// Config devuelve la configuración de la estrategia.
func (in *Instance) Config() strategy.Config { return in.cfg }

// State devuelve una copia del estado de la máquina.
func (in *Instance) State() strategy.State { return in.machine.State() }

// SetHTF reemplaza la serie del timeframe superior. El proveedor de bias sólo
// usa velas cerradas al momento de cada consulta.
func (in *Instance) SetHTF(htf domain.Series) error {
	if err := htf.Validate(); err != nil {
		return fmt.Errorf("engine.SetHTF %s/%s: %w", in.cfg.Name, in.symbol, err)
	}
	b, err := strategy.NewBias(in.cfg, htf)
	if err != nil {
		return fmt.Errorf("engine.SetHTF %s/%s: %w", in.cfg.Name, in.symbol, err)
	}
	in.bias.Store(&b)
	return nil
}

// SetBias fija un proveedor de bias externo.
func (in *Instance) SetBias(b strategy.BiasFunc) {
	in.bias.Store(&b)
}

// Append agrega las velas posteriores a la última conocida y re-anota la
// serie. Con asOf distinto de cero sólo se agregan velas cerradas en o antes
// de asOf. Devuelve cuántas velas se agregaron; si el resultado no es una
// serie válida no se agrega ninguna.
func (in *Instance) Append(bars []domain.Bar, asOf time.Time) (int, error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	cur := in.frame.Series
	var last time.Time
	if n := cur.Len(); n > 0 {
		last = cur.Bars[n-1].Time
	}
	tf := in.cfg.Timeframe.Duration()

	var fresh []domain.Bar
	for _, b := range bars {
		if cur.Len() > 0 && !b.Time.After(last) {
			continue
		}
		if !asOf.IsZero() && b.Time.Add(tf).After(asOf) {
			break
		}
		fresh = append(fresh, b)
	}
	if len(fresh) == 0 {
		return 0, nil
	}

	next := domain.Series{
		Symbol:    cur.Symbol,
		Timeframe: cur.Timeframe,
		Bars:      make([]domain.Bar, 0, cur.Len()+len(fresh)),
	}
	next.Bars = append(next.Bars, cur.Bars...)
	next.Bars = append(next.Bars, fresh...)
	if err := next.Validate(); err != nil {
		return 0, fmt.Errorf("engine.Append %s/%s: %w", in.cfg.Name, in.symbol, err)
	}

	in.frame = feature.NewFrame(next, in.cfg.Features)
	return len(fresh), nil
}

// Step procesa todas las velas pendientes.
func (in *Instance) Step() []domain.Signal {
	return in.StepTo(in.Len())
}

// StepTo procesa las velas pendientes con índice menor a n, en orden.
func (in *Instance) StepTo(n int) []domain.Signal {
	in.mu.RLock()
	f := in.frame
	in.mu.RUnlock()

	if n > f.Len() {
		n = f.Len()
	}
	var out []domain.Signal
	for i := in.machine.State().LastIndex + 1; i < n; i++ {
		if sig := in.machine.Step(f, i); sig != nil {
			out = append(out, *sig)
		}
	}
	return out
}

// Len devuelve la cantidad de velas acumuladas.
func (in *Instance) Len() int {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.frame.Len()
}

// Series devuelve la serie acumulada. El slice no debe modificarse.
func (in *Instance) Series() domain.Series {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.frame.Series
}

// BarsAfter devuelve las velas con apertura estrictamente posterior a t.
func (in *Instance) BarsAfter(t time.Time) []domain.Bar {
	s := in.Series()
	i := s.IndexAfter(t)
	return s.Bars[i:]
}

// NopMetrics descarta todos los eventos.
type NopMetrics struct{}

func (NopMetrics) RecordSignal(domain.Signal) {}
func (NopMetrics) RecordTrade(string, domain.Outcome) {}
func (NopMetrics) RecordRejection(string) {}
func (NopMetrics) RecordFetchError(string) {}
func (NopMetrics) SetBalance(string, float64) {}
func (NopMetrics) SetOpenPositions(int) {}
func (NopMetrics) RecordLatency(string, float64) {}

// TruncateStr trunca un string a maxLen caracteres añadiendo "..." si es necesario.
func TruncateStr(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
