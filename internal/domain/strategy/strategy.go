// Package strategy implements the pattern state machine that turns annotated
// bars into trade signals: bias, liquidity sweep, displacement with structure
// shift, zone, retracement and confirmation.
package strategy

import (
	"time"

	"github.com/alejandrodnm/ictbot/internal/domain"
	"github.com/alejandrodnm/ictbot/internal/domain/feature"
)

// Stage es la etapa del patrón. El orden numérico es el orden de avance.
type Stage int

const (
	StageAwaitingBias Stage = iota
	StageBiasSet
	StageAwaitingSweep
	StageSwept
	StageAwaitingDisplacement
	StageStructureShift
	StageAwaitingRetrace
	StageEntryReady
	StageSignalEmitted
)

var stageNames = [...]string{
	"AWAITING_BIAS",
	"BIAS_SET",
	"AWAITING_SWEEP",
	"SWEPT",
	"AWAITING_DISPLACEMENT",
	"STRUCTURE_SHIFT_CONFIRMED",
	"AWAITING_RETRACE",
	"ENTRY_READY",
	"SIGNAL_EMITTED",
}

func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return "UNKNOWN"
	}
	return stageNames[s]
}

// Motivos de reset y de transición reportados a los observers.
const (
	ReasonBiasFlip        = "bias_flip"
	ReasonTimeout         = "timeout"
	ReasonZoneInvalidated = "zone_invalidated"
	ReasonInvalidSignal   = "invalid_signal"
	ReasonEmitted         = "emitted"
)

// BiasFunc devuelve el bias del timeframe superior conocido en asOf.
// Sólo puede usar velas cerradas en o antes de asOf.
type BiasFunc func(symbol string, asOf time.Time) domain.Bias

// Transition es un cambio de etapa observado.
type Transition struct {
	From   Stage
	To     Stage
	Reason string
	Index  int
	Time   time.Time
}

// IsReset es true para las vueltas a AWAITING_BIAS.
func (t Transition) IsReset() bool { return t.To == StageAwaitingBias }

// Observer recibe cada transición. Se llama con el lock de la máquina tomado:
// no debe llamar de vuelta a la máquina.
type Observer func(Transition)

// State es el estado de una instancia. Los lectores reciben copias.
type State struct {
	Stage             Stage
	Bias              domain.Bias
	Zone              domain.Zone
	HasZone           bool
	SweepIndex        int
	SweepLevel        float64
	SweepExtreme      float64
	DisplacementIndex int
	StageEnteredAt    time.Time
	Deadline          time.Time // zero = sin deadline
	LastIndex         int       // última vela procesada; -1 al inicio
}

// Evaluator es lo que los engines necesitan de una instancia.
type Evaluator interface {
	Step(f *feature.Frame, i int) *domain.Signal
	State() State
}
