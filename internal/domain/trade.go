package domain

import "time"

// Outcome es el resultado de resolver una señal contra velas futuras.
type Outcome string

const (
	OutcomeWin        Outcome = "WIN"
	OutcomeLoss       Outcome = "LOSS"
	OutcomeUnresolved Outcome = "UNRESOLVED"
)

// Trade es una señal resuelta por el simulador.
type Trade struct {
	Signal       Signal
	Outcome      Outcome
	ExitPrice    float64   // stop o target; último close si UNRESOLVED
	ExitIndex    int       // índice absoluto de la vela de salida; -1 si UNRESOLVED
	ExitOffset   int       // velas después de la señal (1 = la siguiente)
	ExitTime     time.Time
	PnL          float64
	BalanceAfter float64
}

// Resolved es true para WIN o LOSS.
func (t Trade) Resolved() bool {
	return t.Outcome == OutcomeWin || t.Outcome == OutcomeLoss
}

// BacktestResult es el resultado de correr una estrategia sobre un símbolo.
type BacktestResult struct {
	RunID     string
	Strategy  string
	Symbol    string
	Timeframe Timeframe
	From      time.Time
	To        time.Time
	Bars      int
	Signals   []Signal
	Trades    []Trade
	Stats     Stats
}

// RunSummary es la fila persistida de una corrida.
type RunSummary struct {
	ID             string
	Mode           string // backtest | replay
	Strategy       string
	Symbol         string
	Timeframe      Timeframe
	StartedAt      time.Time
	From           time.Time
	To             time.Time
	Signals        int
	Trades         int
	Wins           int
	Losses         int
	Unresolved     int
	InitialBalance float64
	FinalBalance   float64
	ReturnPct      float64
}
