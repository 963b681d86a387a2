package domain

import "time"

// PositionStatus represents the lifecycle of a paper position.
type PositionStatus string

const (
	PositionOpen PositionStatus = "OPEN"
	PositionWon  PositionStatus = "WIN"
	PositionLost PositionStatus = "LOSS"
)

// Position is a signal the paper executor accepted and is tracking bar by bar.
type Position struct {
	ID            string
	Signal        Signal
	Status        PositionStatus
	OpenedAt      time.Time // wall clock when the executor accepted the signal
	RiskAmount    float64   // risk fraction × BalanceAtOpen
	BalanceAtOpen float64
	ExitPrice     float64
	ClosedAt      *time.Time // open time of the bar that resolved it
	PnL           float64
	BalanceAfter  float64
}

// IsOpen reports whether the position is still waiting for stop or target.
func (p Position) IsOpen() bool { return p.Status == PositionOpen }

// PaperStats aggregates the paper trading history for the report.
type PaperStats struct {
	InitialBalance float64
	Balance        float64
	TotalPositions int
	OpenPositions  int
	Wins           int
	Losses         int
	WinRate        float64
	TotalPnL       float64
	ReturnPct      float64
	FirstOpenedAt  *time.Time
	BySymbol       map[string]SymbolStats
}

// SymbolStats is the per-symbol breakdown in PaperStats.
type SymbolStats struct {
	Positions int
	Wins      int
	Losses    int
	PnL       float64
}

// PaperCycle is what one polling cycle of the paper engine did.
type PaperCycle struct {
	At         time.Time
	NewSignals []Signal
	Opened     []Position
	Closed     []Position
	Rejected   []string // "<signal id>: <reason>"
	Open       []Position
	Balance    float64
	Warnings   []string
}
