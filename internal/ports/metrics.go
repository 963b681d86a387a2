package ports

import "github.com/alejandrodnm/ictbot/internal/domain"

// Metrics recibe los eventos de los engines. Las implementaciones no deben bloquear.
type Metrics interface {
	RecordSignal(sig domain.Signal)
	RecordTrade(strategy string, outcome domain.Outcome)
	RecordRejection(strategy string)
	RecordFetchError(symbol string)
	SetBalance(mode string, balance float64)
	SetOpenPositions(n int)
	RecordLatency(op string, seconds float64)
}
