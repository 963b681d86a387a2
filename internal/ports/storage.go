package ports

import (
	"context"
	"time"

	"github.com/alejandrodnm/ictbot/internal/domain"
)

// Storage persiste los resultados de backtest y replay.
type Storage interface {
	// SaveRun persiste una corrida con sus señales y trades en una transacción.
	SaveRun(ctx context.Context, run domain.BacktestResult, mode string) error

	// GetRuns devuelve los resúmenes de corridas iniciadas en el rango dado.
	GetRuns(ctx context.Context, from, to time.Time) ([]domain.RunSummary, error)

	// GetTrades devuelve los trades de una corrida en orden de señal.
	GetTrades(ctx context.Context, runID string) ([]domain.Trade, error)

	// Close cierra la conexión a la base de datos limpiamente.
	Close() error
}
