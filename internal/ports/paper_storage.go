package ports

import (
	"context"
	"time"

	"github.com/alejandrodnm/ictbot/internal/domain"
)

// PaperStorage persists paper trading state.
type PaperStorage interface {
	ApplyPaperSchema(ctx context.Context) error

	SavePosition(ctx context.Context, p domain.Position) error
	ClosePosition(ctx context.Context, p domain.Position) error
	GetOpenPositions(ctx context.Context) ([]domain.Position, error)
	GetClosedPositions(ctx context.Context) ([]domain.Position, error)
	CountOpenedSince(ctx context.Context, strategy, symbol string, since time.Time) (int, error)
	HasSignal(ctx context.Context, signalID string) (bool, error)
	GetPaperStats(ctx context.Context, initialBalance float64) (domain.PaperStats, error)
}
