package ports

import (
	"context"

	"github.com/alejandrodnm/ictbot/internal/domain"
)

// BarSource entrega velas OHLC ordenadas por tiempo.
type BarSource interface {
	// FetchBars devuelve la serie pedida. Las velas devueltas ya pasaron
	// Series.Validate; una serie malformada se reporta como error.
	FetchBars(ctx context.Context, req domain.BarRequest) (domain.Series, error)
}
