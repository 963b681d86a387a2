package ports

import (
	"context"

	"github.com/alejandrodnm/ictbot/internal/domain"
)

// Notifier presenta las señales nuevas al usuario.
type Notifier interface {
	// NotifySignal muestra una señal recién emitida.
	// En la implementación de consola, imprime una línea compacta.
	NotifySignal(ctx context.Context, sig domain.Signal) error
}
