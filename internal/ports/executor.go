package ports

import (
	"context"

	"github.com/alejandrodnm/ictbot/internal/domain"
)

// Executor turns an emitted signal into a position. A rejection is returned
// as an error wrapping domain.ErrRejected and is final for that signal: the
// caller must not resubmit it.
type Executor interface {
	Execute(ctx context.Context, sig domain.Signal) (domain.Position, error)
}
