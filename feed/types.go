package feed

import (
	"context"

	"github.com/defistate/arb-engine-go/engine"
)

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Source opens subscriptions to a stream of decoded pool change events.
// Each call to Subscribe establishes a fresh connection; the loop calls
// it again after a transport failure.
type Source interface {
	// Name identifies the source in logs and metrics.
	Name() string
	Subscribe(ctx context.Context) (Subscription, error)
}

// Subscription delivers events until the transport fails or Close is
// called. After a value arrives on Err the subscription is dead and the
// loop reconnects.
type Subscription interface {
	Events() <-chan engine.PoolEvent
	Err() <-chan error
	Close()
}
