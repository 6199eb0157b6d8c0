package resolve

import (
	"context"
	"log/slog"
	"sync"

	"focusd/internal/logging"
)

var resolveLog = logging.ForComponent(logging.CompResolve)

// Executor performs one activation action against the host. It runs outside
// the resolver and may block on window-system calls.
type Executor func(ctx context.Context, dec Decision) error

// Dispatcher serializes activation execution with last-request-wins
// semantics: starting a new dispatch cancels the one still in flight, and a
// superseded dispatch's completion is reported as not applied so the caller
// never acts on a stale focus change.
type Dispatcher struct {
	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc
}

// NewDispatcher returns an idle dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

// Dispatch runs exec for dec. applied is false when a newer dispatch
// superseded this one before it finished; its error, if any, is swallowed
// since nobody should react to a cancelled activation.
func (d *Dispatcher) Dispatch(ctx context.Context, dec Decision, exec Executor) (applied bool, err error) {
	d.mu.Lock()
	d.gen++
	mine := d.gen
	if d.cancel != nil {
		d.cancel()
	}
	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.mu.Unlock()

	err = exec(runCtx, dec)

	d.mu.Lock()
	superseded := d.gen != mine
	if !superseded {
		d.cancel = nil
	}
	d.mu.Unlock()
	cancel()

	if superseded {
		resolveLog.Debug("dispatch_superseded",
			slog.String("target", dec.TargetPath),
			slog.Uint64("generation", mine))
		return false, nil
	}
	return true, err
}
