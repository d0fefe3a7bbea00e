package observability

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ShutdownFunc releases one resource
type ShutdownFunc func(context.Context) error

// ShutdownManager runs registered cleanup steps in reverse registration order
type ShutdownManager struct {
	logger  *Logger
	timeout time.Duration

	mu    sync.Mutex
	names []string
	funcs []ShutdownFunc
	done  bool
}

// NewShutdownManager creates a manager; timeout defaults to 30s
func NewShutdownManager(logger *Logger, timeout time.Duration) *ShutdownManager {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ShutdownManager{logger: logger, timeout: timeout}
}

// Register adds a named cleanup step
func (sm *ShutdownManager) Register(name string, fn ShutdownFunc) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.names = append(sm.names, name)
	sm.funcs = append(sm.funcs, fn)
}

// Shutdown runs every step once, last registered first. Later calls are no-ops.
func (sm *ShutdownManager) Shutdown(ctx context.Context) error {
	sm.mu.Lock()
	if sm.done {
		sm.mu.Unlock()
		return nil
	}
	sm.done = true
	names, funcs := sm.names, sm.funcs
	sm.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, sm.timeout)
	defer cancel()

	var errs []error
	for i := len(funcs) - 1; i >= 0; i-- {
		if err := funcs[i](ctx); err != nil {
			sm.logger.WithError(err).WithField("component", names[i]).Error("shutdown step failed")
			errs = append(errs, fmt.Errorf("%s: %w", names[i], err))
			continue
		}
		sm.logger.WithField("component", names[i]).Debug("shutdown step complete")
	}

	if err := ctx.Err(); err != nil {
		errs = append(errs, fmt.Errorf("shutdown timeout: %w", err))
	}
	return errors.Join(errs...)
}
