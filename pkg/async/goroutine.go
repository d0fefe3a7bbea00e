package async

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mustardtree/portal/pkg/observability"
)

// run executes fn with a timeout, turning a panic into an error
func run(ctx context.Context, timeout time.Duration, fn func(context.Context) error) (err error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return fn(ctx)
}

// PanicError is a recovered panic
type PanicError struct {
	Value interface{}
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

func report(ctx context.Context, taskName string, err error) {
	if err == nil {
		return
	}
	logger := observability.GetLogger(ctx).WithField("task", taskName)
	if p, ok := err.(*PanicError); ok {
		logger.WithField("stack", string(p.Stack)).Errorf("Recovered %v", p)
		return
	}
	logger.WithError(err).Warn("Background task failed")
}

// SafeGo executes fn in a goroutine bounded by timeout. Errors and panics
// are logged through the logger in ctx and never propagate.
//
//	async.SafeGo(ctx, 5*time.Second, "cache warm", func(ctx context.Context) error {
//		return cache.Warm(ctx)
//	})
func SafeGo(ctx context.Context, timeout time.Duration, taskName string, fn func(context.Context) error) {
	go func() {
		report(ctx, taskName, run(ctx, timeout, fn))
	}()
}

// Group is SafeGo with a Wait. The zero value is ready to use.
type Group struct {
	wg sync.WaitGroup
}

// Go runs fn like SafeGo and tracks it for Wait
func (g *Group) Go(ctx context.Context, timeout time.Duration, taskName string, fn func(context.Context) error) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		report(ctx, taskName, run(ctx, timeout, fn))
	}()
}

// Wait blocks until every task started with Go has returned
func (g *Group) Wait() {
	g.wg.Wait()
}

// Batch runs fn for each item with at most workers in flight and returns
// the errors, panics included. One failing item does not stop the others.
func Batch[T any](ctx context.Context, items []T, workers int, timeout time.Duration, fn func(context.Context, T) error) []error {
	if workers <= 0 {
		workers = 1
	}

	var (
		mu   sync.Mutex
		errs []error
		g    errgroup.Group
	)
	g.SetLimit(workers)
	for _, item := range items {
		g.Go(func() error {
			if err := run(ctx, timeout, func(ctx context.Context) error { return fn(ctx, item) }); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errs
}
