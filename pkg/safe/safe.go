// pkg/safe/safe.go
package safe

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"go.uber.org/zap"

	"github.com/YaganovValera/market-feed/pkg/logger"
)

// PanicError wraps a recovered panic value.
type PanicError struct {
	Value interface{}
	Stack []byte
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic: %v", e.Value) }

// Call runs fn and converts a panic into *PanicError.
func Call(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	fn()
	return nil
}

// Group is errgroup-like with panic protection. The first error or panic
// cancels the group context; Wait returns the first error.
type Group struct {
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	log    *logger.Logger

	errOnce sync.Once
	err     error
}

// New creates a group bound to ctx.
func New(ctx context.Context, log *logger.Logger) *Group {
	ctx, cancel := context.WithCancel(ctx)
	return &Group{
		ctx:    ctx,
		cancel: cancel,
		log:    log.Named("safe"),
	}
}

// Go starts fn in a protected goroutine.
func (g *Group) Go(name string, fn func(ctx context.Context) error) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		var err error
		if perr := Call(func() { err = fn(g.ctx) }); perr != nil {
			g.log.Error("panic recovered", zap.String("goroutine", name), zap.Error(perr))
			err = perr
		}
		if err != nil && g.ctx.Err() == nil {
			g.log.Error("goroutine error", zap.String("goroutine", name), zap.Error(err))
		}
		if err != nil {
			g.errOnce.Do(func() {
				g.err = err
				g.cancel()
			})
		}
	}()
}

// Wait blocks until every goroutine returns and reports the first error.
func (g *Group) Wait() error {
	g.wg.Wait()
	g.cancel()
	return g.err
}

// Context returns the group context.
func (g *Group) Context() context.Context { return g.ctx }
