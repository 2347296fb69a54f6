// Package shutdown turns any number of quit requests into exactly one
// orderly teardown of the managed set.
package shutdown

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/salestroopz/sessiond/internal/logger"
)

// Supervisor is the part of the supervisor the coordinator drives.
type Supervisor interface {
	BeginShutdown(ctx context.Context) (bool, error)
	StopAll(ctx context.Context) error
}

// Hook runs after the managed set is stopped, e.g. to close listeners.
type Hook func(ctx context.Context) error

// Coordinator runs the shutdown sequence once: set the terminal flag, then
// terminate every managed process, then run hooks. Concurrent callers block
// until the first sequence finishes and observe its result.
type Coordinator struct {
	sup     Supervisor
	log     *slog.Logger
	timeout time.Duration

	mu    sync.Mutex
	hooks []Hook

	once sync.Once
	done chan struct{}
	err  error
}

// New creates a Coordinator. timeout bounds the whole sequence when the
// caller's context has no deadline; zero means 30s.
func New(sup Supervisor, log *slog.Logger, timeout time.Duration) *Coordinator {
	if log == nil {
		log = logger.Discard()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Coordinator{sup: sup, log: log.With("component", "shutdown"), timeout: timeout, done: make(chan struct{})}
}

// OnShutdown registers a hook. Hooks run in registration order.
func (c *Coordinator) OnShutdown(h Hook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, h)
}

// BeginShutdown runs the sequence on the first call; later calls wait for
// it and return the same error.
func (c *Coordinator) BeginShutdown(ctx context.Context) error {
	c.once.Do(func() {
		defer close(c.done)
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		c.err = c.run(ctx)
	})
	<-c.done
	return c.err
}

// Done is closed once the sequence has finished.
func (c *Coordinator) Done() <-chan struct{} { return c.done }

// Err returns the sequence result once Done is closed.
func (c *Coordinator) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

func (c *Coordinator) run(ctx context.Context) error {
	var errs []error
	// The flag goes first so no restart can start while we terminate.
	first, err := c.sup.BeginShutdown(ctx)
	if err != nil {
		errs = append(errs, err)
	}
	c.log.Info("shutting down", "initiator", first)

	if err := c.sup.StopAll(ctx); err != nil {
		errs = append(errs, err)
	}

	c.mu.Lock()
	hooks := append([]Hook(nil), c.hooks...)
	c.mu.Unlock()
	for _, h := range hooks {
		if err := h(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	err = errors.Join(errs...)
	if err != nil {
		c.log.Warn("shutdown finished with errors", "error", err)
	} else {
		c.log.Info("shutdown complete")
	}
	return err
}

// Watch blocks until one of sigs arrives, ctx is cancelled, or another
// caller finishes the sequence; in the first two cases it runs BeginShutdown.
// With no sigs it watches os.Interrupt and the platform terminate signal.
func (c *Coordinator) Watch(ctx context.Context, sigs ...os.Signal) error {
	if len(sigs) == 0 {
		sigs = defaultSignals()
	}
	sctx, stop := signal.NotifyContext(ctx, sigs...)
	defer stop()
	select {
	case <-sctx.Done():
		if ctx.Err() == nil {
			c.log.Info("signal received")
		}
	case <-c.done:
		return c.err
	}
	return c.BeginShutdown(context.Background())
}
