// Package session sequences a desktop session: start the managed set, wait
// for the API to become ready, then tell the UI which view to load.
package session

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/salestroopz/sessiond/internal/logger"
	"github.com/salestroopz/sessiond/internal/probe"
	"github.com/salestroopz/sessiond/internal/process"
)

// UI receives exactly one signal per Start.
type UI interface {
	OnReady()
	OnReadinessFailed(err error)
}

// Supervisor is the subset of the supervisor the controller needs.
type Supervisor interface {
	EnsureStarted(ctx context.Context, specs []process.Spec) error
}

// Prober waits for a single readiness target.
type Prober interface {
	AwaitReady(ctx context.Context, target probe.Target) (probe.Result, error)
}

// Config describes what a session starts and waits for.
type Config struct {
	Specs     []process.Spec
	Primary   probe.Target   // gates the UI
	Secondary []probe.Target // optional, probed alongside the primary
}

// Controller owns the startup sequence of one session.
type Controller struct {
	sup    Supervisor
	prober Prober
	ui     UI
	cfg    Config
	log    *slog.Logger
}

func New(sup Supervisor, prober Prober, ui UI, cfg Config, log *slog.Logger) *Controller {
	if log == nil {
		log = logger.Discard()
	}
	return &Controller{sup: sup, prober: prober, ui: ui, cfg: cfg, log: log.With("component", "session")}
}

// Start launches the managed set, waits for readiness and emits one UI
// signal. A spawn failure does not abort the wait: it is reported together
// with the readiness failure it causes. The returned error is the one
// given to OnReadinessFailed, or nil after OnReady.
func (c *Controller) Start(ctx context.Context) error {
	spawnErr := c.sup.EnsureStarted(ctx, c.cfg.Specs)
	if spawnErr != nil {
		c.log.Error("managed set not fully started", "error", spawnErr)
		if !process.IsSpawnError(spawnErr) {
			// Shutting down or the supervisor is gone: nothing to wait for.
			c.ui.OnReadinessFailed(spawnErr)
			return spawnErr
		}
	}

	if err := c.awaitReady(ctx); err != nil {
		err = errors.Join(err, spawnErr)
		c.log.Error("readiness failed", "error", err)
		c.ui.OnReadinessFailed(err)
		return err
	}
	c.log.Info("session ready", "url", c.cfg.Primary.URL)
	c.ui.OnReady()
	return nil
}

// Activate handles re-activation of the shell: it restarts whatever is not
// running and emits no UI signal.
func (c *Controller) Activate(ctx context.Context) error {
	return c.sup.EnsureStarted(ctx, c.cfg.Specs)
}

func (c *Controller) awaitReady(ctx context.Context) error {
	if len(c.cfg.Secondary) == 0 {
		_, err := c.prober.AwaitReady(ctx, c.cfg.Primary)
		return err
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, t := range append([]probe.Target{c.cfg.Primary}, c.cfg.Secondary...) {
		t := t
		g.Go(func() error {
			_, err := c.prober.AwaitReady(gctx, t)
			return err
		})
	}
	return g.Wait()
}
