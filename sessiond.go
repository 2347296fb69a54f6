// Package sessiond assembles the local service supervisor: it launches the
// configured processes, keeps them running, gates the UI on the API's
// readiness and tears everything down exactly once on quit.
package sessiond

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/salestroopz/sessiond/internal/config"
	"github.com/salestroopz/sessiond/internal/history"
	"github.com/salestroopz/sessiond/internal/history/factory"
	"github.com/salestroopz/sessiond/internal/logger"
	"github.com/salestroopz/sessiond/internal/metrics"
	"github.com/salestroopz/sessiond/internal/probe"
	"github.com/salestroopz/sessiond/internal/process"
	"github.com/salestroopz/sessiond/internal/server"
	"github.com/salestroopz/sessiond/internal/session"
	"github.com/salestroopz/sessiond/internal/shutdown"
	"github.com/salestroopz/sessiond/internal/supervisor"
)

// Re-export the types embedders need.

type Config = config.Config

type Spec = process.Spec

type UI = session.UI

type Snapshot = supervisor.Snapshot

type HistoryEvent = history.Event

func LoadConfig(path string) (*Config, error) { return config.Load(path) }

// DiagnosticPage renders the fallback document for a readiness failure.
func DiagnosticPage(err error) string { return session.DiagnosticPage(err) }

// App owns one desktop session.
type App struct {
	cfg *Config
	log *slog.Logger

	sup      *supervisor.Supervisor
	ctrl     *session.Controller
	coord    *shutdown.Coordinator
	recorder *history.Recorder
	registry *prometheus.Registry

	srv  *http.Server
	addr atomic.Value // bound control address
}

type Option func(*App)

func WithLogger(l *slog.Logger) Option {
	return func(a *App) {
		if l != nil {
			a.log = l
		}
	}
}

// New wires an App from cfg. ui receives the session's readiness signal.
func New(cfg *Config, ui UI, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("nil config")
	}
	a := &App{cfg: cfg, log: logger.Discard(), registry: prometheus.NewRegistry()}
	for _, o := range opts {
		o(a)
	}

	e, err := cfg.NewEnv()
	if err != nil {
		return nil, err
	}
	specs, err := cfg.Specs()
	if err != nil {
		return nil, err
	}

	if cfg.History.DSN != "" {
		sink, err := factory.NewSinkFromDSN(cfg.History.DSN)
		if err != nil {
			return nil, fmt.Errorf("history sink: %w", err)
		}
		a.recorder = history.NewRecorder(a.log, []history.Sink{sink})
	}

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		a.log.Warn("metrics registration failed", "error", err)
	}

	launcher := process.NewLauncher(e, a.log)
	a.sup = supervisor.New(supervisor.FromProcess(launcher),
		supervisor.WithLogger(a.log),
		supervisor.WithRestartDelay(cfg.Restart.Delay),
		supervisor.WithStopWait(cfg.Restart.StopWait),
		supervisor.WithHistory(a.recorder),
	)
	if cfg.Control.Resources {
		a.registry.MustRegister(metrics.NewResourceCollector(a.sup.PIDs))
	}

	prober := probe.New(probe.WithInterval(cfg.Readiness.Interval), probe.WithLogger(a.log))
	a.ctrl = session.New(a.sup, prober, ui, session.Config{
		Specs:     specs,
		Primary:   cfg.PrimaryTarget(),
		Secondary: cfg.SecondaryTargets(),
	}, a.log)
	a.coord = shutdown.New(a.sup, a.log, cfg.Restart.ShutdownTimeout)

	if cfg.Control.Listen != "" {
		opts := []server.Option{server.WithQuitter(a.coord), server.WithActivator(a.ctrl)}
		if rd, ok := a.recorder.Reader(); ok {
			opts = append(opts, server.WithHistory(rd))
		}
		if cfg.Control.Metrics {
			opts = append(opts, server.WithMetrics(prometheus.Gatherers{prometheus.DefaultGatherer, a.registry}))
		}
		a.srv = server.NewServer(cfg.Control.Listen, server.NewRouter(a.sup, opts...).Handler())
	}
	return a, nil
}

// Run starts the session and blocks until shutdown completes. Shutdown is
// triggered by ctx cancellation, SIGINT/SIGTERM, POST /quit or Quit.
func (a *App) Run(ctx context.Context) error {
	if a.srv != nil {
		ln, err := net.Listen("tcp", a.srv.Addr)
		if err != nil {
			a.sup.Close()
			if cerr := a.recorder.Close(); cerr != nil {
				a.log.Warn("history close failed", "error", cerr)
			}
			return fmt.Errorf("control listener: %w", err)
		}
		a.addr.Store(ln.Addr().String())
		go func() {
			if err := a.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.log.Error("control server stopped", "error", err)
			}
		}()
		a.log.Info("control server listening", "addr", ln.Addr().String())
		a.coord.OnShutdown(a.srv.Shutdown)
	}
	a.coord.OnShutdown(func(context.Context) error { return a.recorder.Close() })

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = a.ctrl.Start(runCtx)
	}()

	err := a.coord.Watch(ctx)
	cancel()
	wg.Wait()
	a.sup.Close()
	return err
}

// Quit runs the shutdown sequence and waits for it.
func (a *App) Quit(ctx context.Context) error { return a.coord.BeginShutdown(ctx) }

// Activate restarts whatever is not running, e.g. on shell re-activation.
func (a *App) Activate(ctx context.Context) error { return a.ctrl.Activate(ctx) }

func (a *App) Snapshot(ctx context.Context) (Snapshot, error) { return a.sup.Snapshot(ctx) }

// ControlAddr returns the bound control address once Run has started it.
func (a *App) ControlAddr() string {
	s, _ := a.addr.Load().(string)
	return s
}
