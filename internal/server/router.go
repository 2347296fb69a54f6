package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/salestroopz/sessiond/internal/history"
	"github.com/salestroopz/sessiond/internal/metrics"
	"github.com/salestroopz/sessiond/internal/supervisor"
)

// Router is the local control surface used by the desktop shell.
// Endpoints:
//
//	GET  {basePath}/status     supervisor snapshot
//	GET  {basePath}/healthz    supervisor liveness and state
//	GET  {basePath}/resources  CPU/memory of live managed processes
//	GET  {basePath}/history    recent lifecycle events (limit=N)
//	GET  {basePath}/metrics    Prometheus exposition (when a gatherer is set)
//	POST {basePath}/activate   restart whatever is not running
//	POST {basePath}/quit       begin shutdown; returns immediately
type Router struct {
	sup      Supervisor
	quit     Quitter
	activate Activator
	history  history.Reader
	gatherer prometheus.Gatherer
	basePath string
}

// Supervisor exposes supervisor state to the router.
type Supervisor interface {
	Snapshot(ctx context.Context) (supervisor.Snapshot, error)
}

// Quitter starts the shutdown sequence.
type Quitter interface {
	BeginShutdown(ctx context.Context) error
}

// Activator handles shell re-activation.
type Activator interface {
	Activate(ctx context.Context) error
}

type Option func(*Router)

func WithBasePath(bp string) Option { return func(r *Router) { r.basePath = sanitizeBase(bp) } }

func WithQuitter(q Quitter) Option { return func(r *Router) { r.quit = q } }

func WithActivator(a Activator) Option { return func(r *Router) { r.activate = a } }

func WithHistory(h history.Reader) Option { return func(r *Router) { r.history = h } }

// WithMetrics mounts /metrics for the given gatherer.
func WithMetrics(g prometheus.Gatherer) Option { return func(r *Router) { r.gatherer = g } }

func NewRouter(sup Supervisor, opts ...Option) *Router {
	r := &Router{sup: sup}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatus)
	group.GET("/healthz", r.handleHealthz)
	group.GET("/resources", r.handleResources)
	group.GET("/history", r.handleHistory)
	group.POST("/activate", r.handleActivate)
	group.POST("/quit", r.handleQuit)
	if r.gatherer != nil {
		group.GET("/metrics", gin.WrapH(metrics.HandlerFor(r.gatherer)))
	}
	return g
}

// NewServer returns an http.Server for h with the usual local timeouts.
// The caller starts and stops it.
func NewServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

type healthResp struct {
	OK    bool   `json:"ok"`
	State string `json:"state"`
}

type resourceResp struct {
	Name  string        `json:"name"`
	PID   int           `json:"pid"`
	Usage metrics.Usage `json:"usage"`
	Error string        `json:"error,omitempty"`
}

func (r *Router) handleStatus(c *gin.Context) {
	snap, err := r.sup.Snapshot(c.Request.Context())
	if err != nil {
		writeJSON(c, http.StatusServiceUnavailable, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, snap)
}

func (r *Router) handleHealthz(c *gin.Context) {
	snap, err := r.sup.Snapshot(c.Request.Context())
	if err != nil {
		writeJSON(c, http.StatusServiceUnavailable, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, healthResp{OK: true, State: snap.State.String()})
}

func (r *Router) handleResources(c *gin.Context) {
	snap, err := r.sup.Snapshot(c.Request.Context())
	if err != nil {
		writeJSON(c, http.StatusServiceUnavailable, errorResp{Error: err.Error()})
		return
	}
	out := make([]resourceResp, 0, len(snap.Processes))
	for _, p := range snap.Processes {
		if !p.Running {
			continue
		}
		rr := resourceResp{Name: p.Name, PID: p.PID}
		if u, err := metrics.Sample(int32(p.PID)); err != nil {
			rr.Error = err.Error()
		} else {
			rr.Usage = u
		}
		out = append(out, rr)
	}
	writeJSON(c, http.StatusOK, out)
}

func (r *Router) handleHistory(c *gin.Context) {
	if r.history == nil {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "history is not enabled"})
		return
	}
	limit := 50
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 || n > 1000 {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "limit must be between 1 and 1000"})
			return
		}
		limit = n
	}
	events, err := r.history.Recent(c.Request.Context(), limit)
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, events)
}

func (r *Router) handleActivate(c *gin.Context) {
	if r.activate == nil {
		writeJSON(c, http.StatusNotImplemented, errorResp{Error: "activation is not supported"})
		return
	}
	if err := r.activate.Activate(c.Request.Context()); err != nil {
		writeJSON(c, http.StatusConflict, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleQuit(c *gin.Context) {
	if r.quit == nil {
		writeJSON(c, http.StatusNotImplemented, errorResp{Error: "quit is not supported"})
		return
	}
	// The shutdown sequence closes this server, so it must not run on the
	// request goroutine.
	go func() { _ = r.quit.BeginShutdown(context.Background()) }()
	writeJSON(c, http.StatusAccepted, okResp{OK: true})
}
