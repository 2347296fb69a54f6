package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sessiond"

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	processStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "starts_total",
			Help:      "Number of successful process launches.",
		}, []string{"name"},
	)
	processSpawnFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "spawn_failures_total",
			Help:      "Number of launches the OS refused.",
		}, []string{"name"},
	)
	processUnexpectedExits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "unexpected_exits_total",
			Help:      "Number of exits observed while not shutting down.",
		}, []string{"name"},
	)
	processStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "stops_total",
			Help:      "Number of terminations requested by the supervisor.",
		}, []string{"name"},
	)
	setRestarts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "supervisor",
			Name:      "restarts_total",
			Help:      "Number of full managed-set restarts performed.",
		},
	)
	supervisorState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "supervisor",
			Name:      "state",
			Help:      "Current supervisor state (1 = active state, 0 = inactive).",
		}, []string{"state"},
	)
	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "supervisor",
			Name:      "state_transitions_total",
			Help:      "Number of supervisor state transitions.",
		}, []string{"from", "to"},
	)
	probeAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "probe",
			Name:      "attempts_total",
			Help:      "Readiness requests issued, by outcome.",
		}, []string{"target", "outcome"},
	)
	probeTimeouts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "probe",
			Name:      "timeouts_total",
			Help:      "Readiness waits that hit their deadline.",
		}, []string{"target"},
	)
	readinessSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "probe",
			Name:      "ready_seconds",
			Help:      "Time from the first attempt until a target reported healthy.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60},
		}, []string{"target"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		processStarts, processSpawnFailures, processUnexpectedExits, processStops,
		setRestarts, supervisorState, stateTransitions,
		probeAttempts, probeTimeouts, readinessSeconds,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// HandlerFor serves metrics from a specific gatherer.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncStart(name string) {
	if regOK.Load() {
		processStarts.WithLabelValues(name).Inc()
	}
}

func IncSpawnFailure(name string) {
	if regOK.Load() {
		processSpawnFailures.WithLabelValues(name).Inc()
	}
}

func IncUnexpectedExit(name string) {
	if regOK.Load() {
		processUnexpectedExits.WithLabelValues(name).Inc()
	}
}

func IncStop(name string) {
	if regOK.Load() {
		processStops.WithLabelValues(name).Inc()
	}
}

func IncSetRestart() {
	if regOK.Load() {
		setRestarts.Inc()
	}
}

// RecordStateTransition moves the state gauge from one state to another.
func RecordStateTransition(from, to string) {
	if !regOK.Load() || from == to {
		return
	}
	stateTransitions.WithLabelValues(from, to).Inc()
	supervisorState.WithLabelValues(from).Set(0)
	supervisorState.WithLabelValues(to).Set(1)
}

func IncProbeAttempt(target string, healthy bool) {
	if regOK.Load() {
		outcome := "unready"
		if healthy {
			outcome = "healthy"
		}
		probeAttempts.WithLabelValues(target, outcome).Inc()
	}
}

func IncProbeTimeout(target string) {
	if regOK.Load() {
		probeTimeouts.WithLabelValues(target).Inc()
	}
}

func ObserveReadiness(target string, seconds float64) {
	if regOK.Load() {
		readinessSeconds.WithLabelValues(target).Observe(seconds)
	}
}
