// Package probe waits for an HTTP liveness endpoint to report healthy.
package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/salestroopz/sessiond/internal/logger"
	"github.com/salestroopz/sessiond/internal/metrics"
)

// DefaultInterval is the constant delay between attempts.
const DefaultInterval = 300 * time.Millisecond

// Target is an endpoint URL plus the deadline for one wait.
type Target struct {
	Name     string // label for logs and metrics; defaults to URL
	URL      string
	Deadline time.Duration
}

func (t Target) label() string {
	if t.Name != "" {
		return t.Name
	}
	return t.URL
}

// Result describes a successful wait.
type Result struct {
	Attempts int
	Elapsed  time.Duration
	Status   int
}

// Retries is the number of attempts after the first.
func (r Result) Retries() int {
	if r.Attempts == 0 {
		return 0
	}
	return r.Attempts - 1
}

// ReadinessTimeout is returned when no healthy response was observed
// before the deadline.
type ReadinessTimeout struct {
	URL      string
	Deadline time.Duration
	Elapsed  time.Duration
	Attempts int
	LastErr  error // last transport error or unhealthy status
}

func (e *ReadinessTimeout) Error() string {
	msg := fmt.Sprintf("%s not ready within %s (elapsed %s, %d attempts)",
		e.URL, e.Deadline, e.Elapsed.Round(time.Millisecond), e.Attempts)
	if e.LastErr != nil {
		msg += ": " + e.LastErr.Error()
	}
	return msg
}

func (e *ReadinessTimeout) Unwrap() error { return e.LastErr }

// StatusError is recorded when the endpoint answered outside 200-399.
type StatusError struct{ Code int }

func (e *StatusError) Error() string { return fmt.Sprintf("unhealthy status %d", e.Code) }

// Healthy reports whether status counts as ready.
func Healthy(status int) bool { return status >= 200 && status < 400 }

// Prober performs sequential readiness waits. A Prober has at most one
// request in flight; use separate calls from separate goroutines to wait on
// several targets concurrently.
type Prober struct {
	client   *http.Client
	interval time.Duration
	log      *slog.Logger
}

type Option func(*Prober)

// WithInterval sets the constant backoff between attempts.
func WithInterval(d time.Duration) Option {
	return func(p *Prober) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithClient replaces the HTTP client.
func WithClient(c *http.Client) Option {
	return func(p *Prober) {
		if c != nil {
			p.client = c
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(p *Prober) {
		if l != nil {
			p.log = l
		}
	}
}

func New(opts ...Option) *Prober {
	p := &Prober{
		client: &http.Client{
			// Health endpoints are local; never follow into redirects.
			CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
		},
		interval: DefaultInterval,
		log:      logger.Discard(),
	}
	for _, o := range opts {
		o(p)
	}
	p.log = p.log.With("component", "probe")
	return p
}

// Interval returns the backoff between attempts.
func (p *Prober) Interval() time.Duration { return p.interval }

// AwaitReady polls target until a 200-399 response or until the deadline.
// It never fails before the deadline and never later than deadline plus
// one interval: each request is itself bounded by the deadline.
func (p *Prober) AwaitReady(ctx context.Context, target Target) (Result, error) {
	start := time.Now()
	deadlineAt := start.Add(target.Deadline)
	label := target.label()

	var lastErr error
	for attempt := 1; ; attempt++ {
		status, err := p.once(ctx, target.URL, deadlineAt)
		metrics.IncProbeAttempt(label, err == nil)
		if err == nil {
			res := Result{Attempts: attempt, Elapsed: time.Since(start), Status: status}
			metrics.ObserveReadiness(label, res.Elapsed.Seconds())
			p.log.Info("target ready", "target", label, "attempts", attempt, "elapsed", res.Elapsed)
			return res, nil
		}
		if ctx.Err() != nil {
			return Result{Attempts: attempt, Elapsed: time.Since(start)}, fmt.Errorf("await %s: %w", label, ctx.Err())
		}
		lastErr = err
		elapsed := time.Since(start)
		if elapsed >= target.Deadline {
			metrics.IncProbeTimeout(label)
			return Result{Attempts: attempt, Elapsed: elapsed}, &ReadinessTimeout{
				URL: target.URL, Deadline: target.Deadline, Elapsed: elapsed, Attempts: attempt, LastErr: lastErr,
			}
		}
		p.log.Debug("target not ready", "target", label, "attempt", attempt, "error", err)

		t := time.NewTimer(p.interval)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return Result{Attempts: attempt, Elapsed: time.Since(start)}, fmt.Errorf("await %s: %w", label, ctx.Err())
		}
	}
}

// once issues a single GET. Any non-nil error means "not yet ready".
func (p *Prober) once(ctx context.Context, url string, deadlineAt time.Time) (int, error) {
	rctx, cancel := context.WithDeadline(ctx, deadlineAt)
	defer cancel()
	req, err := http.NewRequestWithContext(rctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, err
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
	if !Healthy(resp.StatusCode) {
		return resp.StatusCode, &StatusError{Code: resp.StatusCode}
	}
	return resp.StatusCode, nil
}

// IsTimeout reports whether err is or wraps a *ReadinessTimeout.
func IsTimeout(err error) bool {
	var rt *ReadinessTimeout
	return errors.As(err, &rt)
}
