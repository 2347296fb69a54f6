package session

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/salestroopz/sessiond/internal/env"
	"github.com/salestroopz/sessiond/internal/probe"
	"github.com/salestroopz/sessiond/internal/process"
)

type fakeSupervisor struct {
	mu    sync.Mutex
	calls int
	specs []process.Spec
	err   error
}

func (f *fakeSupervisor) EnsureStarted(_ context.Context, specs []process.Spec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.specs = specs
	return f.err
}

type recordingUI struct {
	mu     sync.Mutex
	ready  int
	failed []error
}

func (u *recordingUI) OnReady() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.ready++
}

func (u *recordingUI) OnReadinessFailed(err error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.failed = append(u.failed, err)
}

func (u *recordingUI) signals() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.ready + len(u.failed)
}

type countingProber struct{ calls atomic.Int32 }

func (p *countingProber) AwaitReady(context.Context, probe.Target) (probe.Result, error) {
	p.calls.Add(1)
	return probe.Result{Attempts: 1}, nil
}

// healthService answers 503 for the first `failures` polls, then 200.
func healthService(t *testing.T, failures int32) (string, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	e := echo.New()
	e.HideBanner = true
	e.GET("/health", func(c echo.Context) error {
		if hits.Add(1) <= failures {
			return c.NoContent(http.StatusServiceUnavailable)
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return srv.URL + "/health", &hits
}

func specs() []process.Spec {
	return []process.Spec{
		{Name: "api", Command: "api", Env: []string{"SALESTROOPZ_API_PORT=8715"}},
		{Name: "runner", Command: "runner", Env: []string{"SALESTROOPZ_API_PORT=8715"}},
	}
}

func TestStart_ReadyAfterRetries(t *testing.T) {
	url, hits := healthService(t, 3)
	sup := &fakeSupervisor{}
	ui := &recordingUI{}
	c := New(sup, probe.New(probe.WithInterval(20*time.Millisecond)), ui, Config{
		Specs:   specs(),
		Primary: probe.Target{Name: "api", URL: url, Deadline: 2 * time.Second},
	}, nil)

	require.NoError(t, c.Start(context.Background()))
	assert.Equal(t, 1, ui.ready)
	assert.Empty(t, ui.failed)
	assert.EqualValues(t, 4, hits.Load(), "UI signalled only after the fourth poll")
	assert.Equal(t, 1, sup.calls)
	require.Len(t, sup.specs, 2)
	for _, sp := range sup.specs {
		v, ok := env.Lookup(sp.Env, "SALESTROOPZ_API_PORT")
		assert.True(t, ok)
		assert.Equal(t, "8715", v)
	}
}

func TestStart_SpawnErrorSurfacesWithTimeout(t *testing.T) {
	url, _ := healthService(t, 1<<20)
	spawn := &process.SpawnError{Name: "api", Command: "api", Err: errors.New("no such file or directory")}
	sup := &fakeSupervisor{err: spawn}
	ui := &recordingUI{}
	c := New(sup, probe.New(probe.WithInterval(20*time.Millisecond)), ui, Config{
		Specs:   specs(),
		Primary: probe.Target{URL: url, Deadline: 100 * time.Millisecond},
	}, nil)

	err := c.Start(context.Background())
	require.Error(t, err)
	require.Len(t, ui.failed, 1)
	assert.Equal(t, err, ui.failed[0])
	assert.Zero(t, ui.ready)
	assert.True(t, probe.IsTimeout(err))
	assert.True(t, process.IsSpawnError(err))
}

func TestStart_SpawnErrorButServiceHealthy(t *testing.T) {
	url, _ := healthService(t, 0)
	sup := &fakeSupervisor{err: &process.SpawnError{Name: "runner", Err: errors.New("exec format error")}}
	ui := &recordingUI{}
	c := New(sup, probe.New(probe.WithInterval(20*time.Millisecond)), ui, Config{
		Specs:   specs(),
		Primary: probe.Target{URL: url, Deadline: time.Second},
	}, nil)

	require.NoError(t, c.Start(context.Background()))
	assert.Equal(t, 1, ui.ready)
}

func TestStart_SupervisorRefusesSkipsProbe(t *testing.T) {
	refused := errors.New("supervisor is shutting down")
	sup := &fakeSupervisor{err: refused}
	ui := &recordingUI{}
	p := &countingProber{}
	c := New(sup, p, ui, Config{Specs: specs(), Primary: probe.Target{URL: "http://127.0.0.1:1/health", Deadline: time.Second}}, nil)

	assert.ErrorIs(t, c.Start(context.Background()), refused)
	assert.Zero(t, p.calls.Load())
	assert.Equal(t, 1, ui.signals())
}

func TestStart_SecondaryFailureFailsSession(t *testing.T) {
	primary, _ := healthService(t, 0)
	secondary, _ := healthService(t, 1<<20)
	ui := &recordingUI{}
	c := New(&fakeSupervisor{}, probe.New(probe.WithInterval(20*time.Millisecond)), ui, Config{
		Specs:     specs(),
		Primary:   probe.Target{Name: "api", URL: primary, Deadline: time.Second},
		Secondary: []probe.Target{{Name: "runner", URL: secondary, Deadline: 100 * time.Millisecond}},
	}, nil)

	err := c.Start(context.Background())
	require.Error(t, err)
	assert.True(t, probe.IsTimeout(err))
	assert.Len(t, ui.failed, 1)
	assert.Zero(t, ui.ready)
}

func TestStart_AllTargetsReady(t *testing.T) {
	primary, _ := healthService(t, 1)
	secondary, _ := healthService(t, 2)
	ui := &recordingUI{}
	c := New(&fakeSupervisor{}, probe.New(probe.WithInterval(20*time.Millisecond)), ui, Config{
		Specs:     specs(),
		Primary:   probe.Target{URL: primary, Deadline: time.Second},
		Secondary: []probe.Target{{URL: secondary, Deadline: time.Second}},
	}, nil)

	require.NoError(t, c.Start(context.Background()))
	assert.Equal(t, 1, ui.ready)
}

func TestActivate_OnlyEnsuresStarted(t *testing.T) {
	sup := &fakeSupervisor{}
	ui := &recordingUI{}
	p := &countingProber{}
	c := New(sup, p, ui, Config{Specs: specs()}, nil)

	require.NoError(t, c.Activate(context.Background()))
	require.NoError(t, c.Activate(context.Background()))
	assert.Equal(t, 2, sup.calls)
	assert.Zero(t, p.calls.Load())
	assert.Zero(t, ui.signals())
}

func TestDiagnosticPage_EscapesError(t *testing.T) {
	page := DiagnosticPage(errors.New(`<script>alert("x")</script> not ready`))
	assert.Contains(t, page, "&lt;script&gt;")
	assert.NotContains(t, page, "<script>")
	assert.True(t, strings.HasPrefix(page, "<!DOCTYPE html>"))

	assert.Contains(t, DiagnosticPage(nil), "unknown error")
}
