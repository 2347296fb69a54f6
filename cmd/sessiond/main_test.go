package main

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/salestroopz/sessiond/internal/logger"
	"github.com/salestroopz/sessiond/internal/server"
	"github.com/salestroopz/sessiond/internal/supervisor"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := buildRoot()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestHelp(t *testing.T) {
	out, err := execute(t, "--help")
	if err != nil {
		t.Fatalf("help should succeed: %v", err)
	}
	for _, sub := range []string{"run", "status", "probe", "quit"} {
		if !strings.Contains(out, sub) {
			t.Fatalf("help missing %q: %s", sub, out)
		}
	}
}

func TestProbeRequiresURL(t *testing.T) {
	if _, err := execute(t, "probe"); err == nil {
		t.Fatalf("expected error without --url")
	}
}

func TestProbeReady(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	out, err := execute(t, "probe", "--url", srv.URL, "--timeout", "2s", "--interval", "10ms")
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if !strings.Contains(out, "after 3 attempt(s)") {
		t.Fatalf("unexpected output: %s", out)
	}
}

func TestProbeTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	if _, err := execute(t, "probe", "--url", srv.URL, "--timeout", "100ms", "--interval", "20ms"); err == nil {
		t.Fatalf("expected timeout error")
	}
}

type stubSup struct{}

func (stubSup) Snapshot(context.Context) (supervisor.Snapshot, error) {
	return supervisor.Snapshot{
		State: supervisor.StateDegraded, RestartPending: true,
		Processes: []supervisor.ProcessStatus{
			{Name: "api", Running: true, PID: 42, StartedAt: time.Now()},
			{Name: "runner", Restarts: 1, LastExit: &supervisor.ExitInfo{PID: 43, Code: -1, Signal: "killed"}},
		},
	}, nil
}

type stubQuit struct{ calls atomic.Int32 }

func (q *stubQuit) BeginShutdown(context.Context) error { q.calls.Add(1); return nil }

func controlServer(t *testing.T, q *stubQuit) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	h := server.NewRouter(stubSup{}, server.WithQuitter(q)).Handler()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func TestStatusCommand(t *testing.T) {
	srv := controlServer(t, &stubQuit{})
	out, err := execute(t, "status", "--control-url", srv.URL)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	for _, want := range []string{"state: degraded (restart pending)", "api", "pid=42", "signal=killed", "restarts=1"} {
		if !strings.Contains(out, want) {
			t.Fatalf("status output missing %q:\n%s", want, out)
		}
	}
}

func TestQuitCommand(t *testing.T) {
	q := &stubQuit{}
	srv := controlServer(t, q)
	out, err := execute(t, "quit", "--control-url", srv.URL)
	if err != nil {
		t.Fatalf("quit: %v", err)
	}
	if !strings.Contains(out, "shutdown requested") {
		t.Fatalf("unexpected output: %s", out)
	}
	deadline := time.Now().Add(time.Second)
	for q.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if q.calls.Load() != 1 {
		t.Fatalf("expected one shutdown call, got %d", q.calls.Load())
	}
}

func TestActivateNotSupported(t *testing.T) {
	srv := controlServer(t, &stubQuit{})
	_, err := execute(t, "activate", "--control-url", srv.URL)
	if err == nil || !strings.Contains(err.Error(), "activation is not supported") {
		t.Fatalf("expected API error, got %v", err)
	}
}

func TestStatusUnreachable(t *testing.T) {
	if _, err := execute(t, "status", "--control-url", "127.0.0.1:1", "--timeout-api", "200ms"); err == nil {
		t.Fatalf("expected unreachable error")
	}
}

func TestCLIUIWritesDiagnosticPage(t *testing.T) {
	p := filepath.Join(t.TempDir(), "ui", "diagnostic.html")
	ui := newCLIUI(logger.Discard(), p)
	ui.OnReadinessFailed(errors.New("api not ready within 30s"))
	b, err := os.ReadFile(p)
	if err != nil {
		t.Fatalf("read page: %v", err)
	}
	if !strings.Contains(string(b), "api not ready within 30s") {
		t.Fatalf("page missing error: %s", b)
	}
}

func TestInitWritesLoadableConfig(t *testing.T) {
	out := filepath.Join(t.TempDir(), "sessiond.toml")
	if _, err := execute(t, "init", "--type", "packaged", "--output", out); err != nil {
		t.Fatalf("init: %v", err)
	}
	if _, err := execute(t, "init", "--type", "packaged", "--output", out); err == nil {
		t.Fatalf("expected refusal to overwrite")
	}
	if _, err := execute(t, "init", "--type", "nope", "--output", out, "--force"); err == nil {
		t.Fatalf("expected unsupported type error")
	}
}
