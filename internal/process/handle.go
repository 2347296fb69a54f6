package process

import (
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// ExitEvent is the only thing a Handle ever reports: its process terminated.
type ExitEvent struct {
	Name   string
	Run    uint64 // identity of the handle that produced the event
	PID    int
	Code   int    // exit code, -1 when terminated by a signal
	Signal string // signal name when terminated by a signal
	Err    error  // error returned by Wait, if any
	At     time.Time
}

func (e ExitEvent) String() string {
	if e.Signal != "" {
		return "signal: " + e.Signal
	}
	return fmt.Sprintf("exit status %d", e.Code)
}

// killGrace bounds how long Terminate waits for the reaper after SIGKILL.
const killGrace = 2 * time.Second

// Handle owns one live OS process created by Launcher.Launch.
type Handle struct {
	name      string
	run       uint64
	pid       int
	startedAt time.Time
	cmd       *exec.Cmd
	pidFile   string
	closers   []io.Closer

	done chan struct{}
	exit ExitEvent // written once before done is closed

	termOnce sync.Once
	termErr  error
}

func (h *Handle) Name() string         { return h.name }
func (h *Handle) Run() uint64          { return h.run }
func (h *Handle) PID() int             { return h.pid }
func (h *Handle) StartedAt() time.Time { return h.startedAt }

// Done is closed once the process has been reaped.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Exited returns the exit event once the process is gone.
func (h *Handle) Exited() (ExitEvent, bool) {
	select {
	case <-h.done:
		return h.exit, true
	default:
		return ExitEvent{}, false
	}
}

// Terminate asks the process group to stop, escalating to a kill after
// wait. It is idempotent and returns once the process has been reaped or
// the kill grace period expired.
func (h *Handle) Terminate(wait time.Duration) error {
	h.termOnce.Do(func() { h.termErr = h.terminate(wait) })
	return h.termErr
}

func (h *Handle) terminate(wait time.Duration) error {
	select {
	case <-h.done:
		return nil
	default:
	}
	_ = signalGroup(h.pid, sigTerm)
	select {
	case <-h.done:
		return nil
	case <-time.After(wait):
	}
	if err := signalGroup(h.pid, sigKill); err != nil {
		// Group may be gone already; fall back to the leader.
		_ = h.cmd.Process.Kill()
	}
	select {
	case <-h.done:
		return nil
	case <-time.After(killGrace):
		return fmt.Errorf("process %s (pid %d) did not exit after kill", h.name, h.pid)
	}
}

// reap waits for the process, then publishes exactly one ExitEvent. done is
// closed before the event is sent so a Terminate in progress never depends
// on the consumer draining events.
func (h *Handle) reap(events chan<- ExitEvent) {
	err := h.cmd.Wait()
	ev := ExitEvent{Name: h.name, Run: h.run, PID: h.pid, Code: -1, Err: err, At: time.Now()}
	if st := h.cmd.ProcessState; st != nil {
		ev.Code = st.ExitCode()
		if ws, ok := st.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			ev.Signal = ws.Signal().String()
		}
	}
	for _, c := range h.closers {
		_ = c.Close()
	}
	removePIDFile(h.pidFile, h.pid)

	h.exit = ev
	close(h.done)
	if events != nil {
		events <- ev
	}
}
