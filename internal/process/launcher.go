package process

import (
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/salestroopz/sessiond/internal/env"
	"github.com/salestroopz/sessiond/internal/logger"
)

// Launcher creates managed child processes. It is fire-and-forget with
// respect to child output: stdio is never attached interactively.
type Launcher struct {
	env  *env.Env
	log  *slog.Logger
	runs atomic.Uint64
}

// NewLauncher returns a Launcher composing child environments from e.
// A nil e inherits the OS environment with no shared overlay.
func NewLauncher(e *env.Env, log *slog.Logger) *Launcher {
	if e == nil {
		e = env.New()
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Launcher{env: e, log: log.With("component", "launcher")}
}

// Launch starts spec and returns its handle. When the process terminates
// exactly one ExitEvent is delivered on events (if non-nil).
func (l *Launcher) Launch(spec Spec, events chan<- ExitEvent) (*Handle, error) {
	if err := spec.Validate(); err != nil {
		return nil, &SpawnError{Name: spec.Name, Command: spec.Command, Err: err}
	}
	if pid := reapStale(spec.PIDFile); pid != 0 {
		l.log.Warn("killed stale process from previous session", "process", spec.Name, "pid", pid)
	}

	cmd := spec.BuildCommand()
	if spec.WorkDir != "" {
		cmd.Dir = spec.WorkDir
	}
	cmd.Env = l.env.Merge(spec.Env)
	configureSysProcAttr(cmd)

	// Nil stdio is connected to the null device by os/exec.
	var closers []io.Closer
	if spec.Log.Enabled() {
		outW, errW, err := spec.Log.Writers(spec.Name)
		if err != nil {
			l.log.Warn("child output capture disabled", "process", spec.Name, "error", err)
		}
		if outW != nil {
			cmd.Stdout = outW
			closers = append(closers, outW)
		}
		if errW != nil {
			cmd.Stderr = errW
			closers = append(closers, errW)
		}
	}

	if err := cmd.Start(); err != nil {
		for _, c := range closers {
			_ = c.Close()
		}
		return nil, &SpawnError{Name: spec.Name, Command: spec.Command, Err: err}
	}

	h := &Handle{
		name:      spec.Name,
		run:       l.runs.Add(1),
		pid:       cmd.Process.Pid,
		startedAt: time.Now(),
		cmd:       cmd,
		pidFile:   spec.PIDFile,
		closers:   closers,
		done:      make(chan struct{}),
	}
	if err := writePIDFile(spec.PIDFile, h.pid); err != nil {
		l.log.Warn("write pidfile", "process", spec.Name, "path", spec.PIDFile, "error", err)
	}
	go h.reap(events)

	l.log.Debug("process launched", "process", spec.Name, "pid", h.pid, "run", h.run)
	return h, nil
}
