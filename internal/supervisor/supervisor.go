package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/salestroopz/sessiond/internal/history"
	"github.com/salestroopz/sessiond/internal/logger"
	"github.com/salestroopz/sessiond/internal/metrics"
	"github.com/salestroopz/sessiond/internal/process"
)

const (
	DefaultRestartDelay = time.Second
	DefaultStopWait     = 5 * time.Second
)

var (
	// ErrShuttingDown is returned by EnsureStarted once the terminal flag is set.
	ErrShuttingDown = errors.New("supervisor is shutting down")
	// ErrClosed is returned by every call after Close.
	ErrClosed = errors.New("supervisor closed")
)

// Supervisor owns the managed set. Every operation, exit notification and
// restart timer is handled by one loop goroutine, so supervisor state is
// never touched concurrently and needs no locks.
//
// Restart policy: any unexpected exit schedules a restart of the whole set
// after a fixed delay. There is no cap and no backoff growth.
type Supervisor struct {
	launcher     Launcher
	log          *slog.Logger
	history      *history.Recorder
	restartDelay time.Duration
	stopWait     time.Duration

	cmds      chan command
	exits     chan process.ExitEvent
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	// owned by the loop goroutine
	state        State
	shuttingDown bool
	order        []string
	procs        map[string]*managed
	restartTimer *time.Timer
	restartC     <-chan time.Time
}

type managed struct {
	spec     process.Spec
	handle   Handle
	restarts int
	lastExit *process.ExitEvent
}

type Option func(*Supervisor)

func WithLogger(l *slog.Logger) Option {
	return func(s *Supervisor) {
		if l != nil {
			s.log = l
		}
	}
}

// WithRestartDelay sets the fixed delay before a full-set restart.
func WithRestartDelay(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.restartDelay = d
		}
	}
}

// WithStopWait sets how long a terminated process gets before it is killed.
func WithStopWait(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.stopWait = d
		}
	}
}

func WithHistory(r *history.Recorder) Option {
	return func(s *Supervisor) { s.history = r }
}

// New creates a Supervisor and starts its loop. Call Close to release it.
func New(l Launcher, opts ...Option) *Supervisor {
	s := &Supervisor{
		launcher:     l,
		log:          logger.Discard(),
		restartDelay: DefaultRestartDelay,
		stopWait:     DefaultStopWait,
		cmds:         make(chan command),
		exits:        make(chan process.ExitEvent, 64),
		quit:         make(chan struct{}),
		done:         make(chan struct{}),
		procs:        make(map[string]*managed),
	}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.With("component", "supervisor")
	go s.loop()
	return s
}

type commandAction int

const (
	actionEnsureStarted commandAction = iota
	actionStopAll
	actionBeginShutdown
	actionSnapshot
)

type command struct {
	action commandAction
	specs  []process.Spec
	reply  chan reply
}

type reply struct {
	err   error
	first bool
	snap  Snapshot
}

// EnsureStarted adds unknown specs to the managed set and launches every
// managed process that has no live handle. When all handles are live, or a
// full-set restart is already pending, it launches nothing. Spawn failures
// are joined into the returned error.
func (s *Supervisor) EnsureStarted(ctx context.Context, specs []process.Spec) error {
	r, err := s.send(ctx, command{action: actionEnsureStarted, specs: specs})
	if err != nil {
		return err
	}
	return r.err
}

// StopAll terminates every live handle, clears them and cancels a pending
// restart. Termination failures are logged, never returned.
func (s *Supervisor) StopAll(ctx context.Context) error {
	_, err := s.send(ctx, command{action: actionStopAll})
	return err
}

// BeginShutdown sets the terminal flag. It reports whether this call set it.
func (s *Supervisor) BeginShutdown(ctx context.Context) (bool, error) {
	r, err := s.send(ctx, command{action: actionBeginShutdown})
	return r.first, err
}

// Snapshot returns a copy of the supervisor state.
func (s *Supervisor) Snapshot(ctx context.Context) (Snapshot, error) {
	r, err := s.send(ctx, command{action: actionSnapshot})
	return r.snap, err
}

// PIDs returns the live name -> PID mapping, for resource sampling.
func (s *Supervisor) PIDs() map[string]int32 {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return nil
	}
	out := make(map[string]int32, len(snap.Processes))
	for _, p := range snap.Processes {
		if p.Running {
			out[p.Name] = int32(p.PID)
		}
	}
	return out
}

// Close stops the loop. Live processes are left alone; call StopAll first.
func (s *Supervisor) Close() {
	s.closeOnce.Do(func() { close(s.quit) })
	<-s.done
}

func (s *Supervisor) send(ctx context.Context, c command) (reply, error) {
	c.reply = make(chan reply, 1)
	select {
	case s.cmds <- c:
	case <-ctx.Done():
		return reply{}, ctx.Err()
	case <-s.done:
		return reply{}, ErrClosed
	}
	select {
	case r := <-c.reply:
		return r, nil
	case <-ctx.Done():
		return reply{}, ctx.Err()
	}
}

func (s *Supervisor) loop() {
	defer close(s.done)
	for {
		select {
		case c := <-s.cmds:
			c.reply <- s.handleCommand(c)
		case ev := <-s.exits:
			s.onExit(ev)
		case <-s.restartC:
			s.restartTimer, s.restartC = nil, nil
			s.onRestartDue()
		case <-s.quit:
			s.cancelRestart()
			return
		}
	}
}

func (s *Supervisor) handleCommand(c command) reply {
	switch c.action {
	case actionEnsureStarted:
		return reply{err: s.ensureStarted(c.specs)}
	case actionStopAll:
		s.stopAll()
		return reply{}
	case actionBeginShutdown:
		return reply{first: s.beginShutdown()}
	case actionSnapshot:
		return reply{snap: s.snapshot()}
	}
	return reply{err: errors.New("unknown supervisor command")}
}

func (s *Supervisor) ensureStarted(specs []process.Spec) error {
	if s.shuttingDown {
		return ErrShuttingDown
	}
	for _, sp := range specs {
		if _, ok := s.procs[sp.Name]; ok {
			continue
		}
		s.procs[sp.Name] = &managed{spec: sp}
		s.order = append(s.order, sp.Name)
	}
	if s.allLive() {
		s.log.Debug("ensure started: all processes live")
		return nil
	}
	if s.restartTimer != nil {
		// The pending restart relaunches the whole set; starting the missing
		// ones now would leave the survivors paired with fresh siblings.
		s.log.Debug("ensure started: restart pending, deferring launch")
		return nil
	}
	s.setState(StateStarting)
	err := s.launchMissing()
	if s.allLive() {
		s.setState(StateRunning)
	} else {
		s.setState(StateDegraded)
	}
	return err
}

// launchMissing launches every managed process without a live handle,
// in configuration order.
func (s *Supervisor) launchMissing() error {
	var errs []error
	for _, name := range s.order {
		m := s.procs[name]
		if m.handle != nil {
			continue
		}
		h, err := s.launcher.Launch(m.spec, s.exits)
		if err != nil {
			metrics.IncSpawnFailure(name)
			s.record(history.Event{Type: history.EventSpawnFailure, Name: name, RestartCount: m.restarts, Error: err.Error()})
			s.log.Error("spawn failed", "process", name, "error", err)
			errs = append(errs, err)
			continue
		}
		m.handle = h
		metrics.IncStart(name)
		s.record(history.Event{Type: history.EventStart, Name: name, PID: h.PID(), RestartCount: m.restarts})
		s.log.Info("process started", "process", name, "pid", h.PID())
	}
	return errors.Join(errs...)
}

func (s *Supervisor) onExit(ev process.ExitEvent) {
	m, ok := s.procs[ev.Name]
	if !ok || m.handle == nil || m.handle.Run() != ev.Run {
		// A handle the supervisor already released (terminated on purpose).
		s.log.Debug("stale exit ignored", "process", ev.Name, "pid", ev.PID)
		return
	}
	m.handle = nil
	m.lastExit = &ev
	if s.shuttingDown {
		s.log.Debug("exit during shutdown ignored", "process", ev.Name, "pid", ev.PID, "status", ev.String())
		return
	}
	m.restarts++
	metrics.IncUnexpectedExit(ev.Name)
	s.log.Warn("process exited unexpectedly", "process", ev.Name, "pid", ev.PID,
		"status", ev.String(), "restarts", m.restarts, "restart_in", s.restartDelay)
	s.setState(StateDegraded)
	s.record(history.Event{
		Type: history.EventExit, Name: ev.Name, PID: ev.PID, ExitCode: ev.Code, Signal: ev.Signal, RestartCount: m.restarts,
	})
	s.scheduleRestart()
}

func (s *Supervisor) scheduleRestart() {
	if s.restartTimer != nil {
		return
	}
	s.restartTimer = time.NewTimer(s.restartDelay)
	s.restartC = s.restartTimer.C
}

func (s *Supervisor) cancelRestart() {
	if s.restartTimer != nil {
		s.restartTimer.Stop()
	}
	s.restartTimer, s.restartC = nil, nil
}

// onRestartDue restarts the entire managed set, siblings included, so that
// cooperating services never run as a half-restarted pair.
func (s *Supervisor) onRestartDue() {
	// The flag may have been set while the timer was pending.
	if s.shuttingDown {
		s.log.Info("restart aborted: shutting down")
		return
	}
	metrics.IncSetRestart()
	s.record(history.Event{Type: history.EventRestart})
	s.log.Info("restarting managed set", "processes", len(s.order))

	s.setState(StateStarting)
	s.terminateLive()
	if err := s.launchMissing(); err != nil {
		s.setState(StateDegraded)
		s.scheduleRestart()
		return
	}
	s.setState(StateRunning)
}

func (s *Supervisor) stopAll() {
	s.cancelRestart()
	s.terminateLive()
	if s.shuttingDown {
		s.setState(StateStopped)
	} else if len(s.order) > 0 {
		s.setState(StateIdle)
	}
}

// terminateLive releases every live handle before terminating it, so the
// exit that follows is recognised as stale and never counted as a crash.
func (s *Supervisor) terminateLive() {
	for _, name := range s.order {
		m := s.procs[name]
		h := m.handle
		if h == nil {
			continue
		}
		m.handle = nil
		if err := h.Terminate(s.stopWait); err != nil {
			s.log.Warn("terminate failed", "process", name, "pid", h.PID(), "error", err)
		}
		metrics.IncStop(name)
		s.record(history.Event{Type: history.EventStop, Name: name, PID: h.PID(), RestartCount: m.restarts})
	}
}

func (s *Supervisor) beginShutdown() bool {
	if s.shuttingDown {
		return false
	}
	s.shuttingDown = true
	s.setState(StateShuttingDown)
	s.record(history.Event{Type: history.EventShutdown})
	s.log.Info("shutdown begun")
	return true
}

func (s *Supervisor) allLive() bool {
	for _, m := range s.procs {
		if m.handle == nil {
			return false
		}
	}
	return true
}

func (s *Supervisor) setState(st State) {
	if s.state == st {
		return
	}
	// The terminal flag never reverts: no transition leaves shutdown except to Stopped.
	if s.shuttingDown && st != StateShuttingDown && st != StateStopped {
		return
	}
	metrics.RecordStateTransition(s.state.String(), st.String())
	s.log.Debug("state transition", "from", s.state, "to", st)
	s.state = st
}

func (s *Supervisor) record(e history.Event) {
	e.State = s.state.String()
	s.history.Record(e)
}
