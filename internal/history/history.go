package history

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventStart        EventType = "start"         // a managed process was launched
	EventSpawnFailure EventType = "spawn_failure" // the OS refused to launch it
	EventExit         EventType = "exit"          // unexpected exit observed
	EventRestart      EventType = "restart"       // the full managed set is being restarted
	EventStop         EventType = "stop"          // the supervisor terminated the process
	EventShutdown     EventType = "shutdown"      // terminal shutdown began
)

// Event is one supervisor lifecycle record.
type Event struct {
	Type         EventType `json:"type"`
	OccurredAt   time.Time `json:"occurred_at"`
	Name         string    `json:"name,omitempty"`
	PID          int       `json:"pid,omitempty"`
	ExitCode     int       `json:"exit_code,omitempty"`
	Signal       string    `json:"signal,omitempty"`
	RestartCount int       `json:"restart_count,omitempty"`
	State        string    `json:"state"`
	Error        string    `json:"error,omitempty"`
}

// Sink is a destination for history events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Reader is implemented by sinks that can return recent events.
type Reader interface {
	Recent(ctx context.Context, limit int) ([]Event, error)
}

// DefaultBuffer is the number of events a Recorder queues before dropping.
const DefaultBuffer = 256

// Recorder delivers events to sinks from its own goroutine. Record never
// waits on a sink: when the queue is full the event is dropped with a
// warning. Each send is bounded by a timeout and failures are logged.
type Recorder struct {
	sinks   []Sink
	timeout time.Duration
	log     *slog.Logger

	mu      sync.RWMutex
	closed  bool
	queue   chan Event
	done    chan struct{}
	dropped atomic.Uint64
}

type RecorderOption func(*Recorder)

// WithSendTimeout bounds a single sink send.
func WithSendTimeout(d time.Duration) RecorderOption {
	return func(r *Recorder) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithBuffer sets the queue length.
func WithBuffer(n int) RecorderOption {
	return func(r *Recorder) {
		if n > 0 {
			r.queue = make(chan Event, n)
		}
	}
}

func NewRecorder(log *slog.Logger, sinks []Sink, opts ...RecorderOption) *Recorder {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	r := &Recorder{
		sinks:   sinks,
		timeout: 2 * time.Second,
		log:     log,
		queue:   make(chan Event, DefaultBuffer),
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		o(r)
	}
	go r.run()
	return r
}

// Record stamps e (if needed) and queues it for delivery.
func (r *Recorder) Record(e Event) {
	if r == nil || len(r.sinks) == 0 {
		return
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- e:
	default:
		n := r.dropped.Add(1)
		r.log.Warn("history queue full, event dropped", "event", e.Type, "dropped", n)
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (r *Recorder) Dropped() uint64 {
	if r == nil {
		return 0
	}
	return r.dropped.Load()
}

func (r *Recorder) run() {
	defer close(r.done)
	for e := range r.queue {
		for _, s := range r.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
			if err := s.Send(ctx, e); err != nil {
				r.log.Warn("history sink failed", "event", e.Type, "error", err)
			}
			cancel()
		}
	}
}

// Reader returns the first sink that can be queried, if any.
func (r *Recorder) Reader() (Reader, bool) {
	if r == nil {
		return nil, false
	}
	for _, s := range r.sinks {
		if rd, ok := s.(Reader); ok {
			return rd, true
		}
	}
	return nil, false
}

// Close stops accepting events, delivers what is queued, then closes every
// sink that implements io.Closer. It is safe to call more than once.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		<-r.done
		return nil
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()
	<-r.done

	var errs []error
	for _, s := range r.sinks {
		if c, ok := s.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}

// ScanEvents reads rows produced by the SQL sinks' Recent queries:
// occurred_at, type, name, pid, exit_code, signal, restart_count, state, error.
func ScanEvents(rows *sql.Rows) ([]Event, error) {
	defer func() { _ = rows.Close() }()
	var out []Event
	for rows.Next() {
		var (
			e       Event
			typ     string
			sig, er sql.NullString
		)
		if err := rows.Scan(&e.OccurredAt, &typ, &e.Name, &e.PID, &e.ExitCode, &sig, &e.RestartCount, &e.State, &er); err != nil {
			return nil, err
		}
		e.Type = EventType(typ)
		e.Signal = sig.String
		e.Error = er.String
		out = append(out, e)
	}
	return out, rows.Err()
}

// NullString maps "" to SQL NULL.
func NullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
