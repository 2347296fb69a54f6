package supervisor

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/salestroopz/sessiond/internal/process"
)

var fakePIDs atomic.Int64

type fakeHandle struct {
	name    string
	run     uint64
	pid     int
	started time.Time
	events  chan<- process.ExitEvent

	once       sync.Once
	terminated atomic.Bool
}

func (h *fakeHandle) PID() int             { return h.pid }
func (h *fakeHandle) Run() uint64          { return h.run }
func (h *fakeHandle) StartedAt() time.Time { return h.started }

func (h *fakeHandle) Terminate(time.Duration) error {
	h.terminated.Store(true)
	h.exit(-1, "terminated")
	return nil
}

// crash simulates the process dying on its own.
func (h *fakeHandle) crash(code int) { h.exit(code, "") }

func (h *fakeHandle) exit(code int, sig string) {
	h.once.Do(func() {
		h.events <- process.ExitEvent{Name: h.name, Run: h.run, PID: h.pid, Code: code, Signal: sig, At: time.Now()}
	})
}

type fakeLauncher struct {
	mu       sync.Mutex
	runs     uint64
	launches map[string]int
	handles  map[string]*fakeHandle
	specs    map[string]process.Spec
	fail     map[string]error
}

func newFakeLauncher() *fakeLauncher {
	return &fakeLauncher{
		launches: map[string]int{},
		handles:  map[string]*fakeHandle{},
		specs:    map[string]process.Spec{},
		fail:     map[string]error{},
	}
}

func (f *fakeLauncher) Launch(spec process.Spec, events chan<- process.ExitEvent) (Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[spec.Name]; err != nil {
		return nil, &process.SpawnError{Name: spec.Name, Command: spec.Command, Err: err}
	}
	f.runs++
	f.launches[spec.Name]++
	h := &fakeHandle{
		name: spec.Name, run: f.runs, pid: int(fakePIDs.Add(1)) + 1000,
		started: time.Now(), events: events,
	}
	f.handles[spec.Name] = h
	f.specs[spec.Name] = spec
	return h, nil
}

func (f *fakeLauncher) setFail(name string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.fail, name)
		return
	}
	f.fail[name] = err
}

func (f *fakeLauncher) handle(name string) *fakeHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handles[name]
}

func (f *fakeLauncher) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.launches[name]
}

var errNoSuchFile = errors.New("no such file or directory")

func twoSpecs() []process.Spec {
	return []process.Spec{
		{Name: "api", Command: "api"},
		{Name: "runner", Command: "runner"},
	}
}
