package supervisor

import (
	"time"

	"github.com/salestroopz/sessiond/internal/process"
)

// Handle is the supervisor's view of one live process.
type Handle interface {
	PID() int
	Run() uint64
	StartedAt() time.Time
	Terminate(wait time.Duration) error
}

// Launcher starts a process and reports its single exit on events.
type Launcher interface {
	Launch(spec process.Spec, events chan<- process.ExitEvent) (Handle, error)
}

// LaunchFunc adapts a function to Launcher.
type LaunchFunc func(spec process.Spec, events chan<- process.ExitEvent) (Handle, error)

func (f LaunchFunc) Launch(spec process.Spec, events chan<- process.ExitEvent) (Handle, error) {
	return f(spec, events)
}

// FromProcess adapts the OS launcher.
func FromProcess(l *process.Launcher) Launcher {
	return LaunchFunc(func(spec process.Spec, events chan<- process.ExitEvent) (Handle, error) {
		h, err := l.Launch(spec, events)
		if err != nil {
			return nil, err
		}
		return h, nil
	})
}
