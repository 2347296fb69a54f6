package supervisor

import "time"

// Snapshot is a point-in-time copy of supervisor state.
type Snapshot struct {
	State          State           `json:"state"`
	ShuttingDown   bool            `json:"shutting_down"`
	RestartPending bool            `json:"restart_pending"`
	Processes      []ProcessStatus `json:"processes"`
}

// ProcessStatus describes one managed process.
type ProcessStatus struct {
	Name      string    `json:"name"`
	Running   bool      `json:"running"`
	PID       int       `json:"pid,omitempty"`
	Run       uint64    `json:"run,omitempty"`
	StartedAt time.Time `json:"started_at,omitempty"`
	Restarts  int       `json:"restarts"`
	LastExit  *ExitInfo `json:"last_exit,omitempty"`
}

// ExitInfo summarises the last observed exit.
type ExitInfo struct {
	PID    int       `json:"pid"`
	Code   int       `json:"code"`
	Signal string    `json:"signal,omitempty"`
	At     time.Time `json:"at"`
}

// Process returns the status for name.
func (s Snapshot) Process(name string) (ProcessStatus, bool) {
	for _, p := range s.Processes {
		if p.Name == name {
			return p, true
		}
	}
	return ProcessStatus{}, false
}

func (s *Supervisor) snapshot() Snapshot {
	snap := Snapshot{
		State:          s.state,
		ShuttingDown:   s.shuttingDown,
		RestartPending: s.restartTimer != nil,
		Processes:      make([]ProcessStatus, 0, len(s.order)),
	}
	for _, name := range s.order {
		m := s.procs[name]
		ps := ProcessStatus{Name: name, Restarts: m.restarts}
		if h := m.handle; h != nil {
			ps.Running = true
			ps.PID = h.PID()
			ps.Run = h.Run()
			ps.StartedAt = h.StartedAt()
		}
		if e := m.lastExit; e != nil {
			ps.LastExit = &ExitInfo{PID: e.PID, Code: e.Code, Signal: e.Signal, At: e.At}
		}
		snap.Processes = append(snap.Processes, ps)
	}
	return snap
}
