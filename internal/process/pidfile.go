package process

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ReadPIDFile reads a PID written by a previous launch.
func ReadPIDFile(path string) (int, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(b)))
}

func writePIDFile(path string, pid int) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(pid)), 0o600)
}

// removePIDFile removes path only if it still names pid, so a newer run's
// file is never deleted by an older run's reaper.
func removePIDFile(path string, pid int) {
	if path == "" {
		return
	}
	if cur, err := ReadPIDFile(path); err == nil && cur != pid {
		return
	}
	_ = os.Remove(path)
}

// reapStale kills a process left behind by a previous session whose
// pidfile was never cleaned up (the shell crashed or was force-killed).
// It returns the stale PID, or 0 when there was nothing to reap.
func reapStale(path string) int {
	if path == "" {
		return 0
	}
	pid, err := ReadPIDFile(path)
	if err != nil || pid <= 0 {
		return 0
	}
	_ = os.Remove(path)
	if !processExists(pid) {
		return 0
	}
	_ = signalGroup(pid, sigKill)
	return pid
}
