//go:build !windows

package process

import "syscall"

const (
	sigTerm = syscall.SIGTERM
	sigKill = syscall.SIGKILL
)

// signalGroup delivers sig to the process group led by pid.
func signalGroup(pid int, sig syscall.Signal) error {
	return syscall.Kill(-pid, sig)
}

// processExists checks if a process exists
func processExists(pid int) bool {
	return pid > 0 && syscall.Kill(pid, 0) == nil
}
