//go:build !windows

package process

import "os/exec"

// getShellCommand returns a shell command for Unix systems
func getShellCommand(script string) *exec.Cmd {
	// Absolute path so an overridden PATH in the overlay cannot break it.
	// #nosec G204
	return exec.Command("/bin/sh", "-c", script)
}
