package process

import (
	"errors"
	"os/exec"
	"strings"

	"github.com/salestroopz/sessiond/internal/logger"
)

// Spec is the launch specification of one managed process. It is fixed for
// the configured role and never changes during a session.
type Spec struct {
	Name    string   `json:"name" mapstructure:"name"`
	Command string   `json:"command" mapstructure:"command"`   // executable, or a full command line when Args is empty
	Args    []string `json:"args" mapstructure:"args"`         // optional arguments passed verbatim
	Env     []string `json:"env" mapstructure:"env"`           // overlay of KEY=VALUE entries
	WorkDir string   `json:"work_dir" mapstructure:"work_dir"` // optional working dir
	PIDFile string   `json:"pid_file" mapstructure:"pid_file"` // optional pidfile path
	// Log captures the child's stdout/stderr. Empty means discard.
	Log logger.FileConfig `json:"log" mapstructure:"log"`
}

// Validate reports whether the spec can be launched.
func (s Spec) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return errors.New("process name is required")
	}
	if strings.TrimSpace(s.Command) == "" {
		return errors.New("process " + s.Name + ": command is required")
	}
	return nil
}

// BuildCommand constructs an *exec.Cmd for the spec.
// With explicit Args the command is executed directly. Otherwise Command is
// treated as a command line: an explicit "sh -c ..." is honoured without
// double wrapping, shell metacharacters fall back to the platform shell, and
// anything else is split on whitespace.
func (s Spec) BuildCommand() *exec.Cmd {
	if len(s.Args) > 0 {
		// #nosec G204
		return exec.Command(s.Command, s.Args...)
	}
	cmdStr := strings.TrimSpace(s.Command)
	if _, afterC, ok := parseExplicitShell(cmdStr); ok {
		return getShellCommand(afterC)
	}
	if strings.ContainsAny(cmdStr, "|&;<>*?`$\"'(){}[]~") {
		return getShellCommand(cmdStr)
	}
	parts := strings.Fields(cmdStr)
	// #nosec G204
	return exec.Command(parts[0], parts[1:]...)
}

// parseExplicitShell detects patterns like "sh -c <ARG>" or "/bin/sh -c <ARG>" at the
// beginning of cmdStr. It returns (shellPath, afterCArg, true) when matched.
// One pair of quotes around ARG is stripped so the shell sees the script itself.
func parseExplicitShell(cmdStr string) (string, string, bool) {
	trim := strings.TrimLeft(cmdStr, " \t")
	candidates := []string{"sh -c ", "/bin/sh -c ", "/usr/bin/sh -c "}
	for _, p := range candidates {
		if strings.HasPrefix(trim, p) {
			after := trim[len(p):]
			if n := len(after); n >= 2 {
				if (after[0] == '\'' && after[n-1] == '\'') || (after[0] == '"' && after[n-1] == '"') {
					after = after[1 : n-1]
				}
			}
			return strings.Fields(p)[0], after, true
		}
	}
	return "", "", false
}
