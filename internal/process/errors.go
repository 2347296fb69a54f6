package process

import (
	"errors"
	"fmt"
)

// SpawnError reports that the OS refused or failed to create a process
// (missing executable, permission denied, bad working directory).
type SpawnError struct {
	Name    string
	Command string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %s (%s): %v", e.Name, e.Command, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// IsSpawnError reports whether err is or wraps a *SpawnError.
func IsSpawnError(err error) bool {
	var se *SpawnError
	return errors.As(err, &se)
}
