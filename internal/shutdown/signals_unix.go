//go:build !windows

package shutdown

import (
	"os"
	"syscall"
)

func defaultSignals() []os.Signal { return []os.Signal{os.Interrupt, syscall.SIGTERM} }
