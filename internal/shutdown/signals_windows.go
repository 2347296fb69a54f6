//go:build windows

package shutdown

import "os"

func defaultSignals() []os.Signal { return []os.Signal{os.Interrupt} }
