//go:build !windows

package daemon

import (
	"os"
	"syscall"
)

func daemonSignals() []os.Signal {
	return []os.Signal{
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGUSR1,
	}
}

// isRecoverSignal reports whether sig asks for an immediate recovery
// instead of shutdown.
func isRecoverSignal(sig os.Signal) bool {
	return sig == syscall.SIGUSR1
}

func terminate(p *os.Process) error {
	return p.Signal(syscall.SIGTERM)
}
