//go:build windows

package daemon

import "os"

func daemonSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}

func isRecoverSignal(os.Signal) bool {
	return false
}

// Windows has no SIGTERM; stopping is a hard kill.
func terminate(p *os.Process) error {
	return p.Kill()
}
