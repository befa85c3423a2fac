//go:build !windows

package session

import (
	"os"
	"syscall"
)

// terminateProcess asks the process to stop with SIGTERM.
func terminateProcess(p *os.Process) error {
	return p.Signal(syscall.SIGTERM)
}
