//go:build windows

package session

import "os"

// terminateProcess stops the process. Windows has no SIGTERM, so this is
// TerminateProcess via Kill.
func terminateProcess(p *os.Process) error {
	return p.Kill()
}
