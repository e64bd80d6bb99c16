//go:build windows

package lock

import "os"

// processAlive reports whether pid can be opened. Markers of exited owners
// fall back to the stale threshold when this is inconclusive.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	p.Release()
	return true
}
