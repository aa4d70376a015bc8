//go:build !windows

package supervisor

import (
	"time"

	"golang.org/x/sys/unix"
)

// killProcessUnix signals pid directly via golang.org/x/sys/unix rather than
// the frozen stdlib syscall package, matching internal/pty's reliance on
// x/sys for POSIX primitives the stdlib doesn't expose portably (ioctls,
// here a raw kill(2)/signal-0 liveness probe).
func killProcessUnix(pid int) error {
	if err := unix.Kill(pid, unix.SIGTERM); err != nil {
		if err == unix.ESRCH {
			return nil
		}
		return unix.Kill(pid, unix.SIGKILL)
	}

	// Actual reaping happens via the owning cmd.Wait() call in monitor();
	// this only escalates to SIGKILL if the process ignores SIGTERM.
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if !isProcessAliveUnix(pid) {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	if isProcessAliveUnix(pid) {
		return unix.Kill(pid, unix.SIGKILL)
	}
	return nil
}

// isProcessAliveUnix probes liveness with a signal-0 kill(2), the POSIX
// "is this pid still mine to signal" idiom.
func isProcessAliveUnix(pid int) bool {
	return unix.Kill(pid, 0) == nil
}
