package supervisor

import (
	"os/exec"
	"runtime"
	"strconv"
	"strings"
)

// killProcess terminates pid, preferring a graceful SIGTERM with a short
// grace period before SIGKILL on POSIX; Windows has no graceful signal path
// so taskkill /F applies immediately, matching internal/discovery.go's
// runtime.GOOS-branch style at the call-site level. The actual signal
// plumbing lives in proc_unix.go/proc_windows.go since syscall.SIGTERM has
// no Windows definition.
func killProcess(pid int) error {
	if pid <= 0 {
		return nil
	}
	if runtime.GOOS == "windows" {
		return exec.Command("taskkill", "/F", "/PID", strconv.Itoa(pid)).Run()
	}
	return killProcessUnix(pid)
}

// isProcessAlive reports whether pid still refers to a live process.
func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	if runtime.GOOS == "windows" {
		out, err := exec.Command("tasklist", "/FI", "PID eq "+strconv.Itoa(pid)).CombinedOutput()
		if err != nil {
			return false
		}
		return strings.Contains(string(out), strconv.Itoa(pid))
	}
	return isProcessAliveUnix(pid)
}
