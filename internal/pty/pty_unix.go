//go:build !windows

package pty

import (
	"os/exec"

	"golang.org/x/sys/unix"
)

// killProcessGroupUnix sends SIGTERM via golang.org/x/sys/unix rather than
// the frozen stdlib syscall package, which has no SIGTERM definition on
// Windows and would fail the build there if referenced unconditionally.
func killProcessGroupUnix(cmd *exec.Cmd) error {
	return unix.Kill(cmd.Process.Pid, unix.SIGTERM)
}
