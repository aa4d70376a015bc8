package pty

import "os/exec"

// muxBinary is the detached multiplexer this host uses for persistent PTY
// sessions, resolved once per process. An empty string means no multiplexer
// is installed and persistent sessions degrade to plain shells, per spec
// §4.5's "if the host supports the external multiplexer".
var muxBinary = resolveMuxBinary()

func resolveMuxBinary() string {
	if path, err := exec.LookPath("tmux"); err == nil {
		return path
	}
	return ""
}

func muxSupported() bool {
	return muxBinary != ""
}

// muxConfigure sets the dedicated socket's global history limit and turns
// the status bar off, before any session is attached in the PTY itself.
// Running against a fresh socket path also starts the server.
func muxConfigure(socketPath string) error {
	if err := exec.Command(muxBinary, "-S", socketPath, "set-option", "-g", "history-limit", "100000").Run(); err != nil {
		return err
	}
	return exec.Command(muxBinary, "-S", socketPath, "set-option", "-g", "status", "off").Run()
}

// muxCommand builds the create-or-attach invocation for a sanitized
// persistent session id, to be run attached inside the PTY.
func muxCommand(sanitizedID, socketPath string) (string, []string) {
	return muxBinary, []string{"-S", socketPath, "new-session", "-A", "-s", sanitizedID}
}

// muxKillSession tears down a persistent session by id on the given socket.
func muxKillSession(sanitizedID, socketPath string) error {
	if !muxSupported() {
		return nil
	}
	return exec.Command(muxBinary, "-S", socketPath, "kill-session", "-t", sanitizedID).Run()
}

// muxSessionExists reports whether sanitizedID is already a live session on
// socketPath, used to compute Start's ReusedExistingSession result.
func muxSessionExists(sanitizedID, socketPath string) bool {
	if !muxSupported() {
		return false
	}
	err := exec.Command(muxBinary, "-S", socketPath, "has-session", "-t", sanitizedID).Run()
	return err == nil
}
