// Package pty implements the Embedded PTY Session Manager (C6): creates and
// multiplexes interactive PTY sessions, optionally backed by a detached
// terminal multiplexer for persistence, grounded in
// internal/egg/server.go's RunSession/readPTY lifecycle (teacher, heavily
// adapted — gRPC transport and audit/VTerm rendering removed, since this
// spec's API per §4.5 is a plain synchronous Go method set consumed
// directly by an external desktop UI) and generalized per spec §4.5.
package pty

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/creack/pty"
	"github.com/google/uuid"

	"github.com/codeinterfacex/core/internal/eventbus"
	"github.com/codeinterfacex/core/internal/logger"
)

const (
	defaultCols   = 120
	defaultRows   = 30
	readChunkSize = 8 * 1024
)

// StartOptions configures Start, per spec §4.5.
type StartOptions struct {
	ProjectPath         string
	Cols                int
	Rows                int
	PersistentSessionID string
}

// StartResult is Start's return value.
type StartResult struct {
	TerminalID            string
	ReusedExistingSession bool
}

// DebugMeta is one session's row in DebugSnapshot's output.
type DebugMeta struct {
	TerminalID          string `json:"terminal_id"`
	PersistentSessionID string `json:"persistent_session_id,omitempty"`
	Alive               bool   `json:"alive"`
	CreatedAtMs         int64  `json:"created_at_ms"`
	LastInputWriteMs    int64  `json:"last_input_write_ms,omitempty"`
	LastResizeMs        int64  `json:"last_resize_ms,omitempty"`
	LastReadOutputMs    int64  `json:"last_read_output_ms,omitempty"`
	LastReadErr         string `json:"last_read_err,omitempty"`
	LastWriteErr        string `json:"last_write_err,omitempty"`
	LastExitReason      string `json:"last_exit_reason,omitempty"`
}

// Snapshot is DebugSnapshot's process-wide result.
type Snapshot struct {
	CapturedAtMs int64       `json:"captured_at_ms"`
	SessionCount int         `json:"session_count"`
	Sessions     []DebugMeta `json:"sessions"`
}

type session struct {
	mu sync.Mutex

	terminalID          string
	persistentSessionID string
	socketPath          string
	cmd                 *exec.Cmd
	ptmx                *os.File
	decoder             utf8StreamDecoder

	createdAtMs      int64
	lastInputWriteMs int64
	lastResizeMs     int64
	lastReadOutputMs int64
	lastReadErr      string
	lastWriteErr     string
	lastExitReason   string
	alive            bool
}

// Manager owns every live PTY session for one process.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*session
	events   *eventbus.Bus
}

func New(bus *eventbus.Bus) *Manager {
	return &Manager{sessions: make(map[string]*session), events: bus}
}

// Start opens a new PTY session per spec §4.5.
func (m *Manager) Start(opts StartOptions) (StartResult, error) {
	cols, rows := opts.Cols, opts.Rows
	if cols <= 0 {
		cols = defaultCols
	}
	if rows <= 0 {
		rows = defaultRows
	}

	terminalID := uuid.NewString()
	name, args, socketPath, sanitizedID, reused, err := m.resolveCommand(opts.PersistentSessionID, terminalID)
	if err != nil {
		return StartResult{}, err
	}

	cmd := exec.Command(name, args...)
	cmd.Dir = opts.ProjectPath
	cmd.Env = buildEnv()

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)})
	if err != nil {
		return StartResult{}, fmt.Errorf("start pty: %w", err)
	}

	sess := &session{
		terminalID:          terminalID,
		persistentSessionID: sanitizedID,
		socketPath:          socketPath,
		cmd:                 cmd,
		ptmx:                ptmx,
		createdAtMs:         time.Now().UnixMilli(),
		alive:               true,
	}

	m.mu.Lock()
	m.sessions[terminalID] = sess
	m.mu.Unlock()

	go m.readLoop(sess)

	return StartResult{TerminalID: terminalID, ReusedExistingSession: reused}, nil
}

func (m *Manager) resolveCommand(persistentSessionID, terminalID string) (name string, args []string, socketPath, sanitizedID string, reused bool, err error) {
	shellName, shellArgs := loginShellCommand()

	if strings.TrimSpace(persistentSessionID) == "" || !muxSupported() {
		return shellName, shellArgs, "", "", false, nil
	}

	sanitizedID = sanitizePersistentID(persistentSessionID)
	home, herr := os.UserHomeDir()
	if herr != nil {
		return shellName, shellArgs, "", "", false, nil
	}
	socketDir := filepath.Join(home, ".codeinterfacex-terminal-mux")
	if err := os.MkdirAll(socketDir, 0o755); err != nil {
		return shellName, shellArgs, "", "", false, nil
	}
	socketPath = filepath.Join(socketDir, "sock")

	if cfgErr := muxConfigure(socketPath); cfgErr != nil {
		logger.Warn("multiplexer configure failed, falling back to plain shell", "error", cfgErr)
		return shellName, shellArgs, "", "", false, nil
	}

	reused = muxSessionExists(sanitizedID, socketPath)
	muxName, muxArgs := muxCommand(sanitizedID, socketPath)
	return muxName, muxArgs, socketPath, sanitizedID, reused, nil
}

// loginShellCommand picks the caller's shell and its "act as login shell"
// flag, per spec §4.5.
func loginShellCommand() (string, []string) {
	shell := os.Getenv("SHELL")
	if shell == "" {
		shell = "/bin/sh"
	}
	base := filepath.Base(shell)
	switch base {
	case "bash", "zsh", "sh":
		return shell, []string{"-il"}
	case "fish":
		return shell, []string{"-l"}
	default:
		return shell, []string{"-i"}
	}
}

func (m *Manager) readLoop(sess *session) {
	buf := make([]byte, readChunkSize)
	for {
		n, err := sess.ptmx.Read(buf)
		if n > 0 {
			text := sess.decoder.Feed(buf[:n])
			if text != "" {
				sess.mu.Lock()
				sess.lastReadOutputMs = time.Now().UnixMilli()
				sess.mu.Unlock()
				m.events.Emit("terminal-output:"+sess.terminalID, text)
			}
		}
		if err != nil {
			if tail := sess.decoder.Flush(); tail != "" {
				m.events.Emit("terminal-output:"+sess.terminalID, tail)
			}
			sess.mu.Lock()
			sess.alive = false
			sess.lastReadErr = err.Error()
			if sess.lastExitReason == "" {
				sess.lastExitReason = err.Error()
			}
			sess.mu.Unlock()

			m.mu.Lock()
			delete(m.sessions, sess.terminalID)
			m.mu.Unlock()

			m.events.Emit("terminal-exit:"+sess.terminalID, true)
			return
		}
	}
}

// Write sends data to the PTY's input, per spec §4.5.
func (m *Manager) Write(terminalID string, data []byte) error {
	sess, ok := m.get(terminalID)
	if !ok {
		return fmt.Errorf("ERR_SESSION_NOT_FOUND: Terminal session not found: %s", terminalID)
	}
	if _, err := sess.ptmx.Write(data); err != nil {
		sess.mu.Lock()
		sess.lastWriteErr = err.Error()
		sess.mu.Unlock()
		return fmt.Errorf("ERR_WRITE_FAILED: %w", err)
	}
	sess.mu.Lock()
	sess.lastInputWriteMs = time.Now().UnixMilli()
	sess.mu.Unlock()
	return nil
}

// Resize updates a session's PTY geometry, per spec §4.5.
func (m *Manager) Resize(terminalID string, cols, rows int) error {
	sess, ok := m.get(terminalID)
	if !ok {
		return fmt.Errorf("ERR_SESSION_NOT_FOUND: Terminal session not found: %s", terminalID)
	}
	if err := pty.Setsize(sess.ptmx, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)}); err != nil {
		return fmt.Errorf("resize pty: %w", err)
	}
	sess.mu.Lock()
	sess.lastResizeMs = time.Now().UnixMilli()
	sess.mu.Unlock()
	return nil
}

// Close kills a session's child and, if requested and it is backed by a
// persistent multiplexer session, kills that session too, per spec §4.5.
func (m *Manager) Close(terminalID string, terminatePersistentSession bool) error {
	sess, ok := m.get(terminalID)
	if !ok {
		return fmt.Errorf("ERR_SESSION_NOT_FOUND: Terminal session not found: %s", terminalID)
	}

	sess.mu.Lock()
	sess.lastExitReason = "closed by caller"
	sess.mu.Unlock()

	if sess.cmd.Process != nil {
		_ = killProcessGroup(sess.cmd)
	}
	_ = sess.ptmx.Close()

	m.mu.Lock()
	delete(m.sessions, terminalID)
	m.mu.Unlock()

	if terminatePersistentSession && sess.persistentSessionID != "" {
		if err := muxKillSession(sess.persistentSessionID, sess.socketPath); err != nil {
			logger.Warn("failed to kill persistent multiplexer session", "error", err, "session_id", sess.persistentSessionID)
		}
	}

	return nil
}

func killProcessGroup(cmd *exec.Cmd) error {
	if runtime.GOOS == "windows" {
		return cmd.Process.Kill()
	}
	return killProcessGroupUnix(cmd)
}

func (m *Manager) get(terminalID string) (*session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[terminalID]
	return s, ok
}

// DebugSnapshot reports per-session debug metadata, per spec §4.5.
func (m *Manager) DebugSnapshot() Snapshot {
	m.mu.Lock()
	sessions := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	out := Snapshot{CapturedAtMs: time.Now().UnixMilli(), SessionCount: len(sessions)}
	for _, s := range sessions {
		s.mu.Lock()
		out.Sessions = append(out.Sessions, DebugMeta{
			TerminalID:          s.terminalID,
			PersistentSessionID: s.persistentSessionID,
			Alive:               s.alive,
			CreatedAtMs:         s.createdAtMs,
			LastInputWriteMs:    s.lastInputWriteMs,
			LastResizeMs:        s.lastResizeMs,
			LastReadOutputMs:    s.lastReadOutputMs,
			LastReadErr:         s.lastReadErr,
			LastWriteErr:        s.lastWriteErr,
			LastExitReason:      s.lastExitReason,
		})
		s.mu.Unlock()
	}
	return out
}
