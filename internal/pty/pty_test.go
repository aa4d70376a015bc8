package pty

import (
	"strings"
	"testing"
	"time"

	"github.com/codeinterfacex/core/internal/eventbus"
)

func TestStartWriteAndClose(t *testing.T) {
	t.Setenv("SHELL", "/bin/sh")

	bus := eventbus.New()
	mgr := New(bus)

	projectDir := t.TempDir()
	result, err := mgr.Start(StartOptions{ProjectPath: projectDir, Cols: 80, Rows: 24})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if result.TerminalID == "" {
		t.Fatalf("expected a terminal id")
	}
	if result.ReusedExistingSession {
		t.Fatalf("a fresh non-persistent session should never report reused")
	}

	outputCh := bus.Subscribe("terminal-output:" + result.TerminalID)
	defer bus.Unsubscribe("terminal-output:"+result.TerminalID, outputCh)

	if err := mgr.Write(result.TerminalID, []byte("echo hello-from-pty\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	deadline := time.After(5 * time.Second)
	var collected strings.Builder
	for {
		select {
		case chunk := <-outputCh:
			collected.WriteString(chunk.(string))
			if strings.Contains(collected.String(), "hello-from-pty") {
				goto done
			}
		case <-deadline:
			t.Fatalf("timed out waiting for echoed output, got %q so far", collected.String())
		}
	}
done:

	if err := mgr.Close(result.TerminalID, true); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if err := mgr.Write(result.TerminalID, []byte("x")); err == nil {
		t.Fatalf("expected write to a closed session to fail")
	}
}

func TestWriteUnknownSessionReturnsNotFound(t *testing.T) {
	mgr := New(eventbus.New())
	err := mgr.Write("does-not-exist", []byte("x"))
	if err == nil || !strings.Contains(err.Error(), "ERR_SESSION_NOT_FOUND") {
		t.Fatalf("expected ERR_SESSION_NOT_FOUND, got %v", err)
	}
}

func TestDebugSnapshotReportsLiveSessions(t *testing.T) {
	t.Setenv("SHELL", "/bin/sh")

	bus := eventbus.New()
	mgr := New(bus)
	projectDir := t.TempDir()

	result, err := mgr.Start(StartOptions{ProjectPath: projectDir})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer mgr.Close(result.TerminalID, true)

	snap := mgr.DebugSnapshot()
	if snap.SessionCount != 1 {
		t.Fatalf("expected 1 live session, got %d", snap.SessionCount)
	}
	if snap.Sessions[0].TerminalID != result.TerminalID {
		t.Fatalf("unexpected terminal id in snapshot: %+v", snap.Sessions[0])
	}
}
