package supervisor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/codeinterfacex/core/internal/discovery"
	"github.com/codeinterfacex/core/internal/eventbus"
	"github.com/codeinterfacex/core/internal/procregistry"
	"github.com/codeinterfacex/core/internal/registry"
	"github.com/codeinterfacex/core/internal/store"
)

type fakeClaudeLocator struct {
	path string
}

func (f fakeClaudeLocator) LocateClaude(ctx context.Context) (*discovery.Installation, error) {
	return &discovery.Installation{ProviderID: "claude", BinaryPath: f.path, Source: "test"}, nil
}

func newProviderSessionTestSupervisor(t *testing.T, script string) *Supervisor {
	t.Helper()
	binDir := t.TempDir()
	scriptPath := filepath.Join(binDir, "fakeclaude")
	if err := os.WriteFile(scriptPath, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake claude script: %v", err)
	}

	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := store.Open(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	reg := registry.New()
	disc := discovery.New(fakeClaudeLocator{path: scriptPath}, nil)
	procs := procregistry.New()
	bus := eventbus.New()
	return New(st, reg, disc, procs, bus)
}

func TestRunProviderSessionStreamsOutputAndExtractsSessionID(t *testing.T) {
	script := "#!/bin/sh\n" +
		`echo '{"type":"system","subtype":"init","session_id":"sess-123"}'` + "\n" +
		`echo '{"type":"text","text":"hello"}'` + "\n" +
		"sleep 1\n" +
		"exit 0\n"
	sup := newProviderSessionTestSupervisor(t, script)

	outCh := sup.Events.Subscribe("provider-session-output")
	completeCh := sup.Events.Subscribe("provider-session-complete")
	defer sup.Events.Unsubscribe("provider-session-output", outCh)
	defer sup.Events.Unsubscribe("provider-session-complete", completeCh)

	err := sup.RunProviderSession(context.Background(), ProviderSessionRequest{
		ProjectPath: t.TempDir(),
		Prompt:      "hello there",
		Kind:        ProviderSessionExecute,
	})
	if err != nil {
		t.Fatalf("RunProviderSession: %v", err)
	}

	deadline := time.After(5 * time.Second)
	seenInit := false
	for !seenInit {
		select {
		case payload := <-outCh:
			line, _ := payload.(string)
			if line != "" {
				seenInit = true
			}
		case <-deadline:
			t.Fatal("timed out waiting for provider session output")
		}
	}

	if out := sup.GetProviderSessionOutput("sess-123"); out == "" {
		t.Fatalf("expected live output to be retrievable by session id while the session is still running")
	}

	select {
	case <-completeCh:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for provider session completion")
	}
}

func TestCancelProviderSessionEmitsCompletion(t *testing.T) {
	script := "#!/bin/sh\nsleep 30\n"
	sup := newProviderSessionTestSupervisor(t, script)

	completeCh := sup.Events.Subscribe("provider-session-complete")
	defer sup.Events.Unsubscribe("provider-session-complete", completeCh)

	if err := sup.RunProviderSession(context.Background(), ProviderSessionRequest{
		ProjectPath: t.TempDir(),
		Prompt:      "take your time",
		Kind:        ProviderSessionExecute,
	}); err != nil {
		t.Fatalf("RunProviderSession: %v", err)
	}

	time.Sleep(200 * time.Millisecond)

	if err := sup.CancelProviderSession(""); err != nil {
		t.Fatalf("CancelProviderSession: %v", err)
	}

	select {
	case <-completeCh:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for cancellation completion event")
	}
}

func TestListRunningProviderSessions(t *testing.T) {
	script := "#!/bin/sh\nsleep 30\n"
	sup := newProviderSessionTestSupervisor(t, script)

	if err := sup.RunProviderSession(context.Background(), ProviderSessionRequest{
		ProjectPath: t.TempDir(),
		Prompt:      "take your time",
		Kind:        ProviderSessionExecute,
	}); err != nil {
		t.Fatalf("RunProviderSession: %v", err)
	}
	t.Cleanup(func() { _ = sup.CancelProviderSession("") })

	time.Sleep(200 * time.Millisecond)

	sessions := sup.ListRunningProviderSessions()
	if len(sessions) != 1 {
		t.Fatalf("expected exactly one running provider session, got %d", len(sessions))
	}
	if sessions[0].Kind != procregistry.ProviderSession {
		t.Fatalf("expected entry kind ProviderSession, got %v", sessions[0].Kind)
	}
}

func TestRunProviderSessionResumeRequiresSessionID(t *testing.T) {
	sup := newProviderSessionTestSupervisor(t, "#!/bin/sh\nexit 0\n")

	err := sup.RunProviderSession(context.Background(), ProviderSessionRequest{
		ProjectPath: t.TempDir(),
		Prompt:      "continue",
		Kind:        ProviderSessionResume,
	})
	if err == nil {
		t.Fatal("expected an error when resuming without a session id")
	}
}
