package supervisor

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/codeinterfacex/core/internal/discovery"
	"github.com/codeinterfacex/core/internal/eventbus"
	"github.com/codeinterfacex/core/internal/procregistry"
	"github.com/codeinterfacex/core/internal/registry"
	"github.com/codeinterfacex/core/internal/store"
)

func TestClassifyExit(t *testing.T) {
	tests := []struct {
		name           string
		shellExit      string
		wantPersist    string
		wantPayload    string
		wantErrNonZero bool
	}{
		{name: "success", shellExit: "0", wantPersist: store.StatusCompleted, wantPayload: "success"},
		{name: "sigint", shellExit: "130", wantPersist: store.StatusCancelled, wantPayload: "cancelled"},
		{name: "sigterm", shellExit: "143", wantPersist: store.StatusCancelled, wantPayload: "cancelled"},
		{name: "other failure", shellExit: "1", wantPersist: store.StatusFailed, wantPayload: "error", wantErrNonZero: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := exec.Command("sh", "-c", "exit "+tt.shellExit).Run()
			persist, payload, errMsg := classifyExit(err)
			if persist != tt.wantPersist || payload != tt.wantPayload {
				t.Fatalf("classifyExit(%v) = (%q, %q), want (%q, %q)", err, persist, payload, tt.wantPersist, tt.wantPayload)
			}
			if tt.wantErrNonZero && errMsg == "" {
				t.Fatalf("expected non-empty error message for exit %s", tt.shellExit)
			}
		})
	}
}

func TestCheckProviderRuntimeGemini(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "")
	t.Setenv("GOOGLE_GENAI_USE_VERTEXAI", "")
	t.Setenv("GOOGLE_CLOUD_PROJECT", "")
	t.Setenv("HOME", t.TempDir())

	sup := newTestSupervisor(t, nil)

	status := sup.CheckProviderRuntime(context.Background(), "gemini")
	if status.AuthReady {
		t.Fatalf("expected AuthReady=false with no gemini credentials configured")
	}
	if len(status.SetupHints) == 0 {
		t.Fatalf("expected setup hints when gemini auth is not ready")
	}

	t.Setenv("GEMINI_API_KEY", "test-key")
	status = sup.CheckProviderRuntime(context.Background(), "gemini")
	if !status.AuthReady {
		t.Fatalf("expected AuthReady=true once GEMINI_API_KEY is set")
	}
}

func TestRunStreamsOutputAndFinalizes(t *testing.T) {
	binDir := t.TempDir()
	scriptPath := filepath.Join(binDir, "fakeprovider")
	script := "#!/bin/sh\necho 'hello from agent'\necho 'line two'\nexit 0\n"
	if err := os.WriteFile(scriptPath, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake provider script: %v", err)
	}
	t.Setenv("PATH", binDir+string(os.PathListSeparator)+os.Getenv("PATH"))

	extra := registry.Descriptor{
		ProviderID: "fakeprovider",
		Adapter:    registry.TextWrapped,
		BuildArgs: func(req registry.Request) ([]string, error) {
			return nil, nil
		},
	}
	sup := newTestSupervisor(t, []registry.Descriptor{extra})

	projectDir := t.TempDir()
	runID, err := sup.Run(context.Background(), Request{
		AgentID:     "test-agent",
		ProviderID:  "fakeprovider",
		ProjectPath: projectDir,
		Prompt:      "do the thing",
		Kind:        registry.Execute,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	run := waitForTerminal(t, sup, runID)
	if run.Status != store.StatusCompleted {
		t.Fatalf("expected run to complete, got status %q (output=%q)", run.Status, run.Output)
	}
	if !strings.Contains(run.Output, "hello from agent") {
		t.Fatalf("expected persisted output to contain agent stdout, got %q", run.Output)
	}
	if run.SessionID == "" {
		t.Fatalf("expected a synthetic session id alias for a non-claude provider")
	}
}

func TestKillAgentSession(t *testing.T) {
	binDir := t.TempDir()
	scriptPath := filepath.Join(binDir, "longprovider")
	script := "#!/bin/sh\nsleep 30\n"
	if err := os.WriteFile(scriptPath, []byte(script), 0o755); err != nil {
		t.Fatalf("write long-running provider script: %v", err)
	}
	t.Setenv("PATH", binDir+string(os.PathListSeparator)+os.Getenv("PATH"))

	extra := registry.Descriptor{
		ProviderID: "longprovider",
		Adapter:    registry.TextWrapped,
		BuildArgs: func(req registry.Request) ([]string, error) {
			return nil, nil
		},
	}
	sup := newTestSupervisor(t, []registry.Descriptor{extra})

	projectDir := t.TempDir()
	runID, err := sup.Run(context.Background(), Request{
		AgentID:     "test-agent",
		ProviderID:  "longprovider",
		ProjectPath: projectDir,
		Prompt:      "take your time",
		Kind:        registry.Execute,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// give the subprocess a moment to actually start before killing it.
	time.Sleep(200 * time.Millisecond)

	if err := sup.KillAgentSession(runID); err != nil {
		t.Fatalf("KillAgentSession: %v", err)
	}

	run := waitForTerminal(t, sup, runID)
	if run.Status != store.StatusCancelled {
		t.Fatalf("expected cancelled status after kill, got %q", run.Status)
	}
}

func newTestSupervisor(t *testing.T, extra []registry.Descriptor) *Supervisor {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := store.Open(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	reg := registry.New(extra...)
	disc := discovery.New(nil, nil)
	procs := procregistry.New()
	bus := eventbus.New()
	return New(st, reg, disc, procs, bus)
}

func waitForTerminal(t *testing.T, sup *Supervisor, runID int64) *store.AgentRun {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		run, err := sup.Store.GetAgentRun(runID)
		if err != nil {
			t.Fatalf("GetAgentRun: %v", err)
		}
		if run != nil && run.Status != store.StatusPending && run.Status != store.StatusRunning {
			return run
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("run %d did not reach a terminal status in time", runID)
	return nil
}
