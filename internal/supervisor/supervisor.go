// Package supervisor implements the Agent Process Supervisor (C5): it
// orchestrates the Provider Runtime Registry (C1), Binary Discovery (C2),
// Stream Normalizer (C3) and Process Registry (C4) plus persistence, per
// spec §4.4. Grounded in internal/agent/claude.go's Run() loop (teacher) and
// internal/store/tasks.go's CRUD shape, generalized to provider-agnostic
// argv and adapters.
package supervisor

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/codeinterfacex/core/internal/discovery"
	"github.com/codeinterfacex/core/internal/eventbus"
	"github.com/codeinterfacex/core/internal/logger"
	"github.com/codeinterfacex/core/internal/procregistry"
	"github.com/codeinterfacex/core/internal/registry"
	"github.com/codeinterfacex/core/internal/store"
	"github.com/codeinterfacex/core/internal/streamnorm"
)

const (
	outputTimeout = 30 * time.Second
)

// Request is the caller-supplied description of one run, per spec §4.4.
type Request struct {
	AgentID         string
	ProviderID      string
	ProjectPath     string
	Prompt          string
	Model           string
	Kind            registry.Kind
	SessionID       string
	ReasoningEffort string
	AgentHooksJSON  string
}

// Supervisor ties the registry, discovery cache, process registry, event
// bus and store together. Construct one per process via New.
type Supervisor struct {
	Store     *store.Store
	Registry  *registry.Registry
	Discovery *discovery.Cache
	Procs     *procregistry.Registry
	Events    *eventbus.Bus

	providerSession       providerSessionSlot
	providerSessionRunSeq atomic.Int64
}

func New(st *store.Store, reg *registry.Registry, disc *discovery.Cache, procs *procregistry.Registry, bus *eventbus.Bus) *Supervisor {
	return &Supervisor{Store: st, Registry: reg, Discovery: disc, Procs: procs, Events: bus}
}

// RuntimeStatus is CheckProviderRuntime's result, per spec §4.4.
type RuntimeStatus struct {
	Installed       bool
	AuthReady       bool
	Ready           bool
	DetectedBinary  string
	DetectedVersion string
	Issues          []string
	SetupHints      []string
}

// Error joins Issues and SetupHints into the multi-line message the spec
// requires when a run is rejected for not being ready.
func (s RuntimeStatus) Error() string {
	var b strings.Builder
	for _, i := range s.Issues {
		b.WriteString(i)
		b.WriteString("\n")
	}
	for _, h := range s.SetupHints {
		b.WriteString(h)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// CheckProviderRuntime runs the installed/auth_ready preflight for one
// provider, per spec §4.4.
func (s *Supervisor) CheckProviderRuntime(ctx context.Context, providerID string) RuntimeStatus {
	var status RuntimeStatus

	inst, _ := s.Discovery.Discover(ctx, providerID)
	status.Installed = inst != nil
	if inst != nil {
		status.DetectedBinary = inst.BinaryPath
		status.DetectedVersion = inst.Version
	} else {
		status.Issues = append(status.Issues, fmt.Sprintf("%s binary was not found.", providerID))
		status.SetupHints = append(status.SetupHints, fmt.Sprintf("Install the %s CLI and ensure it is on PATH.", providerID))
	}

	switch providerID {
	case "gemini":
		status.AuthReady = geminiAuthReady()
		if !status.AuthReady {
			status.Issues = append(status.Issues, "Gemini authentication was not detected.")
			status.SetupHints = append(status.SetupHints,
				"Set GEMINI_API_KEY or GOOGLE_API_KEY.",
				"Or configure Vertex AI: GOOGLE_GENAI_USE_VERTEXAI=true, GOOGLE_CLOUD_PROJECT and GOOGLE_CLOUD_LOCATION/GOOGLE_CLOUD_REGION.",
				"Or run `gcloud auth application-default login` to populate application-default credentials.")
		}
	default:
		status.AuthReady = status.Installed
	}

	status.Ready = status.Installed && status.AuthReady
	return status
}

func geminiAuthReady() bool {
	if strings.TrimSpace(os.Getenv("GEMINI_API_KEY")) != "" || strings.TrimSpace(os.Getenv("GOOGLE_API_KEY")) != "" {
		return true
	}
	if isTruthy(os.Getenv("GOOGLE_GENAI_USE_VERTEXAI")) &&
		strings.TrimSpace(os.Getenv("GOOGLE_CLOUD_PROJECT")) != "" &&
		(strings.TrimSpace(os.Getenv("GOOGLE_CLOUD_LOCATION")) != "" || strings.TrimSpace(os.Getenv("GOOGLE_CLOUD_REGION")) != "") {
		return true
	}
	return adcFileExists()
}

func isTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func adcFileExists() bool {
	var path string
	if appdata := os.Getenv("APPDATA"); appdata != "" && strings.EqualFold(os.Getenv("OS"), "windows_nt") {
		path = filepath.Join(appdata, "gcloud", "application_default_credentials.json")
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return false
		}
		path = filepath.Join(home, ".config", "gcloud", "application_default_credentials.json")
	}
	_, err := os.Stat(path)
	return err == nil
}

// Run executes the full spawn/stream/wait/classify/finalize lifecycle of
// spec §4.4 and returns the new run's id.
func (s *Supervisor) Run(ctx context.Context, req Request) (int64, error) {
	status := s.CheckProviderRuntime(ctx, req.ProviderID)
	if !status.Ready {
		return 0, fmt.Errorf("provider %q is not ready for execution: %s", req.ProviderID, status.Error())
	}

	desc, ok := s.Registry.Get(req.ProviderID)
	if !ok {
		return 0, fmt.Errorf("supervisor: unknown provider %q", req.ProviderID)
	}

	if req.ProviderID == "claude" && strings.TrimSpace(req.AgentHooksJSON) != "" {
		if err := writeClaudeHooks(req.ProjectPath, req.AgentHooksJSON); err != nil {
			logger.Warn("failed to write claude hooks settings", "error", err, "project_path", req.ProjectPath)
		}
	}

	initialSessionID := ""
	if req.ProviderID != "claude" {
		initialSessionID = fmt.Sprintf("%s-run-%d", req.ProviderID, time.Now().UnixMilli())
	}

	runID, err := s.Store.CreateAgentRun(&store.AgentRun{
		AgentID:     req.AgentID,
		ProviderID:  req.ProviderID,
		Task:        req.Prompt,
		Model:       req.Model,
		ProjectPath: req.ProjectPath,
		SessionID:   initialSessionID,
		Status:      store.StatusPending,
	})
	if err != nil {
		return 0, fmt.Errorf("supervisor: persist run: %w", err)
	}

	pReq := registry.Request{
		Kind:            req.Kind,
		Prompt:          req.Prompt,
		Model:           req.Model,
		SessionID:       req.SessionID,
		ReasoningEffort: req.ReasoningEffort,
	}
	downgraded := registry.DowngradeKind(desc, pReq)
	if downgraded.Kind != pReq.Kind {
		logger.Warn("downgrading unsupported command kind to Execute", "provider_id", req.ProviderID, "run_id", runID)
	}
	args, err := desc.BuildArgs(downgraded)
	if err != nil {
		return runID, fmt.Errorf("supervisor: build argv: %w", err)
	}

	binPath := req.ProviderID
	if inst, _ := s.Discovery.Discover(ctx, req.ProviderID); inst != nil && inst.BinaryPath != "" {
		binPath = inst.BinaryPath
	}

	cmd := exec.Command(binPath, args...)
	cmd.Dir = req.ProjectPath
	cmd.Env = os.Environ()
	cmd.Stdin = nil

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return runID, fmt.Errorf("supervisor: spawn error: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return runID, fmt.Errorf("supervisor: spawn error: %w", err)
	}

	startedAt := time.Now()
	if err := cmd.Start(); err != nil {
		return runID, fmt.Errorf("supervisor: spawn error: %w", err)
	}

	if err := s.Store.MarkRunning(runID, cmd.Process.Pid, startedAt); err != nil {
		logger.Warn("failed to persist running status", "error", err, "run_id", runID)
	}

	kind := procregistry.Agent
	entry := s.Procs.Register(runID, cmd.Process.Pid, req.ProjectPath, kind)
	entry.SetProviderSessionID(initialSessionID)

	scopedOutputTopic := fmt.Sprintf("agent-output:%d", runID)
	scopedErrorTopic := fmt.Sprintf("agent-error:%d", runID)
	scopedCompleteTopic := fmt.Sprintf("agent-complete:%d", runID)

	if req.ProviderID != "claude" {
		initEnvelope, _ := json.Marshal(map[string]any{
			"type":        "system",
			"subtype":     "init",
			"session_id":  initialSessionID,
			"provider_id": req.ProviderID,
			"cwd":         req.ProjectPath,
			"model":       req.Model,
		})
		s.Events.Emit("agent-output", initEnvelope)
		s.Events.Emit(scopedOutputTopic, initEnvelope)
	}

	var firstOutputSeen atomic.Bool
	var wg sync.WaitGroup
	wg.Add(2)

	go s.readStdout(runID, entry, desc, cmd, stdout, scopedOutputTopic, &firstOutputSeen, &wg)
	go s.readStderr(runID, entry, req.ProviderID, stderr, scopedOutputTopic, scopedErrorTopic, &wg)

	go s.monitor(runID, entry, req.ProviderID, initialSessionID, cmd, &firstOutputSeen, &wg, scopedOutputTopic, scopedCompleteTopic)

	return runID, nil
}

func writeClaudeHooks(projectPath, hooksJSON string) error {
	settingsPath := filepath.Join(projectPath, ".claude", "settings.json")
	if _, err := os.Stat(settingsPath); err == nil {
		return nil
	}
	var parsed any
	if err := json.Unmarshal([]byte(hooksJSON), &parsed); err != nil {
		return fmt.Errorf("parse agent hooks json: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(settingsPath), 0o755); err != nil {
		return fmt.Errorf("create .claude dir: %w", err)
	}
	body, err := json.MarshalIndent(map[string]any{"hooks": parsed}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal hooks settings: %w", err)
	}
	return os.WriteFile(settingsPath, body, 0o644)
}

func (s *Supervisor) readStdout(runID int64, entry *procregistry.Entry, desc registry.Descriptor, cmd *exec.Cmd, stdout io.Reader,
	scopedTopic string, firstSeen *atomic.Bool, wg *sync.WaitGroup) {
	defer wg.Done()

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	claude := desc.ProviderID == "claude"
	for scanner.Scan() {
		line := scanner.Text()
		firstSeen.Store(true)
		entry.AppendOutput(line + "\n")
		_ = s.Store.AppendOutput(runID, line+"\n")

		if claude {
			if sid := extractClaudeInitSessionID(line); sid != "" && entry.ProviderSessionID == "" {
				entry.SetProviderSessionID(sid)
				if err := s.Store.SetSessionID(runID, sid); err != nil {
					logger.Warn("failed to persist session id", "error", err, "run_id", runID)
				}
			}
		}

		envelope, ok := streamnorm.Normalize(line, desc.Adapter)
		if !ok {
			continue
		}
		s.Events.Emit("agent-output", envelope)
		s.Events.Emit(scopedTopic, envelope)
	}
}

func (s *Supervisor) readStderr(runID int64, entry *procregistry.Entry, providerID string, stderr io.Reader,
	scopedOutputTopic, scopedErrorTopic string, wg *sync.WaitGroup) {
	defer wg.Done()

	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		entry.AppendOutput(line + "\n")
		_ = s.Store.AppendOutput(runID, line+"\n")

		if providerID != "claude" {
			envelope, ok := streamnorm.Normalize(line, registry.TextWrapped)
			if ok {
				s.Events.Emit("agent-output", envelope)
				s.Events.Emit(scopedOutputTopic, envelope)
			}
		}
		s.Events.Emit("agent-error", line)
		s.Events.Emit(scopedErrorTopic, line)
	}
}

func (s *Supervisor) monitor(runID int64, entry *procregistry.Entry, providerID, initialSessionID string, cmd *exec.Cmd,
	firstSeen *atomic.Bool, wg *sync.WaitGroup, scopedOutputTopic, scopedCompleteTopic string) {

	var timedOut atomic.Bool
	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		ticker := time.NewTicker(250 * time.Millisecond)
		defer ticker.Stop()
		deadline := time.Now().Add(outputTimeout)
		for range ticker.C {
			if firstSeen.Load() {
				return
			}
			if time.Now().After(deadline) {
				timedOut.Store(true)
				_ = killProcess(cmd.Process.Pid)
				return
			}
		}
	}()

	wg.Wait()
	<-watchDone

	waitErr := cmd.Wait()

	s.Procs.Unregister(runID)

	finalSessionID := entry.ProviderSessionID
	if finalSessionID == "" {
		finalSessionID = initialSessionID
	}
	finalOutput := entry.Output()

	var persistStatus, payloadStatus, errMsg string
	switch {
	case timedOut.Load():
		persistStatus, payloadStatus = store.StatusFailed, "error"
		errMsg = "no output within 30s timeout"
	default:
		persistStatus, payloadStatus, errMsg = classifyExit(waitErr)
	}

	applied, err := s.Store.Finalize(runID, persistStatus, finalSessionID, finalOutput)
	if err != nil {
		logger.Warn("failed to finalize run", "error", err, "run_id", runID)
	}
	if !applied {
		// Raced with an explicit cancel that already finalized the row;
		// the completion event below still reflects the natural exit.
		logger.Debug("finalize no-op: run already terminal", "run_id", runID)
	}

	payload := map[string]any{
		"status":     payloadStatus,
		"success":    payloadStatus == "success",
		"sessionId":  finalSessionID,
		"providerId": providerID,
	}
	if errMsg != "" {
		payload["error"] = errMsg
	}
	body, _ := json.Marshal(payload)
	s.Events.Emit("agent-complete", body)
	s.Events.Emit(scopedCompleteTopic, body)
}

// classifyExit implements spec §4.4's exit classification table.
func classifyExit(err error) (persistStatus, payloadStatus, errMsg string) {
	if err == nil {
		return store.StatusCompleted, "success", ""
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code := exitErr.ExitCode()
		if code == 130 || code == 143 {
			return store.StatusCancelled, "cancelled", ""
		}
		return store.StatusFailed, "error", fmt.Sprintf("exited with status: %d", code)
	}
	return store.StatusFailed, "error", err.Error()
}

// KillAgentSession cancels a live run. Best-effort, asynchronous and
// idempotent: a call on a run whose row is already cancelled is a no-op.
func (s *Supervisor) KillAgentSession(runID int64) error {
	if run, err := s.Store.GetAgentRun(runID); err == nil && run != nil && run.Status == store.StatusCancelled {
		return nil
	}
	killed := false
	if entry, ok := s.Procs.Get(runID); ok {
		killed = killProcess(entry.Pid) == nil
	}
	if !killed {
		if run, err := s.Store.GetAgentRun(runID); err == nil && run != nil && run.Pid != nil {
			killed = killProcess(*run.Pid) == nil
		}
	}

	output := ""
	if entry, ok := s.Procs.Get(runID); ok {
		output = entry.Output()
	}
	if err := s.Store.MarkCancelled(runID, output); err != nil {
		return fmt.Errorf("supervisor: mark cancelled: %w", err)
	}
	s.Events.Emit(fmt.Sprintf("agent-cancelled:%d", runID), true)
	return nil
}

// CleanupFinishedProcesses marks any "running" row whose pid is no longer
// alive as completed, per spec §4.4.
func (s *Supervisor) CleanupFinishedProcesses() ([]int64, error) {
	running, err := s.Store.RunningWithPid()
	if err != nil {
		return nil, fmt.Errorf("supervisor: list running: %w", err)
	}
	var cleaned []int64
	for _, r := range running {
		if r.Pid == nil || isProcessAlive(*r.Pid) {
			continue
		}
		if entry, ok := s.Procs.FindByPid(*r.Pid); ok {
			s.Procs.Unregister(entry.RunID)
		}
		if err := s.Store.MarkCompleted(r.ID); err != nil {
			logger.Warn("failed to mark stuck run completed", "error", err, "run_id", r.ID)
			continue
		}
		cleaned = append(cleaned, r.ID)
	}
	return cleaned, nil
}

// GetSessionOutput implements spec §4.4's output fallback chain.
func (s *Supervisor) GetSessionOutput(runID int64) (string, error) {
	run, err := s.Store.GetAgentRun(runID)
	if err != nil {
		return "", fmt.Errorf("supervisor: get run: %w", err)
	}
	if run == nil {
		return "", fmt.Errorf("supervisor: run %d not found", runID)
	}
	if run.Output != "" {
		return run.Output, nil
	}
	if entry, ok := s.Procs.Get(runID); ok && run.ProviderID != "claude" {
		if live := entry.Output(); live != "" {
			return live, nil
		}
	}
	if run.ProviderID == "claude" && run.SessionID != "" {
		if out, ok := findClaudeTranscript(run.SessionID); ok {
			return out, nil
		}
	}
	if entry, ok := s.Procs.Get(runID); ok {
		return entry.Output(), nil
	}
	return "", nil
}

func findClaudeTranscript(sessionID string) (string, bool) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", false
	}
	matches, err := filepath.Glob(filepath.Join(home, ".claude", "projects", "*", sessionID+".jsonl"))
	if err != nil || len(matches) == 0 {
		return "", false
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		return "", false
	}
	return string(data), true
}

func extractClaudeInitSessionID(line string) string {
	var probe struct {
		Type      string `json:"type"`
		Subtype   string `json:"subtype"`
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal([]byte(line), &probe); err != nil {
		return ""
	}
	if probe.Type == "system" && probe.Subtype == "init" {
		return probe.SessionID
	}
	return ""
}

// AuthoritativeSessionID returns the session id under the session-id
// aliasing policy described in SPEC_FULL.md §4.4: whichever of {observed
// provider session id, synthetic initial alias} currently occupies
// run.SessionID is authoritative, since SetSessionID only ever overwrites
// the alias with a real Claude-observed id, never the reverse.
func AuthoritativeSessionID(run *store.AgentRun) string {
	return run.SessionID
}
