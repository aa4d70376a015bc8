package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"

	"github.com/codeinterfacex/core/internal/config"
	"github.com/codeinterfacex/core/internal/discovery"
	"github.com/codeinterfacex/core/internal/mobilesync"
	"github.com/codeinterfacex/core/internal/pty"
	"github.com/codeinterfacex/core/internal/registry"
	"github.com/codeinterfacex/core/internal/supervisor"
)

// daemonDispatcher implements mobilesync.ActionDispatcher by actually
// executing the action against the supervisor and PTY manager, the role
// dispatch_action_to_desktop (server.rs/actions.rs) fills by forwarding to
// the Tauri desktop event bus; this daemon has no desktop layer of its own,
// so it is the terminal consumer of the action instead of a relay.
type daemonDispatcher struct {
	supervisor *supervisor.Supervisor
	pty        *pty.Manager
}

type agentRunActionPayload struct {
	AgentID         string `json:"agentId"`
	ProviderID      string `json:"providerId"`
	ProjectPath     string `json:"projectPath"`
	Prompt          string `json:"prompt"`
	Model           string `json:"model"`
	Kind            string `json:"kind"`
	SessionID       string `json:"sessionId"`
	ReasoningEffort string `json:"reasoningEffort"`
}

type agentCancelActionPayload struct {
	RunID int64 `json:"runId"`
}

type ptyWriteActionPayload struct {
	TerminalID string `json:"terminalId"`
	Data       string `json:"data"`
}

type ptyResizeActionPayload struct {
	TerminalID string `json:"terminalId"`
	Cols       int    `json:"cols"`
	Rows       int    `json:"rows"`
}

type providerSessionActionPayload struct {
	ProjectPath string `json:"projectPath"`
	Prompt      string `json:"prompt"`
	Model       string `json:"model"`
	SessionID   string `json:"sessionId"`
}

type providerSessionCancelActionPayload struct {
	SessionID string `json:"sessionId"`
}

// Dispatch routes a mobile action by its actionType. Unknown types are
// rejected rather than silently accepted, so a typo or a client/server
// version mismatch surfaces as an error instead of a disguised no-op.
func (d *daemonDispatcher) Dispatch(ctx context.Context, req mobilesync.ActionRequestV1) error {
	switch req.ActionType {
	case "agent.run":
		var p agentRunActionPayload
		if err := json.Unmarshal(req.Payload, &p); err != nil {
			return fmt.Errorf("decode agent.run payload: %w", err)
		}
		kind, err := parseActionKind(p.Kind)
		if err != nil {
			return err
		}
		_, err = d.supervisor.Run(ctx, supervisor.Request{
			AgentID:         p.AgentID,
			ProviderID:      p.ProviderID,
			ProjectPath:     p.ProjectPath,
			Prompt:          p.Prompt,
			Model:           p.Model,
			Kind:            kind,
			SessionID:       p.SessionID,
			ReasoningEffort: p.ReasoningEffort,
		})
		return err

	case "agent.cancel":
		var p agentCancelActionPayload
		if err := json.Unmarshal(req.Payload, &p); err != nil {
			return fmt.Errorf("decode agent.cancel payload: %w", err)
		}
		return d.supervisor.KillAgentSession(p.RunID)

	case "pty.write":
		var p ptyWriteActionPayload
		if err := json.Unmarshal(req.Payload, &p); err != nil {
			return fmt.Errorf("decode pty.write payload: %w", err)
		}
		return d.pty.Write(p.TerminalID, []byte(p.Data))

	case "pty.resize":
		var p ptyResizeActionPayload
		if err := json.Unmarshal(req.Payload, &p); err != nil {
			return fmt.Errorf("decode pty.resize payload: %w", err)
		}
		return d.pty.Resize(p.TerminalID, p.Cols, p.Rows)

	case "provider-session.execute":
		var p providerSessionActionPayload
		if err := json.Unmarshal(req.Payload, &p); err != nil {
			return fmt.Errorf("decode provider-session.execute payload: %w", err)
		}
		return d.supervisor.RunProviderSession(ctx, supervisor.ProviderSessionRequest{
			ProjectPath: p.ProjectPath,
			Prompt:      p.Prompt,
			Model:       p.Model,
			Kind:        supervisor.ProviderSessionExecute,
		})

	case "provider-session.continue":
		var p providerSessionActionPayload
		if err := json.Unmarshal(req.Payload, &p); err != nil {
			return fmt.Errorf("decode provider-session.continue payload: %w", err)
		}
		return d.supervisor.RunProviderSession(ctx, supervisor.ProviderSessionRequest{
			ProjectPath: p.ProjectPath,
			Prompt:      p.Prompt,
			Model:       p.Model,
			Kind:        supervisor.ProviderSessionContinue,
		})

	case "provider-session.resume":
		var p providerSessionActionPayload
		if err := json.Unmarshal(req.Payload, &p); err != nil {
			return fmt.Errorf("decode provider-session.resume payload: %w", err)
		}
		return d.supervisor.RunProviderSession(ctx, supervisor.ProviderSessionRequest{
			ProjectPath: p.ProjectPath,
			Prompt:      p.Prompt,
			Model:       p.Model,
			Kind:        supervisor.ProviderSessionResume,
			SessionID:   p.SessionID,
		})

	case "provider-session.cancel":
		var p providerSessionCancelActionPayload
		if err := json.Unmarshal(req.Payload, &p); err != nil {
			return fmt.Errorf("decode provider-session.cancel payload: %w", err)
		}
		return d.supervisor.CancelProviderSession(p.SessionID)

	default:
		return fmt.Errorf("unsupported action type %q", req.ActionType)
	}
}

func parseActionKind(s string) (registry.Kind, error) {
	switch s {
	case "", "execute":
		return registry.Execute, nil
	case "continue":
		return registry.Continue, nil
	case "resume":
		return registry.Resume, nil
	default:
		return registry.Execute, fmt.Errorf("unknown kind %q: want execute, continue or resume", s)
	}
}

// extraDescriptors turns project-level .codeinterfacex/agents.yaml entries
// into registry descriptors, mirroring cmd/wtctl's converter of the same
// name since each cmd is its own independently built main package.
func extraDescriptors(extra []config.ExtraProvider) []registry.Descriptor {
	descriptors := make([]registry.Descriptor, 0, len(extra))
	for _, p := range extra {
		p := p
		descriptors = append(descriptors, registry.Descriptor{
			ProviderID: p.ProviderID,
			Adapter:    registry.TextWrapped,
			Capabilities: registry.Capabilities{
				SupportsContinue: false,
				SupportsResume:   false,
			},
			BuildArgs: func(req registry.Request) ([]string, error) {
				args := append([]string{}, p.BaseArgs...)
				if p.ModelFlag != "" && req.Model != "" {
					args = append(args, p.ModelFlag, req.Model)
				}
				if p.PromptFirst {
					return append([]string{req.Prompt}, args...), nil
				}
				return append(args, req.Prompt), nil
			},
		})
	}
	return descriptors
}

func extraBinaryNames(extra []config.ExtraProvider) map[string]string {
	names := make(map[string]string, len(extra))
	for _, p := range extra {
		if p.BinaryName != "" {
			names[p.ProviderID] = p.BinaryName
		}
	}
	return names
}

// pathClaudeLocator resolves the Claude Code CLI purely via PATH, mirroring
// cmd/wtctl's locator of the same name.
type pathClaudeLocator struct{}

func (pathClaudeLocator) LocateClaude(ctx context.Context) (*discovery.Installation, error) {
	path, err := exec.LookPath("claude")
	if err != nil {
		return nil, err
	}
	version, _ := discovery.Version(ctx, path)
	return &discovery.Installation{ProviderID: "claude", BinaryPath: path, Version: version, Source: "path"}, nil
}
