package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/codeinterfacex/core/internal/registry"
	"github.com/codeinterfacex/core/internal/supervisor"
)

// runCmd drives one agent session end to end: spawn, stream normalized
// output to stdout (errors to stderr) and block until completion, the way
// the teacher's root `wt` command submits and waits on a task.
func runCmd() *cobra.Command {
	var (
		providerFlag string
		modelFlag    string
		projectFlag  string
		sessionFlag  string
		effortFlag   string
		kindFlag     string
		agentIDFlag  string
	)

	cmd := &cobra.Command{
		Use:   "run [prompt]",
		Short: "Run a one-off agent session and stream its output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			kind, err := parseKind(kindFlag)
			if err != nil {
				return err
			}

			projectPath := projectFlag
			if projectPath == "" {
				wd, err := os.Getwd()
				if err != nil {
					return fmt.Errorf("resolve working directory: %w", err)
				}
				projectPath = wd
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			return streamRun(ctx, e, supervisor.Request{
				AgentID:         agentIDFlag,
				ProviderID:      providerFlag,
				ProjectPath:     projectPath,
				Prompt:          args[0],
				Model:           modelFlag,
				Kind:            kind,
				SessionID:       sessionFlag,
				ReasoningEffort: effortFlag,
			})
		},
	}

	cmd.Flags().StringVar(&providerFlag, "provider", "claude", "Provider id (claude, codex, gemini, ...)")
	cmd.Flags().StringVar(&modelFlag, "model", "", "Model override")
	cmd.Flags().StringVar(&projectFlag, "project", "", "Project path (defaults to the working directory)")
	cmd.Flags().StringVar(&sessionFlag, "session", "", "Session id to continue or resume")
	cmd.Flags().StringVar(&effortFlag, "effort", "", "Reasoning effort hint")
	cmd.Flags().StringVar(&kindFlag, "kind", "execute", "Command kind: execute, continue, resume")
	cmd.Flags().StringVar(&agentIDFlag, "agent-id", "wtctl", "Agent id recorded against the run")

	return cmd
}

func parseKind(s string) (registry.Kind, error) {
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

// streamRun subscribes to the generic agent-output/agent-error topics before
// starting the run, then blocks on the run-scoped agent-complete:<id> topic;
// internal/supervisor emits on both the generic and the run-scoped topics.
func streamRun(ctx context.Context, e *env, req supervisor.Request) error {
	outCh := e.bus.Subscribe("agent-output")
	errCh := e.bus.Subscribe("agent-error")
	defer e.bus.Unsubscribe("agent-output", outCh)
	defer e.bus.Unsubscribe("agent-error", errCh)

	runID, runErr := e.supervisor.Run(ctx, req)
	if runErr != nil {
		return runErr
	}

	completeCh := e.bus.Subscribe(fmt.Sprintf("agent-complete:%d", runID))
	defer e.bus.Unsubscribe(fmt.Sprintf("agent-complete:%d", runID), completeCh)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload := <-outCh:
			printEnvelope(os.Stdout, payload)
		case payload := <-errCh:
			if line, ok := payload.(string); ok {
				fmt.Fprintln(os.Stderr, line)
			}
		case payload := <-completeCh:
			printCompletion(payload)
			return nil
		}
	}
}

func printEnvelope(w *os.File, payload any) {
	switch raw := payload.(type) {
	case json.RawMessage:
		fmt.Fprintln(w, string(raw))
	case []byte:
		fmt.Fprintln(w, string(raw))
	default:
		fmt.Fprintln(w, payload)
	}
}

func printCompletion(payload any) {
	var body []byte
	switch p := payload.(type) {
	case json.RawMessage:
		body = p
	case []byte:
		body = p
	default:
		return
	}
	var result struct {
		Status  string `json:"status"`
		Success bool   `json:"success"`
		Error   string `json:"error,omitempty"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return
	}
	if result.Success {
		fmt.Fprintf(os.Stderr, "run completed: %s\n", result.Status)
		return
	}
	fmt.Fprintf(os.Stderr, "run failed: %s (%s)\n", result.Status, result.Error)
}
