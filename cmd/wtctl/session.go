package main

import (
	"fmt"
	"os"
	"os/signal"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/codeinterfacex/core/internal/supervisor"
)

// sessionCmd groups the provider-session operations: a single,
// globally-exclusive interactive Claude process, distinct from the
// store-backed agent runs run/pty drive. Grounded in
// provider_session.rs's execute/continue/resume/cancel/list/get_output
// six operations.
func sessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Drive the single interactive provider session",
	}
	cmd.AddCommand(
		sessionExecuteCmd(),
		sessionContinueCmd(),
		sessionResumeCmd(),
		sessionCancelCmd(),
		sessionListCmd(),
		sessionOutputCmd(),
	)
	return cmd
}

func sessionExecuteCmd() *cobra.Command {
	var projectFlag, modelFlag string
	cmd := &cobra.Command{
		Use:   "execute [prompt]",
		Short: "Start a new provider session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProviderSession(cmd, supervisor.ProviderSessionRequest{
				ProjectPath: resolveProjectPath(projectFlag),
				Prompt:      args[0],
				Model:       modelFlag,
				Kind:        supervisor.ProviderSessionExecute,
			})
		},
	}
	cmd.Flags().StringVar(&projectFlag, "project", "", "Project path (defaults to the working directory)")
	cmd.Flags().StringVar(&modelFlag, "model", "", "Model override")
	return cmd
}

func sessionContinueCmd() *cobra.Command {
	var projectFlag, modelFlag string
	cmd := &cobra.Command{
		Use:   "continue [prompt]",
		Short: "Continue the most recent provider session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProviderSession(cmd, supervisor.ProviderSessionRequest{
				ProjectPath: resolveProjectPath(projectFlag),
				Prompt:      args[0],
				Model:       modelFlag,
				Kind:        supervisor.ProviderSessionContinue,
			})
		},
	}
	cmd.Flags().StringVar(&projectFlag, "project", "", "Project path (defaults to the working directory)")
	cmd.Flags().StringVar(&modelFlag, "model", "", "Model override")
	return cmd
}

func sessionResumeCmd() *cobra.Command {
	var projectFlag, modelFlag, sessionIDFlag string
	cmd := &cobra.Command{
		Use:   "resume [prompt]",
		Short: "Resume a provider session by id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if sessionIDFlag == "" {
				return fmt.Errorf("--session-id is required")
			}
			return runProviderSession(cmd, supervisor.ProviderSessionRequest{
				ProjectPath: resolveProjectPath(projectFlag),
				Prompt:      args[0],
				Model:       modelFlag,
				Kind:        supervisor.ProviderSessionResume,
				SessionID:   sessionIDFlag,
			})
		},
	}
	cmd.Flags().StringVar(&projectFlag, "project", "", "Project path (defaults to the working directory)")
	cmd.Flags().StringVar(&modelFlag, "model", "", "Model override")
	cmd.Flags().StringVar(&sessionIDFlag, "session-id", "", "Provider session id to resume")
	return cmd
}

func sessionCancelCmd() *cobra.Command {
	var sessionIDFlag string
	cmd := &cobra.Command{
		Use:   "cancel",
		Short: "Cancel the current provider session",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv()
			if err != nil {
				return err
			}
			defer e.Close()
			return e.supervisor.CancelProviderSession(sessionIDFlag)
		},
	}
	cmd.Flags().StringVar(&sessionIDFlag, "session-id", "", "Provider session id, if known")
	return cmd
}

func sessionListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List running provider sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "RUN ID\tSESSION ID\tPID\tPROJECT")
			for _, entry := range e.supervisor.ListRunningProviderSessions() {
				fmt.Fprintf(w, "%d\t%s\t%d\t%s\n", entry.RunID, entry.ProviderSessionID, entry.Pid, entry.ProjectPath)
			}
			return w.Flush()
		},
	}
}

func sessionOutputCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "output [session-id]",
		Short: "Print the live output of a provider session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv()
			if err != nil {
				return err
			}
			defer e.Close()
			fmt.Print(e.supervisor.GetProviderSessionOutput(args[0]))
			return nil
		},
	}
	return cmd
}

func resolveProjectPath(flag string) string {
	if flag != "" {
		return flag
	}
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return wd
}

// runProviderSession starts a provider session and streams its output the
// same way streamRun does for agent runs, since both fan out over the
// event bus rather than returning a single response.
func runProviderSession(cmd *cobra.Command, req supervisor.ProviderSessionRequest) error {
	e, err := loadEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	outCh := e.bus.Subscribe("provider-session-output")
	errCh := e.bus.Subscribe("provider-session-error")
	completeCh := e.bus.Subscribe("provider-session-complete")
	defer e.bus.Unsubscribe("provider-session-output", outCh)
	defer e.bus.Unsubscribe("provider-session-error", errCh)
	defer e.bus.Unsubscribe("provider-session-complete", completeCh)

	if err := e.supervisor.RunProviderSession(ctx, req); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload := <-outCh:
			if line, ok := payload.(string); ok {
				fmt.Fprintln(os.Stdout, line)
			}
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
