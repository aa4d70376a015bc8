package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/codeinterfacex/core/internal/eventbus"
	"github.com/codeinterfacex/core/internal/pty"
)

// ptyCmd attaches an interactive terminal to a freshly started (or resumed)
// PTY session, putting stdin in raw mode and relaying SIGWINCH the same way
// the teacher's egg attach loop does, adapted from an outbound gRPC stream
// to the in-process pty.Manager this module embeds.
func ptyCmd() *cobra.Command {
	var (
		projectFlag   string
		persistFlag   string
		attachTimeout int
	)

	cmd := &cobra.Command{
		Use:   "pty",
		Short: "Attach an interactive PTY session",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			projectPath := projectFlag
			if projectPath == "" {
				wd, err := os.Getwd()
				if err != nil {
					return fmt.Errorf("resolve working directory: %w", err)
				}
				projectPath = wd
			}

			mgr := pty.New(e.bus)
			cols, rows := terminalSize()

			result, err := mgr.Start(pty.StartOptions{
				ProjectPath:         projectPath,
				Cols:                cols,
				Rows:                rows,
				PersistentSessionID: persistFlag,
			})
			if err != nil {
				return fmt.Errorf("start pty: %w", err)
			}
			if result.ReusedExistingSession {
				fmt.Fprintf(os.Stderr, "reattached to session %s\n", persistFlag)
			}

			return attachPTY(mgr, e.bus, result.TerminalID)
		},
	}

	cmd.Flags().StringVar(&projectFlag, "project", "", "Project path (defaults to the working directory)")
	cmd.Flags().StringVar(&persistFlag, "session", "", "Persistent session id to create or reattach to")
	cmd.Flags().IntVar(&attachTimeout, "timeout", 0, "unused, reserved for future non-interactive attach")

	return cmd
}

func terminalSize() (cols, rows int) {
	cols, rows = 120, 30
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		if w, h, err := term.GetSize(fd); err == nil {
			cols, rows = w, h
		}
	}
	return cols, rows
}

// attachPTY relays stdin/stdout and SIGWINCH between the calling terminal
// and the named session until the session exits or the process receives an
// interrupt, following egg.go's eggSpawn loop in the teacher.
func attachPTY(mgr *pty.Manager, bus *eventbus.Bus, terminalID string) error {
	fd := int(os.Stdin.Fd())
	var oldState *term.State
	if term.IsTerminal(fd) {
		var err error
		oldState, err = term.MakeRaw(fd)
		if err == nil {
			defer term.Restore(fd, oldState)
		}
	}

	winch := make(chan os.Signal, 1)
	signal.Notify(winch, syscall.SIGWINCH)
	defer signal.Stop(winch)
	go func() {
		for range winch {
			cols, rows := terminalSize()
			_ = mgr.Resize(terminalID, cols, rows)
		}
	}()

	outputCh := bus.Subscribe("terminal-output:" + terminalID)
	exitCh := bus.Subscribe("terminal-exit:" + terminalID)
	defer bus.Unsubscribe("terminal-output:"+terminalID, outputCh)
	defer bus.Unsubscribe("terminal-exit:"+terminalID, exitCh)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case payload, ok := <-outputCh:
				if !ok {
					return
				}
				if text, ok := payload.(string); ok {
					os.Stdout.WriteString(text)
				}
			case <-exitCh:
				return
			}
		}
	}()

	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := os.Stdin.Read(buf)
			if n > 0 {
				data := make([]byte, n)
				copy(data, buf[:n])
				if werr := mgr.Write(terminalID, data); werr != nil {
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()

	<-done
	return nil
}
