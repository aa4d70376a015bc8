// Command wtctl is the operator-facing CLI for codeinterfacex: it can run a
// one-off agent session, drive an interactive PTY, inspect/sync the usage
// index, and administer paired mobile devices — all directly against the
// local store, the way the teacher's `wt` CLI drives its daemon, generalized
// here to operate in-process since this module's only network surface is
// the mobile sync HTTP server (spec §6).
package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "wtctl",
		Short: "codeinterfacex operator CLI",
		Long:  "Runs agent sessions, drives interactive terminals, and administers the usage index and mobile sync pairing.",
	}

	root.AddCommand(
		runCmd(),
		sessionCmd(),
		ptyCmd(),
		usageCmd(),
		mobileSyncCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
