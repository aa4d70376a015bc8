package main

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/codeinterfacex/core/internal/config"
	"github.com/codeinterfacex/core/internal/store"
)

// mobileSyncCmd administers paired mobile devices and reports the sync
// server's effective bind/public configuration, mirroring the teacher's
// read-only status/list subcommands (cmd/wt/main.go's statusCmd/logCmd).
func mobileSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mobile-sync",
		Short: "Administer mobile sync pairing and devices",
	}
	cmd.AddCommand(mobileSyncStatusCmd(), mobileSyncDevicesCmd(), mobileSyncRevokeCmd())
	return cmd
}

func mobileSyncStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the mobile sync server's effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv()
			if err != nil {
				return err
			}
			defer e.Close()

			cfg := e.cfg
			fmt.Printf("enabled:        %v\n", cfg.MobileSyncEnabled)
			fmt.Printf("bind host:      %s\n", cfg.MobileSyncBindHost)
			fmt.Printf("public host:    %s\n", cfg.MobileSyncPublicHost)
			fmt.Printf("port:           %d\n", cfg.MobileSyncPort)
			fmt.Printf("require webauthn: %v\n", cfg.MobileSyncRequireWebAuthn)
			fmt.Printf("base url:       http://%s:%d/mobile/v1\n", cfg.MobileSyncPublicHost, cfg.MobileSyncPort)
			fmt.Printf("ws url:         ws://%s:%d/mobile/v1/ws\n", cfg.MobileSyncPublicHost, cfg.MobileSyncPort)
			return nil
		},
	}
}

func mobileSyncDevicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List paired mobile devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openMobileSyncStore()
			if err != nil {
				return err
			}
			defer st.Close()

			devices, err := st.ListMobileDevices()
			if err != nil {
				return fmt.Errorf("list mobile devices: %w", err)
			}
			if len(devices) == 0 {
				fmt.Println("no paired devices")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tREVOKED\tLAST SEEN\tPAIRED")
			for _, d := range devices {
				lastSeen := "never"
				if d.LastSeenAt != nil {
					lastSeen = d.LastSeenAt.Format("2006-01-02 15:04")
				}
				fmt.Fprintf(w, "%s\t%s\t%v\t%s\t%s\n", d.ID, d.DeviceName, d.Revoked, lastSeen, d.CreatedAt.Format("2006-01-02 15:04"))
			}
			return w.Flush()
		},
	}
}

func mobileSyncRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <device-id>",
		Short: "Revoke a paired mobile device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openMobileSyncStore()
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.RevokeMobileDevice(args[0]); err != nil {
				return fmt.Errorf("revoke device %s: %w", args[0], err)
			}
			fmt.Printf("revoked %s\n", args[0])
			return nil
		},
	}
}

func openMobileSyncStore() (*store.Store, error) {
	userDir, err := config.GetUserConfigDir()
	if err != nil {
		return nil, fmt.Errorf("resolve user config dir: %w", err)
	}
	return store.Open(filepath.Join(userDir, "core.sqlite"))
}
