// Command wtd is the background daemon: it runs the one-time legacy
// migration, keeps the usage index in sync with transcript activity, and
// serves the mobile sync HTTP/WebSocket surface, grounded in
// cmd/wtd/main.go's listen/signal/shutdown shape (teacher).
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/codeinterfacex/core/internal/config"
	"github.com/codeinterfacex/core/internal/discovery"
	"github.com/codeinterfacex/core/internal/eventbus"
	"github.com/codeinterfacex/core/internal/legacy"
	"github.com/codeinterfacex/core/internal/logger"
	"github.com/codeinterfacex/core/internal/mobilesync"
	"github.com/codeinterfacex/core/internal/procregistry"
	"github.com/codeinterfacex/core/internal/pty"
	"github.com/codeinterfacex/core/internal/registry"
	"github.com/codeinterfacex/core/internal/store"
	"github.com/codeinterfacex/core/internal/supervisor"
	"github.com/codeinterfacex/core/internal/usageindex"
)

func main() {
	root := &cobra.Command{
		Use:   "wtd",
		Short: "codeinterfacex background daemon",
		Long:  "Runs the legacy migration, watches transcripts into the usage index, and serves mobile sync.",
		RunE:  run,
	}

	root.Flags().String("db", "", "agent store database path (defaults under the user config dir)")
	root.Flags().String("usage-db", "", "usage index database path (defaults under the user config dir)")
	root.Flags().String("transcripts-root", "", "provider transcript root (defaults to ~/.claude/projects)")
	root.Flags().Duration("sync-interval", 5*time.Second, "minimum interval between watch-triggered usage syncs")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	userDir, err := config.GetUserConfigDir()
	if err != nil {
		return fmt.Errorf("resolve user config dir: %w", err)
	}
	projectDir, err := config.GetProjectDir()
	if err != nil {
		return fmt.Errorf("resolve project dir: %w", err)
	}
	if err := config.EnsureConfigDirs(userDir, projectDir); err != nil {
		return fmt.Errorf("ensure config dirs: %w", err)
	}

	mgr := config.NewManager()
	if err := mgr.Load(userDir, projectDir); err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg := mgr.Get()

	if err := logger.InitFromConfig(cfg, "wtd.log"); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	dbPath, _ := cmd.Flags().GetString("db")
	if dbPath == "" {
		dbPath = filepath.Join(userDir, "core.sqlite")
	}
	st, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("resolve home directory: %w", err)
	}
	if result, err := legacy.MigrateOnce(st, home, time.Now()); err != nil {
		logger.Warn("legacy migration failed", "error", err)
	} else if result.Migrated {
		logger.Info("migrated legacy artifacts", "dest_dir", result.DestDir, "count", len(result.MovedPaths))
	}

	usageDBPath, _ := cmd.Flags().GetString("usage-db")
	if usageDBPath == "" {
		usageDBPath = cfg.UsageDBPath
	}
	if usageDBPath == "" {
		usageDBPath = filepath.Join(userDir, "usage_index.sqlite")
	}

	transcriptsRoot, _ := cmd.Flags().GetString("transcripts-root")
	if transcriptsRoot == "" {
		transcriptsRoot = cfg.UsageTranscriptsRoot
	}
	if transcriptsRoot == "" {
		transcriptsRoot = filepath.Join(home, ".claude", "projects")
	}

	idx, err := usageindex.Open(usageDBPath, transcriptsRoot)
	if err != nil {
		return fmt.Errorf("open usage index: %w", err)
	}
	defer idx.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	syncInterval, _ := cmd.Flags().GetDuration("sync-interval")
	go func() {
		if err := idx.WatchAndSync(ctx, rate.Every(syncInterval)); err != nil {
			logger.Warn("usage index watch stopped", "error", err)
		}
	}()

	extra := mgr.ExtraProviders()
	reg := registry.New(extraDescriptors(extra)...)
	disc := discovery.New(pathClaudeLocator{}, extraBinaryNames(extra))
	procs := procregistry.New()
	bus := eventbus.New()
	sup := supervisor.New(st, reg, disc, procs, bus)
	ptyMgr := pty.New(bus)

	var webAuthnPairing *mobilesync.WebAuthnPairing
	if cfg.MobileSyncRequireWebAuthn {
		secret, err := mobilesync.LoadOrCreateMasterSecret(st)
		if err != nil {
			return fmt.Errorf("load webauthn master secret: %w", err)
		}
		origin := fmt.Sprintf("http://%s:%d", cfg.MobileSyncPublicHost, cfg.MobileSyncPort)
		webAuthnPairing, err = mobilesync.NewWebAuthnPairing("codeinterfacex", cfg.MobileSyncPublicHost, []string{origin}, secret)
		if err != nil {
			return fmt.Errorf("configure webauthn pairing: %w", err)
		}
	}

	broker := mobilesync.NewBroker()
	broker.SetEnabled(cfg.MobileSyncEnabled)
	mobileServer := &mobilesync.Server{
		Broker:          broker,
		Store:           st,
		BindHost:        cfg.MobileSyncBindHost,
		Port:            cfg.MobileSyncPort,
		PublicHost:      cfg.MobileSyncPublicHost,
		Dispatcher:      &daemonDispatcher{supervisor: sup, pty: ptyMgr},
		WebAuthn:        webAuthnPairing,
		RequireWebAuthn: cfg.MobileSyncRequireWebAuthn,
	}

	mux := http.NewServeMux()
	mobileServer.Routes(mux)

	addr := fmt.Sprintf("%s:%d", cfg.MobileSyncBindHost, cfg.MobileSyncPort)
	httpSrv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("wtd listening", "addr", addr, "mobile_sync_enabled", cfg.MobileSyncEnabled)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		return httpSrv.Close()
	case err := <-errCh:
		return err
	}
}
