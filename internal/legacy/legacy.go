// Package legacy performs the one-time, idempotent migration of a prior
// install's ~/.opcode* artifacts into ~/.codeinterfacex/legacy/, matching
// spec §6's "Legacy state on upgrade" line and grounded in
// mobile_sync/mod.rs's settings-table conventions for where such
// once-per-install bookkeeping lives.
package legacy

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/codeinterfacex/core/internal/store"
)

const migratedSettingKey = "legacy_migrated_at"

// Result describes what MigrateOnce did.
type Result struct {
	Migrated    bool
	DestDir     string
	MovedPaths  []string
	AlreadyDone bool
}

// MigrateOnce relocates every ~/.opcode* path under homeDir into
// ~/.codeinterfacex/legacy/opcode-<timestamp>/ and records a marker in
// app_settings so the move only ever happens once per install. stamp is
// passed in by the caller (rather than taken from time.Now() here) so the
// destination directory name is deterministic for a given invocation.
func MigrateOnce(s *store.Store, homeDir string, stamp time.Time) (Result, error) {
	if _, done, err := s.GetSetting(migratedSettingKey); err != nil {
		return Result{}, fmt.Errorf("check legacy migration marker: %w", err)
	} else if done {
		return Result{AlreadyDone: true}, nil
	}

	matches, err := filepath.Glob(filepath.Join(homeDir, ".opcode*"))
	if err != nil {
		return Result{}, fmt.Errorf("glob legacy artifacts: %w", err)
	}

	destDir := filepath.Join(homeDir, ".codeinterfacex", "legacy", "opcode-"+stamp.UTC().Format("20060102T150405Z"))
	if len(matches) > 0 {
		if err := os.MkdirAll(destDir, 0o755); err != nil {
			return Result{}, fmt.Errorf("create legacy dest dir: %w", err)
		}
	}

	var moved []string
	for _, src := range matches {
		dst := filepath.Join(destDir, filepath.Base(src))
		if err := os.Rename(src, dst); err != nil {
			return Result{}, fmt.Errorf("move legacy artifact %s: %w", src, err)
		}
		moved = append(moved, dst)
	}

	if err := s.SetSetting(migratedSettingKey, stamp.UTC().Format(time.RFC3339)); err != nil {
		return Result{}, fmt.Errorf("record legacy migration marker: %w", err)
	}
	if err := s.SetSetting("legacy_source_root", homeDir); err != nil {
		return Result{}, fmt.Errorf("record legacy source root: %w", err)
	}

	return Result{Migrated: len(moved) > 0, DestDir: destDir, MovedPaths: moved}, nil
}
