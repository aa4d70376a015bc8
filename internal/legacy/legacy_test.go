package legacy

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/codeinterfacex/core/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.sqlite"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMigrateOnceMovesLegacyArtifacts(t *testing.T) {
	home := t.TempDir()
	if err := os.MkdirAll(filepath.Join(home, ".opcode"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(home, ".opcode", "settings.json"), []byte("{}"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	s := newTestStore(t)
	stamp := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	result, err := MigrateOnce(s, home, stamp)
	if err != nil {
		t.Fatalf("MigrateOnce: %v", err)
	}
	if !result.Migrated {
		t.Fatalf("expected Migrated=true, got %+v", result)
	}
	if _, err := os.Stat(filepath.Join(home, ".opcode")); !os.IsNotExist(err) {
		t.Fatalf("expected source .opcode to be gone, stat err = %v", err)
	}
	if _, err := os.Stat(filepath.Join(result.DestDir, ".opcode", "settings.json")); err != nil {
		t.Fatalf("expected artifact relocated under dest dir: %v", err)
	}
}

func TestMigrateOnceIsIdempotent(t *testing.T) {
	home := t.TempDir()
	os.MkdirAll(filepath.Join(home, ".opcode"), 0o755)

	s := newTestStore(t)
	stamp := time.Now()
	if _, err := MigrateOnce(s, home, stamp); err != nil {
		t.Fatalf("first MigrateOnce: %v", err)
	}

	// Re-create a .opcode dir after the first migration to prove the second
	// call is a no-op purely because of the marker, not file absence.
	os.MkdirAll(filepath.Join(home, ".opcode"), 0o755)

	result, err := MigrateOnce(s, home, stamp.Add(time.Hour))
	if err != nil {
		t.Fatalf("second MigrateOnce: %v", err)
	}
	if !result.AlreadyDone {
		t.Fatalf("expected second call to be a no-op, got %+v", result)
	}
}

func TestMigrateOnceNoArtifactsStillRecordsMarker(t *testing.T) {
	home := t.TempDir()
	s := newTestStore(t)

	result, err := MigrateOnce(s, home, time.Now())
	if err != nil {
		t.Fatalf("MigrateOnce: %v", err)
	}
	if result.Migrated {
		t.Fatalf("expected Migrated=false with no artifacts, got %+v", result)
	}

	again, err := MigrateOnce(s, home, time.Now())
	if err != nil {
		t.Fatalf("second MigrateOnce: %v", err)
	}
	if !again.AlreadyDone {
		t.Fatalf("expected marker to have been recorded even with no artifacts")
	}
}
