package usageindex

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/fsnotify/fsnotify"
)

func TestAddRecursiveWatchesCoversSubdirectories(t *testing.T) {
	root := t.TempDir()
	sub := filepath.Join(root, "projects", "my-app")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer watcher.Close()

	if err := addRecursiveWatches(watcher, root); err != nil {
		t.Fatalf("addRecursiveWatches: %v", err)
	}

	watched := watcher.WatchList()
	found := map[string]bool{}
	for _, w := range watched {
		found[w] = true
	}
	if !found[root] || !found[sub] {
		t.Fatalf("expected both root and nested dir watched, got %v", watched)
	}
}

func TestAddRecursiveWatchesMissingRootReturnsError(t *testing.T) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer watcher.Close()

	if err := addRecursiveWatches(watcher, filepath.Join(t.TempDir(), "does-not-exist")); err == nil {
		t.Fatalf("expected error for missing root")
	}
}
