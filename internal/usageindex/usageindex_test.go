package usageindex

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTranscript(t *testing.T, root, project, sessionID string, lines []string) string {
	t.Helper()
	dir := filepath.Join(root, "projects", project)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	path := filepath.Join(dir, sessionID+".jsonl")
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func usageLine(t *testing.T, messageID, requestID, model string, input, output int64, cwd string) string {
	t.Helper()
	entry := map[string]any{
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"sessionId": "sess-1",
		"requestId": requestID,
		"cwd":       cwd,
		"message": map[string]any{
			"id":    messageID,
			"model": model,
			"usage": map[string]any{
				"input_tokens":  input,
				"output_tokens": output,
			},
		},
	}
	b, err := json.Marshal(entry)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(b)
}

func newTestIndexer(t *testing.T) (*Indexer, string) {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "usage_index.sqlite")
	transcripts := filepath.Join(dir, "claude")
	idx, err := Open(dbPath, transcripts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { idx.Close() })
	return idx, transcripts
}

func TestSyncIndexesNewEvents(t *testing.T) {
	idx, root := newTestIndexer(t)

	writeTranscript(t, root, "my-project", "session-a", []string{
		usageLine(t, "msg-1", "req-1", "claude-opus-4-20250514", 1000, 500, "/home/user/my-project"),
		usageLine(t, "msg-2", "req-2", "claude-sonnet-4-20250514", 2000, 1000, "/home/user/my-project"),
		"",
	})

	if !idx.TryStart() {
		t.Fatalf("expected to claim the run slot")
	}
	outcome, err := idx.Sync()
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if outcome.EntriesIndexed != 2 {
		t.Fatalf("expected 2 indexed entries, got %+v", outcome)
	}
	if outcome.FilesProcessed != 1 {
		t.Fatalf("expected 1 file processed, got %+v", outcome)
	}

	stats, err := idx.Stats("", "")
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.TotalInputTokens != 3000 || stats.TotalOutputTokens != 1500 {
		t.Fatalf("unexpected stats totals: %+v", stats)
	}
	if stats.TotalCost <= 0 {
		t.Fatalf("expected positive cost, got %v", stats.TotalCost)
	}
	if len(stats.ByModel) != 2 {
		t.Fatalf("expected 2 model rows, got %+v", stats.ByModel)
	}
}

func TestSyncIsResumableAcrossRuns(t *testing.T) {
	idx, root := newTestIndexer(t)

	path := writeTranscript(t, root, "proj", "sess", []string{
		usageLine(t, "m1", "r1", "claude-opus-4-20250514", 100, 50, "/home/user/proj"),
	})

	idx.TryStart()
	if _, err := idx.Sync(); err != nil {
		t.Fatalf("first sync: %v", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	f.WriteString(usageLine(t, "m2", "r2", "claude-opus-4-20250514", 200, 100, "/home/user/proj") + "\n")
	f.Close()

	idx.TryStart()
	outcome, err := idx.Sync()
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if outcome.EntriesIndexed != 1 {
		t.Fatalf("expected exactly the new line indexed on resume, got %+v", outcome)
	}

	stats, err := idx.Stats("", "")
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.TotalInputTokens != 300 {
		t.Fatalf("expected cumulative totals across both runs, got %+v", stats)
	}
}

func TestSyncDetectsTruncationAndResetsCursor(t *testing.T) {
	idx, root := newTestIndexer(t)

	path := writeTranscript(t, root, "proj", "sess", []string{
		usageLine(t, "m1", "r1", "claude-opus-4-20250514", 100, 50, "/home/user/proj"),
		usageLine(t, "m2", "r2", "claude-opus-4-20250514", 200, 100, "/home/user/proj"),
	})

	idx.TryStart()
	if _, err := idx.Sync(); err != nil {
		t.Fatalf("first sync: %v", err)
	}

	// Truncate the file to simulate a rewritten transcript, then write a
	// single different line.
	if err := os.WriteFile(path, []byte(usageLine(t, "m3", "r3", "claude-sonnet-4-20250514", 10, 5, "/home/user/proj")+"\n"), 0o644); err != nil {
		t.Fatalf("truncate rewrite: %v", err)
	}
	// Ensure mtime advances even on coarse filesystem clocks.
	future := time.Now().Add(2 * time.Second)
	os.Chtimes(path, future, future)

	idx.TryStart()
	outcome, err := idx.Sync()
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if outcome.EntriesIndexed != 1 {
		t.Fatalf("expected only the rewritten file's single line indexed, got %+v", outcome)
	}

	stats, err := idx.Stats("", "")
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.TotalInputTokens != 10 {
		t.Fatalf("expected stale events purged after truncation, got %+v", stats)
	}
}

func TestSyncDedupesByMessageAndRequestID(t *testing.T) {
	idx, root := newTestIndexer(t)
	line := usageLine(t, "dup-msg", "dup-req", "claude-opus-4-20250514", 100, 50, "/home/user/proj")
	writeTranscript(t, root, "proj", "sess", []string{line, line})

	idx.TryStart()
	outcome, err := idx.Sync()
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if outcome.EntriesIndexed != 1 || outcome.EntriesIgnored != 1 {
		t.Fatalf("expected exactly one duplicate to be ignored, got %+v", outcome)
	}
}

func TestSyncRemovesEventsForDeletedFiles(t *testing.T) {
	idx, root := newTestIndexer(t)
	path := writeTranscript(t, root, "proj", "sess", []string{
		usageLine(t, "m1", "r1", "claude-opus-4-20250514", 100, 50, "/home/user/proj"),
	})

	idx.TryStart()
	if _, err := idx.Sync(); err != nil {
		t.Fatalf("first sync: %v", err)
	}

	if err := os.Remove(path); err != nil {
		t.Fatalf("remove: %v", err)
	}

	idx.TryStart()
	if _, err := idx.Sync(); err != nil {
		t.Fatalf("second sync: %v", err)
	}

	stats, err := idx.Stats("", "")
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.TotalTokens != 0 {
		t.Fatalf("expected events for the deleted file to be purged, got %+v", stats)
	}
}

func TestTryStartGatesConcurrentSyncs(t *testing.T) {
	idx, _ := newTestIndexer(t)
	if !idx.TryStart() {
		t.Fatalf("expected first TryStart to succeed")
	}
	if idx.TryStart() {
		t.Fatalf("expected second concurrent TryStart to fail")
	}
	idx.finish()
	if !idx.TryStart() {
		t.Fatalf("expected TryStart to succeed again after finish")
	}
}

func TestDetailsAppliesLimit(t *testing.T) {
	idx, root := newTestIndexer(t)
	writeTranscript(t, root, "proj", "sess", []string{
		usageLine(t, "m1", "r1", "claude-opus-4-20250514", 100, 50, "/home/user/proj"),
		usageLine(t, "m2", "r2", "claude-opus-4-20250514", 200, 100, "/home/user/proj"),
	})

	idx.TryStart()
	if _, err := idx.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	entries, err := idx.Details("", "", 1, 0)
	if err != nil {
		t.Fatalf("Details: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected limit to cap to 1 row, got %d", len(entries))
	}
}

func TestCalculateCostUsesModelPriceTables(t *testing.T) {
	u := &usageData{InputTokens: 1_000_000, OutputTokens: 1_000_000}
	if got := calculateCost("claude-opus-4-20250514", u); got != opus4InputPrice+opus4OutputPrice {
		t.Fatalf("opus cost = %v", got)
	}
	if got := calculateCost("claude-sonnet-4-20250514", u); got != sonnet4InputPrice+sonnet4OutputPrice {
		t.Fatalf("sonnet cost = %v", got)
	}
	if got := calculateCost("claude-3-haiku", u); got != 0 {
		t.Fatalf("unknown model cost = %v, want 0", got)
	}
}

func TestInferProjectHintPrefersProjectsComponent(t *testing.T) {
	got := inferProjectHint("/home/user/.claude/projects/my-app/session-1.jsonl")
	if got != "my-app" {
		t.Fatalf("inferProjectHint() = %q", got)
	}
}
