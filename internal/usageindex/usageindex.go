// Package usageindex implements the Usage Indexer (C7): an incremental
// SQLite index over provider JSONL transcripts, grounded in
// internal/store/store.go's embedded-migration convention (teacher) and in
// original_source/src-tauri/src/usage_index/{mod,schema,sync,query}.rs for
// the exact schema, ingestion algorithm and aggregate query shapes.
package usageindex

import (
	"database/sql"
	"embed"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/codeinterfacex/core/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Status reports the indexer's current or most recent run, per spec §4.6.
type Status struct {
	State           string `json:"state"` // "idle", "indexing", "error"
	StartedAt       string `json:"started_at,omitempty"`
	LastCompletedAt string `json:"last_completed_at,omitempty"`
	LastError       string `json:"last_error,omitempty"`
	FilesTotal      int64  `json:"files_total"`
	FilesProcessed  int64  `json:"files_processed"`
	LinesProcessed  int64  `json:"lines_processed"`
	EntriesIndexed  int64  `json:"entries_indexed"`
	CurrentFile     string `json:"current_file,omitempty"`
	Cancelled       bool   `json:"cancelled"`
}

// Outcome summarizes one completed (or cancelled) sync run.
type Outcome struct {
	FilesTotal     int64
	FilesProcessed int64
	LinesProcessed int64
	EntriesIndexed int64
	EntriesIgnored int64
	ParseErrors    int64
	Cancelled      bool
}

// Indexer owns the usage index's SQLite connection and single-flight sync
// state.
type Indexer struct {
	db              *sql.DB
	transcriptsRoot string
	isRunning       atomic.Bool
	cancelRequested atomic.Bool
	statusMu        sync.Mutex
	status          Status
}

// Open opens (creating if needed) the usage index database at dsn and
// applies pending migrations. The usage index is a logically separate
// SQLite file from internal/store's agent-state database (own schema, own
// PRAGMA synchronous=NORMAL tuning for its high-volume append workload), so
// it brings its own embed.FS of migrations but reuses
// store.OpenDB/store.RunMigrations for the connection-setup and
// migration-runner plumbing rather than re-implementing it.
func Open(dsn, transcriptsRoot string) (*Indexer, error) {
	db, err := store.OpenDB(dsn, []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	})
	if err != nil {
		return nil, err
	}
	if err := store.RunMigrations(db, migrationsFS); err != nil {
		db.Close()
		return nil, err
	}

	idx := &Indexer{db: db, transcriptsRoot: transcriptsRoot, status: Status{State: "idle"}}
	return idx, nil
}

func (idx *Indexer) Close() error {
	return idx.db.Close()
}

// TryStart attempts to claim the single-run slot. It returns false if a
// sync is already in progress.
func (idx *Indexer) TryStart() bool {
	return idx.isRunning.CompareAndSwap(false, true)
}

func (idx *Indexer) finish() {
	idx.isRunning.Store(false)
}

// RequestCancel asks a running sync to stop between files or batches.
func (idx *Indexer) RequestCancel() {
	idx.cancelRequested.Store(true)
}

func (idx *Indexer) clearCancel() {
	idx.cancelRequested.Store(false)
}

func (idx *Indexer) isCancelRequested() bool {
	return idx.cancelRequested.Load()
}

// Status returns a snapshot of the indexer's current state. Safe to call
// concurrently with a running sync.
func (idx *Indexer) Status() Status {
	idx.statusMu.Lock()
	defer idx.statusMu.Unlock()
	return idx.status
}

func (idx *Indexer) updateStatus(fn func(*Status)) {
	idx.statusMu.Lock()
	fn(&idx.status)
	idx.statusMu.Unlock()
}

func (idx *Indexer) markStarted(filesTotal int64) {
	idx.clearCancel()
	startedAt := time.Now().Format(time.RFC3339)
	idx.updateStatus(func(s *Status) {
		lastCompleted := s.LastCompletedAt
		*s = Status{
			State:           "indexing",
			StartedAt:       startedAt,
			LastCompletedAt: lastCompleted,
			FilesTotal:      filesTotal,
		}
	})
}

func (idx *Indexer) markCompleted(outcome Outcome) {
	completedAt := time.Now().Format(time.RFC3339)
	idx.updateStatus(func(s *Status) {
		s.State = "idle"
		s.LastCompletedAt = completedAt
		s.LastError = ""
		s.FilesTotal = outcome.FilesTotal
		s.FilesProcessed = outcome.FilesProcessed
		s.LinesProcessed = outcome.LinesProcessed
		s.EntriesIndexed = outcome.EntriesIndexed
		s.CurrentFile = ""
		s.Cancelled = false
	})
}

func (idx *Indexer) markCancelled(outcome Outcome) {
	idx.updateStatus(func(s *Status) {
		s.State = "idle"
		s.FilesTotal = outcome.FilesTotal
		s.FilesProcessed = outcome.FilesProcessed
		s.LinesProcessed = outcome.LinesProcessed
		s.EntriesIndexed = outcome.EntriesIndexed
		s.CurrentFile = ""
		s.Cancelled = true
	})
}

func (idx *Indexer) markError(errMsg string) {
	idx.updateStatus(func(s *Status) {
		s.State = "error"
		s.LastError = errMsg
		s.CurrentFile = ""
	})
}
