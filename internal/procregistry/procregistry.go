// Package procregistry implements the Process Registry (C4): an in-memory
// map of live runs keyed by run id, holding pid, provider-session-id alias
// and a rolling output buffer. Grounded in the map-of-mutex-guarded-entries
// shape of internal/egg/server.go's Server/Session types, generalized from
// PTY sessions to agent subprocess runs per spec §4 "Process Registry".
package procregistry

import (
	"strings"
	"sync"
)

// Kind distinguishes an agent run from a free-standing provider session.
type Kind int

const (
	Agent Kind = iota
	ProviderSession
)

// Entry is the in-memory bookkeeping for one live run.
type Entry struct {
	mu                sync.Mutex
	RunID             int64
	Pid               int
	ProviderSessionID string
	ProjectPath       string
	Kind              Kind
	liveOutput        strings.Builder
}

// AppendOutput appends to the live output buffer. Safe for concurrent use.
func (e *Entry) AppendOutput(s string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.liveOutput.WriteString(s)
}

// Output returns a snapshot of the live output buffer.
func (e *Entry) Output() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.liveOutput.String()
}

// SetProviderSessionID updates the alias once it becomes known (e.g. a
// Claude system/init event).
func (e *Entry) SetProviderSessionID(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ProviderSessionID = id
}

// Registry is the concurrent map of live runs. One instance per process.
type Registry struct {
	mu      sync.RWMutex
	entries map[int64]*Entry
}

func New() *Registry {
	return &Registry{entries: make(map[int64]*Entry)}
}

// Register inserts a new entry for runID and returns it.
func (r *Registry) Register(runID int64, pid int, projectPath string, kind Kind) *Entry {
	e := &Entry{RunID: runID, Pid: pid, ProjectPath: projectPath, Kind: kind}
	r.mu.Lock()
	r.entries[runID] = e
	r.mu.Unlock()
	return e
}

// Unregister removes runID from the registry. Idempotent.
func (r *Registry) Unregister(runID int64) {
	r.mu.Lock()
	delete(r.entries, runID)
	r.mu.Unlock()
}

// Get returns the entry for runID, if live.
func (r *Registry) Get(runID int64) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[runID]
	return e, ok
}

// Len reports the number of live entries, mainly for tests and diagnostics.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// FindByPid scans for an entry with the given pid. Registration volume is
// small (one entry per live subprocess), so a linear scan under the read
// lock is simpler than maintaining a second pid-keyed index.
func (r *Registry) FindByPid(pid int) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entries {
		if e.Pid == pid {
			return e, true
		}
	}
	return nil, false
}

// FindByProviderSessionID scans for an entry whose alias matches id, the
// lookup a provider-session cancel/output request keys on since a provider
// session has no run id the caller already knows (unlike an agent run).
func (r *Registry) FindByProviderSessionID(id string) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entries {
		e.mu.Lock()
		match := e.ProviderSessionID == id
		e.mu.Unlock()
		if match {
			return e, true
		}
	}
	return nil, false
}

// EntriesByKind returns every live entry of the given kind, e.g. listing
// currently running provider sessions.
func (r *Registry) EntriesByKind(kind Kind) []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Entry
	for _, e := range r.entries {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}
