package store

import (
	"database/sql"
	"fmt"
	"time"
)

// agent_runs.status values, per spec §3 AgentRun; completed, failed and
// cancelled are terminal.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// AgentRun mirrors the persisted AgentRun entity of spec §3.
type AgentRun struct {
	ID               int64
	AgentID          string
	ProviderID       string
	Task             string
	Model            string
	ProjectPath      string
	SessionID        string
	Output           string
	Status           string
	Pid              *int
	ProcessStartedAt *time.Time
	CreatedAt        time.Time
	CompletedAt      *time.Time
}

const runTimeFmt = "2006-01-02T15:04:05.000Z"

// CreateAgentRun inserts a new row in status "pending" and returns the
// assigned monotonic id.
func (s *Store) CreateAgentRun(r *AgentRun) (int64, error) {
	if r.Status == "" {
		r.Status = StatusPending
	}
	res, err := s.db.Exec(`INSERT INTO agent_runs (agent_id, provider_id, task, model, project_path, session_id, output, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.AgentID, r.ProviderID, r.Task, r.Model, r.ProjectPath, r.SessionID, r.Output, r.Status)
	if err != nil {
		return 0, fmt.Errorf("create agent run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("create agent run: %w", err)
	}
	return id, nil
}

// MarkRunning transitions a pending row to running, recording pid and start
// time (RFC 3339, per spec §4.4 step 6).
func (s *Store) MarkRunning(runID int64, pid int, startedAt time.Time) error {
	_, err := s.db.Exec(`UPDATE agent_runs SET status = ?, pid = ?, process_started_at = ? WHERE id = ?`,
		StatusRunning, pid, startedAt.UTC().Format(runTimeFmt), runID)
	if err != nil {
		return fmt.Errorf("mark running: %w", err)
	}
	return nil
}

// SetSessionID updates the session id alias for a run, used both when a
// Claude system/init event arrives and for the non-Claude synthetic alias.
func (s *Store) SetSessionID(runID int64, sessionID string) error {
	_, err := s.db.Exec(`UPDATE agent_runs SET session_id = ? WHERE id = ?`, sessionID, runID)
	return err
}

// AppendOutput concatenates s to the persisted output column.
func (s *Store) AppendOutput(runID int64, chunk string) error {
	_, err := s.db.Exec(`UPDATE agent_runs SET output = output || ? WHERE id = ?`, chunk, runID)
	return err
}

// Finalize transitions a running row to a terminal status, guarded by
// WHERE status='running' so a racing cancel/finalize only applies once
// (spec §4.4 step 9, monitor task).
func (s *Store) Finalize(runID int64, status, sessionID, output string) (bool, error) {
	now := time.Now().UTC().Format(runTimeFmt)
	res, err := s.db.Exec(`UPDATE agent_runs SET status = ?, session_id = ?, output = ?, completed_at = ?
		WHERE id = ? AND status = ?`,
		status, sessionID, output, now, runID, StatusRunning)
	if err != nil {
		return false, fmt.Errorf("finalize run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("finalize run: %w", err)
	}
	return n > 0, nil
}

// MarkCancelled force-sets a row to cancelled regardless of current status
// (KillAgentSession is idempotent and may race a natural finalize).
func (s *Store) MarkCancelled(runID int64, output string) error {
	now := time.Now().UTC().Format(runTimeFmt)
	_, err := s.db.Exec(`UPDATE agent_runs SET status = ?,
		output = CASE WHEN ? != '' THEN ? ELSE output END,
		completed_at = COALESCE(completed_at, ?)
		WHERE id = ?`, StatusCancelled, output, output, now, runID)
	return err
}

// MarkCompleted is used by stuck-process cleanup (spec §4.4
// CleanupFinishedProcesses): a running row whose pid is gone is marked
// completed without touching output/session_id.
func (s *Store) MarkCompleted(runID int64) error {
	now := time.Now().UTC().Format(runTimeFmt)
	_, err := s.db.Exec(`UPDATE agent_runs SET status = ?, completed_at = ? WHERE id = ? AND status = ?`,
		StatusCompleted, now, runID, StatusRunning)
	return err
}

// RunningWithPid lists every row currently marked running with a recorded
// pid, for CleanupFinishedProcesses liveness probing.
func (s *Store) RunningWithPid() ([]*AgentRun, error) {
	rows, err := s.db.Query(`SELECT id, pid FROM agent_runs WHERE status = ? AND pid IS NOT NULL`, StatusRunning)
	if err != nil {
		return nil, fmt.Errorf("list running: %w", err)
	}
	defer rows.Close()
	var out []*AgentRun
	for rows.Next() {
		r := &AgentRun{}
		var pid int
		if err := rows.Scan(&r.ID, &pid); err != nil {
			return nil, fmt.Errorf("scan running: %w", err)
		}
		r.Pid = &pid
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetAgentRun fetches one row by id.
func (s *Store) GetAgentRun(runID int64) (*AgentRun, error) {
	r := &AgentRun{}
	var created string
	var startedAt, completedAt *string
	err := s.db.QueryRow(`SELECT id, agent_id, provider_id, task, model, project_path, session_id, output, status,
		pid, process_started_at, created_at, completed_at FROM agent_runs WHERE id = ?`, runID).Scan(
		&r.ID, &r.AgentID, &r.ProviderID, &r.Task, &r.Model, &r.ProjectPath, &r.SessionID, &r.Output, &r.Status,
		&r.Pid, &startedAt, &created, &completedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get agent run: %w", err)
	}
	r.CreatedAt = parseRunTime(created)
	r.ProcessStartedAt = parseRunTimePtr(startedAt)
	r.CompletedAt = parseRunTimePtr(completedAt)
	return r, nil
}

func parseRunTime(s string) time.Time {
	for _, layout := range []string{runTimeFmt, time.RFC3339, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func parseRunTimePtr(s *string) *time.Time {
	if s == nil || *s == "" {
		return nil
	}
	t := parseRunTime(*s)
	if t.IsZero() {
		return nil
	}
	return &t
}
