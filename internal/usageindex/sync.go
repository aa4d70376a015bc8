package usageindex

import (
	"bufio"
	"database/sql"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/codeinterfacex/core/internal/logger"
)

const commitEveryLines = 5000

const (
	opus4InputPrice      = 15.0
	opus4OutputPrice     = 75.0
	opus4CacheWritePrice = 18.75
	opus4CacheReadPrice  = 1.50

	sonnet4InputPrice      = 3.0
	sonnet4OutputPrice     = 15.0
	sonnet4CacheWritePrice = 3.75
	sonnet4CacheReadPrice  = 0.30
)

type jsonlEntry struct {
	Timestamp string       `json:"timestamp"`
	Cwd       string       `json:"cwd"`
	Message   *messageData `json:"message"`
	SessionID string       `json:"sessionId"`
	RequestID string       `json:"requestId"`
	CostUSD   *float64     `json:"costUSD"`
}

type messageData struct {
	ID    string     `json:"id"`
	Model string     `json:"model"`
	Usage *usageData `json:"usage"`
}

type usageData struct {
	InputTokens              int64 `json:"input_tokens"`
	OutputTokens             int64 `json:"output_tokens"`
	CacheCreationInputTokens int64 `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int64 `json:"cache_read_input_tokens"`
}

type parsedEvent struct {
	eventUID            string
	sourcePath          string
	sourceLine          int64
	timestamp           string
	eventDate           string
	model               string
	inputTokens         int64
	outputTokens        int64
	cacheCreationTokens int64
	cacheReadTokens     int64
	cost                float64
	sessionID           string
	projectPath         string
	projectName         string
}

type sourceFileRow struct {
	sizeBytes       int64
	modifiedUnixMs  int64
	lastOffset      int64
	lastLine        int64
	parseErrorCount int64
}

func calculateCost(model string, u *usageData) float64 {
	var inputPrice, outputPrice, cacheWritePrice, cacheReadPrice float64
	switch {
	case strings.Contains(model, "opus-4"):
		inputPrice, outputPrice, cacheWritePrice, cacheReadPrice = opus4InputPrice, opus4OutputPrice, opus4CacheWritePrice, opus4CacheReadPrice
	case strings.Contains(model, "sonnet-4"):
		inputPrice, outputPrice, cacheWritePrice, cacheReadPrice = sonnet4InputPrice, sonnet4OutputPrice, sonnet4CacheWritePrice, sonnet4CacheReadPrice
	}
	return (float64(u.InputTokens)*inputPrice)/1_000_000 +
		(float64(u.OutputTokens)*outputPrice)/1_000_000 +
		(float64(u.CacheCreationInputTokens)*cacheWritePrice)/1_000_000 +
		(float64(u.CacheReadInputTokens)*cacheReadPrice)/1_000_000
}

func parseEventDate(timestamp string) (string, bool) {
	if t, err := time.Parse(time.RFC3339, timestamp); err == nil {
		return t.Local().Format("2006-01-02"), true
	}
	if len(timestamp) >= 10 {
		return timestamp[:10], true
	}
	return "", false
}

// inferProjectHint derives a fallback project path from the path component
// following "projects" in a Claude transcript path, else the file's parent
// directory name.
func inferProjectHint(path string) string {
	parts := strings.Split(filepath.ToSlash(path), "/")
	for i, p := range parts {
		if p == "projects" && i+1 < len(parts) {
			return parts[i+1]
		}
	}
	parent := filepath.Base(filepath.Dir(path))
	if parent == "" || parent == "." {
		return "unknown"
	}
	return parent
}

func inferProjectName(projectPath string) string {
	name := filepath.Base(projectPath)
	if name == "" || name == "." || name == string(filepath.Separator) {
		return projectPath
	}
	return name
}

func listUsageJSONLFiles(root string) ([]string, error) {
	if _, err := os.Stat(root); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}

	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() && strings.HasSuffix(path, ".jsonl") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortStrings(files)
	return files, nil
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

func loadSourceFileRow(db *sql.DB, sourcePath string) (*sourceFileRow, error) {
	row := db.QueryRow(`SELECT size_bytes, modified_unix_ms, last_offset, last_line, parse_error_count
		FROM source_files WHERE source_path = ?`, sourcePath)
	var r sourceFileRow
	if err := row.Scan(&r.sizeBytes, &r.modifiedUnixMs, &r.lastOffset, &r.lastLine, &r.parseErrorCount); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &r, nil
}

func removeDeletedFiles(db *sql.DB, existing map[string]bool) error {
	rows, err := db.Query("SELECT source_path FROM source_files")
	if err != nil {
		return err
	}
	var tracked []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			rows.Close()
			return err
		}
		tracked = append(tracked, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	for _, p := range tracked {
		if existing[p] {
			continue
		}
		if _, err := tx.Exec("DELETE FROM usage_events WHERE source_path = ?", p); err != nil {
			tx.Rollback()
			return err
		}
		if _, err := tx.Exec("DELETE FROM source_files WHERE source_path = ?", p); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func upsertSourceFileRow(tx *sql.Tx, sourcePath string, sizeBytes, modifiedUnixMs, lastOffset, lastLine, parseErrorCount int64) error {
	_, err := tx.Exec(`INSERT INTO source_files
		(source_path, size_bytes, modified_unix_ms, last_offset, last_line, last_scanned_at, parse_error_count)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_path) DO UPDATE SET
			size_bytes = excluded.size_bytes,
			modified_unix_ms = excluded.modified_unix_ms,
			last_offset = excluded.last_offset,
			last_line = excluded.last_line,
			last_scanned_at = excluded.last_scanned_at,
			parse_error_count = excluded.parse_error_count`,
		sourcePath, sizeBytes, modifiedUnixMs, lastOffset, lastLine, time.Now().Format(time.RFC3339), parseErrorCount)
	return err
}

func insertUsageEvent(tx *sql.Tx, e *parsedEvent) (bool, error) {
	res, err := tx.Exec(`INSERT OR IGNORE INTO usage_events
		(event_uid, source_path, source_line, timestamp, event_date, model, input_tokens, output_tokens, cache_creation_tokens, cache_read_tokens, cost, session_id, project_path, project_name)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.eventUID, e.sourcePath, e.sourceLine, e.timestamp, e.eventDate, e.model,
		e.inputTokens, e.outputTokens, e.cacheCreationTokens, e.cacheReadTokens, e.cost,
		e.sessionID, e.projectPath, e.projectName)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// parseUsageEvent parses one JSONL line. discoveredProjectPath is sticky
// across a file's lines: once a line carries a cwd it is used for every
// subsequent event in that file.
func parseUsageEvent(line, sourcePath string, sourceLine int64, fallbackProjectHint string, discoveredProjectPath *string, fallbackSessionID string) (*parsedEvent, error) {
	var entry jsonlEntry
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		return nil, err
	}

	if *discoveredProjectPath == "" && entry.Cwd != "" {
		*discoveredProjectPath = entry.Cwd
	}

	if entry.Message == nil || entry.Message.Usage == nil {
		return nil, nil
	}
	usage := entry.Message.Usage
	if usage.InputTokens == 0 && usage.OutputTokens == 0 && usage.CacheCreationInputTokens == 0 && usage.CacheReadInputTokens == 0 {
		return nil, nil
	}

	eventDate, ok := parseEventDate(entry.Timestamp)
	if !ok {
		return nil, nil
	}

	model := entry.Message.Model
	if model == "" {
		model = "unknown"
	}
	cost := calculateCost(model, usage)
	if entry.CostUSD != nil {
		cost = *entry.CostUSD
	}

	sessionID := entry.SessionID
	if sessionID == "" {
		sessionID = fallbackSessionID
	}

	projectPath := *discoveredProjectPath
	if projectPath == "" {
		projectPath = fallbackProjectHint
	}
	projectName := inferProjectName(projectPath)

	eventUID := "ln:" + sourcePath + ":" + itoa(sourceLine)
	if entry.Message.ID != "" && entry.RequestID != "" {
		eventUID = "mr:" + entry.Message.ID + ":" + entry.RequestID
	}

	return &parsedEvent{
		eventUID:            eventUID,
		sourcePath:          sourcePath,
		sourceLine:          sourceLine,
		timestamp:           entry.Timestamp,
		eventDate:           eventDate,
		model:               model,
		inputTokens:         usage.InputTokens,
		outputTokens:        usage.OutputTokens,
		cacheCreationTokens: usage.CacheCreationInputTokens,
		cacheReadTokens:     usage.CacheReadInputTokens,
		cost:                cost,
		sessionID:           sessionID,
		projectPath:         projectPath,
		projectName:         projectName,
	}, nil
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func (idx *Indexer) processFile(path string, fileIndex, totalFiles int64, outcome *Outcome) error {
	sourcePath := path
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	sizeBytes := info.Size()
	modifiedUnixMs := info.ModTime().UnixMilli()

	existing, err := loadSourceFileRow(idx.db, sourcePath)
	if err != nil {
		return err
	}

	var startOffset, startLine, baseParseErrors int64
	if existing != nil {
		truncated := sizeBytes < existing.lastOffset
		rewritten := sizeBytes == existing.sizeBytes && modifiedUnixMs != existing.modifiedUnixMs

		if truncated || rewritten {
			if _, err := idx.db.Exec("DELETE FROM usage_events WHERE source_path = ?", sourcePath); err != nil {
				return err
			}
			if _, err := idx.db.Exec("DELETE FROM source_files WHERE source_path = ?", sourcePath); err != nil {
				return err
			}
			reason := "rewritten"
			if truncated {
				reason = "truncated"
			}
			logger.Debug("usage index reset", "source", sourcePath, "reason", reason)
		} else {
			startOffset = existing.lastOffset
			startLine = existing.lastLine
			baseParseErrors = existing.parseErrorCount
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Seek(startOffset, 0); err != nil {
		return err
	}

	fallbackProjectHint := inferProjectHint(path)
	fallbackSessionID := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if fallbackSessionID == "" {
		fallbackSessionID = "unknown"
	}

	idx.updateStatus(func(s *Status) {
		s.CurrentFile = sourcePath
		s.FilesTotal = totalFiles
		s.FilesProcessed = fileIndex - 1
	})

	currentOffset := startOffset
	currentLine := startLine
	var batchLines int64
	var discoveredProjectPath string

	var linesProcessed, entriesIndexed, entriesIgnored, parseErrors int64

	tx, err := idx.db.Begin()
	if err != nil {
		return err
	}

	flushBatch := func(final bool) error {
		if err := upsertSourceFileRow(tx, sourcePath, sizeBytes, modifiedUnixMs, currentOffset, currentLine, baseParseErrors+parseErrors); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		if !final {
			tx, err = idx.db.Begin()
			if err != nil {
				return err
			}
		}
		return nil
	}

	reader := bufio.NewReaderSize(f, 64*1024)
	for {
		if idx.isCancelRequested() {
			break
		}

		raw, readErr := reader.ReadString('\n')
		if len(raw) == 0 {
			if readErr != nil {
				break
			}
			continue
		}

		currentOffset += int64(len(raw))
		currentLine++
		linesProcessed++
		batchLines++

		line := strings.TrimRight(raw, "\r\n")
		if strings.TrimSpace(line) != "" {
			event, perr := parseUsageEvent(line, sourcePath, currentLine, fallbackProjectHint, &discoveredProjectPath, fallbackSessionID)
			switch {
			case perr != nil:
				parseErrors++
			case event == nil:
				// not a usage-bearing line; skip
			default:
				inserted, ierr := insertUsageEvent(tx, event)
				if ierr != nil {
					tx.Rollback()
					return ierr
				}
				if inserted {
					entriesIndexed++
				} else {
					entriesIgnored++
				}
			}
		}

		if batchLines >= commitEveryLines {
			if err := flushBatch(false); err != nil {
				return err
			}
			batchLines = 0
			idx.updateStatus(func(s *Status) {
				s.LinesProcessed = outcome.LinesProcessed + linesProcessed
				s.EntriesIndexed = outcome.EntriesIndexed + entriesIndexed
				s.CurrentFile = sourcePath
			})
		}

		if readErr != nil {
			break
		}
	}

	if err := flushBatch(true); err != nil {
		return err
	}

	outcome.LinesProcessed += linesProcessed
	outcome.EntriesIndexed += entriesIndexed
	outcome.EntriesIgnored += entriesIgnored
	outcome.ParseErrors += parseErrors

	idx.updateStatus(func(s *Status) {
		s.FilesProcessed = fileIndex
		s.LinesProcessed = outcome.LinesProcessed
		s.EntriesIndexed = outcome.EntriesIndexed
		s.CurrentFile = sourcePath
	})

	return nil
}

// Sync runs one incremental ingestion pass. Only one Sync may run at a
// time; callers must gate with TryStart/finish.
func (idx *Indexer) Sync() (Outcome, error) {
	defer idx.finish()

	files, err := listUsageJSONLFiles(idx.transcriptsRoot)
	if err != nil {
		idx.markError(err.Error())
		return Outcome{}, err
	}

	existing := make(map[string]bool, len(files))
	for _, f := range files {
		existing[f] = true
	}
	if err := removeDeletedFiles(idx.db, existing); err != nil {
		idx.markError(err.Error())
		return Outcome{}, err
	}

	outcome := Outcome{FilesTotal: int64(len(files))}
	idx.markStarted(outcome.FilesTotal)

	for i, path := range files {
		if idx.isCancelRequested() {
			outcome.Cancelled = true
			break
		}
		if err := idx.processFile(path, int64(i+1), outcome.FilesTotal, &outcome); err != nil {
			idx.markError(err.Error())
			return outcome, err
		}
		outcome.FilesProcessed = int64(i + 1)
	}

	if outcome.Cancelled {
		idx.markCancelled(outcome)
	} else {
		idx.markCompleted(outcome)
	}
	return outcome, nil
}
