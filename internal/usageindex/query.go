package usageindex

import (
	"strings"
)

const maxQueryLimit = 500

// ModelUsage is one Stats.ByModel row.
type ModelUsage struct {
	Model               string  `json:"model"`
	TotalCost           float64 `json:"total_cost"`
	TotalTokens         int64   `json:"total_tokens"`
	InputTokens         int64   `json:"input_tokens"`
	OutputTokens        int64   `json:"output_tokens"`
	CacheCreationTokens int64   `json:"cache_creation_tokens"`
	CacheReadTokens     int64   `json:"cache_read_tokens"`
	SessionCount        int64   `json:"session_count"`
}

// DailyUsage is one Stats.ByDate row.
type DailyUsage struct {
	Date        string   `json:"date"`
	TotalCost   float64  `json:"total_cost"`
	TotalTokens int64    `json:"total_tokens"`
	ModelsUsed  []string `json:"models_used"`
}

// ProjectUsage is one Stats.ByProject row, and also SessionStats' row shape
// (grouped by project_path + session_id there instead).
type ProjectUsage struct {
	ProjectPath  string  `json:"project_path"`
	ProjectName  string  `json:"project_name"`
	TotalCost    float64 `json:"total_cost"`
	TotalTokens  int64   `json:"total_tokens"`
	SessionCount int64   `json:"session_count"`
	LastUsed     string  `json:"last_used"`
}

// UsageEntry is one Details row.
type UsageEntry struct {
	Timestamp           string  `json:"timestamp"`
	Model               string  `json:"model"`
	InputTokens         int64   `json:"input_tokens"`
	OutputTokens        int64   `json:"output_tokens"`
	CacheCreationTokens int64   `json:"cache_creation_tokens"`
	CacheReadTokens     int64   `json:"cache_read_tokens"`
	Cost                float64 `json:"cost"`
	SessionID           string  `json:"session_id"`
	ProjectPath         string  `json:"project_path"`
}

// Stats is Stats()'s aggregate result.
type Stats struct {
	TotalCost                float64        `json:"total_cost"`
	TotalTokens              int64          `json:"total_tokens"`
	TotalInputTokens         int64          `json:"total_input_tokens"`
	TotalOutputTokens        int64          `json:"total_output_tokens"`
	TotalCacheCreationTokens int64          `json:"total_cache_creation_tokens"`
	TotalCacheReadTokens     int64          `json:"total_cache_read_tokens"`
	TotalSessions            int64          `json:"total_sessions"`
	ByModel                  []ModelUsage   `json:"by_model"`
	ByDate                   []DailyUsage   `json:"by_date"`
	ByProject                []ProjectUsage `json:"by_project"`
}

func clampNonNegative(n int64) int64 {
	if n < 0 {
		return 0
	}
	return n
}

func addDateFilters(sql *strings.Builder, args *[]any, startDate, endDate string) {
	if startDate != "" {
		sql.WriteString(" AND event_date >= ?")
		*args = append(*args, startDate)
	}
	if endDate != "" {
		sql.WriteString(" AND event_date <= ?")
		*args = append(*args, endDate)
	}
}

// Stats computes totals, per-model, per-date and per-project breakdowns
// over an optional [startDate, endDate] window, per spec §4.6.
func (idx *Indexer) Stats(startDate, endDate string) (Stats, error) {
	var stats Stats

	var baseSQL strings.Builder
	baseSQL.WriteString(`SELECT
		COALESCE(SUM(cost), 0),
		COALESCE(SUM(input_tokens), 0),
		COALESCE(SUM(output_tokens), 0),
		COALESCE(SUM(cache_creation_tokens), 0),
		COALESCE(SUM(cache_read_tokens), 0),
		COALESCE(COUNT(DISTINCT session_id), 0)
		FROM usage_events WHERE 1=1`)
	var baseArgs []any
	addDateFilters(&baseSQL, &baseArgs, startDate, endDate)

	var input, output, cacheCreation, cacheRead, sessions int64
	row := idx.db.QueryRow(baseSQL.String(), baseArgs...)
	if err := row.Scan(&stats.TotalCost, &input, &output, &cacheCreation, &cacheRead, &sessions); err != nil {
		return Stats{}, err
	}
	stats.TotalInputTokens = clampNonNegative(input)
	stats.TotalOutputTokens = clampNonNegative(output)
	stats.TotalCacheCreationTokens = clampNonNegative(cacheCreation)
	stats.TotalCacheReadTokens = clampNonNegative(cacheRead)
	stats.TotalSessions = clampNonNegative(sessions)
	stats.TotalTokens = stats.TotalInputTokens + stats.TotalOutputTokens + stats.TotalCacheCreationTokens + stats.TotalCacheReadTokens

	var modelSQL strings.Builder
	modelSQL.WriteString(`SELECT model,
		COALESCE(SUM(cost), 0),
		COALESCE(SUM(input_tokens), 0),
		COALESCE(SUM(output_tokens), 0),
		COALESCE(SUM(cache_creation_tokens), 0),
		COALESCE(SUM(cache_read_tokens), 0),
		COALESCE(COUNT(DISTINCT session_id), 0)
		FROM usage_events WHERE 1=1`)
	var modelArgs []any
	addDateFilters(&modelSQL, &modelArgs, startDate, endDate)
	modelSQL.WriteString(" GROUP BY model ORDER BY SUM(cost) DESC")

	modelRows, err := idx.db.Query(modelSQL.String(), modelArgs...)
	if err != nil {
		return Stats{}, err
	}
	for modelRows.Next() {
		var m ModelUsage
		var in, out, cc, cr int64
		if err := modelRows.Scan(&m.Model, &m.TotalCost, &in, &out, &cc, &cr, &m.SessionCount); err != nil {
			modelRows.Close()
			return Stats{}, err
		}
		m.InputTokens, m.OutputTokens, m.CacheCreationTokens, m.CacheReadTokens = clampNonNegative(in), clampNonNegative(out), clampNonNegative(cc), clampNonNegative(cr)
		m.SessionCount = clampNonNegative(m.SessionCount)
		m.TotalTokens = m.InputTokens + m.OutputTokens + m.CacheCreationTokens + m.CacheReadTokens
		stats.ByModel = append(stats.ByModel, m)
	}
	modelRows.Close()
	if err := modelRows.Err(); err != nil {
		return Stats{}, err
	}

	var dailySQL strings.Builder
	dailySQL.WriteString(`SELECT event_date,
		COALESCE(SUM(cost), 0),
		COALESCE(SUM(input_tokens), 0),
		COALESCE(SUM(output_tokens), 0),
		COALESCE(SUM(cache_creation_tokens), 0),
		COALESCE(SUM(cache_read_tokens), 0),
		COALESCE(GROUP_CONCAT(DISTINCT model), '')
		FROM usage_events WHERE 1=1`)
	var dailyArgs []any
	addDateFilters(&dailySQL, &dailyArgs, startDate, endDate)
	dailySQL.WriteString(" GROUP BY event_date ORDER BY event_date DESC")

	dailyRows, err := idx.db.Query(dailySQL.String(), dailyArgs...)
	if err != nil {
		return Stats{}, err
	}
	for dailyRows.Next() {
		var d DailyUsage
		var in, out, cc, cr int64
		var modelsCSV string
		if err := dailyRows.Scan(&d.Date, &d.TotalCost, &in, &out, &cc, &cr, &modelsCSV); err != nil {
			dailyRows.Close()
			return Stats{}, err
		}
		in, out, cc, cr = clampNonNegative(in), clampNonNegative(out), clampNonNegative(cc), clampNonNegative(cr)
		d.TotalTokens = in + out + cc + cr
		if modelsCSV != "" {
			d.ModelsUsed = strings.Split(modelsCSV, ",")
		}
		stats.ByDate = append(stats.ByDate, d)
	}
	dailyRows.Close()
	if err := dailyRows.Err(); err != nil {
		return Stats{}, err
	}

	var projectSQL strings.Builder
	projectSQL.WriteString(`SELECT project_path,
		MIN(project_name),
		COALESCE(SUM(cost), 0),
		COALESCE(SUM(input_tokens), 0),
		COALESCE(SUM(output_tokens), 0),
		COALESCE(SUM(cache_creation_tokens), 0),
		COALESCE(SUM(cache_read_tokens), 0),
		COALESCE(COUNT(DISTINCT session_id), 0),
		COALESCE(MAX(timestamp), '')
		FROM usage_events WHERE 1=1`)
	var projectArgs []any
	addDateFilters(&projectSQL, &projectArgs, startDate, endDate)
	projectSQL.WriteString(" GROUP BY project_path ORDER BY SUM(cost) DESC")

	projectRows, err := idx.db.Query(projectSQL.String(), projectArgs...)
	if err != nil {
		return Stats{}, err
	}
	for projectRows.Next() {
		var p ProjectUsage
		var in, out, cc, cr int64
		if err := projectRows.Scan(&p.ProjectPath, &p.ProjectName, &p.TotalCost, &in, &out, &cc, &cr, &p.SessionCount, &p.LastUsed); err != nil {
			projectRows.Close()
			return Stats{}, err
		}
		in, out, cc, cr = clampNonNegative(in), clampNonNegative(out), clampNonNegative(cc), clampNonNegative(cr)
		p.SessionCount = clampNonNegative(p.SessionCount)
		p.TotalTokens = in + out + cc + cr
		stats.ByProject = append(stats.ByProject, p)
	}
	projectRows.Close()
	if err := projectRows.Err(); err != nil {
		return Stats{}, err
	}

	return stats, nil
}

func capLimit(limit int) int64 {
	if limit <= 0 || limit > maxQueryLimit {
		return maxQueryLimit
	}
	return int64(limit)
}

// Details returns individual usage events ordered by timestamp ascending,
// per spec §4.6.
func (idx *Indexer) Details(projectPath, datePrefix string, limit, offset int) ([]UsageEntry, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT timestamp, model, input_tokens, output_tokens, cache_creation_tokens, cache_read_tokens, cost, session_id, project_path
		FROM usage_events WHERE 1=1`)
	var args []any

	if projectPath != "" {
		sb.WriteString(" AND project_path = ?")
		args = append(args, projectPath)
	}
	if datePrefix != "" {
		sb.WriteString(" AND event_date LIKE ?")
		args = append(args, datePrefix+"%")
	}

	sb.WriteString(" ORDER BY timestamp ASC LIMIT ? OFFSET ?")
	args = append(args, capLimit(limit), offset)

	rows, err := idx.db.Query(sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []UsageEntry
	for rows.Next() {
		var e UsageEntry
		var in, outTok, cc, cr int64
		if err := rows.Scan(&e.Timestamp, &e.Model, &in, &outTok, &cc, &cr, &e.Cost, &e.SessionID, &e.ProjectPath); err != nil {
			return nil, err
		}
		e.InputTokens, e.OutputTokens, e.CacheCreationTokens, e.CacheReadTokens = clampNonNegative(in), clampNonNegative(outTok), clampNonNegative(cc), clampNonNegative(cr)
		out = append(out, e)
	}
	return out, rows.Err()
}

// SessionStats groups usage by (project_path, session_id), per spec §4.6.
func (idx *Indexer) SessionStats(sinceDate, untilDate, order string, limit, offset int) ([]ProjectUsage, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT project_path, session_id,
		COALESCE(SUM(cost), 0),
		COALESCE(SUM(input_tokens), 0),
		COALESCE(SUM(output_tokens), 0),
		COALESCE(SUM(cache_creation_tokens), 0),
		COALESCE(SUM(cache_read_tokens), 0),
		COALESCE(COUNT(*), 0),
		COALESCE(MAX(timestamp), '')
		FROM usage_events WHERE 1=1`)
	var args []any

	if sinceDate != "" {
		sb.WriteString(" AND event_date >= ?")
		args = append(args, sinceDate)
	}
	if untilDate != "" {
		sb.WriteString(" AND event_date <= ?")
		args = append(args, untilDate)
	}

	sb.WriteString(" GROUP BY project_path, session_id")
	if order == "asc" {
		sb.WriteString(" ORDER BY MAX(timestamp) ASC")
	} else {
		sb.WriteString(" ORDER BY MAX(timestamp) DESC")
	}

	sb.WriteString(" LIMIT ? OFFSET ?")
	args = append(args, capLimit(limit), offset)

	rows, err := idx.db.Query(sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ProjectUsage
	for rows.Next() {
		var p ProjectUsage
		var sessionID string
		var in, outTok, cc, cr int64
		if err := rows.Scan(&p.ProjectPath, &sessionID, &p.TotalCost, &in, &outTok, &cc, &cr, &p.SessionCount, &p.LastUsed); err != nil {
			return nil, err
		}
		in, outTok, cc, cr = clampNonNegative(in), clampNonNegative(outTok), clampNonNegative(cc), clampNonNegative(cr)
		p.SessionCount = clampNonNegative(p.SessionCount)
		p.TotalTokens = in + outTok + cc + cr
		p.ProjectName = sessionID
		out = append(out, p)
	}
	return out, rows.Err()
}
