package pty

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
)

const maxIncidentFiles = 25

func incidentDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, ".codeinterfacex-terminal-debug"), nil
}

// WriteIncident serializes a debug payload to a pretty-printed JSON file and
// prunes the directory down to the 25 newest incidents, per spec §4.5.
func WriteIncident(payload any, note string) (string, error) {
	dir, err := incidentDir()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create incident dir: %w", err)
	}

	capturedAtMs := time.Now().UnixMilli()
	body, err := json.MarshalIndent(map[string]any{
		"version":      1,
		"capturedAtMs": capturedAtMs,
		"note":         note,
		"payload":      payload,
	}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal incident: %w", err)
	}

	name := fmt.Sprintf("incident-%d-%s.json", capturedAtMs, uuid.NewString())
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return "", fmt.Errorf("write incident: %w", err)
	}

	pruneIncidents(dir)
	return path, nil
}

func pruneIncidents(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	var files []os.DirEntry
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".json" {
			files = append(files, e)
		}
	}
	if len(files) <= maxIncidentFiles {
		return
	}

	sort.Slice(files, func(i, j int) bool {
		iInfo, _ := files[i].Info()
		jInfo, _ := files[j].Info()
		if iInfo == nil || jInfo == nil {
			return false
		}
		return iInfo.ModTime().After(jInfo.ModTime())
	})

	for _, stale := range files[maxIncidentFiles:] {
		_ = os.Remove(filepath.Join(dir, stale.Name()))
	}
}
