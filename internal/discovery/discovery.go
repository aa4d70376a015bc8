// Package discovery implements Binary Discovery (C2): locating provider CLI
// binaries on PATH (or via an injectable collaborator for Claude), with a
// TTL cache and single-flight coalescing of concurrent lookups for the same
// provider, grounded in the resolution precedent in
// internal/agent/claude.go and generalized per spec §4.2.
package discovery

import (
	"bufio"
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/codeinterfacex/core/internal/logger"
)

const (
	cacheTTL     = 30 * time.Second
	probeTimeout = 3 * time.Second
)

// Installation mirrors the spec's AgentInstallation entity.
type Installation struct {
	ProviderID string
	BinaryPath string
	Version    string
	Source     string
}

// ClaudeLocator is the external collaborator the desktop host supplies for
// Claude Code detection; this module never implements Claude discovery
// itself so the core stays independent of any specific Claude-Code-install
// convention.
type ClaudeLocator interface {
	LocateClaude(ctx context.Context) (*Installation, error)
}

type cacheEntry struct {
	checkedAt time.Time
	result    *Installation
}

// Cache is the single shared discovery cache: one per process, constructed
// via New, never a package-level singleton assigned in init.
type Cache struct {
	mu          sync.Mutex
	entries     map[string]cacheEntry
	inFlight    map[string]chan struct{}
	claude      ClaudeLocator
	binaryNames map[string]string
}

// New constructs a discovery cache. binaryNames optionally maps a
// provider id to the binary name `which`/`where` should look up when it
// differs from the provider id itself (an extra provider declared with a
// custom binary_name).
func New(claude ClaudeLocator, binaryNames map[string]string) *Cache {
	return &Cache{
		entries:     make(map[string]cacheEntry),
		inFlight:    make(map[string]chan struct{}),
		claude:      claude,
		binaryNames: binaryNames,
	}
}

// Discover resolves a provider binary, coalescing concurrent callers for the
// same provider_key via a single-flight gate.
func (c *Cache) Discover(ctx context.Context, providerID string) (*Installation, error) {
	key := strings.ToLower(providerID)

	for {
		c.mu.Lock()
		if e, ok := c.entries[key]; ok && time.Since(e.checkedAt) < cacheTTL {
			c.mu.Unlock()
			return e.result, nil
		}
		if wait, ok := c.inFlight[key]; ok {
			c.mu.Unlock()
			select {
			case <-wait:
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		done := make(chan struct{})
		c.inFlight[key] = done
		c.mu.Unlock()

		result, err := c.probe(ctx, key)

		c.mu.Lock()
		c.entries[key] = cacheEntry{checkedAt: time.Now(), result: result}
		delete(c.inFlight, key)
		c.mu.Unlock()
		close(done)

		return result, err
	}
}

func (c *Cache) probe(ctx context.Context, providerID string) (*Installation, error) {
	if providerID == "claude" && c.claude != nil {
		inst, err := c.claude.LocateClaude(ctx)
		if err != nil {
			logger.Warn("claude discovery failed", "error", err)
			return nil, nil
		}
		return inst, nil
	}

	binaryName := providerID
	if name, ok := c.binaryNames[providerID]; ok && name != "" {
		binaryName = name
	}

	path, source, err := lookupPath(ctx, binaryName)
	if err != nil || path == "" {
		logger.Warn("binary discovery failed", "provider_id", providerID, "binary_name", binaryName, "error", err)
		return nil, nil
	}

	if !validate(ctx, providerID, path) {
		logger.Warn("binary discovery validation failed", "provider_id", providerID, "path", path)
		return nil, nil
	}

	return &Installation{ProviderID: providerID, BinaryPath: path, Source: source}, nil
}

func lookupPath(ctx context.Context, providerID string) (path string, source string, err error) {
	lookupCmd := "which"
	if runtime.GOOS == "windows" {
		lookupCmd = "where"
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, lookupCmd, providerID)
	out, runErr := cmd.Output()
	if runErr != nil {
		return "", "", runErr
	}

	scanner := bufio.NewScanner(bytes.NewReader(out))
	if !scanner.Scan() {
		return "", "", nil
	}
	line := strings.TrimSpace(scanner.Text())

	if idx := strings.Index(line, "aliased to "); idx >= 0 {
		line = strings.TrimSpace(line[idx+len("aliased to "):])
		if sp := strings.IndexByte(line, ' '); sp >= 0 {
			line = line[:sp]
		}
	}

	if filepath.IsAbs(line) {
		if _, statErr := os.Stat(line); statErr != nil {
			return "", "", statErr
		}
	}

	return line, "path", nil
}

func validate(ctx context.Context, providerID, path string) bool {
	if providerID != "goose" {
		return true
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, path, "--help").CombinedOutput()
	if err != nil {
		return false
	}
	lower := strings.ToLower(string(out))
	return strings.Contains(lower, "an ai agent") || strings.Contains(lower, "goose run [options]")
}

// Version runs "<path> --version" and returns the first readable output
// line from stdout, falling back to stderr, else ("", false).
func Version(ctx context.Context, path string) (string, bool) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, path, "--version")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	_ = cmd.Run()

	if v := firstLine(stdout.String()); v != "" {
		return v, true
	}
	if v := firstLine(stderr.String()); v != "" {
		return v, true
	}
	return "", false
}

func firstLine(s string) string {
	scanner := bufio.NewScanner(strings.NewReader(s))
	if scanner.Scan() {
		return strings.TrimSpace(scanner.Text())
	}
	return ""
}
