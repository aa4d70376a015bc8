package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/codeinterfacex/core/internal/config"
	"github.com/codeinterfacex/core/internal/discovery"
	"github.com/codeinterfacex/core/internal/eventbus"
	"github.com/codeinterfacex/core/internal/logger"
	"github.com/codeinterfacex/core/internal/procregistry"
	"github.com/codeinterfacex/core/internal/registry"
	"github.com/codeinterfacex/core/internal/store"
	"github.com/codeinterfacex/core/internal/supervisor"
)

// env bundles every in-process component a subcommand needs, built fresh
// per invocation the same way cmd/wtd assembles them at startup.
type env struct {
	cfg        *config.Config
	store      *store.Store
	registry   *registry.Registry
	discovery  *discovery.Cache
	procs      *procregistry.Registry
	bus        *eventbus.Bus
	supervisor *supervisor.Supervisor
}

func loadEnv() (*env, error) {
	userDir, err := config.GetUserConfigDir()
	if err != nil {
		return nil, fmt.Errorf("resolve user config dir: %w", err)
	}
	projectDir, err := config.GetProjectDir()
	if err != nil {
		return nil, fmt.Errorf("resolve project dir: %w", err)
	}
	if err := config.EnsureConfigDirs(userDir, projectDir); err != nil {
		return nil, fmt.Errorf("ensure config dirs: %w", err)
	}

	mgr := config.NewManager()
	if err := mgr.Load(userDir, projectDir); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg := mgr.Get()

	if err := logger.InitFromConfig(cfg, "wtctl.log"); err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	st, err := store.Open(filepath.Join(userDir, "core.sqlite"))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	extra := mgr.ExtraProviders()
	reg := registry.New(extraDescriptors(extra)...)
	disc := discovery.New(pathClaudeLocator{}, extraBinaryNames(extra))
	procs := procregistry.New()
	bus := eventbus.New()
	sup := supervisor.New(st, reg, disc, procs, bus)

	return &env{cfg: cfg, store: st, registry: reg, discovery: disc, procs: procs, bus: bus, supervisor: sup}, nil
}

func (e *env) Close() {
	e.store.Close()
}

// extraDescriptors turns project-level .codeinterfacex/agents.yaml entries
// into registry descriptors: base args plus an optional model flag,
// prompt positioned first or last per PromptFirst. These providers are
// parsed as plain text output (TextWrapped), since a hand-declared CLI has
// no guaranteed JSON stream contract the way claude/codex/gemini do.
func extraDescriptors(extra []config.ExtraProvider) []registry.Descriptor {
	descriptors := make([]registry.Descriptor, 0, len(extra))
	for _, p := range extra {
		p := p
		descriptors = append(descriptors, registry.Descriptor{
			ProviderID: p.ProviderID,
			Adapter:    registry.TextWrapped,
			Capabilities: registry.Capabilities{
				SupportsContinue: false,
				SupportsResume:   false,
			},
			BuildArgs: func(req registry.Request) ([]string, error) {
				args := append([]string{}, p.BaseArgs...)
				if p.ModelFlag != "" && req.Model != "" {
					args = append(args, p.ModelFlag, req.Model)
				}
				if p.PromptFirst {
					return append([]string{req.Prompt}, args...), nil
				}
				return append(args, req.Prompt), nil
			},
		})
	}
	return descriptors
}

// extraBinaryNames maps provider ids that declare a binary_name distinct
// from their provider id, so discovery looks up the right executable.
func extraBinaryNames(extra []config.ExtraProvider) map[string]string {
	names := make(map[string]string, len(extra))
	for _, p := range extra {
		if p.BinaryName != "" {
			names[p.ProviderID] = p.BinaryName
		}
	}
	return names
}

// pathClaudeLocator resolves the Claude Code CLI purely via PATH, since
// wtctl has no desktop-specific install convention to special-case.
type pathClaudeLocator struct{}

func (pathClaudeLocator) LocateClaude(ctx context.Context) (*discovery.Installation, error) {
	path, err := exec.LookPath("claude")
	if err != nil {
		return nil, err
	}
	version, _ := discovery.Version(ctx, path)
	return &discovery.Installation{ProviderID: "claude", BinaryPath: path, Version: version, Source: "path"}, nil
}
