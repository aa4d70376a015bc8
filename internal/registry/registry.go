// Package registry implements the provider runtime registry (C1): a
// process-wide constant map from provider id to a descriptor that knows how
// to compose argv for that provider's CLI and which stream adapter parses
// its stdout.
package registry

import (
	"fmt"
	"sort"
	"strings"
)

// Adapter selects which Stream Normalizer parsing strategy applies to a
// provider's stdout. A closed set; an unrecognized value is rejected at
// registry-construction time rather than dispatched on at runtime.
type Adapter int

const (
	ClaudeJson Adapter = iota
	CodexJson
	TextWrapped
)

func (a Adapter) String() string {
	switch a {
	case ClaudeJson:
		return "claude_json"
	case CodexJson:
		return "codex_json"
	case TextWrapped:
		return "text_wrapped"
	default:
		return "unknown"
	}
}

// Kind is the requested command shape for a provider invocation.
type Kind int

const (
	Execute Kind = iota
	Continue
	Resume
)

// Capabilities declares which command kinds and extras a provider supports.
type Capabilities struct {
	SupportsContinue        bool
	SupportsResume          bool
	SupportsReasoningEffort bool
}

// Request is the caller-supplied description of one invocation.
type Request struct {
	Kind            Kind
	Prompt          string
	Model           string
	SessionID       string
	ReasoningEffort string
}

// BuildArgsFunc composes argv (excluding the binary path itself) for one
// request against one provider. Expressed as a function value per
// descriptor rather than an interface method set, matching the teacher's
// per-provider switch-based dispatch in internal/agent/{claude,codex}.go.
type BuildArgsFunc func(req Request) ([]string, error)

// Descriptor is the process-wide constant entry for one provider.
type Descriptor struct {
	ProviderID   string
	Adapter      Adapter
	Capabilities Capabilities
	BuildArgs    BuildArgsFunc
}

// Capability is the public, sorted projection of a Descriptor used by
// ListCapabilities.
type Capability struct {
	ProviderID   string
	Capabilities Capabilities
}

var validReasoningEfforts = map[string]bool{
	"none": true, "minimal": true, "low": true, "medium": true, "high": true, "xhigh": true,
}

// codexSuppressedModels are substrings that, when found (case-insensitively)
// in the trimmed model string, suppress the --model flag for codex. Per
// original_source/providers/codex.rs this is a substring-containment check,
// not an equality check — the distilled spec's "∈ {...}" wording resolves
// to .contains() semantics.
var codexSuppressedModels = []string{"default", "sonnet", "opus", "haiku", "claude"}

func appendModelArg(args []string, flag, model string) []string {
	trimmed := strings.TrimSpace(model)
	if trimmed == "" || strings.EqualFold(trimmed, "default") {
		return args
	}
	return append(args, flag, trimmed)
}

func appendReasoningEffort(args []string, effort string) []string {
	trimmed := strings.ToLower(strings.TrimSpace(effort))
	if trimmed == "" || !validReasoningEfforts[trimmed] {
		return args
	}
	return append(args, "-c", fmt.Sprintf("model_reasoning_effort=%q", trimmed))
}

func claudeBuildArgs(req Request) ([]string, error) {
	var args []string
	switch req.Kind {
	case Continue:
		args = append(args, "-c")
	case Resume:
		if strings.TrimSpace(req.SessionID) == "" {
			return nil, fmt.Errorf("registry: claude resume requires a session id")
		}
		args = append(args, "--resume", req.SessionID)
	}
	args = append(args, "-p", req.Prompt)
	args = appendModelArg(args, "--model", req.Model)
	args = append(args, "--output-format", "stream-json", "--verbose", "--dangerously-skip-permissions")
	return args, nil
}

func codexBuildArgs(req Request) ([]string, error) {
	args := []string{"exec", "--json", req.Prompt}

	trimmed := strings.TrimSpace(req.Model)
	if trimmed != "" && !strings.EqualFold(trimmed, "default") {
		lower := strings.ToLower(trimmed)
		suppressed := false
		for _, s := range codexSuppressedModels {
			if strings.Contains(lower, s) {
				suppressed = true
				break
			}
		}
		if !suppressed {
			args = append(args, "--model", trimmed)
		}
	}

	args = appendReasoningEffort(args, req.ReasoningEffort)
	return args, nil
}

func geminiBuildArgs(req Request) ([]string, error) {
	args := []string{"--prompt", req.Prompt, "--approval-mode", "yolo", "--output-format", "stream-json"}
	args = appendModelArg(args, "--model", req.Model)
	return args, nil
}

func aiderBuildArgs(req Request) ([]string, error) {
	args := []string{"--message", req.Prompt, "--yes"}
	args = appendModelArg(args, "--model", req.Model)
	return args, nil
}

func gooseBuildArgs(req Request) ([]string, error) {
	args := []string{"run", "--text", req.Prompt, "--no-session", "--output-format", "stream-json"}
	args = appendModelArg(args, "--model", req.Model)
	return args, nil
}

func opencodeBuildArgs(req Request) ([]string, error) {
	args := []string{"run", req.Prompt}
	args = appendModelArg(args, "--model", req.Model)
	return args, nil
}

// Registry holds the provider descriptor map. Constructed once per process
// via New (never a package-level var assigned in init, so tests can build
// isolated instances).
type Registry struct {
	descriptors map[string]Descriptor
}

// New builds the registry with the six built-in provider descriptors plus
// any caller-supplied extras (from project-level agents.yaml).
func New(extra ...Descriptor) *Registry {
	r := &Registry{descriptors: map[string]Descriptor{
		"claude": {
			ProviderID: "claude",
			Adapter:    ClaudeJson,
			Capabilities: Capabilities{
				SupportsContinue: true,
				SupportsResume:   true,
			},
			BuildArgs: claudeBuildArgs,
		},
		"codex": {
			ProviderID: "codex",
			Adapter:    CodexJson,
			Capabilities: Capabilities{
				SupportsReasoningEffort: true,
			},
			BuildArgs: codexBuildArgs,
		},
		"gemini": {
			ProviderID: "gemini",
			Adapter:    ClaudeJson,
			BuildArgs:  geminiBuildArgs,
		},
		"aider": {
			ProviderID: "aider",
			Adapter:    TextWrapped,
			BuildArgs:  aiderBuildArgs,
		},
		"goose": {
			ProviderID: "goose",
			Adapter:    ClaudeJson,
			BuildArgs:  gooseBuildArgs,
		},
		"opencode": {
			ProviderID: "opencode",
			Adapter:    TextWrapped,
			BuildArgs:  opencodeBuildArgs,
		},
	}}
	for _, d := range extra {
		if d.Adapter.String() == "unknown" {
			continue
		}
		r.descriptors[d.ProviderID] = d
	}
	return r
}

// Get returns the descriptor for a provider id, or false if unknown.
func (r *Registry) Get(providerID string) (Descriptor, bool) {
	d, ok := r.descriptors[providerID]
	return d, ok
}

// ListCapabilities returns every descriptor's capabilities sorted by
// provider_id.
func (r *Registry) ListCapabilities() []Capability {
	caps := make([]Capability, 0, len(r.descriptors))
	for _, d := range r.descriptors {
		caps = append(caps, Capability{ProviderID: d.ProviderID, Capabilities: d.Capabilities})
	}
	sort.Slice(caps, func(i, j int) bool { return caps[i].ProviderID < caps[j].ProviderID })
	return caps
}

// DowngradeKind returns req unchanged if the descriptor supports req.Kind,
// otherwise returns a copy with Kind=Execute. Callers (the supervisor) are
// expected to log the downgrade themselves so this stays a pure function.
func DowngradeKind(d Descriptor, req Request) Request {
	switch req.Kind {
	case Continue:
		if !d.Capabilities.SupportsContinue {
			req.Kind = Execute
		}
	case Resume:
		if !d.Capabilities.SupportsResume {
			req.Kind = Execute
		}
	}
	return req
}

// BuildArgs downgrades unsupported kinds then invokes the descriptor's
// builder, matching §4.1's "Rules" paragraph.
func (r *Registry) BuildArgs(providerID string, req Request) ([]string, error) {
	d, ok := r.Get(providerID)
	if !ok {
		return nil, fmt.Errorf("registry: unknown provider %q", providerID)
	}
	req = DowngradeKind(d, req)
	return d.BuildArgs(req)
}
