package registry

import (
	"strings"
	"testing"
)

func TestClaudeArgvByKind(t *testing.T) {
	r := New()

	cases := []struct {
		name string
		req  Request
		want []string
	}{
		{
			name: "execute",
			req:  Request{Kind: Execute, Prompt: "hi", Model: "opus"},
			want: []string{"-p", "hi", "--model", "opus", "--output-format", "stream-json", "--verbose", "--dangerously-skip-permissions"},
		},
		{
			name: "continue",
			req:  Request{Kind: Continue, Prompt: "hi"},
			want: []string{"-c", "-p", "hi", "--output-format", "stream-json", "--verbose", "--dangerously-skip-permissions"},
		},
		{
			name: "resume",
			req:  Request{Kind: Resume, Prompt: "hi", SessionID: "abc-123"},
			want: []string{"--resume", "abc-123", "-p", "hi", "--output-format", "stream-json", "--verbose", "--dangerously-skip-permissions"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := r.BuildArgs("claude", tc.req)
			if err != nil {
				t.Fatalf("BuildArgs: %v", err)
			}
			if !equalArgs(got, tc.want) {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestClaudeResumeRequiresSessionID(t *testing.T) {
	r := New()
	if _, err := r.BuildArgs("claude", Request{Kind: Resume, Prompt: "hi"}); err == nil {
		t.Fatalf("expected error for resume without session id")
	}
}

func TestDowngradeUnsupportedKindIsDeterministic(t *testing.T) {
	r := New()
	// gemini supports neither continue nor resume; downgraded argv must equal
	// the argv built directly with Kind=Execute.
	req := Request{Kind: Resume, Prompt: "hi", SessionID: "whatever"}
	got, err := r.BuildArgs("gemini", req)
	if err != nil {
		t.Fatalf("BuildArgs: %v", err)
	}
	want, err := r.BuildArgs("gemini", Request{Kind: Execute, Prompt: "hi"})
	if err != nil {
		t.Fatalf("BuildArgs: %v", err)
	}
	if !equalArgs(got, want) {
		t.Fatalf("downgrade not deterministic: got %v, want %v", got, want)
	}
}

func TestModelDefaultSuppressesFlag(t *testing.T) {
	r := New()
	for _, providerID := range []string{"claude", "gemini", "aider", "goose", "opencode"} {
		for _, model := range []string{"", "default", "Default", "  DEFAULT  "} {
			args, err := r.BuildArgs(providerID, Request{Kind: Execute, Prompt: "x", Model: model})
			if err != nil {
				t.Fatalf("%s: BuildArgs: %v", providerID, err)
			}
			if containsFlag(args, "--model") {
				t.Fatalf("%s with model %q: unexpected --model in %v", providerID, model, args)
			}
		}
	}
}

func TestCodexModelSubstringSuppression(t *testing.T) {
	r := New()
	suppressed := []string{"default", "claude-sonnet-4", "OPUS", "haiku-mini", "anthropic-claude"}
	for _, m := range suppressed {
		args, err := r.BuildArgs("codex", Request{Kind: Execute, Prompt: "x", Model: m})
		if err != nil {
			t.Fatalf("BuildArgs: %v", err)
		}
		if containsFlag(args, "--model") {
			t.Fatalf("model %q should suppress --model, got %v", m, args)
		}
	}

	args, err := r.BuildArgs("codex", Request{Kind: Execute, Prompt: "x", Model: "gpt-5.3-codex"})
	if err != nil {
		t.Fatalf("BuildArgs: %v", err)
	}
	if !containsFlag(args, "--model") {
		t.Fatalf("expected --model for gpt-5.3-codex, got %v", args)
	}
}

func TestCodexReasoningEffortValidation(t *testing.T) {
	r := New()
	for _, e := range []string{"none", "minimal", "low", "medium", "high", "xhigh", "XHIGH", " low "} {
		args, err := r.BuildArgs("codex", Request{Kind: Execute, Prompt: "x", ReasoningEffort: e})
		if err != nil {
			t.Fatalf("BuildArgs: %v", err)
		}
		if !containsFlag(args, "-c") {
			t.Fatalf("effort %q should append -c model_reasoning_effort, got %v", e, args)
		}
	}

	for _, e := range []string{"", "extreme", "ultra-high", "garbage"} {
		args, err := r.BuildArgs("codex", Request{Kind: Execute, Prompt: "x", ReasoningEffort: e})
		if err != nil {
			t.Fatalf("BuildArgs: %v", err)
		}
		if containsFlag(args, "-c") {
			t.Fatalf("effort %q should be dropped, got %v", e, args)
		}
	}
}

func TestListCapabilitiesSorted(t *testing.T) {
	r := New()
	caps := r.ListCapabilities()
	for i := 1; i < len(caps); i++ {
		if caps[i-1].ProviderID >= caps[i].ProviderID {
			t.Fatalf("capabilities not sorted: %v", caps)
		}
	}
}

func equalArgs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func containsFlag(args []string, flag string) bool {
	for _, a := range args {
		if a == flag || strings.HasPrefix(a, flag+"=") {
			return true
		}
	}
	return false
}
