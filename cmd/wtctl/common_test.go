package main

import (
	"testing"

	"github.com/codeinterfacex/core/internal/config"
	"github.com/codeinterfacex/core/internal/registry"
)

func TestExtraDescriptorsBuildsArgsWithModelFlag(t *testing.T) {
	extra := []config.ExtraProvider{
		{ProviderID: "goose", BaseArgs: []string{"run"}, ModelFlag: "--model", PromptFirst: false},
	}
	descs := extraDescriptors(extra)
	if len(descs) != 1 {
		t.Fatalf("len(descs) = %d, want 1", len(descs))
	}
	d := descs[0]
	if d.ProviderID != "goose" || d.Adapter != registry.TextWrapped {
		t.Fatalf("unexpected descriptor: %+v", d)
	}

	args, err := d.BuildArgs(registry.Request{Prompt: "hello", Model: "gpt-5"})
	if err != nil {
		t.Fatalf("BuildArgs: %v", err)
	}
	want := []string{"run", "--model", "gpt-5", "hello"}
	if len(args) != len(want) {
		t.Fatalf("args = %v, want %v", args, want)
	}
	for i := range want {
		if args[i] != want[i] {
			t.Fatalf("args[%d] = %q, want %q", i, args[i], want[i])
		}
	}
}

func TestExtraDescriptorsPromptFirst(t *testing.T) {
	extra := []config.ExtraProvider{
		{ProviderID: "aider", BaseArgs: []string{"--yes"}, PromptFirst: true},
	}
	d := extraDescriptors(extra)[0]

	args, err := d.BuildArgs(registry.Request{Prompt: "do the thing"})
	if err != nil {
		t.Fatalf("BuildArgs: %v", err)
	}
	want := []string{"do the thing", "--yes"}
	if len(args) != len(want) || args[0] != want[0] || args[1] != want[1] {
		t.Fatalf("args = %v, want %v", args, want)
	}
}

func TestParseKind(t *testing.T) {
	cases := []struct {
		in      string
		want    registry.Kind
		wantErr bool
	}{
		{"", registry.Execute, false},
		{"execute", registry.Execute, false},
		{"continue", registry.Continue, false},
		{"resume", registry.Resume, false},
		{"bogus", registry.Execute, true},
	}
	for _, c := range cases {
		got, err := parseKind(c.in)
		if (err != nil) != c.wantErr {
			t.Fatalf("parseKind(%q) err = %v, wantErr %v", c.in, err, c.wantErr)
		}
		if !c.wantErr && got != c.want {
			t.Fatalf("parseKind(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}
