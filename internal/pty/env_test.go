package pty

import (
	"strings"
	"testing"
)

func TestBuildEnvStripsAndForcesColorVars(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	t.Setenv("npm_config_prefix", "/weird/prefix")
	t.Setenv("TERM", "dumb")
	t.Setenv("LANG", "")
	t.Setenv("LC_ALL", "")
	t.Setenv("LC_CTYPE", "")

	env := buildEnv()

	has := func(kv string) bool {
		for _, e := range env {
			if e == kv {
				return true
			}
		}
		return false
	}
	hasPrefix := func(prefix string) bool {
		for _, e := range env {
			if strings.HasPrefix(e, prefix) {
				return true
			}
		}
		return false
	}

	if hasPrefix("NO_COLOR=") || hasPrefix("npm_config_prefix=") {
		t.Fatalf("expected stripped vars to be absent, got %v", env)
	}
	if !has("TERM=xterm-256color") {
		t.Fatalf("expected forced TERM override, got %v", env)
	}
	if !has("LANG=en_US.UTF-8") || !has("LC_CTYPE=en_US.UTF-8") {
		t.Fatalf("expected UTF-8 locale fallback when none configured, got %v", env)
	}
}

func TestBuildEnvRespectsExistingLocale(t *testing.T) {
	t.Setenv("LANG", "fr_FR.UTF-8")
	t.Setenv("LC_ALL", "")
	t.Setenv("LC_CTYPE", "")

	env := buildEnv()
	for _, e := range env {
		if e == "LANG=en_US.UTF-8" {
			t.Fatalf("should not override an existing configured locale, got %v", env)
		}
	}
}

func TestSanitizePersistentID(t *testing.T) {
	tests := map[string]string{
		"session one":  "session-one",
		"a/b\\c":       "a-b-c",
		"already_fine": "already_fine",
	}
	for in, want := range tests {
		if got := sanitizePersistentID(in); got != want {
			t.Fatalf("sanitizePersistentID(%q) = %q, want %q", in, got, want)
		}
	}
}
