package streamnorm

import (
	"encoding/json"
	"testing"

	"github.com/codeinterfacex/core/internal/registry"
)

func TestCodexScenarioS1(t *testing.T) {
	lines := []string{
		`{"type":"thread.started"}`,
		`{"type":"turn.started"}`,
		`{"type":"item.completed","item":{"type":"reasoning","text":"ok"}}`,
		`{"type":"item.completed","item":{"type":"agent_message","text":"Hi."}}`,
		`{"type":"turn.completed","usage":{"input_tokens":10,"output_tokens":3}}`,
	}

	var envelopes []string
	for _, l := range lines {
		if env, ok := Normalize(l, registry.CodexJson); ok {
			envelopes = append(envelopes, string(env))
		}
	}

	if len(envelopes) != 3 {
		t.Fatalf("expected exactly 3 envelopes, got %d: %v", len(envelopes), envelopes)
	}

	var first struct {
		Type    string `json:"type"`
		Message struct {
			Content []struct {
				Text string `json:"text"`
			} `json:"content"`
		} `json:"message"`
	}
	if err := json.Unmarshal([]byte(envelopes[0]), &first); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if first.Message.Content[0].Text != "[thinking] ok" {
		t.Fatalf("expected '[thinking] ok', got %q", first.Message.Content[0].Text)
	}

	var second struct {
		Message struct {
			Content []struct {
				Text string `json:"text"`
			} `json:"content"`
		} `json:"message"`
	}
	json.Unmarshal([]byte(envelopes[1]), &second)
	if second.Message.Content[0].Text != "Hi." {
		t.Fatalf("expected 'Hi.', got %q", second.Message.Content[0].Text)
	}

	var third struct {
		Type  string `json:"type"`
		Usage struct {
			InputTokens  int64 `json:"input_tokens"`
			OutputTokens int64 `json:"output_tokens"`
		} `json:"usage"`
	}
	json.Unmarshal([]byte(envelopes[2]), &third)
	if third.Type != "result" || third.Usage.InputTokens != 10 || third.Usage.OutputTokens != 3 {
		t.Fatalf("unexpected result envelope: %+v", third)
	}
}

func TestClaudePassThrough(t *testing.T) {
	line := `{"type":"assistant","message":{"content":[{"type":"text","text":"hello"}]}}`
	env, ok := Normalize(line, registry.ClaudeJson)
	if !ok {
		t.Fatal("expected pass-through envelope")
	}
	if string(env) != line {
		t.Fatalf("expected verbatim pass-through, got %s", env)
	}
}

func TestTextWrappedWrapsRawLine(t *testing.T) {
	env, ok := Normalize("plain text output", registry.TextWrapped)
	if !ok {
		t.Fatal("expected wrapped envelope")
	}
	var parsed struct {
		Type    string `json:"type"`
		Message struct {
			Content []struct {
				Text string `json:"text"`
			} `json:"content"`
		} `json:"message"`
	}
	json.Unmarshal(env, &parsed)
	if parsed.Type != "assistant" || parsed.Message.Content[0].Text != "plain text output" {
		t.Fatalf("unexpected envelope: %+v", parsed)
	}
}

func TestCommandExecutionFormatting(t *testing.T) {
	line := `{"type":"item.completed","item":{"type":"command_execution","command":"ls -la","output":"file1\nfile2"}}`
	env, ok := Normalize(line, registry.CodexJson)
	if !ok {
		t.Fatal("expected envelope")
	}
	var parsed struct {
		Message struct {
			Content []struct {
				Text string `json:"text"`
			} `json:"content"`
		} `json:"message"`
	}
	json.Unmarshal(env, &parsed)
	want := "$ ls -la\nfile1\nfile2"
	if parsed.Message.Content[0].Text != want {
		t.Fatalf("got %q, want %q", parsed.Message.Content[0].Text, want)
	}
}

func TestSalvageUnknownType(t *testing.T) {
	line := `{"type":"some.unknown.event","text":"salvaged"}`
	env, ok := Normalize(line, registry.CodexJson)
	if !ok {
		t.Fatal("expected salvage to wrap text")
	}
	var parsed struct {
		Message struct {
			Content []struct {
				Text string `json:"text"`
			} `json:"content"`
		} `json:"message"`
	}
	json.Unmarshal(env, &parsed)
	if parsed.Message.Content[0].Text != "salvaged" {
		t.Fatalf("got %q", parsed.Message.Content[0].Text)
	}
}

func TestUnsalvageableUnknownTypeDropped(t *testing.T) {
	line := `{"type":"some.unknown.event","irrelevant":true}`
	_, ok := Normalize(line, registry.CodexJson)
	if ok {
		t.Fatal("expected drop for unsalvageable unknown event")
	}
}

func TestIdempotentUnderReplay(t *testing.T) {
	line := `{"type":"assistant","message":{"content":[{"type":"text","text":"hello"}]}}`
	if err := Idempotent(line, registry.ClaudeJson); err != nil {
		t.Fatalf("Idempotent: %v", err)
	}
}

func TestDroppedLifecycleTypes(t *testing.T) {
	for _, typ := range []string{"thread.started", "turn.started", "response.created", "response.in_progress", "response.output_item.added", "response.content_part.added", "response.content_part.done"} {
		line := `{"type":"` + typ + `"}`
		if _, ok := Normalize(line, registry.CodexJson); ok {
			t.Fatalf("expected %s to be dropped", typ)
		}
	}
}
