// Package streamnorm implements the Stream Normalizer (C3): a pure function
// that turns one line of provider stdout into zero or one canonical
// envelope, grounded in the per-provider parse functions of
// internal/agent/{claude,codex}.go and generalized per spec §4.3.
package streamnorm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/codeinterfacex/core/internal/registry"
)

// Normalize parses one stdout line according to adapter and returns the
// canonical envelope, or (nil, false) if the line should be dropped.
func Normalize(line string, adapter registry.Adapter) (json.RawMessage, bool) {
	switch adapter {
	case registry.ClaudeJson, registry.TextWrapped:
		return normalizePassThroughOrWrap(line)
	case registry.CodexJson:
		return normalizeCodex(line)
	default:
		return wrapText(line), true
	}
}

func assistantTextEnvelope(text string) json.RawMessage {
	type content struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	type message struct {
		Content []content `json:"content"`
	}
	type envelope struct {
		Type    string  `json:"type"`
		Message message `json:"message"`
	}
	b, _ := json.Marshal(envelope{
		Type:    "assistant",
		Message: message{Content: []content{{Type: "text", Text: text}}},
	})
	return b
}

func wrapText(text string) json.RawMessage {
	return assistantTextEnvelope(text)
}

func resultEnvelope(inputTokens, outputTokens int64) json.RawMessage {
	type usage struct {
		InputTokens  int64 `json:"input_tokens"`
		OutputTokens int64 `json:"output_tokens"`
	}
	type envelope struct {
		Type  string `json:"type"`
		Usage usage  `json:"usage"`
	}
	b, _ := json.Marshal(envelope{Type: "result", Usage: usage{InputTokens: inputTokens, OutputTokens: outputTokens}})
	return b
}

func normalizePassThroughOrWrap(line string) (json.RawMessage, bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return nil, false
	}

	var probe struct {
		Type    json.RawMessage `json:"type"`
		Message struct {
			Content json.RawMessage `json:"content"`
		} `json:"message"`
	}
	if err := json.Unmarshal([]byte(trimmed), &probe); err == nil {
		var typeStr string
		if err := json.Unmarshal(probe.Type, &typeStr); err == nil && typeStr != "" && len(probe.Message.Content) > 0 {
			return json.RawMessage(trimmed), true
		}
	}

	return wrapText(line), true
}

type codexEnvelope struct {
	Type  string          `json:"type"`
	Item  json.RawMessage `json:"item"`
	Usage json.RawMessage `json:"usage"`
}

type codexItem struct {
	Type    string          `json:"type"`
	Text    string          `json:"text"`
	Content json.RawMessage `json:"content"`
	Message json.RawMessage `json:"message"`
	Command json.RawMessage `json:"command"`
	Output  string          `json:"output"`
}

type codexContentPart struct {
	Type       string `json:"type"`
	Text       string `json:"text"`
	OutputText string `json:"output_text"`
}

var droppedCodexTypes = map[string]bool{
	"thread.started":                  true,
	"turn.started":                    true,
	"response.created":                true,
	"response.in_progress":            true,
	"response.output_item.added":      true,
	"response.content_part.added":     true,
	"response.content_part.done":      true,
}

func normalizeCodex(line string) (json.RawMessage, bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return nil, false
	}

	var env codexEnvelope
	if err := json.Unmarshal([]byte(trimmed), &env); err != nil {
		return wrapText(line), true
	}

	if droppedCodexTypes[env.Type] {
		return nil, false
	}

	switch env.Type {
	case "item.completed":
		return normalizeCodexItemCompleted(env.Item)
	case "turn.completed":
		in, out := extractTokens(env.Usage)
		return resultEnvelope(in, out), true
	case "response.output_text.delta":
		var body struct {
			Delta string `json:"delta"`
		}
		_ = json.Unmarshal([]byte(trimmed), &body)
		if body.Delta == "" {
			return nil, false
		}
		return wrapText(body.Delta), true
	case "response.output_text.done":
		var body struct {
			Text string `json:"text"`
		}
		_ = json.Unmarshal([]byte(trimmed), &body)
		return wrapText(body.Text), true
	case "response.output_item.done":
		return normalizeCodexOutputItemDone(env.Item)
	case "response.completed":
		var body struct {
			Response struct {
				Usage json.RawMessage `json:"usage"`
			} `json:"response"`
		}
		_ = json.Unmarshal([]byte(trimmed), &body)
		in, out := extractTokens(body.Response.Usage)
		if in == 0 && out == 0 {
			return nil, false
		}
		return resultEnvelope(in, out), true
	default:
		return salvage(trimmed)
	}
}

func normalizeCodexItemCompleted(raw json.RawMessage) (json.RawMessage, bool) {
	var item codexItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, false
	}

	text := extractItemText(item)

	switch item.Type {
	case "agent_message", "message":
		if text == "" {
			return nil, false
		}
		return wrapText(text), true
	case "reasoning":
		if text == "" {
			return nil, false
		}
		return wrapText("[thinking] " + text), true
	case "command_execution", "function_call":
		var cmd string
		_ = json.Unmarshal(item.Command, &cmd)
		if cmd == "" {
			cmd = text
		}
		out := "$ " + cmd
		if item.Output != "" {
			out += "\n" + item.Output
		}
		return wrapText(out), true
	default:
		if text == "" {
			return nil, false
		}
		return wrapText(text), true
	}
}

func extractItemText(item codexItem) string {
	if item.Text != "" {
		return item.Text
	}
	if len(item.Content) > 0 {
		var parts []codexContentPart
		if err := json.Unmarshal(item.Content, &parts); err == nil {
			for _, p := range parts {
				if p.Type == "text" || p.Type == "output_text" {
					if p.Text != "" {
						return p.Text
					}
					if p.OutputText != "" {
						return p.OutputText
					}
				}
			}
		}
	}
	if len(item.Message) > 0 {
		var m struct {
			Text    string `json:"text"`
			Content string `json:"content"`
		}
		if err := json.Unmarshal(item.Message, &m); err == nil {
			if m.Text != "" {
				return m.Text
			}
			return m.Content
		}
	}
	return ""
}

func normalizeCodexOutputItemDone(raw json.RawMessage) (json.RawMessage, bool) {
	var item struct {
		Text    string `json:"text"`
		Content []struct {
			OutputText string `json:"output_text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, false
	}
	for _, c := range item.Content {
		if c.OutputText != "" {
			return wrapText(c.OutputText), true
		}
	}
	if item.Text != "" {
		return wrapText(item.Text), true
	}
	return nil, false
}

func extractTokens(raw json.RawMessage) (int64, int64) {
	if len(raw) == 0 {
		return 0, 0
	}
	var m map[string]json.Number
	if err := json.Unmarshal(raw, &m); err != nil {
		return 0, 0
	}
	in, _ := m["input_tokens"].Int64()
	out, _ := m["output_tokens"].Int64()
	return in, out
}

func salvage(line string) (json.RawMessage, bool) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal([]byte(line), &top); err != nil {
		return nil, false
	}

	for _, key := range []string{"text", "delta", "content", "message", "output", "data"} {
		if raw, ok := top[key]; ok {
			if s := stringOrEmpty(raw); s != "" {
				return wrapText(s), true
			}
		}
	}

	if rawItem, ok := top["item"]; ok {
		var item codexItem
		if err := json.Unmarshal(rawItem, &item); err == nil {
			if text := extractItemText(item); text != "" {
				return wrapText(text), true
			}
		}
	}

	if rawResp, ok := top["response"]; ok {
		var resp struct {
			Output []struct {
				Content []struct {
					Text string `json:"text"`
				} `json:"content"`
			} `json:"output"`
		}
		if err := json.Unmarshal(rawResp, &resp); err == nil {
			for _, o := range resp.Output {
				for _, c := range o.Content {
					if c.Text != "" {
						return wrapText(c.Text), true
					}
				}
			}
		}
	}

	return nil, false
}

func stringOrEmpty(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

// Idempotent checks that re-normalizing an already-canonical pass-through
// line returns the same bytes, satisfying property 4.
func Idempotent(line string, adapter registry.Adapter) error {
	first, ok := Normalize(line, adapter)
	if !ok {
		return nil
	}
	second, ok := Normalize(string(first), adapter)
	if !ok {
		return fmt.Errorf("streamnorm: re-normalizing emitted envelope produced no output")
	}
	if string(first) != string(second) {
		return fmt.Errorf("streamnorm: not idempotent: %s != %s", first, second)
	}
	return nil
}
