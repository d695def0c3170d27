package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExtractJSON returns the JSON object embedded in a model reply. It
// strips ``` fences (with or without a language tag) and any prose
// before the first '{' or after the matching last '}'.
func ExtractJSON(content string) string {
	s := strings.TrimSpace(content)
	if i := strings.Index(s, "```"); i >= 0 {
		rest := s[i+3:]
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 && !strings.ContainsAny(rest[:nl], "{[") {
			rest = rest[nl+1:]
		}
		if end := strings.Index(rest, "```"); end >= 0 {
			rest = rest[:end]
		}
		s = strings.TrimSpace(rest)
	}
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < start {
		return s
	}
	return s[start : end+1]
}

// DecodeJSON extracts and decodes the JSON object in a model reply.
// The error is unclassified; each stage maps it to its own error.
func DecodeJSON(content string, v any) error {
	raw := ExtractJSON(content)
	if raw == "" {
		return fmt.Errorf("empty reply")
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("decode reply %q: %w", truncate(raw, 120), err)
	}
	return nil
}

// ResponseSection returns the text between <RESPONSE> and </RESPONSE>
// when the model used that convention, or the content unchanged.
func ResponseSection(content string) string {
	start := strings.Index(content, "<RESPONSE>")
	end := strings.Index(content, "</RESPONSE>")
	if start < 0 || end < start {
		return strings.TrimSpace(content)
	}
	return strings.TrimSpace(content[start+len("<RESPONSE>") : end])
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
