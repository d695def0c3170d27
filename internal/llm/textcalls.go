package llm

import (
	"encoding/json"
	"regexp"
	"strings"
)

var (
	hermesCallRe  = regexp.MustCompile(`(?is)<tool_call>(.*?)(?:</tool_call>|$)`)
	upperCallRe   = regexp.MustCompile(`(?s)<TOOL_CALL>(.*?)</TOOL_CALL>`)
	funcSyntaxRe  = regexp.MustCompile(`(?s)^(\w+)\((.*)\)$`)
	funcArgRe     = regexp.MustCompile(`(\w+)\s*=\s*(?:"([^"]*)"|'([^']*)'|([^,\s]+))`)
	serviceBlocks = regexp.MustCompile("(?s)```(?:homeassistant|python|json)\\s*\\n(.*?)\\n```")
)

type textCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// parseTextToolCalls extracts tool calls that a model wrote into its
// text instead of the tool_calls field. Recognized forms:
//   - <tool_call>{"name": ..., "arguments": {...}}</tool_call> (Hermes)
//   - <TOOL_CALL>name(key="value", ...)</TOOL_CALL>
//   - fenced homeassistant/json blocks holding {"service": "light.turn_on", "target_device": ...}
//   - the whole content as a JSON object or array of {"name", "arguments"}
//
// Calls naming a tool outside valid are dropped.
func parseTextToolCalls(content string, valid map[string]bool) []ToolCall {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}

	var calls []textCall
	for _, m := range hermesCallRe.FindAllStringSubmatch(content, -1) {
		calls = append(calls, decodeTextCalls(strings.TrimSpace(m[1]))...)
	}
	for _, m := range upperCallRe.FindAllStringSubmatch(content, -1) {
		if c, ok := parseFuncSyntax(strings.TrimSpace(m[1])); ok {
			calls = append(calls, c)
		}
	}
	if len(calls) == 0 {
		for _, m := range serviceBlocks.FindAllStringSubmatch(content, -1) {
			if c, ok := parseServiceBlock(strings.TrimSpace(m[1])); ok {
				calls = append(calls, c)
			}
		}
	}
	if len(calls) == 0 && (strings.HasPrefix(content, "{") || strings.HasPrefix(content, "[")) {
		calls = decodeTextCalls(content)
	}

	var result []ToolCall
	for _, c := range calls {
		if c.Name == "" || (valid != nil && !valid[c.Name]) {
			continue
		}
		if c.Arguments == nil {
			c.Arguments = map[string]any{}
		}
		result = append(result, ToolCall{Function: FunctionCall{Name: c.Name, Arguments: c.Arguments}})
	}
	return result
}

// decodeTextCalls decodes a JSON object or array of {"name","arguments"}.
func decodeTextCalls(s string) []textCall {
	var many []textCall
	if err := json.Unmarshal([]byte(s), &many); err == nil {
		return many
	}
	var one textCall
	if err := json.Unmarshal([]byte(s), &one); err == nil && one.Name != "" {
		return []textCall{one}
	}
	return nil
}

// parseFuncSyntax parses name(key="value", other=3).
func parseFuncSyntax(s string) (textCall, bool) {
	m := funcSyntaxRe.FindStringSubmatch(s)
	if m == nil {
		return textCall{}, false
	}
	args := map[string]any{}
	for _, a := range funcArgRe.FindAllStringSubmatch(m[2], -1) {
		value := a[2] + a[3] + a[4]
		if strings.HasPrefix(value, "{") || strings.HasPrefix(value, "[") {
			var decoded any
			if json.Unmarshal([]byte(value), &decoded) == nil {
				args[a[1]] = decoded
				continue
			}
		}
		args[a[1]] = value
	}
	return textCall{Name: m[1], Arguments: args}, true
}

// parseServiceBlock converts {"service": "domain.svc", "target_device": id, ...}
// into a call_service invocation.
func parseServiceBlock(s string) (textCall, bool) {
	var data map[string]any
	if err := json.Unmarshal([]byte(s), &data); err != nil {
		return textCall{}, false
	}
	service, _ := data["service"].(string)
	domain, name, ok := strings.Cut(service, ".")
	if !ok || domain == "" || name == "" {
		return textCall{}, false
	}

	args := map[string]any{"domain": domain, "service": name}
	if target, ok := data["target_device"].(string); ok && target != "" {
		args["entity_id"] = target
	}
	extra := map[string]any{}
	for k, v := range data {
		if k != "service" && k != "target_device" {
			extra[k] = v
		}
	}
	if len(extra) > 0 {
		args["data"] = extra
	}
	return textCall{Name: "call_service", Arguments: args}, true
}
