package prompts

import (
	"encoding/json"
	"strings"
	"time"
)

// ClassicContext is the dynamic part of the classic loop system prompt.
type ClassicContext struct {
	// Prefix is the operator's custom instruction, prepended verbatim.
	Prefix string
	Now    time.Time
	// Memory is the rendered memory summary, or empty.
	Memory string
	// Entities is the rendered device list, or empty.
	Entities string
	// Tools are the tool definitions offered this turn. Nil means the
	// backend cannot call tools and the model must answer directly.
	Tools []map[string]any
}

// ClassicSystemPrompt builds the system prompt for the classic
// tool-calling loop. Tool schemas are listed inline in <tools> tags so
// models that only emit text tool calls can still use them.
func ClassicSystemPrompt(c ClassicContext) string {
	var sb strings.Builder
	if p := strings.TrimSpace(c.Prefix); p != "" {
		sb.WriteString(p)
		sb.WriteString("\n\n")
	}

	if len(c.Tools) > 0 {
		sb.WriteString("You are a function calling AI model for a smart home powered by Home Assistant.\n")
		sb.WriteString("You are provided with function signatures within <tools></tools> XML tags.\n")
		sb.WriteString("You may call one or more functions to assist with the user request.\n")
		sb.WriteString("For each function call, return a JSON object with function name and arguments within <tool_call></tool_call> XML tags.\n")
		sb.WriteString("Tools handle atomic tasks: call a tool once per item or per device.\n")
		sb.WriteString("Use the time and date tools for anything related to scheduling.\n")
	} else {
		sb.WriteString("You are a voice assistant for a smart home powered by Home Assistant.\n")
		sb.WriteString("You cannot control devices in this conversation. Answer directly and briefly.\n")
	}
	sb.WriteString("Put the sentence to speak to the user between <RESPONSE> and </RESPONSE>.\n\n")

	sb.WriteString("Current date and time: ")
	sb.WriteString(c.Now.Format("2006-01-02 15:04:05"))
	sb.WriteString("\nDay of week: ")
	sb.WriteString(c.Now.Format("Monday"))
	sb.WriteString("\n")

	if m := strings.TrimSpace(c.Memory); m != "" {
		sb.WriteString("\n# Memory Context\n")
		sb.WriteString(m)
		sb.WriteString("\n")
	}
	if e := strings.TrimSpace(c.Entities); e != "" {
		sb.WriteString("\n# Available Devices and Entities\n")
		sb.WriteString(e)
		sb.WriteString("\nUse the exact entity_id when calling services, not the friendly name.\n")
	}

	if len(c.Tools) > 0 {
		sb.WriteString("\n<tools>\n")
		for _, def := range c.Tools {
			fn, ok := def["function"]
			if !ok {
				continue
			}
			b, err := json.Marshal(fn)
			if err != nil {
				continue
			}
			sb.Write(b)
			sb.WriteString("\n")
		}
		sb.WriteString("</tools>\n\n")
		sb.WriteString("Don't make assumptions about what values to use with functions. Ask for clarification if needed.\n")
		sb.WriteString("When you call a tool, respond with ONLY <tool_call>...</tool_call> blocks containing {\"name\": ..., \"arguments\": ...}.")
	}
	return strings.TrimRight(sb.String(), "\n")
}
