// Package agent implements the classic tool-calling loop: the model is
// offered the tool registry and its calls are executed until it answers.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nugget/assist/internal/homeassistant"
	"github.com/nugget/assist/internal/llm"
	"github.com/nugget/assist/internal/memory"
	"github.com/nugget/assist/internal/prompts"
)

// State is the loop's position in a turn.
type State int

const (
	StateAwaitLLM State = iota
	StateExecuteTools
	StateDone
	StateFailed
)

// String returns the state name used in logs.
func (s State) String() string {
	switch s {
	case StateAwaitLLM:
		return "await_llm"
	case StateExecuteTools:
		return "execute_tools"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Tools is the tool catalog the loop offers and dispatches to.
// *tools.Registry implements it.
type Tools interface {
	Definitions() []map[string]any
	Execute(ctx context.Context, name string, args map[string]any) (string, error)
}

// EntityLister supplies the device list for the system prompt.
type EntityLister interface {
	ListEntities(ctx context.Context, domain, area string) ([]homeassistant.EntityInfo, error)
}

// Config tunes the loop.
type Config struct {
	// MaxIterations caps model calls per turn. Defaults to 5.
	MaxIterations int
	// Temperature defaults to 0.7.
	Temperature float64
	// MaxTokens defaults to 512.
	MaxTokens int
	// MaxEntities caps the device list in the prompt. Defaults to 50.
	MaxEntities int
	// SystemPromptPrefix is prepended to the system prompt.
	SystemPromptPrefix string
	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

// DefaultConfig returns the loop defaults.
func DefaultConfig() Config {
	return Config{
		MaxIterations: 5,
		Temperature:   0.7,
		MaxTokens:     512,
		MaxEntities:   50,
		Now:           time.Now,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.MaxIterations <= 0 {
		c.MaxIterations = d.MaxIterations
	}
	if c.Temperature <= 0 {
		c.Temperature = d.Temperature
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = d.MaxTokens
	}
	if c.MaxEntities <= 0 {
		c.MaxEntities = d.MaxEntities
	}
	if c.Now == nil {
		c.Now = d.Now
	}
}

// Deps are the loop's collaborators. Entities and Memory may be nil.
type Deps struct {
	Client       llm.Client
	Capabilities *llm.Capabilities
	Tools        Tools
	Entities     EntityLister
	Memory       memory.Store
}

// Request is one classic turn.
type Request struct {
	Utterance string
	// History holds earlier turns of the conversation, oldest first.
	History []llm.Message
}

// Response is the outcome of a turn.
type Response struct {
	Content    string
	State      State
	Iterations int
	ToolCalls  int
	// ToolFree is set when the turn ran without tools.
	ToolFree bool
}

// Loop runs classic turns.
type Loop struct {
	deps   Deps
	config Config
	logger *slog.Logger
}

// New creates a Loop. A nil Capabilities gets a private instance.
func New(deps Deps, cfg Config, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Capabilities == nil {
		deps.Capabilities = llm.NewCapabilities()
	}
	cfg.applyDefaults()
	return &Loop{
		deps:   deps,
		config: cfg,
		logger: logger.With("component", "classic"),
	}
}

// Run executes one turn. Backend errors are returned; hitting the
// iteration cap is not an error but ends in StateFailed with an apology.
func (l *Loop) Run(ctx context.Context, req Request) (*Response, error) {
	var toolDefs []map[string]any
	if l.deps.Tools != nil && l.deps.Capabilities.ToolsAllowed() {
		toolDefs = l.deps.Tools.Definitions()
	}
	toolFree := len(toolDefs) == 0

	messages := make([]llm.Message, 0, len(req.History)+2)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: l.systemPrompt(ctx, toolDefs)})
	messages = append(messages, req.History...)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: req.Utterance})

	l.logger.Info("classic turn started", "tools", len(toolDefs), "history", len(req.History))

	resp := &Response{State: StateAwaitLLM, ToolFree: toolFree}
	nudged := false

	for resp.Iterations < l.config.MaxIterations {
		resp.Iterations++

		chatReq := &llm.ChatRequest{
			Messages:    messages,
			Temperature: l.config.Temperature,
			MaxTokens:   l.config.MaxTokens,
		}
		if !toolFree {
			chatReq.Tools = toolDefs
		}
		out, err := l.deps.Client.Chat(ctx, chatReq)
		if err != nil {
			resp.State = StateFailed
			return resp, fmt.Errorf("classic iteration %d: %w", resp.Iterations, err)
		}

		if out.ToolsOmitted && !toolFree {
			l.logger.Warn("tools dropped mid-turn, finishing without them")
			toolFree = true
			resp.ToolFree = true
		}

		content := llm.ResponseSection(out.Message.Content)
		calls := out.Message.ToolCalls
		if toolFree {
			calls = nil
		}

		if len(calls) == 0 {
			switch {
			case content != "":
				resp.Content = content
			case toolFree:
				resp.Content = prompts.EmptyResponseFallback
			case !nudged && resp.ToolCalls > 0:
				nudged = true
				l.logger.Warn("empty response after tool calls, nudging", "iteration", resp.Iterations)
				messages = append(messages, llm.Message{Role: llm.RoleUser, Content: prompts.EmptyResponseNudge})
				continue
			default:
				resp.Content = prompts.EmptyResponseFallback
			}
			resp.State = StateDone
			l.logger.Info("classic turn completed",
				"iterations", resp.Iterations,
				"tool_calls", resp.ToolCalls,
				"tool_free", resp.ToolFree,
			)
			return resp, nil
		}

		resp.State = StateExecuteTools
		assistant := strings.TrimSpace(out.Message.Content)
		if assistant == "" {
			assistant = "Using tools to help with your request..."
		}
		messages = append(messages, llm.Message{Role: llm.RoleAssistant, Content: assistant, ToolCalls: calls})
		messages = append(messages, llm.Message{Role: llm.RoleUser, Content: l.executeTools(ctx, calls)})
		resp.ToolCalls += len(calls)
		resp.State = StateAwaitLLM
	}

	l.logger.Warn("classic turn hit iteration cap", "iterations", resp.Iterations, "tool_calls", resp.ToolCalls)
	resp.State = StateFailed
	resp.Content = prompts.IterationApology
	return resp, nil
}

// executeTools runs calls in order and renders the results message.
// Tool failures are reported to the model, not returned.
func (l *Loop) executeTools(ctx context.Context, calls []llm.ToolCall) string {
	lines := make([]string, 0, len(calls))
	for _, call := range calls {
		name := call.Function.Name
		args := call.Function.Arguments
		if args == nil {
			args = map[string]any{}
		}
		l.logger.Debug("executing tool", "tool", name, "args", args)

		result, err := l.deps.Tools.Execute(ctx, name, args)
		if err != nil {
			l.logger.Warn("tool failed", "tool", name, "error", err)
			b, _ := json.Marshal(map[string]any{"success": false, "error": err.Error()})
			result = string(b)
		}
		lines = append(lines, name+": "+result)
	}
	return "Tool results:\n" + strings.Join(lines, "\n")
}

func (l *Loop) systemPrompt(ctx context.Context, toolDefs []map[string]any) string {
	pc := prompts.ClassicContext{
		Prefix: l.config.SystemPromptPrefix,
		Now:    l.config.Now(),
		Tools:  toolDefs,
	}
	if l.deps.Memory != nil {
		summary, err := memory.ContextSummary(ctx, l.deps.Memory)
		if err != nil {
			l.logger.Warn("memory context unavailable", "error", err)
		}
		pc.Memory = summary
	}
	if l.deps.Entities != nil {
		entities, err := l.deps.Entities.ListEntities(ctx, "", "")
		if err != nil {
			l.logger.Warn("entity list unavailable", "error", err)
			pc.Entities = "(Unable to load entity list)"
		} else {
			pc.Entities = RenderEntities(entities, l.config.MaxEntities)
		}
	}
	return prompts.ClassicSystemPrompt(pc)
}
