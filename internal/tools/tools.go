// Package tools defines the tools available to the classic loop and the
// dispatch surface of the executor.
package tools

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/nugget/assist/internal/calendar"
	"github.com/nugget/assist/internal/homeassistant"
	"github.com/nugget/assist/internal/memory"
)

// Handler executes one tool call and returns the text handed back to the
// model (or recorded as a task result).
type Handler func(ctx context.Context, args map[string]any) (string, error)

// Tool represents a callable tool.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
	Handler     Handler        `json:"-"`
}

// HomeAssistant is the entity registry and service dispatcher the
// device tools need. *homeassistant.Registry implements it.
type HomeAssistant interface {
	ListEntities(ctx context.Context, domain, area string) ([]homeassistant.EntityInfo, error)
	GetState(ctx context.Context, entityID string) (*homeassistant.State, error)
	CallService(ctx context.Context, domain, service string, data map[string]any) error
	Services(ctx context.Context, domain string) (map[string]homeassistant.Service, error)
}

// ShoppingList is the shopping list collaborator.
type ShoppingList interface {
	AddItem(ctx context.Context, name string) error
	RemoveItem(ctx context.Context, name string) error
	Items(ctx context.Context) ([]string, error)
}

// Deps are the collaborators the built-in tools are wired to. A nil
// collaborator leaves its tools unregistered.
type Deps struct {
	HomeAssistant HomeAssistant
	Shopping      ShoppingList
	Calendar      calendar.Provider
	Memory        memory.Store

	// Location is used to read and render times. Defaults to time.Local.
	Location *time.Location
	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

// Registry holds available tools.
type Registry struct {
	tools  map[string]*Tool
	deps   Deps
	logger *slog.Logger
}

// NewRegistry creates a registry with the built-in tools for every
// configured collaborator.
func NewRegistry(deps Deps, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Location == nil {
		deps.Location = time.Local
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	r := &Registry{
		tools:  make(map[string]*Tool),
		deps:   deps,
		logger: logger,
	}
	r.registerTimeTools()
	if deps.HomeAssistant != nil {
		r.registerHomeAssistantTools()
	}
	if deps.Memory != nil {
		r.registerMemoryTools()
	}
	if deps.Shopping != nil {
		r.registerShoppingTools()
	}
	if deps.Calendar != nil {
		r.registerCalendarTools()
	}
	return r
}

// Register adds a tool to the registry, replacing any tool of the same
// name.
func (r *Registry) Register(t *Tool) {
	r.tools[t.Name] = t
}

// Get retrieves a tool by name, or nil.
func (r *Registry) Get(name string) *Tool {
	return r.tools[name]
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List returns the registered tools sorted by name.
func (r *Registry) List() []*Tool {
	names := r.Names()
	out := make([]*Tool, 0, len(names))
	for _, name := range names {
		out = append(out, r.tools[name])
	}
	return out
}

// Definitions returns the tool definitions in the function-calling
// format, sorted by name.
func (r *Registry) Definitions() []map[string]any {
	var result []map[string]any
	for _, t := range r.List() {
		result = append(result, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.Parameters,
			},
		})
	}
	return result
}

// Execute runs a tool by name. Unknown tools yield *ErrToolUnavailable.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (string, error) {
	tool := r.tools[name]
	if tool == nil {
		return "", &ErrToolUnavailable{ToolName: name}
	}
	if args == nil {
		args = map[string]any{}
	}

	start := time.Now()
	out, err := tool.Handler(ctx, args)
	r.logger.Debug("tool executed",
		"tool", name,
		"duration", time.Since(start).Round(time.Millisecond),
		"error", err,
	)
	return out, err
}

func objectSchema(required []string, props map[string]any) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func prop(typ, description string) map[string]any {
	return map[string]any{"type": typ, "description": description}
}
