package executor

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nugget/assist/internal/task"
)

// toolCall is one registry invocation made on behalf of a task. label
// prefixes the output when a task needs several calls.
type toolCall struct {
	tool  string
	args  map[string]any
	label string
}

// serviceActions maps planner actions onto Home Assistant services.
var serviceActions = map[string]string{
	"":         "turn_on",
	"on":       "turn_on",
	"turn_on":  "turn_on",
	"set":      "turn_on",
	"off":      "turn_off",
	"turn_off": "turn_off",
	"toggle":   "toggle",
}

// toolCalls translates a selected task into registry calls.
func toolCalls(s task.Selected) ([]toolCall, error) {
	r := s.Resolved()
	p := r.Task.Params

	switch s.Kind() {
	case task.KindDeviceControl:
		return deviceCalls(s)

	case task.KindShoppingAdd, task.KindShoppingRemove:
		item := r.Payload
		if item == "" {
			item = p.First("item", "items", "raw_items")
		}
		if item == "" {
			return nil, errors.New("no item given")
		}
		name := "shopping_add_item"
		if s.Kind() == task.KindShoppingRemove {
			name = "shopping_remove_item"
		}
		return []toolCall{{tool: name, args: map[string]any{"item": item}}}, nil

	case task.KindShoppingList:
		return []toolCall{{tool: "shopping_list_all", args: map[string]any{}}}, nil

	case task.KindMemoryRead, task.KindMemoryWrite:
		args := map[string]any{"key": p.String("key")}
		if ns := p.String("namespace"); ns != "" {
			args["namespace"] = ns
		}
		name := "memory_read"
		if s.Kind() == task.KindMemoryWrite {
			name = "memory_write"
			args["value"] = p.String("value")
		}
		return []toolCall{{tool: name, args: args}}, nil

	case task.KindCalendarQuery:
		sel := s.Selection()
		out := make([]toolCall, 0, len(sel))
		for _, c := range sel {
			args := map[string]any{
				"calendar_id": c.EntityID,
				"start":       r.Start.Format(time.RFC3339),
				"end":         r.End.Format(time.RFC3339),
			}
			if q := p.String("query"); q != "" {
				args["query"] = q
			}
			label := ""
			if len(sel) > 1 {
				label = c.Label()
			}
			out = append(out, toolCall{tool: "calendar_list_events", args: args, label: label})
		}
		return out, nil

	case task.KindCalendarCreate:
		summary := p.First("summary", "title", "name")
		if summary == "" {
			summary = r.Task.RawText
		}
		start, end := r.Start.Format(time.RFC3339), r.End.Format(time.RFC3339)
		if r.AllDay {
			start, end = r.Start.Format(time.DateOnly), r.End.Format(time.DateOnly)
		}
		var out []toolCall
		for _, c := range s.Selection() {
			args := map[string]any{
				"calendar_id": c.EntityID,
				"summary":     summary,
				"start":       start,
				"end":         end,
				"all_day":     r.AllDay,
			}
			if d := p.String("description"); d != "" {
				args["description"] = d
			}
			if l := p.String("location"); l != "" {
				args["location"] = l
			}
			out = append(out, toolCall{tool: "calendar_create_event", args: args})
		}
		return out, nil
	}
	return nil, fmt.Errorf("%s tasks cannot be executed", s.Kind())
}

// deviceCalls builds the call_service invocation for a device task.
// Targets spanning several domains go through the homeassistant domain.
func deviceCalls(s task.Selected) ([]toolCall, error) {
	p := s.Task().Params
	service := strings.ToLower(p.String("service"))
	if service == "" {
		action := strings.ToLower(strings.TrimSpace(p.String("action")))
		mapped, ok := serviceActions[action]
		if !ok {
			if !validServiceName(action) {
				return nil, fmt.Errorf("unknown action %q", action)
			}
			mapped = action
		}
		service = mapped
	}

	ids := s.TargetIDs()
	domain := ""
	for _, id := range ids {
		d, _, _ := strings.Cut(id, ".")
		switch {
		case domain == "":
			domain = d
		case domain != d:
			domain = "homeassistant"
		}
	}

	args := map[string]any{
		"domain":  domain,
		"service": service,
	}
	if len(ids) == 1 {
		args["entity_id"] = ids[0]
	} else {
		args["entity_id"] = ids
	}
	if data := p.Data(); len(data) > 0 {
		args["data"] = data
	}
	return []toolCall{{tool: "call_service", args: args}}, nil
}

func validServiceName(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if (r < 'a' || r > 'z') && r != '_' && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}
