// Package planner asks the model to turn an utterance into either a
// direct reply or an ordered list of tasks.
package planner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/nugget/assist/internal/llm"
	"github.com/nugget/assist/internal/prompts"
	"github.com/nugget/assist/internal/task"
)

// ErrPlanning means the model's output could not be read as a reply or
// a task list.
var ErrPlanning = errors.New("planning failed")

// Config tunes the planning call.
type Config struct {
	// Temperature defaults to 0.1.
	Temperature float64
	// MaxTokens defaults to 500.
	MaxTokens int
	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

// DefaultConfig returns the planner defaults.
func DefaultConfig() Config {
	return Config{Temperature: 0.1, MaxTokens: 500, Now: time.Now}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.Temperature <= 0 {
		c.Temperature = d.Temperature
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = d.MaxTokens
	}
	if c.Now == nil {
		c.Now = d.Now
	}
}

// Plan is the planner's decision: a direct reply, or tasks.
type Plan struct {
	Reply string
	Tasks []task.Task
}

// Direct reports whether the plan is a reply that skips the pipeline.
func (p Plan) Direct() bool { return len(p.Tasks) == 0 }

// Planner produces plans.
type Planner struct {
	client llm.Client
	config Config
	logger *slog.Logger
}

// New creates a Planner.
func New(client llm.Client, cfg Config, logger *slog.Logger) *Planner {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.applyDefaults()
	return &Planner{
		client: client,
		config: cfg,
		logger: logger.With("component", "planner"),
	}
}

// Plan plans one utterance. history is the rendered recent
// conversation, or empty. Backend errors are returned unchanged;
// unusable output is ErrPlanning.
func (p *Planner) Plan(ctx context.Context, utterance, history string) (Plan, error) {
	resp, err := p.client.Chat(ctx, &llm.ChatRequest{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: prompts.PlannerPrompt(p.config.Now(), history)},
			{Role: llm.RoleUser, Content: utterance},
		},
		Temperature: p.config.Temperature,
		MaxTokens:   p.config.MaxTokens,
	})
	if err != nil {
		return Plan{}, err
	}

	plan, err := Parse(resp.Message.Content, utterance)
	if err != nil {
		p.logger.Warn("plan rejected", "error", err, "reply", resp.Message.Content)
		return Plan{}, err
	}
	if plan.Direct() {
		p.logger.Info("planner replied directly")
	} else {
		p.logger.Info("plan created", "tasks", len(plan.Tasks))
		for _, t := range plan.Tasks {
			p.logger.Debug("planned task", "task", t.ID, "kind", t.Kind, "params", t.Params.Canonical())
		}
	}
	return plan, nil
}

// Parse reads a planner reply. utterance is the raw text of tasks the
// model did not attribute.
func Parse(content, utterance string) (Plan, error) {
	var raw map[string]any
	if err := llm.DecodeJSON(content, &raw); err != nil {
		return Plan{}, fmt.Errorf("%w: %w", ErrPlanning, err)
	}

	if rawTasks, ok := raw["tasks"]; ok && rawTasks != nil {
		list, ok := rawTasks.([]any)
		if !ok {
			return Plan{}, fmt.Errorf("%w: tasks is %T, not a list", ErrPlanning, rawTasks)
		}
		if len(list) > 0 {
			return parseTasks(list, utterance)
		}
		if reply := replyText(raw); reply != "" {
			return Plan{Reply: reply}, nil
		}
		return Plan{}, fmt.Errorf("%w: empty task list", ErrPlanning)
	}

	if reply := replyText(raw); reply != "" {
		return Plan{Reply: reply}, nil
	}
	return Plan{}, fmt.Errorf("%w: neither tasks nor response", ErrPlanning)
}

func replyText(raw map[string]any) string {
	s, _ := raw["response"].(string)
	return strings.TrimSpace(s)
}

func parseTasks(list []any, utterance string) (Plan, error) {
	tasks := make([]task.Task, 0, len(list))
	for i, item := range list {
		desc, ok := item.(map[string]any)
		if !ok {
			return Plan{}, fmt.Errorf("%w: task %d is %T, not an object", ErrPlanning, i+1, item)
		}
		t, err := descriptor(desc, utterance)
		if err != nil {
			return Plan{}, fmt.Errorf("%w: task %d: %w", ErrPlanning, i+1, err)
		}
		tasks = append(tasks, t)
	}
	assignIDs(tasks)

	for _, t := range tasks {
		if err := t.Validate(); err != nil {
			return Plan{}, fmt.Errorf("%w: %w", ErrPlanning, err)
		}
	}

	if len(tasks) == 1 && tasks[0].Kind == task.KindChat && tasks[0].Reply != "" {
		return Plan{Reply: tasks[0].Reply}, nil
	}
	return Plan{Tasks: tasks}, nil
}

// reserved descriptor fields that are not parameters.
var reserved = map[string]bool{
	"id": true, "kind": true, "type": true, "raw_text": true, "text": true,
	"reply": true, "response": true, "status": true, "params": true, "data": true,
}

// deviceFields stay top-level when a device descriptor nests them
// under params; everything else there is service data.
var deviceFields = map[string]bool{
	"action": true, "raw_targets": true, "targets": true, "target": true,
	"domain": true, "area": true, "entity_id": true, "service": true, "name": true,
}

// descriptor validates one task object from the model.
func descriptor(desc map[string]any, utterance string) (task.Task, error) {
	kindName, _ := desc["kind"].(string)
	if kindName == "" {
		kindName, _ = desc["type"].(string)
	}
	kind, err := task.ParseKind(kindName)
	if err != nil {
		return task.Task{}, err
	}

	flat := map[string]any{}
	for k, v := range desc {
		if !reserved[k] {
			flat[k] = v
		}
	}
	for _, nest := range []string{"params", "data"} {
		sub, ok := desc[nest].(map[string]any)
		if !ok {
			continue
		}
		for k, v := range sub {
			switch {
			case kind == task.KindDeviceControl && !deviceFields[k]:
				flat[task.DataPrefix+k] = v
			default:
				if _, exists := flat[k]; !exists {
					flat[k] = v
				}
			}
		}
	}
	params, err := task.NormalizeParams(flat)
	if err != nil {
		return task.Task{}, err
	}

	t := task.Task{
		ID:      idString(desc["id"]),
		Kind:    kind,
		RawText: firstString(desc, "raw_text", "text"),
		Params:  params,
	}
	if kind == task.KindChat {
		t.Reply = firstString(desc, "reply", "response")
	}
	if t.RawText == "" {
		t.RawText = strings.TrimSpace(utterance)
	}
	return t, nil
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func idString(v any) string {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case float64:
		return "t" + strconv.FormatFloat(x, 'f', -1, 64)
	}
	return ""
}

// assignIDs gives tasks without an id, and later tasks repeating an
// earlier id, the next free id of the form t1, t2, ...
func assignIDs(tasks []task.Task) {
	seen := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		if t.ID != "" {
			seen[t.ID] = false
		}
	}
	next := 1
	fresh := func() string {
		for {
			id := fmt.Sprintf("t%d", next)
			next++
			if _, taken := seen[id]; !taken {
				seen[id] = true
				return id
			}
		}
	}
	for i := range tasks {
		id := tasks[i].ID
		switch {
		case id == "":
			tasks[i].ID = fresh()
		case seen[id]:
			tasks[i].ID = fresh()
		default:
			seen[id] = true
		}
	}
}
