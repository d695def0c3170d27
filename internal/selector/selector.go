// Package selector asks the model to choose among ambiguous candidates.
// Tasks with an implicit target, broadcasts and kinds without targets
// are decided without a model call.
package selector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nugget/assist/internal/llm"
	"github.com/nugget/assist/internal/prompts"
	"github.com/nugget/assist/internal/task"
)

// ErrSelection means the model's choice could not be used. The affected
// task gets an empty selection; the error is only logged.
var ErrSelection = errors.New("selection failed")

// Config tunes the selection call.
type Config struct {
	// Temperature defaults to 0.1.
	Temperature float64
	// MaxTokens defaults to 300.
	MaxTokens int
}

// DefaultConfig returns the selection defaults.
func DefaultConfig() Config {
	return Config{Temperature: 0.1, MaxTokens: 300}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.Temperature <= 0 {
		c.Temperature = d.Temperature
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = d.MaxTokens
	}
}

// Selector turns resolved tasks into selected tasks.
type Selector struct {
	client llm.Client
	config Config
	logger *slog.Logger
}

// New creates a Selector.
func New(client llm.Client, cfg Config, logger *slog.Logger) *Selector {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.applyDefaults()
	return &Selector{
		client: client,
		config: cfg,
		logger: logger.With("component", "selector"),
	}
}

// Select chooses targets for each resolved task, in order. Errors are
// returned only when the backend is unavailable or ctx is done; every
// other failure leaves the task with an empty selection.
func (s *Selector) Select(ctx context.Context, utterance string, resolved []task.Resolved) ([]task.Selected, error) {
	out := make([]task.Selected, 0, len(resolved))
	for _, r := range resolved {
		sel, err := s.selectOne(ctx, utterance, r)
		if err != nil {
			return nil, err
		}
		out = append(out, sel)
	}
	return out, nil
}

func (s *Selector) selectOne(ctx context.Context, utterance string, r task.Resolved) (task.Selected, error) {
	switch {
	case !r.Kind().EntityBearing():
		return task.NewSelected(r, nil, ""), nil
	case r.Broadcast:
		return task.NewSelected(r, r.Candidates, ""), nil
	case r.Implicit && len(r.Candidates) > 0:
		return task.NewSelected(r, r.Candidates[:1], ""), nil
	case len(r.Candidates) == 0:
		return task.NewSelected(r, nil, ""), nil
	}

	chosen, question, err := s.ask(ctx, utterance, r)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, llm.ErrBackendUnavailable) {
			return task.Selected{}, err
		}
		s.logger.Warn("selection discarded",
			"task", r.ID(),
			"error", fmt.Errorf("%w: %w", ErrSelection, err),
		)
		return task.NewSelected(r, nil, ""), nil
	}

	s.logger.Info("entities selected",
		"task", r.ID(),
		"selected", len(chosen),
		"of", len(r.Candidates),
	)
	return task.NewSelected(r, chosen, question), nil
}

// selectionRequest is the user message sent to the model.
type selectionRequest struct {
	Request    string            `json:"request"`
	Target     string            `json:"target"`
	Kind       task.Kind         `json:"kind"`
	Params     task.Params       `json:"params,omitempty"`
	Candidates []candidateOption `json:"candidates"`
}

type candidateOption struct {
	EntityID     string `json:"entity_id"`
	FriendlyName string `json:"friendly_name,omitempty"`
	Area         string `json:"area,omitempty"`
}

type selectionReply struct {
	Selected []string `json:"selected"`
	Question string   `json:"question"`
}

func (s *Selector) ask(ctx context.Context, utterance string, r task.Resolved) ([]task.Candidate, string, error) {
	req := selectionRequest{
		Request: utterance,
		Target:  r.Payload,
		Kind:    r.Kind(),
		Params:  r.Task.Params,
	}
	if req.Request == "" {
		req.Request = r.Task.RawText
	}
	if req.Target == "" {
		req.Target = r.Task.RawText
	}
	for _, c := range r.Candidates {
		req.Candidates = append(req.Candidates, candidateOption{EntityID: c.EntityID, FriendlyName: c.FriendlyName, Area: c.Area})
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, "", fmt.Errorf("encode selection request: %w", err)
	}

	resp, err := s.client.Chat(ctx, &llm.ChatRequest{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: prompts.SelectorPrompt()},
			{Role: llm.RoleUser, Content: string(body)},
		},
		Temperature: s.config.Temperature,
		MaxTokens:   s.config.MaxTokens,
	})
	if err != nil {
		return nil, "", err
	}

	var reply selectionReply
	if err := llm.DecodeJSON(resp.Message.Content, &reply); err != nil {
		return nil, "", err
	}
	chosen, err := pick(r.Candidates, reply.Selected)
	if err != nil {
		return nil, "", err
	}
	return chosen, strings.TrimSpace(reply.Question), nil
}

// pick maps the model's ids onto candidates. Any id outside the set
// rejects the whole choice.
func pick(candidates []task.Candidate, ids []string) ([]task.Candidate, error) {
	byID := make(map[string]task.Candidate, len(candidates))
	for _, c := range candidates {
		byID[c.EntityID] = c
	}
	seen := make(map[string]bool, len(ids))
	var out []task.Candidate
	for _, id := range ids {
		id = strings.TrimSpace(id)
		c, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("model chose unknown entity %q", id)
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, c)
	}
	return out, nil
}
