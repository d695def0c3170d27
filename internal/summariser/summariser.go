// Package summariser turns execution results into the spoken reply.
package summariser

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nugget/assist/internal/llm"
	"github.com/nugget/assist/internal/prompts"
	"github.com/nugget/assist/internal/task"
)

// Config tunes the summary call.
type Config struct {
	// Temperature defaults to 0.1.
	Temperature float64
	// MaxTokens defaults to 150.
	MaxTokens int
}

// DefaultConfig returns the summariser defaults.
func DefaultConfig() Config {
	return Config{Temperature: 0.1, MaxTokens: 150}
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

// Summariser produces the reply for a turn.
type Summariser struct {
	client llm.Client
	config Config
	logger *slog.Logger
}

// New creates a Summariser.
func New(client llm.Client, cfg Config, logger *slog.Logger) *Summariser {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.applyDefaults()
	return &Summariser{
		client: client,
		config: cfg,
		logger: logger.With("component", "summariser"),
	}
}

type report struct {
	Results []task.Result `json:"results"`
}

// Summarise asks the model for a reply covering results. Backend errors
// are returned so the caller can retry or fall back. An empty reply is
// replaced by Fallback. Failures the reply does not mention are
// appended to it.
func (s *Summariser) Summarise(ctx context.Context, utterance string, results []task.Result) (string, error) {
	body, err := json.Marshal(report{Results: results})
	if err != nil {
		return "", fmt.Errorf("encode report: %w", err)
	}

	resp, err := s.client.Chat(ctx, &llm.ChatRequest{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: prompts.SummariserPrompt()},
			{Role: llm.RoleUser, Content: prompts.SummaryRequest(utterance, string(body))},
		},
		Temperature: s.config.Temperature,
		MaxTokens:   s.config.MaxTokens,
	})
	if err != nil {
		return "", err
	}

	reply := cleanReply(resp.Message.Content)
	if reply == "" {
		s.logger.Warn("empty summary, using template")
		return Fallback(results), nil
	}
	return ensureFailuresDisclosed(reply, results), nil
}

// cleanReply strips the response markers and quotes some models wrap
// around a one-line answer.
func cleanReply(content string) string {
	reply := llm.ResponseSection(content)
	if len(reply) >= 2 && reply[0] == '"' && reply[len(reply)-1] == '"' {
		reply = strings.TrimSpace(reply[1 : len(reply)-1])
	}
	return reply
}

// ensureFailuresDisclosed appends every failure detail the reply does
// not already mention.
func ensureFailuresDisclosed(reply string, results []task.Result) string {
	var details []string
	lower := strings.ToLower(reply)
	for _, r := range results {
		if !r.Failed() || r.Detail == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(r.Detail)) {
			continue
		}
		details = append(details, r.Detail)
	}
	if len(details) == 0 {
		return reply
	}
	return strings.TrimSpace(reply) + " " + failureSentence(details)
}

func failureSentence(details []string) string {
	s := "Problems: " + strings.Join(details, "; ")
	if !strings.HasSuffix(s, ".") && !strings.HasSuffix(s, "?") {
		s += "."
	}
	return s
}

// answerKinds are kinds whose result detail is the answer itself.
var answerKinds = map[task.Kind]bool{
	task.KindMemoryRead:    true,
	task.KindShoppingList:  true,
	task.KindCalendarQuery: true,
	task.KindChat:          true,
}

// Fallback renders a deterministic summary of results without the model.
func Fallback(results []task.Result) string {
	var (
		answers  []string
		done     int
		failures []string
	)
	for _, r := range results {
		switch r.Status {
		case task.StatusSuccess:
			if answerKinds[r.Kind] && r.Detail != "" {
				answers = append(answers, r.Detail)
			} else {
				done++
			}
		case task.StatusFailed:
			failures = append(failures, r.Detail)
		}
	}

	var parts []string
	parts = append(parts, answers...)
	switch {
	case done == 1:
		parts = append(parts, "Done, completed 1 action.")
	case done > 1:
		parts = append(parts, fmt.Sprintf("Done, completed %d actions.", done))
	}
	if len(failures) > 0 {
		n := "1 action"
		if len(failures) > 1 {
			n = fmt.Sprintf("%d actions", len(failures))
		}
		parts = append(parts, fmt.Sprintf("Sorry, %s failed: %s.", n, strings.TrimRight(strings.Join(failures, "; "), ".")))
	}
	if len(parts) == 0 {
		return "No actions were performed."
	}
	return strings.Join(parts, " ")
}
