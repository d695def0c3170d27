// Package conversation is the front door for a voice turn: it picks the
// configured mode, serialises turns per conversation and keeps the
// recent history both modes are prompted with.
package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/assist/internal/agent"
	"github.com/nugget/assist/internal/pipeline"
	"github.com/nugget/assist/internal/prompts"
	"github.com/nugget/assist/internal/speech"
)

// Mode selects how turns are processed. It is fixed for the lifetime
// of a deployment.
type Mode string

const (
	ModeMultiAgent Mode = "multi_agent"
	ModeClassic    Mode = "classic"
)

// ParseMode validates a configured mode name. Empty means multi_agent.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeMultiAgent:
		return ModeMultiAgent, nil
	case ModeClassic:
		return ModeClassic, nil
	}
	return "", fmt.Errorf("unknown mode %q (want %s or %s)", s, ModeMultiAgent, ModeClassic)
}

// Pipeline runs multi-agent turns. *pipeline.Pipeline implements it.
type Pipeline interface {
	Run(ctx context.Context, utterance, history string) (*pipeline.Turn, error)
}

// Classic runs classic turns. *agent.Loop implements it.
type Classic interface {
	Run(ctx context.Context, req agent.Request) (*agent.Response, error)
}

// TurnObserver is told about classic turns; multi-agent turns are
// observed by the pipeline itself.
type TurnObserver interface {
	ObserveModeTurn(mode, outcome string, d time.Duration)
}

// Config tunes the front door.
type Config struct {
	Mode Mode
	// HistoryTurns is how many exchanges are kept per conversation.
	// Defaults to 5; negative disables history.
	HistoryTurns int
	// MaxConversations bounds the history. Defaults to 100.
	MaxConversations int
	// PlainText converts replies from markdown to speakable text.
	PlainText bool
}

func (c *Config) applyDefaults() {
	if c.Mode == "" {
		c.Mode = ModeMultiAgent
	}
	if c.HistoryTurns == 0 {
		c.HistoryTurns = 5
	}
	if c.MaxConversations <= 0 {
		c.MaxConversations = 100
	}
}

// Reply is what Process returns for a turn.
type Reply struct {
	ConversationID string `json:"conversation_id"`
	Text           string `json:"response"`
	Mode           Mode   `json:"mode"`
	Outcome        string `json:"outcome"`
}

// Stats summarises the turns processed so far.
type Stats struct {
	Turns       int64
	LastTurn    time.Time
	LastOutcome string
}

// Agent processes utterances.
type Agent struct {
	config   Config
	pipeline Pipeline
	classic  Classic
	history  *History
	locks    locks
	observer TurnObserver
	logger   *slog.Logger

	statsMu sync.Mutex
	stats   Stats
}

// New creates an Agent. Only the runner of the configured mode is
// required.
func New(cfg Config, p Pipeline, c Classic, logger *slog.Logger) (*Agent, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.applyDefaults()
	switch cfg.Mode {
	case ModeMultiAgent:
		if p == nil {
			return nil, fmt.Errorf("mode %s needs a pipeline", cfg.Mode)
		}
	case ModeClassic:
		if c == nil {
			return nil, fmt.Errorf("mode %s needs a classic loop", cfg.Mode)
		}
	default:
		return nil, fmt.Errorf("unknown mode %q", cfg.Mode)
	}
	return &Agent{
		config:   cfg,
		pipeline: p,
		classic:  c,
		history:  NewHistory(max(cfg.HistoryTurns, 0), cfg.MaxConversations),
		logger:   logger.With("component", "conversation", "mode", cfg.Mode),
	}, nil
}

// SetObserver attaches a turn observer.
func (a *Agent) SetObserver(o TurnObserver) {
	a.observer = o
}

// Mode returns the configured mode.
func (a *Agent) Mode() Mode { return a.config.Mode }

// Process runs one turn. An empty conversationID starts a new
// conversation. Turns of the same conversation never overlap; a turn
// waiting for its predecessor gives up when ctx ends. The Reply is
// always usable when non-nil, even alongside a context error.
func (a *Agent) Process(ctx context.Context, conversationID, utterance string) (*Reply, error) {
	if conversationID == "" {
		conversationID = uuid.NewString()
	}
	utterance = strings.TrimSpace(utterance)
	reply := &Reply{ConversationID: conversationID, Mode: a.config.Mode}
	if utterance == "" {
		reply.Text = prompts.NotUnderstood
		reply.Outcome = string(pipeline.OutcomeNotUnderstood)
		return reply, nil
	}

	release, err := a.locks.acquire(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("waiting for conversation %s: %w", conversationID, err)
	}
	defer release()

	log := a.logger.With("conversation", conversationID)
	log.Info("turn started", "utterance", utterance)

	var turnErr error
	switch a.config.Mode {
	case ModeClassic:
		turnErr = a.runClassic(ctx, conversationID, utterance, reply)
	default:
		turnErr = a.runPipeline(ctx, conversationID, utterance, reply)
	}

	if a.config.PlainText {
		if plain := speech.PlainText(reply.Text); plain != "" {
			reply.Text = plain
		}
	}
	a.history.Append(conversationID, utterance, reply.Text)
	a.record(reply.Outcome)

	log.Info("turn completed", "outcome", reply.Outcome, "reply", reply.Text)
	return reply, turnErr
}

func (a *Agent) runPipeline(ctx context.Context, id, utterance string, reply *Reply) error {
	turn, err := a.pipeline.Run(ctx, utterance, a.history.Render(id))
	reply.Text = turn.Reply
	reply.Outcome = string(turn.Outcome)
	return err
}

func (a *Agent) runClassic(ctx context.Context, id, utterance string, reply *Reply) error {
	start := time.Now()
	resp, err := a.classic.Run(ctx, agent.Request{Utterance: utterance, History: a.history.Messages(id)})
	switch {
	case err != nil && ctx.Err() != nil:
		reply.Text = prompts.NotResponding
		reply.Outcome = string(pipeline.OutcomeCancelled)
	case err != nil:
		a.logger.Warn("classic turn failed", "error", err)
		reply.Text = prompts.NotResponding
		reply.Outcome = string(pipeline.OutcomeNotResponding)
	default:
		reply.Text = resp.Content
		reply.Outcome = resp.State.String()
	}
	if a.observer != nil {
		a.observer.ObserveModeTurn(string(ModeClassic), reply.Outcome, time.Since(start))
	}
	return ctx.Err()
}

func (a *Agent) record(outcome string) {
	a.statsMu.Lock()
	defer a.statsMu.Unlock()
	a.stats.Turns++
	a.stats.LastTurn = time.Now()
	a.stats.LastOutcome = outcome
}

// Stats returns a snapshot of the turn counters.
func (a *Agent) Stats() Stats {
	a.statsMu.Lock()
	defer a.statsMu.Unlock()
	return a.stats
}
