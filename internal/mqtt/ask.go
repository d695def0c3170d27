package mqtt

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nugget/assist/internal/conversation"
)

// Asker runs a conversation turn. *conversation.Agent implements it.
type Asker interface {
	Process(ctx context.Context, conversationID, utterance string) (*conversation.Reply, error)
}

// askMessage is an ask topic payload. A payload that is not a JSON
// object is taken as the utterance itself.
type askMessage struct {
	Text           string `json:"text"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// replyMessage is published to the reply topic.
type replyMessage struct {
	ConversationID string `json:"conversation_id"`
	Response       string `json:"response"`
	Mode           string `json:"mode"`
	Outcome        string `json:"outcome"`
}

func decodeAsk(payload []byte) askMessage {
	var msg askMessage
	trimmed := strings.TrimSpace(string(payload))
	if strings.HasPrefix(trimmed, "{") && json.Unmarshal(payload, &msg) == nil {
		msg.Text = strings.TrimSpace(msg.Text)
		return msg
	}
	return askMessage{Text: trimmed}
}

type publishFunc func(ctx context.Context, topic string, payload []byte) error

type askHandler struct {
	asker      Asker
	replyTopic string
	limiter    *messageRateLimiter
	timeout    time.Duration
	logger     *slog.Logger
}

func newAskHandler(a Asker, replyTopic string, logger *slog.Logger) *askHandler {
	return &askHandler{
		asker:      a,
		replyTopic: replyTopic,
		limiter:    newMessageRateLimiter(20, time.Minute, logger),
		timeout:    2 * time.Minute,
		logger:     logger,
	}
}

// handle runs one ask and publishes the reply. Empty and rate-limited
// asks are dropped without a reply.
func (h *askHandler) handle(ctx context.Context, payload []byte, publish publishFunc) {
	if !h.limiter.allow() {
		return
	}
	msg := decodeAsk(payload)
	if msg.Text == "" {
		h.logger.Debug("mqtt ask ignored, no text", "payload_size", len(payload))
		return
	}

	turnCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	reply, err := h.asker.Process(turnCtx, msg.ConversationID, msg.Text)
	if err != nil {
		h.logger.Warn("mqtt ask ended early", "conversation", msg.ConversationID, "error", err)
	}
	if reply == nil {
		return
	}

	out, err := json.Marshal(replyMessage{
		ConversationID: reply.ConversationID,
		Response:       reply.Text,
		Mode:           string(reply.Mode),
		Outcome:        reply.Outcome,
	})
	if err != nil {
		h.logger.Error("mqtt marshal reply", "error", err)
		return
	}
	if err := publish(ctx, h.replyTopic, out); err != nil {
		h.logger.Warn("mqtt reply publish failed", "topic", h.replyTopic, "error", err)
	}
}

// messageRateLimiter drops asks beyond limit per interval. Counters are
// atomic so the receive path never blocks.
type messageRateLimiter struct {
	count    atomic.Int64
	dropped  atomic.Int64
	limit    int64
	interval time.Duration
	logger   *slog.Logger
}

func newMessageRateLimiter(limit int64, interval time.Duration, logger *slog.Logger) *messageRateLimiter {
	return &messageRateLimiter{
		limit:    limit,
		interval: interval,
		logger:   logger,
	}
}

// start resets the counter every interval until ctx is cancelled.
func (r *messageRateLimiter) start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			count := r.count.Swap(0)
			if dropped := r.dropped.Swap(0); dropped > 0 {
				r.logger.Warn("mqtt asks dropped due to rate limit",
					"received", count,
					"dropped", dropped,
					"interval", r.interval.String(),
					"limit", r.limit,
				)
			}
		}
	}
}

func (r *messageRateLimiter) allow() bool {
	if r.count.Add(1) > r.limit {
		r.dropped.Add(1)
		return false
	}
	return true
}
