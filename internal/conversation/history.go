package conversation

import (
	"strings"
	"sync"
	"time"

	"github.com/nugget/assist/internal/llm"
)

// Exchange is one user utterance and the reply spoken for it.
type Exchange struct {
	User      string
	Assistant string
	At        time.Time
}

type thread struct {
	exchanges []Exchange
	lastUsed  time.Time
}

// History keeps the most recent exchanges of each conversation in
// memory. Both the exchanges per conversation and the number of
// conversations are bounded; the least recently used conversation is
// dropped first.
type History struct {
	mu         sync.Mutex
	threads    map[string]*thread
	maxTurns   int
	maxThreads int
	now        func() time.Time
}

// NewHistory creates a History keeping maxTurns exchanges for up to
// maxThreads conversations.
func NewHistory(maxTurns, maxThreads int) *History {
	return &History{
		threads:    make(map[string]*thread),
		maxTurns:   maxTurns,
		maxThreads: maxThreads,
		now:        time.Now,
	}
}

// Append records an exchange.
func (h *History) Append(id, user, assistant string) {
	if h.maxTurns <= 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.now()
	t, ok := h.threads[id]
	if !ok {
		h.evict()
		t = &thread{}
		h.threads[id] = t
	}
	t.lastUsed = now
	t.exchanges = append(t.exchanges, Exchange{User: user, Assistant: assistant, At: now})
	if over := len(t.exchanges) - h.maxTurns; over > 0 {
		t.exchanges = append([]Exchange(nil), t.exchanges[over:]...)
	}
}

// evict makes room for one more thread. Caller holds mu.
func (h *History) evict() {
	for h.maxThreads > 0 && len(h.threads) >= h.maxThreads {
		var (
			oldestID string
			oldest   time.Time
		)
		for id, t := range h.threads {
			if oldestID == "" || t.lastUsed.Before(oldest) {
				oldestID, oldest = id, t.lastUsed
			}
		}
		delete(h.threads, oldestID)
	}
}

// Exchanges returns a copy of the conversation's recent exchanges,
// oldest first.
func (h *History) Exchanges(id string) []Exchange {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := h.threads[id]
	if !ok {
		return nil
	}
	return append([]Exchange(nil), t.exchanges...)
}

// Render formats the conversation for the planner prompt.
func (h *History) Render(id string) string {
	var b strings.Builder
	for _, e := range h.Exchanges(id) {
		b.WriteString("User: " + e.User + "\n")
		b.WriteString("Assistant: " + e.Assistant + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// Messages returns the conversation as chat messages for the classic
// loop.
func (h *History) Messages(id string) []llm.Message {
	exchanges := h.Exchanges(id)
	msgs := make([]llm.Message, 0, 2*len(exchanges))
	for _, e := range exchanges {
		msgs = append(msgs,
			llm.Message{Role: llm.RoleUser, Content: e.User},
			llm.Message{Role: llm.RoleAssistant, Content: e.Assistant},
		)
	}
	return msgs
}

// Len returns the number of conversations held.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.threads)
}
