// Package api implements the HTTP API: a simple chat endpoint, an
// OpenAI-compatible completion endpoint and introspection routes.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/assist/internal/buildinfo"
	"github.com/nugget/assist/internal/conversation"
)

// ModelName is the model id the API advertises.
const ModelName = "assist"

// ConversationIDHeader lets OpenAI-style clients keep a conversation.
const ConversationIDHeader = "X-Conversation-ID"

// Processor runs conversation turns. *conversation.Agent implements it.
type Processor interface {
	Process(ctx context.Context, conversationID, utterance string) (*conversation.Reply, error)
	Mode() conversation.Mode
}

// ToolLister lists tool definitions. *tools.Registry implements it.
type ToolLister interface {
	Definitions() []map[string]any
}

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, code int, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Server is the HTTP API server.
type Server struct {
	address string
	port    int
	conv    Processor
	tools   ToolLister
	metrics http.Handler
	checks  map[string]HealthCheck
	logger  *slog.Logger
	server  *http.Server
}

// NewServer creates a new API server.
func NewServer(address string, port int, conv Processor, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		address: address,
		port:    port,
		conv:    conv,
		checks:  make(map[string]HealthCheck),
		logger:  logger.With("component", "api"),
	}
}

// SetTools enables GET /v1/tools.
func (s *Server) SetTools(t ToolLister) {
	s.tools = t
}

// SetMetrics enables GET /metrics.
func (s *Server) SetMetrics(h http.Handler) {
	s.metrics = h
}

// AddHealthCheck adds a named dependency check to GET /health.
func (s *Server) AddHealthCheck(name string, check HealthCheck) {
	s.checks[name] = check
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/chat", s.handleSimpleChat)
	mux.HandleFunc("POST /v1/chat/completions", s.handleChatCompletions)
	mux.HandleFunc("GET /v1/models", s.handleModels)
	mux.HandleFunc("GET /v1/tools", s.handleTools)
	mux.HandleFunc("GET /v1/version", s.handleVersion)
	mux.HandleFunc("GET /health", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
	mux.HandleFunc("GET /{$}", s.handleRoot)

	return s.withLogging(mux)
}

// Start serves HTTP until Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"message": message,
			"type":    "invalid_request_error",
			"code":    code,
		},
	}, s.logger)
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"name":    "assist",
		"version": buildinfo.Version,
		"mode":    string(s.conv.Mode()),
		"status":  "ok",
	}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, buildinfo.Info(), s.logger)
}

// handleHealth runs every registered check. Any failure makes the
// response 503 with the failing checks listed.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	code := http.StatusOK
	results := make(map[string]string, len(s.checks))
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			results[name] = err.Error()
			status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}
	writeJSON(w, code, map[string]any{"status": status, "checks": results}, s.logger)
}

func (s *Server) handleModels(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"object": "list",
		"data": []map[string]any{{
			"id":       ModelName,
			"object":   "model",
			"created":  time.Now().Unix(),
			"owned_by": "assist",
		}},
	}, s.logger)
}

func (s *Server) handleTools(w http.ResponseWriter, _ *http.Request) {
	if s.tools == nil {
		writeJSON(w, http.StatusOK, map[string]any{"tools": []any{}}, s.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": s.tools.Definitions()}, s.logger)
}

// SimpleChatRequest is the body of POST /v1/chat.
type SimpleChatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// SimpleChatResponse is the reply of POST /v1/chat.
type SimpleChatResponse struct {
	Response       string `json:"response"`
	ConversationID string `json:"conversation_id"`
	Mode           string `json:"mode"`
	Outcome        string `json:"outcome"`
}

// handleSimpleChat runs one turn.
// POST /v1/chat {"message": "turn on the lights"}
func (s *Server) handleSimpleChat(w http.ResponseWriter, r *http.Request) {
	var req SimpleChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		s.errorResponse(w, http.StatusBadRequest, "message is required")
		return
	}

	reply, ok := s.process(w, r, req.ConversationID, req.Message)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, SimpleChatResponse{
		Response:       reply.Text,
		ConversationID: reply.ConversationID,
		Mode:           string(reply.Mode),
		Outcome:        reply.Outcome,
	}, s.logger)
}

// ChatMessage is an OpenAI chat message.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatCompletionRequest is the OpenAI-compatible request format.
type ChatCompletionRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
	Stream   bool          `json:"stream,omitempty"`
	// User doubles as the conversation id when no header is sent.
	User string `json:"user,omitempty"`
}

// ChatCompletionResponse is the OpenAI-compatible response format.
type ChatCompletionResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

// Choice represents a completion choice.
type Choice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

// Usage represents token usage. The pipeline makes several backend
// calls per turn, so it is always zero.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// handleChatCompletions answers the last user message. The assistant
// keeps its own history, so earlier messages are ignored.
func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Stream {
		s.errorResponse(w, http.StatusBadRequest, "streaming is not supported")
		return
	}

	var utterance string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			utterance = req.Messages[i].Content
			break
		}
	}
	if strings.TrimSpace(utterance) == "" {
		s.errorResponse(w, http.StatusBadRequest, "a user message is required")
		return
	}

	convID := r.Header.Get(ConversationIDHeader)
	if convID == "" {
		convID = req.User
	}
	reply, ok := s.process(w, r, convID, utterance)
	if !ok {
		return
	}

	w.Header().Set(ConversationIDHeader, reply.ConversationID)
	writeJSON(w, http.StatusOK, ChatCompletionResponse{
		ID:      "chatcmpl-" + uuid.NewString(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   ModelName,
		Choices: []Choice{{
			Message:      ChatMessage{Role: "assistant", Content: reply.Text},
			FinishReason: "stop",
		}},
	}, s.logger)
}

// process runs a turn and writes the error response when there is no
// reply to send.
func (s *Server) process(w http.ResponseWriter, r *http.Request, convID, utterance string) (*conversation.Reply, bool) {
	reply, err := s.conv.Process(r.Context(), convID, utterance)
	if err != nil {
		s.logger.Warn("turn ended early", "conversation", convID, "error", err)
	}
	if reply == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "conversation busy or request cancelled")
		return nil, false
	}
	return reply, true
}
