package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nugget/assist/internal/httpkit"
)

// Observer receives per-call outcomes, e.g. for Prometheus metrics.
type Observer interface {
	ObserveLLMCall(stage string, d time.Duration, err error)
	ObserveToolDowngrade(stage string)
}

// OpenAIConfig configures an OpenAIClient.
type OpenAIConfig struct {
	URL     string
	APIKey  string
	Model   string
	Timeout time.Duration

	// Stage labels log lines and metrics ("planner", "classic", ...).
	Stage string
}

// OpenAIClient talks to an OpenAI-compatible chat completions endpoint.
type OpenAIClient struct {
	cfg        OpenAIConfig
	caps       *Capabilities
	httpClient *http.Client
	observer   Observer
	logger     *slog.Logger
}

// NewOpenAIClient creates a client. caps is shared by every client of
// the same configuration; nil gets a private instance.
func NewOpenAIClient(cfg OpenAIConfig, caps *Capabilities, logger *slog.Logger) *OpenAIClient {
	if logger == nil {
		logger = slog.Default()
	}
	if caps == nil {
		caps = NewCapabilities()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Stage == "" {
		cfg.Stage = "default"
	}
	cfg.URL = strings.TrimRight(cfg.URL, "/")

	return &OpenAIClient{
		cfg:  cfg,
		caps: caps,
		// The per-call deadline comes from cfg.Timeout via the context.
		// No transport retry: the pipeline retries each stage once.
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(0),
			httpkit.WithLogger(logger),
		),
		logger: logger.With("stage", cfg.Stage),
	}
}

// SetObserver attaches a metrics observer.
func (c *OpenAIClient) SetObserver(o Observer) {
	c.observer = o
}

// Capabilities returns the shared capability state.
func (c *OpenAIClient) Capabilities() *Capabilities {
	return c.caps
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type wireRequest struct {
	Model       string           `json:"model,omitempty"`
	Messages    []wireMessage    `json:"messages"`
	Tools       []map[string]any `json:"tools,omitempty"`
	Temperature float64          `json:"temperature"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
	Stream      bool             `json:"stream"`
}

type wireToolCall struct {
	ID       string `json:"id"`
	Function struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"function"`
}

type wireResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content   *string        `json:"content"`
			ToolCalls []wireToolCall `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Chat sends a completion request. Tool schemas are dropped once the
// capabilities record a downgrade. A call that carried tools and failed
// with a tool signature triggers the downgrade and is resent once
// without tools.
func (c *OpenAIClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	tools := req.Tools
	omitted := false
	if len(tools) > 0 && !c.caps.ToolsAllowed() {
		tools = nil
		omitted = true
	}

	resp, err := c.send(ctx, req, tools)
	if err != nil && len(tools) > 0 && errors.Is(err, ErrToolUnsupported) {
		if c.caps.markToolsUnsupported(err.Error()) {
			c.logger.Warn("backend rejected tool schemas, continuing without tools", "error", err)
			if c.observer != nil {
				c.observer.ObserveToolDowngrade(c.cfg.Stage)
			}
		}
		tools = nil
		omitted = true
		resp, err = c.send(ctx, req, nil)
	}
	if err != nil {
		return nil, err
	}

	if len(tools) > 0 {
		c.caps.markToolsSupported()
		if len(resp.Message.ToolCalls) == 0 && resp.Message.Content != "" {
			if parsed := parseTextToolCalls(resp.Message.Content, toolNameSet(tools)); len(parsed) > 0 {
				c.logger.Debug("parsed text tool calls", "count", len(parsed))
				resp.Message.ToolCalls = parsed
			}
		}
	}
	resp.ToolsOmitted = omitted
	return resp, nil
}

func (c *OpenAIClient) send(ctx context.Context, req *ChatRequest, tools []map[string]any) (*ChatResponse, error) {
	start := time.Now()
	resp, err := c.roundTrip(ctx, req, tools)
	if c.observer != nil {
		c.observer.ObserveLLMCall(c.cfg.Stage, time.Since(start), err)
	}
	if resp != nil {
		resp.Duration = time.Since(start)
	}
	return resp, err
}

func (c *OpenAIClient) roundTrip(ctx context.Context, req *ChatRequest, tools []map[string]any) (*ChatResponse, error) {
	payload := wireRequest{
		Model:       c.cfg.Model,
		Messages:    make([]wireMessage, 0, len(req.Messages)),
		Tools:       tools,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	for _, m := range req.Messages {
		payload.Messages = append(payload.Messages, wireMessage{Role: m.Role, Content: m.Content})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	c.logger.Log(ctx, LevelTrace, "llm request", "body", string(body))

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.cfg.URL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	c.logger.Debug("calling LLM", "messages", len(req.Messages), "tools", len(tools))

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		// The caller's own cancellation is not a backend failure.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %w", ErrBackendUnavailable, err)
	}
	defer httpkit.DrainAndClose(httpResp.Body, 4096)

	if httpResp.StatusCode != http.StatusOK {
		statusErr := &StatusError{
			StatusCode: httpResp.StatusCode,
			Body:       httpkit.ReadErrorBody(httpResp.Body, 2048),
		}
		switch {
		case len(tools) > 0 && hasToolSignature(statusErr.Body):
			return nil, fmt.Errorf("%w: %w", ErrToolUnsupported, statusErr)
		case httpResp.StatusCode >= 500, httpResp.StatusCode == http.StatusTooManyRequests:
			return nil, fmt.Errorf("%w: %w", ErrBackendUnavailable, statusErr)
		default:
			return nil, fmt.Errorf("%w: %w", ErrBackendProtocol, statusErr)
		}
	}

	var wire wireResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&wire); err != nil {
		if callCtx.Err() != nil && ctx.Err() == nil {
			return nil, fmt.Errorf("%w: %w", ErrBackendUnavailable, err)
		}
		return nil, fmt.Errorf("%w: decode response: %w", ErrBackendProtocol, err)
	}
	if wire.Error != nil {
		if len(tools) > 0 && hasToolSignature(wire.Error.Message) {
			return nil, fmt.Errorf("%w: %s", ErrToolUnsupported, wire.Error.Message)
		}
		return nil, fmt.Errorf("%w: %s", ErrBackendProtocol, wire.Error.Message)
	}
	if len(wire.Choices) == 0 {
		return nil, fmt.Errorf("%w: response has no choices", ErrBackendProtocol)
	}

	choice := wire.Choices[0]
	msg := Message{Role: RoleAssistant}
	if choice.Message.Content != nil {
		msg.Content = *choice.Message.Content
	}
	for _, tc := range choice.Message.ToolCalls {
		args, err := decodeArguments(tc.Function.Arguments)
		if err != nil {
			return nil, fmt.Errorf("%w: tool call %s: %w", ErrBackendProtocol, tc.Function.Name, err)
		}
		msg.ToolCalls = append(msg.ToolCalls, ToolCall{
			ID:       tc.ID,
			Function: FunctionCall{Name: tc.Function.Name, Arguments: args},
		})
	}

	c.logger.Log(ctx, LevelTrace, "llm response", "content", msg.Content, "tool_calls", len(msg.ToolCalls))

	return &ChatResponse{
		Model:        wire.Model,
		Message:      msg,
		FinishReason: choice.FinishReason,
		InputTokens:  wire.Usage.PromptTokens,
		OutputTokens: wire.Usage.CompletionTokens,
	}, nil
}

// decodeArguments accepts both the OpenAI form (a JSON string holding an
// object) and the object form some servers emit.
func decodeArguments(raw json.RawMessage) (map[string]any, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return map[string]any{}, nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		if strings.TrimSpace(s) == "" {
			return map[string]any{}, nil
		}
		raw = []byte(s)
	}
	var args map[string]any
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

// Ping checks the llama.cpp health endpoint.
func (c *OpenAIClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.URL+"/health", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBackendUnavailable, err)
	}
	defer httpkit.DrainAndClose(resp.Body, 1024)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: health status %d", ErrBackendUnavailable, resp.StatusCode)
	}
	return nil
}

func toolNameSet(tools []map[string]any) map[string]bool {
	names := make(map[string]bool, len(tools))
	for _, t := range tools {
		fn, ok := t["function"].(map[string]any)
		if !ok {
			continue
		}
		if name, ok := fn["name"].(string); ok {
			names[name] = true
		}
	}
	return names
}
