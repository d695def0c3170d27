package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nugget/assist/internal/homeassistant"
	"github.com/nugget/assist/internal/llm"
	"github.com/nugget/assist/internal/memory"
	"github.com/nugget/assist/internal/prompts"
	"github.com/nugget/assist/internal/tools"
)

type mockLLM struct {
	mu        sync.Mutex
	responses []*llm.ChatResponse
	err       error
	calls     []*llm.ChatRequest
}

func (m *mockLLM) Chat(_ context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Copy the message slice; the loop keeps appending to it.
	snapshot := *req
	snapshot.Messages = append([]llm.Message(nil), req.Messages...)
	m.calls = append(m.calls, &snapshot)

	if m.err != nil {
		return nil, m.err
	}
	if len(m.calls) > len(m.responses) {
		return nil, fmt.Errorf("mockLLM: no more responses (call %d)", len(m.calls))
	}
	return m.responses[len(m.calls)-1], nil
}

func (m *mockLLM) Ping(context.Context) error { return nil }

func text(content string) *llm.ChatResponse {
	return &llm.ChatResponse{Message: llm.Message{Role: llm.RoleAssistant, Content: content}}
}

func toolCall(name string, args map[string]any) *llm.ChatResponse {
	return &llm.ChatResponse{Message: llm.Message{
		Role:      llm.RoleAssistant,
		ToolCalls: []llm.ToolCall{{Function: llm.FunctionCall{Name: name, Arguments: args}}},
	}}
}

type staticEntities struct {
	entities []homeassistant.EntityInfo
	err      error
}

func (s staticEntities) ListEntities(context.Context, string, string) ([]homeassistant.EntityInfo, error) {
	return s.entities, s.err
}

var testNow = time.Date(2025, 6, 4, 16, 20, 0, 0, time.UTC)

func buildTestLoop(t *testing.T, client llm.Client, caps *llm.Capabilities, cfg Config) (*Loop, *memory.InProcStore) {
	t.Helper()
	store := memory.NewInProcStore()
	reg := tools.NewRegistry(tools.Deps{Memory: store, Now: func() time.Time { return testNow }}, nil)
	reg.Register(&tools.Tool{
		Name:        "broken",
		Description: "always fails",
		Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
		Handler: func(context.Context, map[string]any) (string, error) {
			return "", errors.New("device offline")
		},
	})
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return testNow }
	}
	loop := New(Deps{
		Client:       client,
		Capabilities: caps,
		Tools:        reg,
		Entities: staticEntities{entities: []homeassistant.EntityInfo{
			{EntityID: "light.kitchen", FriendlyName: "Kitchen Light", Area: "Kitchen", Domain: "light", State: "off"},
		}},
		Memory: store,
	}, cfg, nil)
	return loop, store
}

func TestRun_DirectAnswer(t *testing.T) {
	mock := &mockLLM{responses: []*llm.ChatResponse{
		text("Let me think.\n<RESPONSE>It is sunny today.</RESPONSE>"),
	}}
	loop, _ := buildTestLoop(t, mock, nil, Config{})

	resp, err := loop.Run(context.Background(), Request{Utterance: "how is the weather?"})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if resp.Content != "It is sunny today." {
		t.Errorf("Content = %q", resp.Content)
	}
	if resp.State != StateDone || resp.Iterations != 1 || resp.ToolFree {
		t.Errorf("Response = %+v", resp)
	}
	if len(mock.calls) != 1 || len(mock.calls[0].Tools) == 0 {
		t.Fatal("expected one call offering tools")
	}
	if got := mock.calls[0].Temperature; got != 0.7 {
		t.Errorf("temperature = %v, want 0.7", got)
	}
}

func TestRun_ToolRoundTrip(t *testing.T) {
	mock := &mockLLM{responses: []*llm.ChatResponse{
		toolCall("memory_write", map[string]any{"key": "preferences.light_color", "value": "warm white"}),
		text("I'll remember that."),
	}}
	loop, store := buildTestLoop(t, mock, nil, Config{})

	resp, err := loop.Run(context.Background(), Request{Utterance: "remember I like warm white light"})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if resp.Content != "I'll remember that." || resp.ToolCalls != 1 || resp.Iterations != 2 {
		t.Errorf("Response = %+v", resp)
	}

	v, found, _ := store.Read(context.Background(), "preferences", "light_color")
	if !found || v != "warm white" {
		t.Errorf("memory = %q, %v", v, found)
	}

	second := mock.calls[1].Messages
	n := len(second)
	if second[n-2].Role != llm.RoleAssistant || len(second[n-2].ToolCalls) != 1 {
		t.Errorf("assistant tool-call turn not kept: %+v", second[n-2])
	}
	if second[n-1].Role != llm.RoleUser || !strings.HasPrefix(second[n-1].Content, "Tool results:\nmemory_write: ") {
		t.Errorf("tool results message = %+v", second[n-1])
	}
}

func TestRun_ToolErrorsGoBackToModel(t *testing.T) {
	mock := &mockLLM{responses: []*llm.ChatResponse{
		{Message: llm.Message{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{
			{Function: llm.FunctionCall{Name: "broken"}},
			{Function: llm.FunctionCall{Name: "no_such_tool"}},
		}}},
		text("Sorry, the device is offline."),
	}}
	loop, _ := buildTestLoop(t, mock, nil, Config{})

	if _, err := loop.Run(context.Background(), Request{Utterance: "do it"}); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	results := mock.calls[1].Messages[len(mock.calls[1].Messages)-1].Content
	for _, want := range []string{`broken: {"error":"device offline","success":false}`, `no_such_tool: {"error":"tool \"no_such_tool\" is not available in this context"`} {
		if !strings.Contains(results, want) {
			t.Errorf("tool results missing %q:\n%s", want, results)
		}
	}
}

func TestRun_IterationCap(t *testing.T) {
	loopingCall := toolCall("get_time", nil)
	mock := &mockLLM{responses: []*llm.ChatResponse{loopingCall, loopingCall, loopingCall, loopingCall}}
	loop, _ := buildTestLoop(t, mock, nil, Config{MaxIterations: 3})

	resp, err := loop.Run(context.Background(), Request{Utterance: "what time is it?"})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if resp.State != StateFailed || resp.Content != prompts.IterationApology {
		t.Errorf("Response = %+v", resp)
	}
	if len(mock.calls) != 3 {
		t.Errorf("LLM calls = %d, want 3", len(mock.calls))
	}
}

func TestRun_EmptyResponseNudge(t *testing.T) {
	tests := []struct {
		name      string
		responses []*llm.ChatResponse
		want      string
		calls     int
	}{
		{
			name:      "recovers after nudge",
			responses: []*llm.ChatResponse{toolCall("get_time", nil), text(""), text("It is 16:20.")},
			want:      "It is 16:20.",
			calls:     3,
		},
		{
			name:      "silent after nudge",
			responses: []*llm.ChatResponse{toolCall("get_time", nil), text(""), text("  ")},
			want:      prompts.EmptyResponseFallback,
			calls:     3,
		},
		{
			name:      "no nudge without tool calls",
			responses: []*llm.ChatResponse{text("")},
			want:      prompts.EmptyResponseFallback,
			calls:     1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &mockLLM{responses: tt.responses}
			loop, _ := buildTestLoop(t, mock, nil, Config{})

			resp, err := loop.Run(context.Background(), Request{Utterance: "what time is it?"})
			if err != nil {
				t.Fatalf("Run() error: %v", err)
			}
			if resp.Content != tt.want {
				t.Errorf("Content = %q, want %q", resp.Content, tt.want)
			}
			if len(mock.calls) != tt.calls {
				t.Errorf("LLM calls = %d, want %d", len(mock.calls), tt.calls)
			}
		})
	}
}

func TestRun_ToolsDroppedMidTurn(t *testing.T) {
	omitted := toolCall("get_time", nil)
	omitted.Message.Content = "<tool_call>{\"name\": \"get_time\"}</tool_call> It is late."
	omitted.ToolsOmitted = true
	mock := &mockLLM{responses: []*llm.ChatResponse{omitted}}
	loop, _ := buildTestLoop(t, mock, nil, Config{})

	resp, err := loop.Run(context.Background(), Request{Utterance: "what time is it?"})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if !resp.ToolFree || resp.State != StateDone || resp.ToolCalls != 0 {
		t.Errorf("Response = %+v", resp)
	}
	if len(mock.calls) != 1 {
		t.Errorf("LLM calls = %d, want 1", len(mock.calls))
	}
}

func TestRun_BackendError(t *testing.T) {
	mock := &mockLLM{err: fmt.Errorf("dial: %w", llm.ErrBackendUnavailable)}
	loop, _ := buildTestLoop(t, mock, nil, Config{})

	resp, err := loop.Run(context.Background(), Request{Utterance: "hi"})
	if !errors.Is(err, llm.ErrBackendUnavailable) {
		t.Fatalf("Run() error = %v, want ErrBackendUnavailable", err)
	}
	if resp.State != StateFailed {
		t.Errorf("State = %v, want failed", resp.State)
	}
}

func TestRun_PromptContext(t *testing.T) {
	mock := &mockLLM{responses: []*llm.ChatResponse{text("Hello again.")}}
	loop, store := buildTestLoop(t, mock, nil, Config{SystemPromptPrefix: "You are Jarvis."})
	if err := store.Write(context.Background(), "preferences", "light_color", "warm white"); err != nil {
		t.Fatal(err)
	}

	history := []llm.Message{
		{Role: llm.RoleUser, Content: "hello"},
		{Role: llm.RoleAssistant, Content: "Hi!"},
	}
	if _, err := loop.Run(context.Background(), Request{Utterance: "hello again", History: history}); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	msgs := mock.calls[0].Messages
	if len(msgs) != 4 || msgs[1].Content != "hello" || msgs[3].Content != "hello again" {
		t.Fatalf("messages = %+v", msgs)
	}
	system := msgs[0].Content
	for _, want := range []string{
		"You are Jarvis.",
		"2025-06-04 16:20:00",
		"light_color: warm white",
		"- Kitchen Light [Kitchen]: light.kitchen (currently: off)",
		`"name":"memory_write"`,
	} {
		if !strings.Contains(system, want) {
			t.Errorf("system prompt missing %q", want)
		}
	}
}

// toolRejectingBackend is a llama.cpp server started without --jinja:
// any request carrying tools fails with a template error.
type toolRejectingBackend struct {
	mu       sync.Mutex
	requests []map[string]any
}

func (b *toolRejectingBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)
	b.mu.Lock()
	b.requests = append(b.requests, body)
	b.mu.Unlock()

	if _, ok := body["tools"]; ok {
		http.Error(w, `{"error":{"message":"tools param requires --jinja flag"}}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, `{"model":"test","choices":[{"message":{"content":"<RESPONSE>I can only chat right now.</RESPONSE>"},"finish_reason":"stop"}]}`)
}

func TestRun_CapabilityDowngradeIsSticky(t *testing.T) {
	backend := &toolRejectingBackend{}
	srv := httptest.NewServer(backend)
	defer srv.Close()

	caps := llm.NewCapabilities()
	client := llm.NewOpenAIClient(llm.OpenAIConfig{URL: srv.URL, Timeout: 5 * time.Second, Stage: "classic"}, caps, nil)
	loop, _ := buildTestLoop(t, client, caps, Config{})

	first, err := loop.Run(context.Background(), Request{Utterance: "turn on the kitchen light"})
	if err != nil {
		t.Fatalf("first Run() error: %v", err)
	}
	if !first.ToolFree || first.Content != "I can only chat right now." {
		t.Errorf("first Response = %+v", first)
	}
	if caps.Tools() != llm.ToolSupportNo {
		t.Fatalf("capabilities = %v, want unsupported", caps.Tools())
	}

	second, err := loop.Run(context.Background(), Request{Utterance: "turn it off"})
	if err != nil {
		t.Fatalf("second Run() error: %v", err)
	}
	if !second.ToolFree || second.Iterations != 1 {
		t.Errorf("second Response = %+v", second)
	}

	backend.mu.Lock()
	defer backend.mu.Unlock()
	// First turn: rejected with tools, resent without. Second turn: no tools at all.
	if len(backend.requests) != 3 {
		t.Fatalf("backend requests = %d, want 3", len(backend.requests))
	}
	last := backend.requests[2]
	if _, ok := last["tools"]; ok {
		t.Error("tools sent after downgrade")
	}
	msgs, _ := last["messages"].([]any)
	system, _ := msgs[0].(map[string]any)["content"].(string)
	if !strings.Contains(system, "Answer directly") || strings.Contains(system, "<tools>") {
		t.Errorf("tool-free turn should use the tool-free prompt:\n%s", system)
	}
}

func TestRenderEntities(t *testing.T) {
	entities := []homeassistant.EntityInfo{
		{EntityID: "sensor.outside", FriendlyName: "Outside Temperature", Domain: "sensor", State: "21.5"},
		{EntityID: "light.kitchen", FriendlyName: "Kitchen Light", Area: "Kitchen", State: "on"},
		{EntityID: "automation.morning", FriendlyName: "Morning", Domain: "automation", State: "on"},
		{EntityID: "switch.coffee", FriendlyName: "Coffee Maker", Domain: "switch", State: "unavailable"},
	}

	got := RenderEntities(entities, 0)
	want := "Light:\n- Kitchen Light [Kitchen]: light.kitchen (currently: on)\n\n" +
		"Switch:\n- Coffee Maker: switch.coffee\n\n" +
		"Sensor:\n- Outside Temperature: sensor.outside (currently: 21.5)"
	if got != want {
		t.Errorf("RenderEntities() =\n%s\nwant\n%s", got, want)
	}

	capped := RenderEntities(entities, 1)
	if !strings.Contains(capped, "light.kitchen") || strings.Contains(capped, "switch.coffee") {
		t.Errorf("capped list = %q", capped)
	}
	if !strings.HasSuffix(capped, "(Showing 1 of 3 entities)") {
		t.Errorf("capped list should say how many were shown: %q", capped)
	}

	if RenderEntities(nil, 10) != "" {
		t.Error("empty registry should render nothing")
	}
}
