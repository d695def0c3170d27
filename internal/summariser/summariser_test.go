package summariser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/nugget/assist/internal/llm"
	"github.com/nugget/assist/internal/task"
)

type fakeLLM struct {
	reply string
	err   error
	req   *llm.ChatRequest
}

func (f *fakeLLM) Chat(_ context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	f.req = req
	if f.err != nil {
		return nil, f.err
	}
	return &llm.ChatResponse{Message: llm.Message{Role: llm.RoleAssistant, Content: f.reply}}, nil
}

func (f *fakeLLM) Ping(context.Context) error { return nil }

var partial = []task.Result{
	{TaskID: "t1.1", Kind: task.KindDeviceControl, Status: task.StatusSuccess, Detail: "Called light.turn_on on light.kitchen", Targets: []string{"light.kitchen"}},
	{TaskID: "t1.2", Kind: task.KindDeviceControl, Status: task.StatusFailed, Detail: "entity light.bedroom is unavailable", Targets: []string{"light.bedroom"}},
}

var twoFailures = []task.Result{
	partial[0],
	{TaskID: "t2", Kind: task.KindDeviceControl, Status: task.StatusFailed, Detail: "garage door is jammed", Targets: []string{"cover.garage"}},
	{TaskID: "t3", Kind: task.KindDeviceControl, Status: task.StatusFailed, Detail: "heater is offline", Targets: []string{"climate.heater"}},
}

func TestSummarise(t *testing.T) {
	tests := []struct {
		name    string
		reply   string
		results []task.Result
		want    string
	}{
		{
			name:    "plain",
			reply:   "I turned on the kitchen light.",
			results: partial[:1],
			want:    "I turned on the kitchen light.",
		},
		{
			name:    "quoted and tagged",
			reply:   "<RESPONSE>\"I turned on the kitchen light.\"</RESPONSE>",
			results: partial[:1],
			want:    "I turned on the kitchen light.",
		},
		{
			name:    "failure mentioned",
			reply:   "Kitchen light is on, but entity light.bedroom is unavailable.",
			results: partial,
			want:    "Kitchen light is on, but entity light.bedroom is unavailable.",
		},
		{
			name:    "failure hidden",
			reply:   "Both lights are on!",
			results: partial,
			want:    "Both lights are on! Problems: entity light.bedroom is unavailable.",
		},
		{
			name:    "only the second failure mentioned",
			reply:   "Done, but heater is offline.",
			results: twoFailures,
			want:    "Done, but heater is offline. Problems: garage door is jammed.",
		},
		{
			name:    "no failure mentioned",
			reply:   "All done.",
			results: twoFailures,
			want:    "All done. Problems: garage door is jammed; heater is offline.",
		},
		{
			name:    "empty reply",
			reply:   "  ",
			results: partial,
			want:    "Done, completed 1 action. Sorry, 1 action failed: entity light.bedroom is unavailable.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &fakeLLM{reply: tt.reply}
			got, err := New(client, Config{}, nil).Summarise(context.Background(), "turn on kitchen and bedroom light", tt.results)
			if err != nil {
				t.Fatalf("Summarise() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Summarise() = %q, want %q", got, tt.want)
			}
			if client.req.Temperature != 0.1 {
				t.Errorf("temperature = %v, want 0.1", client.req.Temperature)
			}
			if !strings.Contains(client.req.Messages[1].Content, `"task_id":"t1.1"`) {
				t.Errorf("report missing from request: %s", client.req.Messages[1].Content)
			}
		})
	}
}

func TestSummarise_BackendError(t *testing.T) {
	client := &fakeLLM{err: fmt.Errorf("timeout: %w", llm.ErrBackendUnavailable)}
	_, err := New(client, Config{}, nil).Summarise(context.Background(), "hi", partial)
	if !errors.Is(err, llm.ErrBackendUnavailable) {
		t.Errorf("Summarise() error = %v, want ErrBackendUnavailable", err)
	}
}

func TestFallback(t *testing.T) {
	tests := []struct {
		name    string
		results []task.Result
		want    string
	}{
		{"nothing", nil, "No actions were performed."},
		{"partial", partial, "Done, completed 1 action. Sorry, 1 action failed: entity light.bedroom is unavailable."},
		{
			name: "answers and duplicates",
			results: []task.Result{
				{TaskID: "t1", Kind: task.KindShoppingList, Status: task.StatusSuccess, Detail: "Shopping list: milk, eggs"},
				{TaskID: "t2", Kind: task.KindShoppingAdd, Status: task.StatusSuccess, Detail: "Added bread to the shopping list."},
				{TaskID: "t3", Kind: task.KindShoppingAdd, Status: task.StatusSkippedDuplicate, DuplicateOf: "t2"},
				{TaskID: "t4", Kind: task.KindShoppingAdd, Status: task.StatusSuccess, Detail: "Added jam to the shopping list."},
			},
			want: "Shopping list: milk, eggs Done, completed 2 actions.",
		},
		{
			name: "all failed",
			results: []task.Result{
				{TaskID: "t1", Kind: task.KindDeviceControl, Status: task.StatusFailed, Detail: "Which lamp?", NeedsClarification: true},
				{TaskID: "t2", Kind: task.KindCalendarQuery, Status: task.StatusFailed, Detail: "no calendar is configured"},
			},
			want: "Sorry, 2 actions failed: Which lamp?; no calendar is configured.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Fallback(tt.results); got != tt.want {
				t.Errorf("Fallback() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFallback_DisclosesEveryFailure(t *testing.T) {
	results := append([]task.Result{}, partial...)
	results = append(results, task.Result{TaskID: "t2", Kind: task.KindShoppingAdd, Status: task.StatusFailed, Detail: "shopping list unavailable"})

	got := Fallback(results)
	for _, r := range results {
		if r.Failed() && !strings.Contains(got, r.Detail) {
			t.Errorf("Fallback() = %q, missing %q", got, r.Detail)
		}
	}
}
