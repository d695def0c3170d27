package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nugget/assist/internal/executor"
	"github.com/nugget/assist/internal/homeassistant"
	"github.com/nugget/assist/internal/llm"
	"github.com/nugget/assist/internal/planner"
	"github.com/nugget/assist/internal/prompts"
	"github.com/nugget/assist/internal/resolver"
	"github.com/nugget/assist/internal/selector"
	"github.com/nugget/assist/internal/summariser"
	"github.com/nugget/assist/internal/task"
	"github.com/nugget/assist/internal/tools"
)

var unavailable = fmt.Errorf("dial tcp: %w", llm.ErrBackendUnavailable)

// stubStages fails or succeeds per stage and counts calls.
type stubStages struct {
	planErrs   []error
	plan       planner.Plan
	selectErrs []error
	execErr    error
	sumErrs    []error

	planCalls, resolveCalls, selectCalls, execCalls, sumCalls int
}

func pop(errs *[]error) error {
	if len(*errs) == 0 {
		return nil
	}
	err := (*errs)[0]
	*errs = (*errs)[1:]
	return err
}

func (s *stubStages) Plan(context.Context, string, string) (planner.Plan, error) {
	s.planCalls++
	if err := pop(&s.planErrs); err != nil {
		return planner.Plan{}, err
	}
	return s.plan, nil
}

func (s *stubStages) Resolve(_ context.Context, tasks []task.Task) ([]task.Resolved, error) {
	s.resolveCalls++
	out := make([]task.Resolved, len(tasks))
	for i, t := range tasks {
		out[i] = task.Resolved{Task: t}
	}
	return out, nil
}

func (s *stubStages) Select(_ context.Context, _ string, resolved []task.Resolved) ([]task.Selected, error) {
	s.selectCalls++
	if err := pop(&s.selectErrs); err != nil {
		return nil, err
	}
	out := make([]task.Selected, len(resolved))
	for i, r := range resolved {
		out[i] = task.NewSelected(r, nil, "")
	}
	return out, nil
}

func (s *stubStages) Execute(_ context.Context, selected []task.Selected) ([]task.Result, error) {
	s.execCalls++
	out := make([]task.Result, len(selected))
	for i, sel := range selected {
		out[i] = task.Result{TaskID: sel.ID(), Kind: sel.Kind(), Status: task.StatusSuccess, Detail: "Added milk to the shopping list."}
	}
	return out, s.execErr
}

func (s *stubStages) Summarise(context.Context, string, []task.Result) (string, error) {
	s.sumCalls++
	if err := pop(&s.sumErrs); err != nil {
		return "", err
	}
	return "Milk is on the list.", nil
}

func (s *stubStages) pipeline() *Pipeline {
	return New(Stages{Planner: s, Resolver: s, Selector: s, Executor: s, Summariser: s}, nil)
}

var shoppingPlan = planner.Plan{Tasks: []task.Task{{ID: "t1", Kind: task.KindShoppingAdd, RawText: "add milk", Params: task.Params{"item": "milk"}}}}

type recordingObserver struct {
	turns []string
	tasks []string
}

func (o *recordingObserver) ObserveTurn(outcome string, _ time.Duration) {
	o.turns = append(o.turns, outcome)
}

func (o *recordingObserver) ObserveTaskResult(kind, status string) {
	o.tasks = append(o.tasks, kind+"/"+status)
}

func TestRun_Completed(t *testing.T) {
	s := &stubStages{plan: shoppingPlan}
	p := s.pipeline()
	obs := &recordingObserver{}
	p.SetObserver(obs)

	turn, err := p.Run(context.Background(), "add milk", "")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if turn.Reply != "Milk is on the list." || turn.Outcome != OutcomeCompleted {
		t.Errorf("turn = %+v", turn)
	}
	if s.planCalls != 1 || s.resolveCalls != 1 || s.selectCalls != 1 || s.execCalls != 1 || s.sumCalls != 1 {
		t.Errorf("stage calls = %d/%d/%d/%d/%d", s.planCalls, s.resolveCalls, s.selectCalls, s.execCalls, s.sumCalls)
	}
	if len(obs.turns) != 1 || obs.turns[0] != "completed" || len(obs.tasks) != 1 || obs.tasks[0] != "shopping_add/success" {
		t.Errorf("observer = %+v", obs)
	}
}

func TestRun_DirectReply(t *testing.T) {
	s := &stubStages{plan: planner.Plan{Reply: "Hello!"}}
	turn, err := s.pipeline().Run(context.Background(), "hi", "")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if turn.Reply != "Hello!" || turn.Outcome != OutcomeDirect {
		t.Errorf("turn = %+v", turn)
	}
	if s.resolveCalls+s.selectCalls+s.execCalls+s.sumCalls != 0 {
		t.Error("direct reply should skip the remaining stages")
	}
}

func TestRun_StageFailures(t *testing.T) {
	tests := []struct {
		name      string
		stages    *stubStages
		reply     string
		outcome   Outcome
		stage     string
		planCalls int
		execCalls int
	}{
		{
			name:      "planner retried once then succeeds",
			stages:    &stubStages{plan: shoppingPlan, planErrs: []error{unavailable}},
			reply:     "Milk is on the list.",
			outcome:   OutcomeCompleted,
			planCalls: 2,
			execCalls: 1,
		},
		{
			name:      "planner unavailable twice",
			stages:    &stubStages{plan: shoppingPlan, planErrs: []error{unavailable, unavailable}},
			reply:     prompts.NotResponding,
			outcome:   OutcomeNotResponding,
			stage:     "planner",
			planCalls: 2,
		},
		{
			name:      "unparseable plan",
			stages:    &stubStages{planErrs: []error{fmt.Errorf("%w: prose", planner.ErrPlanning)}},
			reply:     prompts.NotUnderstood,
			outcome:   OutcomeNotUnderstood,
			stage:     "planner",
			planCalls: 1,
		},
		{
			name:      "planner protocol error",
			stages:    &stubStages{planErrs: []error{fmt.Errorf("%w: no choices", llm.ErrBackendProtocol)}},
			reply:     prompts.NotUnderstood,
			outcome:   OutcomeNotUnderstood,
			stage:     "planner",
			planCalls: 1,
		},
		{
			name:      "selector unavailable twice",
			stages:    &stubStages{plan: shoppingPlan, selectErrs: []error{unavailable, unavailable}},
			reply:     prompts.NotResponding,
			outcome:   OutcomeNotResponding,
			stage:     "selector",
			planCalls: 1,
		},
		{
			name:      "summariser down",
			stages:    &stubStages{plan: shoppingPlan, sumErrs: []error{unavailable, unavailable}},
			reply:     "Done, completed 1 action.",
			outcome:   OutcomeCompleted,
			planCalls: 1,
			execCalls: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			turn, err := tt.stages.pipeline().Run(context.Background(), "add milk", "")
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if turn.Reply != tt.reply || turn.Outcome != tt.outcome || turn.FailedStage != tt.stage {
				t.Errorf("turn = %+v", turn)
			}
			if tt.stages.planCalls != tt.planCalls || tt.stages.execCalls != tt.execCalls {
				t.Errorf("plan/exec calls = %d/%d, want %d/%d", tt.stages.planCalls, tt.stages.execCalls, tt.planCalls, tt.execCalls)
			}
		})
	}
}

func TestRun_CancelledDuringExecution(t *testing.T) {
	s := &stubStages{plan: shoppingPlan, execErr: context.Canceled}
	turn, err := s.pipeline().Run(context.Background(), "add milk", "")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if turn.Reply != "Done, completed 1 action." || turn.Outcome != OutcomeCancelled {
		t.Errorf("turn = %+v", turn)
	}
	if s.sumCalls != 0 {
		t.Error("summariser ran after cancellation")
	}
}

func TestRun_CancelledBeforePlanning(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := &stubStages{planErrs: []error{context.Canceled}}

	turn, err := s.pipeline().Run(ctx, "add milk", "")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if turn.Reply == "" || turn.Outcome != OutcomeCancelled || s.planCalls != 1 {
		t.Errorf("turn = %+v, plan calls %d", turn, s.planCalls)
	}
}

// scriptedLLM answers each call with the next reply.
type scriptedLLM struct {
	mu      sync.Mutex
	replies []string
	systems []string
}

func (s *scriptedLLM) Chat(_ context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.systems = append(s.systems, req.Messages[0].Content)
	if len(s.replies) == 0 {
		return nil, fmt.Errorf("%w: script exhausted", llm.ErrBackendProtocol)
	}
	reply := s.replies[0]
	s.replies = s.replies[1:]
	return &llm.ChatResponse{Message: llm.Message{Role: llm.RoleAssistant, Content: reply}}, nil
}

func (s *scriptedLLM) Ping(context.Context) error { return nil }

// house is the entity registry and service dispatcher. The bedroom
// light is unreachable.
type house struct {
	mu    sync.Mutex
	calls []string
}

var houseEntities = []homeassistant.EntityInfo{
	{EntityID: "light.kitchen", FriendlyName: "Kitchen Light", Domain: "light", Area: "Kitchen"},
	{EntityID: "light.bedroom", FriendlyName: "Bedroom Light", Domain: "light", Area: "Bedroom"},
	{EntityID: "switch.coffee", FriendlyName: "Coffee Maker", Domain: "switch", Area: "Kitchen"},
}

func (h *house) ListEntities(_ context.Context, domain, _ string) ([]homeassistant.EntityInfo, error) {
	var out []homeassistant.EntityInfo
	for _, e := range houseEntities {
		if domain == "" || e.Domain == domain {
			out = append(out, e)
		}
	}
	return out, nil
}

func (h *house) GetState(_ context.Context, entityID string) (*homeassistant.State, error) {
	return &homeassistant.State{EntityID: entityID, State: "off"}, nil
}

func (h *house) CallService(_ context.Context, domain, service string, data map[string]any) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	target := fmt.Sprint(data["entity_id"])
	h.calls = append(h.calls, domain+"."+service+" "+target)
	if target == "light.bedroom" {
		return errors.New("entity light.bedroom is unavailable")
	}
	return nil
}

func (h *house) Services(context.Context, string) (map[string]homeassistant.Service, error) {
	return nil, nil
}

func TestRun_KitchenAndBedroom(t *testing.T) {
	client := &scriptedLLM{replies: []string{
		`{"tasks": [{"id": "t1", "kind": "device_control", "raw_text": "turn on the kitchen light and the bedroom light", "action": "turn_on", "raw_targets": "kitchen light and bedroom light", "domain": "light"}]}`,
		"The kitchen light is on.",
	}}
	ha := &house{}
	now := func() time.Time { return time.Date(2025, 6, 4, 16, 20, 0, 0, time.UTC) }
	registry := tools.NewRegistry(tools.Deps{HomeAssistant: ha, Now: now, Location: time.UTC}, nil)

	p := New(Stages{
		Planner:    planner.New(client, planner.Config{Now: now}, nil),
		Resolver:   resolver.New(ha, nil, resolver.Options{Locale: "en", Location: time.UTC, Now: now}, nil),
		Selector:   selector.New(client, selector.Config{}, nil),
		Executor:   executor.New(registry, executor.Config{}, nil),
		Summariser: summariser.New(client, summariser.Config{}, nil),
	}, nil)

	turn, err := p.Run(context.Background(), "turn on the kitchen light and the bedroom light", "")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	// Planner and summariser only: both targets resolve without a selection call.
	if len(client.systems) != 2 {
		t.Errorf("LLM calls = %d, want 2", len(client.systems))
	}
	if len(turn.Results) != 2 {
		t.Fatalf("results = %+v", turn.Results)
	}
	if turn.Results[0].TaskID != "t1.1" || turn.Results[0].Status != task.StatusSuccess {
		t.Errorf("kitchen result = %+v", turn.Results[0])
	}
	if turn.Results[1].TaskID != "t1.2" || turn.Results[1].Status != task.StatusFailed {
		t.Errorf("bedroom result = %+v", turn.Results[1])
	}

	ha.mu.Lock()
	calls := strings.Join(ha.calls, "; ")
	ha.mu.Unlock()
	if !strings.Contains(calls, "light.turn_on light.kitchen") || !strings.Contains(calls, "light.turn_on light.bedroom") {
		t.Errorf("service calls = %s", calls)
	}

	want := "The kitchen light is on. Problems: entity light.bedroom is unavailable."
	if turn.Reply != want {
		t.Errorf("Reply = %q, want %q", turn.Reply, want)
	}
}
