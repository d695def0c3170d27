package metrics

import (
	"context"
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/nugget/assist/internal/llm"
	"github.com/nugget/assist/internal/pipeline"
)

var (
	_ llm.Observer      = (*Metrics)(nil)
	_ pipeline.Observer = (*Metrics)(nil)
)

func TestObserveLLMCall(t *testing.T) {
	m := New()
	m.ObserveLLMCall("planner", 120*time.Millisecond, nil)
	m.ObserveLLMCall("planner", time.Second, fmt.Errorf("dial: %w", llm.ErrBackendUnavailable))
	m.ObserveLLMCall("summariser", time.Second, fmt.Errorf("%w: no choices", llm.ErrBackendProtocol))
	m.ObserveLLMCall("classic", time.Second, context.Canceled)

	tests := []struct {
		stage, result string
		want          float64
	}{
		{"planner", "ok", 1},
		{"planner", "unavailable", 1},
		{"summariser", "protocol", 1},
		{"classic", "error", 1},
		{"selector", "ok", 0},
	}
	for _, tt := range tests {
		if got := testutil.ToFloat64(m.llmCalls.WithLabelValues(tt.stage, tt.result)); got != tt.want {
			t.Errorf("llm_calls_total{%s,%s} = %v, want %v", tt.stage, tt.result, got, tt.want)
		}
	}
	if n := testutil.CollectAndCount(m.llmDuration); n != 3 {
		t.Errorf("llm duration series = %d, want 3", n)
	}
}

func TestObserveTurnsAndTasks(t *testing.T) {
	m := New()
	m.ObserveTurn("completed", 2*time.Second)
	m.ObserveModeTurn("classic", "done", time.Second)
	m.ObserveTaskResult("device_control", "success")
	m.ObserveTaskResult("device_control", "failed")
	m.ObserveTaskResult("device_control", "success")
	m.ObserveToolDowngrade("classic")

	want := `
# HELP assist_turns_total Conversation turns by mode and outcome.
# TYPE assist_turns_total counter
assist_turns_total{mode="classic",outcome="done"} 1
assist_turns_total{mode="multi_agent",outcome="completed"} 1
`
	if err := testutil.CollectAndCompare(m.turns, strings.NewReader(want)); err != nil {
		t.Error(err)
	}
	if got := testutil.ToFloat64(m.taskResults.WithLabelValues("device_control", "success")); got != 2 {
		t.Errorf("task successes = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.toolDowngrade.WithLabelValues("classic")); got != 1 {
		t.Errorf("downgrades = %v, want 1", got)
	}
}

func TestHandler(t *testing.T) {
	m := New()
	m.ObserveTaskResult("shopping_add", "success")

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	for _, want := range []string{`assist_task_results_total{kind="shopping_add",status="success"} 1`, "go_goroutines"} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
