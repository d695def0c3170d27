// Package pipeline runs one multi-agent turn: plan, resolve, select,
// execute and summarise, strictly in that order.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/nugget/assist/internal/llm"
	"github.com/nugget/assist/internal/planner"
	"github.com/nugget/assist/internal/prompts"
	"github.com/nugget/assist/internal/summariser"
	"github.com/nugget/assist/internal/task"
)

// Stage interfaces. The concrete types live in their own packages.
type (
	Planner interface {
		Plan(ctx context.Context, utterance, history string) (planner.Plan, error)
	}
	Resolver interface {
		Resolve(ctx context.Context, tasks []task.Task) ([]task.Resolved, error)
	}
	Selector interface {
		Select(ctx context.Context, utterance string, resolved []task.Resolved) ([]task.Selected, error)
	}
	Executor interface {
		Execute(ctx context.Context, selected []task.Selected) ([]task.Result, error)
	}
	Summariser interface {
		Summarise(ctx context.Context, utterance string, results []task.Result) (string, error)
	}
)

// Observer receives turn and task outcomes, e.g. for metrics.
type Observer interface {
	ObserveTurn(outcome string, d time.Duration)
	ObserveTaskResult(kind, status string)
}

// Outcome classifies how a turn ended.
type Outcome string

const (
	OutcomeDirect        Outcome = "direct"
	OutcomeCompleted     Outcome = "completed"
	OutcomeNotUnderstood Outcome = "not_understood"
	OutcomeNotResponding Outcome = "not_responding"
	OutcomeCancelled     Outcome = "cancelled"
)

// Turn is the result of one utterance. Reply is always set.
type Turn struct {
	Reply   string
	Outcome Outcome
	Tasks   []task.Task
	Results []task.Result
	// FailedStage names the stage that ended the turn early, if any.
	FailedStage string
}

// Stages are the pipeline's stage implementations.
type Stages struct {
	Planner    Planner
	Resolver   Resolver
	Selector   Selector
	Executor   Executor
	Summariser Summariser
}

// Pipeline runs turns.
type Pipeline struct {
	stages   Stages
	observer Observer
	logger   *slog.Logger
}

// New creates a Pipeline.
func New(stages Stages, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		stages: stages,
		logger: logger.With("component", "pipeline"),
	}
}

// SetObserver attaches an outcome observer.
func (p *Pipeline) SetObserver(o Observer) {
	p.observer = o
}

// Run processes one utterance. history is the rendered recent
// conversation. The returned Turn always carries a reply; the error is
// non-nil only when ctx ended the turn.
func (p *Pipeline) Run(ctx context.Context, utterance, history string) (*Turn, error) {
	start := time.Now()
	turn, err := p.run(ctx, utterance, history)
	if p.observer != nil {
		p.observer.ObserveTurn(string(turn.Outcome), time.Since(start))
		for _, r := range turn.Results {
			p.observer.ObserveTaskResult(string(r.Kind), string(r.Status))
		}
	}
	p.logger.Info("turn finished",
		"outcome", turn.Outcome,
		"tasks", len(turn.Tasks),
		"results", len(turn.Results),
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return turn, err
}

func (p *Pipeline) run(ctx context.Context, utterance, history string) (*Turn, error) {
	plan, err := retry(ctx, p.logger, "planner", func() (planner.Plan, error) {
		return p.stages.Planner.Plan(ctx, utterance, history)
	})
	if err != nil {
		turn := p.abort(ctx, "planner", err)
		if errors.Is(err, planner.ErrPlanning) || errors.Is(err, llm.ErrBackendProtocol) {
			turn.Reply = prompts.NotUnderstood
			turn.Outcome = OutcomeNotUnderstood
		}
		return turn, ctx.Err()
	}
	if plan.Direct() {
		return &Turn{Reply: plan.Reply, Outcome: OutcomeDirect}, nil
	}

	resolved, err := p.stages.Resolver.Resolve(ctx, plan.Tasks)
	if err != nil {
		turn := p.abort(ctx, "resolver", err)
		turn.Tasks = plan.Tasks
		return turn, ctx.Err()
	}

	selected, err := retry(ctx, p.logger, "selector", func() ([]task.Selected, error) {
		return p.stages.Selector.Select(ctx, utterance, resolved)
	})
	if err != nil {
		turn := p.abort(ctx, "selector", err)
		turn.Tasks = plan.Tasks
		return turn, ctx.Err()
	}

	results, err := p.stages.Executor.Execute(ctx, selected)
	if err != nil {
		p.logger.Warn("turn cancelled during execution, skipping summary", "error", err)
		return &Turn{
			Reply:       summariser.Fallback(results),
			Outcome:     OutcomeCancelled,
			Tasks:       plan.Tasks,
			Results:     results,
			FailedStage: "executor",
		}, err
	}

	turn := &Turn{Outcome: OutcomeCompleted, Tasks: plan.Tasks, Results: results}
	if err := ctx.Err(); err != nil {
		turn.Reply = summariser.Fallback(results)
		turn.Outcome = OutcomeCancelled
		return turn, err
	}

	reply, err := retry(ctx, p.logger, "summariser", func() (string, error) {
		return p.stages.Summariser.Summarise(ctx, utterance, results)
	})
	if err != nil {
		p.logger.Warn("summary failed, using template", "error", err)
		turn.Reply = summariser.Fallback(results)
		if ctx.Err() != nil {
			turn.Outcome = OutcomeCancelled
			return turn, ctx.Err()
		}
		return turn, nil
	}
	turn.Reply = reply
	return turn, nil
}

// abort builds the turn for a stage failure before anything executed.
// Only the caller's context makes it a cancellation; a backend timeout
// is an unavailable backend.
func (p *Pipeline) abort(ctx context.Context, stage string, err error) *Turn {
	p.logger.Warn("stage failed", "stage", stage, "error", err)
	outcome := OutcomeNotResponding
	if ctx.Err() != nil {
		outcome = OutcomeCancelled
	}
	return &Turn{Reply: prompts.NotResponding, Outcome: outcome, FailedStage: stage}
}

// retry runs fn and retries it once when the backend was unavailable.
func retry[T any](ctx context.Context, logger *slog.Logger, stage string, fn func() (T, error)) (T, error) {
	v, err := fn()
	if err == nil || !errors.Is(err, llm.ErrBackendUnavailable) || ctx.Err() != nil {
		return v, err
	}
	logger.Warn("backend unavailable, retrying once", "stage", stage, "error", err)
	return fn()
}
