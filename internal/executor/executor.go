// Package executor carries out selected tasks through the tool registry.
// Duplicate tasks run once. Tasks touching a common resource run in
// planner order, and independent chains run concurrently up to a limit.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nugget/assist/internal/task"
)

// Dispatcher runs a named tool. *tools.Registry implements it.
type Dispatcher interface {
	Execute(ctx context.Context, name string, args map[string]any) (string, error)
}

// Config tunes the executor.
type Config struct {
	// Concurrency caps simultaneous dispatches. Default: 4.
	Concurrency int

	// DispatchTimeout bounds each tool call. Dispatches outlive a
	// cancelled turn but not this timeout. Default: 30 seconds.
	DispatchTimeout time.Duration
}

// DefaultConfig returns the executor defaults.
func DefaultConfig() Config {
	return Config{Concurrency: 4, DispatchTimeout: 30 * time.Second}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.Concurrency <= 0 {
		c.Concurrency = d.Concurrency
	}
	if c.DispatchTimeout <= 0 {
		c.DispatchTimeout = d.DispatchTimeout
	}
}

// Executor runs selected tasks.
type Executor struct {
	tools  Dispatcher
	config Config
	logger *slog.Logger
}

// New creates an Executor.
func New(tools Dispatcher, cfg Config, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.applyDefaults()
	return &Executor{
		tools:  tools,
		config: cfg,
		logger: logger.With("component", "executor"),
	}
}

// Execute runs the tasks and returns one result per task in planner
// order. Failures are recorded per task. If ctx is cancelled, tasks not
// yet dispatched fail with the cancellation and ctx.Err() is returned
// alongside the results; dispatches already in flight complete.
func (e *Executor) Execute(ctx context.Context, selected []task.Selected) ([]task.Result, error) {
	results := make([]task.Result, len(selected))
	res := make(map[int][]string)
	var runnable []int

	first := map[string]int{}
	for i, s := range selected {
		results[i] = task.Result{TaskID: s.ID(), Kind: s.Kind(), Targets: s.TargetIDs()}

		if s.Kind() == task.KindChat {
			results[i].Status = task.StatusSuccess
			results[i].Detail = s.Task().Reply
			continue
		}
		if detail, unresolved := unresolved(s); unresolved {
			results[i].Status = task.StatusFailed
			results[i].Detail = detail
			results[i].NeedsClarification = true
			continue
		}

		key := dedupKey(s)
		if j, ok := first[key]; ok {
			results[i].Status = task.StatusSkippedDuplicate
			results[i].DuplicateOf = selected[j].ID()
			results[i].Detail = fmt.Sprintf("same as %s", selected[j].ID())
			e.logger.Info("duplicate task skipped", "task", s.ID(), "duplicate_of", selected[j].ID())
			continue
		}
		first[key] = i
		res[i] = resources(s)
		runnable = append(runnable, i)
	}

	var g errgroup.Group
	g.SetLimit(e.config.Concurrency)
	for _, chain := range chains(runnable, res) {
		g.Go(func() error {
			for _, i := range chain {
				if err := ctx.Err(); err != nil {
					results[i].Status = task.StatusFailed
					results[i].Detail = "not run: " + err.Error()
					continue
				}
				results[i] = e.run(ctx, selected[i], results[i])
			}
			return nil
		})
	}
	_ = g.Wait()

	return results, ctx.Err()
}

// run dispatches one task on a context detached from the turn's
// cancellation.
func (e *Executor) run(ctx context.Context, s task.Selected, r task.Result) task.Result {
	calls, err := toolCalls(s)
	if err != nil {
		r.Status = task.StatusFailed
		r.Detail = err.Error()
		e.logger.Warn("task not executable", "task", s.ID(), "kind", s.Kind(), "error", err)
		return r
	}

	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.config.DispatchTimeout)
	defer cancel()

	start := time.Now()
	var out []string
	for _, c := range calls {
		text, err := e.tools.Execute(dctx, c.tool, c.args)
		if err != nil {
			r.Status = task.StatusFailed
			r.Detail = err.Error()
			e.logger.Warn("task failed",
				"task", s.ID(),
				"kind", s.Kind(),
				"tool", c.tool,
				"error", err,
				"elapsed", time.Since(start).Round(time.Millisecond),
			)
			return r
		}
		if c.label != "" {
			text = c.label + ":\n" + text
		}
		out = append(out, text)
	}

	r.Status = task.StatusSuccess
	r.Detail = strings.Join(out, "\n")
	e.logger.Info("task executed",
		"task", s.ID(),
		"kind", s.Kind(),
		"targets", r.Targets,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return r
}

// unresolved reports whether an entity-bearing task has nothing to act
// on, with the clarification to give the user.
func unresolved(s task.Selected) (string, bool) {
	r := s.Resolved()
	if !s.Kind().EntityBearing() {
		return "", false
	}
	missingWindow := (s.Kind() == task.KindCalendarQuery || s.Kind() == task.KindCalendarCreate) && r.Start.IsZero()
	if s.Len() > 0 && !missingWindow {
		return "", false
	}
	switch {
	case s.Question() != "":
		return s.Question(), true
	case r.Note != "":
		return r.Note, true
	case s.Kind() == task.KindDeviceControl:
		target := r.Payload
		if target == "" {
			target = r.Task.RawText
		}
		return fmt.Sprintf("could not tell which device %q means", target), true
	default:
		return "no calendar was chosen", true
	}
}
