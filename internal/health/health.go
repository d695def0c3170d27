// Package health watches the assistant's external dependencies (the LLM
// backend and Home Assistant) in the background, so health checks read
// a cached state instead of probing on every request.
//
// A failing dependency is re-probed with exponential backoff; a healthy
// one is polled at a fixed interval. Transitions are logged and may
// trigger a recovery hook, e.g. reconnecting a WebSocket.
package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// ErrNotChecked is reported before a dependency's first probe finishes.
var ErrNotChecked = errors.New("not checked yet")

// Probe reports whether a dependency is reachable.
type Probe func(ctx context.Context) error

// Schedule controls probe timing.
type Schedule struct {
	// RetryDelay is the first delay after a failure (default: 2s). It
	// doubles on each further failure up to MaxRetryDelay.
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration // default: 60s
	// PollInterval spaces probes while healthy (default: 60s).
	PollInterval time.Duration
	// Timeout bounds each probe (default: 10s).
	Timeout time.Duration
}

// DefaultSchedule returns the production probe timing.
func DefaultSchedule() Schedule {
	return Schedule{
		RetryDelay:    2 * time.Second,
		MaxRetryDelay: 60 * time.Second,
		PollInterval:  60 * time.Second,
		Timeout:       10 * time.Second,
	}
}

func (s *Schedule) applyDefaults() {
	d := DefaultSchedule()
	if s.RetryDelay <= 0 {
		s.RetryDelay = d.RetryDelay
	}
	if s.MaxRetryDelay <= 0 {
		s.MaxRetryDelay = d.MaxRetryDelay
	}
	if s.PollInterval <= 0 {
		s.PollInterval = d.PollInterval
	}
	if s.Timeout <= 0 {
		s.Timeout = d.Timeout
	}
}

// Dependency describes one watched service.
type Dependency struct {
	Name     string
	Probe    Probe
	Schedule Schedule
	// OnRecover runs after a failing dependency passes a probe again.
	// It does not run for the first successful probe.
	OnRecover func(ctx context.Context)
}

// Status is a dependency's last known state.
type Status struct {
	Name      string    `json:"name"`
	Healthy   bool      `json:"healthy"`
	Checked   time.Time `json:"checked"`
	LastError string    `json:"last_error,omitempty"`
}

type watch struct {
	dep Dependency

	mu      sync.Mutex
	err     error
	checked time.Time
	// failing is set once a probe has failed and cleared on recovery.
	failing bool
}

// Monitor runs one watch goroutine per dependency.
type Monitor struct {
	mu      sync.RWMutex
	watches map[string]*watch
	wg      sync.WaitGroup
	logger  *slog.Logger
}

// NewMonitor creates an empty Monitor.
func NewMonitor(logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		watches: make(map[string]*watch),
		logger:  logger.With("component", "health"),
	}
}

// Watch starts watching dep until ctx ends. Names must be unique.
func (m *Monitor) Watch(ctx context.Context, dep Dependency) error {
	if dep.Name == "" || dep.Probe == nil {
		return errors.New("health: dependency needs a name and a probe")
	}
	dep.Schedule.applyDefaults()

	m.mu.Lock()
	if _, ok := m.watches[dep.Name]; ok {
		m.mu.Unlock()
		return fmt.Errorf("health: %s is already watched", dep.Name)
	}
	w := &watch{dep: dep, err: ErrNotChecked}
	m.watches[dep.Name] = w
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.run(ctx, w)
	}()
	return nil
}

// Wait blocks until every watch goroutine has exited.
func (m *Monitor) Wait() {
	m.wg.Wait()
}

// Check returns a function reporting the cached state of name, shaped
// for the API server's health endpoint.
func (m *Monitor) Check(name string) func(context.Context) error {
	return func(context.Context) error {
		m.mu.RLock()
		w, ok := m.watches[name]
		m.mu.RUnlock()
		if !ok {
			return fmt.Errorf("%s is not watched", name)
		}
		w.mu.Lock()
		defer w.mu.Unlock()
		return w.err
	}
}

// Statuses returns every dependency's state, sorted by name.
func (m *Monitor) Statuses() []Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Status, 0, len(m.watches))
	for _, w := range m.watches {
		w.mu.Lock()
		s := Status{Name: w.dep.Name, Healthy: w.err == nil, Checked: w.checked}
		if w.err != nil {
			s.LastError = w.err.Error()
		}
		w.mu.Unlock()
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (m *Monitor) run(ctx context.Context, w *watch) {
	sched := w.dep.Schedule
	retry := sched.RetryDelay
	log := m.logger.With("dependency", w.dep.Name)

	for {
		err := m.probe(ctx, w)
		if ctx.Err() != nil {
			return
		}

		next := sched.PollInterval
		switch recovered := w.record(err); {
		case err != nil:
			log.Warn("dependency unreachable", "error", err, "retry_in", retry)
			next = retry
			retry = min(retry*2, sched.MaxRetryDelay)
		case recovered:
			log.Info("dependency recovered")
			retry = sched.RetryDelay
			if w.dep.OnRecover != nil {
				w.dep.OnRecover(ctx)
			}
		}

		timer := time.NewTimer(next)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (m *Monitor) probe(ctx context.Context, w *watch) error {
	probeCtx, cancel := context.WithTimeout(ctx, w.dep.Schedule.Timeout)
	defer cancel()
	return w.dep.Probe(probeCtx)
}

// record stores a probe result and reports whether it ends a failure.
func (w *watch) record(err error) (recovered bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.err = err
	w.checked = time.Now()
	if err != nil {
		w.failing = true
		return false
	}
	recovered = w.failing
	w.failing = false
	return recovered
}
