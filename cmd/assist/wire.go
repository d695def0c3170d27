package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/nugget/assist/internal/agent"
	"github.com/nugget/assist/internal/buildinfo"
	"github.com/nugget/assist/internal/calendar"
	"github.com/nugget/assist/internal/config"
	"github.com/nugget/assist/internal/conversation"
	"github.com/nugget/assist/internal/executor"
	"github.com/nugget/assist/internal/homeassistant"
	"github.com/nugget/assist/internal/httpkit"
	"github.com/nugget/assist/internal/llm"
	"github.com/nugget/assist/internal/memory"
	"github.com/nugget/assist/internal/metrics"
	"github.com/nugget/assist/internal/mqtt"
	"github.com/nugget/assist/internal/pipeline"
	"github.com/nugget/assist/internal/planner"
	"github.com/nugget/assist/internal/resolver"
	"github.com/nugget/assist/internal/selector"
	"github.com/nugget/assist/internal/summariser"
	"github.com/nugget/assist/internal/tools"
)

// app is the assembled assistant shared by serve and ask.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	// caps is the capability record of the main backend.
	caps     *llm.Capabilities
	backend  *llm.OpenAIClient
	ha       *homeassistant.Client
	ws       *homeassistant.WSClient
	entities *homeassistant.Registry
	tools    *tools.Registry
	conv     *conversation.Agent

	closers []func() error
}

// newApp wires every component the configured mode needs. m may be nil.
func newApp(ctx context.Context, cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger, metrics: m, caps: llm.NewCapabilities()}

	mode, err := conversation.ParseMode(cfg.Mode)
	if err != nil {
		return nil, err
	}

	store, err := a.openMemory(ctx)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, store.Close)

	deps := tools.Deps{Memory: store, Location: time.Local}

	if cfg.HomeAssistant.Configured() {
		a.ha = homeassistant.NewClient(cfg.HomeAssistant.URL, cfg.HomeAssistant.Token, logger)
		// The adapters fall back to REST while the WebSocket is down.
		a.ws = homeassistant.NewWSClient(cfg.HomeAssistant.URL, cfg.HomeAssistant.Token, logger)
		if err := a.ws.Connect(ctx); err != nil {
			logger.Warn("Home Assistant WebSocket unavailable, using REST only", "error", err)
		}
		a.closers = append(a.closers, a.ws.Close)
		filter := homeassistant.NewEntityFilter(cfg.HomeAssistant.Expose, logger)
		a.entities = homeassistant.NewRegistry(a.ha, a.ws, filter, 0, logger)
		deps.HomeAssistant = a.entities
		deps.Shopping = homeassistant.NewShoppingList(a.ha, a.ws, logger)
		logger.Info("Home Assistant configured", "url", cfg.HomeAssistant.URL, "websocket", a.ws.Connected())
	} else {
		logger.Warn("Home Assistant not configured, device tools disabled")
	}

	cals, err := a.openCalendar()
	if err != nil {
		return nil, err
	}
	if cals != nil {
		deps.Calendar = cals
	}

	a.tools = tools.NewRegistry(deps, logger)
	a.backend = a.newClient("classic", cfg.LLM.URL)

	var (
		pl conversation.Pipeline
		cl conversation.Classic
	)
	switch mode {
	case conversation.ModeMultiAgent:
		if a.entities == nil {
			return nil, errors.New("multi_agent mode needs homeassistant.url and homeassistant.token")
		}
		p := a.newPipeline(a.entities, cals)
		if m != nil {
			p.SetObserver(m)
		}
		pl = p
	case conversation.ModeClassic:
		loopDeps := agent.Deps{
			Client:       a.backend,
			Capabilities: a.caps,
			Tools:        a.tools,
			Memory:       store,
		}
		if a.entities != nil {
			loopDeps.Entities = a.entities
		}
		cl = agent.New(loopDeps, agent.Config{
			MaxIterations:      cfg.LLM.MaxIterations,
			Temperature:        cfg.LLM.Temperature,
			MaxTokens:          cfg.LLM.MaxTokens,
			SystemPromptPrefix: cfg.LLM.SystemPromptPrefix,
		}, logger)
	}

	conv, err := conversation.New(conversation.Config{
		Mode:         mode,
		HistoryTurns: cfg.Pipeline.HistoryTurns,
		PlainText:    cfg.PlainSpeech,
	}, pl, cl, logger)
	if err != nil {
		return nil, err
	}
	if m != nil {
		conv.SetObserver(m)
	}
	a.conv = conv

	logger.Info("assistant ready", "mode", mode, "tools", len(a.tools.Names()))
	return a, nil
}

func (a *app) newPipeline(entities resolver.EntityRegistry, cals calendar.Provider) *pipeline.Pipeline {
	cfg := a.cfg
	return pipeline.New(pipeline.Stages{
		Planner: planner.New(a.newClient("planner", cfg.LLM.StageURL(cfg.LLM.Planner)), planner.Config{
			Temperature: cfg.LLM.Planner.Temperature,
			MaxTokens:   cfg.LLM.Planner.MaxTokens,
		}, a.logger),
		Resolver: resolver.New(entities, cals, resolver.Options{
			Locale:    cfg.Pipeline.Locale,
			Threshold: cfg.Pipeline.MatchThreshold,
		}, a.logger),
		Selector: selector.New(a.newClient("selector", cfg.LLM.StageURL(cfg.LLM.Selector)), selector.Config{
			Temperature: cfg.LLM.Selector.Temperature,
			MaxTokens:   cfg.LLM.Selector.MaxTokens,
		}, a.logger),
		Executor: executor.New(a.tools, executor.Config{
			Concurrency: cfg.Pipeline.ExecutorConcurrency,
		}, a.logger),
		Summariser: summariser.New(a.newClient("summariser", cfg.LLM.StageURL(cfg.LLM.Summariser)), summariser.Config{
			Temperature: cfg.LLM.Summariser.Temperature,
			MaxTokens:   cfg.LLM.Summariser.MaxTokens,
		}, a.logger),
	}, a.logger)
}

// newClient builds a backend client for one stage. Stages on the main
// backend share its capability record; a stage with its own URL gets
// its own.
func (a *app) newClient(stage, url string) *llm.OpenAIClient {
	caps := a.caps
	if url != a.cfg.LLM.URL {
		caps = llm.NewCapabilities()
	}
	c := llm.NewOpenAIClient(llm.OpenAIConfig{
		URL:     url,
		APIKey:  a.cfg.LLM.APIKey,
		Model:   a.cfg.LLM.Model,
		Timeout: a.cfg.LLM.Timeout(),
		Stage:   stage,
	}, caps, a.logger)
	if a.metrics != nil {
		c.SetObserver(a.metrics)
	}
	return c
}

func (a *app) openMemory(ctx context.Context) (memory.Store, error) {
	mc := a.cfg.Memory
	switch mc.Backend {
	case config.MemoryRedis:
		store, err := memory.NewRedisStore(ctx, memory.RedisOptions{
			Addr:      mc.Redis.Addr,
			Password:  mc.Redis.Password,
			DB:        mc.Redis.DB,
			KeyPrefix: mc.Redis.KeyPrefix,
		})
		if err != nil {
			return nil, fmt.Errorf("open redis memory: %w", err)
		}
		a.logger.Info("memory backend ready", "backend", "redis", "addr", mc.Redis.Addr)
		return store, nil
	case config.MemoryInProc:
		a.logger.Info("memory backend ready", "backend", "memory")
		return memory.NewInProcStore(), nil
	default:
		if err := os.MkdirAll(filepath.Dir(mc.Path), 0o755); err != nil {
			return nil, fmt.Errorf("create memory directory: %w", err)
		}
		store, err := memory.NewSQLiteStore(mc.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite memory: %w", err)
		}
		a.logger.Info("memory backend ready", "backend", "sqlite", "path", mc.Path)
		return store, nil
	}
}

// openCalendar returns nil when no calendar is configured.
func (a *app) openCalendar() (calendar.Provider, error) {
	cc := a.cfg.Calendar
	switch cc.Backend {
	case config.CalendarCalDAV:
		opts := []httpkit.ClientOption{
			httpkit.WithTimeout(30 * time.Second),
			httpkit.WithUserAgent(buildinfo.UserAgent()),
			httpkit.WithLogger(a.logger),
		}
		if cc.CalDAV.InsecureSkipVerify {
			opts = append(opts, httpkit.WithTLSInsecureSkipVerify())
		}
		cal, err := calendar.NewCalDAV(calendar.CalDAVConfig{
			URL:      cc.CalDAV.URL,
			Username: cc.CalDAV.Username,
			Password: cc.CalDAV.Password,
		}, httpkit.NewClient(opts...), a.logger)
		if err != nil {
			return nil, fmt.Errorf("caldav calendar: %w", err)
		}
		return cal, nil
	case config.CalendarHomeAssistant:
		if a.ha == nil {
			return nil, nil
		}
		return homeassistant.NewCalendars(a.ha, time.Local), nil
	default:
		return nil, nil
	}
}

// reconnectHomeAssistant restores the WebSocket after Home Assistant
// comes back and drops cached area data, which may be stale.
func (a *app) reconnectHomeAssistant(ctx context.Context) {
	a.entities.Invalidate()
	if a.ws.Connected() {
		return
	}
	if err := a.ws.Connect(ctx); err != nil {
		a.logger.Warn("Home Assistant WebSocket reconnect failed", "error", err)
	}
}

// close releases resources in reverse order of acquisition.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", "error", err)
		}
	}
}

// mqttStatus bridges the conversation agent and the backend capability
// record to the MQTT publisher's [mqtt.StatsSource].
type mqttStatus struct {
	conv *conversation.Agent
	caps *llm.Capabilities
}

func (s *mqttStatus) Status() mqtt.Status {
	st := s.conv.Stats()
	return mqtt.Status{
		Mode:           string(s.conv.Mode()),
		ToolsSupported: s.caps.Tools().String(),
		Turns:          st.Turns,
		LastTurn:       st.LastTurn,
		LastOutcome:    st.LastOutcome,
	}
}
