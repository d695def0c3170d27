// Package config handles assist configuration loading.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Operating modes. The mode is fixed for the life of the process; every
// conversation is served by the same mode.
const (
	ModeMultiAgent = "multi_agent"
	ModeClassic    = "classic"
)

// Memory backends.
const (
	MemorySQLite = "sqlite"
	MemoryRedis  = "redis"
	MemoryInProc = "memory"
)

// Calendar backends.
const (
	CalendarHomeAssistant = "homeassistant"
	CalendarCalDAV        = "caldav"
	CalendarNone          = "none"
)

// DefaultSearchPaths returns the config file search order used when no
// explicit path is given.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "assist", "config.yaml"))
	}
	return append(paths, "/etc/assist/config.yaml")
}

// FindConfig locates a config file. An explicit path must exist;
// otherwise the first existing entry of DefaultSearchPaths wins.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}
	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all assist configuration.
type Config struct {
	Listen        ListenConfig        `yaml:"listen"`
	Mode          string              `yaml:"mode"`
	LLM           LLMConfig           `yaml:"llm"`
	HomeAssistant HomeAssistantConfig `yaml:"homeassistant"`
	Pipeline      PipelineConfig      `yaml:"pipeline"`
	Memory        MemoryConfig        `yaml:"memory"`
	Calendar      CalendarConfig      `yaml:"calendar"`
	MQTT          MQTTConfig          `yaml:"mqtt"`
	Metrics       MetricsConfig       `yaml:"metrics"`
	DataDir       string              `yaml:"data_dir"`
	LogLevel      string              `yaml:"log_level"`
	LogFormat     string              `yaml:"log_format"` // text or json

	// PlainSpeech strips markdown from replies before they are spoken.
	PlainSpeech bool `yaml:"plain_speech"`
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // empty = all interfaces
	Port    int    `yaml:"port"`
}

// LLMConfig describes the OpenAI-compatible backend (normally a
// llama.cpp server) and the per-stage overrides of the pipeline.
type LLMConfig struct {
	URL                string  `yaml:"url"`
	APIKey             string  `yaml:"api_key"`
	Model              string  `yaml:"model"`
	Temperature        float64 `yaml:"temperature"`
	MaxTokens          int     `yaml:"max_tokens"`
	TimeoutSec         int     `yaml:"timeout_sec"`
	SystemPromptPrefix string  `yaml:"system_prompt_prefix"`

	// MaxIterations caps the classic tool loop.
	MaxIterations int `yaml:"max_iterations"`

	Planner    StageConfig `yaml:"planner"`
	Selector   StageConfig `yaml:"selector"`
	Summariser StageConfig `yaml:"summariser"`
}

// StageConfig overrides backend settings for one pipeline stage. An
// empty URL reuses the main backend.
type StageConfig struct {
	URL         string  `yaml:"url"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// Timeout returns the per-call LLM timeout.
func (c LLMConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

// StageURL returns the backend URL for a stage.
func (c LLMConfig) StageURL(s StageConfig) string {
	if s.URL != "" {
		return s.URL
	}
	return c.URL
}

// HomeAssistantConfig defines HA connection settings.
type HomeAssistantConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`

	// Expose limits the entities the assistant sees and controls.
	// Entries are globs ("light.*", "switch.kitchen_*") or bare
	// domains. Empty exposes everything.
	Expose []string `yaml:"expose"`
}

// Configured reports whether Home Assistant connection details are present.
func (c HomeAssistantConfig) Configured() bool {
	return c.URL != "" && c.Token != ""
}

// PipelineConfig tunes the multi-agent pipeline.
type PipelineConfig struct {
	// Locale selects the conjunctions used when splitting compound
	// requests, in addition to English and German.
	Locale string `yaml:"locale"`

	// MatchThreshold is the score a single entity must reach to be
	// selected without asking the LLM.
	MatchThreshold float64 `yaml:"match_threshold"`

	// ExecutorConcurrency caps simultaneous external calls per turn.
	ExecutorConcurrency int `yaml:"executor_concurrency"`

	// HistoryTurns is how many previous turns the planner sees.
	HistoryTurns int `yaml:"history_turns"`
}

// MemoryConfig selects the persistent memory backend.
type MemoryConfig struct {
	Backend string      `yaml:"backend"`
	Path    string      `yaml:"path"` // sqlite database file; defaults under data_dir
	Redis   RedisConfig `yaml:"redis"`
}

// RedisConfig holds Redis connection settings for the redis memory backend.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// CalendarConfig selects the calendar collaborator.
type CalendarConfig struct {
	Backend string       `yaml:"backend"`
	CalDAV  CalDAVConfig `yaml:"caldav"`
}

// CalDAVConfig holds CalDAV server credentials.
type CalDAVConfig struct {
	URL                string `yaml:"url"`
	Username           string `yaml:"username"`
	Password           string `yaml:"password"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
}

// MQTTConfig defines the optional MQTT status publisher.
type MQTTConfig struct {
	Broker             string `yaml:"broker"` // mqtt://host:1883 or mqtts://host:8883
	Username           string `yaml:"username"`
	Password           string `yaml:"password"`
	DeviceName         string `yaml:"device_name"`
	DiscoveryPrefix    string `yaml:"discovery_prefix"`
	PublishIntervalSec int    `yaml:"publish_interval_sec"`
}

// Configured reports whether an MQTT broker is set.
func (c MQTTConfig) Configured() bool {
	return c.Broker != ""
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Load reads configuration from a YAML file. Environment variables in
// the file are expanded before parsing, and unset fields take the
// values of Default.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Listen: ListenConfig{Port: 8080},
		Mode:   ModeMultiAgent,
		LLM: LLMConfig{
			URL:           "http://localhost:8080",
			Model:         "llama.cpp",
			Temperature:   0.7,
			MaxTokens:     512,
			TimeoutSec:    30,
			MaxIterations: 5,
			Planner:       StageConfig{Temperature: 0.1, MaxTokens: 500},
			Selector:      StageConfig{Temperature: 0.1, MaxTokens: 300},
			Summariser:    StageConfig{Temperature: 0.1, MaxTokens: 150},
		},
		Pipeline: PipelineConfig{
			Locale:              "en",
			MatchThreshold:      0.8,
			ExecutorConcurrency: 4,
			HistoryTurns:        3,
		},
		Memory:   MemoryConfig{Backend: MemorySQLite},
		Calendar: CalendarConfig{Backend: CalendarHomeAssistant},
		MQTT: MQTTConfig{
			DeviceName:         "assist",
			DiscoveryPrefix:    "homeassistant",
			PublishIntervalSec: 60,
		},
		DataDir:     "./db",
		LogFormat:   "text",
		PlainSpeech: true,
	}
}

// applyDefaults fills values that depend on other fields.
func (c *Config) applyDefaults() {
	c.LLM.URL = strings.TrimRight(c.LLM.URL, "/")
	c.HomeAssistant.URL = strings.TrimRight(c.HomeAssistant.URL, "/")
	if c.Memory.Path == "" {
		c.Memory.Path = filepath.Join(c.DataDir, "memory.db")
	}
	if c.Memory.Redis.KeyPrefix == "" {
		c.Memory.Redis.KeyPrefix = "assist:memory:"
	}
}

// Validate checks the configuration for values the rest of the program
// cannot work with. All problems are reported together.
func (c *Config) Validate() error {
	var errs []error

	switch c.Mode {
	case ModeMultiAgent, ModeClassic:
	default:
		errs = append(errs, fmt.Errorf("mode %q is not one of %s, %s", c.Mode, ModeMultiAgent, ModeClassic))
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("log_format %q must be text or json", c.LogFormat))
	}

	if c.LLM.URL == "" {
		errs = append(errs, errors.New("llm.url is required"))
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errs = append(errs, fmt.Errorf("llm.temperature %.2f out of range [0, 2]", c.LLM.Temperature))
	}
	if c.LLM.MaxTokens <= 0 {
		errs = append(errs, fmt.Errorf("llm.max_tokens must be positive, got %d", c.LLM.MaxTokens))
	}
	if c.LLM.TimeoutSec <= 0 {
		errs = append(errs, fmt.Errorf("llm.timeout_sec must be positive, got %d", c.LLM.TimeoutSec))
	}
	if c.LLM.MaxIterations <= 0 {
		errs = append(errs, fmt.Errorf("llm.max_iterations must be positive, got %d", c.LLM.MaxIterations))
	}

	if c.Pipeline.MatchThreshold <= 0 || c.Pipeline.MatchThreshold > 1 {
		errs = append(errs, fmt.Errorf("pipeline.match_threshold %.2f out of range (0, 1]", c.Pipeline.MatchThreshold))
	}
	if c.Pipeline.ExecutorConcurrency < 1 {
		errs = append(errs, fmt.Errorf("pipeline.executor_concurrency must be at least 1, got %d", c.Pipeline.ExecutorConcurrency))
	}

	switch c.Memory.Backend {
	case MemorySQLite, MemoryInProc:
	case MemoryRedis:
		if c.Memory.Redis.Addr == "" {
			errs = append(errs, errors.New("memory.redis.addr is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("memory.backend %q is not one of sqlite, redis, memory", c.Memory.Backend))
	}

	switch c.Calendar.Backend {
	case CalendarHomeAssistant, CalendarNone:
	case CalendarCalDAV:
		if c.Calendar.CalDAV.URL == "" {
			errs = append(errs, errors.New("calendar.caldav.url is required for the caldav backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("calendar.backend %q is not one of homeassistant, caldav, none", c.Calendar.Backend))
	}

	if c.MQTT.Configured() {
		if c.MQTT.DeviceName == "" {
			errs = append(errs, errors.New("mqtt.device_name is required when mqtt.broker is set"))
		}
		if c.MQTT.PublishIntervalSec < 10 {
			errs = append(errs, fmt.Errorf("mqtt.publish_interval_sec must be at least 10, got %d", c.MQTT.PublishIntervalSec))
		}
	}

	return errors.Join(errs...)
}
