// Assist is a Home Assistant voice assistant backed by a local LLM.
//
// In multi_agent mode each utterance is planned, resolved against the
// house, executed and summarised; classic mode offers the tools to the
// model directly. Configuration is loaded from a single YAML file
// discovered automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	assist serve              Start the API server (and MQTT, if configured)
//	assist ask <utterance>    Run one turn and print the reply
//	assist tools              List the tools available with this config
//	assist init [dir]         Write a starter config.yaml
//	assist version            Print version and build information
//	assist -o json version    Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nugget/assist/internal/api"
	"github.com/nugget/assist/internal/buildinfo"
	"github.com/nugget/assist/internal/config"
	"github.com/nugget/assist/internal/health"
	"github.com/nugget/assist/internal/metrics"
	"github.com/nugget/assist/internal/mqtt"
)

// main only builds the OS environment and hands over to [run], which
// keeps the whole lifecycle drivable from tests.
func main() {
	if err := run(context.Background(), os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point. Logs go to stdout, command output to
// stdout, and the caller prints the returned error.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	// Parsed by hand: the flag package's globals get in the way of
	// calling run from parallel tests.
	var configPath string
	var outputFmt string
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command == "" {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
			cmdArgs = append(cmdArgs, args[i])
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "ask":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: assist ask <utterance>")
		}
		return runAsk(ctx, stdout, stderr, configPath, outputFmt, strings.Join(cmdArgs, " "))
	case "tools":
		return runTools(ctx, stdout, stderr, configPath, outputFmt)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "platform"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Assist - Home Assistant voice assistant")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: assist [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve            Start the API server")
	fmt.Fprintln(w, "  ask <utterance>  Run one turn and print the reply")
	fmt.Fprintln(w, "  tools            List available tools")
	fmt.Fprintln(w, "  init [dir]       Write a starter config.yaml (default: .)")
	fmt.Fprintln(w, "  version          Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  "+strings.Join(config.DefaultSearchPaths(), ", "))
	return nil
}

// runAsk runs a single turn without the server. Logs go to stderr so
// the reply is the only thing on stdout.
func runAsk(ctx context.Context, stdout, stderr io.Writer, configPath, outputFmt, utterance string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(stderr, configuredLevel(cfg, slog.LevelWarn), cfg.LogFormat)

	a, err := newApp(ctx, cfg, nil, logger)
	if err != nil {
		return err
	}
	defer a.close()

	reply, err := a.conv.Process(ctx, "cli", utterance)
	if reply == nil {
		return fmt.Errorf("ask: %w", err)
	}
	if outputFmt == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(reply)
	}
	fmt.Fprintln(stdout, reply.Text)
	return err
}

// runTools lists the tools the configured collaborators enable.
func runTools(ctx context.Context, stdout, stderr io.Writer, configPath, outputFmt string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(stderr, configuredLevel(cfg, slog.LevelWarn), cfg.LogFormat)

	a, err := newApp(ctx, cfg, nil, logger)
	if err != nil {
		return err
	}
	defer a.close()

	if outputFmt == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(a.tools.Definitions())
	}
	for _, t := range a.tools.List() {
		fmt.Fprintf(stdout, "%-22s %s\n", t.Name, t.Description)
	}
	return nil
}

// runServe starts the API server and, when configured, the MQTT
// publisher. It blocks until SIGINT or SIGTERM.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo, "text")
	logger.Info("starting assist", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "branch", buildinfo.GitBranch, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger = newLogger(stdout, configuredLevel(cfg, slog.LevelInfo), cfg.LogFormat)
	logger.Info("config loaded", "path", cfgPath, "mode", cfg.Mode, "port", cfg.Listen.Port)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	a, err := newApp(ctx, cfg, m, logger)
	if err != nil {
		return err
	}
	defer a.close()

	server := api.NewServer(cfg.Listen.Address, cfg.Listen.Port, a.conv, logger)
	server.SetTools(a.tools)
	if m != nil {
		server.SetMetrics(m.Handler())
	}

	monitor := health.NewMonitor(logger)
	if err := monitor.Watch(ctx, health.Dependency{Name: "llm", Probe: a.backend.Ping}); err != nil {
		return err
	}
	server.AddHealthCheck("llm", monitor.Check("llm"))
	if a.ha != nil {
		err := monitor.Watch(ctx, health.Dependency{
			Name:      "home_assistant",
			Probe:     a.ha.Ping,
			OnRecover: a.reconnectHomeAssistant,
		})
		if err != nil {
			return err
		}
		server.AddHealthCheck("home_assistant", monitor.Check("home_assistant"))
		if a.ws.Connected() {
			go func() {
				if err := a.entities.Watch(ctx); err != nil {
					logger.Warn("registry change feed unavailable", "error", err)
				}
			}()
		}
	}

	var mqttPub *mqtt.Publisher
	if cfg.MQTT.Configured() {
		instanceID, err := mqtt.LoadOrCreateInstanceID(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("load mqtt instance id: %w", err)
		}
		mqttPub = mqtt.New(cfg.MQTT, instanceID, &mqttStatus{conv: a.conv, caps: a.caps}, logger)
		mqttPub.SetAsker(a.conv)
		go func() {
			if err := mqttPub.Start(ctx); err != nil {
				logger.Error("mqtt publisher failed", "error", err)
			}
		}()
		logger.Info("mqtt publishing enabled",
			"broker", cfg.MQTT.Broker,
			"device_name", cfg.MQTT.DeviceName,
			"instance_id", instanceID,
		)
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if mqttPub != nil {
			if err := mqttPub.Stop(shutdownCtx); err != nil {
				logger.Error("mqtt shutdown failed", "error", err)
			}
		}
		_ = server.Shutdown(shutdownCtx)
		monitor.Wait()
	}()

	if err := server.Start(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("server failed: %w", err)
	}

	logger.Info("assist stopped")
	return nil
}

// newLogger builds the slog logger every subcommand uses. Any format
// other than "json" is text.
func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// configuredLevel returns the config's log level, or fallback when none
// is set.
func configuredLevel(cfg *config.Config, fallback slog.Level) slog.Level {
	if cfg.LogLevel == "" {
		return fallback
	}
	// Already checked by config.Validate.
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	return level
}

// loadConfig locates and parses the configuration file.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	return cfg, cfgPath, nil
}
