package cli

// ============================================================================
// Configuration loading
//
// Precedence (lowest first):
//   1. DefaultConfig()
//   2. YAML config file (missing file is not an error)
//   3. .env file next to the working directory (optional)
//   4. JOBWATCH_* environment variables
// ============================================================================

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/ChuLiYu/jobwatch/internal/bootstrap"
	"github.com/ChuLiYu/jobwatch/internal/controller"
	"github.com/ChuLiYu/jobwatch/internal/filestore"
	"github.com/ChuLiYu/jobwatch/internal/server"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "JOBWATCH_"

// Config represents the complete configuration structure
// Maps config file fields through YAML tags
type Config struct {
	Server struct {
		Addr             string        `yaml:"addr"`
		GRPCPort         int           `yaml:"grpc_port"`
		WorkspaceDir     string        `yaml:"workspace_dir"`
		ConsoleMaxLines  int           `yaml:"console_max_lines"`
		StartupStepDelay time.Duration `yaml:"startup_step_delay"`
		NetworkCheckAddr string        `yaml:"network_check_addr"`
		BackendAddr      string        `yaml:"backend_addr"`
		HistoryPath      string        `yaml:"history_path"`
		HistoryMaxEvents int           `yaml:"history_max_events"`
	} `yaml:"server"`

	Compiler struct {
		Command           string        `yaml:"command"`
		ExecutionTimeout  time.Duration `yaml:"execution_timeout"`
		InactivityTimeout time.Duration `yaml:"inactivity_timeout"`
		Workers           int           `yaml:"workers"`
	} `yaml:"compiler"`

	Storage filestore.Config `yaml:"storage"`

	Client struct {
		BaseURL             string        `yaml:"base_url"`
		PollInterval        time.Duration `yaml:"poll_interval"`
		MaxPollDuration     time.Duration `yaml:"max_poll_duration"`
		PollOnSubmitFailure bool          `yaml:"poll_on_submit_failure"`
		RequestTimeout      time.Duration `yaml:"request_timeout"`
	} `yaml:"client"`

	Loader struct {
		PollDelay     time.Duration `yaml:"poll_delay"`
		RetryDelay    time.Duration `yaml:"retry_delay"`
		RedirectDelay time.Duration `yaml:"redirect_delay"`
	} `yaml:"loader"`

	Metrics struct {
		Enabled bool `yaml:"enabled"`
		Port    int  `yaml:"port"`
	} `yaml:"metrics"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	var cfg Config

	srv := server.DefaultConfig()
	cfg.Server.Addr = ":5000"
	cfg.Server.GRPCPort = 50051
	cfg.Server.WorkspaceDir = srv.WorkspaceDir
	cfg.Server.ConsoleMaxLines = srv.ConsoleMaxLines
	cfg.Server.StartupStepDelay = srv.StartupStepDelay
	cfg.Server.HistoryPath = "data/history.log"
	cfg.Server.HistoryMaxEvents = srv.HistoryMaxEvents

	cfg.Compiler.Command = "python3 -u -"
	cfg.Compiler.ExecutionTimeout = 30 * time.Second
	cfg.Compiler.InactivityTimeout = 10 * time.Second
	cfg.Compiler.Workers = srv.Workers

	cfg.Storage = filestore.Config{Driver: filestore.DriverFS, Dir: srv.WorkspaceDir, SQLitePath: "data/jobwatch.db"}

	ctrl := controller.DefaultConfig()
	cfg.Client.BaseURL = "http://localhost:5000"
	cfg.Client.PollInterval = ctrl.PollInterval
	cfg.Client.MaxPollDuration = ctrl.MaxPollDuration
	cfg.Client.PollOnSubmitFailure = ctrl.PollOnSubmitFailure
	cfg.Client.RequestTimeout = 10 * time.Second

	ld := bootstrap.DefaultConfig()
	cfg.Loader.PollDelay = ld.PollDelay
	cfg.Loader.RetryDelay = ld.RetryDelay
	cfg.Loader.RedirectDelay = ld.RedirectDelay

	cfg.Metrics.Enabled = false
	cfg.Metrics.Port = 9090

	cfg.Log.Level = "info"
	cfg.Log.Format = "text"
	return &cfg
}

// loadConfig reads path over the defaults, then applies .env and
// JOBWATCH_* overrides.
func loadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
		// defaults only
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides fields from JOBWATCH_* variables
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"ADDR":               &c.Server.Addr,
		"WORKSPACE_DIR":      &c.Server.WorkspaceDir,
		"NETWORK_CHECK_ADDR": &c.Server.NetworkCheckAddr,
		"BACKEND_ADDR":       &c.Server.BackendAddr,
		"HISTORY_PATH":       &c.Server.HistoryPath,
		"COMPILER_COMMAND":   &c.Compiler.Command,
		"STORAGE_DRIVER":     &c.Storage.Driver,
		"STORAGE_DIR":        &c.Storage.Dir,
		"SQLITE_PATH":        &c.Storage.SQLitePath,
		"BASE_URL":           &c.Client.BaseURL,
		"LOG_LEVEL":          &c.Log.Level,
		"LOG_FORMAT":         &c.Log.Format,
	}
	for key, dst := range strs {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = v
		}
	}

	ints := map[string]*int{
		"GRPC_PORT":          &c.Server.GRPCPort,
		"CONSOLE_MAX_LINES":  &c.Server.ConsoleMaxLines,
		"WORKERS":            &c.Compiler.Workers,
		"METRICS_PORT":       &c.Metrics.Port,
		"HISTORY_MAX_EVENTS": &c.Server.HistoryMaxEvents,
	}
	for key, dst := range ints {
		if v, ok := lookup(EnvPrefix + key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid %s%s: %w", EnvPrefix, key, err)
			}
			*dst = n
		}
	}

	durations := map[string]*time.Duration{
		"STARTUP_STEP_DELAY": &c.Server.StartupStepDelay,
		"EXECUTION_TIMEOUT":  &c.Compiler.ExecutionTimeout,
		"INACTIVITY_TIMEOUT": &c.Compiler.InactivityTimeout,
		"POLL_INTERVAL":      &c.Client.PollInterval,
		"MAX_POLL_DURATION":  &c.Client.MaxPollDuration,
		"REQUEST_TIMEOUT":    &c.Client.RequestTimeout,
	}
	for key, dst := range durations {
		if v, ok := lookup(EnvPrefix + key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("invalid %s%s: %w", EnvPrefix, key, err)
			}
			*dst = d
		}
	}

	bools := map[string]*bool{
		"METRICS_ENABLED":        &c.Metrics.Enabled,
		"POLL_ON_SUBMIT_FAILURE": &c.Client.PollOnSubmitFailure,
	}
	for key, dst := range bools {
		if v, ok := lookup(EnvPrefix + key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid %s%s: %w", EnvPrefix, key, err)
			}
			*dst = b
		}
	}
	return nil
}

// controllerConfig maps the client section.
func (c *Config) controllerConfig() controller.Config {
	return controller.Config{
		PollInterval:        c.Client.PollInterval,
		MaxPollDuration:     c.Client.MaxPollDuration,
		PollOnSubmitFailure: c.Client.PollOnSubmitFailure,
	}
}

// loaderConfig maps the loader section.
func (c *Config) loaderConfig() bootstrap.Config {
	return bootstrap.Config{
		PollDelay:     c.Loader.PollDelay,
		RetryDelay:    c.Loader.RetryDelay,
		RedirectDelay: c.Loader.RedirectDelay,
	}
}

// serverConfig maps the server and compiler sections.
func (c *Config) serverConfig() server.Config {
	cfg := server.DefaultConfig()
	cfg.WorkspaceDir = c.Server.WorkspaceDir
	cfg.ConsoleMaxLines = c.Server.ConsoleMaxLines
	cfg.Workers = c.Compiler.Workers
	cfg.StartupStepDelay = c.Server.StartupStepDelay
	cfg.NetworkCheckAddr = c.Server.NetworkCheckAddr
	cfg.BackendAddr = c.Server.BackendAddr
	cfg.HistoryPath = c.Server.HistoryPath
	cfg.HistoryMaxEvents = c.Server.HistoryMaxEvents
	if c.Compiler.ExecutionTimeout > 0 {
		// leave headroom for the compiler's own timeout to report first
		cfg.CompileTimeout = c.Compiler.ExecutionTimeout + 5*time.Second
	}
	return cfg
}

// setupLogging installs the default slog handler.
func setupLogging(w io.Writer, level, format string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(lvl)
	return logger
}
