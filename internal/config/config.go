// Package config loads daemon configuration from defaults, an optional YAML
// file and HOURGLASS_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/eliteGoblin/focusd/hourglass/internal/infra"
	"github.com/eliteGoblin/focusd/hourglass/internal/server"
)

// DefaultNotifierCommand shows a two-button dialog. zenity exits 1 when the
// second button is pressed, which maps to "keep ignoring limits".
const DefaultNotifierCommand = `zenity --question --title {{.Title}} --text {{.Message}} --ok-label OK --cancel-label "Ignore limits"`

// Config is the complete daemon configuration.
type Config struct {
	ComputerID  string            `yaml:"computer_id"`
	DataDir     string            `yaml:"data_dir"`
	Store       StoreConfig       `yaml:"store"`
	Monitor     MonitorConfig     `yaml:"monitor"`
	Control     ControlConfig     `yaml:"control"`
	Notifier    NotifierConfig    `yaml:"notifier"`
	Enforcement EnforcementConfig `yaml:"enforcement"`
	Log         LogConfig         `yaml:"log"`
}

// StoreConfig selects the limit database.
type StoreConfig struct {
	Driver string `yaml:"driver"` // sqlcipher or sqlite
	Path   string `yaml:"path"`   // Defaults to <data_dir>/limits.db
}

// MonitorConfig controls the monitoring loop cadence.
type MonitorConfig struct {
	TickInterval      time.Duration `yaml:"tick_interval"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
}

// ControlConfig configures the browser extension control channel.
type ControlConfig struct {
	ListenAddr      string        `yaml:"listen_addr"`
	Path            string        `yaml:"path"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	MaxMessageBytes int64         `yaml:"max_message_bytes"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
}

// NotifierConfig selects how warnings reach the user.
type NotifierConfig struct {
	Kind           string `yaml:"kind"` // desktop, command or log
	Command        string `yaml:"command"`
	IgnoreExitCode int    `yaml:"ignore_exit_code"`
}

// EnforcementConfig controls kill behaviour.
type EnforcementConfig struct {
	Terminate bool `yaml:"terminate"` // false observes usage without killing processes
}

// LogConfig mirrors infra.LogConfig with file defaults resolved later.
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	Stderr     bool   `yaml:"stderr"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	mode := infra.DetectExecMode()
	return &Config{
		ComputerID: infra.DefaultComputerID(),
		DataDir:    mode.DataDir,
		Store: StoreConfig{
			Driver: infra.DriverSQLCipher,
		},
		Monitor: MonitorConfig{
			TickInterval:      time.Second,
			HeartbeatInterval: 30 * time.Second,
		},
		Control: ControlConfig{
			ListenAddr:      "127.0.0.1:5095",
			Path:            server.DefaultPath,
			AllowedOrigins:  append([]string(nil), server.DefaultAllowedOrigins...),
			MaxMessageBytes: 1 << 20,
			WriteTimeout:    5 * time.Second,
		},
		Notifier: NotifierConfig{
			Kind:           infra.NotifierDesktop,
			Command:        DefaultNotifierCommand,
			IgnoreExitCode: 1,
		},
		Enforcement: EnforcementConfig{
			Terminate: true,
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// DefaultPath returns the config file location for the current execution mode.
func DefaultPath() string {
	return infra.DetectExecMode().ConfigPath
}

// Load builds the configuration. A missing file at path is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		}
	}

	applyEnv(cfg)
	cfg.resolvePaths()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.ComputerID = getEnv("HOURGLASS_COMPUTER_ID", cfg.ComputerID)
	cfg.DataDir = getEnv("HOURGLASS_DATA_DIR", cfg.DataDir)
	cfg.Store.Driver = getEnv("HOURGLASS_STORE_DRIVER", cfg.Store.Driver)
	cfg.Store.Path = getEnv("HOURGLASS_STORE_PATH", cfg.Store.Path)
	cfg.Monitor.TickInterval = getEnvDuration("HOURGLASS_TICK_INTERVAL", cfg.Monitor.TickInterval)
	cfg.Control.ListenAddr = getEnv("HOURGLASS_LISTEN_ADDR", cfg.Control.ListenAddr)
	if origins, ok := os.LookupEnv("HOURGLASS_ALLOWED_ORIGINS"); ok {
		cfg.Control.AllowedOrigins = splitList(origins)
	}
	cfg.Notifier.Kind = getEnv("HOURGLASS_NOTIFIER", cfg.Notifier.Kind)
	cfg.Notifier.Command = getEnv("HOURGLASS_NOTIFIER_COMMAND", cfg.Notifier.Command)
	cfg.Notifier.IgnoreExitCode = getEnvInt("HOURGLASS_NOTIFIER_IGNORE_EXIT_CODE", cfg.Notifier.IgnoreExitCode)
	cfg.Enforcement.Terminate = getEnvBool("HOURGLASS_TERMINATE", cfg.Enforcement.Terminate)
	cfg.Log.Level = getEnv("HOURGLASS_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.File = getEnv("HOURGLASS_LOG_FILE", cfg.Log.File)
	cfg.Log.Stderr = getEnvBool("HOURGLASS_LOG_STDERR", cfg.Log.Stderr)
}

func (c *Config) resolvePaths() {
	if c.Store.Path == "" && c.DataDir != "" {
		c.Store.Path = filepath.Join(c.DataDir, infra.LimitsDBName)
	}
	if c.Log.File == "" && c.DataDir != "" {
		c.Log.File = filepath.Join(c.DataDir, "hourglass.log")
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var err error
	if strings.TrimSpace(c.ComputerID) == "" {
		err = multierr.Append(err, errors.New("computer_id must not be empty"))
	}
	if c.DataDir == "" {
		err = multierr.Append(err, errors.New("data_dir must not be empty"))
	}
	switch c.Store.Driver {
	case infra.DriverSQLCipher, infra.DriverSQLite:
	default:
		err = multierr.Append(err, fmt.Errorf("unknown store driver %q", c.Store.Driver))
	}
	if c.Monitor.TickInterval <= 0 {
		err = multierr.Append(err, errors.New("monitor.tick_interval must be positive"))
	}
	if c.Monitor.HeartbeatInterval <= 0 {
		err = multierr.Append(err, errors.New("monitor.heartbeat_interval must be positive"))
	}
	if c.Control.ListenAddr == "" {
		err = multierr.Append(err, errors.New("control.listen_addr must not be empty"))
	}
	if !strings.HasPrefix(c.Control.Path, "/") {
		err = multierr.Append(err, fmt.Errorf("control.path %q must start with /", c.Control.Path))
	}
	if c.Control.MaxMessageBytes <= 0 {
		err = multierr.Append(err, errors.New("control.max_message_bytes must be positive"))
	}
	if c.Control.WriteTimeout <= 0 {
		err = multierr.Append(err, errors.New("control.write_timeout must be positive"))
	}
	switch c.Notifier.Kind {
	case infra.NotifierDesktop, infra.NotifierLog:
	case infra.NotifierCommand:
		if strings.TrimSpace(c.Notifier.Command) == "" {
			err = multierr.Append(err, errors.New("notifier.command is required for the command notifier"))
		}
		if c.Notifier.IgnoreExitCode == 0 {
			err = multierr.Append(err, errors.New("notifier.ignore_exit_code must not be 0"))
		}
	default:
		err = multierr.Append(err, fmt.Errorf("unknown notifier kind %q", c.Notifier.Kind))
	}
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// NotifierOptions converts the notifier section for infra.NewNotifier.
func (c *Config) NotifierOptions() infra.NotifierOptions {
	return infra.NotifierOptions{
		Kind:           c.Notifier.Kind,
		Command:        c.Notifier.Command,
		IgnoreExitCode: c.Notifier.IgnoreExitCode,
	}
}

// LoggerConfig converts the log section for infra.NewLogger.
func (c *Config) LoggerConfig() infra.LogConfig {
	return infra.LogConfig{
		Level:      c.Log.Level,
		File:       c.Log.File,
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
		Stderr:     c.Log.Stderr,
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if valueStr, exists := os.LookupEnv(key); exists {
		if value, err := strconv.Atoi(valueStr); err == nil {
			return value
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if valueStr, exists := os.LookupEnv(key); exists {
		if value, err := strconv.ParseBool(valueStr); err == nil {
			return value
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if valueStr, exists := os.LookupEnv(key); exists {
		if value, err := time.ParseDuration(valueStr); err == nil {
			return value
		}
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
