// Package config loads dropprint settings from a TOML file, environment
// variables and built-in defaults, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const appName = "dropprint"

// Backend kinds.
const (
	BackendWebSocket = "websocket"
	BackendRaw       = "raw"
	BackendCommand   = "command"
)

// Config holds application configuration.
type Config struct {
	WatchDir       string        `toml:"watch_dir"`
	Extension      string        `toml:"extension"`
	Encoding       string        `toml:"encoding"`
	Workers        int           `toml:"workers"`
	QueueSize      int           `toml:"queue_size"`
	SettleInterval time.Duration `toml:"settle_interval"`
	SettleTimeout  time.Duration `toml:"settle_timeout"`
	MaxFileBytes   int64         `toml:"max_file_bytes"`
	DBPath         string        `toml:"db_path"`
	StateDir       string        `toml:"state_dir"`

	Backend BackendConfig `toml:"backend"`
	Notify  NotifyConfig  `toml:"notify"`
	API     APIConfig     `toml:"api"`
	Logging LoggingConfig `toml:"logging"`
}

type BackendConfig struct {
	Kind           string        `toml:"kind"`
	URL            string        `toml:"url"`
	Address        string        `toml:"address"`
	Command        string        `toml:"command"`
	Args           []string      `toml:"args"`
	ConnectTimeout time.Duration `toml:"connect_timeout"`
	ResultTimeout  time.Duration `toml:"result_timeout"`
}

type NotifyConfig struct {
	Desktop bool `toml:"desktop"`
	Log     bool `toml:"log"`
}

// APIConfig configures the local status API. An empty Listen disables it.
type APIConfig struct {
	Listen string `toml:"listen"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// DefaultDBPath returns the default database path using XDG_CACHE_HOME.
func DefaultDBPath() string {
	cacheDir := os.Getenv("XDG_CACHE_HOME")
	if cacheDir == "" {
		home, _ := os.UserHomeDir()
		cacheDir = filepath.Join(home, ".cache")
	}
	return filepath.Join(cacheDir, appName, "jobs.db")
}

// DefaultStateDir returns the directory holding the instance lock, using
// XDG_STATE_HOME.
func DefaultStateDir() string {
	stateDir := os.Getenv("XDG_STATE_HOME")
	if stateDir == "" {
		home, _ := os.UserHomeDir()
		stateDir = filepath.Join(home, ".local", "state")
	}
	return filepath.Join(stateDir, appName)
}

// DefaultConfigPath returns the config file location using XDG_CONFIG_HOME.
func DefaultConfigPath() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, _ := os.UserHomeDir()
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, appName, "config.toml")
}

// DefaultWatchDir returns the user's download directory.
func DefaultWatchDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, "Downloads")
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		WatchDir:       DefaultWatchDir(),
		Extension:      ".zpl",
		Encoding:       "UTF-8",
		Workers:        4,
		QueueSize:      64,
		SettleInterval: 100 * time.Millisecond,
		SettleTimeout:  2 * time.Second,
		MaxFileBytes:   8 << 20,
		DBPath:         DefaultDBPath(),
		StateDir:       DefaultStateDir(),
		Backend: BackendConfig{
			Kind:           BackendWebSocket,
			URL:            "ws://127.0.0.1:9101/print",
			ConnectTimeout: 5 * time.Second,
			ResultTimeout:  2 * time.Minute,
		},
		Notify: NotifyConfig{
			Desktop: true,
			Log:     true,
		},
		API: APIConfig{
			Listen: "127.0.0.1:8631",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}

// Load builds the configuration. An empty path reads the default config
// file if it exists; an explicit path must exist.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultConfigPath()
	}

	// a missing default file means defaults only
	_, err := toml.DecodeFile(path, cfg)
	if err != nil && (explicit || !errors.Is(err, fs.ErrNotExist)) {
		return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	cfg.WatchDir = expandHome(cfg.WatchDir)
	cfg.DBPath = expandHome(cfg.DBPath)
	cfg.StateDir = expandHome(cfg.StateDir)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Env overrides
func (c *Config) applyEnv() error {
	strVars := map[string]*string{
		"DROPPRINT_WATCH_DIR":       &c.WatchDir,
		"DROPPRINT_EXTENSION":       &c.Extension,
		"DROPPRINT_ENCODING":        &c.Encoding,
		"DROPPRINT_DB":              &c.DBPath,
		"DROPPRINT_STATE_DIR":       &c.StateDir,
		"DROPPRINT_BACKEND_KIND":    &c.Backend.Kind,
		"DROPPRINT_BACKEND_URL":     &c.Backend.URL,
		"DROPPRINT_BACKEND_ADDRESS": &c.Backend.Address,
		"DROPPRINT_BACKEND_COMMAND": &c.Backend.Command,
		"DROPPRINT_API_LISTEN":      &c.API.Listen,
		"DROPPRINT_LOG_LEVEL":       &c.Logging.Level,
		"DROPPRINT_LOG_FORMAT":      &c.Logging.Format,
	}
	for key, dst := range strVars {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}

	if v := os.Getenv("DROPPRINT_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("DROPPRINT_WORKERS: %w", err)
		}
		c.Workers = n
	}
	if v := os.Getenv("DROPPRINT_RESULT_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("DROPPRINT_RESULT_TIMEOUT: %w", err)
		}
		c.Backend.ResultTimeout = d
	}
	if v := os.Getenv("DROPPRINT_NOTIFY_DESKTOP"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("DROPPRINT_NOTIFY_DESKTOP: %w", err)
		}
		c.Notify.Desktop = b
	}
	return nil
}

// Validate checks the configuration for values the daemon cannot run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.WatchDir) == "" {
		return fmt.Errorf("watch_dir is required")
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("queue_size must be at least 1, got %d", c.QueueSize)
	}
	if c.SettleInterval <= 0 {
		return fmt.Errorf("settle_interval must be positive")
	}
	if c.SettleTimeout < c.SettleInterval {
		return fmt.Errorf("settle_timeout must be at least settle_interval")
	}
	if c.MaxFileBytes < 1 {
		return fmt.Errorf("max_file_bytes must be positive")
	}
	if c.DBPath == "" {
		return fmt.Errorf("db_path is required")
	}
	if c.StateDir == "" {
		return fmt.Errorf("state_dir is required")
	}

	switch c.Backend.Kind {
	case BackendWebSocket:
		if !strings.HasPrefix(c.Backend.URL, "ws://") && !strings.HasPrefix(c.Backend.URL, "wss://") {
			return fmt.Errorf("backend url must start with ws:// or wss://, got %q", c.Backend.URL)
		}
	case BackendRaw:
		if c.Backend.Address == "" {
			return fmt.Errorf("backend address is required for the raw backend")
		}
	case BackendCommand:
		if c.Backend.Command == "" {
			return fmt.Errorf("backend command is required for the command backend")
		}
	default:
		return fmt.Errorf("invalid backend kind: %s (valid: websocket, raw, command)", c.Backend.Kind)
	}
	if c.Backend.ConnectTimeout < 0 {
		return fmt.Errorf("backend connect_timeout must be non-negative")
	}
	if c.Backend.ResultTimeout < 0 {
		return fmt.Errorf("backend result_timeout must be non-negative")
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}

	validFormats := map[string]bool{
		"auto": true,
		"json": true,
		"text": true,
	}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (valid: auto, json, text)", c.Logging.Format)
	}

	return nil
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}
