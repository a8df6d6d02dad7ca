// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvironmentVariable names the config file when --config is absent.
const EnvironmentVariable = "WORKFOREST_CONFIG"

// Config is the master configuration for workforest.
type Config struct {
	// Paths configures directory and file locations.
	Paths PathsConfig `yaml:"paths"`

	// Daemon configures workforest-daemon.
	Daemon DaemonConfig `yaml:"daemon"`

	// LogLevel is one of debug, info, warn, error.
	// Default: info
	LogLevel string `yaml:"log_level"`
}

// PathsConfig configures directory and file locations.
type PathsConfig struct {
	// Root is the data directory: discovery record, instance lock,
	// agent journal.
	Root string `yaml:"root"`

	// Worktrees is where agent worktrees are created, one
	// subdirectory per repository.
	Worktrees string `yaml:"worktrees"`

	// Locks holds the per-repository git lock files.
	Locks string `yaml:"locks"`

	// Database is the SQLite agent journal.
	Database string `yaml:"database"`

	// ReposFile is the TOML repository list.
	ReposFile string `yaml:"repos_file"`
}

// DaemonConfig configures workforest-daemon.
type DaemonConfig struct {
	// ListenAddress is where the protocol server binds. Loopback only.
	// Default: 127.0.0.1:0
	ListenAddress string `yaml:"listen_address"`

	// SessionHistoryLimit is how many finished sessions are kept per
	// agent. Default: 8
	SessionHistoryLimit int `yaml:"session_history_limit"`

	// OutputBufferBytes bounds captured output per session.
	// Default: 1048576
	OutputBufferBytes int `yaml:"output_buffer_bytes"`

	// StopGrace is how long a stopping session gets between SIGTERM
	// and SIGKILL. Default: 5s
	StopGrace string `yaml:"stop_grace"`

	// GitConcurrency bounds concurrent git worktree operations.
	// Default: 4
	GitConcurrency int `yaml:"git_concurrency"`

	// HeartbeatInterval is the idle interval between heartbeat frames
	// on subscribe streams. Default: 30s
	HeartbeatInterval string `yaml:"heartbeat_interval"`

	// Shell runs session commands as `<shell> -lc <command>`.
	// Default: sh
	Shell string `yaml:"shell"`
}

// Default returns the default configuration. These defaults are also
// the base that a config file is merged into. Path fields may still
// contain ${WORKFOREST_ROOT}; Resolve and LoadFile expand them.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()

	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		dataHome = filepath.Join(homeDir, ".local", "share")
	}
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		configHome = filepath.Join(homeDir, ".config")
	}

	return &Config{
		Paths: PathsConfig{
			Root:      filepath.Join(dataHome, "workforest"),
			Worktrees: "${WORKFOREST_ROOT}/trees",
			Locks:     "${WORKFOREST_ROOT}/locks",
			Database:  "${WORKFOREST_ROOT}/agents.db",
			ReposFile: filepath.Join(configHome, "workforest", "repos.toml"),
		},
		Daemon: DaemonConfig{
			ListenAddress:       "127.0.0.1:0",
			SessionHistoryLimit: 8,
			OutputBufferBytes:   1 << 20,
			StopGrace:           "5s",
			GitConcurrency:      4,
			HeartbeatInterval:   "30s",
			Shell:               "sh",
		},
		LogLevel: "info",
	}
}

// Resolve loads configuration from flagPath if set, else from the file
// named by WORKFOREST_CONFIG if set, else returns the defaults with
// variables expanded.
func Resolve(flagPath string) (*Config, error) {
	if flagPath != "" {
		return LoadFile(flagPath)
	}
	if os.Getenv(EnvironmentVariable) != "" {
		return Load()
	}
	cfg := Default()
	cfg.expandVariables()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("default config: %w", err)
	}
	return cfg, nil
}

// Load loads configuration from the WORKFOREST_CONFIG environment
// variable. Fails if the variable is not set.
func Load() (*Config, error) {
	configPath := os.Getenv(EnvironmentVariable)
	if configPath == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your workforest.yaml, or use --config", EnvironmentVariable)
	}

	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path, on top of
// Default.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg.expandVariables()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"WORKFOREST_ROOT": c.Paths.Root,
		"HOME":            os.Getenv("HOME"),
	}

	c.Paths.Root = expandVars(c.Paths.Root, vars)
	vars["WORKFOREST_ROOT"] = c.Paths.Root // Update for dependent paths.

	c.Paths.Worktrees = expandVars(c.Paths.Worktrees, vars)
	c.Paths.Locks = expandVars(c.Paths.Locks, vars)
	c.Paths.Database = expandVars(c.Paths.Database, vars)
	c.Paths.ReposFile = expandVars(c.Paths.ReposFile, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default} patterns, checking
// vars before the environment.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Paths.Root == "" {
		errs = append(errs, errors.New("paths.root is required"))
	} else if !filepath.IsAbs(c.Paths.Root) {
		errs = append(errs, fmt.Errorf("paths.root must be absolute, got %q", c.Paths.Root))
	}
	if c.Paths.Worktrees == "" {
		errs = append(errs, errors.New("paths.worktrees is required"))
	}
	if c.Paths.ReposFile == "" {
		errs = append(errs, errors.New("paths.repos_file is required"))
	}

	if c.Daemon.SessionHistoryLimit < 0 {
		errs = append(errs, errors.New("daemon.session_history_limit must not be negative"))
	}
	if c.Daemon.OutputBufferBytes <= 0 {
		errs = append(errs, errors.New("daemon.output_buffer_bytes must be positive"))
	}
	if c.Daemon.GitConcurrency <= 0 {
		errs = append(errs, errors.New("daemon.git_concurrency must be positive"))
	}
	if _, err := c.Daemon.StopGraceDuration(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Daemon.HeartbeatDuration(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.SlogLevel(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// StopGraceDuration parses StopGrace.
func (d DaemonConfig) StopGraceDuration() (time.Duration, error) {
	return parsePositiveDuration("daemon.stop_grace", d.StopGrace)
}

// HeartbeatDuration parses HeartbeatInterval.
func (d DaemonConfig) HeartbeatDuration() (time.Duration, error) {
	return parsePositiveDuration("daemon.heartbeat_interval", d.HeartbeatInterval)
}

func parsePositiveDuration(field, value string) (time.Duration, error) {
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	if duration <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", field, value)
	}
	return duration, nil
}

// SlogLevel parses LogLevel.
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}
	return level, nil
}

// EnsurePaths creates the data, worktree, and lock directories.
func (c *Config) EnsurePaths() error {
	paths := []string{
		c.Paths.Root,
		c.Paths.Worktrees,
		c.Paths.Locks,
		filepath.Dir(c.Paths.Database),
	}

	for _, path := range paths {
		if path == "" || path == "." {
			continue
		}
		if err := os.MkdirAll(path, 0o700); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}

	return nil
}
