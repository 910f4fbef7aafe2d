package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all natrepl configuration.
type Config struct {
	// Compiler is the external AOT compiler invoked once per snippet.
	Compiler CompilerConfig `yaml:"compiler"`

	// Session settings (auto-loaded modules, prompts)
	Session SessionConfig `yaml:"session"`

	// Artifacts controls where compiled units are written.
	Artifacts ArtifactConfig `yaml:"artifacts"`

	// History persistence
	History HistoryConfig `yaml:"history"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Compiler: CompilerConfig{
			Binary:  "natalie",
			Args:    []string{"--repl-unit"},
			Timeout: "2m",
			PassEnv: []string{"CC", "CXX", "CFLAGS", "LDFLAGS", "NAT_CXX_FLAGS", "NAT_BUILD_MODE"},
		},
		Session: SessionConfig{
			Prompt:             "nat> ",
			ContinuationPrompt: "nat* ",
			Color:              true,
		},
		Artifacts: ArtifactConfig{
			Dir:          "",
			SweepOnStart: true,
			StaleAfter:   "1h",
		},
		History: HistoryConfig{
			Enabled: true,
			Path:    "",
			Limit:   500,
		},
		Logging: LoggingConfig{
			Level:  "warn",
			Format: "console",
		},
	}
}

// DefaultConfigPath returns the default path to .natrepl/config.yaml.
func DefaultConfigPath() string {
	cwd, err := os.Getwd()
	if err != nil {
		return filepath.Join(".natrepl", "config.yaml")
	}
	return filepath.Join(cwd, ".natrepl", "config.yaml")
}

// Load loads configuration from a YAML file.
// A missing file yields the defaults; environment overrides apply either way.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if bin := os.Getenv("NATREPL_COMPILER"); bin != "" {
		c.Compiler.Binary = bin
	}
	if dir := os.Getenv("NATREPL_ARTIFACT_DIR"); dir != "" {
		c.Artifacts.Dir = dir
	}
	if lvl := os.Getenv("NATREPL_LOG_LEVEL"); lvl != "" {
		c.Logging.Level = lvl
	}
	switch path := os.Getenv("NATREPL_HISTORY"); path {
	case "":
	case "off", "none", "0":
		c.History.Enabled = false
	default:
		c.History.Enabled = true
		c.History.Path = path
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Compiler.Binary == "" {
		return fmt.Errorf("compiler binary not configured (set compiler.binary or NATREPL_COMPILER)")
	}
	if _, err := time.ParseDuration(c.Compiler.Timeout); c.Compiler.Timeout != "" && err != nil {
		return fmt.Errorf("invalid compiler timeout %q: %w", c.Compiler.Timeout, err)
	}
	if _, err := time.ParseDuration(c.Artifacts.StaleAfter); c.Artifacts.StaleAfter != "" && err != nil {
		return fmt.Errorf("invalid artifacts.stale_after %q: %w", c.Artifacts.StaleAfter, err)
	}
	for _, name := range c.Session.Require {
		if name == "" {
			return fmt.Errorf("session.require contains an empty module name")
		}
	}
	if !validLevel(c.Logging.Level) {
		return fmt.Errorf("invalid log level: %s (valid: %v)", c.Logging.Level, ValidLogLevels)
	}
	return nil
}
