package config

import (
	"os"
	"path/filepath"
)

// HistoryConfig configures the persistent input history.
type HistoryConfig struct {
	Enabled bool `yaml:"enabled"`

	// Path of the SQLite database; empty = ~/.natrepl_history.db
	Path string `yaml:"path"`

	// Limit is how many recent entries preload the line editor.
	Limit int `yaml:"limit"`
}

// GetHistoryPath returns the history database path with the default applied.
func (c *Config) GetHistoryPath() string {
	if c.History.Path != "" {
		return c.History.Path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".natrepl_history.db"
	}
	return filepath.Join(home, ".natrepl_history.db")
}
