package config

import "strings"

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level      string          `yaml:"level"`      // debug, info, warn, error
	Format     string          `yaml:"format"`     // json, console
	File       string          `yaml:"file"`       // empty = stderr
	Categories map[string]bool `yaml:"categories"` // Per-category toggles
}

// ValidLogLevels lists accepted level names.
var ValidLogLevels = []string{"debug", "info", "warn", "warning", "error"}

func validLevel(name string) bool {
	if name == "" {
		return true
	}
	for _, l := range ValidLogLevels {
		if strings.EqualFold(name, l) {
			return true
		}
	}
	return false
}
