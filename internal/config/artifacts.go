package config

import (
	"os"
	"path/filepath"
	"time"
)

// ArtifactConfig configures the temporary build output directory.
type ArtifactConfig struct {
	// Dir holds compiled units; empty = <tmp>/natrepl.
	Dir string `yaml:"dir"`

	// SweepOnStart removes artifacts left behind by crashed sessions.
	SweepOnStart bool `yaml:"sweep_on_start"`

	// StaleAfter is the minimum age of an artifact considered abandoned.
	StaleAfter string `yaml:"stale_after"`
}

// GetArtifactDir returns the artifact directory with the default applied.
func (c *Config) GetArtifactDir() string {
	if c.Artifacts.Dir != "" {
		return c.Artifacts.Dir
	}
	return filepath.Join(os.TempDir(), "natrepl")
}

// GetStaleAfter returns the stale threshold as a duration.
func (c *Config) GetStaleAfter() time.Duration {
	d, err := time.ParseDuration(c.Artifacts.StaleAfter)
	if err != nil || d <= 0 {
		return time.Hour
	}
	return d
}
