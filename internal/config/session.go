package config

// SessionConfig configures the interactive session.
type SessionConfig struct {
	// Require lists modules auto-loaded by the first snippet.
	Require []string `yaml:"require"`

	Prompt             string `yaml:"prompt"`
	ContinuationPrompt string `yaml:"continuation_prompt"`

	// Color enables styled error output on terminals.
	Color bool `yaml:"color"`
}
