package config

import "time"

// CompilerConfig describes how to invoke the external AOT compiler.
type CompilerConfig struct {
	// Binary is the compiler executable (looked up on PATH).
	Binary string `yaml:"binary"`

	// Args are passed before any per-snippet arguments.
	Args []string `yaml:"args"`

	// Timeout bounds one compile; empty or "0" uses the executor default.
	Timeout string `yaml:"timeout"`

	// WorkingDirectory for the compiler process; empty = current directory.
	WorkingDirectory string `yaml:"working_directory"`

	// Env sets extra variables for the compiler process.
	Env map[string]string `yaml:"env"`

	// PassEnv lists host variables forwarded when set (toolchain selection).
	PassEnv []string `yaml:"pass_env"`
}

// GetCompileTimeout returns the compile timeout as a duration. Zero defers
// to the executor default.
func (c *Config) GetCompileTimeout() time.Duration {
	if c.Compiler.Timeout == "" {
		return 0
	}
	d, err := time.ParseDuration(c.Compiler.Timeout)
	if err != nil {
		return 2 * time.Minute
	}
	return d
}
