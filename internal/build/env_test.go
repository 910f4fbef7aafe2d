package build

import (
	"testing"

	"natrepl/internal/config"

	"github.com/stretchr/testify/assert"
)

func TestCompilerEnv_ForwardsEssentials(t *testing.T) {
	t.Setenv("PATH", "/usr/bin:/bin")
	t.Setenv("SECRET_TOKEN", "nope")

	env := CompilerEnv(nil)

	assert.Contains(t, env, "PATH=/usr/bin:/bin")
	assert.Contains(t, env, "NAT_REPL=1")
	assert.False(t, hasEnvKey(env, "SECRET_TOKEN"))
}

func TestCompilerEnv_PassEnvAndOverrides(t *testing.T) {
	t.Setenv("CC", "clang")
	t.Setenv("CXX", "clang++")

	cfg := config.DefaultConfig()
	cfg.Compiler.PassEnv = []string{"CC", "CXX", "UNSET_VAR_XYZ"}
	cfg.Compiler.Env = map[string]string{
		"CXX":            "g++-13",
		"NAT_BUILD_MODE": "debug",
	}

	env := CompilerEnv(cfg)

	assert.Contains(t, env, "CC=clang")
	assert.Contains(t, env, "CXX=g++-13")
	assert.NotContains(t, env, "CXX=clang++")
	assert.Contains(t, env, "NAT_BUILD_MODE=debug")
	assert.False(t, hasEnvKey(env, "UNSET_VAR_XYZ"))
}

func TestSetEnvKey(t *testing.T) {
	env := []string{"A=1", "B=2"}
	env = setEnvKey(env, "A", "3")
	env = setEnvKey(env, "C", "4")
	assert.Equal(t, []string{"A=3", "B=2", "C=4"}, env)
}

func TestMergeEnv(t *testing.T) {
	base := []string{"A=1"}
	merged := MergeEnv(base, "A=2", "B=x=y", "malformed")
	assert.Equal(t, []string{"A=2", "B=x=y"}, merged)
	assert.Equal(t, []string{"A=1"}, base, "base must not be mutated")
}
