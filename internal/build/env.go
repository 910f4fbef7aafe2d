// Package build provides the environment for external compiler invocations.
// The AOT compiler shells out to a C++ toolchain, so the child process needs
// PATH, a writable temp dir, and whatever toolchain selection variables the
// user exported (CC, CXX, NAT_*), but nothing else from the host.
//
// All compiler invocations should use CompilerEnv() so a snippet compiled in
// the REPL sees the same toolchain as one compiled from the command line.
package build

import (
	"os"
	"sort"
	"strings"

	"natrepl/internal/config"
	"natrepl/internal/logging"
)

// essentialVars are always forwarded when set.
var essentialVars = []string{
	"PATH",
	"HOME",
	"USER",
	"LANG",
	"LC_ALL",
	"TMPDIR",
	"TEMP",
	"TMP",
	"SDKROOT",       // macOS toolchain lookup
	"DEVELOPER_DIR", // macOS toolchain lookup
	"MACOSX_DEPLOYMENT_TARGET",
	"LD_LIBRARY_PATH",
	"DYLD_LIBRARY_PATH",
}

// CompilerEnv returns the environment for the compiler subprocess.
// It merges:
// 1. Essential host variables
// 2. Host variables named in compiler.pass_env
// 3. compiler.env from config (wins over host values)
// 4. The NAT_REPL marker so the compiler can tell it is driven interactively
func CompilerEnv(cfg *config.Config) []string {
	env := []string{}

	for _, key := range essentialVars {
		if val := os.Getenv(key); val != "" {
			env = append(env, key+"="+val)
		}
	}

	if cfg != nil {
		for _, key := range cfg.Compiler.PassEnv {
			if val := os.Getenv(key); val != "" {
				env = setEnvKey(env, key, val)
				logging.CompileDebug("Forwarding toolchain env: %s", key)
			}
		}

		keys := make([]string, 0, len(cfg.Compiler.Env))
		for key := range cfg.Compiler.Env {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			env = setEnvKey(env, key, cfg.Compiler.Env[key])
			logging.CompileDebug("Added config env: %s", key)
		}
	}

	env = setEnvKey(env, "NAT_REPL", "1")
	logging.CompileDebug("Compiler environment has %d vars", len(env))
	return env
}

// hasEnvKey checks if an environment key is already set.
func hasEnvKey(env []string, key string) bool {
	prefix := key + "="
	for _, e := range env {
		if strings.HasPrefix(e, prefix) {
			return true
		}
	}
	return false
}

// setEnvKey sets or updates an environment variable.
func setEnvKey(env []string, key, value string) []string {
	prefix := key + "="
	for i, e := range env {
		if strings.HasPrefix(e, prefix) {
			env[i] = key + "=" + value
			return env
		}
	}
	return append(env, key+"="+value)
}

// MergeEnv merges additional KEY=VALUE entries into base env.
// Later values override earlier ones.
func MergeEnv(base []string, additional ...string) []string {
	result := make([]string, len(base))
	copy(result, base)

	for _, add := range additional {
		parts := strings.SplitN(add, "=", 2)
		if len(parts) == 2 {
			result = setEnvKey(result, parts[0], parts[1])
		}
	}
	return result
}
