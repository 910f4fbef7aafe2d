package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"natrepl/internal/artifact"
	"natrepl/internal/bridge"
	"natrepl/internal/compiler"
	"natrepl/internal/config"
	"natrepl/internal/driver"
	"natrepl/internal/logging"
	"natrepl/internal/session"
	"natrepl/internal/store"
	"natrepl/internal/tactile"
)

var (
	// Global flags
	verbose     bool
	configPath  string
	compilerBin string
	requires    []string
	artifactDir string
	noHistory   bool

	cfg    *config.Config
	logger *zap.Logger
)

// Native units are loaded and run on the main goroutine. Pin it so every
// dlopen and EVAL happens on the same OS thread.
func init() {
	runtime.LockOSThread()
}

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "natrepl",
	Short: "Interactive session for the natalie ahead-of-time compiler",
	Long: `natrepl compiles every snippet you type into a native module, links it
against one persistent top-level environment and runs it. Local variables
survive from snippet to snippet.

Input that leaves a construct open (a def without its end, an unclosed
bracket, a trailing backslash) is buffered until it is complete. When stdin
is not a terminal, lines are read without prompts.`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setup()
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: runSession,
}

// setup loads the config, applies flag overrides and starts logging.
func setup() error {
	if configPath == "" {
		configPath = config.DefaultConfigPath()
	}
	loaded, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if compilerBin != "" {
		loaded.Compiler.Binary = compilerBin
	}
	if artifactDir != "" {
		loaded.Artifacts.Dir = artifactDir
	}
	if len(requires) > 0 {
		loaded.Session.Require = append(loaded.Session.Require, requires...)
	}
	if noHistory {
		loaded.History.Enabled = false
	}
	if verbose {
		loaded.Logging.Level = "debug"
	}
	if err := loaded.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", configPath, err)
	}

	logger, err = logging.Initialize(logging.Options{
		Level:      loaded.Logging.Level,
		Format:     loaded.Logging.Format,
		File:       loaded.Logging.File,
		Categories: loaded.Logging.Categories,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	cfg = loaded
	logging.BootDebug("config %s: compiler=%s artifacts=%s", configPath, cfg.Compiler.Binary, cfg.GetArtifactDir())
	return nil
}

func runSession(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()
	go func() {
		// Restore default handling so a second signal kills a stuck unit.
		<-ctx.Done()
		stop()
	}()

	sessionID := uuid.NewString()
	logger.Debug("starting session", zap.String("session", sessionID))

	arts, err := artifact.NewStore(cfg.GetArtifactDir(), sessionID)
	if err != nil {
		return err
	}
	if cfg.Artifacts.SweepOnStart {
		n, err := arts.Sweep(ctx, cfg.GetStaleAfter())
		if err != nil {
			logging.BootWarn("sweep %s: %v", arts.Dir(), err)
		} else if n > 0 {
			logging.Boot("removed %d stale artifacts from %s", n, arts.Dir())
		}
	}

	var journal session.Journal
	var recent []string
	if cfg.History.Enabled {
		hs, err := store.Open(cfg.GetHistoryPath())
		if err != nil {
			// History is a convenience; run without it.
			logging.BootWarn("history disabled: %v", err)
		} else {
			defer hs.Close()
			journal = hs
			recent = recentInputs(hs, cfg.History.Limit)
		}
	}

	if w := watchConfig(ctx); w != nil {
		defer w.Stop()
	}

	builder := compiler.NewExternalBuilder(cfg, tactile.NewDirectExecutor(), sessionID)
	ctrl := session.NewController(builder, bridge.New(bridge.NewDynamicLoader()), arts, session.Options{
		ID:       sessionID,
		Requires: cfg.Session.Require,
		Journal:  journal,
	})

	drv, err := driver.New(os.Stdin, cmd.OutOrStdout(), cmd.ErrOrStderr(), driver.Options{
		Prompt:             cfg.Session.Prompt,
		ContinuationPrompt: cfg.Session.ContinuationPrompt,
		Color:              cfg.Session.Color,
		History:            recent,
	})
	if err != nil {
		_ = ctrl.Close()
		return err
	}

	err = ctrl.Run(ctx, drv)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// watchConfig reloads the log level when the config file changes. Nothing
// else is hot: the compiler and session settings are read once.
func watchConfig(ctx context.Context) *config.Watcher {
	if _, err := os.Stat(configPath); err != nil {
		return nil
	}
	w, err := config.NewWatcher(configPath, func(next *config.Config) {
		level := next.Logging.Level
		if verbose {
			level = "debug"
		}
		if err := logging.SetLevel(level); err != nil {
			logging.ConfigWarn("reload: %v", err)
			return
		}
		logging.Config("config reloaded, log level %s", logging.Level())
	})
	if err != nil {
		logging.ConfigWarn("config watcher: %v", err)
		return nil
	}
	if err := w.Start(ctx); err != nil {
		logging.ConfigWarn("config watcher: %v", err)
		return nil
	}
	return w
}

// recentInputs returns the last limit journaled inputs, oldest first.
// The line editor recalls one line at a time, so multi-line inputs are
// left out.
func recentInputs(hs *store.HistoryStore, limit int) []string {
	if limit <= 0 {
		return nil
	}
	entries, err := hs.Recent(limit)
	if err != nil {
		logging.StoreWarn("load history: %v", err)
		return nil
	}
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		line := strings.TrimRight(e.Input, "\n")
		if line == "" || strings.Contains(line, "\n") {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: .natrepl/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&artifactDir, "artifact-dir", "", "Directory for compiled units (or set NATREPL_ARTIFACT_DIR)")

	rootCmd.Flags().StringVar(&compilerBin, "compiler", "", "Compiler executable (or set NATREPL_COMPILER)")
	rootCmd.Flags().StringSliceVarP(&requires, "require", "r", nil, "Module to load before the first snippet (repeatable)")
	rootCmd.Flags().BoolVar(&noHistory, "no-history", false, "Do not read or write the input history")

	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(historyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
