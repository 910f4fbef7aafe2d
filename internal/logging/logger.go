// Package logging provides categorized logging for natrepl on top of zap.
// Each component logs under its own category so a session can be traced
// snippet by snippet (transform, compile, bridge, artifact) without mixing
// in driver or config noise. Logging is silent until Initialize is called.
package logging

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/system
type Category string

const (
	CategoryBoot      Category = "boot"      // Startup, flag and config resolution
	CategorySession   Category = "session"   // Session controller loop
	CategoryTransform Category = "transform" // Snippet classification and rewrite
	CategoryCompile   Category = "compile"   // External compiler invocations
	CategoryBridge    Category = "bridge"    // Native module load and entry points
	CategoryArtifact  Category = "artifact"  // Temp artifact allocation and disposal
	CategoryStore     Category = "store"     // History store
	CategoryConfig    Category = "config"    // Config load and hot reload
	CategoryDriver    Category = "driver"    // Terminal / stream front end
)

// Options configures the zap backend.
type Options struct {
	Level      string          // debug, info, warn, error
	Format     string          // json or console
	File       string          // empty = stderr
	Categories map[string]bool // nil = all enabled
}

// Logger is a category-scoped printf-style logger.
type Logger struct {
	category Category
	sugar    *zap.SugaredLogger
}

var (
	mu         sync.RWMutex
	base       *zap.Logger
	level      = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	categories map[string]bool
	loggers    = make(map[Category]*Logger)
)

// Initialize builds the zap logger used by every category and returns it so
// the command layer can log structured fields directly.
func Initialize(opts Options) (*zap.Logger, error) {
	lvl, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	level.SetLevel(lvl)

	cfg := zap.NewProductionConfig()
	cfg.Level = level
	cfg.Encoding = "json"
	if opts.Format == "console" || opts.Format == "text" {
		cfg.Encoding = "console"
		cfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	}
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.OutputPaths = []string{"stderr"}
	if opts.File != "" {
		cfg.OutputPaths = []string{opts.File}
	}
	cfg.DisableStacktrace = true

	l, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build zap logger: %w", err)
	}
	Attach(l, opts.Categories)
	return l, nil
}

// Attach installs an already built zap logger. Tests use it with an
// observer core.
func Attach(l *zap.Logger, enabled map[string]bool) {
	mu.Lock()
	defer mu.Unlock()
	base = l
	categories = enabled
	loggers = make(map[Category]*Logger)
}

// ParseLevel maps a config level name to a zap level. Empty means info.
func ParseLevel(name string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	}
	return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", name)
}

// SetLevel changes the level of every category at runtime.
func SetLevel(name string) error {
	lvl, err := ParseLevel(name)
	if err != nil {
		return err
	}
	level.SetLevel(lvl)
	return nil
}

// Level returns the current level name.
func Level() string {
	return level.Level().String()
}

// AtomicLevel exposes the shared level for loggers built outside Initialize.
func AtomicLevel() zap.AtomicLevel {
	return level
}

// IsCategoryEnabled returns whether a specific category is enabled
func IsCategoryEnabled(category Category) bool {
	mu.RLock()
	defer mu.RUnlock()
	if base == nil {
		return false
	}
	if categories == nil {
		return true
	}
	enabled, exists := categories[string(category)]
	if !exists {
		return true
	}
	return enabled
}

// Get returns (or creates) a logger for the given category.
// Returns a no-op logger if logging is not initialized or the category is disabled.
func Get(category Category) *Logger {
	if !IsCategoryEnabled(category) {
		return &Logger{category: category}
	}

	mu.RLock()
	if l, ok := loggers[category]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}
	l := &Logger{
		category: category,
		sugar:    base.Named(string(category)).Sugar(),
	}
	loggers[category] = l
	return l
}

// Sync flushes the backend. Call at shutdown.
func Sync() {
	mu.RLock()
	l := base
	mu.RUnlock()
	if l != nil {
		_ = l.Sync()
	}
}

func (l *Logger) Debug(format string, args ...interface{}) {
	if l.sugar != nil {
		l.sugar.Debugf(format, args...)
	}
}

func (l *Logger) Info(format string, args ...interface{}) {
	if l.sugar != nil {
		l.sugar.Infof(format, args...)
	}
}

func (l *Logger) Warn(format string, args ...interface{}) {
	if l.sugar != nil {
		l.sugar.Warnf(format, args...)
	}
}

func (l *Logger) Error(format string, args ...interface{}) {
	if l.sugar != nil {
		l.sugar.Errorf(format, args...)
	}
}

// With returns a child logger carrying structured key/value pairs.
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	if l.sugar == nil {
		return l
	}
	return &Logger{category: l.category, sugar: l.sugar.With(keysAndValues...)}
}

// =============================================================================
// CONVENIENCE FUNCTIONS - Quick logging without getting a logger first
// =============================================================================

func Boot(format string, args ...interface{})      { Get(CategoryBoot).Info(format, args...) }
func BootDebug(format string, args ...interface{}) { Get(CategoryBoot).Debug(format, args...) }
func BootWarn(format string, args ...interface{})  { Get(CategoryBoot).Warn(format, args...) }

func Session(format string, args ...interface{})      { Get(CategorySession).Info(format, args...) }
func SessionDebug(format string, args ...interface{}) { Get(CategorySession).Debug(format, args...) }
func SessionWarn(format string, args ...interface{})  { Get(CategorySession).Warn(format, args...) }

func TransformDebug(format string, args ...interface{}) {
	Get(CategoryTransform).Debug(format, args...)
}

func Compile(format string, args ...interface{})      { Get(CategoryCompile).Info(format, args...) }
func CompileDebug(format string, args ...interface{}) { Get(CategoryCompile).Debug(format, args...) }
func CompileWarn(format string, args ...interface{})  { Get(CategoryCompile).Warn(format, args...) }

func Bridge(format string, args ...interface{})      { Get(CategoryBridge).Info(format, args...) }
func BridgeDebug(format string, args ...interface{}) { Get(CategoryBridge).Debug(format, args...) }
func BridgeWarn(format string, args ...interface{})  { Get(CategoryBridge).Warn(format, args...) }

func ArtifactDebug(format string, args ...interface{}) { Get(CategoryArtifact).Debug(format, args...) }
func ArtifactWarn(format string, args ...interface{})  { Get(CategoryArtifact).Warn(format, args...) }

func StoreDebug(format string, args ...interface{}) { Get(CategoryStore).Debug(format, args...) }
func StoreWarn(format string, args ...interface{})  { Get(CategoryStore).Warn(format, args...) }

func Config(format string, args ...interface{})     { Get(CategoryConfig).Info(format, args...) }
func ConfigWarn(format string, args ...interface{}) { Get(CategoryConfig).Warn(format, args...) }

func DriverDebug(format string, args ...interface{}) { Get(CategoryDriver).Debug(format, args...) }

// =============================================================================
// TIMING HELPERS
// =============================================================================

// Timer helps measure operation duration
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation
func StartTimer(category Category, operation string) *Timer {
	return &Timer{
		category: category,
		op:       operation,
		start:    time.Now(),
	}
}

// Stop ends the timer and logs the duration
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithThreshold logs warning if duration exceeds threshold
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		Get(t.category).Warn("%s took %v (threshold: %v)", t.op, elapsed, threshold)
	} else {
		Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	}
	return elapsed
}
