// Package logging provides categorized file-based debug logging for
// taleweaver. Logs are written to <data dir>/logs/ with one file per
// category per day. Logging is controlled by the debug settings in the
// user config; when debug mode is off every call is a silent no-op.
package logging

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Category represents a log category/subsystem.
type Category string

const (
	CategoryBoot     Category = "boot"     // Startup and initialization
	CategorySession  Category = "session"  // Session lifecycle, load/switch
	CategoryTurn     Category = "turn"     // Turn orchestration
	CategoryTimeline Category = "timeline" // Sanitizer decisions
	CategoryStore    Category = "store"    // Persistence operations
	CategoryMigrate  Category = "migrate"  // Schema migrations
	CategoryTasks    Category = "tasks"    // Background task coordination
	CategoryAI       Category = "ai"       // Collaborator calls
	CategoryOptions  Category = "options"  // Action options cache
)

// Log levels.
const (
	LevelDebug = 0
	LevelInfo  = 1
	LevelWarn  = 2
	LevelError = 3
)

// Settings controls the logging subsystem. The config package builds one
// from the user config and pushes it here; logging never reads config files
// itself to avoid an import cycle.
type Settings struct {
	DebugMode  bool
	Level      string
	Categories map[string]bool
}

// Logger wraps a standard logger with category and file output.
type Logger struct {
	category Category
	logger   *log.Logger
	file     *os.File
}

var (
	loggers    = make(map[Category]*Logger)
	loggersMu  sync.RWMutex
	logsDir    string
	settings   Settings
	settingsMu sync.RWMutex
	logLevel   int
)

// Initialize sets up the logging directory and applies settings. Call once
// at startup with the data directory; Configure may be called again later
// for hot reload.
func Initialize(dataDir string, s Settings) error {
	if dataDir == "" {
		return fmt.Errorf("data directory required")
	}
	logsDir = filepath.Join(dataDir, "logs")

	Configure(s)

	if !s.DebugMode {
		return nil // Silent no-op in production mode
	}
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}

	boot := Get(CategoryBoot)
	boot.Info("=== taleweaver logging initialized ===")
	boot.Info("Logs directory: %s", logsDir)
	boot.Info("Log level: %s", s.Level)
	return nil
}

// Configure applies new settings, e.g. after a config file reload.
func Configure(s Settings) {
	settingsMu.Lock()
	defer settingsMu.Unlock()
	settings = s
	switch s.Level {
	case "debug":
		logLevel = LevelDebug
	case "warn", "warning":
		logLevel = LevelWarn
	case "error":
		logLevel = LevelError
	default:
		logLevel = LevelInfo
	}
}

// IsDebugMode returns whether debug logging is enabled.
func IsDebugMode() bool {
	settingsMu.RLock()
	defer settingsMu.RUnlock()
	return settings.DebugMode
}

// IsCategoryEnabled returns whether a specific category is enabled.
func IsCategoryEnabled(category Category) bool {
	settingsMu.RLock()
	defer settingsMu.RUnlock()
	if !settings.DebugMode {
		return false
	}
	if settings.Categories == nil {
		return true // All enabled by default in debug mode
	}
	enabled, exists := settings.Categories[string(category)]
	if !exists {
		return true
	}
	return enabled
}

// Get returns (or creates) a logger for the given category. Returns a
// no-op logger when debug mode or the category is disabled.
func Get(category Category) *Logger {
	if !IsCategoryEnabled(category) || logsDir == "" {
		return &Logger{category: category}
	}

	loggersMu.RLock()
	if l, ok := loggers[category]; ok {
		loggersMu.RUnlock()
		return l
	}
	loggersMu.RUnlock()

	loggersMu.Lock()
	defer loggersMu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}

	// Date-prefixed files keep rotation a plain delete.
	date := time.Now().Format("2006-01-02")
	logPath := filepath.Join(logsDir, fmt.Sprintf("%s_%s.log", date, category))
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[logging] Warning: could not open log file %s: %v\n", logPath, err)
		return &Logger{category: category}
	}

	l := &Logger{
		category: category,
		file:     file,
		logger:   log.New(file, "", log.Ldate|log.Ltime|log.Lmicroseconds),
	}
	loggers[category] = l
	return l
}

// Close flushes and closes all open log files.
func Close() {
	loggersMu.Lock()
	defer loggersMu.Unlock()
	for cat, l := range loggers {
		if l.file != nil {
			_ = l.file.Close()
		}
		delete(loggers, cat)
	}
}

// Debug logs a debug message (only if level <= debug).
func (l *Logger) Debug(format string, args ...interface{}) {
	if l.logger == nil || logLevel > LevelDebug {
		return
	}
	l.logger.Printf("[DEBUG] %s", fmt.Sprintf(format, args...))
}

// Info logs an informational message (only if level <= info).
func (l *Logger) Info(format string, args ...interface{}) {
	if l.logger == nil || logLevel > LevelInfo {
		return
	}
	l.logger.Printf("[INFO] %s", fmt.Sprintf(format, args...))
}

// Warn logs a warning message (only if level <= warn).
func (l *Logger) Warn(format string, args ...interface{}) {
	if l.logger == nil || logLevel > LevelWarn {
		return
	}
	l.logger.Printf("[WARN] %s", fmt.Sprintf(format, args...))
}

// Error logs an error message (always logged if logger exists).
func (l *Logger) Error(format string, args ...interface{}) {
	if l.logger == nil {
		return
	}
	l.logger.Printf("[ERROR] %s", fmt.Sprintf(format, args...))
}

// =============================================================================
// CONVENIENCE FUNCTIONS
// =============================================================================

// Session logs at info level to the session category.
func Session(format string, args ...interface{}) {
	Get(CategorySession).Info(format, args...)
}

// SessionDebug logs at debug level to the session category.
func SessionDebug(format string, args ...interface{}) {
	Get(CategorySession).Debug(format, args...)
}

// Turn logs at info level to the turn category.
func Turn(format string, args ...interface{}) {
	Get(CategoryTurn).Info(format, args...)
}

// TurnDebug logs at debug level to the turn category.
func TurnDebug(format string, args ...interface{}) {
	Get(CategoryTurn).Debug(format, args...)
}

// Timeline logs at debug level to the timeline category. The sanitizer
// runs on every mutation; it only ever logs at debug.
func Timeline(format string, args ...interface{}) {
	Get(CategoryTimeline).Debug(format, args...)
}

// Store logs at info level to the store category.
func Store(format string, args ...interface{}) {
	Get(CategoryStore).Info(format, args...)
}

// StoreDebug logs at debug level to the store category.
func StoreDebug(format string, args ...interface{}) {
	Get(CategoryStore).Debug(format, args...)
}

// Migrate logs at info level to the migrate category.
func Migrate(format string, args ...interface{}) {
	Get(CategoryMigrate).Info(format, args...)
}

// Tasks logs at info level to the tasks category.
func Tasks(format string, args ...interface{}) {
	Get(CategoryTasks).Info(format, args...)
}

// TasksDebug logs at debug level to the tasks category.
func TasksDebug(format string, args ...interface{}) {
	Get(CategoryTasks).Debug(format, args...)
}

// AI logs at info level to the ai category.
func AI(format string, args ...interface{}) {
	Get(CategoryAI).Info(format, args...)
}

// AIDebug logs at debug level to the ai category.
func AIDebug(format string, args ...interface{}) {
	Get(CategoryAI).Debug(format, args...)
}

// Options logs at debug level to the options category.
func Options(format string, args ...interface{}) {
	Get(CategoryOptions).Debug(format, args...)
}

// =============================================================================
// PERFORMANCE TIMING
// =============================================================================

// Timer measures the duration of an operation for performance logging.
type Timer struct {
	category  Category
	operation string
	start     time.Time
}

// StartTimer begins timing an operation.
func StartTimer(category Category, operation string) *Timer {
	return &Timer{category: category, operation: operation, start: time.Now()}
}

// Stop ends the timer and logs the duration at debug level.
func (t *Timer) Stop() time.Duration {
	d := time.Since(t.start)
	Get(t.category).Debug("%s took %v", t.operation, d)
	return d
}

// StopWithThreshold logs at warn level when the operation exceeded the
// threshold, debug otherwise.
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	d := time.Since(t.start)
	l := Get(t.category)
	if d > threshold {
		l.Warn("SLOW: %s took %v (threshold %v)", t.operation, d, threshold)
	} else {
		l.Debug("%s took %v", t.operation, d)
	}
	return d
}
