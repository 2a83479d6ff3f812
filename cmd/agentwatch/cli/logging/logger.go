// Package logging provides structured logging for AgentWatch using slog.
//
// Usage:
//
//	// Initialize once at process start (path may be empty for stderr)
//	if err := logging.Init(logPath, cfg.LogLevel); err != nil {
//	    // handle error
//	}
//	defer logging.Close()
//
//	// Add context values
//	ctx = logging.WithComponent(ctx, "procscan")
//	ctx = logging.WithSession(ctx, sessionID)
//
//	// Log with context - session/component extracted automatically
//	logging.Info(ctx, "scan tick complete",
//	    slog.Int("agents", len(agents)),
//	)
package logging

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// LogLevelEnvVar is the environment variable that controls log level.
const LogLevelEnvVar = "AGENTWATCH_LOG_LEVEL"

// DebugEnvVar forces DEBUG level and enables HTTP request logging when set
// to anything other than "" or "0".
const DebugEnvVar = "DEBUG"

var (
	// logger is the package-level logger instance
	logger *slog.Logger

	// logFile holds the current log file handle for cleanup
	logFile *os.File

	// logBufWriter wraps logFile with buffered I/O for performance
	logBufWriter *bufio.Writer

	// mu protects logger, logFile, and logBufWriter
	mu sync.RWMutex
)

// Init initializes the process-wide logger, writing JSON log lines to
// logPath. An empty logPath, or a path that cannot be opened, falls back to
// stderr. The effective level is DEBUG (env) > AGENTWATCH_LOG_LEVEL (env) >
// the level argument > INFO.
func Init(logPath, level string) error {
	mu.Lock()
	defer mu.Unlock()

	closeLocked()

	levelStr := level
	if env := os.Getenv(LogLevelEnvVar); env != "" {
		levelStr = env
	}
	if DebugEnabled() {
		levelStr = "DEBUG"
	}
	if levelStr != "" && !isValidLogLevel(levelStr) {
		fmt.Fprintf(os.Stderr, "[agentwatch] Warning: invalid log level %q, defaulting to INFO\n", levelStr)
	}
	lvl := parseLogLevel(levelStr)

	if logPath == "" {
		logger = createLogger(os.Stderr, lvl)
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(logPath), 0o750); err != nil {
		logger = createLogger(os.Stderr, lvl)
		return nil
	}

	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600) //nolint:gosec // path comes from our own data dir
	if err != nil {
		logger = createLogger(os.Stderr, lvl)
		return nil
	}

	logFile = f
	logBufWriter = bufio.NewWriterSize(f, 8192) // 8KB buffer for batched writes
	logger = createLogger(logBufWriter, lvl)

	return nil
}

// DebugEnabled reports whether the DEBUG environment variable requests
// verbose output.
func DebugEnabled() bool {
	v := os.Getenv(DebugEnvVar)
	return v != "" && v != "0"
}

// Flush writes any buffered log lines to disk. Long-running processes call
// this periodically so `tail -f` stays useful.
func Flush() {
	mu.Lock()
	defer mu.Unlock()
	if logBufWriter != nil {
		_ = logBufWriter.Flush()
	}
}

// Close closes the log file if one is open.
// Flushes any buffered data before closing.
// Safe to call multiple times.
func Close() {
	mu.Lock()
	defer mu.Unlock()
	closeLocked()
}

func closeLocked() {
	if logBufWriter != nil {
		_ = logBufWriter.Flush()
		logBufWriter = nil
	}
	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}
}

// resetLogger resets the logger to nil (for testing).
func resetLogger() {
	mu.Lock()
	defer mu.Unlock()
	logger = nil
	closeLocked()
}

// getLogger returns the current logger, or a default stderr logger if not initialized.
func getLogger() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()

	if logger == nil {
		return slog.Default()
	}
	return logger
}

// createLogger creates a JSON logger writing to the given writer at the specified level.
func createLogger(w io.Writer, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: level,
	}
	handler := slog.NewJSONHandler(w, opts)
	return slog.New(handler)
}

// parseLogLevel parses a log level string to slog.Level.
// Returns slog.LevelInfo for empty or invalid values.
func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// isValidLogLevel checks if the given string is a valid log level.
func isValidLogLevel(s string) bool {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG", "INFO", "WARN", "WARNING", "ERROR", "":
		return true
	default:
		return false
	}
}

// Debug logs at DEBUG level with context values automatically extracted.
func Debug(ctx context.Context, msg string, attrs ...any) {
	log(ctx, slog.LevelDebug, msg, attrs...)
}

// Info logs at INFO level with context values automatically extracted.
func Info(ctx context.Context, msg string, attrs ...any) {
	log(ctx, slog.LevelInfo, msg, attrs...)
}

// Warn logs at WARN level with context values automatically extracted.
func Warn(ctx context.Context, msg string, attrs ...any) {
	log(ctx, slog.LevelWarn, msg, attrs...)
}

// Error logs at ERROR level with context values automatically extracted.
func Error(ctx context.Context, msg string, attrs ...any) {
	log(ctx, slog.LevelError, msg, attrs...)
}

// LogDuration logs a message with duration_ms calculated from the start time.
// Designed for use with defer:
//
//	defer logging.LogDuration(ctx, slog.LevelDebug, "repo scan complete", time.Now())
func LogDuration(ctx context.Context, level slog.Level, msg string, start time.Time, attrs ...any) {
	durationMs := time.Since(start).Milliseconds()

	allAttrs := make([]any, 0, len(attrs)+1)
	allAttrs = append(allAttrs, slog.Int64("duration_ms", durationMs))
	allAttrs = append(allAttrs, attrs...)

	log(ctx, level, msg, allAttrs...)
}

// log is the internal logging function that extracts context values and logs.
func log(ctx context.Context, level slog.Level, msg string, attrs ...any) {
	l := getLogger()

	var allAttrs []any
	for _, a := range attrsFromContext(ctx) {
		allAttrs = append(allAttrs, a)
	}
	allAttrs = append(allAttrs, attrs...)

	// Pass nil context to slog as we've already extracted context values as attributes.
	l.Log(nil, level, msg, allAttrs...) //nolint:staticcheck // nil context is intentional - we extract values as attributes
}

// attrsFromContext extracts logging attributes from a context.
func attrsFromContext(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}

	var attrs []slog.Attr

	if v := ctx.Value(componentKey); v != nil {
		if s, ok := v.(string); ok && s != "" {
			attrs = append(attrs, slog.String("component", s))
		}
	}
	if v := ctx.Value(sessionIDKey); v != nil {
		if s, ok := v.(string); ok && s != "" {
			attrs = append(attrs, slog.String("session_id", s))
		}
	}
	if v := ctx.Value(toolUseIDKey); v != nil {
		if s, ok := v.(string); ok && s != "" {
			attrs = append(attrs, slog.String("tool_use_id", s))
		}
	}
	if v := ctx.Value(requestIDKey); v != nil {
		if s, ok := v.(string); ok && s != "" {
			attrs = append(attrs, slog.String("request_id", s))
		}
	}

	return attrs
}
