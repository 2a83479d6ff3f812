package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		want     slog.Level
	}{
		{"empty defaults to INFO", "", slog.LevelInfo},
		{"DEBUG lowercase", "debug", slog.LevelDebug},
		{"DEBUG uppercase", "DEBUG", slog.LevelDebug},
		{"WARN lowercase", "warn", slog.LevelWarn},
		{"warning alias", "warning", slog.LevelWarn},
		{"ERROR uppercase", "ERROR", slog.LevelError},
		{"invalid defaults to INFO", "invalid", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseLogLevel(tt.envValue)
			if got != tt.want {
				t.Errorf("parseLogLevel(%q) = %v, want %v", tt.envValue, got, tt.want)
			}
		})
	}
}

func TestInit_WritesToFile(t *testing.T) {
	t.Setenv(LogLevelEnvVar, "")
	t.Setenv(DebugEnvVar, "")
	defer resetLogger()

	logPath := filepath.Join(t.TempDir(), "logs", "daemon.log")
	if err := Init(logPath, "debug"); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	Info(context.Background(), "daemon ready", slog.Int("port", 3141))
	Flush()

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(data), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v (%q)", err, data)
	}
	if entry["msg"] != "daemon ready" {
		t.Errorf("msg = %v, want %q", entry["msg"], "daemon ready")
	}
	if entry["port"] != float64(3141) {
		t.Errorf("port = %v, want 3141", entry["port"])
	}
}

func TestLog_ExtractsContextAttrs(t *testing.T) {
	defer resetLogger()

	var buf bytes.Buffer
	mu.Lock()
	logger = createLogger(&buf, slog.LevelDebug)
	mu.Unlock()

	ctx := WithComponent(context.Background(), "hookstore")
	ctx = WithSession(ctx, "sess-123")
	ctx = WithToolUse(ctx, "toolu_01")

	Debug(ctx, "pre tool use recorded")

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if entry["component"] != "hookstore" {
		t.Errorf("component = %v, want hookstore", entry["component"])
	}
	if entry["session_id"] != "sess-123" {
		t.Errorf("session_id = %v, want sess-123", entry["session_id"])
	}
	if entry["tool_use_id"] != "toolu_01" {
		t.Errorf("tool_use_id = %v, want toolu_01", entry["tool_use_id"])
	}
}

func TestLogDuration(t *testing.T) {
	defer resetLogger()

	var buf bytes.Buffer
	mu.Lock()
	logger = createLogger(&buf, slog.LevelDebug)
	mu.Unlock()

	start := time.Now().Add(-25 * time.Millisecond)
	LogDuration(context.Background(), slog.LevelInfo, "tick complete", start)

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	ms, ok := entry["duration_ms"].(float64)
	if !ok || ms < 25 {
		t.Errorf("duration_ms = %v, want >= 25", entry["duration_ms"])
	}
}

func TestDebugEnabled(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{"", false},
		{"0", false},
		{"1", true},
		{"true", true},
	}

	for _, tt := range tests {
		t.Run("value_"+tt.value, func(t *testing.T) {
			t.Setenv(DebugEnvVar, tt.value)
			if got := DebugEnabled(); got != tt.want {
				t.Errorf("DebugEnabled() with %q = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

func TestInit_FallsBackToStderr(t *testing.T) {
	t.Setenv(LogLevelEnvVar, "")
	t.Setenv(DebugEnvVar, "")
	defer resetLogger()

	// Empty path must not error; logs go to stderr.
	if err := Init("", "info"); err != nil {
		t.Fatalf("Init(\"\") error = %v", err)
	}
	Info(context.Background(), "still works")
}
