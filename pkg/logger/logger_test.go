package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewLevels(t *testing.T) {
	tests := []struct {
		level   string
		enabled slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		l, err := New(Config{Level: tt.level, Format: "text", Output: "stdout"})
		if err != nil {
			t.Fatalf("New(%q) error = %v", tt.level, err)
		}
		if !l.Enabled(nil, tt.enabled) {
			t.Errorf("New(%q): level %v should be enabled", tt.level, tt.enabled)
		}
		if tt.enabled > slog.LevelDebug && l.Enabled(nil, tt.enabled-4) {
			t.Errorf("New(%q): level %v should be disabled", tt.level, tt.enabled-4)
		}
	}
}

func TestNewFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "callbridge.log")
	l, err := New(Config{Level: "info", Format: "json", Output: path, Component: "test"})
	if err != nil {
		t.Fatalf("New() with file output error = %v", err)
	}
	l.Info("hello")
}

func TestInitialize(t *testing.T) {
	// Initialize takes a Config and sets the global exactly once
	if err := Initialize(Config{Level: "info", Format: "text", Output: "stdout"}); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if globalLogger == nil {
		t.Fatal("Initialize() didn't set globalLogger")
	}

	first := globalLogger
	if err := Initialize(Config{Level: "debug", Format: "json", Output: "stderr"}); err != nil {
		t.Fatalf("second Initialize() error = %v", err)
	}
	if globalLogger != first {
		t.Error("second Initialize() replaced the global logger")
	}
}

func TestWithHelpers(t *testing.T) {
	var buf bytes.Buffer
	handler := slog.NewJSONHandler(&buf, nil)
	l := &Logger{Logger: slog.New(handler), component: "relay"}

	l.WithComponent("store").WithCallID("c1").WithConnectionID("conn-1").WithUserID("alice").Info("test")

	var entry map[string]any
	line := strings.TrimSpace(buf.String())
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	for key, want := range map[string]string{
		"component":     "store",
		"call_id":       "c1",
		"connection_id": "conn-1",
		"user_id":       "alice",
	} {
		if entry[key] != want {
			t.Errorf("entry[%q] = %v, want %q", key, entry[key], want)
		}
	}
}
