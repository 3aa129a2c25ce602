package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/config"
)

func TestNew_Formats(t *testing.T) {
	for _, format := range []string{"json", "text"} {
		logger := New(config.LoggingConfig{Level: "info", Format: format, Output: "stderr"}, "1.0.0")
		if logger == nil {
			t.Fatalf("New(%s) returned nil", format)
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"WARNING", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := parseLevel(tt.input); got != tt.expected {
				t.Errorf("parseLevel(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestDefaultFieldsAndComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := newWithWriter(&buf, config.LoggingConfig{Level: "debug", Format: "json"}, "2.1.0")

	logger.Component("gateway").Info("handshake complete", "conn_id", "c-1")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log output is not JSON: %v (%q)", err, buf.String())
	}

	want := map[string]string{
		"service":   serviceName,
		"version":   "2.1.0",
		"component": "gateway",
		"conn_id":   "c-1",
		"msg":       "handshake complete",
	}
	for k, v := range want {
		if entry[k] != v {
			t.Errorf("entry[%q] = %v, want %q", k, entry[k], v)
		}
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := newWithWriter(&buf, config.LoggingConfig{Level: "warn", Format: "text"}, "dev")

	logger.Info("dropped")
	logger.Warn("kept")

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Error("info record should be filtered at warn level")
	}
	if !strings.Contains(out, "kept") {
		t.Error("warn record should be written")
	}
}

func TestDiscard(t *testing.T) {
	// Must not panic and must be usable through With.
	Discard().With("k", "v").Error("ignored")
}

func TestSecretsRedacted(t *testing.T) {
	var buf bytes.Buffer
	logger := newWithWriter(&buf, config.LoggingConfig{Level: "info", Format: "json"}, "dev")

	logger.Info("auth attempt", "token", "ctx_supersecret", "Password", "hunter22", "token_name", "ci")

	out := buf.String()
	for _, leak := range []string{"ctx_supersecret", "hunter22"} {
		if strings.Contains(out, leak) {
			t.Errorf("log output leaked %q: %s", leak, out)
		}
	}
	if !strings.Contains(out, `"token_name":"ci"`) {
		t.Errorf("non-secret attribute missing: %s", out)
	}
}
