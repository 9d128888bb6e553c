package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/HatiCode/lagcast/cmd/forecaster/config"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"DEBUG":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"verbose": slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range tests {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger(&buf, "json", "info")
	l.Debug("hidden")
	l.Info("fit complete", "series", "sales")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1: %q", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if rec["msg"] != "fit complete" || rec["series"] != "sales" {
		t.Errorf("record = %v", rec)
	}
}

func TestNewLogger_Text(t *testing.T) {
	var buf bytes.Buffer
	l := newLogger(&buf, "text", "debug")
	l.Debug("collected", "rows", 3)

	out := buf.String()
	if !strings.Contains(out, "level=DEBUG") || !strings.Contains(out, "rows=3") {
		t.Errorf("output = %q", out)
	}
}

func TestNew(t *testing.T) {
	if New(&config.Config{LogFormat: "json", LogLevel: "warn"}) == nil {
		t.Fatal("New() returned nil")
	}
}
