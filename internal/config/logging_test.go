package config

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestSetupLoggerWithWriters(t *testing.T) {
	var stderr, file bytes.Buffer
	logger := SetupLoggerWithWriters(&stderr, &file, slog.LevelInfo)

	logger.Info("job transition", "job_id", "j1", "to", "processing")
	logger.Debug("suppressed below the configured level")

	if !strings.Contains(stderr.String(), "job transition") {
		t.Errorf("stderr output = %q, missing message", stderr.String())
	}
	if strings.Contains(stderr.String(), "suppressed") {
		t.Error("debug record passed an info-level handler")
	}

	var entry map[string]any
	if err := json.Unmarshal(file.Bytes(), &entry); err != nil {
		t.Fatalf("file output is not JSON: %v (%q)", err, file.String())
	}
	if entry["msg"] != "job transition" || entry["job_id"] != "j1" {
		t.Errorf("file entry = %v", entry)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"Warning", slog.LevelWarn},
		{"ERROR", slog.LevelError},
		{"nonsense", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := parseLogLevel(tt.in); got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
