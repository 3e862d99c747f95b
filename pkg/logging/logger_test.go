package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestWithTenantAddsField(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter("info", &buf).WithTenant("tenant-1")
	logger.Info("hello")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if line["tenant_id"] != "tenant-1" {
		t.Fatalf("expected tenant_id field, got %v", line)
	}
	if line["service"] != "clinic-queue" {
		t.Fatalf("expected service field, got %v", line)
	}
}

func TestDebugSuppressedAtInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter("info", &buf)
	logger.Debug("hidden")
	if buf.Len() != 0 {
		t.Fatalf("expected no output, got %s", buf.String())
	}
}
