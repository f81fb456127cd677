package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func newTestLogger(buf *bytes.Buffer, level string) *Logger {
	return New(Config{
		Level:       level,
		Format:      "json",
		Output:      buf,
		ServiceName: "test",
	})
}

func lastLine(buf *bytes.Buffer) map[string]any {
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var entry map[string]any
	_ = json.Unmarshal([]byte(lines[len(lines)-1]), &entry)
	return entry
}

func TestJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	log := newTestLogger(&buf, "info")

	log.Info("job dispatched", "job_id", "rj_1")

	entry := lastLine(&buf)
	if entry["msg"] != "job dispatched" {
		t.Errorf("expected msg, got %v", entry["msg"])
	}
	if entry["job_id"] != "rj_1" {
		t.Errorf("expected job_id attr, got %v", entry["job_id"])
	}
	if entry["service"] != "test" {
		t.Errorf("expected service attr, got %v", entry["service"])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := newTestLogger(&buf, "warn")

	log.Info("should be filtered")
	log.Warn("should appear")

	out := buf.String()
	if strings.Contains(out, "should be filtered") {
		t.Error("info message leaked through warn level")
	}
	if !strings.Contains(out, "should appear") {
		t.Error("warn message missing")
	}
}

func TestWithJobIDAndStage(t *testing.T) {
	var buf bytes.Buffer
	log := newTestLogger(&buf, "info").WithJobID("rj_42").WithStage("rendering")

	log.Info("claimed")

	entry := lastLine(&buf)
	if entry["job_id"] != "rj_42" {
		t.Errorf("expected job_id, got %v", entry["job_id"])
	}
	if entry["stage"] != "rendering" {
		t.Errorf("expected stage, got %v", entry["stage"])
	}
}

func TestFromContext(t *testing.T) {
	var buf bytes.Buffer
	log := newTestLogger(&buf, "info")

	ctx := ContextWithRequestID(context.Background(), "req_1")
	ctx = ContextWithJobID(ctx, "rj_7")

	log.FromContext(ctx).Info("handled")

	entry := lastLine(&buf)
	if entry["request_id"] != "req_1" {
		t.Errorf("expected request_id from context, got %v", entry["request_id"])
	}
	if entry["job_id"] != "rj_7" {
		t.Errorf("expected job_id from context, got %v", entry["job_id"])
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"debug", "DEBUG"},
		{"info", "INFO"},
		{"WARN", "WARN"},
		{"warning", "WARN"},
		{"error", "ERROR"},
		{"bogus", "INFO"},
		{"", "INFO"},
	}

	for _, tt := range tests {
		if got := parseLevel(tt.in).String(); got != tt.want {
			t.Errorf("parseLevel(%q)=%s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestTextFormat(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "info", Format: "text", Output: &buf})

	log.Info("plain text line")

	if !strings.Contains(buf.String(), "plain text line") {
		t.Error("expected text output")
	}
	if strings.HasPrefix(strings.TrimSpace(buf.String()), "{") {
		t.Error("text format should not emit JSON")
	}
}
