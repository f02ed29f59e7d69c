package app

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want slog.Level
	}{
		{in: "debug", want: slog.LevelDebug},
		{in: "INFO", want: slog.LevelInfo},
		{in: "warn", want: slog.LevelWarn},
		{in: "warning", want: slog.LevelWarn},
		{in: " error ", want: slog.LevelError},
		{in: "unknown", want: slog.LevelInfo},
		{in: "", want: slog.LevelInfo},
	}

	for _, tc := range cases {
		got := parseLogLevel(tc.in)
		if got != tc.want {
			t.Fatalf("parseLogLevel(%q)=%v want=%v", tc.in, got, tc.want)
		}
	}
}

// NewLogger sets the process default logger, so these tests do not run in parallel.

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger("debug", "json", &buf)
	log.Debug("feed.store.load", "count", 3)

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("json output: %v (%q)", err, buf.String())
	}
	if line["msg"] != "feed.store.load" {
		t.Fatalf("msg=%v want=feed.store.load", line["msg"])
	}
	if _, ok := line["source"]; !ok {
		t.Fatalf("json logs should carry source: %v", line)
	}
}

func TestNewLogger_TextAndPretty(t *testing.T) {
	var text bytes.Buffer
	NewLogger("info", "text", &text).Info("stream.connected")
	if !strings.Contains(text.String(), "msg=stream.connected") {
		t.Fatalf("text output=%q", text.String())
	}

	var pretty bytes.Buffer
	NewLogger("warn", "pretty", &pretty).Info("dropped")
	if pretty.Len() != 0 {
		t.Fatalf("info should be filtered at warn level: %q", pretty.String())
	}
}
