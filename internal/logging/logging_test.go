package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNewJSONLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "debug", "json")
	logger.Debug().Str("instance_id", "app_1").Msg("hello")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v (%q)", err, buf.String())
	}
	if line["message"] != "hello" {
		t.Fatalf("unexpected message: %v", line["message"])
	}
	if line["service"] != "hub-bots" {
		t.Fatalf("expected service field, got %v", line["service"])
	}
	if line["instance_id"] != "app_1" {
		t.Fatalf("expected instance_id field, got %v", line["instance_id"])
	}
}

func TestNewInvalidLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "chatty", "json")
	logger.Debug().Msg("hidden")
	if buf.Len() != 0 {
		t.Fatalf("expected debug line to be dropped, got %q", buf.String())
	}
	logger.Info().Msg("shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Fatalf("expected info line, got %q", buf.String())
	}
}

func TestNewConsoleFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "info", "console")
	logger.Info().Msg("console line")
	if json.Valid(bytes.TrimSpace(buf.Bytes())) {
		t.Fatalf("expected non-json console output, got %q", buf.String())
	}
	if !strings.Contains(buf.String(), "console line") {
		t.Fatalf("expected message in console output, got %q", buf.String())
	}
}
