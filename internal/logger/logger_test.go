package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestEmitPairs(t *testing.T) {
	var buf bytes.Buffer
	l := &Logger{z: zerolog.New(&buf)}

	l.Info("loaded", "layers", 12, "dim", 768)

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log output is not JSON: %v", err)
	}
	if entry["message"] != "loaded" {
		t.Errorf("expected message 'loaded', got %v", entry["message"])
	}
	if entry["layers"] != float64(12) {
		t.Errorf("expected layers 12, got %v", entry["layers"])
	}
	if entry["dim"] != float64(768) {
		t.Errorf("expected dim 768, got %v", entry["dim"])
	}
}

func TestEmitOddArgs(t *testing.T) {
	var buf bytes.Buffer
	l := &Logger{z: zerolog.New(&buf)}

	// A dangling key must not panic or appear as a field.
	l.Info("msg", "dangling")

	if strings.Contains(buf.String(), "dangling") {
		t.Errorf("dangling key leaked into output: %s", buf.String())
	}
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	l := &Logger{z: zerolog.New(&buf)}

	l.With("engine").Info("step")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log output is not JSON: %v", err)
	}
	if entry["component"] != "engine" {
		t.Errorf("expected component 'engine', got %v", entry["component"])
	}
}

func TestSetupLevels(t *testing.T) {
	defer Setup("info", "console")

	Setup("debug", "json")
	if zerolog.GlobalLevel() != zerolog.DebugLevel {
		t.Errorf("expected debug level, got %v", zerolog.GlobalLevel())
	}

	Setup("garbage", "console")
	if zerolog.GlobalLevel() != zerolog.InfoLevel {
		t.Errorf("unknown level should fall back to info, got %v", zerolog.GlobalLevel())
	}
}
