package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoggerNew(t *testing.T) {
	log := New(false)
	if log == nil {
		t.Fatal("Expected logger to be created, got nil")
	}
	if log.IsDebug() {
		t.Error("Expected debug to be false")
	}

	if !New(true).IsDebug() {
		t.Error("Expected debug to be true")
	}
}

func TestLoggerNewWithFile(t *testing.T) {
	logFilePath := filepath.Join(t.TempDir(), "test.log")

	log, err := NewWithFile(false, logFilePath)
	if err != nil {
		t.Fatalf("Failed to create logger with file: %v", err)
	}
	if log.logFile == nil {
		t.Fatal("Expected log file to be set, got nil")
	}

	log.Info("test message")
	if err := log.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	content, err := os.ReadFile(logFilePath)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	if !strings.Contains(string(content), "[INFO] ") || !strings.Contains(string(content), "test message") {
		t.Errorf("Expected log file to contain the info line, got %q", content)
	}
}

func TestLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, false)

	log.Infof("info %d", 1)
	log.Successf("done %s", "x")
	log.Warning("careful")
	log.Errorf("failed: %v", "boom")
	log.Debug("hidden")

	out := buf.String()
	for _, want := range []string{"[INFO] ", "info 1", "[DONE] ", "done x", "[WARNING] ", "careful", "[ERROR] ", "failed: boom"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "hidden") {
		t.Error("debug message written with debug disabled")
	}
}

func TestLoggerDebug(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, true)
	log.Debugf("value=%d", 7)
	if !strings.Contains(buf.String(), "[DEBUG] ") || !strings.Contains(buf.String(), "value=7") {
		t.Errorf("expected debug line, got %q", buf.String())
	}
}

func TestLoggerStage(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, false)
	log.Stage(2, 5, "Selecting migration path")
	if !strings.Contains(buf.String(), "Stage 2/5: Selecting migration path") {
		t.Errorf("unexpected stage output: %q", buf.String())
	}
}

func TestLoggerKeyValues(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, false)
	log.KeyValues("Subscription", "sub-1", "Resource group", "", "Path", "direct_index_tool")
	out := buf.String()
	if !strings.Contains(out, "Subscription:   sub-1") {
		t.Errorf("expected aligned subscription line, got %q", out)
	}
	if strings.Contains(out, "Resource group") {
		t.Error("empty values should be skipped")
	}
}

func TestGetTimestamp(t *testing.T) {
	ts := GetTimestamp()
	if len(ts) != len("20060102-150405") {
		t.Errorf("unexpected timestamp format: %q", ts)
	}
}
