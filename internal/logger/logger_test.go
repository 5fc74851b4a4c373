package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWithComponent(t *testing.T) {
	entry := New().WithComponent("ingest")
	if v, ok := entry.Entry.Data["component"]; !ok || v != "ingest" {
		t.Fatalf("component field missing: %v", entry.Entry.Data)
	}
}

func TestConfigureInvalid(t *testing.T) {
	log := New()
	if err := log.Configure("loud", "json", "stdout", 0); err == nil {
		t.Fatalf("expected error for invalid level")
	}
	if err := log.Configure("info", "xml", "stdout", 0); err == nil {
		t.Fatalf("expected error for invalid format")
	}
}

func TestConfigureJSONOutput(t *testing.T) {
	log := New()
	if err := log.Configure("debug", "json", "stdout", 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var buf bytes.Buffer
	log.SetOutput(&buf)

	log.WithComponent("store").WithField("dataset_id", "abc").Info("saved")

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected JSON log line, got %q: %v", buf.String(), err)
	}
	if line["message"] != "saved" || line["component"] != "store" || line["dataset_id"] != "abc" {
		t.Fatalf("unexpected log line: %v", line)
	}
}

func TestConfigureFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dsingest.log")
	log := New()
	if err := log.Configure("info", "text", path, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	log.WithComponent("cli").Info("hello file")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	if !strings.Contains(string(data), "hello file") {
		t.Fatalf("expected message in log file, got %q", string(data))
	}
}
