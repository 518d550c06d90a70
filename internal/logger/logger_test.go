package logger

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestNewWithWriterLevels(t *testing.T) {
	t.Parallel()

	t.Run("debug suppressed at info level", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		log := NewWithWriter("info", &buf)
		log.Debug("hidden")
		if buf.Len() != 0 {
			t.Errorf("debug message written at info level: %s", buf.String())
		}
	})

	t.Run("debug emitted at debug level", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		log := NewWithWriter("debug", &buf)
		log.Debug("visible")
		if buf.Len() == 0 {
			t.Error("debug message not written at debug level")
		}
	})

	t.Run("unknown level defaults to info", func(t *testing.T) {
		t.Parallel()
		var buf bytes.Buffer
		log := NewWithWriter("bogus", &buf)
		log.Info("hello")
		if buf.Len() == 0 {
			t.Error("info message not written with default level")
		}
	})
}

func TestJSONOutputKeys(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := NewWithWriter("warn", &buf)
	log.WithModule("audit").WithField("cid", "1234567").Warn("slice retried")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}

	if entry["message"] != "slice retried" {
		t.Errorf("message = %v, want %q", entry["message"], "slice retried")
	}
	if entry["level"] != "warning" {
		t.Errorf("level = %v, want %q", entry["level"], "warning")
	}
	if entry["module"] != "audit" {
		t.Errorf("module = %v, want %q", entry["module"], "audit")
	}
	if entry["cid"] != "1234567" {
		t.Errorf("cid = %v, want %q", entry["cid"], "1234567")
	}
	if _, ok := entry["timestamp"]; !ok {
		t.Error("timestamp key missing")
	}
}
