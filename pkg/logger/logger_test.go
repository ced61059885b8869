package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestLoggerInit(t *testing.T) {
	if err := Init(); err != nil {
		t.Fatalf("failed to initialize logger: %v", err)
	}
	defer func() {
		if err := Sync(); err != nil {
			t.Errorf("failed to sync logger: %v", err)
		}
	}()

	if Get() == nil {
		t.Fatal("logger is nil after initialization")
	}
}

func TestLoggerJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	if err := Configure(&buf, "json"); err != nil {
		t.Fatalf("configure: %v", err)
	}
	defer func() { _ = Init() }()
	SetLevel(0)

	Named("store").Info(context.Background(), "learned",
		String("fingerprint", "ab"),
		Int("count", 2),
		Bool("overwrite", true),
		Duration("took", time.Millisecond),
		Error(errors.New("boom")),
	)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not json: %v (%q)", err, buf.String())
	}
	if entry["component"] != "store" {
		t.Errorf("component = %v, want store", entry["component"])
	}
	if entry["error"] != "boom" {
		t.Errorf("error = %v, want boom", entry["error"])
	}
	if src, _ := entry["source"].(string); !strings.Contains(src, "logger_test.go") {
		t.Errorf("source = %q, want caller file", src)
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	if err := Configure(&buf, "text"); err != nil {
		t.Fatalf("configure: %v", err)
	}
	defer func() { _ = Init() }()

	if err := SetLevelString("warn"); err != nil {
		t.Fatalf("set level: %v", err)
	}
	defer func() { _ = SetLevelString("info") }()

	Get().Info(context.Background(), "hidden")
	Get().Warn(context.Background(), "shown")

	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "shown") {
		t.Errorf("unexpected output %q", out)
	}
}

func TestSetLevelStringRejectsUnknown(t *testing.T) {
	if err := SetLevelString("loud"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestConfigureRejectsUnknownFormat(t *testing.T) {
	if err := Configure(&bytes.Buffer{}, "xml"); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestNop(t *testing.T) {
	l := Nop().Named("x")
	l.Info(context.Background(), "nothing")
	l.Debug(context.Background(), "nothing")
}
