package logging_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"reelsmith/internal/config"
	"reelsmith/internal/logging"
	"reelsmith/internal/services"
)

func TestNewFromConfigWritesJSONFile(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.LogDir = t.TempDir()
	cfg.Logging.Level = "info"

	logger, err := logging.NewFromConfig(&cfg)
	if err != nil {
		t.Fatalf("NewFromConfig returned error: %v", err)
	}
	logger.Info("batch finished", logging.String(logging.FieldBatchID, "b-1"))

	data, err := os.ReadFile(filepath.Join(cfg.Paths.LogDir, logging.LogFileName))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var record map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(data))), &record); err != nil {
		t.Fatalf("decode json log: %v (%s)", err, data)
	}
	if record["msg"] != "batch finished" || record["batch_id"] != "b-1" || record["level"] != "info" {
		t.Fatalf("unexpected record: %v", record)
	}
}

func TestConsoleLoggerHeaderAndFields(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "console.log")
	logger, err := logging.New(logging.Options{Format: "console", Level: "info", OutputPaths: []string{logPath}})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	ctx := services.WithEpisodeID(context.Background(), "ep-7")
	ctx = services.WithPhaseContext(ctx, "render")
	logger = logging.WithContext(ctx, logging.NewComponentLogger(logger, "episode"))
	logger.Info("stage started", logging.String(logging.FieldStage, "concat"))

	content, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	out := string(content)
	for _, fragment := range []string{"INFO [episode] Episode ep-7 (render) - stage started", "- stage: concat"} {
		if !strings.Contains(out, fragment) {
			t.Fatalf("expected %q in %q", fragment, out)
		}
	}
	if strings.Contains(out, ".go:") {
		t.Fatalf("expected no caller information in info logs, got %q", out)
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestErrorKindAttr(t *testing.T) {
	attr := logging.ErrorKind(services.Wrap(services.ErrCapability, "provider", "submit", "rejected", errors.New("x")))
	if attr.Key != logging.FieldErrorKind || attr.Value.String() != "capability" {
		t.Fatalf("unexpected attr: %v", attr)
	}
}

func TestJSONLogTagsErrorKind(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.LogDir = t.TempDir()
	cfg.Logging.Level = "info"

	logger, err := logging.NewFromConfig(&cfg)
	if err != nil {
		t.Fatalf("NewFromConfig returned error: %v", err)
	}
	failure := services.Wrap(services.ErrTransient, "provider", "poll", "upstream busy", errors.New("503"))
	logger.Warn("poll failed", logging.Error(failure))

	data, err := os.ReadFile(filepath.Join(cfg.Paths.LogDir, logging.LogFileName))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var record map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(data))), &record); err != nil {
		t.Fatalf("decode json log: %v (%s)", err, data)
	}
	if record[logging.FieldErrorKind] != "transient" {
		t.Fatalf("expected error_kind transient, got %v", record)
	}
	if msg, _ := record["error"].(string); !strings.Contains(msg, "503") {
		t.Fatalf("expected flattened error text, got %v", record["error"])
	}
}
