package logger

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSetupPlainOutput(t *testing.T) {
	var buf bytes.Buffer
	if err := Setup(Options{Level: "debug", Output: &buf}); err != nil {
		t.Fatalf("setup: %v", err)
	}
	slog.Debug("control.conn.dial", "url", "wss://relay")
	line := buf.String()
	if !strings.Contains(line, " DEBUG control.conn.dial url=wss://relay") {
		t.Fatalf("line = %q", line)
	}
	if strings.Contains(line, "level=") || strings.Contains(line, "msg=") {
		t.Fatalf("prefix fields repeated as attrs: %q", line)
	}
}

func TestConfigureFiltersLevels(t *testing.T) {
	var buf bytes.Buffer
	if err := Setup(Options{Level: "warn", Output: &buf}); err != nil {
		t.Fatalf("setup: %v", err)
	}
	slog.Info("hidden")
	slog.Warn("shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Fatalf("output = %q", buf.String())
	}
	Configure("nonsense")
	if !slog.Default().Enabled(context.Background(), slog.LevelInfo) {
		t.Fatalf("unknown level should fall back to info")
	}
}

func TestSetupMirrorsToFileWithoutColors(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "logs", "host.log")
	if err := Setup(Options{Level: "info", File: path, Color: true, Output: &buf}); err != nil {
		t.Fatalf("setup: %v", err)
	}
	t.Cleanup(func() { _ = Close() })

	slog.Error("capture.frame.error", "err", "timeout")
	if !strings.Contains(buf.String(), colorRed) {
		t.Fatalf("console output not colored: %q", buf.String())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if strings.Contains(string(data), "\x1b[") {
		t.Fatalf("file output contains escapes: %q", data)
	}
	if !strings.Contains(string(data), "ERROR capture.frame.error err=timeout") {
		t.Fatalf("file output = %q", data)
	}
}
