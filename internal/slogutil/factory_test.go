package slogutil

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewFormatHandler(t *testing.T) {
	tests := []struct {
		format string
		check  func(t *testing.T, out string)
	}{
		{"human", func(t *testing.T, out string) {
			if !strings.Contains(out, "[info] Run complete | findings=2") {
				t.Errorf("human output = %q", out)
			}
		}},
		{"", func(t *testing.T, out string) {
			if !strings.Contains(out, "[info]") {
				t.Errorf("default output = %q", out)
			}
		}},
		{"pretty", func(t *testing.T, out string) {
			if !strings.Contains(out, "Run complete") || !strings.Contains(out, "findings") {
				t.Errorf("pretty output = %q", out)
			}
		}},
		{"json", func(t *testing.T, out string) {
			var rec map[string]any
			if err := json.Unmarshal([]byte(out), &rec); err != nil {
				t.Fatalf("json output %q: %v", out, err)
			}
			if rec["msg"] != "Run complete" || rec["findings"] != float64(2) {
				t.Errorf("json record = %v", rec)
			}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			var buf bytes.Buffer
			h, err := NewFormatHandler(&buf, tt.format, slog.LevelInfo)
			if err != nil {
				t.Fatalf("NewFormatHandler(%q) error = %v", tt.format, err)
			}
			logger := slog.New(h)
			logger.Debug("hidden")
			logger.Info("Run complete", "findings", 2)

			if strings.Contains(buf.String(), "hidden") {
				t.Error("debug record should be filtered")
			}
			tt.check(t, buf.String())
		})
	}

	if _, err := NewFormatHandler(&bytes.Buffer{}, "xml", slog.LevelInfo); err == nil {
		t.Error("NewFormatHandler(\"xml\") should fail")
	}
}

func TestLoggerFactory_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "modcompat.log")
	f := NewLoggerFactory(FormatHuman, slog.LevelWarn, FileOptions{Path: path, MaxSize: "1MB", MaxBackups: 1})

	var console bytes.Buffer
	logger, err := f.Logger(&console)
	if err != nil {
		t.Fatalf("Logger() error = %v", err)
	}
	if err := f.StartRun("run-42"); err != nil {
		t.Fatalf("StartRun() error = %v", err)
	}
	logger.Info("info message")
	logger.Warn("warn message")
	if err := f.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if strings.Contains(console.String(), "info message") {
		t.Error("console should filter info at warn level")
	}
	if !strings.Contains(console.String(), "warn message") {
		t.Error("console should contain warn message")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "info message") || !strings.Contains(string(data), "warn message") {
		t.Errorf("log file = %q, want info and warn", data)
	}
	if !strings.Contains(string(data), "--- run run-42 started") {
		t.Errorf("log file = %q, want the run marker", data)
	}
}

func TestLoggerFactory_NoFile(t *testing.T) {
	f := NewLoggerFactory(FormatJSON, slog.LevelInfo, FileOptions{})
	var console bytes.Buffer
	logger, err := f.Logger(&console)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.StartRun("run-1"); err != nil {
		t.Errorf("StartRun() without a file error = %v", err)
	}
	logger.Info("hello")
	if !strings.Contains(console.String(), `"msg":"hello"`) {
		t.Errorf("console = %q", console.String())
	}
	if err := f.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
