package slogutil

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	charmlog "github.com/charmbracelet/log"
)

// Console formats.
const (
	FormatHuman  = "human"
	FormatPretty = "pretty"
	FormatJSON   = "json"
)

// NewFormatHandler returns the handler for a console format: the line
// format for "human", charmbracelet/log for "pretty" and slog's JSON
// handler for "json".
func NewFormatHandler(w io.Writer, format string, level slog.Level) (slog.Handler, error) {
	switch format {
	case "", FormatHuman:
		return NewHandler(w, &slog.HandlerOptions{Level: level}), nil
	case FormatPretty:
		return charmlog.NewWithOptions(w, charmlog.Options{
			Level:           charmlog.Level(level),
			ReportTimestamp: true,
			TimeFormat:      time.TimeOnly,
		}), nil
	case FormatJSON:
		return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}), nil
	}
	return nil, fmt.Errorf("unknown log format %q", format)
}

// FileOptions configures the optional run log file.
type FileOptions struct {
	Path       string
	MaxSize    string // e.g. "10MB"; empty disables rotation
	MaxBackups int
}

// LoggerFactory builds the process logger: a console handler in the
// configured format, teed to a line-format run log when one is set.
type LoggerFactory struct {
	format string
	level  slog.Level
	file   FileOptions
	runLog *RunLog
}

// NewLoggerFactory creates a new logger factory.
func NewLoggerFactory(format string, level slog.Level, file FileOptions) *LoggerFactory {
	return &LoggerFactory{
		format: format,
		level:  level,
		file:   file,
	}
}

// Logger creates the logger writing to console and, if configured, the
// log file.
func (f *LoggerFactory) Logger(console io.Writer) (*slog.Logger, error) {
	h, err := NewFormatHandler(console, f.format, f.level)
	if err != nil {
		return nil, err
	}
	if f.file.Path == "" {
		return slog.New(h), nil
	}

	if f.runLog == nil {
		w, err := OpenRunLog(f.file.Path, f.file.MaxSize, f.file.MaxBackups)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		f.runLog = w
	}

	// The file always gets at least info so runs leave a trail.
	fileLevel := f.level
	if fileLevel > slog.LevelInfo {
		fileLevel = slog.LevelInfo
	}
	fh := NewHandler(f.runLog, &slog.HandlerOptions{Level: fileLevel})
	return slog.New(NewTeeHandler(h, fh)), nil
}

// StartRun marks the start of an analysis run in the log file, rotating
// it first when it is over its size limit. It is a no-op without a file.
func (f *LoggerFactory) StartRun(runID string) error {
	if f.runLog == nil {
		return nil
	}
	return f.runLog.StartRun(runID)
}

// Close closes the log file, if one was opened.
func (f *LoggerFactory) Close() error {
	if f.runLog == nil {
		return nil
	}
	err := f.runLog.Close()
	f.runLog = nil
	return err
}
