// Package logging sets up the process-wide structured logger.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	logFile   *os.File
	logFileMu sync.Mutex
)

// ParseLevel maps a config string onto a slog level. Unknown names fall
// back to info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Initialize builds the logger used by every component. Records always go
// to stderr; when logFilePath is set they are also appended to that file.
func Initialize(level, logFilePath string) (*slog.Logger, error) {
	return initialize(os.Stderr, level, logFilePath)
}

func initialize(console io.Writer, level, logFilePath string) (*slog.Logger, error) {
	var out io.Writer = console

	if logFilePath != "" {
		file, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}

		logFileMu.Lock()
		if logFile != nil {
			logFile.Close()
		}
		logFile = file
		logFileMu.Unlock()

		out = io.MultiWriter(console, file)
	}

	handler := slog.NewTextHandler(out, &slog.HandlerOptions{Level: ParseLevel(level)})
	logger := slog.New(handler)
	logger.Debug("logging initialized", "level", level, "file", logFilePath)
	return logger, nil
}

// Close releases the log file opened by Initialize, if any.
func Close() {
	logFileMu.Lock()
	defer logFileMu.Unlock()

	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
}

// Discard returns a logger that drops every record. Used by tests and by
// library callers that pass no logger.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
