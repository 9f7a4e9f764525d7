package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/marquee/marquee/internal/config"
)

// Setup builds the pipeline logger. Records go to stdout and to an
// append-only file named marquee-YYYY-MM-DD.log in directory. The returned
// closer releases the file handle.
func Setup(level, directory string) (*slog.Logger, io.Closer, error) {
	return setup(level, directory, os.Stdout, time.Now())
}

func setup(level, directory string, console io.Writer, now time.Time) (*slog.Logger, io.Closer, error) {
	if directory == "" {
		directory = "~/.marquee/logs/"
	}
	directory = config.ExpandHome(directory)

	if err := os.MkdirAll(directory, 0o755); err != nil {
		return nil, nil, fmt.Errorf("creating log directory: %w", err)
	}

	logPath := filepath.Join(directory, FileName(now))
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}

	handler := slog.NewTextHandler(io.MultiWriter(console, file), &slog.HandlerOptions{
		Level: ParseLevel(level),
	})
	return slog.New(handler), file, nil
}

// FileName returns the log file name for the given day.
func FileName(t time.Time) string {
	return fmt.Sprintf("marquee-%s.log", t.Format("2006-01-02"))
}

// ParseLevel maps a config level name to a slog level; unknown names are info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

// Discard returns a logger that drops every record. Used by tests and by
// library callers that do not want output.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
