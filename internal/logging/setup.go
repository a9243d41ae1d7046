// Package logging builds the slog handlers used across the service.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
)

// Formats accepted by NewHandler.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Levels accepted by the setup functions. Trace is debug with caller and timestamp reporting.
var levels = []string{"trace", "debug", "info", "warn", "warning", "error"}

// ValidateLevel reports whether level is a known level name. An empty level means info.
func ValidateLevel(level string) error {
	if level == "" {
		return nil
	}
	for _, l := range levels {
		if strings.EqualFold(level, l) {
			return nil
		}
	}
	return fmt.Errorf("unknown log level %q", level)
}

// NewHandler returns a text or JSON handler writing to w.
func NewHandler(format, level string, w io.Writer) (slog.Handler, error) {
	switch strings.ToLower(format) {
	case "", FormatText:
		return SetupHandlerText(level, w), nil
	case FormatJSON:
		return SetupHandlerJSON(level, w), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}

// SetupHandlerText configures a charmbracelet text handler, defaulting to stderr.
func SetupHandlerText(logLevel string, writer io.Writer) slog.Handler {
	if writer == nil {
		writer = os.Stderr
	}

	reportCaller := false
	reportTimestamp := false
	lvl := log.InfoLevel
	switch strings.ToLower(logLevel) {
	case "trace":
		reportCaller = true
		reportTimestamp = true
		lvl = log.DebugLevel
	case "debug":
		reportTimestamp = true
		lvl = log.DebugLevel
	case "warn", "warning":
		lvl = log.WarnLevel
	case "error":
		lvl = log.ErrorLevel
	}

	return log.NewWithOptions(writer, log.Options{
		ReportTimestamp: reportTimestamp,
		ReportCaller:    reportCaller,
		Level:           lvl,
	})
}

// SetupHandlerJSON configures a JSON handler, defaulting to stdout.
func SetupHandlerJSON(logLevel string, writer io.Writer) slog.Handler {
	if writer == nil {
		writer = os.Stdout
	}

	level := slog.LevelInfo
	addSource := false
	switch strings.ToLower(logLevel) {
	case "trace":
		addSource = true
		level = slog.LevelDebug
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	return slog.NewJSONHandler(writer, &slog.HandlerOptions{
		Level:     level,
		AddSource: addSource,
	})
}

// SetupLogger installs a text handler at logLevel as the slog default.
func SetupLogger(logLevel string) {
	slog.SetDefault(slog.New(SetupHandlerText(logLevel, nil)))
}

// OpenOutput resolves a log output setting: "" or "stderr", "stdout", or a file path with an
// optional file:// prefix. Files are created with their parent directories and appended to.
// The returned close function is a no-op for the standard streams.
func OpenOutput(output string) (io.Writer, func() error, error) {
	noop := func() error { return nil }
	switch {
	case output == "" || output == "stderr":
		return os.Stderr, noop, nil
	case output == "stdout":
		return os.Stdout, noop, nil
	}

	path := strings.TrimPrefix(output, "file://")
	if strings.Contains(path, "://") {
		return nil, nil, fmt.Errorf("unsupported log output %q", output)
	}
	if dir := filepath.Dir(path); dir != "." && dir != "/" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("failed to create log directory %s: %w", dir, err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file %s: %w", path, err)
	}
	return f, f.Close, nil
}
