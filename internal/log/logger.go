package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// SinkEnv names the environment variable that redirects diagnostic logging.
// Unset logs to stderr, "null" or "/dev/null" discards, anything else is a file path.
const SinkEnv = "HILITE_LOG"

var (
	once   sync.Once
	logger *slog.Logger
)

// Setup initializes the global logger, honouring HILITE_LOG for the sink.
// logic: default to INFO. If level is invalid, fallback to INFO.
func Setup(level string) {
	once.Do(func() {
		w, err := OpenSink(os.Getenv(SinkEnv))
		if err != nil {
			fmt.Fprintf(os.Stderr, "hilite: %v; logging to stderr\n", err)
			w = os.Stderr
		}
		install(level, w)
	})
}

// SetupWithWriter initializes the global logger writing to w. Later calls to
// Setup are no-ops.
func SetupWithWriter(level string, w io.Writer) {
	once.Do(func() {
		install(level, w)
	})
}

func install(level string, w io.Writer) {
	opts := &slog.HandlerOptions{
		Level: parseLevel(level),
	}
	handler := slog.NewJSONHandler(w, opts)
	logger = slog.New(handler)
	slog.SetDefault(logger)
}

func parseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// OpenSink resolves a HILITE_LOG style value into a writer.
func OpenSink(value string) (io.Writer, error) {
	switch strings.TrimSpace(value) {
	case "":
		return os.Stderr, nil
	case "null", "/dev/null":
		return io.Discard, nil
	}
	f, err := os.OpenFile(value, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log sink %q: %w", value, err)
	}
	return f, nil
}

// Get returns the configured logger, or a default one if Setup hasn't been called.
func Get() *slog.Logger {
	if logger == nil {
		Setup("INFO")
	}
	return logger
}

// WithComponent returns a logger with the component field set.
func WithComponent(name string) *slog.Logger {
	return Get().With(slog.String("component", name))
}

// WithMethod returns a logger with the rpc method field set.
func WithMethod(name string) *slog.Logger {
	return Get().With(slog.String("method", name))
}

// WithCall returns a logger with the call_id field set.
func WithCall(id string) *slog.Logger {
	return Get().With(slog.String("call_id", id))
}

// Info logs at INFO level.
func Info(msg string, args ...any) {
	Get().Info(msg, args...)
}

// Debug logs at DEBUG level.
func Debug(msg string, args ...any) {
	Get().Debug(msg, args...)
}

// Warn logs at WARN level.
func Warn(msg string, args ...any) {
	Get().Warn(msg, args...)
}

// Error logs at ERROR level.
func Error(msg string, args ...any) {
	Get().Error(msg, args...)
}
