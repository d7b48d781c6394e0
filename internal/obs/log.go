package obs

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	loggerMu sync.RWMutex
	logger   = newJSONLogger(os.Stdout, slog.LevelInfo)
)

// Logger returns the shared structured logger used across the service.
func Logger() *slog.Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return logger
}

// ConfigureLogger replaces the shared logger with a JSON logger writing to w
// at the given level and returns it.
func ConfigureLogger(w io.Writer, level string) *slog.Logger {
	l := newJSONLogger(w, ParseLevel(level))
	loggerMu.Lock()
	logger = l
	loggerMu.Unlock()
	return l
}

// ParseLevel maps debug/warn/error onto slog levels; anything else is info.
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

func newJSONLogger(w io.Writer, level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(handler).With(slog.String("service", "auditdesk"))
}
