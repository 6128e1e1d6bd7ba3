package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

const appName = "docintake"

// Attribute keys (case-insensitive) whose values are masked.
var redactedKeys = map[string]struct{}{
	"password":      {},
	"imap_password": {},
	"api_key":       {},
	"token":         {},
	"authorization": {},
}

const redacted = "[redacted]"

func NewJSONLogger(service, level string) *slog.Logger {
	return NewJSONLoggerTo(os.Stdout, service, level)
}

// NewJSONLoggerTo builds the service logger on w. Every record carries the
// app and service names, timestamps are UTC and credential attrs are masked.
func NewJSONLoggerTo(w io.Writer, service, level string) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       parseLevel(level),
		ReplaceAttr: replaceAttr,
	})
	return slog.New(handler).With("app", appName, "service", service)
}

func replaceAttr(_ []string, attr slog.Attr) slog.Attr {
	if attr.Key == slog.TimeKey && attr.Value.Kind() == slog.KindTime {
		return slog.Time(slog.TimeKey, attr.Value.Time().UTC().Truncate(time.Millisecond))
	}
	if _, ok := redactedKeys[strings.ToLower(attr.Key)]; ok {
		return slog.String(attr.Key, redacted)
	}
	return attr
}

func parseLevel(level string) slog.Level {
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
