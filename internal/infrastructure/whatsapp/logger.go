package whatsapp

import (
	"fmt"
	"log/slog"

	waLog "go.mau.fi/whatsmeow/util/log"
)

// slogLogger bridges whatsmeow's printf style logger onto slog.
type slogLogger struct {
	logger *slog.Logger
}

func newLogger(logger *slog.Logger) waLog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return slogLogger{logger: logger.With("component", "whatsmeow")}
}

func (l slogLogger) Errorf(msg string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(msg, args...))
}

func (l slogLogger) Warnf(msg string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(msg, args...))
}

func (l slogLogger) Infof(msg string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(msg, args...))
}

func (l slogLogger) Debugf(msg string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(msg, args...))
}

func (l slogLogger) Sub(module string) waLog.Logger {
	return slogLogger{logger: l.logger.With("module", module)}
}
