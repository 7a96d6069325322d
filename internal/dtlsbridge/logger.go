package dtlsbridge

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pion/logging"
)

// LevelTrace sits below slog.LevelDebug for the DTLS engine's packet-level
// tracing.
const LevelTrace = slog.LevelDebug - 4

// NewLoggerFactory routes DTLS engine logs into logger, one child logger per
// scope.
func NewLoggerFactory(logger *slog.Logger) logging.LoggerFactory {
	if logger == nil {
		logger = slog.Default()
	}
	return loggerFactory{logger: logger}
}

type loggerFactory struct {
	logger *slog.Logger
}

func (f loggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return leveledLogger{logger: f.logger.With("scope", scope)}
}

type leveledLogger struct {
	logger *slog.Logger
}

func (l leveledLogger) log(level slog.Level, msg string) {
	l.logger.Log(context.Background(), level, msg)
}

func (l leveledLogger) logf(level slog.Level, format string, args ...interface{}) {
	ctx := context.Background()
	if !l.logger.Enabled(ctx, level) {
		return
	}
	l.logger.Log(ctx, level, fmt.Sprintf(format, args...))
}

func (l leveledLogger) Trace(msg string)                          { l.log(LevelTrace, msg) }
func (l leveledLogger) Tracef(format string, args ...interface{}) { l.logf(LevelTrace, format, args...) }
func (l leveledLogger) Debug(msg string)                          { l.log(slog.LevelDebug, msg) }
func (l leveledLogger) Debugf(format string, args ...interface{}) { l.logf(slog.LevelDebug, format, args...) }
func (l leveledLogger) Info(msg string)                           { l.log(slog.LevelInfo, msg) }
func (l leveledLogger) Infof(format string, args ...interface{})  { l.logf(slog.LevelInfo, format, args...) }
func (l leveledLogger) Warn(msg string)                           { l.log(slog.LevelWarn, msg) }
func (l leveledLogger) Warnf(format string, args ...interface{})  { l.logf(slog.LevelWarn, format, args...) }
func (l leveledLogger) Error(msg string)                          { l.log(slog.LevelError, msg) }
func (l leveledLogger) Errorf(format string, args ...interface{}) { l.logf(slog.LevelError, format, args...) }
