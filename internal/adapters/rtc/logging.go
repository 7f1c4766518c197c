package rtc

import (
	"fmt"
	"strings"

	"github.com/pion/logging"
	"github.com/rs/zerolog"
)

// loggerFactory hands pion scoped loggers that keep pion's severity in zerolog.
type loggerFactory struct {
	logger          zerolog.Logger
	DefaultLogLevel logging.LogLevel
	ScopeLevels     map[string]logging.LogLevel
}

func (f *loggerFactory) NewLogger(scope string) logging.LeveledLogger {
	lvl, ok := f.ScopeLevels[strings.ToLower(scope)]
	if !ok {
		lvl = f.DefaultLogLevel
	}
	return &leveledLogger{logger: f.logger.With().Str("scope", scope).Logger(), level: lvl}
}

type leveledLogger struct {
	logger zerolog.Logger
	level  logging.LogLevel
}

func (l *leveledLogger) emit(lvl logging.LogLevel, zl zerolog.Level, msg string) {
	if l.level < lvl {
		return
	}
	l.logger.WithLevel(zl).Msg(msg)
}

func (l *leveledLogger) Trace(msg string) { l.emit(logging.LogLevelTrace, zerolog.TraceLevel, msg) }
func (l *leveledLogger) Debug(msg string) { l.emit(logging.LogLevelDebug, zerolog.DebugLevel, msg) }
func (l *leveledLogger) Info(msg string)  { l.emit(logging.LogLevelInfo, zerolog.InfoLevel, msg) }
func (l *leveledLogger) Warn(msg string)  { l.emit(logging.LogLevelWarn, zerolog.WarnLevel, msg) }
func (l *leveledLogger) Error(msg string) { l.emit(logging.LogLevelError, zerolog.ErrorLevel, msg) }

func (l *leveledLogger) Tracef(format string, args ...any) { l.Trace(fmt.Sprintf(format, args...)) }
func (l *leveledLogger) Debugf(format string, args ...any) { l.Debug(fmt.Sprintf(format, args...)) }
func (l *leveledLogger) Infof(format string, args ...any)  { l.Info(fmt.Sprintf(format, args...)) }
func (l *leveledLogger) Warnf(format string, args ...any)  { l.Warn(fmt.Sprintf(format, args...)) }
func (l *leveledLogger) Errorf(format string, args ...any) { l.Error(fmt.Sprintf(format, args...)) }

func logLevel(name string) logging.LogLevel {
	switch strings.ToLower(name) {
	case "debug":
		return logging.LogLevelDebug
	case "trace":
		return logging.LogLevelTrace
	case "info":
		return logging.LogLevelInfo
	case "warn":
		return logging.LogLevelWarn
	case "error":
		return logging.LogLevelError
	case "none", "disabled":
		return logging.LogLevelDisabled
	default:
		return logging.LogLevelWarn
	}
}

// newLoggerFactory applies level to the scopes named by tags, or to every
// scope when no tags are given. Untagged scopes still report errors.
func newLoggerFactory(logger zerolog.Logger, level string, tags []string) *loggerFactory {
	f := &loggerFactory{logger: logger, ScopeLevels: make(map[string]logging.LogLevel)}
	lvl := logLevel(level)
	if len(tags) == 0 {
		f.DefaultLogLevel = lvl
		return f
	}
	f.DefaultLogLevel = logging.LogLevelError
	if lvl < f.DefaultLogLevel {
		f.DefaultLogLevel = lvl
	}
	for _, tag := range tags {
		f.ScopeLevels[strings.ToLower(tag)] = lvl
	}
	return f
}
