package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/YuminosukeSato/bikedemand/pkg/errors"
)

var (
	loggerMu      sync.RWMutex
	defaultLogger Logger = NewZerologLogger(zerolog.ConsoleWriter{Out: os.Stderr}, LevelInfo)
)

// GetLogger returns the process-wide logger.
func GetLogger() Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return defaultLogger
}

// SetLogger replaces the process-wide logger.
func SetLogger(l Logger) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	defaultLogger = l
}

// SetupLogger function setup logger.
//
// format "json" installs slog's JSON handler in Cloud Logging format wrapped by
// ErrFmtHandler; "zerolog" writes zerolog JSON lines; "console" or "" uses
// zerolog's console writer. Other formats are rejected. Warnings raised
// through errors.Warn are routed to the same backend.
func SetupLogger(loglevel, format string) error {
	level, err := ToLogLevel(loglevel)
	if err != nil {
		return err
	}
	format, err = ToLogFormat(format)
	if err != nil {
		return err
	}

	var logger Logger
	switch format {
	case FormatJSON:
		ops := slog.HandlerOptions{
			AddSource: true,
			Level:     slog.Level(level),
			// Replace attributes to convert to CloudLogging format.
			ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
				switch attr.Key {
				case slog.LevelKey:
					attr = slog.Attr{
						Key:   "severity",
						Value: attr.Value,
					}
				case slog.MessageKey:
					attr = slog.Attr{
						Key:   "message",
						Value: attr.Value,
					}
				case slog.SourceKey:
					attr = slog.Attr{
						Key:   "logging.googleapis.com/sourceLocation",
						Value: attr.Value,
					}
				}
				return attr
			},
		}
		handler := slog.NewJSONHandler(os.Stdout, &ops)
		sl := slog.New(WrapByErrFmtHandler(handler))
		slog.SetDefault(sl)
		logger = NewSlogLogger(sl)
	case FormatZerolog:
		logger = NewZerologLogger(os.Stdout, level)
	default:
		logger = NewZerologLogger(zerolog.ConsoleWriter{Out: os.Stderr}, level)
	}

	SetLogger(logger)
	errors.SetZerologWarnFunc(func(w error) {
		GetLogger().Warn(w.Error(), WarningKey, w)
	})
	return nil
}

// Log output formats accepted by SetupLogger.
const (
	FormatJSON    = "json"
	FormatZerolog = "zerolog"
	FormatConsole = "console"
)

// ToLogFormat normalizes a format name. The empty string means console.
func ToLogFormat(format string) (string, error) {
	switch f := strings.ToLower(format); f {
	case FormatJSON, FormatZerolog, FormatConsole:
		return f, nil
	case "":
		return FormatConsole, nil
	default:
		return "", errors.NewValidationError("log.format", "must be one of json, zerolog, console", format)
	}
}

// ToLogLevel converts a textual level to a Level.
func ToLogLevel(level string) (Level, error) {
	switch strings.ToLower(level) {
	case "info", "":
		return LevelInfo, nil
	case "debug":
		return LevelDebug, nil
	case "warn":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, errors.NewValidationError("log.level", "must be one of debug, info, warn, error", level)
	}
}

const (
	ErrAttrKey        = "error"
	StacktraceAttrKey = "stacktrace"
)

// ErrAttr is a wrapper to pass err to slog.
func ErrAttr(err error) slog.Attr {
	return slog.Any(ErrAttrKey, err)
}

// slogLogger adapts *slog.Logger to Logger.
type slogLogger struct {
	l *slog.Logger
}

// NewSlogLogger wraps a *slog.Logger.
func NewSlogLogger(l *slog.Logger) Logger {
	return &slogLogger{l: l}
}

func (s *slogLogger) Debug(msg string, fields ...any) { s.l.Debug(msg, slogArgs(fields)...) }
func (s *slogLogger) Info(msg string, fields ...any)  { s.l.Info(msg, slogArgs(fields)...) }
func (s *slogLogger) Warn(msg string, fields ...any)  { s.l.Warn(msg, slogArgs(fields)...) }
func (s *slogLogger) Error(msg string, fields ...any) { s.l.Error(msg, slogArgs(fields)...) }

func (s *slogLogger) With(fields ...any) Logger {
	return &slogLogger{l: s.l.With(slogArgs(fields)...)}
}

func (s *slogLogger) Enabled(ctx context.Context, level Level) bool {
	return s.l.Enabled(ctx, slog.Level(level))
}

// slogArgs moves a leading error value to the "error" attribute so that
// ErrFmtHandler can attach its stack trace.
func slogArgs(fields []any) []any {
	if len(fields) == 0 {
		return fields
	}
	if err, ok := fields[0].(error); ok && len(fields)%2 == 1 {
		out := make([]any, 0, len(fields))
		out = append(out, ErrAttr(err))
		return append(out, fields[1:]...)
	}
	return fields
}

// zerologLogger adapts zerolog.Logger to Logger.
type zerologLogger struct {
	zl zerolog.Logger
}

// NewZerologLogger creates a zerolog-backed Logger writing to w.
// Pass zerolog.ConsoleWriter for human-readable output.
func NewZerologLogger(w io.Writer, level Level) Logger {
	zl := zerolog.New(w).Level(toZerologLevel(level)).With().Timestamp().Logger()
	return &zerologLogger{zl: zl}
}

func (z *zerologLogger) Debug(msg string, fields ...any) { z.emit(z.zl.Debug(), msg, fields) }
func (z *zerologLogger) Info(msg string, fields ...any)  { z.emit(z.zl.Info(), msg, fields) }
func (z *zerologLogger) Warn(msg string, fields ...any)  { z.emit(z.zl.Warn(), msg, fields) }
func (z *zerologLogger) Error(msg string, fields ...any) { z.emit(z.zl.Error(), msg, fields) }

func (z *zerologLogger) With(fields ...any) Logger {
	ctx := z.zl.With()
	for i := 0; i+1 < len(fields); i += 2 {
		key := fmt.Sprint(fields[i])
		switch v := fields[i+1].(type) {
		case zerolog.LogObjectMarshaler:
			ctx = ctx.Object(key, v)
		case error:
			ctx = ctx.AnErr(key, v)
		default:
			ctx = ctx.Interface(key, v)
		}
	}
	return &zerologLogger{zl: ctx.Logger()}
}

func (z *zerologLogger) Enabled(_ context.Context, level Level) bool {
	return z.zl.GetLevel() <= toZerologLevel(level)
}

func (z *zerologLogger) emit(e *zerolog.Event, msg string, fields []any) {
	if e == nil {
		return
	}
	if len(fields)%2 == 1 {
		if err, ok := fields[0].(error); ok {
			e = e.Err(err)
			fields = fields[1:]
		}
	}
	for i := 0; i+1 < len(fields); i += 2 {
		key := fmt.Sprint(fields[i])
		switch v := fields[i+1].(type) {
		case zerolog.LogObjectMarshaler:
			e = e.Object(key, v)
		case error:
			e = e.AnErr(key, v)
		default:
			e = e.Interface(key, v)
		}
	}
	e.Msg(msg)
}

func toZerologLevel(level Level) zerolog.Level {
	switch {
	case level <= LevelDebug:
		return zerolog.DebugLevel
	case level <= LevelInfo:
		return zerolog.InfoLevel
	case level <= LevelWarn:
		return zerolog.WarnLevel
	default:
		return zerolog.ErrorLevel
	}
}
