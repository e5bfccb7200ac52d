// Package logging provides the logging interface and default implementation
// used by the DB.
//
// The interface has five levels (Error, Warn, Info, Debug, Fatal). The default
// implementation is backed by zap; callers can pass any Logger of their own.
//
// Fatalf logs at error level with fatal=true and calls the configured
// FatalHandler. It never exits the process. The DB wires the handler to stop
// accepting writes.
//
// Messages carry a component prefix such as "[txn] " so output can be
// filtered by subsystem.
package logging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ErrFatal is the sentinel error wrapped by fatal conditions.
var ErrFatal = errors.New("fatal error")

// FatalHandler is called when Fatalf is invoked. It must be safe for
// concurrent use and must not call Fatalf.
type FatalHandler func(msg string)

// Level represents the logging level.
type Level int

const (
	// LevelError logs only errors.
	LevelError Level = iota
	// LevelWarn logs warnings and errors.
	LevelWarn
	// LevelInfo logs info, warnings, and errors.
	LevelInfo
	// LevelDebug logs everything including debug messages.
	LevelDebug
)

// String returns the string representation of the level.
func (l Level) String() string {
	switch l {
	case LevelError:
		return "ERROR"
	case LevelWarn:
		return "WARN"
	case LevelInfo:
		return "INFO"
	case LevelDebug:
		return "DEBUG"
	default:
		return "UNKNOWN"
	}
}

func (l Level) zapLevel() zapcore.Level {
	switch l {
	case LevelError:
		return zapcore.ErrorLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelInfo:
		return zapcore.InfoLevel
	default:
		return zapcore.DebugLevel
	}
}

// Logger defines the interface for database logging.
//
// Implementations MUST be safe for concurrent use.
type Logger interface {
	// Errorf logs a formatted error message.
	Errorf(format string, args ...any)

	// Warnf logs a formatted warning message.
	Warnf(format string, args ...any)

	// Infof logs a formatted informational message.
	Infof(format string, args ...any)

	// Debugf logs a formatted debug message.
	Debugf(format string, args ...any)

	// Fatalf logs a fatal error and triggers the fatal handler.
	Fatalf(format string, args ...any)
}

// DefaultLogger writes through a zap SugaredLogger. Level is fixed at
// construction.
type DefaultLogger struct {
	sugar        *zap.SugaredLogger
	level        Level
	fatalHandler atomic.Pointer[FatalHandler]
}

// NewDefaultLogger creates a logger at the given level that writes to stderr.
func NewDefaultLogger(level Level) *DefaultLogger {
	return NewLogger(os.Stderr, level)
}

// NewLogger creates a console-encoded logger writing to w.
func NewLogger(w io.Writer, level Level) *DefaultLogger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.Lock(zapcore.AddSync(w)),
		zap.NewAtomicLevelAt(level.zapLevel()),
	)
	return NewZapLogger(zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)), level)
}

// NewZapLogger adapts an existing zap logger.
func NewZapLogger(z *zap.Logger, level Level) *DefaultLogger {
	return &DefaultLogger{sugar: z.Sugar(), level: level}
}

// SetFatalHandler sets the handler called when Fatalf is invoked.
func (l *DefaultLogger) SetFatalHandler(h FatalHandler) {
	l.fatalHandler.Store(&h)
}

// Level returns the logging level.
func (l *DefaultLogger) Level() Level {
	return l.level
}

// Sync flushes buffered log entries.
func (l *DefaultLogger) Sync() error {
	return l.sugar.Sync()
}

// Errorf logs a formatted error message.
func (l *DefaultLogger) Errorf(format string, args ...any) {
	l.sugar.Errorf(format, args...)
}

// Warnf logs a formatted warning message.
func (l *DefaultLogger) Warnf(format string, args ...any) {
	l.sugar.Warnf(format, args...)
}

// Infof logs a formatted informational message.
func (l *DefaultLogger) Infof(format string, args ...any) {
	l.sugar.Infof(format, args...)
}

// Debugf logs a formatted debug message.
func (l *DefaultLogger) Debugf(format string, args ...any) {
	l.sugar.Debugf(format, args...)
}

// Fatalf logs a fatal error and triggers the fatal handler.
func (l *DefaultLogger) Fatalf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	l.sugar.Errorw(msg, "fatal", true)

	if h := l.fatalHandler.Load(); h != nil {
		(*h)(msg)
	}
}

// Namespace prefixes for log messages.
const (
	// NSWAL is the namespace for WAL operations.
	NSWAL = "[wal] "
	// NSRecovery is the namespace for recovery operations.
	NSRecovery = "[recovery] "
	// NSDB is the namespace for general database operations.
	NSDB = "[db] "
	// NSTxn is the namespace for transaction operations.
	NSTxn = "[txn] "
	// NSSnapshot is the namespace for snapshot lifecycle.
	NSSnapshot = "[snapshot] "
)

// IsNil returns true if the logger is nil or a typed-nil.
func IsNil(l Logger) bool {
	if l == nil {
		return true
	}
	v := reflect.ValueOf(l)
	return v.Kind() == reflect.Ptr && v.IsNil()
}

// OrDefault returns l if it is usable, otherwise a WARN-level default logger.
func OrDefault(l Logger) Logger {
	if IsNil(l) {
		return NewDefaultLogger(LevelWarn)
	}
	return l
}
