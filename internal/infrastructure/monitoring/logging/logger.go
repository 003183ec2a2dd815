// Package logging provides the structured logging interface used across molgfn
// and its zap-backed implementation.  Components depend on Logger only; direct
// use of go.uber.org/zap outside this package is avoided so the trainer, the
// infrastructure adapters and the CLI all log through one contract.
//
// Initialisation order in cmd/molgfn:
//
//  1. Load configuration.
//  2. NewLogger(cfg.Log) and SetDefault.
//  3. Construct the trainer and adapters, injecting the Logger.
package logging

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level names accepted by LogConfig.Level.
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// ─────────────────────────────────────────────────────────────────────────────
// Field
// ─────────────────────────────────────────────────────────────────────────────

// Field is a typed key-value pair attached to a log entry.
type Field struct {
	Key   string
	Value interface{}
}

// String constructs a Field with a string value.
func String(key, val string) Field { return Field{Key: key, Value: val} }

// Int constructs a Field with an int value.
func Int(key string, val int) Field { return Field{Key: key, Value: val} }

// Int64 constructs a Field with an int64 value.
func Int64(key string, val int64) Field { return Field{Key: key, Value: val} }

// Float64 constructs a Field with a float64 value.
func Float64(key string, val float64) Field { return Field{Key: key, Value: val} }

// Float64s constructs a Field holding a slice of float64 values.
func Float64s(key string, val []float64) Field { return Field{Key: key, Value: val} }

// Bool constructs a Field with a bool value.
func Bool(key string, val bool) Field { return Field{Key: key, Value: val} }

// Err captures an error under the key "error".
func Err(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: "<nil>"}
	}
	return Field{Key: "error", Value: err}
}

// Any constructs a Field with an arbitrary value.
func Any(key string, val interface{}) Field { return Field{Key: key, Value: val} }

// Duration constructs a Field with a time.Duration value.
func Duration(key string, val time.Duration) Field { return Field{Key: key, Value: val} }

// ─────────────────────────────────────────────────────────────────────────────
// Logger
// ─────────────────────────────────────────────────────────────────────────────

// Logger is the structured logging contract.  Implementations must be safe for
// concurrent use.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)

	// Fatal logs and then calls os.Exit(1).  Reserved for startup failures.
	Fatal(msg string, fields ...Field)

	// With returns a child Logger carrying fields on every entry.
	With(fields ...Field) Logger

	// Named returns a child Logger with name appended ("train" -> "train.algo").
	Named(name string) Logger
}

// LogConfig carries the parameters required to construct a Logger.
type LogConfig struct {
	// Level is one of debug, info, warn, error.  Defaults to info.
	Level string `mapstructure:"level" yaml:"level" json:"level"`

	// Format is "json" or "console".  Defaults to json.
	Format string `mapstructure:"format" yaml:"format" json:"format"`

	// OutputPaths defaults to ["stdout"].
	OutputPaths []string `mapstructure:"output_paths" yaml:"output_paths" json:"output_paths"`

	// ErrorOutputPaths defaults to ["stderr"].
	ErrorOutputPaths []string `mapstructure:"error_output_paths" yaml:"error_output_paths" json:"error_output_paths"`
}

// ─────────────────────────────────────────────────────────────────────────────
// zap implementation
// ─────────────────────────────────────────────────────────────────────────────

type zapLogger struct {
	z     *zap.Logger
	level zap.AtomicLevel
}

func toZapFields(fields []Field) []zap.Field {
	out := make([]zap.Field, 0, len(fields))
	for _, f := range fields {
		switch v := f.Value.(type) {
		case string:
			out = append(out, zap.String(f.Key, v))
		case int:
			out = append(out, zap.Int(f.Key, v))
		case int64:
			out = append(out, zap.Int64(f.Key, v))
		case float64:
			out = append(out, zap.Float64(f.Key, v))
		case []float64:
			out = append(out, zap.Float64s(f.Key, v))
		case bool:
			out = append(out, zap.Bool(f.Key, v))
		case time.Duration:
			out = append(out, zap.Duration(f.Key, v))
		case error:
			out = append(out, zap.NamedError(f.Key, v))
		default:
			out = append(out, zap.Any(f.Key, v))
		}
	}
	return out
}

func (l *zapLogger) Debug(msg string, fields ...Field) { l.z.Debug(msg, toZapFields(fields)...) }
func (l *zapLogger) Info(msg string, fields ...Field)  { l.z.Info(msg, toZapFields(fields)...) }
func (l *zapLogger) Warn(msg string, fields ...Field)  { l.z.Warn(msg, toZapFields(fields)...) }
func (l *zapLogger) Error(msg string, fields ...Field) { l.z.Error(msg, toZapFields(fields)...) }
func (l *zapLogger) Fatal(msg string, fields ...Field) { l.z.Fatal(msg, toZapFields(fields)...) }

func (l *zapLogger) With(fields ...Field) Logger {
	return &zapLogger{z: l.z.With(toZapFields(fields)...), level: l.level}
}

func (l *zapLogger) Named(name string) Logger {
	return &zapLogger{z: l.z.Named(name), level: l.level}
}

// SetLevel changes the minimum level of a zap-backed Logger and every child
// derived from it.  It reports false for loggers that do not support it.
func SetLevel(l Logger, level string) bool {
	zl, ok := l.(*zapLogger)
	if !ok {
		return false
	}
	zl.level.SetLevel(parseLevel(level))
	return true
}

func parseLevel(s string) zapcore.Level {
	switch strings.ToLower(s) {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// NewLogger builds a zap-backed Logger from cfg, applying defaults for unset
// fields.  It fails when an output path cannot be opened.
func NewLogger(cfg LogConfig) (Logger, error) {
	if len(cfg.OutputPaths) == 0 {
		cfg.OutputPaths = []string{"stdout"}
	}
	if len(cfg.ErrorOutputPaths) == 0 {
		cfg.ErrorOutputPaths = []string{"stderr"}
	}

	encoding := "json"
	encCfg := zap.NewProductionEncoderConfig()
	if cfg.Format == "console" {
		encoding = "console"
		encCfg = zap.NewDevelopmentEncoderConfig()
	}
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	level := zap.NewAtomicLevelAt(parseLevel(cfg.Level))
	zapCfg := zap.Config{
		Level:            level,
		Development:      cfg.Format == "console",
		Encoding:         encoding,
		EncoderConfig:    encCfg,
		OutputPaths:      cfg.OutputPaths,
		ErrorOutputPaths: cfg.ErrorOutputPaths,
	}

	z, err := zapCfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, fmt.Errorf("logging: failed to build zap logger: %w", err)
	}
	return &zapLogger{z: z, level: level}, nil
}

// NewLoggerFromCore wraps an existing zapcore.Core, typically an observer core
// in tests.
func NewLoggerFromCore(core zapcore.Core) Logger {
	return &zapLogger{z: zap.New(core, zap.AddCallerSkip(1)), level: zap.NewAtomicLevelAt(zapcore.DebugLevel)}
}

// ─────────────────────────────────────────────────────────────────────────────
// nop
// ─────────────────────────────────────────────────────────────────────────────

type nopLogger struct{}

func (nopLogger) Debug(_ string, _ ...Field) {}
func (nopLogger) Info(_ string, _ ...Field)  {}
func (nopLogger) Warn(_ string, _ ...Field)  {}
func (nopLogger) Error(_ string, _ ...Field) {}
func (nopLogger) Fatal(_ string, _ ...Field) {}
func (n nopLogger) With(_ ...Field) Logger   { return n }
func (n nopLogger) Named(_ string) Logger    { return n }

// NewNopLogger returns a Logger that discards everything.
func NewNopLogger() Logger { return nopLogger{} }

// OrNop returns l, or a nop Logger when l is nil.
func OrNop(l Logger) Logger {
	if l == nil {
		return nopLogger{}
	}
	return l
}

// ─────────────────────────────────────────────────────────────────────────────
// Process default
// ─────────────────────────────────────────────────────────────────────────────

var (
	defaultMu     sync.RWMutex
	defaultLogger Logger = nopLogger{}
)

// SetDefault replaces the process-wide default Logger.  Nil is ignored.
func SetDefault(l Logger) {
	if l == nil {
		return
	}
	defaultMu.Lock()
	defaultLogger = l
	defaultMu.Unlock()
}

// Default returns the process-wide default Logger.  Constructor injection is
// preferred; Default exists for cobra command wiring.
func Default() Logger {
	defaultMu.RLock()
	l := defaultLogger
	defaultMu.RUnlock()
	return l
}
