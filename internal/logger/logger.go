package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Fields represents structured logging fields
type Fields map[string]interface{}

// Config describes how a logger is built
type Config struct {
	Level      string // debug, info, warn, error
	Format     string // "json" or "text"
	File       string // optional rotating log file
	MaxSizeMB  int
	MaxBackups int
}

// Logger provides structured logging capabilities on top of zap
type Logger struct {
	z         *zap.Logger
	level     zap.AtomicLevel
	component string
	closer    io.Closer
}

// New creates a logger that writes info and below to stdout and errors to stderr
func New(level, format, component string) *Logger {
	l, err := NewWithConfig(Config{Level: level, Format: format}, component)
	if err != nil {
		// only a file sink can fail, and none was requested
		panic(err)
	}
	return l
}

// NewWithConfig creates a logger from a full configuration, including an
// optional rotating file sink.
func NewWithConfig(cfg Config, component string) (*Logger, error) {
	atom := zap.NewAtomicLevelAt(parseLevel(cfg.Level))
	encoder := newEncoder(cfg.Format)

	// errors go to stderr, everything else the level allows to stdout
	high := zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
		return lvl >= zapcore.ErrorLevel && atom.Enabled(lvl)
	})
	low := zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
		return atom.Enabled(lvl) && lvl < zapcore.ErrorLevel
	})

	cores := []zapcore.Core{
		zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), low),
		zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), high),
	}

	var closer io.Closer
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		rotator := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
		}
		cores = append(cores, zapcore.NewCore(newEncoder("json"), zapcore.AddSync(rotator), atom))
		closer = rotator
	}

	return build(zapcore.NewTee(cores...), atom, component, closer), nil
}

// NewWithWriter creates a logger writing every enabled level to w
func NewWithWriter(level, format, component string, w io.Writer) *Logger {
	atom := zap.NewAtomicLevelAt(parseLevel(level))
	core := zapcore.NewCore(newEncoder(format), zapcore.AddSync(w), atom)
	return build(core, atom, component, nil)
}

// Nop returns a logger that discards everything
func Nop() *Logger {
	return &Logger{z: zap.NewNop(), level: zap.NewAtomicLevelAt(zapcore.FatalLevel)}
}

func build(core zapcore.Core, atom zap.AtomicLevel, component string, closer io.Closer) *Logger {
	z := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
	if component != "" {
		z = z.Named(component)
	}
	return &Logger{z: z, level: atom, component: component, closer: closer}
}

func newEncoder(format string) zapcore.Encoder {
	ec := zap.NewProductionEncoderConfig()
	ec.TimeKey = "timestamp"
	ec.MessageKey = "message"
	ec.NameKey = "component"
	ec.EncodeTime = zapcore.ISO8601TimeEncoder

	if format == "json" {
		return zapcore.NewJSONEncoder(ec)
	}
	ec.EncodeLevel = zapcore.CapitalLevelEncoder
	ec.EncodeName = func(name string, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString("[" + name + "]")
	}
	return zapcore.NewConsoleEncoder(ec)
}

// WithComponent creates a new logger with a specific component name
func (l *Logger) WithComponent(component string) *Logger {
	z := l.z
	if component != "" {
		z = l.z.Named(component)
	}
	return &Logger{z: z, level: l.level, component: component}
}

// Component returns the logger's component name
func (l *Logger) Component() string {
	return l.component
}

// SetLevel changes the level of this logger and every logger derived from it
func (l *Logger) SetLevel(level string) error {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return err
	}
	l.level.SetLevel(lvl)
	return nil
}

// Level returns the current level name
func (l *Logger) Level() string {
	return l.level.Level().String()
}

// Zap exposes the underlying zap logger
func (l *Logger) Zap() *zap.Logger {
	return l.z
}

// Debug logs a debug message
func (l *Logger) Debug(msg string, fields ...Fields) {
	l.z.Debug(msg, toZap(fields)...)
}

// Info logs an info message
func (l *Logger) Info(msg string, fields ...Fields) {
	l.z.Info(msg, toZap(fields)...)
}

// Warn logs a warning message
func (l *Logger) Warn(msg string, fields ...Fields) {
	l.z.Warn(msg, toZap(fields)...)
}

// Error logs an error message
func (l *Logger) Error(msg string, fields ...Fields) {
	l.z.Error(msg, toZap(fields)...)
}

// Sync flushes buffered entries and closes the log file, if any
func (l *Logger) Sync() error {
	err := l.z.Sync()
	if l.closer != nil {
		if cerr := l.closer.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// parseLevel converts a level name to a zap level, defaulting to info
func parseLevel(levelStr string) zapcore.Level {
	switch strings.ToLower(levelStr) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// toZap merges Fields maps into zap fields in key order
func toZap(fields []Fields) []zap.Field {
	if len(fields) == 0 {
		return nil
	}

	merged := Fields{}
	for _, f := range fields {
		for k, v := range f {
			merged[k] = v
		}
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		if err, ok := merged[k].(error); ok {
			out = append(out, zap.NamedError(k, err))
			continue
		}
		out = append(out, zap.Any(k, merged[k]))
	}
	return out
}
