package log

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var _ Log = (*Logger)(nil)

var (
	processLogger *Logger
	processOnce   sync.Once
)

// Logger is the zap-backed Log implementation. The zero value is not
// usable; construct with New.
type Logger struct {
	zl    *zap.Logger
	level zapcore.Level
}

// New builds a JSON logger writing to stderr at the given level. The first
// logger constructed in the process also becomes the Provide() default.
func New(level Level) *Logger {
	zl, err := zapConfig(toZapLevel(level)).Build()
	if err != nil {
		panic(err)
	}
	l := &Logger{zl: zl, level: toZapLevel(level)}
	processOnce.Do(func() { processLogger = l })
	return l
}

func zapConfig(level zapcore.Level) zap.Config {
	return zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Sampling:         &zap.SamplingConfig{Initial: 100, Thereafter: 100},
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
		DisableCaller:    true,
	}
}

// Provide returns the process-wide logger, constructing an info-level one
// on first use.
func Provide() *Logger {
	if processLogger == nil {
		return New(LevelInfo)
	}
	return processLogger
}

func (l *Logger) Log(level Level, msg string, fields ...Field) {
	if !l.level.Enabled(toZapLevel(level)) {
		return
	}
	l.zl.Log(toZapLevel(level), msg, convert(fields)...)
}

func (l *Logger) Debug(msg string, fields ...Field) { l.zl.Debug(msg, convert(fields)...) }

func (l *Logger) Info(msg string, fields ...Field) { l.zl.Info(msg, convert(fields)...) }

func (l *Logger) Warn(msg string, fields ...Field) { l.zl.Warn(msg, convert(fields)...) }

func (l *Logger) Error(msg string, fields ...Field) { l.zl.Error(msg, convert(fields)...) }

func (l *Logger) Fatal(msg string, fields ...Field) { l.zl.Fatal(msg, convert(fields)...) }

// With returns a child logger carrying the fields on every entry.
func (l *Logger) With(fields ...Field) Log {
	return &Logger{zl: l.zl.With(convert(fields)...), level: l.level}
}

// WithContext is accepted for interface completeness; no values are
// extracted from the context yet.
func (l *Logger) WithContext(_ context.Context) Log { return l }

func (l *Logger) SetLevel(level Level) { l.level = toZapLevel(level) }

func (l *Logger) GetLevel() Level { return fromZapLevel(l.level) }

func toZapLevel(level Level) zapcore.Level {
	switch level {
	case LevelDebug:
		return zap.DebugLevel
	case LevelInfo:
		return zap.InfoLevel
	case LevelWarn:
		return zap.WarnLevel
	case LevelError:
		return zap.ErrorLevel
	case LevelFatal:
		return zap.FatalLevel
	case LevelSilent:
		return zapcore.FatalLevel + 1
	default:
		return zap.InfoLevel
	}
}

func fromZapLevel(level zapcore.Level) Level {
	switch level {
	case zap.DebugLevel:
		return LevelDebug
	case zap.InfoLevel:
		return LevelInfo
	case zap.WarnLevel:
		return LevelWarn
	case zap.ErrorLevel:
		return LevelError
	case zap.FatalLevel:
		return LevelFatal
	default:
		return LevelInfo
	}
}

func convert(fields []Field) []zap.Field {
	out := make([]zap.Field, len(fields))
	for i, f := range fields {
		switch f.Type {
		case BoolType:
			out[i] = zap.Bool(f.Key, f.Value.(bool))
		case DurationType:
			out[i] = zap.Duration(f.Key, f.Value.(time.Duration))
		case Float64Type:
			out[i] = zap.Float64(f.Key, f.Value.(float64))
		case IntType:
			out[i] = zap.Int(f.Key, f.Value.(int))
		case Int64Type:
			out[i] = zap.Int64(f.Key, f.Value.(int64))
		case StringType:
			out[i] = zap.String(f.Key, f.Value.(string))
		case TimeType:
			out[i] = zap.Time(f.Key, f.Value.(time.Time))
		case Uint64Type:
			out[i] = zap.Uint64(f.Key, f.Value.(uint64))
		case ErrorType:
			out[i] = zap.NamedError(f.Key, f.Value.(error))
		default:
			out[i] = zap.Any(f.Key, f.Value)
		}
	}
	return out
}
