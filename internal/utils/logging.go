package utils

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger keeps the Info/Warn/Error(msg, kv...) call shape used across the
// services while writing structured zap output.
type Logger struct {
	l *zap.SugaredLogger
}

func NewLogger() *Logger {
	return NewLoggerWithLevel("info")
}

// NewLoggerWithLevel builds a production logger; unknown levels fall back to info.
func NewLoggerWithLevel(level string) *Logger {
	cfg := zap.NewProductionConfig()
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	z, err := cfg.Build()
	if err != nil {
		z = zap.NewNop()
	}
	return FromZap(z)
}

func FromZap(z *zap.Logger) *Logger { return &Logger{l: z.Sugar()} }

func NopLogger() *Logger { return FromZap(zap.NewNop()) }

func (lg *Logger) Debug(msg string, kv ...any) { lg.l.Debugw(msg, kv...) }
func (lg *Logger) Info(msg string, kv ...any)  { lg.l.Infow(msg, kv...) }
func (lg *Logger) Warn(msg string, kv ...any)  { lg.l.Warnw(msg, kv...) }
func (lg *Logger) Error(msg string, kv ...any) { lg.l.Errorw(msg, kv...) }

// With returns a child logger that always carries kv.
func (lg *Logger) With(kv ...any) *Logger { return &Logger{l: lg.l.With(kv...)} }

func (lg *Logger) Sync() { _ = lg.l.Sync() }
