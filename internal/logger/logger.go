package logger

import (
	"os"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var current atomic.Pointer[zap.Logger]

func init() {
	current.Store(zap.NewNop())
}

// Init installs a JSON logger writing to stdout at the given level.
// Unknown levels fall back to info.
func Init(level string) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.MessageKey = "msg"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encCfg),
		zapcore.Lock(os.Stdout),
		lvl,
	)

	current.Store(zap.New(core))
	Info("logger initialized", map[string]any{"level": lvl.String()})
}

// Set replaces the process logger. Tests use it with zaptest/observer.
func Set(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	current.Store(l)
}

func Sync() {
	_ = current.Load().Sync()
}

func Debug(msg string, fields map[string]any) {
	current.Load().Debug(msg, toZap(fields)...)
}

func Info(msg string, fields map[string]any) {
	current.Load().Info(msg, toZap(fields)...)
}

func Warn(msg string, fields map[string]any) {
	current.Load().Warn(msg, toZap(fields)...)
}

func Error(msg string, fields map[string]any) {
	current.Load().Error(msg, toZap(fields)...)
}

func Fatal(msg string, fields map[string]any) {
	l := current.Load()
	l.Error(msg, toZap(fields)...)
	_ = l.Sync()
	os.Exit(1)
}

func toZap(fields map[string]any) []zap.Field {
	if len(fields) == 0 {
		return nil
	}
	out := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		out = append(out, zap.Any(k, v))
	}
	return out
}
