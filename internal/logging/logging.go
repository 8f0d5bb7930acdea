// Package logging owns the process-wide zap logger. Callers fetch it with L()
// and attach their own fields; cmd/redfinetl calls Configure once at startup.
package logging

import (
	"os"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options selects the log level and encoder.
type Options struct {
	Level string // debug|info|warn|error; anything else means info
	JSON  bool
}

var def atomic.Pointer[zap.Logger]

func init() {
	def.Store(newLogger(Options{}))
}

// Configure replaces the global logger. The previous logger is synced first so
// buffered entries are not lost.
func Configure(opts Options) {
	if old := def.Swap(newLogger(opts)); old != nil {
		_ = old.Sync()
	}
}

// L returns the current global logger.
func L() *zap.Logger {
	return def.Load()
}

// Sync flushes the global logger. Errors from syncing stderr are ignored.
func Sync() {
	_ = L().Sync()
}

// Set installs l as the global logger. Tests use it with zaptest/observer.
func Set(l *zap.Logger) {
	if l == nil {
		return
	}
	def.Store(l)
}

func newLogger(opts Options) *zap.Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var enc zapcore.Encoder
	if opts.JSON {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	}

	core := zapcore.NewCore(enc, zapcore.Lock(os.Stderr), ParseLevel(opts.Level))
	return zap.New(core, zap.AddCaller())
}

// ParseLevel maps a textual level onto a zapcore.Level, defaulting to info.
func ParseLevel(s string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
