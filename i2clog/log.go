// Package i2clog provides the logging services used by the controller,
// target and harness packages: a per-node text prefix and a global
// minimum level, serialised to standard output. The wire package itself
// takes no dependency on this package.
package i2clog

import (
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	initOnce sync.Once
	base     *zap.Logger
	level    = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

func root() *zap.Logger {
	initOnce.Do(func() {
		encoderCfg := zap.NewDevelopmentEncoderConfig()
		encoderCfg.TimeKey = ""
		encoderCfg.CallerKey = ""
		core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderCfg), zapcore.Lock(zapcore.AddSync(os.Stdout)), level)
		base = zap.New(core)
	})
	return base
}

// SetLevel sets the global minimum logging level (Debug or Info).
func SetLevel(l zapcore.Level) {
	level.SetLevel(l)
}

// Logger is a per-node logging handle bound to a fixed name, the Go
// equivalent of the source implementation's thread-local prefix: since Go
// has no thread-locals, the prefix is captured once at construction and
// threaded explicitly through every wire.Node-derived object instead.
type Logger struct {
	sugar *zap.SugaredLogger
}

// For returns a Logger prefixed with name.
func For(name string) *Logger {
	return &Logger{sugar: root().Sugar().With("node", name)}
}

// Debug logs at Debug level.
func (l *Logger) Debug(args ...any) {
	l.sugar.Debug(args...)
}

// Debugf logs a formatted message at Debug level.
func (l *Logger) Debugf(format string, args ...any) {
	l.sugar.Debugf(format, args...)
}

// Info logs at Info level.
func (l *Logger) Info(args ...any) {
	l.sugar.Info(args...)
}

// Infof logs a formatted message at Info level.
func (l *Logger) Infof(format string, args ...any) {
	l.sugar.Infof(format, args...)
}

// Octet renders v as a two-character uppercase hex string, matching the
// source implementation's Log::octet.
func Octet(v byte) string {
	return fmt.Sprintf("%02X", v)
}
