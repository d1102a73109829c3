package logger

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	globalLogger *zap.SugaredLogger
	level        = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	mu           sync.RWMutex
)

// Config defines logging configuration
type Config struct {
	Level    string // "debug", "info", "warn", "error"
	Encoding string // "json" or "console"
}

// DefaultConfig returns default logger config
func DefaultConfig() *Config {
	return &Config{Level: "info", Encoding: "console"}
}

// ReplaceGlobal builds a logger from cfg and installs it as the process logger.
func ReplaceGlobal(cfg *Config) {
	l := New(cfg)
	mu.Lock()
	globalLogger = l
	mu.Unlock()
}

// ReplaceWith installs an existing zap logger, mainly for tests.
func ReplaceWith(l *zap.Logger) {
	mu.Lock()
	globalLogger = l.WithOptions(zap.AddCallerSkip(1)).Sugar()
	mu.Unlock()
}

// New builds a standalone sugared logger sharing the global atomic level.
func New(cfg *Config) *zap.SugaredLogger {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	level.SetLevel(parseLevel(cfg.Level))

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "timestamp"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.LevelKey = "level"
	encoderCfg.CallerKey = "caller"
	encoderCfg.MessageKey = "msg"
	encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	var encoder zapcore.Encoder
	if cfg.Encoding == "json" {
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	} else {
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), level)
	return zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)).Sugar()
}

// SetLevel updates the level of every logger built by this package.
func SetLevel(l string) {
	level.SetLevel(parseLevel(l))
}

func parseLevel(l string) zapcore.Level {
	switch l {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// GetLogger returns the global logger instance
func GetLogger() *zap.SugaredLogger {
	mu.RLock()
	l := globalLogger
	mu.RUnlock()
	if l != nil {
		return l
	}
	mu.Lock()
	defer mu.Unlock()
	if globalLogger == nil {
		globalLogger = New(DefaultConfig())
	}
	return globalLogger
}

// With returns a child logger carrying the given key/value pairs.
func With(keysAndValues ...interface{}) *zap.SugaredLogger {
	return GetLogger().With(keysAndValues...)
}

// Sync flushes any buffered log entries
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	if globalLogger != nil {
		_ = globalLogger.Sync()
	}
}

func Debugw(msg string, keysAndValues ...interface{}) { GetLogger().Debugw(msg, keysAndValues...) }
func Infow(msg string, keysAndValues ...interface{})  { GetLogger().Infow(msg, keysAndValues...) }
func Warnw(msg string, keysAndValues ...interface{})  { GetLogger().Warnw(msg, keysAndValues...) }
func Errorw(msg string, keysAndValues ...interface{}) { GetLogger().Errorw(msg, keysAndValues...) }

// Debugf logs debug level messages with formatting
func Debugf(msg string, args ...interface{}) { GetLogger().Debugf(msg, args...) }

// Infof logs info level messages with formatting
func Infof(msg string, args ...interface{}) { GetLogger().Infof(msg, args...) }

// Warnf logs warning level messages with formatting
func Warnf(msg string, args ...interface{}) { GetLogger().Warnf(msg, args...) }

// Errorf logs error level messages with formatting
func Errorf(msg string, args ...interface{}) { GetLogger().Errorf(msg, args...) }

// Fatalf logs fatal level messages with formatting and exits
func Fatalf(msg string, args ...interface{}) { GetLogger().Fatalf(msg, args...) }
