// Package log provides the logging functionality for nvswitchd.
package log

import (
	"context"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the process-wide logger. Interrupt passes, the deferred
// scheduler and the sinks all log through it.
var Logger *nvswitchLogger

var nopLogger = zap.NewNop().Sugar()

func init() {
	Logger = CreateLoggerWithConfig(DefaultLoggerConfig())
}

func DefaultLoggerConfig() *zap.Config {
	c := zap.NewProductionConfig()
	c.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return &c
}

// CreateLoggerWithLumberjack writes JSON logs to a rotated file.
func CreateLoggerWithLumberjack(logFile string, maxSize int, logLevel zapcore.Level) *nvswitchLogger {
	w := zapcore.AddSync(&lumberjack.Logger{
		Filename:   logFile,
		MaxSize:    maxSize, // megabytes
		MaxBackups: 5,
		MaxAge:     3,    // days
		Compress:   true, // compress the rotated files
	})

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		w,
		logLevel,
	)
	return newLogger(zap.New(core).Sugar())
}

func ParseLogLevel(logLevel string) (zap.AtomicLevel, error) {
	zapLvl := zap.NewAtomicLevel() // info level by default
	if logLevel != "" && logLevel != "info" {
		var err error
		zapLvl, err = zap.ParseAtomicLevel(logLevel)
		if err != nil {
			return zap.AtomicLevel{}, err
		}
	}
	return zapLvl, nil
}

func CreateLogger(logLevel zap.AtomicLevel, logFile string) *nvswitchLogger {
	if logFile != "" {
		return CreateLoggerWithLumberjack(logFile, 128, logLevel.Level())
	}

	lCfg := DefaultLoggerConfig()
	lCfg.Level = logLevel
	return CreateLoggerWithConfig(lCfg)
}

func CreateLoggerWithConfig(config *zap.Config) *nvswitchLogger {
	if config == nil {
		config = DefaultLoggerConfig()
	}

	l, err := config.Build()
	if err != nil {
		panic(err)
	}
	return newLogger(l.Sugar())
}

// NewNopLogger discards everything; used by tests that drive
// interrupt storms and do not want the output.
func NewNopLogger() *nvswitchLogger {
	return newLogger(nil)
}

type nvswitchLogger struct {
	logger atomic.Pointer[zap.SugaredLogger]
}

func newLogger(logger *zap.SugaredLogger) *nvswitchLogger {
	l := &nvswitchLogger{}
	l.set(logger)
	return l
}

func (l *nvswitchLogger) get() *zap.SugaredLogger {
	if l == nil {
		return nopLogger
	}
	logger := l.logger.Load()
	if logger == nil {
		return nopLogger
	}
	return logger
}

func (l *nvswitchLogger) set(logger *zap.SugaredLogger) {
	if logger == nil {
		logger = nopLogger
	}
	l.logger.Store(logger)
}

// SetLogger swaps the underlying logger of the process-wide Logger.
func SetLogger(logger *nvswitchLogger) {
	if logger == nil {
		Logger.set(nil)
		return
	}
	Logger.set(logger.get())
}

// Errorw downgrades context cancellation to a warning; a cancelled
// service loop is a shutdown, not a fault.
func (l *nvswitchLogger) Errorw(msg string, keysAndValues ...interface{}) {
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		if keysAndValues[i] != "error" {
			continue
		}
		if err, ok := keysAndValues[i+1].(error); ok {
			if strings.Contains(err.Error(), context.Canceled.Error()) {
				l.Warnw(msg, keysAndValues...)
				return
			}
		}
	}
	l.get().Errorw(msg, keysAndValues...)
}

func (l *nvswitchLogger) Debugw(msg string, keysAndValues ...interface{}) {
	l.get().Debugw(msg, keysAndValues...)
}

func (l *nvswitchLogger) Infow(msg string, keysAndValues ...interface{}) {
	l.get().Infow(msg, keysAndValues...)
}

func (l *nvswitchLogger) Infof(template string, args ...interface{}) {
	l.get().Infof(template, args...)
}

func (l *nvswitchLogger) Warnw(msg string, keysAndValues ...interface{}) {
	l.get().Warnw(msg, keysAndValues...)
}

func (l *nvswitchLogger) Errorf(template string, args ...interface{}) {
	l.get().Errorf(template, args...)
}

func (l *nvswitchLogger) With(args ...interface{}) *zap.SugaredLogger {
	return l.get().With(args...)
}

func (l *nvswitchLogger) Sync() error {
	return l.get().Sync()
}
