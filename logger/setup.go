package logger

import (
	"log"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is a thin wrapper around Uber's Zap logger.
// It is passed to the storage adapter as an explicit capability; nothing in
// this module logs through a process-wide singleton.
type Logger struct {
	// Zap is the underlying zap.Logger instance, exposed for callers that
	// need Zap-specific functionality. Most logging should go through the
	// wrapper methods.
	Zap *zap.Logger
}

// NewLogger builds a configured Logger.
//
// The logger writes JSON entries to stderr with ISO8601 timestamps, capital
// level names, caller information and the configured service name as a
// default field. If initialization fails the process terminates; a storage
// layer without a working logger is not worth starting.
func NewLogger(cfg Config) *Logger {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "timestamp"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	encoderCfg.EncodeDuration = zapcore.MillisDurationEncoder

	logLevel := zap.InfoLevel
	switch cfg.Level {
	case Debug:
		logLevel = zap.DebugLevel
	case Info:
		logLevel = zap.InfoLevel
	case Warning:
		logLevel = zap.WarnLevel
	case Error:
		logLevel = zap.ErrorLevel
	}

	config := zap.Config{
		Level:         zap.NewAtomicLevelAt(logLevel),
		Encoding:      "json",
		EncoderConfig: encoderCfg,
		OutputPaths:   []string{"stderr"},
		ErrorOutputPaths: []string{
			"stderr",
		},
		InitialFields: map[string]interface{}{
			"pid":     os.Getpid(),
			"service": cfg.ServiceName,
		},
	}

	zl, err := config.Build(zap.AddCaller(), zap.AddCallerSkip(1))
	if err != nil {
		log.Fatal(err)
	}

	return &Logger{Zap: zl}
}

// NewNop returns a Logger that discards everything. Useful as a default in
// tests and for callers that do not care about adapter diagnostics.
func NewNop() *Logger {
	return &Logger{Zap: zap.NewNop()}
}

// Debug logs at debug level with structured fields.
func (l *Logger) Debug(msg string, fields ...zap.Field) {
	l.Zap.Debug(msg, fields...)
}

// Info logs at info level with structured fields.
func (l *Logger) Info(msg string, fields ...zap.Field) {
	l.Zap.Info(msg, fields...)
}

// Warn logs at warning level with structured fields.
func (l *Logger) Warn(msg string, fields ...zap.Field) {
	l.Zap.Warn(msg, fields...)
}

// Error logs at error level with structured fields.
func (l *Logger) Error(msg string, fields ...zap.Field) {
	l.Zap.Error(msg, fields...)
}
