package logging

import (
	"fmt"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"
)

// Level names the configuration-facing log levels; it is a string rather
// than logrus.Level so configuration code can fill LoggerConfig without
// importing logrus.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
	LevelFatal Level = "fatal"
)

// LoggerConfig configures NewLogger.
type LoggerConfig struct {
	Level      Level
	Format     string // "json" or "text"
	AddCaller  bool
	TimeFormat string
}

// DefaultLoggerConfig returns sensible defaults: info level, text format,
// RFC3339 timestamps.
func DefaultLoggerConfig() LoggerConfig {
	return LoggerConfig{
		Level:      LevelInfo,
		Format:     "text",
		AddCaller:  false,
		TimeFormat: time.RFC3339,
	}
}

// NewLogger builds a *logrus.Logger from config, wired to OutputSplitter so
// callers get stream separation regardless of which formatter they pick.
func NewLogger(cfg LoggerConfig) *logrus.Logger {
	logger := logrus.New()

	switch cfg.Level {
	case LevelDebug:
		logger.SetLevel(logrus.DebugLevel)
	case LevelWarn:
		logger.SetLevel(logrus.WarnLevel)
	case LevelError:
		logger.SetLevel(logrus.ErrorLevel)
	case LevelFatal:
		logger.SetLevel(logrus.FatalLevel)
	default:
		logger.SetLevel(logrus.InfoLevel)
	}

	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: cfg.TimeFormat})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{TimestampFormat: cfg.TimeFormat, FullTimestamp: true})
	}

	logger.SetReportCaller(cfg.AddCaller)
	logger.SetOutput(OutputSplitter{})
	return logger
}

// ContextLogger carries a fixed set of structured fields across a call
// chain (database name, doc id, replication id, ...) so every log line
// emitted by an operation shares the same context without the caller
// repeating WithFields at every step. Backends hold one per database
// instance; the replicator and changesfeed derive one per run.
type ContextLogger struct {
	logger *logrus.Logger
	fields logrus.Fields
}

// NewContextLogger creates a ContextLogger over logger (the global Logger if
// nil) seeded with fields.
func NewContextLogger(logger *logrus.Logger, fields map[string]interface{}) *ContextLogger {
	if logger == nil {
		logger = Logger
	}
	base := make(logrus.Fields, len(fields))
	for k, v := range fields {
		base[k] = v
	}
	return &ContextLogger{logger: logger, fields: base}
}

func (cl *ContextLogger) clone(add logrus.Fields) *ContextLogger {
	merged := make(logrus.Fields, len(cl.fields)+len(add))
	for k, v := range cl.fields {
		merged[k] = v
	}
	for k, v := range add {
		merged[k] = v
	}
	return &ContextLogger{logger: cl.logger, fields: merged}
}

// WithField returns a derived ContextLogger with one extra field.
func (cl *ContextLogger) WithField(key string, value interface{}) *ContextLogger {
	return cl.clone(logrus.Fields{key: value})
}

// WithFields returns a derived ContextLogger with the given fields merged
// in, overriding any that already exist.
func (cl *ContextLogger) WithFields(fields map[string]interface{}) *ContextLogger {
	merged := make(logrus.Fields, len(fields))
	for k, v := range fields {
		merged[k] = v
	}
	return cl.clone(merged)
}

// WithError attaches err's message as the "error" field.
func (cl *ContextLogger) WithError(err error) *ContextLogger {
	return cl.WithField("error", err.Error())
}

func (cl *ContextLogger) Debug(msg string)                          { cl.logger.WithFields(cl.fields).Debug(msg) }
func (cl *ContextLogger) Debugf(format string, args ...interface{}) { cl.logger.WithFields(cl.fields).Debugf(format, args...) }
func (cl *ContextLogger) Info(msg string)                           { cl.logger.WithFields(cl.fields).Info(msg) }
func (cl *ContextLogger) Infof(format string, args ...interface{})  { cl.logger.WithFields(cl.fields).Infof(format, args...) }
func (cl *ContextLogger) Warn(msg string)                           { cl.logger.WithFields(cl.fields).Warn(msg) }
func (cl *ContextLogger) Warnf(format string, args ...interface{})  { cl.logger.WithFields(cl.fields).Warnf(format, args...) }
func (cl *ContextLogger) Error(msg string)                          { cl.logger.WithFields(cl.fields).Error(msg) }
func (cl *ContextLogger) Errorf(format string, args ...interface{}) { cl.logger.WithFields(cl.fields).Errorf(format, args...) }
func (cl *ContextLogger) Fatal(msg string)                          { cl.logger.WithFields(cl.fields).Fatal(msg) }

// BackendLogger returns a ContextLogger tagged with the backend kind
// ("memory", "kvstore", "couchremote") and database name, the constructor
// every store.Adapter implementation uses for its instance logger.
func BackendLogger(backend, database string) *ContextLogger {
	return NewContextLogger(Logger, map[string]interface{}{
		"backend":  backend,
		"database": database,
	})
}

// ReplicationLogger returns a ContextLogger tagged with a replication id,
// for use across one replicate.Run call.
func ReplicationLogger(replicationID string) *ContextLogger {
	return NewContextLogger(Logger, map[string]interface{}{
		"replication_id": replicationID,
	})
}

// LogOperation runs fn, logging its start, duration, and outcome under
// operation.
func LogOperation(logger *ContextLogger, operation string, fn func() error) error {
	start := time.Now()
	logger.WithField("operation", operation).Debug("operation started")

	err := fn()

	entry := logger.WithFields(map[string]interface{}{
		"operation":   operation,
		"duration_ms": time.Since(start).Milliseconds(),
	})
	if err != nil {
		entry.WithError(err).Error("operation failed")
		return err
	}
	entry.Debug("operation completed")
	return nil
}

// LogPanic recovers a panic in progress and logs it with a stack trace; it
// must be called via defer.
func LogPanic(logger *ContextLogger) {
	if r := recover(); r != nil {
		buf := make([]byte, 4096)
		n := runtime.Stack(buf, false)
		logger.WithFields(map[string]interface{}{
			"panic":      fmt.Sprintf("%v", r),
			"stacktrace": string(buf[:n]),
		}).Error("panic recovered")
	}
}

// HTTPFields returns standard fields for logging a request made by the
// couchremote backend.
func HTTPFields(method, path string, statusCode int, duration time.Duration) map[string]interface{} {
	return map[string]interface{}{
		"http_method":      method,
		"http_path":        path,
		"http_status_code": statusCode,
		"duration_ms":      duration.Milliseconds(),
	}
}

// ReplicationFields returns standard fields summarizing one replication
// batch or run.
func ReplicationFields(replicationID string, docsRead, docsWritten int, lastSeq string) map[string]interface{} {
	return map[string]interface{}{
		"replication_id": replicationID,
		"docs_read":       docsRead,
		"docs_written":    docsWritten,
		"last_seq":        lastSeq,
	}
}
