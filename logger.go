package kunci

import (
	"io"
	"log/slog"
	"os"

	"github.com/google/uuid"
)

// Logger is the structured logging interface used for debug output. Key/value
// pairs follow the log/slog convention.
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// DebugConfig selects which parts of the request lifecycle are logged.
type DebugConfig struct {
	Enabled       bool
	LogRequests   bool
	LogRenewals   bool
	LogTransforms bool
	RequestIDGen  func() string
}

// DefaultDebugConfig returns a disabled config with every category selected,
// so enabling it logs everything.
func DefaultDebugConfig() *DebugConfig {
	return &DebugConfig{
		Enabled:       false,
		LogRequests:   true,
		LogRenewals:   true,
		LogTransforms: true,
		RequestIDGen:  generateRequestID,
	}
}

func generateRequestID() string {
	return "req_" + uuid.NewString()
}

// SimpleLogger writes text records through log/slog.
type SimpleLogger struct {
	logger *slog.Logger
}

// NewSimpleLogger logs at debug level to stderr.
func NewSimpleLogger() *SimpleLogger {
	return NewSimpleLoggerWithWriter(os.Stderr)
}

// NewSimpleLoggerWithWriter logs at debug level to w.
func NewSimpleLoggerWithWriter(w io.Writer) *SimpleLogger {
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug})
	return &SimpleLogger{logger: slog.New(handler).With("component", "kunci")}
}

func (l *SimpleLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l *SimpleLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Info(msg, keysAndValues...)
}

func (l *SimpleLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.logger.Warn(msg, keysAndValues...)
}

func (l *SimpleLogger) Error(msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, keysAndValues...)
}
