package services

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger defines common logging interface for all services
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
}

// ProductionLogger writes leveled key/value logs through zerolog.
type ProductionLogger struct {
	logger zerolog.Logger
}

// NewProductionLogger creates a logger writing JSON lines to w.
func NewProductionLogger(w io.Writer, service string, level zerolog.Level) *ProductionLogger {
	return &ProductionLogger{
		logger: zerolog.New(w).Level(level).With().Timestamp().Str("service", service).Logger(),
	}
}

// NewConsoleLogger creates a human-readable logger for development.
func NewConsoleLogger(w io.Writer, service string, level zerolog.Level) *ProductionLogger {
	console := zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	return NewProductionLogger(console, service, level)
}

func (p *ProductionLogger) Info(msg string, keysAndValues ...interface{}) {
	withFields(p.logger.Info(), keysAndValues).Msg(msg)
}

func (p *ProductionLogger) Error(msg string, keysAndValues ...interface{}) {
	withFields(p.logger.Error(), keysAndValues).Msg(msg)
}

func (p *ProductionLogger) Debug(msg string, keysAndValues ...interface{}) {
	withFields(p.logger.Debug(), keysAndValues).Msg(msg)
}

func (p *ProductionLogger) Warn(msg string, keysAndValues ...interface{}) {
	withFields(p.logger.Warn(), keysAndValues).Msg(msg)
}

// withFields attaches key/value pairs; a trailing key without value is dropped.
func withFields(event *zerolog.Event, keysAndValues []interface{}) *zerolog.Event {
	if event == nil || len(keysAndValues) < 2 {
		return event
	}
	fields := make(map[string]interface{}, len(keysAndValues)/2)
	for i := 0; i < len(keysAndValues)-1; i += 2 {
		if key, ok := keysAndValues[i].(string); ok {
			fields[key] = keysAndValues[i+1]
		}
	}
	return event.Fields(fields)
}

// NoOpLogger is a logger that does nothing (for testing)
type NoOpLogger struct{}

func (n *NoOpLogger) Info(msg string, keysAndValues ...interface{})  {}
func (n *NoOpLogger) Error(msg string, keysAndValues ...interface{}) {}
func (n *NoOpLogger) Debug(msg string, keysAndValues ...interface{}) {}
func (n *NoOpLogger) Warn(msg string, keysAndValues ...interface{})  {}

// NewLogger picks an implementation from GO_ENV / ENV and LOG_LEVEL.
func NewLogger(service string) Logger {
	env := os.Getenv("GO_ENV")
	if env == "test" {
		return &NoOpLogger{}
	}

	level := parseLevel(os.Getenv("LOG_LEVEL"))
	if env == "production" || strings.ToLower(os.Getenv("ENV")) == "production" {
		return NewProductionLogger(os.Stdout, service, level)
	}
	return NewConsoleLogger(os.Stdout, service, level)
}

func parseLevel(raw string) zerolog.Level {
	switch strings.ToUpper(raw) {
	case "DEBUG":
		return zerolog.DebugLevel
	case "WARN":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
