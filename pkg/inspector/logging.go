package inspector

import (
	"context"
	"log/slog"
)

// LoggingConfig holds logging reporter configuration.
type LoggingConfig struct {
	Level  slog.Level
	Fields map[string]interface{}
}

// LoggingOption configures a LoggingReporter.
type LoggingOption func(*LoggingConfig)

// WithLogLevel sets the level of lifecycle log records.
func WithLogLevel(level slog.Level) LoggingOption {
	return func(c *LoggingConfig) {
		c.Level = level
	}
}

// WithLogFields sets additional fields to include in all log entries.
func WithLogFields(fields map[string]interface{}) LoggingOption {
	return func(c *LoggingConfig) {
		c.Fields = fields
	}
}

// LoggingReporter writes a structured log record for every lifecycle
// transition and forwards it to the wrapped Reporter.
type LoggingReporter struct {
	next   Reporter
	logger *slog.Logger
	config LoggingConfig
}

// NewLoggingReporter wraps next with structured logging.
func NewLoggingReporter(next Reporter, logger *slog.Logger, opts ...LoggingOption) *LoggingReporter {
	config := LoggingConfig{
		Level:  slog.LevelInfo,
		Fields: make(map[string]interface{}),
	}

	for _, opt := range opts {
		opt(&config)
	}

	return &LoggingReporter{
		next:   next,
		logger: logger,
		config: config,
	}
}

// GetConfig returns the logging configuration.
func (r *LoggingReporter) GetConfig() LoggingConfig {
	return r.config
}

// BeginRequest implements Reporter.
func (r *LoggingReporter) BeginRequest(key string) string {
	id := r.next.BeginRequest(key)

	attrs := []slog.Attr{
		slog.String("event", "request_started"),
		slog.String("request_key", key),
		slog.String("request_id", id),
	}
	r.logger.LogAttrs(context.Background(), r.config.Level, "Request started", r.withFields(attrs)...)

	return id
}

// ReportTerminal implements Reporter.
func (r *LoggingReporter) ReportTerminal(id string, outcome Outcome) {
	r.next.ReportTerminal(id, outcome)

	attrs := []slog.Attr{
		slog.String("event", "request_settled"),
		slog.String("request_id", id),
		slog.String("status", string(outcome.Status)),
	}

	level := r.config.Level
	switch outcome.Status {
	case StatusSuccess:
		attrs = append(attrs,
			slog.Bool("cache_hit", outcome.CacheHit),
			slog.Int64("duration_ms", outcome.Duration.Milliseconds()))
	case StatusAborted:
		attrs = append(attrs, slog.Int64("duration_ms", outcome.Duration.Milliseconds()))
	case StatusError:
		attrs = append(attrs, slog.String("error", outcome.ErrorMessage))
		level = max(level, slog.LevelWarn)
	}

	r.logger.LogAttrs(context.Background(), level, "Request settled", r.withFields(attrs)...)
}

func (r *LoggingReporter) withFields(attrs []slog.Attr) []slog.Attr {
	for k, v := range r.config.Fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	return attrs
}
