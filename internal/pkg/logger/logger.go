// Package logger provides structured logging for the render pipeline,
// built on log/slog with JSON output by default.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

type contextKey string

const (
	// RequestIDKey carries the HTTP request ID through a context.
	RequestIDKey contextKey = "request_id"
	// JobIDKey carries the render job ID through a context.
	JobIDKey contextKey = "job_id"
)

// Logger embeds slog.Logger, so Info/Warn/Error and friends are
// available directly alongside the pipeline helpers below.
type Logger struct {
	*slog.Logger
}

type Config struct {
	Level       string // debug, info, warn, error
	Format      string // json (default) or text
	Output      io.Writer
	AddSource   bool
	ServiceName string
}

func New(cfg Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}

	opts := &slog.HandlerOptions{
		Level:     parseLevel(cfg.Level),
		AddSource: cfg.AddSource,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			// Timestamps in UTC so log lines from the API and the worker
			// interleave cleanly.
			if a.Key == slog.TimeKey {
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.UTC().Format(time.RFC3339Nano))
				}
			}
			return a
		},
	}

	var h slog.Handler
	if cfg.Format == "text" {
		h = slog.NewTextHandler(out, opts)
	} else {
		h = slog.NewJSONHandler(out, opts)
	}
	if cfg.ServiceName != "" {
		h = h.WithAttrs([]slog.Attr{slog.String("service", cfg.ServiceName)})
	}

	return &Logger{Logger: slog.New(h)}
}

// NewDefault builds a logger from LOG_LEVEL, LOG_FORMAT and LOG_SOURCE.
func NewDefault() *Logger {
	return New(Config{
		Level:       getEnv("LOG_LEVEL", "info"),
		Format:      getEnv("LOG_FORMAT", "json"),
		AddSource:   getEnv("LOG_SOURCE", "false") == "true",
		ServiceName: getEnv("SERVICE_NAME", "sharewear"),
	})
}

func (l *Logger) with(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// WithRequestID tags subsequent log lines with the request ID.
func (l *Logger) WithRequestID(requestID string) *Logger {
	return l.with("request_id", requestID)
}

// WithJobID tags subsequent log lines with the render job ID.
func (l *Logger) WithJobID(jobID string) *Logger {
	return l.with("job_id", jobID)
}

// WithStage tags subsequent log lines with the pipeline stage.
func (l *Logger) WithStage(stage string) *Logger {
	return l.with("stage", stage)
}

// WithComponent tags subsequent log lines with a component name.
func (l *Logger) WithComponent(component string) *Logger {
	return l.with("component", component)
}

// FromContext returns a logger enriched with whatever request and job
// IDs the context carries.
func (l *Logger) FromContext(ctx context.Context) *Logger {
	out := l
	if reqID, ok := ctx.Value(RequestIDKey).(string); ok && reqID != "" {
		out = out.WithRequestID(reqID)
	}
	if jobID, ok := ctx.Value(JobIDKey).(string); ok && jobID != "" {
		out = out.WithJobID(jobID)
	}
	return out
}

// LogFatal logs the error and exits. Startup use only.
func (l *Logger) LogFatal(msg string, err error, args ...any) {
	if err != nil {
		args = append(args, "error", err.Error())
	}
	l.Error(msg, args...)
	os.Exit(1)
}

func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

func ContextWithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, JobIDKey, jobID)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
