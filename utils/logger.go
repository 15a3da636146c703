package utils

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/fluent/fluent-logger-golang/fluent"
	"github.com/lmittmann/tint"
)

// FluentPoster is the subset of the fluentd client the logger forwards to.
type FluentPoster interface {
	Post(tag string, message interface{}) error
	Close() error
}

// LogOptions configures NewLoggerWithOptions.
type LogOptions struct {
	Level     string // debug, info, warn, error
	Format    string // text or json
	Writer    io.Writer
	NoColor   bool
	Fluent    FluentPoster
	FluentTag string
}

// Logger provides leveled logging throughout the application. Messages are
// printf-style and carry a "[component]" prefix by convention.
type Logger struct {
	slog      *slog.Logger
	fluent    FluentPoster
	fluentTag string
}

// NewLogger creates a Logger writing coloured text to stdout at info level.
func NewLogger() *Logger {
	return NewLoggerWithOptions(LogOptions{})
}

// NewLoggerWithOptions builds a Logger from opts.
func NewLoggerWithOptions(opts LogOptions) *Logger {
	w := opts.Writer
	if w == nil {
		w = os.Stdout
	}
	level := ParseLevel(opts.Level)

	var handler slog.Handler
	if strings.EqualFold(opts.Format, "json") {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	} else {
		handler = tint.NewHandler(w, &tint.Options{
			Level:      level,
			TimeFormat: "2006-01-02 15:04:05",
			NoColor:    opts.NoColor,
		})
	}

	return &Logger{
		slog:      slog.New(handler),
		fluent:    opts.Fluent,
		fluentTag: opts.FluentTag,
	}
}

// NewDiscardLogger returns a Logger that drops everything. Used by tests.
func NewDiscardLogger() *Logger {
	return NewLoggerWithOptions(LogOptions{Writer: io.Discard, NoColor: true})
}

// NewFluentClient connects to a fluentd forwarder.
func NewFluentClient(host string, port int) (*fluent.Fluent, error) {
	client, err := fluent.New(fluent.Config{
		FluentHost:    host,
		FluentPort:    port,
		Async:         true,
		MarshalAsJSON: true,
	})
	if err != nil {
		return nil, fmt.Errorf("fluent: connect %s:%d: %w", host, port, err)
	}
	return client, nil
}

// ParseLevel maps a level name to a slog level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

func (l *Logger) Info(format string, args ...any) {
	l.log(slog.LevelInfo, format, args...)
}

func (l *Logger) Warn(format string, args ...any) {
	l.log(slog.LevelWarn, format, args...)
}

func (l *Logger) Error(format string, args ...any) {
	l.log(slog.LevelError, format, args...)
}

func (l *Logger) Debug(format string, args ...any) {
	l.log(slog.LevelDebug, format, args...)
}

// Close flushes and closes the fluentd sink, if any.
func (l *Logger) Close() error {
	if l.fluent == nil {
		return nil
	}
	return l.fluent.Close()
}

func (l *Logger) log(level slog.Level, format string, args ...any) {
	ctx := context.Background()
	if !l.slog.Enabled(ctx, level) {
		return
	}
	msg := fmt.Sprintf(format, args...)
	l.slog.Log(ctx, level, msg)

	if l.fluent != nil {
		// Fluent failures must not recurse into the logger.
		_ = l.fluent.Post(l.fluentTag, map[string]interface{}{
			"level":     level.String(),
			"message":   msg,
			"timestamp": time.Now().Format(time.RFC3339),
		})
	}
}
