// Package logging wraps log/slog with the helpers the pipeline stages share.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Logger wraps slog.Logger with domain-specific methods
type Logger struct {
	*slog.Logger
}

// ParseLevel converts a level name to a slog level, defaulting to info
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// New creates a logger writing to w in "text" or "json" format. A nil
// writer means stderr.
func New(level, format string, w io.Writer) *Logger {
	if w == nil {
		w = os.Stderr
	}

	opts := &slog.HandlerOptions{
		Level: ParseLevel(level),
	}

	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return &Logger{slog.New(handler)}
}

// Discard returns a logger that drops everything
func Discard() *Logger {
	return &Logger{slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// WithComponent adds a component field to the logger
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{l.With("component", component)}
}

// WithRunID adds the pipeline run identifier
func (l *Logger) WithRunID(runID string) *Logger {
	return &Logger{l.With("run_id", runID)}
}

// LogStage logs the completion of a pipeline stage
func (l *Logger) LogStage(stage string, in, out int) {
	l.Info("Stage completed",
		"stage", stage,
		"in", in,
		"out", out,
	)
}

// LogAnomalyCounts logs the number of flagged records per anomaly kind
func (l *Logger) LogAnomalyCounts(zero, type1, type2, type3 int) {
	l.Info("Anomalies detected",
		"zero_in_heating_season", zero,
		"temporal_type_1", type1,
		"temporal_type_2", type2,
		"temporal_type_3", type3,
	)
}

// LogDeviation logs a deviation run over a slice
func (l *Logger) LogDeviation(records int, mean float64, high, low int) {
	l.Info("Deviation computed",
		"records", records,
		"mean", fmt.Sprintf("%.2f", mean),
		"high", high,
		"low", low,
	)
}

// LogCache logs a cache lookup
func (l *Logger) LogCache(backend, key string, hit bool) {
	short := key
	if len(short) > 12 {
		short = short[:12]
	}
	l.Debug("Cache lookup",
		"backend", backend,
		"key", short,
		"hit", hit,
	)
}

// Timing logs the start of an operation at debug level and returns a
// function that logs its duration.
func (l *Logger) Timing(operation string) func() {
	start := time.Now()
	l.Debug("Starting", "operation", operation)

	return func() {
		l.Debug("Completed",
			"operation", operation,
			"duration", time.Since(start),
		)
	}
}

// UserMessage outputs a message directly to stdout (bypassing structured logging)
func (l *Logger) UserMessage(format string, args ...interface{}) {
	fmt.Printf(format+"\n", args...)
}
