// Package logger is the component-tagged logging front end used across
// clawfeed. Every call names the component it comes from:
//
//	logger.InfoCF("ws", "Client connected", map[string]interface{}{"id": id})
//
// Output goes through log/slog to stderr, and optionally to a size-rotated
// file.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures Init.
type Options struct {
	Level  string // debug | info | warn | error
	Format string // text | json

	// File enables rotated file output in addition to stderr.
	File       string
	MaxSizeMB  int
	MaxBackups int
}

var current atomic.Pointer[slog.Logger]

func init() {
	current.Store(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))
}

// Init replaces the process logger. The returned closer releases the log file,
// if any.
func Init(opts Options) io.Closer {
	var w io.Writer = os.Stderr
	var closer io.Closer = nopCloser{}

	if opts.File != "" {
		lj := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			Compress:   true,
		}
		w = io.MultiWriter(os.Stderr, lj)
		closer = lj
	}

	SetOutput(w, opts.Format, ParseLevel(opts.Level))
	return closer
}

// SetOutput points the logger at w. Used by Init and by tests capturing logs.
func SetOutput(w io.Writer, format string, level slog.Level) {
	handlerOpts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, handlerOpts)
	} else {
		handler = slog.NewTextHandler(w, handlerOpts)
	}
	current.Store(slog.New(handler))
}

// ParseLevel converts "debug", "info", "warn" or "error" to a slog.Level.
// Unknown strings default to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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

func emit(level slog.Level, component, msg string, fields map[string]interface{}) {
	l := current.Load()
	attrs := make([]any, 0, 2+2*len(fields))
	attrs = append(attrs, "component", component)
	for k, v := range fields {
		attrs = append(attrs, k, v)
	}
	l.Log(context.Background(), level, msg, attrs...)
}

func DebugC(component, msg string) { emit(slog.LevelDebug, component, msg, nil) }
func InfoC(component, msg string)  { emit(slog.LevelInfo, component, msg, nil) }
func WarnC(component, msg string)  { emit(slog.LevelWarn, component, msg, nil) }
func ErrorC(component, msg string) { emit(slog.LevelError, component, msg, nil) }

func DebugCF(component, msg string, fields map[string]interface{}) {
	emit(slog.LevelDebug, component, msg, fields)
}

func InfoCF(component, msg string, fields map[string]interface{}) {
	emit(slog.LevelInfo, component, msg, fields)
}

func WarnCF(component, msg string, fields map[string]interface{}) {
	emit(slog.LevelWarn, component, msg, fields)
}

func ErrorCF(component, msg string, fields map[string]interface{}) {
	emit(slog.LevelError, component, msg, fields)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
