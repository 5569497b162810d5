// Package logger builds the daemon's slog logger.
//
// Records are written one per line:
//
//	2006-01-02T15:04:05.000Z [LEVEL] message | key=value, key2=value2
//
// either to stderr or to a size-rotated file.
package logger

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	LevelTrace slog.Level = -8
	LevelDebug slog.Level = slog.LevelDebug
	LevelInfo  slog.Level = slog.LevelInfo
	LevelWarn  slog.Level = slog.LevelWarn
	LevelError slog.Level = slog.LevelError
	LevelFail  slog.Level = 12
)

func levelName(l slog.Level) string {
	switch {
	case l <= LevelTrace:
		return "TRACE"
	case l <= LevelDebug:
		return "DEBUG"
	case l <= LevelInfo:
		return "INFO"
	case l <= LevelWarn:
		return "WARN"
	case l <= LevelError:
		return "ERROR"
	default:
		return "FAIL"
	}
}

// ParseLevel converts a case-insensitive level name. Unknown names map to LevelInfo.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "trace":
		return LevelTrace
	case "debug":
		return LevelDebug
	case "warn":
		return LevelWarn
	case "error":
		return LevelError
	case "fail":
		return LevelFail
	default:
		return LevelInfo
	}
}

// Handler is a slog.Handler writing the line format described in the package doc.
type Handler struct {
	w     io.Writer
	mu    *sync.Mutex // shared by handlers derived through WithAttrs/WithGroup
	level slog.Level
	attrs []string
	group string
}

func NewHandler(w io.Writer, level slog.Level) *Handler {
	return &Handler{w: w, level: level, mu: &sync.Mutex{}}
}

func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	var buf strings.Builder

	buf.WriteString(r.Time.UTC().Format("2006-01-02T15:04:05.000Z"))
	buf.WriteString(" [")
	buf.WriteString(levelName(r.Level))
	buf.WriteString("] ")
	buf.WriteString(r.Message)

	attrs := make([]string, 0, len(h.attrs)+r.NumAttrs())
	attrs = append(attrs, h.attrs...)
	r.Attrs(func(a slog.Attr) bool {
		attrs = appendAttr(attrs, h.group, a)
		return true
	})

	if len(attrs) > 0 {
		buf.WriteString(" | ")
		buf.WriteString(strings.Join(attrs, ", "))
	}
	buf.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, buf.String())
	return err
}

// appendAttr renders a as key=value, skipping empty attrs the way slog's own
// handlers do.
func appendAttr(dst []string, group string, a slog.Attr) []string {
	if a.Equal(slog.Attr{}) {
		return dst
	}

	key := a.Key
	if group != "" {
		key = group + "." + key
	}

	return append(dst, key+"="+a.Value.Resolve().String())
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	rendered := make([]string, len(h.attrs), len(h.attrs)+len(attrs))
	copy(rendered, h.attrs)
	for _, a := range attrs {
		rendered = appendAttr(rendered, h.group, a)
	}
	return &Handler{w: h.w, mu: h.mu, level: h.level, attrs: rendered, group: h.group}
}

func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	group := name
	if h.group != "" {
		group = h.group + "." + name
	}
	return &Handler{w: h.w, mu: h.mu, level: h.level, attrs: h.attrs, group: group}
}

// Options selects where and how much the daemon logs.
type Options struct {
	Level string
	// File is the log file path; empty logs to the fallback writer.
	File string
	// MaxSizeMB is the rotation threshold of File.
	MaxSizeMB int
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// New creates the daemon logger. With a File it writes to a lumberjack rotated
// file, keeping three backups for 28 days; otherwise it writes to fallback. The
// returned Closer flushes and closes the file.
func New(opts Options, fallback io.Writer) (*slog.Logger, io.Closer) {
	level := ParseLevel(opts.Level)

	if opts.File == "" {
		return slog.New(NewHandler(fallback, level)), nopCloser{}
	}

	lj := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: 3,
		MaxAge:     28,
	}

	return slog.New(NewHandler(lj, level)), lj
}

// Trace logs at LevelTrace.
func Trace(logger *slog.Logger, msg string, args ...any) {
	logger.Log(context.Background(), LevelTrace, msg, args...)
}

// Fail logs at LevelFail.
func Fail(logger *slog.Logger, msg string, args ...any) {
	logger.Log(context.Background(), LevelFail, msg, args...)
}
