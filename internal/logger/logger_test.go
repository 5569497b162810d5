package logger

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerFormat(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewHandler(&buf, LevelInfo))

	log.Warn("signal received", "signal", "TERM", "signalCode", 15)

	line := strings.TrimRight(buf.String(), "\n")
	assert.Contains(t, line, " [WARN] signal received | signal=TERM, signalCode=15")
	assert.True(t, strings.HasSuffix(strings.SplitN(line, " [", 2)[0], "Z"), "UTC timestamp")
}

func TestHandlerNoAttrs(t *testing.T) {
	var buf bytes.Buffer
	slog.New(NewHandler(&buf, LevelInfo)).Info("Bye!")

	assert.NotContains(t, buf.String(), "|")
}

func TestHandlerSkipsEmptyAttr(t *testing.T) {
	var buf bytes.Buffer
	slog.New(NewHandler(&buf, LevelInfo)).Info("x", slog.Attr{}, "k", "v")

	assert.Contains(t, buf.String(), "| k=v\n")
}

func TestHandlerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewHandler(&buf, LevelWarn))

	log.Info("hidden")
	log.Error("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "[ERROR] shown")
}

func TestCustomLevels(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewHandler(&buf, LevelTrace))

	Trace(log, "trace msg")
	Fail(log, "fail msg")

	assert.Contains(t, buf.String(), "[TRACE] trace msg")
	assert.Contains(t, buf.String(), "[FAIL] fail msg")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"trace", LevelTrace},
		{"DEBUG", LevelDebug},
		{"info", LevelInfo},
		{"warn", LevelWarn},
		{"error", LevelError},
		{"fail", LevelFail},
		{"chatty", LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestWithAttrsAndGroup(t *testing.T) {
	var buf bytes.Buffer
	h := NewHandler(&buf, LevelInfo)
	log := slog.New(h.WithAttrs([]slog.Attr{slog.String("component", "controller")}).WithGroup("job"))

	log.Info("processed", "queue", "default")

	assert.Contains(t, buf.String(), "| component=controller, job.queue=default")
	assert.Same(t, h, h.WithGroup(""))
}

func TestHandlerConcurrentWrites(t *testing.T) {
	var buf bytes.Buffer
	h := NewHandler(&buf, LevelInfo)
	a := slog.New(h)
	b := slog.New(h.WithAttrs([]slog.Attr{slog.Int("worker", 2)}))

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(2)
		go func() { defer wg.Done(); a.Info("one") }()
		go func() { defer wg.Done(); b.Info("two") }()
	}
	wg.Wait()

	assert.Len(t, strings.Split(strings.TrimRight(buf.String(), "\n"), "\n"), 100)
}

func TestNewFallback(t *testing.T) {
	var buf bytes.Buffer
	log, closer := New(Options{Level: "debug"}, &buf)
	defer closer.Close()

	log.Debug("to fallback")
	assert.Contains(t, buf.String(), "[DEBUG] to fallback")
}

func TestNewFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lowkiq.log")
	var fallback bytes.Buffer

	log, closer := New(Options{Level: "info", File: path, MaxSizeMB: 1}, &fallback)
	log.Info("to file")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "[INFO] to file")
	assert.Empty(t, fallback.String())
}
