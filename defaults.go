package lowkiq

import (
	"context"
	"log/slog"
	"syscall"
	"time"

	"github.com/ifnotnil/lowkiq/internal/signalpipe"
)

const (
	ExitOK             = 0
	ExitStartupFailure = 1

	defaultShutdownTimeout = 5 * time.Second
)

// EnvDevelopment is the environment that gets the startup banner.
const EnvDevelopment = "development"

func logSignal(ctx context.Context, logger *slog.Logger, tok signalpipe.Token) {
	signal := slog.String("signal", tok.String())
	signalCode := slog.Attr{}
	if sig, ok := signalpipe.Signal(tok); ok {
		if sigInt, ok := sig.(syscall.Signal); ok {
			signalCode = slog.Int("signalCode", int(sigInt))
		}
	}

	logger.WarnContext(ctx, "signal received", signal, signalCode)
}

func logActionError(ctx context.Context, logger *slog.Logger, tok signalpipe.Token, err error) {
	logger.ErrorContext(ctx, "signal action failed", slog.String("signal", tok.String()), slog.String("error", err.Error()))
}

type nopRecorder struct{}

func (nopRecorder) SignalReceived(string) {}
func (nopRecorder) ThreadsDumped(int)     {}
func (nopRecorder) StateChanged(int)      {}
