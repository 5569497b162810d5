package lowkiq

import (
	"errors"
	"fmt"

	"github.com/ifnotnil/lowkiq/internal/signalpipe"
)

var (
	// ErrStartup wraps every failure that stops the controller before its read loop.
	ErrStartup = errors.New("startup failed")

	// ErrShutdownInProgress is returned by the shutdown action when a shutdown was
	// already requested. The controller absorbs it.
	ErrShutdownInProgress = errors.New("shutdown already in progress")

	// ErrNoWorkerServer is the startup failure for a Builder returning neither a
	// server nor an error.
	ErrNoWorkerServer = errors.New("builder returned no worker server")

	ErrRegistrySealed = errors.New("action registry is sealed")
	ErrNilAction      = errors.New("nil action")
)

type DuplicateActionError struct {
	Token signalpipe.Token
}

func (e *DuplicateActionError) Error() string {
	return fmt.Sprintf("action already registered for %s", e.Token)
}

type ActionPanicError struct {
	Token signalpipe.Token
	Value any
}

func (e *ActionPanicError) Error() string {
	return fmt.Sprintf("action for %s panicked: %v", e.Token, e.Value)
}

// StartupError reports which startup stage failed.
type StartupError struct {
	Stage string
	Err   error
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrStartup, e.Stage, e.Err)
}

func (e *StartupError) Unwrap() []error { return []error{ErrStartup, e.Err} }

// ExitCode maps the result of Run to a process exit status.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	return ExitStartupFailure
}
