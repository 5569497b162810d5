//go:build !unix

package signalpipe

import (
	"os"
	"syscall"
)

// There is no SIGTTIN outside unix, so thread dumps can only be raised in-process.
var platformSignals = map[Token]os.Signal{
	TokenINT:  os.Interrupt,
	TokenTERM: syscall.SIGTERM,
}
