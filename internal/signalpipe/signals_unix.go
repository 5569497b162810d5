//go:build unix

package signalpipe

import (
	"os"

	"golang.org/x/sys/unix"
)

var platformSignals = map[Token]os.Signal{
	TokenINT:  unix.SIGINT,
	TokenTERM: unix.SIGTERM,
	TokenTTIN: unix.SIGTTIN,
}
