// Package console prints the human-readable status lines an operator watches
// while the daemon boots and shuts down.
package console

import (
	"fmt"
	"io"
	"runtime"
	"sync"

	"github.com/fatih/color"
)

const banner = `
██╗      ██████╗ ██╗    ██╗██╗  ██╗██╗ ██████╗
██║     ██╔═══██╗██║    ██║██║ ██╔╝██║██╔═══██╗
██║     ██║   ██║██║ █╗ ██║█████╔╝ ██║██║   ██║
██║     ██║   ██║██║███╗██║██╔═██╗ ██║██║▄▄ ██║
███████╗╚██████╔╝╚███╔███╔╝██║  ██╗██║╚██████╔╝
╚══════╝ ╚═════╝  ╚══╝╚══╝ ╚═╝  ╚═╝╚═╝ ╚══▀▀═╝
`

var (
	red   = color.New(color.FgRed, color.Bold).FprintFunc()
	plain = color.New(color.Reset).FprintfFunc()
	fail  = color.New(color.FgRed).FprintfFunc()
)

// Console writes status lines to w. It is safe for concurrent use.
type Console struct {
	mu sync.Mutex
	w  io.Writer
}

func New(w io.Writer) *Console {
	return &Console{w: w}
}

// Status prints one status line.
func (c *Console) Status(format string, a ...interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	plain(c.w, format+"\n", a...)
}

// Error prints one error line.
func (c *Console) Error(format string, a ...interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fail(c.w, "Error: "+format+"\n", a...)
}

// Banner prints the startup banner and the runtime the daemon was built with.
func (c *Console) Banner() {
	c.mu.Lock()
	defer c.mu.Unlock()
	red(c.w, banner)
	plain(c.w, "Running in %s\n", RuntimeDescription())
}

// RuntimeDescription identifies the Go runtime, e.g. "go1.24.1 linux/amd64".
func RuntimeDescription() string {
	return fmt.Sprintf("%s %s/%s", runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
