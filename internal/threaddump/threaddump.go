// Package threaddump writes a plain-text snapshot of every live goroutine and its
// call stack, for operators poking at a running daemon.
package threaddump

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime/pprof"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// FileName is the dump file created in the system temp directory.
const FileName = "lowkiq_ttin.txt"

// NoBacktrace replaces the frames of a goroutine whose stack could not be resolved.
const NoBacktrace = "<no backtrace available>"

// DefaultPath returns the dump location, /tmp/lowkiq_ttin.txt on most unix systems.
func DefaultPath() string {
	return filepath.Join(os.TempDir(), FileName)
}

// Goroutine is one entry of a dump.
type Goroutine struct {
	ID     int
	State  string
	Frames []string
}

// Report describes a written dump.
type Report struct {
	Path       string
	Goroutines int
}

// writeStacks prints every goroutine in the same format as an unrecovered panic.
var writeStacks = func(w io.Writer) error {
	return pprof.Lookup("goroutine").WriteTo(w, 2)
}

// Capture returns the stacks of all live goroutines.
func Capture() ([]Goroutine, error) {
	var buf bytes.Buffer
	if err := writeStacks(&buf); err != nil {
		return nil, errors.Wrap(err, "capture goroutines")
	}

	return Parse(&buf), nil
}

// Parse reads a goroutine traceback in the runtime's text format. Each frame's
// function line and its file:line line are joined into a single frame.
func Parse(r io.Reader) []Goroutine {
	var (
		out     []Goroutine
		cur     *Goroutine
		pending string
	)

	flushPending := func() {
		if cur != nil && pending != "" {
			cur.Frames = append(cur.Frames, pending)
		}
		pending = ""
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()

		switch {
		case strings.TrimSpace(line) == "":
			flushPending()
			cur = nil

		case strings.HasPrefix(line, "goroutine "):
			flushPending()
			out = append(out, parseHeader(line))
			cur = &out[len(out)-1]

		case cur == nil:
			// stray text outside a goroutine block

		case strings.HasPrefix(line, "\t"):
			loc := strings.TrimSpace(line)
			if pending != "" {
				cur.Frames = append(cur.Frames, pending+" "+loc)
				pending = ""
			} else {
				cur.Frames = append(cur.Frames, loc)
			}

		default:
			flushPending()
			pending = strings.TrimSpace(line)
		}
	}
	flushPending()

	return out
}

// parseHeader reads "goroutine 18 [chan receive, 2 minutes]:".
func parseHeader(line string) Goroutine {
	var g Goroutine

	fields := strings.Fields(line)
	if len(fields) > 1 {
		g.ID, _ = strconv.Atoi(fields[1])
	}

	if open, end := strings.Index(line, "["), strings.LastIndex(line, "]"); open >= 0 && end > open {
		g.State = line[open+1 : end]
	}

	return g
}

// Write renders goroutines as text blocks, one line per frame.
func Write(w io.Writer, goroutines []Goroutine) error {
	bw := bufio.NewWriter(w)

	for idx, g := range goroutines {
		fmt.Fprintf(bw, "== thread %d == goroutine %d [%s]\n", idx, g.ID, g.State)
		if len(g.Frames) == 0 {
			bw.WriteString(NoBacktrace + "\n")
			continue
		}
		for _, f := range g.Frames {
			bw.WriteString(f)
			bw.WriteByte('\n')
		}
	}

	return bw.Flush()
}

// Dump replaces the file at path with a snapshot of all live goroutines.
func Dump(path string) (Report, error) {
	goroutines, err := Capture()
	if err != nil {
		return Report{Path: path}, err
	}

	return DumpGoroutines(path, goroutines)
}

// DumpGoroutines removes any previous file at path and writes goroutines to a
// fresh one, so nothing from an earlier dump survives.
func DumpGoroutines(path string, goroutines []Goroutine) (Report, error) {
	report := Report{Path: path, Goroutines: len(goroutines)}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return report, errors.Wrap(err, "remove previous dump")
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return report, errors.Wrap(err, "create dump file")
	}

	if err := Write(f, goroutines); err != nil {
		f.Close()
		return report, errors.Wrap(err, "write dump")
	}

	if err := f.Close(); err != nil {
		return report, errors.Wrap(err, "close dump file")
	}

	return report, nil
}
