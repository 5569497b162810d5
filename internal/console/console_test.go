package console

import (
	"bytes"
	"runtime"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	m.Run()
}

func TestStatus(t *testing.T) {
	var buf bytes.Buffer
	c := New(&buf)

	c.Status("Got %s signal", "TERM")
	c.Status("Bye!")

	assert.Equal(t, "Got TERM signal\nBye!\n", buf.String())
}

func TestError(t *testing.T) {
	var buf bytes.Buffer
	New(&buf).Error("start worker server: %s", "connection refused")

	assert.Equal(t, "Error: start worker server: connection refused\n", buf.String())
}

func TestBanner(t *testing.T) {
	var buf bytes.Buffer
	New(&buf).Banner()

	out := buf.String()
	assert.Contains(t, out, "██╗      ██████╗")
	assert.True(t, strings.HasSuffix(out, "Running in "+RuntimeDescription()+"\n"))
	assert.Contains(t, RuntimeDescription(), runtime.Version())
}
