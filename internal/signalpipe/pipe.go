// Package signalpipe turns asynchronously delivered OS signals into tokens that a
// single reader drains synchronously.
//
// The Go runtime already runs the real signal handler on its own and forwards the
// signal to every channel registered with signal.Notify using a non-blocking send.
// Pipe owns one such channel: the handler side only ever enqueues a value, and all
// work triggered by a signal happens after Next returns on the reader's goroutine.
package signalpipe

import (
	"errors"
	"os"
	"sort"
	"sync"
)

// Token identifies a received signal.
type Token string

const (
	TokenINT  Token = "INT"
	TokenTERM Token = "TERM"
	TokenTTIN Token = "TTIN"
)

func (t Token) String() string { return string(t) }

const defaultCapacity = 16

var (
	// ErrClosed is returned by Next once the pipe is closed and drained.
	ErrClosed = errors.New("signal pipe closed")

	// ErrUnsupported is returned by Install for a token that has no OS signal on this platform.
	ErrUnsupported = errors.New("signal not supported on this platform")
)

// tokenSignal carries a token through the signal channel when it is raised in-process.
type tokenSignal Token

func (s tokenSignal) String() string { return string(s) }
func (tokenSignal) Signal()          {}

type notifier interface {
	Notify(c chan<- os.Signal, sig ...os.Signal)
	Stop(c chan<- os.Signal)
}

// Pipe is a bounded single-reader signal channel.
type Pipe struct {
	notifier notifier

	// mu guards closed against concurrent Raise and Close. Next never takes it.
	mu     sync.RWMutex
	closed bool
	ch     chan os.Signal

	installed map[os.Signal]Token
}

type Option func(*Pipe)

// WithCapacity sets how many undrained signals the pipe holds before further
// deliveries are dropped.
func WithCapacity(n int) Option {
	return func(p *Pipe) {
		if n > 0 {
			p.ch = make(chan os.Signal, n)
		}
	}
}

func New(opts ...Option) *Pipe {
	p := &Pipe{
		notifier:  std{},
		ch:        make(chan os.Signal, defaultCapacity),
		installed: map[os.Signal]Token{},
	}

	for _, o := range opts {
		o(p)
	}

	return p
}

// Install starts relaying the OS signals named by tokens into the pipe. It fails
// without installing anything when any token has no signal on this platform.
func (p *Pipe) Install(tokens ...Token) error {
	sigs := make([]os.Signal, 0, len(tokens))
	for _, t := range tokens {
		sig, ok := platformSignals[t]
		if !ok {
			return &UnsupportedError{Token: t}
		}
		sigs = append(sigs, sig)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}

	for i, sig := range sigs {
		p.installed[sig] = tokens[i]
	}
	p.notifier.Notify(p.ch, sigs...)

	return nil
}

// Installed returns the tokens currently relayed, sorted.
func (p *Pipe) Installed() []Token {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]Token, 0, len(p.installed))
	for _, t := range p.installed {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })

	return out
}

// Raise enqueues tok exactly as a signal delivery would: it never blocks and it
// reports false when the token was dropped because the pipe is full or closed.
func (p *Pipe) Raise(tok Token) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}

	select {
	case p.ch <- tokenSignal(tok):
		return true
	default:
		return false
	}
}

// Next blocks until a signal is available and returns its token. After Close it
// keeps returning buffered tokens and then ErrClosed.
func (p *Pipe) Next() (Token, error) {
	sig, ok := <-p.ch
	if !ok {
		return "", ErrClosed
	}

	return p.tokenOf(sig), nil
}

func (p *Pipe) tokenOf(sig os.Signal) Token {
	if t, is := sig.(tokenSignal); is {
		return Token(t)
	}

	p.mu.RLock()
	t, ok := p.installed[sig]
	p.mu.RUnlock()
	if ok {
		return t
	}

	return Token(sig.String())
}

// Close stops relaying OS signals and closes the channel. Raise after Close is a
// silent no-op. Close is idempotent.
func (p *Pipe) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}

	// After Stop returns the runtime no longer sends on ch, so closing it is safe.
	p.notifier.Stop(p.ch)
	p.closed = true
	close(p.ch)

	return nil
}

// Supported reports whether tok maps to an OS signal on this platform.
func Supported(tok Token) bool {
	_, ok := platformSignals[tok]
	return ok
}

// Signal returns the OS signal behind tok.
func Signal(tok Token) (os.Signal, bool) {
	sig, ok := platformSignals[tok]
	return sig, ok
}

type UnsupportedError struct {
	Token Token
}

func (e *UnsupportedError) Error() string {
	return "signal " + string(e.Token) + ": " + ErrUnsupported.Error()
}

func (e *UnsupportedError) Unwrap() error { return ErrUnsupported }
