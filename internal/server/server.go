// Package server implements the worker server the lifecycle controller drives:
// a fixed pool of processor goroutines pulling opaque jobs from a Fetcher.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

var (
	ErrAlreadyStarted = errors.New("worker server already started")
	ErrStopped        = errors.New("worker server is stopped")
)

// Job is a unit of work taken from a queue.
type Job struct {
	Queue   string
	Payload []byte
}

// Fetcher is the queue backend.
type Fetcher interface {
	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error
	// Fetch blocks up to timeout for a job from the first non-empty queue. It
	// returns a nil job when the timeout elapses.
	Fetch(ctx context.Context, queues []string, timeout time.Duration) (*Job, error)
	Close() error
}

// Processor handles one job. ctx is cancelled when the server is stopped, so a
// long job may choose to abandon its work.
type Processor func(ctx context.Context, job Job) error

type Observer interface {
	JobProcessed(queue string, err error, took time.Duration)
}

type nopObserver struct{}

func (nopObserver) JobProcessed(string, error, time.Duration) {}

type Options struct {
	Environment string
	// Identity names this server in logs. Defaults to NewIdentity().
	Identity    string
	Queues      []string
	Concurrency int
	PollTimeout time.Duration
	// PingTimeout bounds the backend check in Start.
	PingTimeout time.Duration
	// RetryDelay is the pause after a failed fetch.
	RetryDelay time.Duration
	Logger     *slog.Logger
	Observer   Observer
}

// Server runs Concurrency processors. It is started once and never restarted.
type Server struct {
	opts    Options
	fetcher Fetcher
	process Processor

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	done   chan struct{}

	// fetch failures repeat on every poll while the backend is down
	fetchWarn rate.Sometimes

	mu      sync.Mutex
	started bool
	stopped bool
}

// Build validates opts and returns an unstarted server.
func Build(opts Options, fetcher Fetcher, process Processor) (*Server, error) {
	if fetcher == nil {
		return nil, errors.New("server: nil fetcher")
	}
	if process == nil {
		return nil, errors.New("server: nil processor")
	}
	if len(opts.Queues) == 0 {
		return nil, errors.New("server: no queues")
	}
	if opts.Concurrency <= 0 {
		return nil, fmt.Errorf("server: concurrency must be > 0, got %d", opts.Concurrency)
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = 2 * time.Second
	}
	if opts.PingTimeout <= 0 {
		opts.PingTimeout = 5 * time.Second
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	if opts.Identity == "" {
		opts.Identity = NewIdentity()
	}
	opts.Logger = opts.Logger.With(slog.String("identity", opts.Identity))

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		opts:      opts,
		fetcher:   fetcher,
		process:   process,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		fetchWarn: rate.Sometimes{First: 1, Interval: 10 * time.Second},
	}, nil
}

// NewIdentity returns "hostname:pid:nonce", unique per server instance.
func NewIdentity() string {
	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	}
	return fmt.Sprintf("%s:%d:%s", host, os.Getpid(), uuid.NewString()[:8])
}

// Identity returns the name this server logs under.
func (s *Server) Identity() string { return s.opts.Identity }

// Start checks the backend and launches the processors. It fails when the
// backend is unreachable, leaving nothing running: the fetcher is closed and
// the server counts as stopped.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrStopped
	}
	if s.started {
		return ErrAlreadyStarted
	}

	pingCTX, cancel := context.WithTimeout(s.ctx, s.opts.PingTimeout)
	err := s.fetcher.Ping(pingCTX)
	cancel()
	if err != nil {
		// nothing else will ever use the backend
		s.stopped = true
		s.cancel()
		s.closeFetcher()
		close(s.done)
		return errors.Wrap(err, "ping queue backend")
	}

	s.started = true
	s.wg.Add(s.opts.Concurrency)
	for i := range s.opts.Concurrency {
		go s.work(i)
	}

	// the fetcher outlives Stop until the last in-flight fetch or job returns.
	go func() {
		s.wg.Wait()
		s.closeFetcher()
		close(s.done)
	}()

	s.opts.Logger.Info("worker server started",
		slog.Int("concurrency", s.opts.Concurrency),
		slog.Any("queues", s.opts.Queues),
		slog.String("environment", s.opts.Environment),
	)

	return nil
}

// Stop asks every processor to finish its current job and exit. It returns
// without waiting; use Join for that. Stop is idempotent.
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	s.cancel()

	if !s.started {
		s.closeFetcher()
		close(s.done)
	}
}

func (s *Server) closeFetcher() {
	if err := s.fetcher.Close(); err != nil {
		s.opts.Logger.Warn("close queue backend", slog.String("error", err.Error()))
	}
}

// Join blocks until all processors have exited.
func (s *Server) Join() {
	<-s.done
}

func (s *Server) work(id int) {
	defer s.wg.Done()
	logger := s.opts.Logger.With(slog.Int("processor", id))

	for s.ctx.Err() == nil {
		job, err := s.fetcher.Fetch(s.ctx, s.opts.Queues, s.opts.PollTimeout)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.fetchWarn.Do(func() {
				logger.Warn("fetch failed", slog.String("error", err.Error()))
			})
			sleep(s.ctx, s.opts.RetryDelay)
			continue
		}
		if job == nil {
			continue
		}

		s.run(logger, *job)
	}
}

func (s *Server) run(logger *slog.Logger, job Job) {
	start := time.Now()
	err := s.safeProcess(job)
	took := time.Since(start)

	s.opts.Observer.JobProcessed(job.Queue, err, took)
	if err != nil {
		logger.Error("job failed",
			slog.String("queue", job.Queue),
			slog.Duration("took", took),
			slog.String("error", err.Error()),
		)
		return
	}
	logger.Debug("job done", slog.String("queue", job.Queue), slog.Duration("took", took))
}

func (s *Server) safeProcess(job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return s.process(s.ctx, job)
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
