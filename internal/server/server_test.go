package server

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recorder struct {
	mu   sync.Mutex
	jobs []Job
	errs []error
}

func (r *recorder) JobProcessed(queue string, err error, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, Job{Queue: queue})
	r.errs = append(r.errs, err)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

func testOptions(obs Observer) Options {
	return Options{
		Queues:      []string{"critical", "default"},
		Concurrency: 3,
		PollTimeout: 20 * time.Millisecond,
		RetryDelay:  5 * time.Millisecond,
		Observer:    obs,
	}
}

func TestBuildValidation(t *testing.T) {
	f := NewMemoryFetcher()
	noop := func(context.Context, Job) error { return nil }

	_, err := Build(testOptions(nil), nil, noop)
	assert.Error(t, err)

	_, err = Build(testOptions(nil), f, nil)
	assert.Error(t, err)

	opts := testOptions(nil)
	opts.Queues = nil
	_, err = Build(opts, f, noop)
	assert.Error(t, err)

	opts = testOptions(nil)
	opts.Concurrency = 0
	_, err = Build(opts, f, noop)
	assert.Error(t, err)
}

func TestProcessesJobs(t *testing.T) {
	f := NewMemoryFetcher()
	rec := &recorder{}

	var mu sync.Mutex
	var payloads []string
	s, err := Build(testOptions(rec), f, func(_ context.Context, job Job) error {
		mu.Lock()
		defer mu.Unlock()
		payloads = append(payloads, string(job.Payload))
		if string(job.Payload) == "bad" {
			return errors.New("bad job")
		}
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, s.Start())

	f.Push("default", []byte("a"))
	f.Push("critical", []byte("b"))
	f.Push("default", []byte("bad"))

	require.Eventually(t, func() bool { return rec.count() == 3 }, 2*time.Second, 5*time.Millisecond)

	s.Stop()
	s.Join()

	assert.ElementsMatch(t, []string{"a", "b", "bad"}, payloads)
	assert.True(t, f.Closed(), "fetcher closed after the last processor exits")
}

func TestPanickingJobIsContained(t *testing.T) {
	f := NewMemoryFetcher()
	rec := &recorder{}

	s, err := Build(testOptions(rec), f, func(context.Context, Job) error { panic("kaboom") })
	require.NoError(t, err)
	require.NoError(t, s.Start())

	f.Push("default", []byte("x"))
	require.Eventually(t, func() bool { return rec.count() == 1 }, 2*time.Second, 5*time.Millisecond)

	s.Stop()
	s.Join()

	require.Error(t, rec.errs[0])
	assert.Contains(t, rec.errs[0].Error(), "kaboom")
}

func TestStartFailsWhenBackendDown(t *testing.T) {
	f := NewMemoryFetcher()
	f.PingErr = errors.New("connection refused")

	s, err := Build(testOptions(nil), f, func(context.Context, Job) error { return nil })
	require.NoError(t, err)

	err = s.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.True(t, f.Closed())
	assert.ErrorIs(t, s.Start(), ErrStopped)

	s.Stop()
	s.Join()
}

func TestStopBeforeStartClosesFetcher(t *testing.T) {
	f := NewMemoryFetcher()
	s, err := Build(testOptions(nil), f, func(context.Context, Job) error { return nil })
	require.NoError(t, err)

	s.Stop()
	s.Join()
	assert.True(t, f.Closed())
}

func TestStartTwiceAndAfterStop(t *testing.T) {
	s, err := Build(testOptions(nil), NewMemoryFetcher(), func(context.Context, Job) error { return nil })
	require.NoError(t, err)

	require.NoError(t, s.Start())
	assert.ErrorIs(t, s.Start(), ErrAlreadyStarted)

	s.Stop()
	s.Stop()
	s.Join()

	assert.ErrorIs(t, s.Start(), ErrStopped)
}

func TestStopDoesNotWaitForBusyJob(t *testing.T) {
	f := NewMemoryFetcher()
	release := make(chan struct{})
	started := make(chan struct{})

	opts := testOptions(nil)
	opts.Concurrency = 1
	s, err := Build(opts, f, func(context.Context, Job) error {
		close(started)
		<-release
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, s.Start())

	f.Push("default", []byte("long"))
	<-started

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop waited for a busy processor")
	}

	joined := make(chan struct{})
	go func() {
		s.Join()
		close(joined)
	}()

	select {
	case <-joined:
		t.Fatal("Join returned while a job was running")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	<-joined
}

func TestProcessorSeesCancellation(t *testing.T) {
	f := NewMemoryFetcher()
	started := make(chan struct{})

	opts := testOptions(nil)
	opts.Concurrency = 1
	s, err := Build(opts, f, func(ctx context.Context, _ Job) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, err)
	require.NoError(t, s.Start())

	f.Push("default", nil)
	<-started
	s.Stop()
	s.Join()
}

func TestQueueKey(t *testing.T) {
	assert.Equal(t, "lowkiq:queue:default", QueueKey("lowkiq", "default"))
}

func TestNewRedisFetcherBadURL(t *testing.T) {
	_, err := NewRedisFetcher("http://nope", "lowkiq")
	assert.Error(t, err)
}

func TestIdentity(t *testing.T) {
	noop := func(context.Context, Job) error { return nil }

	s, err := Build(testOptions(nil), NewMemoryFetcher(), noop)
	require.NoError(t, err)
	parts := strings.Split(s.Identity(), ":")
	require.Len(t, parts, 3)
	assert.Equal(t, strconv.Itoa(os.Getpid()), parts[1])
	assert.Len(t, parts[2], 8)
	assert.NotEqual(t, s.Identity(), NewIdentity())

	opts := testOptions(nil)
	opts.Identity = "worker-1"
	s, err = Build(opts, NewMemoryFetcher(), noop)
	require.NoError(t, err)
	assert.Equal(t, "worker-1", s.Identity())
}

func TestCloseErrorIsLogged(t *testing.T) {
	tests := map[string]struct {
		pingErr error
	}{
		"ping fails":        {pingErr: errors.New("connection refused")},
		"stopped unstarted": {},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			f := NewMemoryFetcher()
			f.PingErr = tc.pingErr
			f.CloseErr = errors.New("broken pipe")

			out := &bytes.Buffer{}
			opts := testOptions(nil)
			opts.Logger = slog.New(slog.NewTextHandler(out, nil))

			s, err := Build(opts, f, func(context.Context, Job) error { return nil })
			require.NoError(t, err)

			if tc.pingErr != nil {
				require.Error(t, s.Start())
			}
			s.Stop()
			s.Join()

			assert.True(t, f.Closed())
			assert.Contains(t, out.String(), "close queue backend")
			assert.Contains(t, out.String(), "broken pipe")
		})
	}
}
