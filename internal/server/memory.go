package server

import (
	"context"
	"sync"
	"time"
)

// MemoryFetcher is an in-process queue backend, used by tests and demos.
type MemoryFetcher struct {
	mu     sync.Mutex
	queues map[string][]Job
	ready  chan struct{}

	// PingErr, when set, makes Ping fail.
	PingErr error
	// CloseErr is returned by Close.
	CloseErr error
	closed  bool
}

func NewMemoryFetcher() *MemoryFetcher {
	return &MemoryFetcher{
		queues: map[string][]Job{},
		ready:  make(chan struct{}, 1),
	}
}

// Push appends a job to queue.
func (m *MemoryFetcher) Push(queue string, payload []byte) {
	m.mu.Lock()
	m.queues[queue] = append(m.queues[queue], Job{Queue: queue, Payload: payload})
	m.mu.Unlock()

	select {
	case m.ready <- struct{}{}:
	default:
	}
}

// Len returns the number of queued jobs across all queues.
func (m *MemoryFetcher) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, q := range m.queues {
		n += len(q)
	}
	return n
}

func (m *MemoryFetcher) Ping(context.Context) error { return m.PingErr }

func (m *MemoryFetcher) Fetch(ctx context.Context, queues []string, timeout time.Duration) (*Job, error) {
	t := time.NewTimer(timeout)
	defer t.Stop()

	for {
		if job := m.pop(queues); job != nil {
			return job, nil
		}

		select {
		case <-m.ready:
		case <-t.C:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (m *MemoryFetcher) pop(queues []string) *Job {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, q := range queues {
		if jobs := m.queues[q]; len(jobs) > 0 {
			job := jobs[0]
			m.queues[q] = jobs[1:]
			if len(m.queues[q]) > 0 {
				// wake another waiting processor, work remains
				select {
				case m.ready <- struct{}{}:
				default:
				}
			}
			return &job
		}
	}
	return nil
}

func (m *MemoryFetcher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return m.CloseErr
}

// Closed reports whether Close was called.
func (m *MemoryFetcher) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
