package server

import (
	"context"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
)

// RedisFetcher pops jobs from Redis lists named <namespace>:queue:<queue>.
// Producers LPUSH payloads; processors BRPOP them, so each queue is FIFO.
type RedisFetcher struct {
	client    *redis.Client
	namespace string
}

// NewRedisFetcher connects lazily; the first command dials.
func NewRedisFetcher(url, namespace string) (*RedisFetcher, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}

	return &RedisFetcher{client: redis.NewClient(opts), namespace: namespace}, nil
}

// QueueKey returns the Redis list backing queue.
func QueueKey(namespace, queue string) string {
	return namespace + ":queue:" + queue
}

func (f *RedisFetcher) Ping(ctx context.Context) error {
	return f.client.Ping(ctx).Err()
}

func (f *RedisFetcher) Fetch(ctx context.Context, queues []string, timeout time.Duration) (*Job, error) {
	keys := make([]string, len(queues))
	for i, q := range queues {
		keys[i] = QueueKey(f.namespace, q)
	}

	res, err := f.client.BRPop(ctx, timeout, keys...).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "brpop")
	}
	if len(res) != 2 {
		return nil, errors.Errorf("brpop: unexpected reply of %d elements", len(res))
	}

	return &Job{
		Queue:   strings.TrimPrefix(res[0], f.namespace+":queue:"),
		Payload: []byte(res[1]),
	}, nil
}

// Push enqueues payload on queue.
func (f *RedisFetcher) Push(ctx context.Context, queue string, payload []byte) error {
	return errors.Wrap(f.client.LPush(ctx, QueueKey(f.namespace, queue), payload).Err(), "lpush")
}

func (f *RedisFetcher) Close() error {
	return f.client.Close()
}
