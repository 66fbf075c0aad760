// Package substrate is the scheduler datastore: FIFO job queues,
// per-kind cancellation sets, and pub/sub progress channels backed by
// Redis. Grounded on the original scheduler service's list/set/pubsub
// primitives (soc:scan_queue, soc:scan_cancel, soc:scan:<id>).
//
// Substrate is constructed explicitly by its caller and carries no
// package-level state — there is deliberately no singleton here.
package substrate

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/abhiramgcos/soc-netscan/internal/config"
	"github.com/abhiramgcos/soc-netscan/internal/jobserr"
	"github.com/abhiramgcos/soc-netscan/internal/metrics"
)

const (
	scanQueueKey     = "soc:scan_queue"
	firmwareQueueKey = "soc:firmware_queue"
	scanCancelSet    = "soc:scan_cancel"
	firmwareCancelSet = "soc:firmware_cancel"
)

// Kind distinguishes the two job families that share this substrate's
// queue/cancel/pubsub conventions.
type Kind string

const (
	KindScan     Kind = "scan"
	KindFirmware Kind = "firmware"
)

// Substrate wraps a single Redis client. Callers construct one per
// process and pass it down explicitly to the worker loop and the
// broadcast hub.
type Substrate struct {
	client *redis.Client
}

// New dials Redis per cfg. It does not block on connectivity; callers
// should Ping if they want a fail-fast startup check.
func New(cfg config.RedisConfig) *Substrate {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 5 * time.Second,
	})
	return &Substrate{client: client}
}

// NewFromClient wraps an existing client, used by tests against
// miniredis.
func NewFromClient(client *redis.Client) *Substrate {
	return &Substrate{client: client}
}

// Ping verifies connectivity.
func (s *Substrate) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", jobserr.ErrDatastoreUnavailable, err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *Substrate) Close() error {
	return s.client.Close()
}

func queueKey(kind Kind) string {
	if kind == KindFirmware {
		return firmwareQueueKey
	}
	return scanQueueKey
}

func cancelSetKey(kind Kind) string {
	if kind == KindFirmware {
		return firmwareCancelSet
	}
	return scanCancelSet
}

func progressChannel(kind Kind, id string) string {
	return fmt.Sprintf("soc:%s:%s", kind, id)
}

// Enqueue pushes id onto the tail of the kind's job queue.
func (s *Substrate) Enqueue(ctx context.Context, kind Kind, id string) error {
	if err := s.client.RPush(ctx, queueKey(kind), id).Err(); err != nil {
		return fmt.Errorf("%w: rpush: %v", jobserr.ErrDatastoreUnavailable, err)
	}
	metrics.JobsEnqueuedTotal.WithLabelValues(string(kind)).Inc()
	return nil
}

// Dequeue blocks up to timeout for the next job ID, returning ("",
// nil) on a clean timeout (no error — callers loop and retry).
func (s *Substrate) Dequeue(ctx context.Context, kind Kind, timeout time.Duration) (string, error) {
	key := queueKey(kind)
	if depth, err := s.client.LLen(ctx, key).Result(); err == nil {
		metrics.QueueDepth.WithLabelValues(key).Set(float64(depth))
	}

	result, err := s.client.BLPop(ctx, timeout, key).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("%w: blpop: %v", jobserr.ErrDatastoreUnavailable, err)
	}
	// BLPOP returns [key, value].
	if len(result) < 2 {
		return "", nil
	}
	return result[1], nil
}

// Cancel marks id as cancelled for kind.
func (s *Substrate) Cancel(ctx context.Context, kind Kind, id string) error {
	if err := s.client.SAdd(ctx, cancelSetKey(kind), id).Err(); err != nil {
		return fmt.Errorf("%w: sadd: %v", jobserr.ErrDatastoreUnavailable, err)
	}
	return nil
}

// IsCancelled reports whether id has been cancelled.
func (s *Substrate) IsCancelled(ctx context.Context, kind Kind, id string) (bool, error) {
	ok, err := s.client.SIsMember(ctx, cancelSetKey(kind), id).Result()
	if err != nil {
		return false, fmt.Errorf("%w: sismember: %v", jobserr.ErrDatastoreUnavailable, err)
	}
	return ok, nil
}

// ClearCancel removes id from the cancellation set, called once the
// worker loop has observed and acted on it.
func (s *Substrate) ClearCancel(ctx context.Context, kind Kind, id string) error {
	if err := s.client.SRem(ctx, cancelSetKey(kind), id).Err(); err != nil {
		return fmt.Errorf("%w: srem: %v", jobserr.ErrDatastoreUnavailable, err)
	}
	return nil
}

// PublishProgress publishes a JSON-encoded payload to the per-job
// progress channel for WebSocket fanout via the broadcast hub.
func (s *Substrate) PublishProgress(ctx context.Context, kind Kind, id string, payload []byte) error {
	if err := s.client.Publish(ctx, progressChannel(kind, id), payload).Err(); err != nil {
		return fmt.Errorf("%w: publish: %v", jobserr.ErrDatastoreUnavailable, err)
	}
	return nil
}

// Subscribe opens a subscription to a single job's progress channel.
// Callers must Close the returned PubSub.
func (s *Substrate) Subscribe(ctx context.Context, kind Kind, id string) *redis.PubSub {
	return s.client.Subscribe(ctx, progressChannel(kind, id))
}

// SubscribePattern opens a pattern subscription across all jobs of a
// kind (soc:scan:* / soc:firmware:*), used by the broadcast hub's
// global fanout.
func (s *Substrate) SubscribePattern(ctx context.Context, kind Kind) *redis.PubSub {
	return s.client.PSubscribe(ctx, fmt.Sprintf("soc:%s:*", kind))
}
