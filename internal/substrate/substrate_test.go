package substrate

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestSubstrate(t *testing.T) *Substrate {
	t.Helper()
	server, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(server.Close)

	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewFromClient(client)
}

func TestEnqueueDequeueRoundTrip(t *testing.T) {
	s := newTestSubstrate(t)
	ctx := context.Background()

	require.NoError(t, s.Enqueue(ctx, KindScan, "job-1"))

	id, err := s.Dequeue(ctx, KindScan, time.Second)
	require.NoError(t, err)
	require.Equal(t, "job-1", id)
}

func TestDequeueTimeoutReturnsEmptyNoError(t *testing.T) {
	s := newTestSubstrate(t)
	id, err := s.Dequeue(context.Background(), KindScan, 50*time.Millisecond)
	require.NoError(t, err)
	require.Empty(t, id)
}

func TestQueuesAreIsolatedByKind(t *testing.T) {
	s := newTestSubstrate(t)
	ctx := context.Background()

	require.NoError(t, s.Enqueue(ctx, KindFirmware, "fw-1"))

	id, err := s.Dequeue(ctx, KindScan, 50*time.Millisecond)
	require.NoError(t, err)
	require.Empty(t, id)

	id, err = s.Dequeue(ctx, KindFirmware, time.Second)
	require.NoError(t, err)
	require.Equal(t, "fw-1", id)
}

func TestCancelLifecycle(t *testing.T) {
	s := newTestSubstrate(t)
	ctx := context.Background()

	cancelled, err := s.IsCancelled(ctx, KindScan, "job-2")
	require.NoError(t, err)
	require.False(t, cancelled)

	require.NoError(t, s.Cancel(ctx, KindScan, "job-2"))
	cancelled, err = s.IsCancelled(ctx, KindScan, "job-2")
	require.NoError(t, err)
	require.True(t, cancelled)

	require.NoError(t, s.ClearCancel(ctx, KindScan, "job-2"))
	cancelled, err = s.IsCancelled(ctx, KindScan, "job-2")
	require.NoError(t, err)
	require.False(t, cancelled)
}

func TestPublishProgressReachesSubscriber(t *testing.T) {
	s := newTestSubstrate(t)
	ctx := context.Background()

	sub := s.Subscribe(ctx, KindScan, "job-3")
	defer sub.Close()

	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, s.PublishProgress(ctx, KindScan, "job-3", []byte(`{"stage":1}`)))

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	require.Equal(t, `{"stage":1}`, msg.Payload)
}
