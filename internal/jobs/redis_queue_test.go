// internal/jobs/redis_queue_test.go
package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type deadLetter struct {
	job Job
	err error
}

func newTestQueue(t *testing.T, maxRetries int) (*RedisQueue, *[]deadLetter) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	var dead []deadLetter
	q, err := NewRedisQueue(RedisQueueConfig{
		Client:     client,
		Stream:     "test:promotions",
		Group:      "test-group",
		Consumer:   "consumer",
		MaxRetries: maxRetries,
		Block:      10 * time.Millisecond,
		RetryDelay: time.Millisecond,
		DeadLetter: func(_ context.Context, job Job, err error) {
			dead = append(dead, deadLetter{job: job, err: err})
		},
	})
	require.NoError(t, err)
	require.NoError(t, q.ensureGroup(context.Background()))
	return q, &dead
}

func TestNewRedisQueueRequiresClientAndStream(t *testing.T) {
	_, err := NewRedisQueue(RedisQueueConfig{Stream: "s"})
	assert.Error(t, err)

	srv := miniredis.RunT(t)
	_, err = NewRedisQueue(RedisQueueConfig{Client: redis.NewClient(&redis.Options{Addr: srv.Addr()})})
	assert.Error(t, err)
}

func TestRedisQueueProcessesJob(t *testing.T) {
	q, dead := newTestQueue(t, 3)
	ctx := context.Background()

	job, err := q.Enqueue(ctx, "waitlist.promote_book", []byte(`{"book_id":"b1"}`))
	require.NoError(t, err)

	var got []Job
	require.NoError(t, q.consumeOnce(ctx, "c1", func(_ context.Context, j Job) error {
		got = append(got, j)
		return nil
	}))

	require.Len(t, got, 1)
	assert.Equal(t, job.ID, got[0].ID)
	assert.Equal(t, "waitlist.promote_book", got[0].Kind)
	assert.JSONEq(t, `{"book_id":"b1"}`, got[0].Payload)
	assert.Equal(t, 1, got[0].Attempts)
	assert.Empty(t, *dead)

	status, ok, err := q.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StatusDone, status.Status)

	n, err := q.client.XLen(ctx, q.stream).Result()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRedisQueueRetriesThenDeadLetters(t *testing.T) {
	q, dead := newTestQueue(t, 2)
	ctx := context.Background()

	job, err := q.Enqueue(ctx, "waitlist.promote_entry", []byte(`{"entry_id":"e1"}`))
	require.NoError(t, err)

	boom := errors.New("store unavailable")
	calls := 0
	failing := func(context.Context, Job) error {
		calls++
		return boom
	}

	require.NoError(t, q.consumeOnce(ctx, "c1", failing))
	assert.Equal(t, 1, calls)
	assert.Empty(t, *dead)

	status, _, err := q.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, status.Status)
	assert.Equal(t, boom.Error(), status.ErrorMessage)

	require.NoError(t, q.consumeOnce(ctx, "c1", failing))
	assert.Equal(t, 2, calls)
	require.Len(t, *dead, 1)
	assert.Equal(t, job.ID, (*dead)[0].job.ID)
	assert.Equal(t, 2, (*dead)[0].job.Attempts)
	assert.ErrorIs(t, (*dead)[0].err, boom)

	status, _, err = q.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, status.Status)

	// Nothing left to deliver.
	require.NoError(t, q.consumeOnce(ctx, "c1", failing))
	assert.Equal(t, 2, calls)
}

func TestRedisQueueDropsMalformedMessage(t *testing.T) {
	q, _ := newTestQueue(t, 3)
	ctx := context.Background()

	require.NoError(t, q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		Values: map[string]any{"garbage": "1"},
	}).Err())

	called := false
	require.NoError(t, q.consumeOnce(ctx, "c1", func(context.Context, Job) error {
		called = true
		return nil
	}))
	assert.False(t, called)

	pending, err := q.client.XPending(ctx, q.stream, q.group).Result()
	require.NoError(t, err)
	assert.Zero(t, pending.Count)
}

func TestRedisQueueRequeueAndAckFailureKeepsPendingMessage(t *testing.T) {
	q, _ := newTestQueue(t, 3)
	ctx := context.Background()

	job, err := q.Enqueue(ctx, "waitlist.promote_book", []byte(`{}`))
	require.NoError(t, err)
	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: "c1",
		Streams:  []string{q.stream, ">"},
		Count:    1,
		Block:    10 * time.Millisecond,
	}).Result()
	require.NoError(t, err)
	require.Len(t, streams, 1)
	require.Len(t, streams[0].Messages, 1)

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	assert.Error(t, q.requeueAndAck(canceled, streams[0].Messages[0].ID, job))

	pending, err := q.client.XPending(ctx, q.stream, q.group).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending.Count)

	n, err := q.client.XLen(ctx, q.stream).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestRedisQueueRunStopsOnCancel(t *testing.T) {
	q, _ := newTestQueue(t, 3)
	ctx, cancel := context.WithCancel(context.Background())

	_, err := q.Enqueue(ctx, "waitlist.promote_book", []byte(`{}`))
	require.NoError(t, err)

	handled := make(chan struct{}, 1)
	done := make(chan error, 1)
	go func() {
		done <- q.Run(ctx, 2, func(context.Context, Job) error {
			handled <- struct{}{}
			return nil
		})
	}()

	select {
	case <-handled:
	case <-time.After(2 * time.Second):
		t.Fatal("job was not handled")
	}
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
