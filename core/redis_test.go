package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestQueue(t *testing.T) (*RedisQueue, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisQueue(client), client
}

func TestQueue_EnqueueReserveAck(t *testing.T) {
	q, client := newTestQueue(t)
	ctx := context.Background()

	if err := q.Enqueue(ctx, PendingQueueKey, "41"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := q.Enqueue(ctx, PendingQueueKey, "42"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	// FIFO: the first enqueued job comes out first.
	job, err := q.Reserve(ctx, PendingQueueKey, ProcessingQueueKey, DefaultVisibilityTimeout)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if job != "41" {
		t.Fatalf("job = %q, want 41", job)
	}

	// Reserved job sits in the processing set until acked.
	n, err := client.ZCard(ctx, ProcessingQueueKey).Result()
	if err != nil || n != 1 {
		t.Fatalf("processing zcard = %d err=%v, want 1", n, err)
	}

	if err := q.Ack(ctx, ProcessingQueueKey, job); err != nil {
		t.Fatalf("ack: %v", err)
	}
	n, _ = client.ZCard(ctx, ProcessingQueueKey).Result()
	if n != 0 {
		t.Fatalf("processing zcard after ack = %d, want 0", n)
	}
}

func TestQueue_ReserveEmpty(t *testing.T) {
	q, _ := newTestQueue(t)

	_, err := q.Reserve(context.Background(), PendingQueueKey, ProcessingQueueKey, DefaultVisibilityTimeout)
	if !errors.Is(err, redis.Nil) {
		t.Fatalf("expected redis.Nil on empty queue, got %v", err)
	}
}

func TestQueue_RequeueExpired(t *testing.T) {
	q, client := newTestQueue(t)
	ctx := context.Background()

	if err := q.Enqueue(ctx, PendingQueueKey, "7"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := q.Reserve(ctx, PendingQueueKey, ProcessingQueueKey, 50*time.Millisecond); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	// Before the visibility deadline nothing is eligible.
	moved, err := q.RequeueExpired(ctx, ProcessingQueueKey, PendingQueueKey, time.Now())
	if err != nil {
		t.Fatalf("requeue: %v", err)
	}
	if len(moved) != 0 {
		t.Fatalf("moved = %v, want none before deadline", moved)
	}

	// After the deadline the job goes back to pending.
	moved, err = q.RequeueExpired(ctx, ProcessingQueueKey, PendingQueueKey, time.Now().Add(time.Second))
	if err != nil {
		t.Fatalf("requeue: %v", err)
	}
	if len(moved) != 1 || moved[0] != "7" {
		t.Fatalf("moved = %v, want [7]", moved)
	}

	pending, _ := client.LLen(ctx, PendingQueueKey).Result()
	if pending != 1 {
		t.Fatalf("pending llen = %d, want 1", pending)
	}
	job, err := q.Reserve(ctx, PendingQueueKey, ProcessingQueueKey, DefaultVisibilityTimeout)
	if err != nil || job != "7" {
		t.Fatalf("re-reserve: job=%q err=%v", job, err)
	}
}
