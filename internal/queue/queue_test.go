package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestQueue(t *testing.T, name string) *Queue {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewQueue(rdb, name, nil)
}

func TestEnqueueDequeueFIFO(t *testing.T) {
	q := newTestQueue(t, "test-queue")
	ctx := context.Background()

	idA, err := q.Enqueue(ctx, "build", map[string]string{"job_id": "a"})
	if err != nil {
		t.Fatalf("enqueue a: %v", err)
	}
	idB, err := q.Enqueue(ctx, "build", map[string]string{"job_id": "b"})
	if err != nil {
		t.Fatalf("enqueue b: %v", err)
	}
	if idA == idB {
		t.Fatal("expected distinct queue ids")
	}

	first, err := q.dequeue(ctx, time.Second)
	if err != nil || first == nil {
		t.Fatalf("dequeue first: %v, %v", first, err)
	}
	if first.ID != idA {
		t.Fatalf("expected FIFO order, got id %s want %s", first.ID, idA)
	}

	second, err := q.dequeue(ctx, time.Second)
	if err != nil || second == nil {
		t.Fatalf("dequeue second: %v, %v", second, err)
	}
	if second.ID != idB {
		t.Fatalf("expected second item %s, got %s", idB, second.ID)
	}
}

func TestDequeueEmptyTimesOutWithNilItem(t *testing.T) {
	q := newTestQueue(t, "empty-queue")
	item, err := q.dequeue(context.Background(), 50*time.Millisecond)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if item != nil {
		t.Fatalf("expected nil item on empty queue, got %+v", item)
	}
}

func TestEnqueuePreservesFunctionAndArgs(t *testing.T) {
	q := newTestQueue(t, "args-queue")
	ctx := context.Background()

	if _, err := q.Enqueue(ctx, "stop", map[string]string{"job_id": "j1", "signal_type": "sigkill"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	item, err := q.dequeue(ctx, time.Second)
	if err != nil || item == nil {
		t.Fatalf("dequeue: %v, %v", item, err)
	}
	if item.Function != "stop" {
		t.Fatalf("function = %q, want %q", item.Function, "stop")
	}

	var args struct {
		JobID      string `json:"job_id"`
		SignalType string `json:"signal_type"`
	}
	if err := json.Unmarshal(item.Args, &args); err != nil {
		t.Fatalf("unmarshal args: %v", err)
	}
	if args.JobID != "j1" || args.SignalType != "sigkill" {
		t.Fatalf("args = %+v", args)
	}
}
