// Package queue implements the two named, Redis-backed work queues —
// builds (concurrency 1, 12h per-job timeout) and controls (concurrency
// 4, 10m per-job timeout) — plus the worker pool that drains them. A
// queue item names a function and its serialized arguments; dispatch is
// a name→handler table, the same shape as the original service's arq
// worker function registry.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	// BuildsQueue is the single-build-at-a-time queue.
	BuildsQueue = "unica-wb:builds"
	// ControlsQueue runs stop/extract/delete/repo operations with bounded
	// fan-out.
	ControlsQueue = "unica-wb:controls"

	BuildsTimeout   = 12 * time.Hour
	ControlsTimeout = 10 * time.Minute
)

// Item is one unit of queued work: a function name plus its arguments.
type Item struct {
	ID         string          `json:"id"`
	Function   string          `json:"function"`
	Args       json.RawMessage `json:"args"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// Handler processes one dequeued Item. ctx is canceled if the item's
// per-queue timeout elapses.
type Handler func(ctx context.Context, item Item) error

// Queue is a thin Redis list wrapper: LPUSH to enqueue, BRPOP (via
// Dispatcher.Run) to dequeue, giving FIFO order within a single queue
// name. No cross-queue fairness is implemented or required.
type Queue struct {
	rdb  *redis.Client
	name string
	log  *logrus.Entry
}

// NewQueue binds a named queue to an existing Redis client.
func NewQueue(rdb *redis.Client, name string, log *logrus.Entry) *Queue {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Queue{rdb: rdb, name: name, log: log.WithField("queue", name)}
}

// Enqueue pushes a new item and returns its opaque queue id. Enqueue
// failures are surfaced to the caller (unlike kv.Store's degrade-silently
// contract) because a lost enqueue means a request the caller believed
// succeeded never runs.
func (q *Queue) Enqueue(ctx context.Context, function string, args any) (string, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("queue: marshal args: %w", err)
	}
	item := Item{ID: uuid.NewString(), Function: function, Args: raw, EnqueuedAt: time.Now().UTC()}
	payload, err := json.Marshal(item)
	if err != nil {
		return "", err
	}
	if err := q.rdb.LPush(ctx, q.name, payload).Err(); err != nil {
		return "", fmt.Errorf("queue: enqueue on %s: %w", q.name, err)
	}
	return item.ID, nil
}

// dequeue blocks up to timeout for the next item, FIFO (oldest first:
// producers LPUSH, consumers BRPOP).
func (q *Queue) dequeue(ctx context.Context, timeout time.Duration) (*Item, error) {
	res, err := q.rdb.BRPop(ctx, timeout, q.name).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var item Item
	if err := json.Unmarshal([]byte(res[1]), &item); err != nil {
		return nil, err
	}
	return &item, nil
}
