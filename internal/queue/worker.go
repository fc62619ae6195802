package queue

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Dispatcher maps function names to handlers and drains a single queue
// with a fixed concurrency cap, the Go shape of the original worker's
// per-queue function table.
type Dispatcher struct {
	queue       *Queue
	concurrency int
	timeout     time.Duration
	handlers    map[string]Handler
	log         *logrus.Entry
}

// NewDispatcher builds a dispatcher bound to one queue.
func NewDispatcher(q *Queue, concurrency int, timeout time.Duration, log *logrus.Entry) *Dispatcher {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Dispatcher{queue: q, concurrency: concurrency, timeout: timeout, handlers: map[string]Handler{}, log: log}
}

// Register binds a function name to its handler. Call before Run.
func (d *Dispatcher) Register(function string, h Handler) {
	d.handlers[function] = h
}

// Run drains the queue until ctx is canceled, running up to
// concurrency items at once. Each item gets its own derived context
// bounded by the dispatcher's per-item timeout.
func (d *Dispatcher) Run(ctx context.Context) {
	sem := make(chan struct{}, d.concurrency)
	var wg sync.WaitGroup

	for {
		if ctx.Err() != nil {
			break
		}
		item, err := d.queue.dequeue(ctx, time.Second)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			d.log.WithError(err).Warn("dequeue failed, retrying")
			continue
		}
		if item == nil {
			continue
		}

		h, ok := d.handlers[item.Function]
		if !ok {
			d.log.WithField("function", item.Function).Error("no handler registered, dropping item")
			continue
		}

		sem <- struct{}{}
		wg.Add(1)
		go func(it Item, handle Handler) {
			defer wg.Done()
			defer func() { <-sem }()

			itemCtx, cancel := context.WithTimeout(context.Background(), d.timeout)
			defer cancel()

			if err := handle(itemCtx, it); err != nil {
				d.log.WithError(err).WithField("function", it.Function).Error("handler returned error")
			}
		}(*item, h)
	}
	wg.Wait()
}
