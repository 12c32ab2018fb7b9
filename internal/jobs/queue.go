package jobs

import (
	"sync"

	"go.uber.org/zap"

	"gmaildispatch/pkg/logger"
)

// Item is a single dispatch-queue entry: the minimum a worker needs to
// claim and execute a job.
type Item struct {
	UserID string
	JobID  string
}

// Queue is an in-memory, process-local FIFO of pending work. It carries no
// durability of its own — the Store is the durable record — which is why
// every worker claims via Store.Claim before doing anything else: a
// restart loses queued items, but the startup recovery pass rebuilds the
// queue from jobs still PENDING in the Store.
type Queue struct {
	mu    sync.Mutex
	items []Item
	ready chan struct{}
	log   *zap.Logger
}

// NewQueue constructs an empty dispatch queue.
func NewQueue() *Queue {
	return &Queue{
		ready: make(chan struct{}, 1),
		log:   logger.L().Named("jobs.queue"),
	}
}

// Enqueue appends an item to the back of the queue. Never blocks.
func (q *Queue) Enqueue(userID, jobID string) {
	q.mu.Lock()
	q.items = append(q.items, Item{UserID: userID, JobID: jobID})
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Dequeue pops the item at the front of the queue. ok is false if the
// queue was empty.
func (q *Queue) Dequeue() (item Item, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Item{}, false
	}
	item = q.items[0]
	q.items = q.items[1:]
	return item, true
}

// Wait blocks until an item is available or done is closed, then returns
// whatever Dequeue reports. Workers use this instead of busy-polling.
func (q *Queue) Wait(done <-chan struct{}) (item Item, ok bool) {
	for {
		if item, ok := q.Dequeue(); ok {
			return item, true
		}
		select {
		case <-q.ready:
			continue
		case <-done:
			return Item{}, false
		}
	}
}

// Length reports the number of items currently queued.
func (q *Queue) Length() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
