package server

import (
	"sort"
	"sync"
	"time"
)

// item is one inbound message waiting for delivery to the CLI tool.
type item struct {
	taskID   string
	content  string
	priority int
	arrived  time.Time
}

// queue is the receiver-side work queue. Priorities 1..4 are advisory
// ordering metadata: higher priority first, FIFO within a priority.
// Priority-5 arrivals never enter the queue; they are delivered
// immediately by the submit handler.
type queue struct {
	mu    sync.Mutex
	items []item
	wake  chan struct{}
}

func newQueue() *queue {
	return &queue{wake: make(chan struct{}, 1)}
}

// push enqueues an item and wakes the delivery loop.
func (q *queue) push(it item) {
	q.mu.Lock()
	q.items = append(q.items, it)
	sort.SliceStable(q.items, func(i, j int) bool {
		if q.items[i].priority != q.items[j].priority {
			return q.items[i].priority > q.items[j].priority
		}
		return q.items[i].arrived.Before(q.items[j].arrived)
	})
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// pop removes the head item; ok is false when the queue is empty.
func (q *queue) pop() (item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return item{}, false
	}
	head := q.items[0]
	q.items = q.items[1:]
	return head, true
}

// remove drops a queued item by task id, returning whether it was present.
// Used by cancellation to retract not-yet-delivered work.
func (q *queue) remove(taskID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, it := range q.items {
		if it.taskID == taskID && taskID != "" {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return true
		}
	}
	return false
}

// depth returns the number of queued items.
func (q *queue) depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
