// Package batch provides the FIFO work queue and bounded worker pool
// that drain batch scoring and background lifecycle jobs off the
// request path.
package batch

import (
	"sync"
)

// Task is a unit of background work. Tasks carry their own context
// handling; the pool only guarantees bounded, ordered pickup.
type Task struct {
	Name string
	Run  func() error
}

// Queue is a bounded in-memory FIFO. Enqueue is non-blocking and
// reports false when full; rate limiting upstream is the real
// backpressure mechanism.
type Queue struct {
	mu       sync.Mutex
	tasks    []Task
	capacity int
	closed   bool
}

// NewQueue creates a queue holding at most capacity tasks.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 1000
	}
	return &Queue{capacity: capacity}
}

// Enqueue appends a task. Returns false if the queue is full or closed.
func (q *Queue) Enqueue(t Task) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed || len(q.tasks) >= q.capacity {
		return false
	}
	q.tasks = append(q.tasks, t)
	return true
}

// Dequeue pops the oldest task, if any.
func (q *Queue) Dequeue() (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.tasks) == 0 {
		return Task{}, false
	}
	t := q.tasks[0]
	q.tasks = q.tasks[1:]
	return t, true
}

// Len returns the number of queued tasks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Close stops accepting new tasks. Queued tasks remain drainable.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
}
