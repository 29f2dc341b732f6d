// Package persistence implements the single-consumer background worker
// that drains enqueued CDC operations, batches them, validates event
// continuity, and commits them to a table's space files (spec §4.5).
package persistence

import (
	"sync"

	"github.com/gowt/worktable/cdc"
	"github.com/gowt/worktable/link"
)

// queueEntry is one operation sitting in the queue, plus its retry
// attempt counter for the continuity-relaxation backpressure rule.
type queueEntry struct {
	op       cdc.Operation
	attempts int
}

// Queue is the in-memory side index of enqueued operations (spec §4.5
// "Queue inner table"): ordered by arrival, with an index by Link for
// fast "latest operation for this link" queries used when collapsing a
// batch's writes.
type Queue struct {
	mu      sync.Mutex
	entries []queueEntry
	byLink  map[link.Link]int // index into entries of the latest op for a link
	notify  chan struct{}
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{
		byLink: make(map[link.Link]int),
		notify: make(chan struct{}, 1),
	}
}

// Push enqueues op without blocking the caller (spec §4.5 "callers
// enqueue operations without blocking on disk").
func (q *Queue) Push(op cdc.Operation) {
	q.mu.Lock()
	q.entries = append(q.entries, queueEntry{op: op})
	q.byLink[op.Link] = len(q.entries) - 1
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// requeue puts an operation back at the end of the queue with its
// attempt counter incremented, used when a batch fails continuity and
// must be retried (spec §4.5 "operations are returned to the caller for
// retry").
func (q *Queue) requeue(e queueEntry) {
	q.mu.Lock()
	e.attempts++
	q.entries = append(q.entries, e)
	q.byLink[e.op.Link] = len(q.entries) - 1
	q.mu.Unlock()
}

// drain removes up to maxCount entries from the front of the queue,
// forming the raw material for one batch (spec §4.5 "Batching rule").
func (q *Queue) drain(maxCount int) []queueEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) == 0 {
		return nil
	}
	n := len(q.entries)
	if n > maxCount {
		n = maxCount
	}
	out := make([]queueEntry, n)
	copy(out, q.entries[:n])
	q.entries = q.entries[n:]
	q.byLink = make(map[link.Link]int, len(q.entries))
	for i, e := range q.entries {
		q.byLink[e.op.Link] = i
	}
	return out
}

// Len reports how many operations are currently queued.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Wait returns a channel that becomes ready after a Push; it buffers at
// most one pending signal, so one receive covers every Push since the
// last receive.
func (q *Queue) Wait() <-chan struct{} {
	return q.notify
}
