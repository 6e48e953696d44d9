// Package queue hands motion segments from command ingestion to the worker.
//
// A Queue supports exactly one producer and one consumer. The cursors are
// atomics: the producer writes a slot and then publishes the write cursor, the
// consumer copies a slot out and then publishes the read cursor, so neither
// side can observe a half written segment.
package queue

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"eggbot/modules/unit"
)

// DefaultSize is the number of slots used when the configuration has none.
const DefaultSize = 16

// backoff is how long Push naps while the buffer is full.
var backoff = 10 * time.Millisecond

// Task is one motion segment. A Quit task carries no motion and tells the
// worker to stop.
type Task struct {
	Quit     bool
	From, To unit.Coordinate
	Dt       float64 // seconds
}

// QuitTask returns the stop sentinel.
func QuitTask() Task {
	return Task{Quit: true}
}

// Queue is a bounded ring of tasks. One slot is always left empty so that a
// full ring can be told apart from an empty one.
type Queue struct {
	read  atomic.Uint64
	write atomic.Uint64
	slots []Task
}

// New returns a queue with n slots, holding at most n-1 tasks.
func New(n int) (*Queue, error) {
	if n < 2 {
		return nil, errors.Errorf("queue size %d: need at least 2 slots", n)
	}
	return &Queue{slots: make([]Task, n)}, nil
}

func (q *Queue) next(i uint64) uint64 {
	return (i + 1) % uint64(len(q.slots))
}

// Push stores a task, napping while the queue is full. It only fails when ctx
// is done before a slot frees up.
func (q *Queue) Push(ctx context.Context, t Task) error {
	w := q.write.Load()
	for q.next(w) == q.read.Load() {
		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "queue full")
		case <-time.After(backoff):
		}
	}
	q.slots[w] = t
	q.write.Store(q.next(w))
	return nil
}

// HasNext reports whether a task is waiting.
func (q *Queue) HasNext() bool {
	return q.read.Load() != q.write.Load()
}

// Pop takes the oldest task. Callers must check HasNext first.
func (q *Queue) Pop() Task {
	r := q.read.Load()
	t := q.slots[r]
	q.read.Store(q.next(r))
	return t
}

// Len is the number of queued tasks. It is a snapshot and only exact when
// called from the producer or consumer side.
func (q *Queue) Len() int {
	n := uint64(len(q.slots))
	return int((q.write.Load() + n - q.read.Load()) % n)
}

// Cap is the number of tasks the queue can hold.
func (q *Queue) Cap() int {
	return len(q.slots) - 1
}
