package queue

import (
	"context"
	"errors"
	"sync"
)

// ErrFinished is returned by Put once the producer has called Finish
var ErrFinished = errors.New("upload queue already finished")

// Item is either a value or the end-of-stream marker
type Item[T any] struct {
	value T
	eos   bool
}

// Value returns the carried value; zero for the end-of-stream marker
func (i Item[T]) Value() T { return i.value }

// EndOfStream reports whether this item marks the end of production
func (i Item[T]) EndOfStream() bool { return i.eos }

// Queue is a bounded FIFO connecting one producer to a pool of upload
// workers. Put blocks while the queue holds capacity elements, so the
// producer can never run more than capacity items ahead of the workers.
//
// The producer signals completion with Finish, which enqueues a single
// end-of-stream marker after every value. A worker that takes the marker
// calls Relay before exiting so that the next worker sees it as well.
type Queue[T any] struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond

	items    []Item[T]
	capacity int
	finished bool
}

// New creates a queue holding at most capacity elements
func New[T any](capacity int) *Queue[T] {
	if capacity < 1 {
		capacity = 1
	}
	q := &Queue[T]{
		items:    make([]Item[T], 0, capacity),
		capacity: capacity,
	}
	q.notEmpty = sync.NewCond(&q.mu)
	q.notFull = sync.NewCond(&q.mu)
	return q
}

// Put enqueues v, blocking while the queue is full. It returns ctx.Err() if
// the context ends first and ErrFinished after Finish.
func (q *Queue[T]) Put(ctx context.Context, v T) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.finished {
		return ErrFinished
	}

	// wake the wait below when the caller gives up
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.notFull.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	for len(q.items) >= q.capacity {
		if err := ctx.Err(); err != nil {
			return err
		}
		q.notFull.Wait()
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	q.push(Item[T]{value: v})
	return nil
}

// Take blocks until an item is available and removes it
func (q *Queue[T]) Take() Item[T] {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 {
		q.notEmpty.Wait()
	}
	item := q.items[0]
	var zero Item[T]
	q.items[0] = zero
	q.items = q.items[1:]
	q.notFull.Broadcast()
	return item
}

// Finish enqueues the end-of-stream marker. Calls after the first are no-ops.
// It blocks under the same backpressure as Put.
func (q *Queue[T]) Finish() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.finished {
		return
	}
	q.finished = true
	q.waitForSpace()
	q.push(Item[T]{eos: true})
}

// Relay puts the end-of-stream marker back for the next consumer
func (q *Queue[T]) Relay() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.waitForSpace()
	q.push(Item[T]{eos: true})
}

func (q *Queue[T]) waitForSpace() {
	for len(q.items) >= q.capacity {
		q.notFull.Wait()
	}
}

func (q *Queue[T]) push(item Item[T]) {
	q.items = append(q.items, item)
	q.notEmpty.Signal()
}

// Len returns the number of queued items, including a pending marker
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// IsEmpty reports whether nothing is queued
func (q *Queue[T]) IsEmpty() bool {
	return q.Len() == 0
}

// Finished reports whether Finish has been called
func (q *Queue[T]) Finished() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.finished
}

// ContainsFunc reports whether a queued value satisfies match
func (q *Queue[T]) ContainsFunc(match func(T) bool) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, item := range q.items {
		if !item.eos && match(item.value) {
			return true
		}
	}
	return false
}

// Contains reports whether v is currently queued
func Contains[T comparable](q *Queue[T], v T) bool {
	return q.ContainsFunc(func(x T) bool { return x == v })
}
