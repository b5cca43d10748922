// Package queue provides the ordered, single-consumer delivery queue used for
// inbound messages, inbound signals and outbound batches.
package queue

import (
	"fmt"
	"sync"
)

// Control is the pause/inspect surface of a queue exposed to hosts.
type Control interface {
	Pause()
	Resume()
	Paused() bool
	Length() int
	Idle() bool
}

// Queue delivers items to a processor one at a time, in push order.
//
// Draining runs on a single goroutine started on demand. It requires both
// pause levels (user and system) to be clear. A processor error halts the
// queue with the failing item kept at the head; Clear discards the items and
// lifts the halt.
type Queue[T any] struct {
	processor func(T) error
	onError   func(error)

	mu           sync.Mutex
	items        []T
	userPaused   bool
	systemPaused bool
	running      bool
	halted       bool
	// gen is bumped by Clear so an in-flight item is not dropped twice.
	gen uint64
}

// New creates a queue. onError may be nil.
func New[T any](processor func(T) error, onError func(error)) *Queue[T] {
	return &Queue[T]{processor: processor, onError: onError}
}

// Push appends item and starts draining if allowed.
func (q *Queue[T]) Push(item T) {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.kickLocked()
	q.mu.Unlock()
}

// Pause sets the user pause. The in-flight item, if any, still completes.
func (q *Queue[T]) Pause() {
	q.mu.Lock()
	q.userPaused = true
	q.mu.Unlock()
}

// Resume clears the user pause.
func (q *Queue[T]) Resume() {
	q.mu.Lock()
	q.userPaused = false
	q.kickLocked()
	q.mu.Unlock()
}

// SystemPause sets the system pause.
func (q *Queue[T]) SystemPause() {
	q.mu.Lock()
	q.systemPaused = true
	q.mu.Unlock()
}

// SystemResume clears the system pause.
func (q *Queue[T]) SystemResume() {
	q.mu.Lock()
	q.systemPaused = false
	q.kickLocked()
	q.mu.Unlock()
}

// Clear discards all queued items and lifts a halt.
func (q *Queue[T]) Clear() {
	q.mu.Lock()
	q.items = nil
	q.halted = false
	q.gen++
	q.mu.Unlock()
}

// Length returns the number of items not yet fully processed.
func (q *Queue[T]) Length() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Paused reports whether either pause level is set.
func (q *Queue[T]) Paused() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pausedLocked()
}

// Halted reports whether a processor error stopped the queue.
func (q *Queue[T]) Halted() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.halted
}

// Idle reports whether nothing is queued or in flight.
func (q *Queue[T]) Idle() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) == 0 && !q.running
}

func (q *Queue[T]) pausedLocked() bool {
	return q.userPaused || q.systemPaused
}

func (q *Queue[T]) kickLocked() {
	if q.running || q.halted || q.pausedLocked() || len(q.items) == 0 {
		return
	}
	q.running = true
	go q.drain()
}

func (q *Queue[T]) drain() {
	for {
		q.mu.Lock()
		if q.halted || q.pausedLocked() || len(q.items) == 0 {
			q.running = false
			q.mu.Unlock()
			return
		}
		item := q.items[0]
		gen := q.gen
		q.mu.Unlock()

		err := q.process(item)

		q.mu.Lock()
		current := gen == q.gen
		if err == nil && current {
			var zero T
			q.items[0] = zero
			q.items = q.items[1:]
		}
		if err != nil && current {
			q.halted = true
			q.running = false
		}
		q.mu.Unlock()

		if err != nil {
			if q.onError != nil {
				q.onError(err)
			}
			if current {
				return
			}
		}
	}
}

func (q *Queue[T]) process(item T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("queue: processor panic: %v", r)
		}
	}()
	return q.processor(item)
}
