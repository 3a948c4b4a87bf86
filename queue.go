package netframe

import (
	"container/list"
	"context"
	"sync"
)

// Queue is a double-ended queue safe for concurrent use by any number of
// producers and consumers. A Queue must not be copied after first use.
type Queue[T any] struct {
	mu    sync.Mutex
	cond  *sync.Cond
	items *list.List
}

// NewQueue returns an empty queue.
func NewQueue[T any]() *Queue[T] {
	q := &Queue[T]{items: list.New()}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// PushBack appends item to the back of the queue.
func (q *Queue[T]) PushBack(item T) {
	q.mu.Lock()
	q.items.PushBack(item)
	q.mu.Unlock()
	q.cond.Broadcast()
}

// PushFront inserts item at the front of the queue.
func (q *Queue[T]) PushFront(item T) {
	q.mu.Lock()
	q.items.PushFront(item)
	q.mu.Unlock()
	q.cond.Broadcast()
}

// PopFront removes and returns the front item.
// ok is false if the queue was empty.
func (q *Queue[T]) PopFront() (item T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e := q.items.Front()
	if e == nil {
		return item, false
	}
	return q.items.Remove(e).(T), true
}

// PopBack removes and returns the back item.
// ok is false if the queue was empty.
func (q *Queue[T]) PopBack() (item T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e := q.items.Back()
	if e == nil {
		return item, false
	}
	return q.items.Remove(e).(T), true
}

// Front returns the front item without removing it.
func (q *Queue[T]) Front() (item T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if e := q.items.Front(); e != nil {
		return e.Value.(T), true
	}
	return item, false
}

// Back returns the back item without removing it.
func (q *Queue[T]) Back() (item T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if e := q.items.Back(); e != nil {
		return e.Value.(T), true
	}
	return item, false
}

// Empty reports whether the queue holds no items.
func (q *Queue[T]) Empty() bool {
	return q.Count() == 0
}

// Count returns the number of queued items.
func (q *Queue[T]) Count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// Clear drops every queued item.
func (q *Queue[T]) Clear() {
	q.mu.Lock()
	q.items.Init()
	q.mu.Unlock()
}

// Wait blocks until the queue is non-empty.
func (q *Queue[T]) Wait() {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.items.Len() == 0 {
		q.cond.Wait()
	}
}

// WaitContext blocks until the queue is non-empty or ctx is done.
// It returns ctx.Err() in the latter case.
func (q *Queue[T]) WaitContext(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		// Taking the lock orders the broadcast after the waiter has parked.
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()

	for q.items.Len() == 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		q.cond.Wait()
	}
	return nil
}
