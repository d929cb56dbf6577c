package batcher

import "sync"

// Queue holds pending calls in arrival order until a flush drains them
type Queue struct {
	items []*PendingCall
	mu    sync.Mutex
}

// NewQueue creates an empty queue
func NewQueue() *Queue {
	return &Queue{items: make([]*PendingCall, 0)}
}

// Enqueue appends p and returns the new size
func (q *Queue) Enqueue(p *PendingCall) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, p)
	return len(q.items)
}

// DrainAll removes and returns every queued call
func (q *Queue) DrainAll() []*PendingCall {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = make([]*PendingCall, 0, cap(items))
	return items
}

// Size returns the number of queued calls
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
