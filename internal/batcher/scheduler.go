package batcher

import (
	"sync"
	"time"
)

// SchedulerState is the debounce state of a Scheduler
type SchedulerState int

const (
	StateIdle SchedulerState = iota
	StateWaiting
)

func (s SchedulerState) String() string {
	if s == StateWaiting {
		return "waiting"
	}
	return "idle"
}

// FlushFunc receives the calls of one cycle. It is invoked with the
// scheduler lock held and must not block.
type FlushFunc func(calls []*PendingCall)

// Scheduler decides when the queue is flushed: immediately once it holds
// maxSize calls, otherwise maxWait after the first call of the cycle.
type Scheduler struct {
	queue      *Queue
	maxSize    int
	maxWait    time.Duration
	onFlush    FlushFunc
	state      SchedulerState
	timer      *time.Timer
	generation uint64
	stopped    bool
	mu         sync.Mutex
}

// NewScheduler creates a scheduler over queue
func NewScheduler(queue *Queue, maxSize int, maxWait time.Duration, onFlush FlushFunc) *Scheduler {
	if maxSize <= 0 {
		maxSize = DefaultMaxBatchSize
	}
	if maxSize > MaxBatchSize {
		maxSize = MaxBatchSize
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxBatchWait
	}
	return &Scheduler{
		queue:   queue,
		maxSize: maxSize,
		maxWait: maxWait,
		onFlush: onFlush,
	}
}

// Enqueue queues p. Returns false if the scheduler was stopped.
func (s *Scheduler) Enqueue(p *PendingCall) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return false
	}

	if s.queue.Enqueue(p) >= s.maxSize {
		s.flushLocked()
		return true
	}

	if s.state == StateIdle {
		s.state = StateWaiting
		s.generation++
		gen := s.generation
		s.timer = time.AfterFunc(s.maxWait, func() {
			s.expire(gen)
		})
	}
	return true
}

// Flush drains the queue now
func (s *Scheduler) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushLocked()
}

// Stop disarms the timer, flushes what is queued and rejects further calls
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushLocked()
	s.stopped = true
}

// State returns the current debounce state
func (s *Scheduler) State() SchedulerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Scheduler) expire(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// a flush since this timer was armed already took its calls
	if gen != s.generation || s.state != StateWaiting {
		return
	}
	s.flushLocked()
}

func (s *Scheduler) flushLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.state = StateIdle
	s.generation++

	calls := s.queue.DrainAll()
	if len(calls) > 0 {
		s.onFlush(calls)
	}
}
