package core

import (
	"context"
	"errors"
	"sync"
)

var (
	ErrSchedulerStopped = errors.New("scheduler stopped")
	ErrQueueFull        = errors.New("job queue is full")
)

// Scheduler runs tasks on a fixed pool of workers fed by a bounded queue.
type Scheduler struct {
	mu       sync.RWMutex
	stopped  bool
	queue    chan func()
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewScheduler starts workers goroutines serving a queue of queueSize.
func NewScheduler(workers, queueSize int) *Scheduler {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	s := &Scheduler{queue: make(chan func(), queueSize)}
	s.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go s.work()
	}
	return s
}

func (s *Scheduler) work() {
	defer s.wg.Done()
	for task := range s.queue {
		task()
	}
}

// Enqueue queues task without waiting. It returns ErrQueueFull when every
// slot is taken.
func (s *Scheduler) Enqueue(ctx context.Context, task func()) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		return ErrSchedulerStopped
	}
	select {
	case s.queue <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop refuses new tasks and waits for queued and running ones to finish.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		close(s.queue)
		s.mu.Unlock()
		s.wg.Wait()
	})
}
