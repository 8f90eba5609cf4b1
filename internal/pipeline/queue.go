package pipeline

import (
	"sync"

	"github.com/hotfold/hotfold/internal/job"
)

// jobQueue is a thread-safe FIFO of admitted jobs.
//
// The queue is unbounded: a burst of scanner output must never block the
// watcher. Workers drain it with TryDequeue + Wait so shutdown stays
// context-aware.
type jobQueue struct {
	mu     sync.Mutex
	jobs   []*job.Job
	closed bool
	signal chan struct{} // buffered size 1, coalesces wakeups
}

func newJobQueue() *jobQueue {
	return &jobQueue{
		jobs:   make([]*job.Job, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue appends a job. Returns false if the queue is closed.
func (q *jobQueue) Enqueue(j *job.Job) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.jobs = append(q.jobs, j)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue pops the front job without blocking.
func (q *jobQueue) TryDequeue() (*job.Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.jobs) == 0 {
		return nil, false
	}
	j := q.jobs[0]
	// Drop the reference so the backing array does not pin the job.
	q.jobs[0] = nil
	if len(q.jobs) == 1 {
		q.jobs = q.jobs[:0]
	} else {
		q.jobs = q.jobs[1:]
	}
	return j, true
}

// Wait returns the wakeup channel; it closes when the queue closes.
func (q *jobQueue) Wait() <-chan struct{} { return q.signal }

// Len returns the number of queued jobs.
func (q *jobQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// Closed reports whether the queue no longer accepts jobs.
func (q *jobQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close stops admission and wakes every waiting worker.
func (q *jobQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
