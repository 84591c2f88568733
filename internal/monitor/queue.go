package monitor

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"

	"vfspanel/internal/syncutil"
)

// JobKind says what a reconciliation job does.
type JobKind int

const (
	// JobMount rescans every record that is not mounted.
	JobMount JobKind = iota
	// JobUnmount unmounts the records matching an observed unmount.
	JobUnmount
)

func (k JobKind) String() string {
	if k == JobMount {
		return "mount"
	}
	return "unmount"
}

// Job is one unit of reconciliation work.
type Job struct {
	Kind   JobKind
	Name   string
	Path   string
	Scheme string
}

// JobQueue is a FIFO of jobs safe for one producer and one consumer.
type JobQueue struct {
	clock clockwork.Clock

	mu    syncutil.Mutex
	jobs  []Job
	ready chan struct{}
}

func NewJobQueue(clock clockwork.Clock) *JobQueue {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &JobQueue{
		clock: clock,
		ready: make(chan struct{}, 1),
	}
}

// Push appends j and wakes a waiting Drain.
func (q *JobQueue) Push(j Job) {
	q.mu.Lock()
	q.jobs = append(q.jobs, j)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Drain removes and returns every queued job. With an empty queue it waits
// up to timeout for a push, returning nil if none arrives or ctx is done.
func (q *JobQueue) Drain(ctx context.Context, timeout time.Duration) []Job {
	if jobs := q.take(); len(jobs) > 0 {
		return jobs
	}

	timer := q.clock.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-q.ready:
		return q.take()
	case <-timer.Chan():
		return nil
	case <-ctx.Done():
		return nil
	}
}

// Len returns the number of queued jobs.
func (q *JobQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

func (q *JobQueue) take() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	jobs := q.jobs
	q.jobs = nil
	return jobs
}
