// Package reindex queues and processes embedding refresh work. Stale
// records are discovered by the reliability checks, enqueued with a
// priority derived from the staleness reason, and re-embedded either on
// demand or by a background worker.
package reindex

import (
	"container/heap"
	"sync"
	"time"

	"github.com/fyrsmithlabs/semidx/internal/memory"
)

// Job is a single reindex request for one record.
type Job struct {
	RecordID   string
	EntityType memory.RecordType
	Reason     memory.StalenessReason
	Priority   int
	QueuedAt   time.Time

	// Metadata carries reason-specific detail, such as the measured
	// similarity for drift jobs.
	Metadata map[string]string

	// seq breaks priority ties in FIFO order.
	seq uint64
}

// jobHeap orders jobs by descending priority, then ascending sequence.
type jobHeap []*Job

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].seq < h[j].seq
}

func (h jobHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *jobHeap) Push(x any) { *h = append(*h, x.(*Job)) }

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	job := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return job
}

// Queue is a bounded, deduplicating priority queue of reindex jobs.
// Higher priority dequeues first; equal priorities dequeue in arrival
// order. A record already waiting in the queue cannot be enqueued again
// until its job has been taken out.
type Queue struct {
	mu      sync.Mutex
	jobs    jobHeap
	seen    map[string]struct{}
	maxSize int
	nextSeq uint64
}

// NewQueue creates a queue holding at most maxSize pending jobs.
// maxSize <= 0 means unbounded.
func NewQueue(maxSize int) *Queue {
	return &Queue{
		seen:    make(map[string]struct{}),
		maxSize: maxSize,
	}
}

// Add enqueues a job. Returns false when the record is already queued or
// the queue is full.
func (q *Queue) Add(job Job) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, dup := q.seen[job.RecordID]; dup {
		return false
	}
	if q.maxSize > 0 && len(q.jobs) >= q.maxSize {
		return false
	}

	job.seq = q.nextSeq
	q.nextSeq++
	if job.QueuedAt.IsZero() {
		job.QueuedAt = time.Now().UTC()
	}

	q.seen[job.RecordID] = struct{}{}
	heap.Push(&q.jobs, &job)
	return true
}

// Get removes and returns the highest-priority job, or nil when the
// queue is empty. The record becomes eligible for re-enqueueing as soon
// as its job is taken, even if processing has not finished.
func (q *Queue) Get() *Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.jobs) == 0 {
		return nil
	}

	job := heap.Pop(&q.jobs).(*Job)
	delete(q.seen, job.RecordID)
	return job
}

// Len returns the number of pending jobs.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// Contains reports whether a job for the record is pending.
func (q *Queue) Contains(recordID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.seen[recordID]
	return ok
}

// Clear drops all pending jobs.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = nil
	q.seen = make(map[string]struct{})
}
