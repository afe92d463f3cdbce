package queue

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"decline-notifier/internal/model"
)

// ErrClosed is returned by Dequeue once the queue has been closed.
var ErrClosed = errors.New("queue closed")

// Queue is the scheduler side of decline delivery. It owns uniqueness per
// dedup key and the delay between a Retry decision and the next attempt.
type Queue interface {
	// Enqueue adds task unless a live task already holds task.DedupKey, in
	// which case the existing task is kept and false is returned.
	Enqueue(ctx context.Context, task *model.Task) (bool, error)
	// Dequeue blocks until a task is ready or ctx is done.
	Dequeue(ctx context.Context) (*model.Task, error)
	// Schedule makes task ready again after delay. The dedup key stays held.
	Schedule(ctx context.Context, task *model.Task, delay time.Duration) error
	// Complete releases the dedup key. Pending deliveries for it are dropped.
	Complete(ctx context.Context, dedupKey string) error
	// Live reports whether dedupKey is still held by a job.
	Live(ctx context.Context, dedupKey string) (bool, error)
}

// MemoryQueue is a channel-based queue for single-process deployments and tests.
type MemoryQueue struct {
	ch   chan *model.Task
	done chan struct{}

	mu     sync.Mutex
	live   map[string]string // dedup key -> task id
	timers map[string]*time.Timer
	closed bool
}

func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 1
	}
	return &MemoryQueue{
		ch:     make(chan *model.Task, size),
		done:   make(chan struct{}),
		live:   make(map[string]string),
		timers: make(map[string]*time.Timer),
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, task *model.Task) (bool, error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false, ErrClosed
	}
	if _, ok := q.live[task.DedupKey]; ok {
		q.mu.Unlock()
		return false, nil
	}
	q.live[task.DedupKey] = task.ID
	q.mu.Unlock()

	select {
	case q.ch <- task:
		return true, nil
	case <-ctx.Done():
		q.release(task.DedupKey)
		return false, ctx.Err()
	default:
		q.release(task.DedupKey)
		return false, errors.New("queue full")
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (*model.Task, error) {
	for {
		select {
		case task := <-q.ch:
			if !q.owns(task) {
				// Completed or cancelled while waiting.
				continue
			}
			return task, nil
		case <-q.done:
			return nil, ErrClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (q *MemoryQueue) Schedule(_ context.Context, task *model.Task, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	if _, ok := q.live[task.DedupKey]; !ok {
		return nil
	}
	if t, ok := q.timers[task.DedupKey]; ok {
		t.Stop()
	}
	task.NextRetryAt = time.Now().Add(delay)
	q.timers[task.DedupKey] = time.AfterFunc(delay, func() {
		q.mu.Lock()
		delete(q.timers, task.DedupKey)
		deliver := !q.closed && q.live[task.DedupKey] == task.ID
		q.mu.Unlock()
		if deliver {
			select {
			case q.ch <- task:
			case <-q.done:
			}
		}
	})
	return nil
}

func (q *MemoryQueue) Complete(_ context.Context, dedupKey string) error {
	q.release(dedupKey)
	return nil
}

func (q *MemoryQueue) Live(_ context.Context, dedupKey string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.live[dedupKey]
	return ok, nil
}

// Close stops pending timers and wakes blocked consumers.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	for k, t := range q.timers {
		t.Stop()
		delete(q.timers, k)
	}
	close(q.done)
	return nil
}

func (q *MemoryQueue) release(key string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.live, key)
	if t, ok := q.timers[key]; ok {
		t.Stop()
		delete(q.timers, key)
	}
}

func (q *MemoryQueue) owns(task *model.Task) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.live[task.DedupKey] == task.ID
}
