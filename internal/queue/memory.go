// internal/queue/memory.go
package queue

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"finthos-payments/internal/util"
)

type item struct {
	job      Job
	priority int
	readyAt  time.Time
	seq      uint64
	index    int
}

// readyHeap orders by priority, then FIFO.
type readyHeap []*item

func (h readyHeap) Len() int { return len(h) }
func (h readyHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}
func (h readyHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *readyHeap) Push(x any)   { it := x.(*item); it.index = len(*h); *h = append(*h, it) }
func (h *readyHeap) Pop() any {
	old := *h
	it := old[len(old)-1]
	old[len(old)-1] = nil
	*h = old[:len(old)-1]
	return it
}

// delayedHeap orders by the time a job becomes visible.
type delayedHeap struct{ readyHeap }

func (h delayedHeap) Less(i, j int) bool {
	if !h.readyHeap[i].readyAt.Equal(h.readyHeap[j].readyAt) {
		return h.readyHeap[i].readyAt.Before(h.readyHeap[j].readyAt)
	}
	return h.readyHeap[i].seq < h.readyHeap[j].seq
}

// MemoryQueue is an in-process Queue for single-instance deployments and tests.
type MemoryQueue struct {
	opts Options

	mu      sync.Mutex
	ready   readyHeap
	delayed delayedHeap
	seq     uint64
	closed  bool
	started bool

	wake   chan struct{}
	work   chan *item
	cancel context.CancelFunc
	wg     sync.WaitGroup
	now    func() time.Time
}

// NewMemoryQueue creates a new MemoryQueue.
func NewMemoryQueue(opts Options) *MemoryQueue {
	return &MemoryQueue{
		opts: opts.withDefaults(),
		wake: make(chan struct{}, 1),
		work: make(chan *item),
		now:  time.Now,
	}
}

var _ Queue = (*MemoryQueue)(nil)

func (q *MemoryQueue) Enqueue(ctx context.Context, job Job, priority int, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return util.ErrQueueClosed
	}
	q.seq++
	job.Priority = priority
	it := &item{job: job, priority: priority, readyAt: q.now().Add(delay), seq: q.seq}
	if delay > 0 {
		heap.Push(&q.delayed, it)
	} else {
		heap.Push(&q.ready, it)
	}
	q.signal()
	return nil
}

func (q *MemoryQueue) Subscribe(ctx context.Context, handler Handler) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return util.ErrQueueClosed
	}
	if q.started {
		q.mu.Unlock()
		return errors.New("queue: already subscribed")
	}
	q.started = true
	ctx, q.cancel = context.WithCancel(ctx)
	q.mu.Unlock()

	q.wg.Add(1)
	go q.dispatch(ctx)
	for i := 0; i < q.opts.Concurrency; i++ {
		q.wg.Add(1)
		go q.consume(ctx, handler)
	}
	return nil
}

func (q *MemoryQueue) Remove(ctx context.Context, jobID string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, it := range q.ready {
		if it.job.ID == jobID {
			heap.Remove(&q.ready, it.index)
			return true, nil
		}
	}
	for _, it := range q.delayed.readyHeap {
		if it.job.ID == jobID {
			heap.Remove(&q.delayed, it.index)
			return true, nil
		}
	}
	return false, nil
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	cancel := q.cancel
	q.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	q.wg.Wait()
	return nil
}

// Len returns the number of jobs waiting, ready or delayed.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.ready.Len() + q.delayed.Len()
}

func (q *MemoryQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *MemoryQueue) dispatch(ctx context.Context) {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		now := q.now()
		for q.delayed.Len() > 0 && !q.delayed.readyHeap[0].readyAt.After(now) {
			heap.Push(&q.ready, heap.Pop(&q.delayed))
		}
		var next *item
		if q.ready.Len() > 0 {
			next = heap.Pop(&q.ready).(*item)
		}
		wait := time.Hour
		if q.delayed.Len() > 0 {
			wait = q.delayed.readyHeap[0].readyAt.Sub(now)
		}
		q.mu.Unlock()

		if next != nil {
			select {
			case q.work <- next:
				continue
			case <-ctx.Done():
				return
			}
		}

		timer := time.NewTimer(wait)
		select {
		case <-q.wake:
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return
		}
		timer.Stop()
	}
}

func (q *MemoryQueue) consume(ctx context.Context, handler Handler) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case it := <-q.work:
			q.deliver(ctx, handler, it)
		}
	}
}

func (q *MemoryQueue) deliver(ctx context.Context, handler Handler, it *item) {
	job := it.job
	job.Attempt++
	err := safeHandle(ctx, handler, job)
	if err == nil {
		return
	}
	logger := q.opts.Logger.With("job_id", job.ID, "transaction_id", job.TransactionID, "attempt", job.Attempt)
	if job.Attempt >= q.opts.MaxDeliveries {
		logger.Error("job dead-lettered", "error", err)
		if q.opts.DeadLetter != nil {
			q.opts.DeadLetter(context.WithoutCancel(ctx), job, err)
		}
		return
	}
	logger.Warn("job failed, redelivering", "error", err)
	if enqErr := q.Enqueue(ctx, job, it.priority, q.opts.RetryDelay*time.Duration(job.Attempt)); enqErr != nil {
		logger.Error("redelivery failed", "error", enqErr)
	}
}

// safeHandle turns a handler panic into an error so one job cannot take a consumer down.
func safeHandle(ctx context.Context, handler Handler, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("queue: handler panic: %v", r)
		}
	}()
	return handler(ctx, job)
}
