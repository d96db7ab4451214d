// internal/queue/queue.go
package queue

import (
	"context"
	"log/slog"
	"time"

	"finthos-payments/internal/domain"
)

// Job asks a worker to settle one transaction. ID equals the transaction id, so a transaction
// is queued at most once.
type Job struct {
	ID            string    `json:"id"`
	TransactionID string    `json:"transaction_id"`
	Priority      int       `json:"priority"`
	Attempt       int       `json:"attempt"` // deliveries so far, including the current one
	EnqueuedAt    time.Time `json:"enqueued_at"`
}

// NewJob creates the settlement job for a transaction.
func NewJob(transactionID string, now time.Time) Job {
	return Job{ID: transactionID, TransactionID: transactionID, EnqueuedAt: now.UTC()}
}

// Handler processes a job. A non-nil error causes redelivery until MaxDeliveries is reached.
type Handler func(ctx context.Context, job Job) error

// DeadLetterFunc receives a job whose deliveries are exhausted, with the last handler error.
type DeadLetterFunc func(ctx context.Context, job Job, err error)

// Queue is a durable priority queue with delayed delivery.
type Queue interface {
	// Enqueue schedules job to become visible after delay. Lower priority values are served first.
	Enqueue(ctx context.Context, job Job, priority int, delay time.Duration) error
	// Subscribe starts the consumers and returns immediately. It may be called once.
	Subscribe(ctx context.Context, handler Handler) error
	// Remove drops a job that has not been handed to a consumer yet.
	Remove(ctx context.Context, jobID string) (bool, error)
	// Close stops the consumers and waits for in-flight jobs.
	Close() error
}

// Options configures consumers of either queue implementation.
type Options struct {
	Concurrency       int
	MaxDeliveries     int
	RetryDelay        time.Duration // multiplied by the attempt number
	VisibilityTimeout time.Duration // redis: a job held longer than this is redelivered
	PollInterval      time.Duration // redis: idle poll period
	DeadLetter        DeadLetterFunc
	Logger            *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Concurrency <= 0 {
		o.Concurrency = 4
	}
	if o.MaxDeliveries <= 0 {
		o.MaxDeliveries = 5
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = time.Second
	}
	if o.VisibilityTimeout <= 0 {
		o.VisibilityTimeout = 2 * time.Minute
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 200 * time.Millisecond
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Priority maps a settlement tier to a queue priority: instant 0, express 1, standard 2.
func Priority(p domain.Priority) int {
	switch p {
	case domain.PriorityInstant:
		return 0
	case domain.PriorityExpress:
		return 1
	default:
		return 2
	}
}

// Delay returns how long a tier waits before settlement. Instant jobs never wait.
func Delay(p domain.Priority, settlementDelay time.Duration) time.Duration {
	if p == domain.PriorityInstant {
		return 0
	}
	return settlementDelay
}
