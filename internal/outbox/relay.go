// internal/outbox/relay.go
package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"finthos-payments/internal/repository"
)

// RelayConfig tunes the relay loop.
type RelayConfig struct {
	Interval    time.Duration
	BatchSize   int
	MaxAttempts int           // an event failing this many times is parked as failed
	RetryWait   time.Duration // pause between in-batch retries of one event
}

// Relay moves committed outbox events to a Publisher. Delivery is at least once.
type Relay struct {
	repos     repository.Repositories
	publisher Publisher
	cfg       RelayConfig
	logger    *slog.Logger
	now       func() time.Time
}

// NewRelay creates a new Relay reading through uow's autocommit repositories.
func NewRelay(uow repository.UnitOfWork, publisher Publisher, cfg RelayConfig, logger *slog.Logger) *Relay {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	if cfg.RetryWait <= 0 {
		cfg.RetryWait = 100 * time.Millisecond
	}
	return &Relay{
		repos:     uow.Repositories(),
		publisher: publisher,
		cfg:       cfg,
		logger:    logger.With("component", "outbox-relay"),
		now:       time.Now,
	}
}

// Run publishes on every tick until ctx is done.
func (r *Relay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.PublishPending(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error("outbox relay pass failed", "error", err)
			}
		}
	}
}

// PublishPending publishes one batch and returns how many events went out.
func (r *Relay) PublishPending(ctx context.Context) (int, error) {
	events, err := r.repos.Outbox().ListPending(ctx, r.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("outbox: list pending: %w", err)
	}

	published := 0
	for _, event := range events {
		policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(r.cfg.RetryWait), 2), ctx)
		err := backoff.Retry(func() error { return r.publisher.Publish(ctx, event) }, policy)
		if err != nil {
			r.logger.Warn("publish failed", "event_id", event.ID, "event_type", event.EventType,
				"attempt", event.Attempts+1, "error", err)
			if merr := r.repos.Outbox().MarkFailed(ctx, event.ID, err.Error(), r.cfg.MaxAttempts); merr != nil {
				return published, fmt.Errorf("outbox: mark %s failed: %w", event.ID, merr)
			}
			continue
		}
		if err := r.repos.Outbox().MarkPublished(ctx, event.ID, r.now().UTC()); err != nil {
			return published, fmt.Errorf("outbox: mark %s published: %w", event.ID, err)
		}
		published++
	}
	if published > 0 {
		r.logger.Debug("outbox batch published", "count", published)
	}
	return published, nil
}
