// internal/settlement/breaker.go
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"finthos-payments/internal/domain"
	"finthos-payments/internal/util"
)

// BreakerConfig tunes the circuit breaker placed in front of an adapter.
type BreakerConfig struct {
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
	HalfOpenRequests    uint32
}

// BreakerAdapter stops calling a provider that keeps failing and fails fast until it recovers.
// Declines are successful calls and never trip the breaker.
type BreakerAdapter struct {
	next Adapter
	cb   *gobreaker.CircuitBreaker
}

// WithBreaker wraps next in a circuit breaker.
func WithBreaker(next Adapter, cfg BreakerConfig, logger *slog.Logger) *BreakerAdapter {
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	if cfg.HalfOpenRequests == 0 {
		cfg.HalfOpenRequests = 1
	}
	settings := gobreaker.Settings{
		Name:        next.Name(),
		MaxRequests: cfg.HalfOpenRequests,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("settlement circuit breaker state change", "adapter", name, "from", from.String(), "to", to.String())
		},
	}
	return &BreakerAdapter{next: next, cb: gobreaker.NewCircuitBreaker(settings)}
}

var _ Adapter = (*BreakerAdapter)(nil)

func (b *BreakerAdapter) Name() string { return b.next.Name() }

// State reports the breaker state, for health output.
func (b *BreakerAdapter) State() string { return b.cb.State().String() }

func (b *BreakerAdapter) Settle(ctx context.Context, txn domain.Transaction) (Result, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.Settle(ctx, txn)
	})
	if err != nil {
		return Result{}, wrapBreakerError(b.Name(), err)
	}
	return out.(Result), nil
}

func (b *BreakerAdapter) Confirmations(ctx context.Context, start, end time.Time) ([]Confirmation, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.Confirmations(ctx, start, end)
	})
	if err != nil {
		return nil, wrapBreakerError(b.Name(), err)
	}
	return out.([]Confirmation), nil
}

func wrapBreakerError(name string, err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%s: %w: %w", name, util.ErrAdapterFailure, err)
	}
	return err
}
