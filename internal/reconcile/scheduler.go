// internal/reconcile/scheduler.go
package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

const lockName = "reconciliation"

// Scheduler reconciles the trailing window on a fixed interval, once across all instances.
type Scheduler struct {
	engine   *Engine
	locker   Locker
	interval time.Duration
	window   time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

func NewScheduler(engine *Engine, locker Locker, interval, window time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		engine:   engine,
		locker:   locker,
		interval: interval,
		window:   window,
		logger:   logger.With("component", "reconcile-scheduler"),
		now:      time.Now,
	}
}

// Run blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("scheduled reconciliation failed", "error", err)
			}
		}
	}
}

// RunOnce reconciles [now-window, now). It reports false when another instance holds the lock.
func (s *Scheduler) RunOnce(ctx context.Context) (bool, error) {
	unlock, err := s.locker.TryLock(ctx, lockName)
	if errors.Is(err, ErrLockHeld) {
		s.logger.Debug("reconciliation already running elsewhere")
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("release reconciliation lock", "error", err)
		}
	}()

	end := s.now().UTC()
	if _, err := s.engine.Reconcile(ctx, end.Add(-s.window), end); err != nil {
		return true, err
	}
	return true, nil
}
