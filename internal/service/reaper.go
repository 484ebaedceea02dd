package service

import (
	"context"
	"time"

	"github.com/qcom/accounts/internal/config"
	"github.com/sirupsen/logrus"
)

type StaleAccountStore interface {
	DeleteStaleUnverified(ctx context.Context, before time.Time) (int, error)
}

// Locker guards a sweep across processes. Acquire reports false when another
// holder has it.
type Locker interface {
	Acquire(ctx context.Context, ttl time.Duration) (bool, error)
}

// Reaper periodically deletes accounts that were never verified.
type Reaper struct {
	store     StaleAccountStore
	lock      Locker
	retention time.Duration
	interval  time.Duration
	logger    *logrus.Logger
	now       func() time.Time
}

// NewReaper builds a reaper. lock may be nil.
func NewReaper(store StaleAccountStore, lock Locker, cfg *config.AccountConfig, logger *logrus.Logger) *Reaper {
	return &Reaper{
		store:     store,
		lock:      lock,
		retention: cfg.UnverifiedRetention,
		interval:  cfg.ReaperInterval,
		logger:    logger,
		now:       time.Now,
	}
}

// Start sweeps on every tick until ctx is cancelled. The returned channel is
// closed once the loop has exited.
func (r *Reaper) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := r.RunOnce(ctx); err != nil {
					r.logger.WithError(err).Error("Unverified account sweep failed")
				}
			}
		}
	}()
	return done
}

// RunOnce deletes unverified accounts older than the retention window and
// returns how many were removed.
func (r *Reaper) RunOnce(ctx context.Context) (int, error) {
	if r.lock != nil {
		ok, err := r.lock.Acquire(ctx, r.interval/2)
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, nil
		}
	}

	cutoff := r.now().UTC().Add(-r.retention)
	deleted, err := r.store.DeleteStaleUnverified(ctx, cutoff)
	if err != nil {
		return deleted, err
	}

	r.logger.WithFields(logrus.Fields{
		"deleted": deleted,
		"cutoff":  cutoff.Format(time.RFC3339),
	}).Info("Swept unverified accounts")
	return deleted, nil
}
