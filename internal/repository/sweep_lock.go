package repository

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// SweepLock is a best-effort Redis lock that lets one process run the
// unverified-account sweep per interval. The key is never released early;
// it expires on its own.
type SweepLock struct {
	client *redis.Client
	key    string
	owner  string
	logger *logrus.Logger
}

func NewSweepLock(client *redis.Client, key string, logger *logrus.Logger) *SweepLock {
	host, _ := os.Hostname()
	return &SweepLock{
		client: client,
		key:    key,
		owner:  fmt.Sprintf("%s:%s", host, uuid.NewString()),
		logger: logger,
	}
}

func (l *SweepLock) Acquire(ctx context.Context, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.owner, ttl).Result()
	if err != nil {
		l.logger.WithError(err).Error("Failed to acquire sweep lock in Redis")
		return false, fmt.Errorf("failed to acquire sweep lock: %w", err)
	}

	if !ok {
		l.logger.WithField("key", l.key).Debug("Sweep lock held by another process")
	}
	return ok, nil
}
