package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/qcom/accounts/internal/models"
	"github.com/stretchr/testify/require"
)

type fakeLock struct {
	ok    bool
	err   error
	calls int
	ttl   time.Duration
}

func (l *fakeLock) Acquire(ctx context.Context, ttl time.Duration) (bool, error) {
	l.calls++
	l.ttl = ttl
	return l.ok, l.err
}

func seedReaperStore(t *testing.T, now time.Time) *memStore {
	store := newMemStore()
	seed := []models.Account{
		{ID: "old-pending", Email: "old@x.com", CreatedAt: now.Add(-2 * time.Hour)},
		{ID: "fresh-pending", Email: "fresh@x.com", CreatedAt: now.Add(-5 * time.Minute)},
		{ID: "old-verified", Email: "v@x.com", Verified: true, CreatedAt: now.Add(-48 * time.Hour)},
	}
	for i := range seed {
		require.NoError(t, store.Create(context.Background(), &seed[i]))
	}
	return store
}

func ids(accounts []models.Account) []string {
	out := make([]string, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, a.ID)
	}
	return out
}

func TestReaperDeletesOnlyStaleUnverified(t *testing.T) {
	clock := newFakeClock()
	store := seedReaperStore(t, clock.Now())

	r := NewReaper(store, nil, testAccountConfig(), testLogger())
	r.now = clock.Now

	deleted, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, deleted)
	require.ElementsMatch(t, []string{"fresh-pending", "old-verified"}, ids(store.all()))
}

func TestReaperSkipsWhenLockHeldElsewhere(t *testing.T) {
	clock := newFakeClock()
	store := seedReaperStore(t, clock.Now())
	lock := &fakeLock{ok: false}

	r := NewReaper(store, lock, testAccountConfig(), testLogger())
	r.now = clock.Now

	deleted, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	require.Zero(t, deleted)
	require.Len(t, store.all(), 3)
	require.Equal(t, 30*time.Second, lock.ttl)

	lock.ok = true
	deleted, err = r.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, deleted)
}

func TestReaperSurfacesLockError(t *testing.T) {
	r := NewReaper(newMemStore(), &fakeLock{err: errors.New("redis down")}, testAccountConfig(), testLogger())
	_, err := r.RunOnce(context.Background())
	require.ErrorContains(t, err, "redis down")
}

func TestReaperStartStopsOnCancel(t *testing.T) {
	cfg := testAccountConfig()
	cfg.ReaperInterval = 10 * time.Millisecond
	clock := newFakeClock()
	store := seedReaperStore(t, clock.Now())

	r := NewReaper(store, nil, cfg, testLogger())
	r.now = clock.Now

	ctx, cancel := context.WithCancel(context.Background())
	done := r.Start(ctx)

	require.Eventually(t, func() bool { return len(store.all()) == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reaper did not stop")
	}
}
