package redisclient

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLocker(t *testing.T, ttl, maxWait time.Duration) (Locker, *miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisSlotLocker(client, ttl, maxWait), mr, client
}

func TestWithSlotLockRunsAndReleases(t *testing.T) {
	locker, mr, _ := newTestLocker(t, time.Second, 100*time.Millisecond)
	slotID := uuid.New()
	key := fmt.Sprintf("lock:slot:%s", slotID)

	ran := false
	err := locker.WithSlotLock(context.Background(), slotID, func(context.Context) error {
		ran = true
		assert.True(t, mr.Exists(key))
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
	assert.False(t, mr.Exists(key), "lock key must be released")
}

func TestWithSlotLockContention(t *testing.T) {
	locker, _, _ := newTestLocker(t, time.Second, 500*time.Millisecond)
	slotID := uuid.New()

	holding := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- locker.WithSlotLock(context.Background(), slotID, func(context.Context) error {
			close(holding)
			<-release
			return nil
		})
	}()
	<-holding

	// The second caller waits out the holder and then acquires.
	go func() {
		time.Sleep(50 * time.Millisecond)
		close(release)
	}()

	err := locker.WithSlotLock(context.Background(), slotID, func(context.Context) error {
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, <-done)
}

func TestWithSlotLockWaitBudgetExceeded(t *testing.T) {
	locker, mr, _ := newTestLocker(t, time.Minute, 60*time.Millisecond)
	slotID := uuid.New()
	key := fmt.Sprintf("lock:slot:%s", slotID)

	// Somebody else's lock, held well past our wait budget.
	require.NoError(t, mr.Set(key, "other-token"))

	err := locker.WithSlotLock(context.Background(), slotID, func(context.Context) error {
		t.Error("critical section must not run")
		return nil
	})
	assert.ErrorIs(t, err, ErrLockNotAcquired)
}

func TestWithSlotLockKeepsForeignToken(t *testing.T) {
	locker, mr, _ := newTestLocker(t, 100*time.Millisecond, 400*time.Millisecond)
	slotID := uuid.New()
	key := fmt.Sprintf("lock:slot:%s", slotID)

	// Hold the lock with a foreign token; let it expire so the locker can
	// acquire, then plant a new foreign token before release runs.
	require.NoError(t, mr.Set(key, "holder-1"))
	mr.SetTTL(key, 100*time.Millisecond)
	mr.FastForward(150 * time.Millisecond)

	err := locker.WithSlotLock(context.Background(), slotID, func(context.Context) error {
		// Simulate our own TTL expiring mid-section and another node
		// taking the lock over.
		mr.FastForward(150 * time.Millisecond)
		require.NoError(t, mr.Set(key, "holder-2"))
		return nil
	})
	require.NoError(t, err)

	// Release is token-checked: holder-2's lock must survive.
	got, getErr := mr.Get(key)
	require.NoError(t, getErr)
	assert.Equal(t, "holder-2", got)
}

func TestWithSlotLockPropagatesFnError(t *testing.T) {
	locker, mr, _ := newTestLocker(t, time.Second, 100*time.Millisecond)
	slotID := uuid.New()
	key := fmt.Sprintf("lock:slot:%s", slotID)

	wantErr := fmt.Errorf("boom")
	err := locker.WithSlotLock(context.Background(), slotID, func(context.Context) error {
		return wantErr
	})
	assert.ErrorIs(t, err, wantErr)
	assert.False(t, mr.Exists(key), "lock released even when fn fails")
}
