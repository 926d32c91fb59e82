package booking

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	redisclient "github.com/oakmed/clinic-booking/internal/redis"
)

// KeyedLocker serializes critical sections per slot id inside a single
// process. It satisfies the same contract as the Redis locker and backs
// single-node deployments and tests; operations on different slots never
// contend.
type KeyedLocker struct {
	mu      sync.Mutex
	locks   map[uuid.UUID]chan struct{}
	maxWait time.Duration
}

func NewKeyedLocker(maxWait time.Duration) *KeyedLocker {
	return &KeyedLocker{
		locks:   make(map[uuid.UUID]chan struct{}),
		maxWait: maxWait,
	}
}

func (k *KeyedLocker) WithSlotLock(ctx context.Context, slotID uuid.UUID, fn func(ctx context.Context) error) error {
	ch := k.slotChan(slotID)

	timer := time.NewTimer(k.maxWait)
	defer timer.Stop()

	select {
	case ch <- struct{}{}:
	case <-timer.C:
		return redisclient.ErrLockNotAcquired
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-ch }()

	return fn(ctx)
}

func (k *KeyedLocker) slotChan(slotID uuid.UUID) chan struct{} {
	k.mu.Lock()
	defer k.mu.Unlock()
	ch, ok := k.locks[slotID]
	if !ok {
		ch = make(chan struct{}, 1)
		k.locks[slotID] = ch
	}
	return ch
}
