package booking

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// SlotLocker serializes bookings of the same (doctor, instant) before the
// database transaction starts, so competing requests queue instead of all
// doing the full unit of work and rolling back. Correctness does not depend
// on it: the store's uniqueness constraint is the final word.
type SlotLocker interface {
	WithSlotLock(ctx context.Context, doctorID DoctorID, at time.Time, fn func(ctx context.Context) error) error
}

// SlotKey is the lock key shared by every SlotLocker implementation.
func SlotKey(doctorID DoctorID, at time.Time) string {
	return fmt.Sprintf("lock:slot:%s:%d", doctorID, NormalizeSlot(at).UnixMicro())
}

// =============================================================================
// LOCAL LOCKER - In-process keyed mutex
// =============================================================================

// LocalLocker blocks until the slot is free. Suitable for a single instance.
type LocalLocker struct {
	mu    sync.Mutex
	slots map[string]*slotLock
}

type slotLock struct {
	mu      sync.Mutex
	waiters int
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{slots: make(map[string]*slotLock)}
}

func (l *LocalLocker) WithSlotLock(ctx context.Context, doctorID DoctorID, at time.Time, fn func(ctx context.Context) error) error {
	key := SlotKey(doctorID, at)

	l.mu.Lock()
	sl, ok := l.slots[key]
	if !ok {
		sl = &slotLock{}
		l.slots[key] = sl
	}
	sl.waiters++
	l.mu.Unlock()

	sl.mu.Lock()
	defer func() {
		sl.mu.Unlock()
		l.mu.Lock()
		sl.waiters--
		if sl.waiters == 0 {
			delete(l.slots, key)
		}
		l.mu.Unlock()
	}()

	return fn(ctx)
}

// noLocker runs fn directly.
type noLocker struct{}

func (noLocker) WithSlotLock(ctx context.Context, _ DoctorID, _ time.Time, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
