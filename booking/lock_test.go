package booking_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/warp/consult-wallet/booking"
)

func TestSlotKey_NormalizesZone(t *testing.T) {
	at := time.Date(2026, time.March, 10, 10, 0, 0, 0, time.UTC)
	local := at.In(time.FixedZone("EST", -5*60*60))

	assert.Equal(t, booking.SlotKey("doc-1", at), booking.SlotKey("doc-1", local))
	assert.NotEqual(t, booking.SlotKey("doc-1", at), booking.SlotKey("doc-2", at))
	assert.NotEqual(t, booking.SlotKey("doc-1", at), booking.SlotKey("doc-1", at.Add(time.Minute)))
}

func TestLocalLocker_SerializesSameSlot(t *testing.T) {
	locker := booking.NewLocalLocker()
	at := time.Date(2026, time.March, 10, 10, 0, 0, 0, time.UTC)

	var (
		wg       sync.WaitGroup
		inside   atomic.Int32
		overlaps atomic.Int32
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = locker.WithSlotLock(context.Background(), "doc-1", at, func(ctx context.Context) error {
				if inside.Add(1) > 1 {
					overlaps.Add(1)
				}
				time.Sleep(time.Millisecond)
				inside.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()

	assert.Zero(t, overlaps.Load())
}

func TestLocalLocker_DifferentSlotsDoNotBlock(t *testing.T) {
	locker := booking.NewLocalLocker()
	at := time.Date(2026, time.March, 10, 10, 0, 0, 0, time.UTC)
	ctx := context.Background()

	done := make(chan struct{})
	err := locker.WithSlotLock(ctx, "doc-1", at, func(ctx context.Context) error {
		go func() {
			_ = locker.WithSlotLock(ctx, "doc-2", at, func(context.Context) error { return nil })
			close(done)
		}()
		select {
		case <-done:
			return nil
		case <-time.After(time.Second):
			t.Error("second slot blocked on the first")
			return nil
		}
	})
	assert.NoError(t, err)
}
