package booking

import (
	"context"
	"fmt"
	"time"
)

// SlotGuard enforces one non-cancelled appointment per doctor per instant.
//
// The check alone is not enough: two units can both see a free slot. The
// store's partial unique index on (doctor_id, date_time) rejects the second
// insert, and because the check and the insert share the booking's
// transaction the loser rolls back completely.
type SlotGuard struct{}

func NewSlotGuard() *SlotGuard { return &SlotGuard{} }

func (g *SlotGuard) EnsureNoConflict(ctx context.Context, tx Tx, doctorID DoctorID, at time.Time) error {
	taken, err := tx.SlotTaken(ctx, doctorID, at)
	if err != nil {
		return fmt.Errorf("check slot: %w", err)
	}
	if taken {
		return &SlotConflictError{DoctorID: doctorID, At: at}
	}
	return nil
}

// NormalizeSlot maps equal instants to the same slot key regardless of the
// zone they were written in. Slots have microsecond precision so that every
// store compares them identically; the engine rejects finer timestamps, so
// the truncation never merges two requested instants.
func NormalizeSlot(at time.Time) time.Time {
	return at.UTC().Truncate(time.Microsecond)
}
