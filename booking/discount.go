package booking

import (
	"context"
	"time"
)

// DiscountTracker decides first-visit eligibility for a (doctor, patient) pair.
//
// INVARIANT: at most one DiscountRecord per pair, so exactly one caller ever
// observes a first visit. The check and the consume are a single
// insert-if-absent against the store's uniqueness constraint; there is no
// read-then-write window.
type DiscountTracker struct {
	store TxStore
	now   func() time.Time
}

func NewDiscountTracker(store TxStore) *DiscountTracker {
	return &DiscountTracker{store: store, now: time.Now}
}

// CheckAndConsume returns true for the first call on a pair and false for
// every later or concurrent call.
func (d *DiscountTracker) CheckAndConsume(ctx context.Context, doctorID DoctorID, patientID PatientID) (bool, error) {
	var first bool
	err := d.store.WithTx(ctx, func(tx Tx) error {
		var err error
		first, err = d.CheckAndConsumeTx(ctx, tx, doctorID, patientID, d.now().UTC())
		return err
	})
	if err != nil {
		return false, internal("check discount", err)
	}
	return first, nil
}

// CheckAndConsumeTx runs inside the caller's unit of work. If that unit rolls
// back, the consumption rolls back with it.
func (d *DiscountTracker) CheckAndConsumeTx(ctx context.Context, tx Tx, doctorID DoctorID, patientID PatientID, at time.Time) (bool, error) {
	return tx.InsertDiscountRecord(ctx, DiscountRecord{
		DoctorID:  doctorID,
		PatientID: patientID,
		UsedAt:    at,
	})
}
