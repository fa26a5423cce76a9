package booking_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/consult-wallet/booking"
)

// =============================================================================
// BOOKING - HAPPY PATH
// =============================================================================

func TestBook_FirstVisit_AppliesDiscountAndDebitsWallet(t *testing.T) {
	// GIVEN: Doctor with fee 500 and 20% first-visit discount, patient with 1000
	// WHEN: Patient books for the first time
	// THEN: Discount 100, final fee 400, balance 600, one debit linked to the appointment

	backends(t, func(t *testing.T, e *booking.Engine, s booking.Store) {
		ctx := context.Background()
		addDoctor(t, s, "doc-1", "500", "20")
		addPatient(t, s, "pat-1")
		fund(t, e, "pat-1", "1000")

		res, err := e.Book(ctx, booking.BookingRequest{DoctorID: "doc-1", PatientID: "pat-1", DateTime: slot(24)})
		require.NoError(t, err)

		assert.True(t, res.IsFirstVisit)
		assertMoney(t, "500", res.OriginalFee)
		assertMoney(t, "100", res.DiscountApplied)
		assertMoney(t, "400", res.FinalFee)
		assertMoney(t, "600", res.WalletBalanceRemaining)
		assert.Equal(t, "Ada doc-1", res.DoctorName)
		assert.Equal(t, "Cardiology", res.Specialty)
		assertMoney(t, "600", balanceOf(t, s, "pat-1"))

		txs, err := s.ListTransactions(ctx, "pat-1", booking.DateRange{})
		require.NoError(t, err)
		require.Len(t, txs, 2)
		debit := txs[1]
		assert.Equal(t, booking.TxDebit, debit.Type)
		assertMoney(t, "400", debit.Amount)
		assertMoney(t, "600", debit.Balance)
		assert.Equal(t, res.AppointmentID, debit.AppointmentID)
		assert.Equal(t, res.TransactionID, debit.ID)
		assert.Equal(t, "Appointment booking with Dr. Ada doc-1 (Cardiology)", debit.Description)

		appt, err := e.Appointment(ctx, res.AppointmentID)
		require.NoError(t, err)
		assert.Equal(t, booking.StatusScheduled, appt.Status)
		assert.Equal(t, res.TransactionID, appt.TransactionID)
		assert.True(t, appt.IsFirstVisit)
		assert.Equal(t, "Pat pat-1", appt.PatientName)
	})
}

func TestBook_SecondVisit_PaysFullFee(t *testing.T) {
	// GIVEN: Patient already had a first visit with the doctor
	// WHEN: Patient books again at a different time
	// THEN: No discount, full fee charged

	backends(t, func(t *testing.T, e *booking.Engine, s booking.Store) {
		ctx := context.Background()
		addDoctor(t, s, "doc-1", "500", "20")
		addPatient(t, s, "pat-1")
		fund(t, e, "pat-1", "1000")

		_, err := e.Book(ctx, booking.BookingRequest{DoctorID: "doc-1", PatientID: "pat-1", DateTime: slot(24)})
		require.NoError(t, err)

		res, err := e.Book(ctx, booking.BookingRequest{DoctorID: "doc-1", PatientID: "pat-1", DateTime: slot(48)})
		require.NoError(t, err)
		assert.False(t, res.IsFirstVisit)
		assertMoney(t, "0", res.DiscountApplied)
		assertMoney(t, "500", res.FinalFee)
		assertMoney(t, "100", res.WalletBalanceRemaining)
	})
}

func TestBook_DiscountIsPerDoctor(t *testing.T) {
	// GIVEN: Patient used the first-visit discount with doctor A
	// WHEN: Patient books doctor B
	// THEN: Doctor B's first-visit discount still applies

	backends(t, func(t *testing.T, e *booking.Engine, s booking.Store) {
		ctx := context.Background()
		addDoctor(t, s, "doc-a", "200", "10")
		addDoctor(t, s, "doc-b", "300", "50")
		addPatient(t, s, "pat-1")
		fund(t, e, "pat-1", "1000")

		_, err := e.Book(ctx, booking.BookingRequest{DoctorID: "doc-a", PatientID: "pat-1", DateTime: slot(24)})
		require.NoError(t, err)

		res, err := e.Book(ctx, booking.BookingRequest{DoctorID: "doc-b", PatientID: "pat-1", DateTime: slot(24)})
		require.NoError(t, err)
		assert.True(t, res.IsFirstVisit)
		assertMoney(t, "150", res.FinalFee)
		assertMoney(t, "670", res.WalletBalanceRemaining)
	})
}

func TestBook_FullDiscount_WritesNoDebit(t *testing.T) {
	// GIVEN: Doctor with a 100% first-visit discount, patient with an empty wallet
	// WHEN: Patient books
	// THEN: Booking succeeds, nothing is debited, no transaction is linked

	backends(t, func(t *testing.T, e *booking.Engine, s booking.Store) {
		ctx := context.Background()
		addDoctor(t, s, "doc-1", "250", "100")
		addPatient(t, s, "pat-1")

		res, err := e.Book(ctx, booking.BookingRequest{DoctorID: "doc-1", PatientID: "pat-1", DateTime: slot(24)})
		require.NoError(t, err)
		assertMoney(t, "0", res.FinalFee)
		assertMoney(t, "250", res.DiscountApplied)
		assert.Empty(t, res.TransactionID)

		txs, err := s.ListTransactions(ctx, "pat-1", booking.DateRange{})
		require.NoError(t, err)
		assert.Empty(t, txs)
	})
}

func TestBook_EquivalentInstantsShareASlot(t *testing.T) {
	// GIVEN: A booking at 10:00Z
	// WHEN: Another patient books 12:00+02:00 (the same instant)
	// THEN: Slot conflict

	backends(t, func(t *testing.T, e *booking.Engine, s booking.Store) {
		ctx := context.Background()
		addDoctor(t, s, "doc-1", "100", "0")
		addPatient(t, s, "pat-1")
		addPatient(t, s, "pat-2")
		fund(t, e, "pat-1", "500")
		fund(t, e, "pat-2", "500")

		utc := time.Date(2026, time.March, 10, 10, 0, 0, 0, time.UTC)
		_, err := e.Book(ctx, booking.BookingRequest{DoctorID: "doc-1", PatientID: "pat-1", DateTime: utc.Format(time.RFC3339)})
		require.NoError(t, err)

		plus2 := utc.In(time.FixedZone("CEST", 2*60*60)).Format(time.RFC3339)
		_, err = e.Book(ctx, booking.BookingRequest{DoctorID: "doc-1", PatientID: "pat-2", DateTime: plus2})
		assert.ErrorIs(t, err, booking.ErrSlotConflict)
	})
}

// =============================================================================
// BOOKING - REJECTIONS (no side effects)
// =============================================================================

func TestBook_InsufficientFunds_NoSideEffects(t *testing.T) {
	// GIVEN: Patient with 50, doctor fee 500 at 20%
	// WHEN: Patient books
	// THEN: InsufficientFundsError with required 400 / available 50,
	//       and the discount is still available afterwards

	backends(t, func(t *testing.T, e *booking.Engine, s booking.Store) {
		ctx := context.Background()
		addDoctor(t, s, "doc-1", "500", "20")
		addPatient(t, s, "pat-1")
		fund(t, e, "pat-1", "50")

		_, err := e.Book(ctx, booking.BookingRequest{DoctorID: "doc-1", PatientID: "pat-1", DateTime: slot(24)})
		require.Error(t, err)

		var funds *booking.InsufficientFundsError
		require.ErrorAs(t, err, &funds)
		assertMoney(t, "400", funds.Required)
		assertMoney(t, "50", funds.Available)
		assert.ErrorIs(t, err, booking.ErrInsufficientFunds)

		assertMoney(t, "50", balanceOf(t, s, "pat-1"))
		rec, err := s.DiscountRecord(ctx, "doc-1", "pat-1")
		require.NoError(t, err)
		assert.Nil(t, rec, "discount must not be consumed by a failed booking")

		appts, err := s.ListPatientAppointments(ctx, "pat-1", booking.DateRange{})
		require.NoError(t, err)
		assert.Empty(t, appts)

		txs, err := s.ListTransactions(ctx, "pat-1", booking.DateRange{})
		require.NoError(t, err)
		assert.Len(t, txs, 1, "only the top-up")

		// Topping up afterwards still gets the discount
		fund(t, e, "pat-1", "350")
		res, err := e.Book(ctx, booking.BookingRequest{DoctorID: "doc-1", PatientID: "pat-1", DateTime: slot(24)})
		require.NoError(t, err)
		assert.True(t, res.IsFirstVisit)
		assertMoney(t, "0", res.WalletBalanceRemaining)
	})
}

func TestBook_SlotConflict_SecondPatientRejected(t *testing.T) {
	backends(t, func(t *testing.T, e *booking.Engine, s booking.Store) {
		ctx := context.Background()
		addDoctor(t, s, "doc-1", "100", "10")
		addPatient(t, s, "pat-1")
		addPatient(t, s, "pat-2")
		fund(t, e, "pat-1", "500")
		fund(t, e, "pat-2", "500")

		_, err := e.Book(ctx, booking.BookingRequest{DoctorID: "doc-1", PatientID: "pat-1", DateTime: slot(24)})
		require.NoError(t, err)

		_, err = e.Book(ctx, booking.BookingRequest{DoctorID: "doc-1", PatientID: "pat-2", DateTime: slot(24)})
		var conflict *booking.SlotConflictError
		require.ErrorAs(t, err, &conflict)
		assert.Equal(t, booking.DoctorID("doc-1"), conflict.DoctorID)
		assert.False(t, conflict.Busy)

		assertMoney(t, "500", balanceOf(t, s, "pat-2"))
		rec, err := s.DiscountRecord(ctx, "doc-1", "pat-2")
		require.NoError(t, err)
		assert.Nil(t, rec)
	})
}

func TestBook_CancelledAppointmentFreesSlot(t *testing.T) {
	// GIVEN: A booked slot that is then cancelled
	// WHEN: Another patient books the same slot
	// THEN: Booking succeeds; the first patient is not refunded

	backends(t, func(t *testing.T, e *booking.Engine, s booking.Store) {
		ctx := context.Background()
		addDoctor(t, s, "doc-1", "100", "0")
		addPatient(t, s, "pat-1")
		addPatient(t, s, "pat-2")
		fund(t, e, "pat-1", "100")
		fund(t, e, "pat-2", "100")

		first, err := e.Book(ctx, booking.BookingRequest{DoctorID: "doc-1", PatientID: "pat-1", DateTime: slot(24)})
		require.NoError(t, err)

		_, err = e.Transition(ctx, first.AppointmentID, booking.StatusCancelled)
		require.NoError(t, err)

		_, err = e.Book(ctx, booking.BookingRequest{DoctorID: "doc-1", PatientID: "pat-2", DateTime: slot(24)})
		require.NoError(t, err)

		assertMoney(t, "0", balanceOf(t, s, "pat-1"))
	})
}

func TestBook_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		req    booking.BookingRequest
		target error
	}{
		{"missing doctor id", booking.BookingRequest{PatientID: "pat-1", DateTime: slot(24)}, booking.ErrInvalidRequest},
		{"missing patient id", booking.BookingRequest{DoctorID: "doc-1", DateTime: slot(24)}, booking.ErrInvalidRequest},
		{"unparseable date", booking.BookingRequest{DoctorID: "doc-1", PatientID: "pat-1", DateTime: "next tuesday"}, booking.ErrInvalidRequest},
		{"past date", booking.BookingRequest{DoctorID: "doc-1", PatientID: "pat-1", DateTime: slot(-1)}, booking.ErrInvalidRequest},
		{"sub-microsecond date", booking.BookingRequest{DoctorID: "doc-1", PatientID: "pat-1", DateTime: "2026-03-03T11:00:00.0000001Z"}, booking.ErrInvalidRequest},
		{"current instant", booking.BookingRequest{DoctorID: "doc-1", PatientID: "pat-1", DateTime: slot(0)}, booking.ErrInvalidRequest},
		{"unknown doctor", booking.BookingRequest{DoctorID: "doc-x", PatientID: "pat-1", DateTime: slot(24)}, booking.ErrDoctorNotFound},
		{"unknown patient", booking.BookingRequest{DoctorID: "doc-1", PatientID: "pat-x", DateTime: slot(24)}, booking.ErrPatientNotFound},
		{"unavailable doctor", booking.BookingRequest{DoctorID: "doc-off", PatientID: "pat-1", DateTime: slot(24)}, booking.ErrDoctorUnavailable},
	}

	backends(t, func(t *testing.T, e *booking.Engine, s booking.Store) {
		ctx := context.Background()
		addDoctor(t, s, "doc-1", "100", "10")
		require.NoError(t, s.SaveDoctor(ctx, booking.Doctor{
			ID: "doc-off", Name: "Off", Specialty: "ENT",
			ConsultationFee: dec("100"), DiscountPercentage: dec("0"), Available: false,
		}))
		addPatient(t, s, "pat-1")
		fund(t, e, "pat-1", "500")

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := e.Book(ctx, tt.req)
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.target)
				assert.True(t, booking.IsClientError(err))
			})
		}

		assertMoney(t, "500", balanceOf(t, s, "pat-1"))
	})
}

// =============================================================================
// ATOMICITY - Rollback on mid-unit failures
// =============================================================================

func TestBook_FailureAfterDebit_RollsBackEverything(t *testing.T) {
	// GIVEN: The appointment insert fails after the discount and debit were written
	// WHEN: Booking
	// THEN: Internal error; balance, ledger and discount eligibility untouched

	e, s := newMemoryEngine(t)
	ctx := context.Background()
	addDoctor(t, s, "doc-1", "500", "20")
	addPatient(t, s, "pat-1")
	fund(t, e, "pat-1", "1000")

	s.FailOn("InsertAppointment", errors.New("disk full"))

	_, err := e.Book(ctx, booking.BookingRequest{DoctorID: "doc-1", PatientID: "pat-1", DateTime: slot(24)})
	require.Error(t, err)
	assert.ErrorIs(t, err, booking.ErrInternal)
	assert.False(t, booking.IsClientError(err))

	assertMoney(t, "1000", balanceOf(t, s, "pat-1"))
	txs, err := s.ListTransactions(ctx, "pat-1", booking.DateRange{})
	require.NoError(t, err)
	assert.Len(t, txs, 1)
	rec, err := s.DiscountRecord(ctx, "doc-1", "pat-1")
	require.NoError(t, err)
	assert.Nil(t, rec)

	// The retry gets the discount
	res, err := e.Book(ctx, booking.BookingRequest{DoctorID: "doc-1", PatientID: "pat-1", DateTime: slot(24)})
	require.NoError(t, err)
	assert.True(t, res.IsFirstVisit)
	assertMoney(t, "600", res.WalletBalanceRemaining)
}

func TestBook_LedgerWriteFailure_RollsBackDiscount(t *testing.T) {
	e, s := newMemoryEngine(t)
	ctx := context.Background()
	addDoctor(t, s, "doc-1", "500", "20")
	addPatient(t, s, "pat-1")
	fund(t, e, "pat-1", "1000")

	s.FailOn("AppendTransaction", errors.New("write failed"))

	_, err := e.Book(ctx, booking.BookingRequest{DoctorID: "doc-1", PatientID: "pat-1", DateTime: slot(24)})
	require.ErrorIs(t, err, booking.ErrInternal)

	assertMoney(t, "1000", balanceOf(t, s, "pat-1"))
	rec, err := s.DiscountRecord(ctx, "doc-1", "pat-1")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestBook_CancelledContextStillCompletes(t *testing.T) {
	// GIVEN: A caller whose context is already cancelled
	// WHEN: Booking
	// THEN: The unit of work still runs to completion

	e, s := newMemoryEngine(t)
	addDoctor(t, s, "doc-1", "100", "0")
	addPatient(t, s, "pat-1")
	fund(t, e, "pat-1", "100")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Book(ctx, booking.BookingRequest{DoctorID: "doc-1", PatientID: "pat-1", DateTime: slot(24)})
	require.NoError(t, err)
	assertMoney(t, "0", balanceOf(t, s, "pat-1"))
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestBook_ConcurrentSameSlot_ExactlyOneWins(t *testing.T) {
	// GIVEN: 10 funded patients
	// WHEN: All book the same doctor slot at once
	// THEN: Exactly one succeeds; the rest get slot conflicts and keep their money

	backends(t, func(t *testing.T, e *booking.Engine, s booking.Store) {
		ctx := context.Background()
		addDoctor(t, s, "doc-1", "100", "10")
		const n = 10
		ids := make([]booking.PatientID, n)
		for i := range ids {
			ids[i] = booking.PatientID("pat-" + string(rune('a'+i)))
			addPatient(t, s, ids[i])
			fund(t, e, ids[i], "100")
		}

		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			wins      int
			conflicts int
		)
		for _, id := range ids {
			wg.Add(1)
			go func(id booking.PatientID) {
				defer wg.Done()
				_, err := e.Book(ctx, booking.BookingRequest{DoctorID: "doc-1", PatientID: id, DateTime: slot(24)})
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					wins++
				case errors.Is(err, booking.ErrSlotConflict):
					conflicts++
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}(id)
		}
		wg.Wait()

		assert.Equal(t, 1, wins)
		assert.Equal(t, n-1, conflicts)

		appts, err := s.ListDoctorAppointments(ctx, "doc-1", booking.DateRange{})
		require.NoError(t, err)
		assert.Len(t, appts, 1)

		total := dec("0")
		for _, id := range ids {
			total = total.Add(balanceOf(t, s, id))
		}
		assertMoney(t, "910", total, "exactly one 90 debit")
	})
}

func TestBook_ConcurrentSamePatient_NeverOverdraws(t *testing.T) {
	// GIVEN: Patient with 250, doctor fee 100 (no discount)
	// WHEN: 6 bookings at different slots race
	// THEN: Exactly 2 succeed and the wallet ends at 50

	backends(t, func(t *testing.T, e *booking.Engine, s booking.Store) {
		ctx := context.Background()
		addDoctor(t, s, "doc-1", "100", "0")
		addPatient(t, s, "pat-1")
		fund(t, e, "pat-1", "250")

		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			wins int
		)
		for i := 1; i <= 6; i++ {
			wg.Add(1)
			go func(h int) {
				defer wg.Done()
				_, err := e.Book(ctx, booking.BookingRequest{DoctorID: "doc-1", PatientID: "pat-1", DateTime: slot(h * 24)})
				if err == nil {
					mu.Lock()
					wins++
					mu.Unlock()
					return
				}
				if !errors.Is(err, booking.ErrInsufficientFunds) {
					t.Errorf("unexpected error: %v", err)
				}
			}(i)
		}
		wg.Wait()

		assert.Equal(t, 2, wins)
		assertMoney(t, "50", balanceOf(t, s, "pat-1"))

		txs, err := s.ListTransactions(ctx, "pat-1", booking.DateRange{})
		require.NoError(t, err)
		final, err := booking.Replay(txs)
		require.NoError(t, err)
		assertMoney(t, "50", final)
	})
}

// =============================================================================
// TOP-UP AND WALLET
// =============================================================================

func TestTopUp_AccumulatesAndRecordsCredits(t *testing.T) {
	backends(t, func(t *testing.T, e *booking.Engine, s booking.Store) {
		ctx := context.Background()
		addPatient(t, s, "pat-1")

		first, err := e.TopUp(ctx, "pat-1", dec("100"), "")
		require.NoError(t, err)
		assertMoney(t, "100", first.WalletBalance)
		assert.Equal(t, booking.DefaultTopUpDescription, first.Transaction.Description)

		second, err := e.TopUp(ctx, "pat-1", dec("200"), "Card payment")
		require.NoError(t, err)
		assertMoney(t, "300", second.WalletBalance)
		assert.Equal(t, booking.TxCredit, second.Transaction.Type)
		assert.Empty(t, second.Transaction.AppointmentID)

		p, txs, err := e.Wallet(ctx, "pat-1")
		require.NoError(t, err)
		assertMoney(t, "300", p.WalletBalance)
		require.Len(t, txs, 2)
		assertMoney(t, "100", txs[0].Balance)
		assertMoney(t, "300", txs[1].Balance)
		assert.Equal(t, "Card payment", txs[1].Description)
	})
}

func TestTopUp_Rejections(t *testing.T) {
	backends(t, func(t *testing.T, e *booking.Engine, s booking.Store) {
		ctx := context.Background()
		addPatient(t, s, "pat-1")

		_, err := e.TopUp(ctx, "pat-1", dec("0"), "")
		assert.ErrorIs(t, err, booking.ErrInvalidRequest)

		_, err = e.TopUp(ctx, "pat-1", dec("-5"), "")
		assert.ErrorIs(t, err, booking.ErrInvalidRequest)

		_, err = e.TopUp(ctx, "nobody", dec("10"), "")
		assert.ErrorIs(t, err, booking.ErrPatientNotFound)

		assertMoney(t, "0", balanceOf(t, s, "pat-1"))
	})
}

func TestWallet_UnknownPatient(t *testing.T) {
	e, _ := newMemoryEngine(t)
	_, _, err := e.Wallet(context.Background(), "nobody")
	assert.ErrorIs(t, err, booking.ErrNotFound)
}

// =============================================================================
// STATUS TRANSITIONS
// =============================================================================

func TestTransition(t *testing.T) {
	backends(t, func(t *testing.T, e *booking.Engine, s booking.Store) {
		ctx := context.Background()
		addDoctor(t, s, "doc-1", "100", "0")
		addPatient(t, s, "pat-1")
		fund(t, e, "pat-1", "300")

		a, err := e.Book(ctx, booking.BookingRequest{DoctorID: "doc-1", PatientID: "pat-1", DateTime: slot(24)})
		require.NoError(t, err)
		b, err := e.Book(ctx, booking.BookingRequest{DoctorID: "doc-1", PatientID: "pat-1", DateTime: slot(48)})
		require.NoError(t, err)

		done, err := e.Transition(ctx, a.AppointmentID, booking.StatusCompleted)
		require.NoError(t, err)
		assert.Equal(t, booking.StatusCompleted, done.Status)

		// Terminal states do not move
		_, err = e.Transition(ctx, a.AppointmentID, booking.StatusCancelled)
		assert.ErrorIs(t, err, booking.ErrInvalidTransition)
		_, err = e.Transition(ctx, a.AppointmentID, booking.StatusScheduled)
		assert.ErrorIs(t, err, booking.ErrInvalidTransition)

		cancelled, err := e.Transition(ctx, b.AppointmentID, booking.StatusCancelled)
		require.NoError(t, err)
		assert.Equal(t, booking.StatusCancelled, cancelled.Status)

		_, err = e.Transition(ctx, b.AppointmentID, "archived")
		assert.ErrorIs(t, err, booking.ErrInvalidRequest)

		_, err = e.Transition(ctx, "missing", booking.StatusCompleted)
		assert.ErrorIs(t, err, booking.ErrAppointmentNotFound)
	})
}

// =============================================================================
// PRICING GUARD - Corrupt directory data never reaches the ledger
// =============================================================================

// skewedPricing hands the engine a doctor whose stored pricing was altered
// behind the directory's back.
type skewedPricing struct {
	booking.Store
	fee, pct decimal.Decimal
}

func (s skewedPricing) WithTx(ctx context.Context, fn func(tx booking.Tx) error) error {
	return s.Store.WithTx(ctx, func(tx booking.Tx) error {
		return fn(skewedPricingTx{Tx: tx, fee: s.fee, pct: s.pct})
	})
}

type skewedPricingTx struct {
	booking.Tx
	fee, pct decimal.Decimal
}

func (tx skewedPricingTx) GetDoctor(ctx context.Context, id booking.DoctorID) (*booking.Doctor, error) {
	d, err := tx.Tx.GetDoctor(ctx, id)
	if err != nil {
		return nil, err
	}
	d.ConsultationFee, d.DiscountPercentage = tx.fee, tx.pct
	return d, nil
}

func TestSaveDoctor_RejectsPricingOutOfRange(t *testing.T) {
	tests := []struct {
		name     string
		fee, pct string
	}{
		{"discount above 100", "500", "150"},
		{"negative discount", "500", "-5"},
		{"negative fee", "-50", "10"},
		{"zero fee", "0", "10"},
	}

	backends(t, func(t *testing.T, _ *booking.Engine, s booking.Store) {
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				err := s.SaveDoctor(context.Background(), booking.Doctor{
					ID: "doc-bad", Name: "Bad", Specialty: "ENT",
					ConsultationFee: dec(tt.fee), DiscountPercentage: dec(tt.pct), Available: true,
				})
				assert.ErrorIs(t, err, booking.ErrInvalidRequest)
			})
		}
		_, err := s.GetDoctor(context.Background(), "doc-bad")
		assert.ErrorIs(t, err, booking.ErrDoctorNotFound)
	})
}

func TestBook_CorruptDoctorPricing_RefusedWithoutWrites(t *testing.T) {
	// GIVEN: A funded patient and a doctor whose stored pricing is out of range
	// WHEN: Booking
	// THEN: Internal error; no appointment, no ledger entry, discount still available

	tests := []struct {
		name     string
		fee, pct string
	}{
		{"discount above 100", "500", "150"},
		{"negative fee", "-50", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backends(t, func(t *testing.T, _ *booking.Engine, s booking.Store) {
				ctx := context.Background()
				addDoctor(t, s, "doc-1", "500", "20")
				addPatient(t, s, "pat-1")

				e := booking.NewEngine(skewedPricing{Store: s, fee: dec(tt.fee), pct: dec(tt.pct)},
					booking.WithClock(clock), booking.WithLocker(booking.NewLocalLocker()))
				_, err := e.TopUp(ctx, "pat-1", dec("100"), "")
				require.NoError(t, err)

				res, err := e.Book(ctx, booking.BookingRequest{DoctorID: "doc-1", PatientID: "pat-1", DateTime: slot(24)})
				require.Error(t, err)
				assert.Nil(t, res)
				assert.ErrorIs(t, err, booking.ErrInternal)
				assert.False(t, booking.IsClientError(err))

				assertMoney(t, "100", balanceOf(t, s, "pat-1"))
				txs, err := s.ListTransactions(ctx, "pat-1", booking.DateRange{})
				require.NoError(t, err)
				assert.Len(t, txs, 1)
				appts, err := s.ListPatientAppointments(ctx, "pat-1", booking.DateRange{})
				require.NoError(t, err)
				assert.Empty(t, appts)

				first, err := e.Discounts().CheckAndConsume(ctx, "doc-1", "pat-1")
				require.NoError(t, err)
				assert.True(t, first)
			})
		})
	}
}

func TestBook_MicrosecondApart_AreDistinctSlots(t *testing.T) {
	backends(t, func(t *testing.T, e *booking.Engine, s booking.Store) {
		ctx := context.Background()
		addDoctor(t, s, "doc-1", "100", "0")
		addPatient(t, s, "pat-1")
		fund(t, e, "pat-1", "500")

		first, err := e.Book(ctx, booking.BookingRequest{DoctorID: "doc-1", PatientID: "pat-1", DateTime: "2026-03-03T11:00:00.000001Z"})
		require.NoError(t, err)
		second, err := e.Book(ctx, booking.BookingRequest{DoctorID: "doc-1", PatientID: "pat-1", DateTime: "2026-03-03T11:00:00.000002Z"})
		require.NoError(t, err)

		assert.Equal(t, 1000, first.DateTime.Nanosecond())
		assert.Equal(t, 2000, second.DateTime.Nanosecond())
	})
}

func TestEngine_LedgerSharesClock(t *testing.T) {
	e, s := newMemoryEngine(t)
	addPatient(t, s, "pat-1")

	credit, err := e.Ledger().Credit(context.Background(), "pat-1", dec("25"), "Initial wallet funding")
	require.NoError(t, err)

	assert.True(t, credit.CreatedAt.Equal(now))
	assertMoney(t, "25", credit.Balance)
	assertMoney(t, "25", balanceOf(t, s, "pat-1"))
}
