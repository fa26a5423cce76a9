/*
engine.go - Booking orchestration

PURPOSE:
  Book() executes one consultation booking as a single atomic unit:

    1. validate the request (ids present, timestamp parses, in the future)
    2. load the doctor          -> ErrDoctorNotFound / ErrDoctorUnavailable
    3. lock the patient         -> ErrPatientNotFound
    4. check the slot           -> ErrSlotConflict
    5. consume the discount     -> isFirstVisit
    6. compute the fee
    7. check the balance        -> InsufficientFundsError
    8. debit the wallet         (ledger entry with balance snapshot)
    9. insert the appointment   (status scheduled, references the debit)

  Steps 2-9 run inside TxStore.WithTx. If anything fails after step 5 the
  discount record, the debit and the appointment all roll back together;
  there is no separate compensation path to get wrong.

CANCELLATION:
  A booking that has started runs to completion. The caller's context is
  detached from the unit of work so a client disconnect cannot abort it
  between writes; the store commits or rolls back the whole unit.

SEE ALSO:
  - ledger.go:   WalletLedger
  - discount.go: DiscountTracker
  - slot.go:     SlotGuard
  - lock.go:     SlotLocker
*/
package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const DefaultTopUpDescription = "Money added to wallet"

// =============================================================================
// ENGINE
// =============================================================================

type Engine struct {
	store     Store
	ledger    *WalletLedger
	discounts *DiscountTracker
	slots     *SlotGuard
	locker    SlotLocker
	log       *slog.Logger
	now       func() time.Time
}

type Option func(*Engine)

// WithLocker sets the pre-transaction slot lock. Defaults to none.
func WithLocker(l SlotLocker) Option {
	return func(e *Engine) { e.locker = l }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func NewEngine(store Store, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		slots:  NewSlotGuard(),
		locker: noLocker{},
		log:    slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.ledger = NewWalletLedger(store)
	e.ledger.now = e.now
	e.discounts = NewDiscountTracker(store)
	e.discounts.now = e.now
	return e
}

// Ledger and Discounts expose the components the engine books through, for
// callers that need one operation without the full booking.
func (e *Engine) Ledger() *WalletLedger       { return e.ledger }
func (e *Engine) Discounts() *DiscountTracker { return e.discounts }

// =============================================================================
// BOOK
// =============================================================================

func (e *Engine) Book(ctx context.Context, req BookingRequest) (*BookingResult, error) {
	at, err := e.validate(req)
	if err != nil {
		return nil, err
	}
	ctx = context.WithoutCancel(ctx)

	var result *BookingResult
	err = e.locker.WithSlotLock(ctx, req.DoctorID, at, func(ctx context.Context) error {
		return e.store.WithTx(ctx, func(tx Tx) error {
			r, err := e.book(ctx, tx, req, at)
			result = r
			return err
		})
	})
	if err != nil {
		if IsClientError(err) {
			e.log.InfoContext(ctx, "booking rejected",
				slog.String("doctor_id", string(req.DoctorID)),
				slog.String("patient_id", string(req.PatientID)),
				slog.String("reason", err.Error()))
			return nil, err
		}
		e.log.ErrorContext(ctx, "booking rolled back",
			slog.String("doctor_id", string(req.DoctorID)),
			slog.String("patient_id", string(req.PatientID)),
			slog.Any("error", err))
		return nil, internal("book", err)
	}

	e.log.InfoContext(ctx, "appointment booked",
		slog.String("appointment_id", string(result.AppointmentID)),
		slog.String("doctor_id", string(req.DoctorID)),
		slog.String("patient_id", string(req.PatientID)),
		slog.Bool("first_visit", result.IsFirstVisit),
		slog.String("final_fee", result.FinalFee.String()))
	return result, nil
}

func (e *Engine) validate(req BookingRequest) (time.Time, error) {
	if strings.TrimSpace(string(req.DoctorID)) == "" {
		return time.Time{}, &ValidationError{Field: "doctor_id", Reason: "is required"}
	}
	if strings.TrimSpace(string(req.PatientID)) == "" {
		return time.Time{}, &ValidationError{Field: "patient_id", Reason: "is required"}
	}
	at, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(req.DateTime))
	if err != nil {
		return time.Time{}, &ValidationError{Field: "date_time", Reason: "must be an RFC3339 timestamp"}
	}
	if at.Nanosecond()%int(time.Microsecond) != 0 {
		return time.Time{}, &ValidationError{Field: "date_time", Reason: "must not be finer than one microsecond"}
	}
	at = NormalizeSlot(at)
	if !at.After(e.now()) {
		return time.Time{}, &ValidationError{Field: "date_time", Reason: "must be in the future"}
	}
	return at, nil
}

func (e *Engine) book(ctx context.Context, tx Tx, req BookingRequest, at time.Time) (*BookingResult, error) {
	doctor, err := tx.GetDoctor(ctx, req.DoctorID)
	if err != nil {
		return nil, err
	}
	if !doctor.Available {
		return nil, ErrDoctorUnavailable
	}
	// A stored doctor outside the pricing ranges is corrupt data, not a bad request.
	if err := doctor.Validate(); err != nil {
		return nil, fmt.Errorf("doctor %s has unusable pricing: %s", doctor.ID, err.Error())
	}

	patient, err := tx.LockPatient(ctx, req.PatientID)
	if err != nil {
		return nil, err
	}

	if err := e.slots.EnsureNoConflict(ctx, tx, doctor.ID, at); err != nil {
		return nil, err
	}

	now := e.now().UTC()
	firstVisit, err := e.discounts.CheckAndConsumeTx(ctx, tx, doctor.ID, patient.ID, now)
	if err != nil {
		return nil, fmt.Errorf("consume discount: %w", err)
	}

	discount, finalFee := ComputeFee(doctor.ConsultationFee, doctor.DiscountPercentage, firstVisit)
	if patient.WalletBalance.LessThan(finalFee) {
		return nil, &InsufficientFundsError{
			PatientID: patient.ID,
			Required:  finalFee,
			Available: patient.WalletBalance,
		}
	}

	apptID := NewAppointmentID()
	balance := patient.WalletBalance
	var txID TransactionID

	// A fully discounted visit moves no money and writes no ledger entry.
	if finalFee.IsPositive() {
		desc := fmt.Sprintf("Appointment booking with Dr. %s (%s)", doctor.Name, doctor.Specialty)
		debit, err := e.ledger.DebitTx(ctx, tx, patient.ID, finalFee, desc, apptID)
		if err != nil {
			return nil, err
		}
		txID = debit.ID
		balance = debit.Balance
	}

	appt := Appointment{
		ID:              apptID,
		DoctorID:        doctor.ID,
		PatientID:       patient.ID,
		DateTime:        at,
		Status:          StatusScheduled,
		OriginalFee:     doctor.ConsultationFee,
		DiscountApplied: discount,
		FinalFee:        finalFee,
		IsFirstVisit:    firstVisit,
		TransactionID:   txID,
		CreatedAt:       now,
	}
	if err := tx.InsertAppointment(ctx, appt); err != nil {
		if errors.Is(err, ErrSlotConflict) {
			return nil, &SlotConflictError{DoctorID: doctor.ID, At: at}
		}
		return nil, fmt.Errorf("insert appointment: %w", err)
	}

	return &BookingResult{
		AppointmentID:          apptID,
		TransactionID:          txID,
		DoctorName:             doctor.Name,
		Specialty:              doctor.Specialty,
		DateTime:               at,
		OriginalFee:            appt.OriginalFee,
		DiscountApplied:        discount,
		FinalFee:               finalFee,
		IsFirstVisit:           firstVisit,
		WalletBalanceRemaining: balance,
	}, nil
}

// =============================================================================
// WALLET
// =============================================================================

// TopUp credits the wallet. The credit is trusted; there is no payment step.
func (e *Engine) TopUp(ctx context.Context, patientID PatientID, amount decimal.Decimal, description string) (*TopUpResult, error) {
	if strings.TrimSpace(description) == "" {
		description = DefaultTopUpDescription
	}
	ctx = context.WithoutCancel(ctx)

	t, err := e.ledger.Credit(ctx, patientID, amount, description)
	if err != nil {
		if !IsClientError(err) {
			e.log.ErrorContext(ctx, "top-up rolled back",
				slog.String("patient_id", string(patientID)),
				slog.Any("error", err))
		}
		return nil, err
	}

	e.log.InfoContext(ctx, "wallet credited",
		slog.String("patient_id", string(patientID)),
		slog.String("amount", amount.String()),
		slog.String("balance", t.Balance.String()))
	return &TopUpResult{WalletBalance: t.Balance, Transaction: *t}, nil
}

// Wallet returns the patient with its full ledger in creation order.
func (e *Engine) Wallet(ctx context.Context, patientID PatientID) (*Patient, []Transaction, error) {
	p, err := e.store.GetPatient(ctx, patientID)
	if err != nil {
		return nil, nil, internal("load patient", err)
	}
	txs, err := e.store.ListTransactions(ctx, patientID, DateRange{})
	if err != nil {
		return nil, nil, internal("list transactions", err)
	}
	return p, txs, nil
}

// =============================================================================
// APPOINTMENT LIFECYCLE
// =============================================================================

func (e *Engine) Appointment(ctx context.Context, id AppointmentID) (*AppointmentDetail, error) {
	a, err := e.store.GetAppointment(ctx, id)
	if err != nil {
		return nil, internal("load appointment", err)
	}
	return a, nil
}

// Transition moves a scheduled appointment to completed or cancelled.
// Cancelling frees the slot; it does not refund the wallet.
func (e *Engine) Transition(ctx context.Context, id AppointmentID, to AppointmentStatus) (*AppointmentDetail, error) {
	if !to.Valid() {
		return nil, &ValidationError{Field: "status", Reason: "must be scheduled, completed or cancelled"}
	}
	cur, err := e.store.GetAppointment(ctx, id)
	if err != nil {
		return nil, internal("load appointment", err)
	}
	if !cur.Status.CanTransition(to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur.Status, to)
	}

	updated, err := e.store.UpdateAppointmentStatus(ctx, id, cur.Status, to)
	if err != nil {
		return nil, internal("update appointment status", err)
	}
	e.log.InfoContext(ctx, "appointment status changed",
		slog.String("appointment_id", string(id)),
		slog.String("from", string(cur.Status)),
		slog.String("to", string(to)))
	return updated, nil
}
