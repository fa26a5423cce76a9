/*
Package booking provides the consultation booking and wallet ledger engine.

PURPOSE:
  Patients book paid consultations with doctors. Every booking is paid from a
  prepaid wallet, and the first booking between a doctor and a patient gets a
  one-time percentage discount. This package owns the only cross-entity
  invariants of the system: wallet balance, ledger, discount eligibility and
  slot uniqueness all change together or not at all.

KEY CONCEPTS IN THIS FILE (types.go):
  - Doctor / Patient: directory entities, read-mostly here
  - Appointment: a booked slot with its fee breakdown
  - DiscountRecord: proof that a (doctor, patient) pair used its discount
  - Transaction: an immutable ledger entry with the post-apply balance

DESIGN PRINCIPLES:
  1. Precision: money is decimal.Decimal, never float64
  2. Immutability: transactions and discount records are append-only
  3. Atomicity: every multi-record write runs inside TxStore.WithTx
  4. Type Safety: typed IDs prevent mixing doctor/patient/appointment IDs

SEE ALSO:
  - store.go: persistence interfaces
  - ledger.go: WalletLedger
  - engine.go: booking orchestration
*/
package booking

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type DoctorID string
type PatientID string
type AppointmentID string
type TransactionID string

func NewAppointmentID() AppointmentID { return AppointmentID(uuid.NewString()) }
func NewTransactionID() TransactionID { return TransactionID(uuid.NewString()) }
func NewDoctorID() DoctorID           { return DoctorID(uuid.NewString()) }
func NewPatientID() PatientID         { return PatientID(uuid.NewString()) }

// =============================================================================
// DIRECTORY ENTITIES
// =============================================================================

// Doctor is owned by the directory. The engine only reads it.
type Doctor struct {
	ID                 DoctorID
	Name               string
	Email              string
	Specialty          string
	ConsultationFee    decimal.Decimal
	DiscountPercentage decimal.Decimal // 0-100
	Available          bool
	CreatedAt          time.Time
}

// Validate checks the pricing fields every booking depends on.
func (d Doctor) Validate() error {
	if !d.ConsultationFee.IsPositive() {
		return &ValidationError{Field: "consultation_fee", Reason: "must be positive"}
	}
	if d.DiscountPercentage.IsNegative() || d.DiscountPercentage.GreaterThan(hundred) {
		return &ValidationError{Field: "discount_percentage", Reason: "must be between 0 and 100"}
	}
	return nil
}

// Patient is owned by the directory for identity fields.
// WalletBalance is only ever written by WalletLedger.
type Patient struct {
	ID            PatientID
	Name          string
	Email         string
	WalletBalance decimal.Decimal
	CreatedAt     time.Time
}

// =============================================================================
// APPOINTMENT
// =============================================================================

type AppointmentStatus string

const (
	StatusScheduled AppointmentStatus = "scheduled"
	StatusCompleted AppointmentStatus = "completed"
	StatusCancelled AppointmentStatus = "cancelled"
)

func (s AppointmentStatus) Valid() bool {
	switch s {
	case StatusScheduled, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether an appointment may move from s to to.
// Only scheduled appointments move, and only to a terminal state.
func (s AppointmentStatus) CanTransition(to AppointmentStatus) bool {
	return s == StatusScheduled && (to == StatusCompleted || to == StatusCancelled)
}

type Appointment struct {
	ID              AppointmentID
	DoctorID        DoctorID
	PatientID       PatientID
	DateTime        time.Time
	Status          AppointmentStatus
	OriginalFee     decimal.Decimal
	DiscountApplied decimal.Decimal
	FinalFee        decimal.Decimal
	IsFirstVisit    bool
	TransactionID   TransactionID
	CreatedAt       time.Time
}

// AppointmentDetail is an appointment joined with the directory names the
// reports and API need.
type AppointmentDetail struct {
	Appointment
	DoctorName  string
	Specialty   string
	PatientName string
}

// =============================================================================
// DISCOUNT RECORD
// =============================================================================

// DiscountRecord exists once per (doctor, patient) pair. Its existence means
// the first-visit discount has been consumed. Never updated, never deleted.
type DiscountRecord struct {
	DoctorID  DoctorID
	PatientID PatientID
	UsedAt    time.Time
}

// =============================================================================
// TRANSACTION - Wallet ledger entry
// =============================================================================

type TransactionType string

const (
	TxCredit TransactionType = "credit"
	TxDebit  TransactionType = "debit"
)

type Transaction struct {
	ID            TransactionID
	PatientID     PatientID
	AppointmentID AppointmentID // empty for credits
	Type          TransactionType
	Amount        decimal.Decimal // always positive
	Description   string
	Balance       decimal.Decimal // wallet balance right after this entry
	CreatedAt     time.Time
}

// Signed returns the amount with the sign it has on the balance.
func (t Transaction) Signed() decimal.Decimal {
	if t.Type == TxDebit {
		return t.Amount.Neg()
	}
	return t.Amount
}

// =============================================================================
// DATE RANGE - Optional report filter
// =============================================================================

// DateRange is an inclusive filter. A nil bound is open.
type DateRange struct {
	From *time.Time
	To   *time.Time
}

func (r DateRange) Contains(t time.Time) bool {
	if r.From != nil && t.Before(*r.From) {
		return false
	}
	if r.To != nil && t.After(*r.To) {
		return false
	}
	return true
}

// =============================================================================
// REQUESTS AND RESULTS
// =============================================================================

type BookingRequest struct {
	DoctorID  DoctorID
	PatientID PatientID
	DateTime  string // RFC3339 timestamp
}

type BookingResult struct {
	AppointmentID          AppointmentID
	TransactionID          TransactionID
	DoctorName             string
	Specialty              string
	DateTime               time.Time
	OriginalFee            decimal.Decimal
	DiscountApplied        decimal.Decimal
	FinalFee               decimal.Decimal
	IsFirstVisit           bool
	WalletBalanceRemaining decimal.Decimal
}

type TopUpResult struct {
	WalletBalance decimal.Decimal
	Transaction   Transaction
}

// =============================================================================
// FEES
// =============================================================================

var hundred = decimal.NewFromInt(100)

// ComputeFee returns (discountApplied, finalFee) for a consultation.
// The discount is fee * pct / 100 on a first visit and zero otherwise.
func ComputeFee(fee, discountPct decimal.Decimal, firstVisit bool) (decimal.Decimal, decimal.Decimal) {
	if !firstVisit {
		return decimal.Zero, fee
	}
	discount := fee.Mul(discountPct).Div(hundred)
	return discount, fee.Sub(discount)
}
