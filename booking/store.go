/*
store.go - Persistence interfaces for the booking engine

KEY INTERFACES:
  ReadStore: lookups and history queries (reports, API reads)
  Tx:        the view of the store inside one atomic unit
  TxStore:   runs a function inside a database transaction
  Store:     everything above plus directory writes

ATOMIC UNITS:
  WithTx() commits only if fn returns nil. A booking touches the patient
  wallet, the ledger, the discount record and the appointment inside a
  single WithTx, so a failure at any step leaves none of them written.

UNIQUENESS CONTRACT:
  Implementations must enforce, at the storage layer:
  - one discount record per (doctor_id, patient_id)
  - one non-cancelled appointment per (doctor_id, date_time)
  InsertDiscountRecord reports a duplicate as inserted=false, not an error.
  InsertAppointment reports a duplicate slot as ErrSlotConflict.

IMPLEMENTATIONS:
  - booking/store/memory.go: in-memory, for tests
  - store/sqlite/sqlite.go:  SQLite (default)
  - store/postgres/postgres.go: PostgreSQL via pgx
*/
package booking

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// READ STORE
// =============================================================================

type ReadStore interface {
	GetDoctor(ctx context.Context, id DoctorID) (*Doctor, error)
	GetPatient(ctx context.Context, id PatientID) (*Patient, error)
	GetAppointment(ctx context.Context, id AppointmentID) (*AppointmentDetail, error)

	// DiscountRecord returns nil, nil when the pair has not used its discount.
	DiscountRecord(ctx context.Context, doctorID DoctorID, patientID PatientID) (*DiscountRecord, error)

	// ListPatientAppointments filters on CreatedAt, newest first.
	ListPatientAppointments(ctx context.Context, id PatientID, r DateRange) ([]AppointmentDetail, error)

	// ListDoctorAppointments filters on DateTime, latest slot first.
	ListDoctorAppointments(ctx context.Context, id DoctorID, r DateRange) ([]AppointmentDetail, error)

	// ListTransactions returns the ledger of a patient in creation order,
	// filtered on CreatedAt.
	ListTransactions(ctx context.Context, id PatientID, r DateRange) ([]Transaction, error)

	ListPatientIDs(ctx context.Context) ([]PatientID, error)
}

// =============================================================================
// TRANSACTIONAL VIEW
// =============================================================================

// Tx is only valid inside the WithTx callback that produced it.
type Tx interface {
	GetDoctor(ctx context.Context, id DoctorID) (*Doctor, error)

	// LockPatient loads the patient and holds its row until the unit ends,
	// serializing every wallet mutation for that patient.
	LockPatient(ctx context.Context, id PatientID) (*Patient, error)

	SetWalletBalance(ctx context.Context, id PatientID, balance decimal.Decimal) error
	AppendTransaction(ctx context.Context, t Transaction) error

	// InsertDiscountRecord inserts if absent. inserted is false when the pair
	// already has a record, including when a concurrent unit won the race.
	InsertDiscountRecord(ctx context.Context, r DiscountRecord) (inserted bool, err error)

	// SlotTaken reports whether a non-cancelled appointment exists.
	SlotTaken(ctx context.Context, doctorID DoctorID, at time.Time) (bool, error)
	InsertAppointment(ctx context.Context, a Appointment) error
}

type TxStore interface {
	// WithTx executes fn within a transaction.
	// If fn returns error, the transaction is rolled back.
	// If fn returns nil, the transaction is committed.
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

// =============================================================================
// FULL STORE
// =============================================================================

type Store interface {
	ReadStore
	TxStore

	// Directory writes. SavePatient never changes an existing wallet balance.
	SaveDoctor(ctx context.Context, d Doctor) error
	SavePatient(ctx context.Context, p Patient) error

	// UpdateAppointmentStatus is a compare-and-set on status.
	// Returns ErrAppointmentNotFound or ErrInvalidTransition when nothing matched.
	UpdateAppointmentStatus(ctx context.Context, id AppointmentID, from, to AppointmentStatus) (*AppointmentDetail, error)

	Ping(ctx context.Context) error
	Close() error
}
