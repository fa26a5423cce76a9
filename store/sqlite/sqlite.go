/*
Package sqlite provides a SQLite-backed implementation of booking.Store.

PURPOSE:
  Default persistence for the booking engine. The same schema and
  constraints are used by the PostgreSQL store (store/postgres); only the
  dialect and the locking primitive differ.

APPEND-ONLY ENFORCEMENT:
  - No UPDATE or DELETE statements on transactions
  - No UPDATE or DELETE statements on discount_records
  - appointments only ever change status

KEY TABLES:
  doctors, patients:  directory entities
  appointments:       booked slots with fee breakdown
  discount_records:   one row per (doctor, patient) that used its discount
  transactions:       immutable wallet ledger, ordered by seq

INDEXES:
  - discount_records primary key (doctor_id, patient_id): one discount per pair
  - idx_unique_doctor_slot: one non-cancelled appointment per (doctor_id, date_time)
  - idx_transactions_patient_seq: ledger replay (hot path)

TIME FORMAT:
  Timestamps are stored as fixed-width UTC text (nanosecond precision), so
  string comparison in SQL is chronological comparison.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. WithTx holds the write lock for the
  whole unit, which is what LockPatient relies on: SQLite has no row locks.

USAGE:
  store, err := sqlite.New("./data/consult.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := booking.NewEngine(store)

SEE ALSO:
  - booking/store.go: Interface definitions
  - booking/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/consult-wallet/booking"
)

const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements booking.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Every connection to ":memory:" is a separate database.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS doctors (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT,
		specialty TEXT NOT NULL,
		consultation_fee TEXT NOT NULL,
		discount_percentage TEXT NOT NULL,
		available INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		CHECK (CAST(consultation_fee AS REAL) > 0),
		CHECK (CAST(discount_percentage AS REAL) BETWEEN 0 AND 100)
	);

	CREATE TABLE IF NOT EXISTS patients (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT,
		wallet_balance TEXT NOT NULL DEFAULT '0',
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS appointments (
		id TEXT PRIMARY KEY,
		doctor_id TEXT NOT NULL REFERENCES doctors(id),
		patient_id TEXT NOT NULL REFERENCES patients(id),
		date_time TEXT NOT NULL,
		status TEXT NOT NULL,
		original_fee TEXT NOT NULL,
		discount_applied TEXT NOT NULL,
		final_fee TEXT NOT NULL,
		is_first_visit INTEGER NOT NULL,
		transaction_id TEXT,
		created_at TEXT NOT NULL
	);

	-- CRITICAL: a doctor holds at most one live appointment per instant.
	-- Cancelled rows drop out of the index and free the slot.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_unique_doctor_slot
		ON appointments(doctor_id, date_time)
		WHERE status <> 'cancelled';

	CREATE INDEX IF NOT EXISTS idx_appointments_patient_created
		ON appointments(patient_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_appointments_doctor_date
		ON appointments(doctor_id, date_time DESC);

	-- CRITICAL: the first-visit discount is consumed once per pair.
	CREATE TABLE IF NOT EXISTS discount_records (
		doctor_id TEXT NOT NULL REFERENCES doctors(id),
		patient_id TEXT NOT NULL REFERENCES patients(id),
		used_at TEXT NOT NULL,
		PRIMARY KEY (doctor_id, patient_id)
	);

	-- Wallet ledger (append-only)
	CREATE TABLE IF NOT EXISTS transactions (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		patient_id TEXT NOT NULL REFERENCES patients(id),
		appointment_id TEXT,
		tx_type TEXT NOT NULL,
		amount TEXT NOT NULL,
		description TEXT,
		balance TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_patient_seq
		ON transactions(patient_id, seq);
	CREATE INDEX IF NOT EXISTS idx_transactions_appointment
		ON transactions(appointment_id) WHERE appointment_id IS NOT NULL;
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// DIRECTORY
// =============================================================================

// SaveDoctor inserts or updates a doctor.
func (s *Store) SaveDoctor(ctx context.Context, d booking.Doctor) error {
	if err := d.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	query := `
		INSERT INTO doctors (id, name, email, specialty, consultation_fee, discount_percentage, available, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			specialty = excluded.specialty,
			consultation_fee = excluded.consultation_fee,
			discount_percentage = excluded.discount_percentage,
			available = excluded.available
	`
	_, err := s.db.ExecContext(ctx, query,
		d.ID, d.Name, nullString(d.Email), d.Specialty,
		d.ConsultationFee.String(), d.DiscountPercentage.String(),
		d.Available, formatTime(d.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save doctor: %w", err)
	}
	return nil
}

// SavePatient inserts or updates a patient. An existing wallet balance is
// never touched; new patients start at zero.
func (s *Store) SavePatient(ctx context.Context, p booking.Patient) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	query := `
		INSERT INTO patients (id, name, email, wallet_balance, created_at)
		VALUES (?, ?, ?, '0', ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email
	`
	_, err := s.db.ExecContext(ctx, query, p.ID, p.Name, nullString(p.Email), formatTime(p.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to save patient: %w", err)
	}
	return nil
}

func (s *Store) GetDoctor(ctx context.Context, id booking.DoctorID) (*booking.Doctor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getDoctor(ctx, s.db, id)
}

func (s *Store) GetPatient(ctx context.Context, id booking.PatientID) (*booking.Patient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getPatient(ctx, s.db, id)
}

func (s *Store) ListPatientIDs(ctx context.Context) ([]booking.PatientID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT id FROM patients ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to list patients: %w", err)
	}
	defer rows.Close()

	var ids []booking.PatientID
	for rows.Next() {
		var id booking.PatientID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getDoctor(ctx context.Context, q queryer, id booking.DoctorID) (*booking.Doctor, error) {
	var (
		d                 booking.Doctor
		email             sql.NullString
		fee, pct, created string
	)
	err := q.QueryRowContext(ctx, `
		SELECT id, name, email, specialty, consultation_fee, discount_percentage, available, created_at
		FROM doctors WHERE id = ?`, id,
	).Scan(&d.ID, &d.Name, &email, &d.Specialty, &fee, &pct, &d.Available, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, booking.ErrDoctorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load doctor: %w", err)
	}
	d.Email = email.String
	if d.ConsultationFee, err = decimal.NewFromString(fee); err != nil {
		return nil, fmt.Errorf("doctor %s: bad consultation_fee: %w", id, err)
	}
	if d.DiscountPercentage, err = decimal.NewFromString(pct); err != nil {
		return nil, fmt.Errorf("doctor %s: bad discount_percentage: %w", id, err)
	}
	d.CreatedAt = parseTime(created)
	return &d, nil
}

func getPatient(ctx context.Context, q queryer, id booking.PatientID) (*booking.Patient, error) {
	var (
		p                booking.Patient
		email            sql.NullString
		balance, created string
	)
	err := q.QueryRowContext(ctx,
		"SELECT id, name, email, wallet_balance, created_at FROM patients WHERE id = ?", id,
	).Scan(&p.ID, &p.Name, &email, &balance, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, booking.ErrPatientNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load patient: %w", err)
	}
	p.Email = email.String
	if p.WalletBalance, err = decimal.NewFromString(balance); err != nil {
		return nil, fmt.Errorf("patient %s: bad wallet_balance: %w", id, err)
	}
	p.CreatedAt = parseTime(created)
	return &p, nil
}

// =============================================================================
// APPOINTMENTS
// =============================================================================

const appointmentColumns = `
	a.id, a.doctor_id, a.patient_id, a.date_time, a.status,
	a.original_fee, a.discount_applied, a.final_fee, a.is_first_visit,
	a.transaction_id, a.created_at, d.name, d.specialty, p.name`

const appointmentJoin = `
	FROM appointments a
	JOIN doctors d ON d.id = a.doctor_id
	JOIN patients p ON p.id = a.patient_id`

func (s *Store) GetAppointment(ctx context.Context, id booking.AppointmentID) (*booking.AppointmentDetail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getAppointment(ctx, s.db, id)
}

func getAppointment(ctx context.Context, q queryer, id booking.AppointmentID) (*booking.AppointmentDetail, error) {
	row := q.QueryRowContext(ctx, "SELECT "+appointmentColumns+appointmentJoin+" WHERE a.id = ?", id)
	a, err := scanAppointment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, booking.ErrAppointmentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) ListPatientAppointments(ctx context.Context, id booking.PatientID, r booking.DateRange) ([]booking.AppointmentDetail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	where, args := rangeClause("a.created_at", r)
	query := "SELECT " + appointmentColumns + appointmentJoin +
		" WHERE a.patient_id = ?" + where + " ORDER BY a.created_at DESC"
	return s.queryAppointments(ctx, query, append([]any{id}, args...)...)
}

func (s *Store) ListDoctorAppointments(ctx context.Context, id booking.DoctorID, r booking.DateRange) ([]booking.AppointmentDetail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	where, args := rangeClause("a.date_time", r)
	query := "SELECT " + appointmentColumns + appointmentJoin +
		" WHERE a.doctor_id = ?" + where + " ORDER BY a.date_time DESC"
	return s.queryAppointments(ctx, query, append([]any{id}, args...)...)
}

// UpdateAppointmentStatus is a compare-and-set on status.
func (s *Store) UpdateAppointmentStatus(ctx context.Context, id booking.AppointmentID, from, to booking.AppointmentStatus) (*booking.AppointmentDetail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"UPDATE appointments SET status = ? WHERE id = ? AND status = ?", to, id, from)
	if err != nil {
		if isUniqueConstraintError(err) {
			return nil, booking.ErrSlotConflict
		}
		return nil, fmt.Errorf("failed to update appointment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}

	a, err := getAppointment(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, booking.ErrInvalidTransition
	}
	return a, nil
}

func (s *Store) queryAppointments(ctx context.Context, query string, args ...any) ([]booking.AppointmentDetail, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query appointments: %w", err)
	}
	defer rows.Close()

	var out []booking.AppointmentDetail
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAppointment(row scanner) (booking.AppointmentDetail, error) {
	var (
		a                         booking.AppointmentDetail
		dateTime, createdAt       string
		original, discount, final string
		txID                      sql.NullString
	)
	err := row.Scan(
		&a.ID, &a.DoctorID, &a.PatientID, &dateTime, &a.Status,
		&original, &discount, &final, &a.IsFirstVisit,
		&txID, &createdAt, &a.DoctorName, &a.Specialty, &a.PatientName,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return a, err
		}
		return a, fmt.Errorf("failed to scan appointment: %w", err)
	}
	a.DateTime = parseTime(dateTime)
	a.CreatedAt = parseTime(createdAt)
	a.OriginalFee = decimal.RequireFromString(original)
	a.DiscountApplied = decimal.RequireFromString(discount)
	a.FinalFee = decimal.RequireFromString(final)
	a.TransactionID = booking.TransactionID(txID.String)
	return a, nil
}

// =============================================================================
// LEDGER AND DISCOUNTS (read side)
// =============================================================================

func (s *Store) DiscountRecord(ctx context.Context, doctorID booking.DoctorID, patientID booking.PatientID) (*booking.DiscountRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var usedAt string
	err := s.db.QueryRowContext(ctx,
		"SELECT used_at FROM discount_records WHERE doctor_id = ? AND patient_id = ?",
		doctorID, patientID,
	).Scan(&usedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load discount record: %w", err)
	}
	return &booking.DiscountRecord{DoctorID: doctorID, PatientID: patientID, UsedAt: parseTime(usedAt)}, nil
}

func (s *Store) ListTransactions(ctx context.Context, id booking.PatientID, r booking.DateRange) ([]booking.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	where, args := rangeClause("created_at", r)
	query := `
		SELECT id, patient_id, appointment_id, tx_type, amount, description, balance, created_at
		FROM transactions
		WHERE patient_id = ?` + where + `
		ORDER BY seq ASC`

	rows, err := s.db.QueryContext(ctx, query, append([]any{id}, args...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var out []booking.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTransaction(row scanner) (booking.Transaction, error) {
	var (
		t                          booking.Transaction
		appointmentID, description sql.NullString
		amount, balance, createdAt string
	)
	err := row.Scan(&t.ID, &t.PatientID, &appointmentID, &t.Type, &amount, &description, &balance, &createdAt)
	if err != nil {
		return t, fmt.Errorf("failed to scan transaction: %w", err)
	}
	t.AppointmentID = booking.AppointmentID(appointmentID.String)
	t.Description = description.String
	t.Amount = decimal.RequireFromString(amount)
	t.Balance = decimal.RequireFromString(balance)
	t.CreatedAt = parseTime(createdAt)
	return t, nil
}

// =============================================================================
// TRANSACTIONAL STORE (booking.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(tx booking.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// txStore only touches tx; the parent's mutex is already held.
type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) GetDoctor(ctx context.Context, id booking.DoctorID) (*booking.Doctor, error) {
	return getDoctor(ctx, ts.tx, id)
}

// LockPatient is a plain read: WithTx already serializes every writer.
func (ts *txStore) LockPatient(ctx context.Context, id booking.PatientID) (*booking.Patient, error) {
	return getPatient(ctx, ts.tx, id)
}

func (ts *txStore) SetWalletBalance(ctx context.Context, id booking.PatientID, balance decimal.Decimal) error {
	res, err := ts.tx.ExecContext(ctx,
		"UPDATE patients SET wallet_balance = ? WHERE id = ?", balance.String(), id)
	if err != nil {
		return fmt.Errorf("failed to update wallet balance: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return booking.ErrPatientNotFound
	}
	return nil
}

func (ts *txStore) AppendTransaction(ctx context.Context, t booking.Transaction) error {
	_, err := ts.tx.ExecContext(ctx, `
		INSERT INTO transactions
		(id, patient_id, appointment_id, tx_type, amount, description, balance, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.PatientID, nullString(string(t.AppointmentID)), t.Type,
		t.Amount.String(), nullString(t.Description), t.Balance.String(), formatTime(t.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to append transaction: %w", err)
	}
	return nil
}

func (ts *txStore) InsertDiscountRecord(ctx context.Context, r booking.DiscountRecord) (bool, error) {
	res, err := ts.tx.ExecContext(ctx, `
		INSERT INTO discount_records (doctor_id, patient_id, used_at)
		VALUES (?, ?, ?)
		ON CONFLICT(doctor_id, patient_id) DO NOTHING`,
		r.DoctorID, r.PatientID, formatTime(r.UsedAt),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert discount record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (ts *txStore) SlotTaken(ctx context.Context, doctorID booking.DoctorID, at time.Time) (bool, error) {
	var count int
	err := ts.tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM appointments
		WHERE doctor_id = ? AND date_time = ? AND status <> 'cancelled'`,
		doctorID, formatTime(at),
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check slot: %w", err)
	}
	return count > 0, nil
}

func (ts *txStore) InsertAppointment(ctx context.Context, a booking.Appointment) error {
	_, err := ts.tx.ExecContext(ctx, `
		INSERT INTO appointments
		(id, doctor_id, patient_id, date_time, status, original_fee, discount_applied,
		 final_fee, is_first_visit, transaction_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.DoctorID, a.PatientID, formatTime(a.DateTime), a.Status,
		a.OriginalFee.String(), a.DiscountApplied.String(), a.FinalFee.String(),
		a.IsFirstVisit, nullString(string(a.TransactionID)), formatTime(a.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return booking.ErrSlotConflict
		}
		return fmt.Errorf("failed to insert appointment: %w", err)
	}
	return nil
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"transactions", "discount_records", "appointments", "patients", "doctors"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

// rangeClause returns the SQL condition and args for an optional date range.
func rangeClause(column string, r booking.DateRange) (string, []any) {
	var (
		sb   strings.Builder
		args []any
	)
	if r.From != nil {
		sb.WriteString(" AND " + column + " >= ?")
		args = append(args, formatTime(*r.From))
	}
	if r.To != nil {
		sb.WriteString(" AND " + column + " <= ?")
		args = append(args, formatTime(*r.To))
	}
	return sb.String(), args
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
