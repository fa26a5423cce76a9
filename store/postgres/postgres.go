/*
Package postgres provides a PostgreSQL-backed implementation of booking.Store
using pgx.

PURPOSE:
  Multi-instance deployments. The schema mirrors store/sqlite; the
  difference is how concurrent units are kept apart:

  - per patient:  SELECT ... FOR UPDATE on the patients row (LockPatient)
  - per pair:     INSERT ... ON CONFLICT DO NOTHING on discount_records
  - per slot:     partial unique index idx_unique_doctor_slot, with the
                  unique_violation (23505) mapped to booking.ErrSlotConflict

  Transactions run at READ COMMITTED. None of the three rules relies on a
  snapshot read; each is a row lock or a constraint.

MONEY:
  Unconstrained NUMERIC, so a stored balance is exactly the decimal the
  ledger computed. Values cross the driver as text for the same reason.

SEE ALSO:
  - store/sqlite/sqlite.go: SQLite implementation
  - booking/store.go: Interface definitions
*/
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/warp/consult-wallet/booking"
)

const uniqueViolation = "23505"

// Store implements booking.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// Connect opens a pool and verifies connectivity.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	cfg.MaxConns = 10
	cfg.MinConns = 1
	cfg.HealthCheckPeriod = 30 * time.Second
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 15 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return pool, nil
}

// New connects to dsn and migrates the schema.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := Connect(ctx, dsn)
	if err != nil {
		return nil, err
	}
	s := &Store{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS doctors (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT,
		specialty TEXT NOT NULL,
		consultation_fee NUMERIC NOT NULL CHECK (consultation_fee > 0),
		discount_percentage NUMERIC NOT NULL CHECK (discount_percentage BETWEEN 0 AND 100),
		available BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE TABLE IF NOT EXISTS patients (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT,
		wallet_balance NUMERIC NOT NULL DEFAULT 0 CHECK (wallet_balance >= 0),
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE TABLE IF NOT EXISTS appointments (
		id TEXT PRIMARY KEY,
		doctor_id TEXT NOT NULL REFERENCES doctors(id),
		patient_id TEXT NOT NULL REFERENCES patients(id),
		date_time TIMESTAMPTZ NOT NULL,
		status TEXT NOT NULL CHECK (status IN ('scheduled', 'completed', 'cancelled')),
		original_fee NUMERIC NOT NULL,
		discount_applied NUMERIC NOT NULL,
		final_fee NUMERIC NOT NULL,
		is_first_visit BOOLEAN NOT NULL,
		transaction_id TEXT,
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_unique_doctor_slot
		ON appointments(doctor_id, date_time)
		WHERE status <> 'cancelled';
	CREATE INDEX IF NOT EXISTS idx_appointments_patient_created
		ON appointments(patient_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_appointments_doctor_date
		ON appointments(doctor_id, date_time DESC);

	CREATE TABLE IF NOT EXISTS discount_records (
		doctor_id TEXT NOT NULL REFERENCES doctors(id),
		patient_id TEXT NOT NULL REFERENCES patients(id),
		used_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (doctor_id, patient_id)
	);

	CREATE TABLE IF NOT EXISTS transactions (
		seq BIGSERIAL PRIMARY KEY,
		id TEXT NOT NULL UNIQUE,
		patient_id TEXT NOT NULL REFERENCES patients(id),
		appointment_id TEXT,
		tx_type TEXT NOT NULL CHECK (tx_type IN ('credit', 'debit')),
		amount NUMERIC NOT NULL CHECK (amount > 0),
		description TEXT,
		balance NUMERIC NOT NULL CHECK (balance >= 0),
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_patient_seq
		ON transactions(patient_id, seq);
	`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// Reset clears all data (for tests).
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx,
		"TRUNCATE transactions, discount_records, appointments, patients, doctors RESTART IDENTITY")
	return err
}

// =============================================================================
// DIRECTORY
// =============================================================================

func (s *Store) SaveDoctor(ctx context.Context, d booking.Doctor) error {
	if err := d.Validate(); err != nil {
		return err
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO doctors (id, name, email, specialty, consultation_fee, discount_percentage, available, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			email = EXCLUDED.email,
			specialty = EXCLUDED.specialty,
			consultation_fee = EXCLUDED.consultation_fee,
			discount_percentage = EXCLUDED.discount_percentage,
			available = EXCLUDED.available
	`, string(d.ID), d.Name, nullable(d.Email), d.Specialty,
		d.ConsultationFee.String(), d.DiscountPercentage.String(), d.Available, d.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("save doctor: %w", err)
	}
	return nil
}

func (s *Store) SavePatient(ctx context.Context, p booking.Patient) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO patients (id, name, email, wallet_balance, created_at)
		VALUES ($1, $2, $3, 0, $4)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			email = EXCLUDED.email
	`, string(p.ID), p.Name, nullable(p.Email), p.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("save patient: %w", err)
	}
	return nil
}

func (s *Store) GetDoctor(ctx context.Context, id booking.DoctorID) (*booking.Doctor, error) {
	return getDoctor(ctx, s.pool, id)
}

func (s *Store) GetPatient(ctx context.Context, id booking.PatientID) (*booking.Patient, error) {
	return scanPatient(s.pool.QueryRow(ctx, patientQuery, string(id)))
}

func (s *Store) ListPatientIDs(ctx context.Context) ([]booking.PatientID, error) {
	rows, err := s.pool.Query(ctx, "SELECT id FROM patients ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("list patients: %w", err)
	}
	defer rows.Close()

	var ids []booking.PatientID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, booking.PatientID(id))
	}
	return ids, rows.Err()
}

// querier is satisfied by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getDoctor(ctx context.Context, q querier, id booking.DoctorID) (*booking.Doctor, error) {
	var (
		d        booking.Doctor
		rawID    string
		email    *string
		fee, pct string
	)
	err := q.QueryRow(ctx, `
		SELECT id, name, email, specialty, consultation_fee::text, discount_percentage::text, available, created_at
		FROM doctors
		WHERE id = $1
	`, string(id)).Scan(&rawID, &d.Name, &email, &d.Specialty, &fee, &pct, &d.Available, &d.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, booking.ErrDoctorNotFound
		}
		return nil, fmt.Errorf("load doctor: %w", err)
	}
	d.ID = booking.DoctorID(rawID)
	if email != nil {
		d.Email = *email
	}
	d.ConsultationFee = decimal.RequireFromString(fee)
	d.DiscountPercentage = decimal.RequireFromString(pct)
	d.CreatedAt = d.CreatedAt.UTC()
	return &d, nil
}

const patientQuery = `
	SELECT id, name, email, wallet_balance::text, created_at
	FROM patients
	WHERE id = $1`

func scanPatient(row pgx.Row) (*booking.Patient, error) {
	var (
		p              booking.Patient
		rawID, balance string
		email          *string
	)
	if err := row.Scan(&rawID, &p.Name, &email, &balance, &p.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, booking.ErrPatientNotFound
		}
		return nil, fmt.Errorf("load patient: %w", err)
	}
	p.ID = booking.PatientID(rawID)
	if email != nil {
		p.Email = *email
	}
	p.WalletBalance = decimal.RequireFromString(balance)
	p.CreatedAt = p.CreatedAt.UTC()
	return &p, nil
}

// =============================================================================
// APPOINTMENTS
// =============================================================================

const appointmentSelect = `
	SELECT a.id, a.doctor_id, a.patient_id, a.date_time, a.status,
	       a.original_fee::text, a.discount_applied::text, a.final_fee::text,
	       a.is_first_visit, a.transaction_id, a.created_at,
	       d.name, d.specialty, p.name
	FROM appointments a
	JOIN doctors d ON d.id = a.doctor_id
	JOIN patients p ON p.id = a.patient_id`

func (s *Store) GetAppointment(ctx context.Context, id booking.AppointmentID) (*booking.AppointmentDetail, error) {
	a, err := scanAppointment(s.pool.QueryRow(ctx, appointmentSelect+" WHERE a.id = $1", string(id)))
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) ListPatientAppointments(ctx context.Context, id booking.PatientID, r booking.DateRange) ([]booking.AppointmentDetail, error) {
	where, args := rangeClause("a.created_at", r, 2)
	return s.queryAppointments(ctx,
		appointmentSelect+" WHERE a.patient_id = $1"+where+" ORDER BY a.created_at DESC",
		append([]any{string(id)}, args...)...)
}

func (s *Store) ListDoctorAppointments(ctx context.Context, id booking.DoctorID, r booking.DateRange) ([]booking.AppointmentDetail, error) {
	where, args := rangeClause("a.date_time", r, 2)
	return s.queryAppointments(ctx,
		appointmentSelect+" WHERE a.doctor_id = $1"+where+" ORDER BY a.date_time DESC",
		append([]any{string(id)}, args...)...)
}

func (s *Store) UpdateAppointmentStatus(ctx context.Context, id booking.AppointmentID, from, to booking.AppointmentStatus) (*booking.AppointmentDetail, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE appointments
		SET status = $2
		WHERE id = $1
		  AND status = $3
	`, string(id), string(to), string(from))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, booking.ErrSlotConflict
		}
		return nil, fmt.Errorf("update appointment: %w", err)
	}

	a, err := s.GetAppointment(ctx, id)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, booking.ErrInvalidTransition
	}
	return a, nil
}

func (s *Store) queryAppointments(ctx context.Context, query string, args ...any) ([]booking.AppointmentDetail, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query appointments: %w", err)
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

func scanAppointment(row pgx.Row) (booking.AppointmentDetail, error) {
	var (
		a                         booking.AppointmentDetail
		id, doctorID, patientID   string
		status                    string
		original, discount, final string
		txID                      *string
	)
	err := row.Scan(
		&id, &doctorID, &patientID, &a.DateTime, &status,
		&original, &discount, &final,
		&a.IsFirstVisit, &txID, &a.CreatedAt,
		&a.DoctorName, &a.Specialty, &a.PatientName,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return a, booking.ErrAppointmentNotFound
		}
		return a, fmt.Errorf("scan appointment: %w", err)
	}
	a.ID = booking.AppointmentID(id)
	a.DoctorID = booking.DoctorID(doctorID)
	a.PatientID = booking.PatientID(patientID)
	a.Status = booking.AppointmentStatus(status)
	a.OriginalFee = decimal.RequireFromString(original)
	a.DiscountApplied = decimal.RequireFromString(discount)
	a.FinalFee = decimal.RequireFromString(final)
	if txID != nil {
		a.TransactionID = booking.TransactionID(*txID)
	}
	a.DateTime = a.DateTime.UTC()
	a.CreatedAt = a.CreatedAt.UTC()
	return a, nil
}

// =============================================================================
// LEDGER AND DISCOUNTS (read side)
// =============================================================================

func (s *Store) DiscountRecord(ctx context.Context, doctorID booking.DoctorID, patientID booking.PatientID) (*booking.DiscountRecord, error) {
	var usedAt time.Time
	err := s.pool.QueryRow(ctx,
		"SELECT used_at FROM discount_records WHERE doctor_id = $1 AND patient_id = $2",
		string(doctorID), string(patientID),
	).Scan(&usedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load discount record: %w", err)
	}
	return &booking.DiscountRecord{DoctorID: doctorID, PatientID: patientID, UsedAt: usedAt.UTC()}, nil
}

func (s *Store) ListTransactions(ctx context.Context, id booking.PatientID, r booking.DateRange) ([]booking.Transaction, error) {
	where, args := rangeClause("created_at", r, 2)
	rows, err := s.pool.Query(ctx, `
		SELECT id, patient_id, appointment_id, tx_type, amount::text, description, balance::text, created_at
		FROM transactions
		WHERE patient_id = $1`+where+`
		ORDER BY seq ASC`,
		append([]any{string(id)}, args...)...)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	var out []booking.Transaction
	for rows.Next() {
		var (
			t                          booking.Transaction
			txID, patientID, typ       string
			appointmentID, description *string
			amount, balance            string
		)
		if err := rows.Scan(&txID, &patientID, &appointmentID, &typ, &amount, &description, &balance, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		t.ID = booking.TransactionID(txID)
		t.PatientID = booking.PatientID(patientID)
		t.Type = booking.TransactionType(typ)
		if appointmentID != nil {
			t.AppointmentID = booking.AppointmentID(*appointmentID)
		}
		if description != nil {
			t.Description = *description
		}
		t.Amount = decimal.RequireFromString(amount)
		t.Balance = decimal.RequireFromString(balance)
		t.CreatedAt = t.CreatedAt.UTC()
		out = append(out, t)
	}
	return out, rows.Err()
}

// =============================================================================
// TRANSACTIONAL STORE (booking.TxStore interface)
// =============================================================================

// WithTx executes fn within a READ COMMITTED transaction.
func (s *Store) WithTx(ctx context.Context, fn func(tx booking.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&txStore{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

type txStore struct {
	tx pgx.Tx
}

func (ts *txStore) GetDoctor(ctx context.Context, id booking.DoctorID) (*booking.Doctor, error) {
	return getDoctor(ctx, ts.tx, id)
}

func (ts *txStore) LockPatient(ctx context.Context, id booking.PatientID) (*booking.Patient, error) {
	return scanPatient(ts.tx.QueryRow(ctx, patientQuery+" FOR UPDATE", string(id)))
}

func (ts *txStore) SetWalletBalance(ctx context.Context, id booking.PatientID, balance decimal.Decimal) error {
	tag, err := ts.tx.Exec(ctx,
		"UPDATE patients SET wallet_balance = $2 WHERE id = $1", string(id), balance.String())
	if err != nil {
		return fmt.Errorf("update wallet balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return booking.ErrPatientNotFound
	}
	return nil
}

func (ts *txStore) AppendTransaction(ctx context.Context, t booking.Transaction) error {
	_, err := ts.tx.Exec(ctx, `
		INSERT INTO transactions
		(id, patient_id, appointment_id, tx_type, amount, description, balance, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, string(t.ID), string(t.PatientID), nullable(string(t.AppointmentID)), string(t.Type),
		t.Amount.String(), nullable(t.Description), t.Balance.String(), t.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("append transaction: %w", err)
	}
	return nil
}

func (ts *txStore) InsertDiscountRecord(ctx context.Context, r booking.DiscountRecord) (bool, error) {
	tag, err := ts.tx.Exec(ctx, `
		INSERT INTO discount_records (doctor_id, patient_id, used_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (doctor_id, patient_id) DO NOTHING
	`, string(r.DoctorID), string(r.PatientID), r.UsedAt.UTC())
	if err != nil {
		return false, fmt.Errorf("insert discount record: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (ts *txStore) SlotTaken(ctx context.Context, doctorID booking.DoctorID, at time.Time) (bool, error) {
	var taken bool
	err := ts.tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM appointments
			WHERE doctor_id = $1 AND date_time = $2 AND status <> 'cancelled'
		)
	`, string(doctorID), at.UTC()).Scan(&taken)
	if err != nil {
		return false, fmt.Errorf("check slot: %w", err)
	}
	return taken, nil
}

func (ts *txStore) InsertAppointment(ctx context.Context, a booking.Appointment) error {
	_, err := ts.tx.Exec(ctx, `
		INSERT INTO appointments
		(id, doctor_id, patient_id, date_time, status, original_fee, discount_applied,
		 final_fee, is_first_visit, transaction_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, string(a.ID), string(a.DoctorID), string(a.PatientID), a.DateTime.UTC(), string(a.Status),
		a.OriginalFee.String(), a.DiscountApplied.String(), a.FinalFee.String(),
		a.IsFirstVisit, nullable(string(a.TransactionID)), a.CreatedAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return booking.ErrSlotConflict
		}
		return fmt.Errorf("insert appointment: %w", err)
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// rangeClause numbers its placeholders from next.
func rangeClause(column string, r booking.DateRange, next int) (string, []any) {
	var (
		sb   strings.Builder
		args []any
	)
	if r.From != nil {
		fmt.Fprintf(&sb, " AND %s >= $%d", column, next)
		args = append(args, r.From.UTC())
		next++
	}
	if r.To != nil {
		fmt.Fprintf(&sb, " AND %s <= $%d", column, next)
		args = append(args, r.To.UTC())
	}
	return sb.String(), args
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
