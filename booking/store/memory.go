// Package store provides in-process booking.Store implementations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/consult-wallet/booking"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu           sync.RWMutex
	doctors      map[booking.DoctorID]booking.Doctor
	patients     map[booking.PatientID]booking.Patient
	appointments []booking.Appointment
	discounts    map[pair]booking.DiscountRecord
	transactions map[booking.PatientID][]booking.Transaction

	// faults fail the next call of the named Tx operation, once.
	faults map[string]error
}

type pair struct {
	DoctorID  booking.DoctorID
	PatientID booking.PatientID
}

func NewMemory() *Memory {
	return &Memory{
		doctors:      make(map[booking.DoctorID]booking.Doctor),
		patients:     make(map[booking.PatientID]booking.Patient),
		discounts:    make(map[pair]booking.DiscountRecord),
		transactions: make(map[booking.PatientID][]booking.Transaction),
		faults:       make(map[string]error),
	}
}

// FailOn makes the next call to the named Tx method (e.g. "InsertAppointment")
// return err. Used to exercise rollback paths.
func (m *Memory) FailOn(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults[op] = err
}

// =============================================================================
// DIRECTORY
// =============================================================================

func (m *Memory) SaveDoctor(_ context.Context, d booking.Doctor) error {
	if err := d.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	m.doctors[d.ID] = d
	return nil
}

func (m *Memory) SavePatient(_ context.Context, p booking.Patient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.patients[p.ID]; ok {
		p.WalletBalance = existing.WalletBalance
		p.CreatedAt = existing.CreatedAt
	} else {
		p.WalletBalance = decimal.Zero
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	m.patients[p.ID] = p
	return nil
}

func (m *Memory) GetDoctor(_ context.Context, id booking.DoctorID) (*booking.Doctor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.doctorLocked(id)
}

func (m *Memory) GetPatient(_ context.Context, id booking.PatientID) (*booking.Patient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.patientLocked(id)
}

func (m *Memory) ListPatientIDs(_ context.Context) ([]booking.PatientID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]booking.PatientID, 0, len(m.patients))
	for id := range m.patients {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (m *Memory) doctorLocked(id booking.DoctorID) (*booking.Doctor, error) {
	d, ok := m.doctors[id]
	if !ok {
		return nil, booking.ErrDoctorNotFound
	}
	return &d, nil
}

func (m *Memory) patientLocked(id booking.PatientID) (*booking.Patient, error) {
	p, ok := m.patients[id]
	if !ok {
		return nil, booking.ErrPatientNotFound
	}
	return &p, nil
}

// =============================================================================
// APPOINTMENTS
// =============================================================================

func (m *Memory) GetAppointment(_ context.Context, id booking.AppointmentID) (*booking.AppointmentDetail, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, a := range m.appointments {
		if a.ID == id {
			d := m.detailLocked(a)
			return &d, nil
		}
	}
	return nil, booking.ErrAppointmentNotFound
}

func (m *Memory) ListPatientAppointments(_ context.Context, id booking.PatientID, r booking.DateRange) ([]booking.AppointmentDetail, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []booking.AppointmentDetail
	for _, a := range m.appointments {
		if a.PatientID == id && r.Contains(a.CreatedAt) {
			out = append(out, m.detailLocked(a))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) ListDoctorAppointments(_ context.Context, id booking.DoctorID, r booking.DateRange) ([]booking.AppointmentDetail, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []booking.AppointmentDetail
	for _, a := range m.appointments {
		if a.DoctorID == id && r.Contains(a.DateTime) {
			out = append(out, m.detailLocked(a))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DateTime.After(out[j].DateTime) })
	return out, nil
}

func (m *Memory) UpdateAppointmentStatus(_ context.Context, id booking.AppointmentID, from, to booking.AppointmentStatus) (*booking.AppointmentDetail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, a := range m.appointments {
		if a.ID != id {
			continue
		}
		if a.Status != from {
			return nil, booking.ErrInvalidTransition
		}
		m.appointments[i].Status = to
		d := m.detailLocked(m.appointments[i])
		return &d, nil
	}
	return nil, booking.ErrAppointmentNotFound
}

func (m *Memory) detailLocked(a booking.Appointment) booking.AppointmentDetail {
	d := booking.AppointmentDetail{Appointment: a}
	if doc, ok := m.doctors[a.DoctorID]; ok {
		d.DoctorName = doc.Name
		d.Specialty = doc.Specialty
	}
	if p, ok := m.patients[a.PatientID]; ok {
		d.PatientName = p.Name
	}
	return d
}

// =============================================================================
// LEDGER AND DISCOUNTS (read side)
// =============================================================================

func (m *Memory) DiscountRecord(_ context.Context, doctorID booking.DoctorID, patientID booking.PatientID) (*booking.DiscountRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.discounts[pair{doctorID, patientID}]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (m *Memory) ListTransactions(_ context.Context, id booking.PatientID, r booking.DateRange) ([]booking.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []booking.Transaction
	for _, t := range m.transactions[id] {
		if r.Contains(t.CreatedAt) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *Memory) Ping(context.Context) error { return nil }
func (m *Memory) Close() error               { return nil }

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
// The write lock is held for the whole unit, so units are serialized.
func (m *Memory) WithTx(ctx context.Context, fn func(booking.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.snapshot()
	if err := fn(&txView{parent: m}); err != nil {
		m.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	patients     map[booking.PatientID]booking.Patient
	appointments []booking.Appointment
	discounts    map[pair]booking.DiscountRecord
	transactions map[booking.PatientID][]booking.Transaction
}

func (m *Memory) snapshot() memorySnapshot {
	s := memorySnapshot{
		patients:     make(map[booking.PatientID]booking.Patient, len(m.patients)),
		appointments: append([]booking.Appointment{}, m.appointments...),
		discounts:    make(map[pair]booking.DiscountRecord, len(m.discounts)),
		transactions: make(map[booking.PatientID][]booking.Transaction, len(m.transactions)),
	}
	for k, v := range m.patients {
		s.patients[k] = v
	}
	for k, v := range m.discounts {
		s.discounts[k] = v
	}
	for k, v := range m.transactions {
		s.transactions[k] = append([]booking.Transaction{}, v...)
	}
	return s
}

func (m *Memory) restore(s memorySnapshot) {
	m.patients = s.patients
	m.appointments = s.appointments
	m.discounts = s.discounts
	m.transactions = s.transactions
}

// txView runs with the parent's write lock held; it must not lock again.
type txView struct {
	parent *Memory
}

func (tv *txView) fault(op string) error {
	if err, ok := tv.parent.faults[op]; ok {
		delete(tv.parent.faults, op)
		return err
	}
	return nil
}

func (tv *txView) GetDoctor(_ context.Context, id booking.DoctorID) (*booking.Doctor, error) {
	if err := tv.fault("GetDoctor"); err != nil {
		return nil, err
	}
	return tv.parent.doctorLocked(id)
}

func (tv *txView) LockPatient(_ context.Context, id booking.PatientID) (*booking.Patient, error) {
	if err := tv.fault("LockPatient"); err != nil {
		return nil, err
	}
	return tv.parent.patientLocked(id)
}

func (tv *txView) SetWalletBalance(_ context.Context, id booking.PatientID, balance decimal.Decimal) error {
	if err := tv.fault("SetWalletBalance"); err != nil {
		return err
	}
	p, ok := tv.parent.patients[id]
	if !ok {
		return booking.ErrPatientNotFound
	}
	p.WalletBalance = balance
	tv.parent.patients[id] = p
	return nil
}

func (tv *txView) AppendTransaction(_ context.Context, t booking.Transaction) error {
	if err := tv.fault("AppendTransaction"); err != nil {
		return err
	}
	tv.parent.transactions[t.PatientID] = append(tv.parent.transactions[t.PatientID], t)
	return nil
}

func (tv *txView) InsertDiscountRecord(_ context.Context, r booking.DiscountRecord) (bool, error) {
	if err := tv.fault("InsertDiscountRecord"); err != nil {
		return false, err
	}
	k := pair{r.DoctorID, r.PatientID}
	if _, exists := tv.parent.discounts[k]; exists {
		return false, nil
	}
	tv.parent.discounts[k] = r
	return true, nil
}

func (tv *txView) SlotTaken(_ context.Context, doctorID booking.DoctorID, at time.Time) (bool, error) {
	if err := tv.fault("SlotTaken"); err != nil {
		return false, err
	}
	return tv.parent.slotTakenLocked(doctorID, at), nil
}

func (tv *txView) InsertAppointment(_ context.Context, a booking.Appointment) error {
	if err := tv.fault("InsertAppointment"); err != nil {
		return err
	}
	if a.Status != booking.StatusCancelled && tv.parent.slotTakenLocked(a.DoctorID, a.DateTime) {
		return booking.ErrSlotConflict
	}
	tv.parent.appointments = append(tv.parent.appointments, a)
	return nil
}

func (m *Memory) slotTakenLocked(doctorID booking.DoctorID, at time.Time) bool {
	for _, a := range m.appointments {
		if a.DoctorID == doctorID && a.Status != booking.StatusCancelled && a.DateTime.Equal(at) {
			return true
		}
	}
	return false
}
