/*
Package report folds ledger and appointment history into financial summaries.

PURPOSE:
  Read-only. Nothing here writes to the store or takes a lock, so a report
  may run alongside bookings and can miss one that is still in flight.

REPORTS:
  Patient: spend (sum of debits), discounts received, average discount per
           appointment, current wallet balance, plus both histories.
  Doctor:  earnings (sum of final fees), discount statistics, first-time
           patients, and a calendar-month trend over appointment dateTime.

FILTERS:
  Patient reports filter on creation time, doctor reports on appointment
  dateTime. Both bounds are optional and inclusive.

SEE ALSO:
  - booking/store.go: ReadStore
*/
package report

import (
	"context"
	"errors"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/warp/consult-wallet/booking"
)

// =============================================================================
// PATIENT REPORT
// =============================================================================

type PatientSummary struct {
	TotalAppointments             int
	TotalSpent                    decimal.Decimal
	TotalDiscountsReceived        decimal.Decimal
	AverageDiscountPerAppointment decimal.Decimal
	CurrentWalletBalance          decimal.Decimal
}

type PatientReport struct {
	PatientID          booking.PatientID
	PatientName        string
	Summary            PatientSummary
	AppointmentHistory []booking.AppointmentDetail // latest dateTime first
	TransactionHistory []booking.Transaction       // newest first
}

// =============================================================================
// DOCTOR REPORT
// =============================================================================

type DoctorSummary struct {
	TotalAppointments            int
	TotalEarnings                decimal.Decimal
	AverageEarningPerAppointment decimal.Decimal
	FirstTimePatients            int
}

type DiscountStats struct {
	TotalGiven         decimal.Decimal
	Average            decimal.Decimal
	FirstTimePatients  int
	DiscountPercentage decimal.Decimal
}

// MonthlyStat is one calendar month (UTC) of a doctor's appointments.
type MonthlyStat struct {
	Month        string // 2026-01
	Label        string // January 2026
	Appointments int
	Earnings     decimal.Decimal
	Discounts    decimal.Decimal
}

type DoctorReport struct {
	DoctorID           booking.DoctorID
	DoctorName         string
	Specialty          string
	Summary            DoctorSummary
	DiscountStats      DiscountStats
	Monthly            []MonthlyStat // oldest month first
	AppointmentHistory []booking.AppointmentDetail
}

// =============================================================================
// AGGREGATOR
// =============================================================================

type Aggregator struct {
	store booking.ReadStore
}

func NewAggregator(store booking.ReadStore) *Aggregator {
	return &Aggregator{store: store}
}

func (a *Aggregator) PatientReport(ctx context.Context, id booking.PatientID, r booking.DateRange) (*PatientReport, error) {
	patient, err := a.store.GetPatient(ctx, id)
	if err != nil {
		return nil, wrap("load patient", err)
	}
	appts, err := a.store.ListPatientAppointments(ctx, id, r)
	if err != nil {
		return nil, wrap("list appointments", err)
	}
	txs, err := a.store.ListTransactions(ctx, id, r)
	if err != nil {
		return nil, wrap("list transactions", err)
	}
	rep := SummarizePatient(*patient, appts, txs)
	return &rep, nil
}

func (a *Aggregator) DoctorReport(ctx context.Context, id booking.DoctorID, r booking.DateRange) (*DoctorReport, error) {
	doctor, err := a.store.GetDoctor(ctx, id)
	if err != nil {
		return nil, wrap("load doctor", err)
	}
	appts, err := a.store.ListDoctorAppointments(ctx, id, r)
	if err != nil {
		return nil, wrap("list appointments", err)
	}
	rep := SummarizeDoctor(*doctor, appts)
	return &rep, nil
}

// =============================================================================
// PURE FOLDS
// =============================================================================

// SummarizePatient builds a patient report from already-loaded history.
// The input slices are not modified.
func SummarizePatient(p booking.Patient, appts []booking.AppointmentDetail, txs []booking.Transaction) PatientReport {
	spent := decimal.Zero
	for _, t := range txs {
		if t.Type == booking.TxDebit {
			spent = spent.Add(t.Amount)
		}
	}
	discounts := decimal.Zero
	for _, a := range appts {
		discounts = discounts.Add(a.DiscountApplied)
	}

	return PatientReport{
		PatientID:   p.ID,
		PatientName: p.Name,
		Summary: PatientSummary{
			TotalAppointments:             len(appts),
			TotalSpent:                    spent,
			TotalDiscountsReceived:        discounts,
			AverageDiscountPerAppointment: average(discounts, len(appts)),
			CurrentWalletBalance:          p.WalletBalance,
		},
		AppointmentHistory: byDateTimeDesc(appts),
		TransactionHistory: newestFirst(txs),
	}
}

// SummarizeDoctor builds a doctor report from already-loaded appointments.
func SummarizeDoctor(d booking.Doctor, appts []booking.AppointmentDetail) DoctorReport {
	var (
		earnings  = decimal.Zero
		discounts = decimal.Zero
		firsts    int
		months    = make(map[string]*MonthlyStat)
	)
	for _, a := range appts {
		earnings = earnings.Add(a.FinalFee)
		discounts = discounts.Add(a.DiscountApplied)
		if a.IsFirstVisit {
			firsts++
		}

		at := a.DateTime.UTC()
		key := at.Format("2006-01")
		m, ok := months[key]
		if !ok {
			m = &MonthlyStat{
				Month:     key,
				Label:     at.Format("January 2006"),
				Earnings:  decimal.Zero,
				Discounts: decimal.Zero,
			}
			months[key] = m
		}
		m.Appointments++
		m.Earnings = m.Earnings.Add(a.FinalFee)
		m.Discounts = m.Discounts.Add(a.DiscountApplied)
	}

	monthly := make([]MonthlyStat, 0, len(months))
	for _, m := range months {
		monthly = append(monthly, *m)
	}
	sort.Slice(monthly, func(i, j int) bool { return monthly[i].Month < monthly[j].Month })

	return DoctorReport{
		DoctorID:   d.ID,
		DoctorName: d.Name,
		Specialty:  d.Specialty,
		Summary: DoctorSummary{
			TotalAppointments:            len(appts),
			TotalEarnings:                earnings,
			AverageEarningPerAppointment: average(earnings, len(appts)),
			FirstTimePatients:            firsts,
		},
		DiscountStats: DiscountStats{
			TotalGiven:         discounts,
			Average:            average(discounts, len(appts)),
			FirstTimePatients:  firsts,
			DiscountPercentage: d.DiscountPercentage,
		},
		Monthly:            monthly,
		AppointmentHistory: byDateTimeDesc(appts),
	}
}

// =============================================================================
// HELPERS
// =============================================================================

// average rounds to cents; zero when n is zero.
func average(total decimal.Decimal, n int) decimal.Decimal {
	if n == 0 {
		return decimal.Zero
	}
	return total.Div(decimal.NewFromInt(int64(n))).Round(2)
}

func byDateTimeDesc(appts []booking.AppointmentDetail) []booking.AppointmentDetail {
	out := append([]booking.AppointmentDetail(nil), appts...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].DateTime.After(out[j].DateTime) })
	return out
}

// newestFirst reverses a ledger that is in creation order.
func newestFirst(txs []booking.Transaction) []booking.Transaction {
	out := make([]booking.Transaction, len(txs))
	for i, t := range txs {
		out[len(txs)-1-i] = t
	}
	return out
}

func wrap(op string, err error) error {
	if booking.IsClientError(err) || errors.Is(err, booking.ErrInternal) {
		return err
	}
	return &booking.InternalError{Op: op, Err: err}
}
