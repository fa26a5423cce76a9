/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the booking domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

MONEY:
  Responses carry money as JSON numbers. Requests decode amounts straight
  into decimal.Decimal, so no float ever reaches the ledger.

TIMES:
  RFC3339 in UTC.

VALIDATION:
  Validation is done by the booking engine, not in DTOs. DTOs are pure data
  carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/consult-wallet/booking"
	"github.com/warp/consult-wallet/report"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// BookAppointmentRequest is the request to book a consultation.
type BookAppointmentRequest struct {
	DoctorID  string `json:"doctor_id"`
	PatientID string `json:"patient_id"`
	DateTime  string `json:"date_time"`
}

// UpdateStatusRequest moves an appointment to completed or cancelled.
type UpdateStatusRequest struct {
	Status string `json:"status"`
}

// TopUpRequest credits a wallet. Description is optional.
type TopUpRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description,omitempty"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// BookingDTO is returned after a successful booking.
type BookingDTO struct {
	AppointmentID          string  `json:"appointment_id"`
	TransactionID          string  `json:"transaction_id,omitempty"`
	DoctorName             string  `json:"doctor_name"`
	Specialty              string  `json:"specialty"`
	DateTime               string  `json:"date_time"`
	OriginalFee            float64 `json:"original_fee"`
	DiscountApplied        float64 `json:"discount_applied"`
	FinalFee               float64 `json:"final_fee"`
	IsFirstVisit           bool    `json:"is_first_visit"`
	WalletBalanceRemaining float64 `json:"wallet_balance_remaining"`
}

// AppointmentDTO represents an appointment with directory names.
type AppointmentDTO struct {
	ID              string  `json:"id"`
	DoctorID        string  `json:"doctor_id"`
	DoctorName      string  `json:"doctor_name,omitempty"`
	Specialty       string  `json:"specialty,omitempty"`
	PatientID       string  `json:"patient_id"`
	PatientName     string  `json:"patient_name,omitempty"`
	DateTime        string  `json:"date_time"`
	Status          string  `json:"status"`
	OriginalFee     float64 `json:"original_fee"`
	DiscountApplied float64 `json:"discount_applied"`
	FinalFee        float64 `json:"final_fee"`
	IsFirstVisit    bool    `json:"is_first_visit"`
	TransactionID   string  `json:"transaction_id,omitempty"`
	CreatedAt       string  `json:"created_at"`
}

// TransactionDTO represents a ledger transaction.
type TransactionDTO struct {
	ID            string  `json:"id"`
	AppointmentID string  `json:"appointment_id,omitempty"`
	Type          string  `json:"type"`
	Amount        float64 `json:"amount"`
	Description   string  `json:"description"`
	Balance       float64 `json:"balance"`
	CreatedAt     string  `json:"created_at"`
}

// TopUpDTO is returned after a wallet credit.
type TopUpDTO struct {
	WalletBalance float64        `json:"wallet_balance"`
	Transaction   TransactionDTO `json:"transaction"`
}

// WalletDTO is the current balance with the full ledger, oldest first.
type WalletDTO struct {
	PatientID     string           `json:"patient_id"`
	PatientName   string           `json:"patient_name"`
	WalletBalance float64          `json:"wallet_balance"`
	Transactions  []TransactionDTO `json:"transactions"`
}

// PatientReportDTO is the patient financial report.
type PatientReportDTO struct {
	PatientName        string            `json:"patient_name"`
	Summary            PatientSummaryDTO `json:"summary"`
	AppointmentHistory []AppointmentDTO  `json:"appointment_history"`
	TransactionHistory []TransactionDTO  `json:"transaction_history"`
}

type PatientSummaryDTO struct {
	TotalAppointments             int     `json:"total_appointments"`
	TotalSpent                    float64 `json:"total_spent"`
	TotalDiscountsReceived        float64 `json:"total_discounts_received"`
	AverageDiscountPerAppointment float64 `json:"average_discount_per_appointment"`
	CurrentWalletBalance          float64 `json:"current_wallet_balance"`
}

// DoctorReportDTO is the doctor financial report.
type DoctorReportDTO struct {
	DoctorName         string           `json:"doctor_name"`
	Specialty          string           `json:"specialty"`
	Summary            DoctorSummaryDTO `json:"summary"`
	DiscountStats      DiscountStatsDTO `json:"discount_stats"`
	MonthlyStats       []MonthlyStatDTO `json:"monthly_stats"`
	AppointmentHistory []AppointmentDTO `json:"appointment_history"`
}

type DoctorSummaryDTO struct {
	TotalAppointments            int     `json:"total_appointments"`
	TotalEarnings                float64 `json:"total_earnings"`
	AverageEarningPerAppointment float64 `json:"average_earning_per_appointment"`
	FirstTimePatients            int     `json:"first_time_patients"`
}

type DiscountStatsDTO struct {
	TotalDiscountsGiven           float64 `json:"total_discounts_given"`
	AverageDiscountPerAppointment float64 `json:"average_discount_per_appointment"`
	FirstTimePatients             int     `json:"first_time_patients"`
	DiscountPercentage            float64 `json:"discount_percentage"`
}

type MonthlyStatDTO struct {
	Month        string  `json:"month"`
	Label        string  `json:"label"`
	Appointments int     `json:"appointments"`
	Earnings     float64 `json:"earnings"`
	Discounts    float64 `json:"discounts"`
}

// AuditDTO is the result of a ledger audit run.
type AuditDTO struct {
	CheckedAt string               `json:"checked_at"`
	Patients  int                  `json:"patients"`
	OK        bool                 `json:"ok"`
	Divergent []AuditDivergenceDTO `json:"divergent"`
}

type AuditDivergenceDTO struct {
	PatientID     string  `json:"patient_id"`
	WalletBalance float64 `json:"wallet_balance"`
	LedgerBalance float64 `json:"ledger_balance"`
	Entries       int     `json:"entries"`
	Problem       string  `json:"problem"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// InsufficientFundsDetails is attached to 400 insufficient_funds errors.
type InsufficientFundsDetails struct {
	Required  float64 `json:"required"`
	Available float64 `json:"available"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func toBookingDTO(r *booking.BookingResult) BookingDTO {
	return BookingDTO{
		AppointmentID:          string(r.AppointmentID),
		TransactionID:          string(r.TransactionID),
		DoctorName:             r.DoctorName,
		Specialty:              r.Specialty,
		DateTime:               formatTime(r.DateTime),
		OriginalFee:            r.OriginalFee.InexactFloat64(),
		DiscountApplied:        r.DiscountApplied.InexactFloat64(),
		FinalFee:               r.FinalFee.InexactFloat64(),
		IsFirstVisit:           r.IsFirstVisit,
		WalletBalanceRemaining: r.WalletBalanceRemaining.InexactFloat64(),
	}
}

func toAppointmentDTO(a booking.AppointmentDetail) AppointmentDTO {
	return AppointmentDTO{
		ID:              string(a.ID),
		DoctorID:        string(a.DoctorID),
		DoctorName:      a.DoctorName,
		Specialty:       a.Specialty,
		PatientID:       string(a.PatientID),
		PatientName:     a.PatientName,
		DateTime:        formatTime(a.DateTime),
		Status:          string(a.Status),
		OriginalFee:     a.OriginalFee.InexactFloat64(),
		DiscountApplied: a.DiscountApplied.InexactFloat64(),
		FinalFee:        a.FinalFee.InexactFloat64(),
		IsFirstVisit:    a.IsFirstVisit,
		TransactionID:   string(a.TransactionID),
		CreatedAt:       formatTime(a.CreatedAt),
	}
}

func toAppointmentDTOs(appts []booking.AppointmentDetail) []AppointmentDTO {
	out := make([]AppointmentDTO, 0, len(appts))
	for _, a := range appts {
		out = append(out, toAppointmentDTO(a))
	}
	return out
}

func toTransactionDTO(t booking.Transaction) TransactionDTO {
	return TransactionDTO{
		ID:            string(t.ID),
		AppointmentID: string(t.AppointmentID),
		Type:          string(t.Type),
		Amount:        t.Amount.InexactFloat64(),
		Description:   t.Description,
		Balance:       t.Balance.InexactFloat64(),
		CreatedAt:     formatTime(t.CreatedAt),
	}
}

func toTransactionDTOs(txs []booking.Transaction) []TransactionDTO {
	out := make([]TransactionDTO, 0, len(txs))
	for _, t := range txs {
		out = append(out, toTransactionDTO(t))
	}
	return out
}

func toPatientReportDTO(r *report.PatientReport) PatientReportDTO {
	return PatientReportDTO{
		PatientName: r.PatientName,
		Summary: PatientSummaryDTO{
			TotalAppointments:             r.Summary.TotalAppointments,
			TotalSpent:                    r.Summary.TotalSpent.InexactFloat64(),
			TotalDiscountsReceived:        r.Summary.TotalDiscountsReceived.InexactFloat64(),
			AverageDiscountPerAppointment: r.Summary.AverageDiscountPerAppointment.InexactFloat64(),
			CurrentWalletBalance:          r.Summary.CurrentWalletBalance.InexactFloat64(),
		},
		AppointmentHistory: toAppointmentDTOs(r.AppointmentHistory),
		TransactionHistory: toTransactionDTOs(r.TransactionHistory),
	}
}

func toDoctorReportDTO(r *report.DoctorReport) DoctorReportDTO {
	monthly := make([]MonthlyStatDTO, 0, len(r.Monthly))
	for _, m := range r.Monthly {
		monthly = append(monthly, MonthlyStatDTO{
			Month:        m.Month,
			Label:        m.Label,
			Appointments: m.Appointments,
			Earnings:     m.Earnings.InexactFloat64(),
			Discounts:    m.Discounts.InexactFloat64(),
		})
	}
	return DoctorReportDTO{
		DoctorName: r.DoctorName,
		Specialty:  r.Specialty,
		Summary: DoctorSummaryDTO{
			TotalAppointments:            r.Summary.TotalAppointments,
			TotalEarnings:                r.Summary.TotalEarnings.InexactFloat64(),
			AverageEarningPerAppointment: r.Summary.AverageEarningPerAppointment.InexactFloat64(),
			FirstTimePatients:            r.Summary.FirstTimePatients,
		},
		DiscountStats: DiscountStatsDTO{
			TotalDiscountsGiven:           r.DiscountStats.TotalGiven.InexactFloat64(),
			AverageDiscountPerAppointment: r.DiscountStats.Average.InexactFloat64(),
			FirstTimePatients:             r.DiscountStats.FirstTimePatients,
			DiscountPercentage:            r.DiscountStats.DiscountPercentage.InexactFloat64(),
		},
		MonthlyStats:       monthly,
		AppointmentHistory: toAppointmentDTOs(r.AppointmentHistory),
	}
}

func toAuditDTO(r *booking.AuditReport) AuditDTO {
	out := AuditDTO{
		CheckedAt: formatTime(r.CheckedAt),
		Patients:  r.Patients,
		OK:        r.OK(),
		Divergent: make([]AuditDivergenceDTO, 0, len(r.Divergent)),
	}
	for _, d := range r.Divergent {
		out.Divergent = append(out.Divergent, AuditDivergenceDTO{
			PatientID:     string(d.PatientID),
			WalletBalance: d.WalletBalance.InexactFloat64(),
			LedgerBalance: d.LedgerBalance.InexactFloat64(),
			Entries:       d.Entries,
			Problem:       d.Problem,
		})
	}
	return out
}
