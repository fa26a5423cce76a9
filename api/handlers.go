/*
handlers.go - HTTP API handlers for the consultation wallet service

PURPOSE:
  Exposes the booking engine, wallet ledger and financial reports via REST
  API. Handles HTTP request/response and JSON serialization, and delegates
  everything else to the booking and report packages.

ENDPOINTS:
  Appointments:
    POST   /api/appointments               Book a consultation
    GET    /api/appointments/{id}          Get appointment details
    PATCH  /api/appointments/{id}/status   Complete or cancel

  Wallet:
    POST   /api/patients/{id}/wallet/top-up  Credit the wallet
    GET    /api/patients/{id}/wallet         Balance and ledger

  Reports:
    GET    /api/reports/patients/{id}   ?start_date=&end_date=
    GET    /api/reports/doctors/{id}    ?start_date=&end_date=

  Admin:
    GET    /api/admin/audit             Replay every ledger against its wallet
    GET    /api/admin/audit/last        Latest scheduled audit report

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: invalid input, doctor unavailable, insufficient funds
  - 404: doctor, patient or appointment not found
  - 409: slot conflict, invalid status transition
  - 500: internal errors (details are logged, not returned)

SECURITY NOTE:
  No authentication or authorization. Identity is the caller's concern.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/warp/consult-wallet/booking"
	"github.com/warp/consult-wallet/report"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine  *booking.Engine
	Reports *report.Aggregator
	Auditor *booking.Auditor
	Log     *slog.Logger

	// Scheduler is optional; when set, LastAudit serves its latest report.
	Scheduler *AuditScheduler
}

// NewHandler wires handlers to a store through the engine, the report
// aggregator and the auditor.
func NewHandler(engine *booking.Engine, store booking.ReadStore, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		Engine:  engine,
		Reports: report.NewAggregator(store),
		Auditor: booking.NewAuditor(store, log),
		Log:     log,
	}
}

// =============================================================================
// APPOINTMENT HANDLERS
// =============================================================================

// BookAppointment books and pays for a consultation.
func (h *Handler) BookAppointment(w http.ResponseWriter, r *http.Request) {
	var req BookAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	result, err := h.Engine.Book(r.Context(), booking.BookingRequest{
		DoctorID:  booking.DoctorID(req.DoctorID),
		PatientID: booking.PatientID(req.PatientID),
		DateTime:  req.DateTime,
	})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toBookingDTO(result))
}

// GetAppointment returns a single appointment.
func (h *Handler) GetAppointment(w http.ResponseWriter, r *http.Request) {
	id := booking.AppointmentID(chi.URLParam(r, "id"))

	appt, err := h.Engine.Appointment(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toAppointmentDTO(*appt))
}

// UpdateAppointmentStatus completes or cancels a scheduled appointment.
func (h *Handler) UpdateAppointmentStatus(w http.ResponseWriter, r *http.Request) {
	id := booking.AppointmentID(chi.URLParam(r, "id"))

	var req UpdateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	appt, err := h.Engine.Transition(r.Context(), id, booking.AppointmentStatus(strings.ToLower(req.Status)))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toAppointmentDTO(*appt))
}

// =============================================================================
// WALLET HANDLERS
// =============================================================================

// TopUpWallet credits a patient's wallet.
func (h *Handler) TopUpWallet(w http.ResponseWriter, r *http.Request) {
	patientID := booking.PatientID(chi.URLParam(r, "id"))

	var req TopUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	result, err := h.Engine.TopUp(r.Context(), patientID, req.Amount, req.Description)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, TopUpDTO{
		WalletBalance: result.WalletBalance.InexactFloat64(),
		Transaction:   toTransactionDTO(result.Transaction),
	})
}

// GetWallet returns the balance and the ledger in creation order.
func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	patientID := booking.PatientID(chi.URLParam(r, "id"))

	patient, txs, err := h.Engine.Wallet(r.Context(), patientID)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, WalletDTO{
		PatientID:     string(patient.ID),
		PatientName:   patient.Name,
		WalletBalance: patient.WalletBalance.InexactFloat64(),
		Transactions:  toTransactionDTOs(txs),
	})
}

// =============================================================================
// REPORT HANDLERS
// =============================================================================

// PatientReport returns the patient financial report.
func (h *Handler) PatientReport(w http.ResponseWriter, r *http.Request) {
	id := booking.PatientID(chi.URLParam(r, "id"))

	rng, err := parseDateRange(r)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	rep, err := h.Reports.PatientReport(r.Context(), id, rng)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toPatientReportDTO(rep))
}

// DoctorReport returns the doctor financial report.
func (h *Handler) DoctorReport(w http.ResponseWriter, r *http.Request) {
	id := booking.DoctorID(chi.URLParam(r, "id"))

	rng, err := parseDateRange(r)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	rep, err := h.Reports.DoctorReport(r.Context(), id, rng)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toDoctorReportDTO(rep))
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// RunAudit replays every patient's ledger and reports divergences.
func (h *Handler) RunAudit(w http.ResponseWriter, r *http.Request) {
	rep, err := h.Auditor.AuditAll(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAuditDTO(rep))
}

// LastAudit returns the report of the most recent scheduled audit.
func (h *Handler) LastAudit(w http.ResponseWriter, r *http.Request) {
	if h.Scheduler == nil {
		writeError(w, http.StatusNotFound, "Audit scheduler is not running", nil)
		return
	}
	rep := h.Scheduler.LastReport()
	if rep == nil {
		writeError(w, http.StatusNotFound, "No audit has completed yet", nil)
		return
	}
	writeJSON(w, http.StatusOK, toAuditDTO(rep))
}

// =============================================================================
// HELPERS
// =============================================================================

const dateOnly = "2006-01-02"

// parseDateRange reads start_date and end_date. A bare date as end_date
// covers that whole day.
func parseDateRange(r *http.Request) (booking.DateRange, error) {
	var rng booking.DateRange
	q := r.URL.Query()

	if s := strings.TrimSpace(q.Get("start_date")); s != "" {
		t, err := parseBound(s, false)
		if err != nil {
			return rng, &booking.ValidationError{Field: "start_date", Reason: "must be YYYY-MM-DD or RFC3339"}
		}
		rng.From = &t
	}
	if s := strings.TrimSpace(q.Get("end_date")); s != "" {
		t, err := parseBound(s, true)
		if err != nil {
			return rng, &booking.ValidationError{Field: "end_date", Reason: "must be YYYY-MM-DD or RFC3339"}
		}
		rng.To = &t
	}
	if rng.From != nil && rng.To != nil && rng.From.After(*rng.To) {
		return rng, &booking.ValidationError{Field: "end_date", Reason: "must not be before start_date"}
	}
	return rng, nil
}

func parseBound(s string, endOfDay bool) (time.Time, error) {
	if t, err := time.Parse(dateOnly, s); err == nil {
		if endOfDay {
			return t.Add(24*time.Hour - time.Nanosecond), nil
		}
		return t, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// writeDomainError maps booking errors to HTTP status codes.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var funds *booking.InsufficientFundsError
	switch {
	case errors.As(err, &funds):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error: err.Error(),
			Code:  "insufficient_funds",
			Details: InsufficientFundsDetails{
				Required:  funds.Required.InexactFloat64(),
				Available: funds.Available.InexactFloat64(),
			},
		})
	case errors.Is(err, booking.ErrInvalidRequest):
		writeCodedError(w, http.StatusBadRequest, "invalid_request", err)
	case errors.Is(err, booking.ErrDoctorUnavailable):
		writeCodedError(w, http.StatusBadRequest, "doctor_unavailable", err)
	case errors.Is(err, booking.ErrNotFound):
		writeCodedError(w, http.StatusNotFound, "not_found", err)
	case errors.Is(err, booking.ErrSlotConflict):
		writeCodedError(w, http.StatusConflict, "slot_conflict", err)
	case errors.Is(err, booking.ErrInvalidTransition):
		writeCodedError(w, http.StatusConflict, "invalid_transition", err)
	default:
		h.Log.ErrorContext(r.Context(), "request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.Any("error", err))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error: "Internal server error",
			Code:  "internal",
		})
	}
}

func writeCodedError(w http.ResponseWriter, status int, code string, err error) {
	writeJSON(w, status, ErrorResponse{Error: err.Error(), Code: code})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
