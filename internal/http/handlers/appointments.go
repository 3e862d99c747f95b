package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/clinic-queue/internal/queue"
	"github.com/wolfman30/clinic-queue/internal/tenancy"
	"github.com/wolfman30/clinic-queue/pkg/logging"
)

// AppointmentService is the slice of the queue engine the appointment
// routes drive.
type AppointmentService interface {
	SetStatus(ctx context.Context, actor tenancy.Actor, id uuid.UUID, target queue.Status) (*queue.Appointment, error)
	FirstAppointment(ctx context.Context, actor tenancy.Actor) (*queue.Appointment, error)
	Cancel(ctx context.Context, actor tenancy.Actor, id uuid.UUID) (*queue.Appointment, error)
	Reschedule(ctx context.Context, actor tenancy.Actor, id uuid.UUID, r queue.Reschedule) (*queue.Appointment, error)
	Submit(ctx context.Context, actor tenancy.Actor, id uuid.UUID, s queue.Submission) (*queue.Appointment, error)
	AddParameters(ctx context.Context, actor tenancy.Actor, id uuid.UUID, params json.RawMessage) error
	AddPaymentMode(ctx context.Context, actor tenancy.Actor, id uuid.UUID, mode queue.PaymentMode) error
	SubmitPrescription(ctx context.Context, actor tenancy.Actor, id uuid.UUID, prescription json.RawMessage) error
	AddPrescription(ctx context.Context, actor tenancy.Actor, id uuid.UUID, dataURI string) error
	Document(ctx context.Context, actor tenancy.Actor, id uuid.UUID) (string, error)
	PatientHistory(ctx context.Context, actor tenancy.Actor, patientID uuid.UUID) (*queue.PatientHistory, error)
	TodaysAppointments(ctx context.Context, actor tenancy.Actor, day *time.Time, term string) (*queue.DaySheet, error)
}

// AppointmentHandler serves /api/appointments.
type AppointmentHandler struct {
	svc    AppointmentService
	logger *logging.Logger
}

// NewAppointmentHandler creates an appointment handler.
func NewAppointmentHandler(svc AppointmentService, logger *logging.Logger) *AppointmentHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &AppointmentHandler{svc: svc, logger: logger}
}

type statusRequest struct {
	Status string `json:"status"`
}

// SetCurrent moves an appointment through the queue.
// PUT /api/appointments/set-current-appointment/{id}
func (h *AppointmentHandler) SetCurrent(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrReject(w, r)
	if !ok {
		return
	}
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	var req statusRequest
	if err := decodeBody(r, &req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	status, err := queue.ParseStatus(req.Status)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "Invalid status", Reason: queue.ReasonInvalidStatus})
		return
	}
	a, err := h.svc.SetStatus(r.Context(), actor, id, status)
	if err != nil {
		writeQueueError(w, h.logger, "set_status", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Appointment status updated", "appointment": a})
}

// Current returns the head of today's queue for the caller's role.
// GET /api/appointments/current-appointment
func (h *AppointmentHandler) Current(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrReject(w, r)
	if !ok {
		return
	}
	a, err := h.svc.FirstAppointment(r.Context(), actor)
	if err != nil {
		writeQueueError(w, h.logger, "first_appointment", err)
		return
	}
	if a == nil {
		writeJSON(w, http.StatusOK, map[string]any{"message": "No appointments found", "appointment": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"appointment": a})
}

// Cancel cancels a pending appointment.
// PATCH /api/appointments/cancel/{appointmentId}
func (h *AppointmentHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrReject(w, r)
	if !ok {
		return
	}
	id, ok := idParam(w, r, "appointmentId")
	if !ok {
		return
	}
	a, err := h.svc.Cancel(r.Context(), actor, id)
	if err != nil {
		writeQueueError(w, h.logger, "cancel", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Appointment cancelled successfully", "appointment": a})
}

type rescheduleRequest struct {
	Date            string `json:"date"`
	Process         string `json:"process"`
	AppointmentTime string `json:"appointmentTime"`
}

// Reschedule moves a pending appointment to another day.
// PATCH /api/appointments/re-schedule/{appointmentId}
func (h *AppointmentHandler) Reschedule(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrReject(w, r)
	if !ok {
		return
	}
	id, ok := idParam(w, r, "appointmentId")
	if !ok {
		return
	}
	var req rescheduleRequest
	if err := decodeBody(r, &req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	day, err := parseDay(req.Date)
	if err != nil || day == nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "A valid date is required", Reason: queue.ReasonDateInPast})
		return
	}
	a, err := h.svc.Reschedule(r.Context(), actor, id, queue.Reschedule{Date: *day, Process: req.Process, Time: req.AppointmentTime})
	if err != nil {
		writeQueueError(w, h.logger, "reschedule", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Appointment rescheduled successfully", "appointment": a})
}

type submitRequest struct {
	FollowUp        string          `json:"followUp"`
	Note            string          `json:"note"`
	Fees            int64           `json:"fees"`
	ExtraFees       int64           `json:"extraFees"`
	Investigation   string          `json:"investigation"`
	ChiefComplaints string          `json:"chiefComplaints"`
	Diagnosis       string          `json:"diagnosis"`
	Prescription    json.RawMessage `json:"prescription"`
}

// Submit closes out a visit.
// PUT /api/appointments/submit-appointment/{id}
func (h *AppointmentHandler) Submit(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrReject(w, r)
	if !ok {
		return
	}
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	var req submitRequest
	if err := decodeBody(r, &req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	followUp, err := parseDay(req.FollowUp)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "Invalid follow-up date", Reason: queue.ReasonInvalidFollowUp})
		return
	}
	a, err := h.svc.Submit(r.Context(), actor, id, queue.Submission{
		FollowUp:        followUp,
		Note:            req.Note,
		Fees:            req.Fees,
		ExtraFees:       req.ExtraFees,
		Investigation:   req.Investigation,
		ChiefComplaints: req.ChiefComplaints,
		Diagnosis:       req.Diagnosis,
		Prescription:    req.Prescription,
	})
	if err != nil {
		writeQueueError(w, h.logger, "submit", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Appointment submitted successfully", "appointment": a})
}

// Parameters overwrites the vitals recorded for a visit.
// PUT /api/appointments/parameters/{id}
func (h *AppointmentHandler) Parameters(w http.ResponseWriter, r *http.Request) {
	h.rawField(w, r, "parameters", "Parameters updated successfully", h.svc.AddParameters)
}

// SubmitPrescription overwrites the structured prescription.
// POST /api/appointments/submit-prescription/{id}
func (h *AppointmentHandler) SubmitPrescription(w http.ResponseWriter, r *http.Request) {
	h.rawField(w, r, "prescription", "Prescription submitted successfully", h.svc.SubmitPrescription)
}

func (h *AppointmentHandler) rawField(w http.ResponseWriter, r *http.Request, field, okMsg string,
	apply func(context.Context, tenancy.Actor, uuid.UUID, json.RawMessage) error) {
	actor, ok := actorOrReject(w, r)
	if !ok {
		return
	}
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	var body map[string]json.RawMessage
	if err := decodeBody(r, &body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := apply(r.Context(), actor, id, body[field]); err != nil {
		writeQueueError(w, h.logger, field, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": okMsg})
}

type paymentModeRequest struct {
	PaymentMode string `json:"paymentMode"`
}

// PaymentMode records how a visit was settled.
// POST /api/appointments/payment-mode/{id}
func (h *AppointmentHandler) PaymentMode(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrReject(w, r)
	if !ok {
		return
	}
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	var req paymentModeRequest
	if err := decodeBody(r, &req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.svc.AddPaymentMode(r.Context(), actor, id, queue.PaymentMode(req.PaymentMode)); err != nil {
		writeQueueError(w, h.logger, "payment_mode", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Payment mode updated successfully"})
}

type prescriptionRequest struct {
	Base64Image string `json:"base64Image"`
}

// Prescription attaches a scanned prescription document.
// POST /api/appointments/prescription/{id}
func (h *AppointmentHandler) Prescription(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrReject(w, r)
	if !ok {
		return
	}
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	var req prescriptionRequest
	if err := decodeBody(r, &req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Base64Image == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "No prescription uploaded", Reason: queue.ReasonInvalidDocument})
		return
	}
	if err := h.svc.AddPrescription(r.Context(), actor, id, req.Base64Image); err != nil {
		writeQueueError(w, h.logger, "add_prescription", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Prescription uploaded successfully"})
}

// Document returns the decrypted prescription document as a data URI.
// GET /api/appointments/document/{id}
func (h *AppointmentHandler) Document(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrReject(w, r)
	if !ok {
		return
	}
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	doc, err := h.svc.Document(r.Context(), actor, id)
	if err != nil {
		writeQueueError(w, h.logger, "document", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"document": doc})
}

// PatientHistory returns every visit of one patient.
// GET /api/appointments/patient-appointments/{id}
func (h *AppointmentHandler) PatientHistory(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrReject(w, r)
	if !ok {
		return
	}
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	history, err := h.svc.PatientHistory(r.Context(), actor, id)
	if err != nil {
		writeQueueError(w, h.logger, "patient_history", err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

// Today lists a day's appointments.
// GET /api/appointments/todays-appointments?date=&searchTerm=
func (h *AppointmentHandler) Today(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrReject(w, r)
	if !ok {
		return
	}
	day, err := parseDay(r.URL.Query().Get("date"))
	if err != nil {
		jsonError(w, "invalid date", http.StatusBadRequest)
		return
	}
	sheet, err := h.svc.TodaysAppointments(r.Context(), actor, day, r.URL.Query().Get("searchTerm"))
	if err != nil {
		writeQueueError(w, h.logger, "todays_appointments", err)
		return
	}
	writeJSON(w, http.StatusOK, sheet)
}
