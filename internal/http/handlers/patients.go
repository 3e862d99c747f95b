package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/wolfman30/clinic-queue/internal/queue"
	"github.com/wolfman30/clinic-queue/internal/tenancy"
	"github.com/wolfman30/clinic-queue/pkg/logging"
)

// PatientService is the slice of the queue engine the patient routes drive.
type PatientService interface {
	AddPatient(ctx context.Context, actor tenancy.Actor, np queue.NewPatient) (*queue.Patient, *queue.Appointment, error)
	BookAppointment(ctx context.Context, actor tenancy.Actor, patientID uuid.UUID, b queue.Booking) (*queue.Appointment, error)
	ToggleSpecialCategory(ctx context.Context, actor tenancy.Actor, patientID uuid.UUID) (bool, error)
	SearchPatients(ctx context.Context, actor tenancy.Actor, q queue.PatientSearch) (*queue.PatientPage, error)
}

// PatientHandler serves /api/patients.
type PatientHandler struct {
	svc    PatientService
	logger *logging.Logger
}

// NewPatientHandler creates a patient handler.
func NewPatientHandler(svc PatientService, logger *logging.Logger) *PatientHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &PatientHandler{svc: svc, logger: logger}
}

type registerRequest struct {
	Name            string `json:"name"`
	MobileNumber    string `json:"mobileNumber"`
	Address         string `json:"address"`
	Email           string `json:"email"`
	Age             int    `json:"age"`
	Gender          string `json:"gender"`
	Reason          string `json:"reason"`
	Process         string `json:"process"`
	Date            string `json:"date"`
	AppointmentTime string `json:"appointmentTime"`
	DateOfBirth     string `json:"dateOfBirth"`
	BloodGroup      string `json:"bloodGroup"`
	ReferredBy      string `json:"referredBy"`
}

// Register adds a patient and books their first appointment.
// POST /api/patients
func (h *PatientHandler) Register(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrReject(w, r)
	if !ok {
		return
	}
	var req registerRequest
	if err := decodeBody(r, &req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	day, err := parseDay(req.Date)
	if err != nil || day == nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "A valid date is required", Reason: queue.ReasonDateInPast})
		return
	}
	patient, appt, err := h.svc.AddPatient(r.Context(), actor, queue.NewPatient{
		Name:       req.Name,
		Gender:     req.Gender,
		Age:        req.Age,
		ReferredBy: req.ReferredBy,
		Profile: queue.Profile{
			MobileNumber: req.MobileNumber,
			Email:        req.Email,
			Address:      req.Address,
			DateOfBirth:  req.DateOfBirth,
			BloodGroup:   req.BloodGroup,
		},
		Booking: queue.Booking{Reason: req.Reason, Process: req.Process, Date: *day, Time: req.AppointmentTime},
	})
	if err != nil {
		writeQueueError(w, h.logger, "add_patient", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"message":     "Patient registered successfully",
		"patient":     patient,
		"appointment": appt,
	})
}

type bookingRequest struct {
	Reason          string `json:"reason"`
	Process         string `json:"process"`
	Date            string `json:"date"`
	AppointmentTime string `json:"appointmentTime"`
}

// Book books another appointment for an existing patient.
// POST /api/patients/{id}/appointments
func (h *PatientHandler) Book(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrReject(w, r)
	if !ok {
		return
	}
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	var req bookingRequest
	if err := decodeBody(r, &req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	day, err := parseDay(req.Date)
	if err != nil || day == nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "A valid date is required", Reason: queue.ReasonDateInPast})
		return
	}
	a, err := h.svc.BookAppointment(r.Context(), actor, id, queue.Booking{
		Reason: req.Reason, Process: req.Process, Date: *day, Time: req.AppointmentTime,
	})
	if err != nil {
		writeQueueError(w, h.logger, "book_appointment", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"message": "Appointment booked successfully", "appointment": a})
}

// ToggleSpecialCategory flips the patient's special-category flag.
// PATCH /api/patients/{id}/special-category
func (h *PatientHandler) ToggleSpecialCategory(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrReject(w, r)
	if !ok {
		return
	}
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	flag, err := h.svc.ToggleSpecialCategory(r.Context(), actor, id)
	if err != nil {
		writeQueueError(w, h.logger, "toggle_special_category", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"special_category": flag})
}

// Search finds patients by name, mobile number or patient code.
// GET /api/patients/search?searchTerm=&date=&page=&limit=
func (h *PatientHandler) Search(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrReject(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	day, err := parseDay(q.Get("date"))
	if err != nil {
		jsonError(w, "invalid date", http.StatusBadRequest)
		return
	}
	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	result, err := h.svc.SearchPatients(r.Context(), actor, queue.PatientSearch{
		Term: q.Get("searchTerm"), Date: day, Page: page, Limit: limit,
	})
	if err != nil {
		writeQueueError(w, h.logger, "search_patients", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
