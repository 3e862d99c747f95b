package queue

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/clinic-queue/internal/events"
	"github.com/wolfman30/clinic-queue/internal/scheduling"
)

// Appointment is one visit in a tenant's queue.
type Appointment struct {
	ID              uuid.UUID       `json:"id"`
	TenantID        uuid.UUID       `json:"tenant_id"`
	PatientID       uuid.UUID       `json:"patient_id"`
	Number          int             `json:"appointment_number"`
	Date            time.Time       `json:"-"`
	Time            string          `json:"appointment_time,omitempty"`
	Reason          string          `json:"reason,omitempty"`
	Process         string          `json:"process,omitempty"`
	Status          Status          `json:"status"`
	Fees            int64           `json:"fees"`
	ExtraFees       int64           `json:"extra_fees"`
	FollowUp        *time.Time      `json:"-"`
	Note            string          `json:"note,omitempty"`
	Investigation   string          `json:"investigation,omitempty"`
	ChiefComplaints string          `json:"chief_complaints,omitempty"`
	Diagnosis       string          `json:"diagnosis,omitempty"`
	Prescription    json.RawMessage `json:"prescription,omitempty"`
	Parameters      json.RawMessage `json:"parameters,omitempty"`
	PaymentMode     PaymentMode     `json:"payment_mode,omitempty"`
	HasDocument     bool            `json:"has_document"`
	CreatedAt       time.Time       `json:"created_at"`

	PatientCode string `json:"patient_code,omitempty"`
	PatientName string `json:"patient_name,omitempty"`

	document string
}

// MarshalJSON renders calendar days in the wire date layout.
func (a Appointment) MarshalJSON() ([]byte, error) {
	type plain Appointment
	out := struct {
		plain
		Date     string `json:"date"`
		FollowUp string `json:"follow_up,omitempty"`
	}{plain: plain(a), Date: a.Date.Format(scheduling.DateLayout)}
	if a.FollowUp != nil {
		out.FollowUp = a.FollowUp.Format(scheduling.DateLayout)
	}
	return json.Marshal(out)
}

func (a *Appointment) snapshot() events.AppointmentSnapshot {
	s := events.AppointmentSnapshot{
		ID:      a.ID.String(),
		Number:  a.Number,
		Date:    a.Date.Format(scheduling.DateLayout),
		Time:    a.Time,
		Process: a.Process,
		Reason:  a.Reason,
		Status:  string(a.Status),
	}
	if a.PatientCode != "" || a.PatientName != "" {
		s.Patient = &events.PatientSummary{ID: a.PatientID.String(), Code: a.PatientCode, Name: a.PatientName}
	}
	return s
}

// Visit is an appointment with its prescription document opened.
type Visit struct {
	Appointment Appointment `json:"appointment"`
	Document    string      `json:"document,omitempty"`
}

// PatientHistory is a patient with every visit on record, newest first.
type PatientHistory struct {
	Patient Patient `json:"patient"`
	Visits  []Visit `json:"visits"`
}

// Patient is a registered patient. Contact details are held only in the
// encrypted profile and returned decrypted on reads.
type Patient struct {
	ID              uuid.UUID `json:"id"`
	TenantID        uuid.UUID `json:"tenant_id"`
	Code            string    `json:"patient_code"`
	Name            string    `json:"name"`
	Gender          string    `json:"gender,omitempty"`
	Age             int       `json:"age,omitempty"`
	ReferredBy      string    `json:"referred_by,omitempty"`
	SpecialCategory bool      `json:"special_category"`
	Profile         Profile   `json:"profile"`
	CreatedAt       time.Time `json:"created_at"`
}

// Profile is the sensitive part of a patient record.
type Profile struct {
	MobileNumber string `json:"mobile_number,omitempty"`
	Email        string `json:"email,omitempty"`
	Address      string `json:"address,omitempty"`
	DateOfBirth  string `json:"date_of_birth,omitempty"`
	BloodGroup   string `json:"blood_group,omitempty"`
}

// NewPatient registers a patient together with their first appointment.
type NewPatient struct {
	Name       string
	Gender     string
	Age        int
	ReferredBy string
	Profile    Profile
	Booking    Booking
}

// Booking describes an appointment to create.
type Booking struct {
	Reason  string
	Process string
	Date    time.Time
	Time    string
}

// Reschedule moves a pending appointment.
type Reschedule struct {
	Date    time.Time
	Process string
	Time    string
}

// Submission is the doctor's close-out of a visit.
type Submission struct {
	FollowUp        *time.Time
	Note            string
	Fees            int64
	ExtraFees       int64
	Investigation   string
	ChiefComplaints string
	Diagnosis       string
	Prescription    json.RawMessage
}

// PatientMatch is a search hit with the patient's latest appointment.
type PatientMatch struct {
	Patient     Patient     `json:"patient"`
	Appointment Appointment `json:"latest_appointment"`
}

// PatientSearch filters SearchPatients.
type PatientSearch struct {
	Term  string
	Date  *time.Time
	Page  int
	Limit int
}

// PatientPage is one page of search results.
type PatientPage struct {
	Matches []PatientMatch `json:"patients"`
	Total   int            `json:"total"`
	Page    int            `json:"page"`
	Limit   int            `json:"limit"`
}

// DaySheet is a tenant's appointment list for one day.
type DaySheet struct {
	Date         string        `json:"date"`
	Appointments []Appointment `json:"appointments"`
	Pending      int           `json:"pending"`
	Completed    int           `json:"completed"`
}
