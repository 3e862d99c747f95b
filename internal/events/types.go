// Package events defines the live notifications pushed to clinic terminals.
// Notifications are ephemeral: they are never persisted and are delivered at
// most once per connection.
package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Type is the wire name of a notification.
type Type string

const (
	TypeNewAppointment        Type = "newAppointment"
	TypeAppointmentUpdated    Type = "appointmentUpdated"
	TypeUpdatedAppointment    Type = "updatedAppointment"
	TypeCancelAppointment     Type = "cancelAppointment"
	TypeRescheduleAppointment Type = "rescheduleAppointment"
	TypeParametersUpdated     Type = "parametersUpdated"
)

// Notification is one event bound to its owning tenant. TenantID is routing
// metadata and is not part of the wire payload.
type Notification struct {
	TenantID   uuid.UUID `json:"-"`
	Type       Type      `json:"event"`
	Data       any       `json:"data,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Encode renders the wire form.
func (n Notification) Encode() ([]byte, error) {
	return json.Marshal(n)
}

// PatientSummary identifies the patient on a terminal.
type PatientSummary struct {
	ID   string `json:"id"`
	Code string `json:"patient_code"`
	Name string `json:"name"`
}

// AppointmentSnapshot is the queue view of an appointment.
type AppointmentSnapshot struct {
	ID      string          `json:"id"`
	Number  int             `json:"appointment_number"`
	Date    string          `json:"date"`
	Time    string          `json:"appointment_time,omitempty"`
	Process string          `json:"process,omitempty"`
	Reason  string          `json:"reason,omitempty"`
	Status  string          `json:"status,omitempty"`
	Patient *PatientSummary `json:"patient,omitempty"`
}

// SubmissionSummary is pushed after a doctor submits an appointment.
type SubmissionSummary struct {
	AppointmentID string          `json:"appointment_id"`
	Fees          int64           `json:"fees"`
	ExtraFees     int64           `json:"extra_fees"`
	FollowUp      string          `json:"follow_up,omitempty"`
	Note          string          `json:"note,omitempty"`
	Prescription  json.RawMessage `json:"prescription,omitempty"`
}

// ParametersChange carries newly recorded vitals.
type ParametersChange struct {
	AppointmentID string          `json:"appointment_id"`
	Parameters    json.RawMessage `json:"parameters"`
}

func newNotification(tenantID uuid.UUID, t Type, data any, at time.Time) Notification {
	return Notification{TenantID: tenantID, Type: t, Data: data, OccurredAt: at.UTC()}
}

func AppointmentBooked(tenantID uuid.UUID, a AppointmentSnapshot, at time.Time) Notification {
	return newNotification(tenantID, TypeNewAppointment, a, at)
}

func StatusChanged(tenantID uuid.UUID, a AppointmentSnapshot, at time.Time) Notification {
	return newNotification(tenantID, TypeAppointmentUpdated, a, at)
}

func AppointmentSubmitted(tenantID uuid.UUID, s SubmissionSummary, at time.Time) Notification {
	return newNotification(tenantID, TypeUpdatedAppointment, s, at)
}

func AppointmentCancelled(tenantID uuid.UUID, a AppointmentSnapshot, at time.Time) Notification {
	return newNotification(tenantID, TypeCancelAppointment, a, at)
}

func AppointmentRescheduled(tenantID uuid.UUID, a AppointmentSnapshot, at time.Time) Notification {
	return newNotification(tenantID, TypeRescheduleAppointment, a, at)
}

func ParametersUpdated(tenantID uuid.UUID, p ParametersChange, at time.Time) Notification {
	return newNotification(tenantID, TypeParametersUpdated, p, at)
}
