// Package audit appends immutable audit records for every queue mutation.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/wolfman30/clinic-queue/internal/tenancy"
)

// Action names the audited operation.
type Action string

const (
	ActionAddPatient             Action = "Add patient"
	ActionBookAppointment        Action = "Book appointment"
	ActionAddParameters          Action = "Add parameters"
	ActionChangeParameters       Action = "Change parameters"
	ActionAddPrescription        Action = "Add prescription"
	ActionChangePrescription     Action = "Change prescription"
	ActionSubmitPrescription     Action = "Submit prescription"
	ActionUpdatePaymentMode      Action = "Update payment mode"
	ActionSubmitAppointment      Action = "Submit appointment"
	ActionResubmitAppointment    Action = "Re-submit appointment"
	ActionSetAppointmentIn       Action = "Set appointment in"
	ActionSetAppointmentOut      Action = "Set appointment out"
	ActionCancelAppointment      Action = "Cancel appointment"
	ActionRescheduleAppointment  Action = "Reschedule appointment"
	ActionSetSpecialCategory     Action = "Set patient special category"
	ActionUnsetSpecialCategory   Action = "Unset patient special category"
	ActionGetPatients            Action = "Get patients"
	ActionGetAppointments        Action = "Get appointments"
	ActionGetPatientAppointments Action = "Get patient appointments"
)

const (
	EntityPatient     = "Patient"
	EntityAppointment = "Appointment"

	ModulePatients     = "Patient Management"
	ModuleAppointments = "Appointment Management"

	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Execer is the write surface of the caller's transaction.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Entry is one audit record. OldValue and NewValue are masked before they are
// persisted.
type Entry struct {
	ID        uuid.UUID
	Action    Action
	Details   string
	Actor     tenancy.Actor
	Entity    string
	EntityID  uuid.UUID
	Status    string
	Module    string
	OldValue  any
	NewValue  any
	CreatedAt time.Time
}

// RequestInfo is the provenance attached to every entry.
type RequestInfo struct {
	Endpoint  string
	IPAddress string
	UserAgent string
	RequestID string
}

type requestInfoKey struct{}

// WithRequestInfo stores request provenance in ctx.
func WithRequestInfo(ctx context.Context, info RequestInfo) context.Context {
	return context.WithValue(ctx, requestInfoKey{}, info)
}

// RequestInfoFromContext returns the provenance stored by WithRequestInfo.
func RequestInfoFromContext(ctx context.Context) RequestInfo {
	info, _ := ctx.Value(requestInfoKey{}).(RequestInfo)
	return info
}

// Recorder writes entries through whichever Execer the caller supplies, so an
// entry commits if and only if the caller's transaction does.
type Recorder struct {
	now func() time.Time
}

// NewRecorder constructs a recorder.
func NewRecorder() *Recorder {
	return &Recorder{now: time.Now}
}

// WithClock overrides the timestamp source.
func (r *Recorder) WithClock(now func() time.Time) *Recorder {
	if now != nil {
		r.now = now
	}
	return r
}

// Record inserts e using q.
func (r *Recorder) Record(ctx context.Context, q Execer, e Entry) error {
	if e.Actor.IsZero() {
		return fmt.Errorf("audit: entry %q has no actor", e.Action)
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = r.now().UTC()
	}
	if e.Status == "" {
		e.Status = StatusSuccess
	}

	oldValue, err := encodeMasked(e.OldValue)
	if err != nil {
		return err
	}
	newValue, err := encodeMasked(e.NewValue)
	if err != nil {
		return err
	}

	var doctorID, receptionistID *uuid.UUID
	if id, ok := e.Actor.DoctorID(); ok {
		doctorID = &id
	}
	if id, ok := e.Actor.ReceptionistID(); ok {
		receptionistID = &id
	}
	var entityID *uuid.UUID
	if e.EntityID != uuid.Nil {
		entityID = &e.EntityID
	}

	info := RequestInfoFromContext(ctx)
	query := `
		INSERT INTO audit_logs (
			id, action, details, tenant_id, doctor_id, receptionist_id, role,
			entity, entity_id, status, module, old_value, new_value,
			endpoint, ip_address, user_agent, request_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`
	_, err = q.Exec(ctx, query,
		e.ID,
		string(e.Action),
		e.Details,
		e.Actor.TenantID(),
		doctorID,
		receptionistID,
		string(e.Actor.Role()),
		e.Entity,
		entityID,
		e.Status,
		e.Module,
		oldValue,
		newValue,
		nullString(info.Endpoint),
		nullString(info.IPAddress),
		nullString(info.UserAgent),
		nullString(info.RequestID),
		e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("audit: insert entry: %w", err)
	}
	return nil
}

func encodeMasked(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(Mask(v))
	if err != nil {
		return nil, fmt.Errorf("audit: encode value: %w", err)
	}
	return data, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
