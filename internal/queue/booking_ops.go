package queue

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/wolfman30/clinic-queue/internal/audit"
	"github.com/wolfman30/clinic-queue/internal/events"
	"github.com/wolfman30/clinic-queue/internal/scheduling"
	"github.com/wolfman30/clinic-queue/internal/tenancy"
)

// BookAppointment books a pending appointment for an existing patient. The
// tenant row is locked for the per-day ordinal and the patient row for the
// same-day collision check.
func (e *Engine) BookAppointment(ctx context.Context, actor tenancy.Actor, patientID uuid.UUID, b Booking) (*Appointment, error) {
	var result *Appointment
	var today bool
	err := e.command(ctx, "book_appointment", actor, func(ctx context.Context) error {
		if b.Date.IsZero() {
			return validation(ReasonDateInPast, "Appointment date is required")
		}
		return e.inTx(ctx, func(tx pgx.Tx) error {
			tenantID := actor.TenantID()
			t, err := loadTenant(ctx, tx, tenantID, true)
			if err != nil {
				return err
			}
			now := e.today(t)
			if scheduling.IsPast(b.Date, now) {
				return validation(ReasonDateInPast, "Appointment date cannot be in the past")
			}
			p, err := lockPatient(ctx, tx, tenantID, patientID)
			if err != nil {
				return err
			}

			a, err := e.book(ctx, tx, tenantID, p, b)
			if err != nil {
				return err
			}
			if err := e.record(ctx, tx, audit.Entry{
				Action:   audit.ActionBookAppointment,
				Details:  fmt.Sprintf("Booked appointment ID %s for patient %s", a.ID, p.code),
				Actor:    actor,
				Entity:   audit.EntityAppointment,
				EntityID: a.ID,
				Module:   audit.ModuleAppointments,
				NewValue: map[string]any{
					"id":                 a.ID.String(),
					"appointment_number": a.Number,
					"date":               a.Date.Format(scheduling.DateLayout),
					"time":               a.Time,
					"process":            a.Process,
				},
			}); err != nil {
				return err
			}
			result = a
			today = scheduling.SameDay(a.Date, now)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if today {
		e.publish(events.AppointmentBooked(actor.TenantID(), result.snapshot(), e.now()))
	}
	return result, nil
}

// book inserts a pending appointment for p after the collision check. The
// caller holds the tenant and patient locks.
func (e *Engine) book(ctx context.Context, tx pgx.Tx, tenantID uuid.UUID, p patientRow, b Booking) (*Appointment, error) {
	clash, err := e.checker.HasConflict(ctx, tx, p.id, b.Date, uuid.Nil)
	if err != nil {
		return nil, infra("check date conflict", err)
	}
	if clash {
		return nil, conflict(ReasonDateConflict, "Patient already has an appointment on this date")
	}
	fee, err := feeFor(ctx, tx, tenantID, b.Reason)
	if err != nil {
		return nil, err
	}
	number, err := e.checker.NextOrdinal(ctx, tx, tenantID, b.Date)
	if err != nil {
		return nil, infra("next ordinal", err)
	}

	a := &Appointment{
		ID:          uuid.New(),
		TenantID:    tenantID,
		PatientID:   p.id,
		Number:      number,
		Date:        b.Date,
		Time:        b.Time,
		Reason:      b.Reason,
		Process:     b.Process,
		Status:      StatusPending,
		Fees:        fee,
		CreatedAt:   e.now().UTC(),
		PatientCode: p.code,
		PatientName: p.name,
	}
	if err := insertAppointment(ctx, tx, appointmentInsert{
		id:        a.ID,
		tenantID:  tenantID,
		patientID: p.id,
		number:    number,
		booking:   b,
		fees:      fee,
		createdAt: a.CreatedAt,
	}); err != nil {
		return nil, err
	}
	return a, nil
}

// Cancel cancels a pending appointment. Anything already checked in,
// completed or cancelled is a conflict.
func (e *Engine) Cancel(ctx context.Context, actor tenancy.Actor, id uuid.UUID) (*Appointment, error) {
	var result *Appointment
	var today bool
	err := e.command(ctx, "cancel", actor, func(ctx context.Context) error {
		return e.inTx(ctx, func(tx pgx.Tx) error {
			tenantID := actor.TenantID()
			t, err := loadTenant(ctx, tx, tenantID, false)
			if err != nil {
				return err
			}
			a, err := lockAppointment(ctx, tx, tenantID, id)
			if err != nil {
				return err
			}
			if a.Status != StatusPending {
				return conflict(ReasonNotPending, "Can't cancel already proceed appointment")
			}
			if err := execOne(ctx, tx, "cancel appointment", `
				UPDATE appointments SET status = 'cancel', updated_at = $2 WHERE id = $1`, a.ID, e.now().UTC()); err != nil {
				return err
			}
			if err := e.record(ctx, tx, audit.Entry{
				Action:   audit.ActionCancelAppointment,
				Details:  fmt.Sprintf("Appointment (%s) cancel", a.ID),
				Actor:    actor,
				Entity:   audit.EntityAppointment,
				EntityID: a.ID,
				Module:   audit.ModuleAppointments,
				NewValue: map[string]string{"status": string(StatusCancelled)},
			}); err != nil {
				return err
			}
			a.Status = StatusCancelled
			result = a
			today = scheduling.SameDay(a.Date, e.today(t))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if today {
		e.publish(events.AppointmentCancelled(actor.TenantID(), result.snapshot(), e.now()))
	}
	return result, nil
}

// Reschedule moves a pending appointment to another day. The appointment
// keeps its ordinal.
func (e *Engine) Reschedule(ctx context.Context, actor tenancy.Actor, id uuid.UUID, r Reschedule) (*Appointment, error) {
	var result *Appointment
	err := e.command(ctx, "reschedule", actor, func(ctx context.Context) error {
		if r.Date.IsZero() {
			return validation(ReasonDateInPast, "Appointment date is required")
		}
		return e.inTx(ctx, func(tx pgx.Tx) error {
			tenantID := actor.TenantID()
			t, err := loadTenant(ctx, tx, tenantID, false)
			if err != nil {
				return err
			}
			a, err := lockAppointment(ctx, tx, tenantID, id)
			if err != nil {
				return err
			}
			if a.Status != StatusPending {
				return conflict(ReasonNotPending, "Can't re-schedule already proceed appointment.")
			}
			if scheduling.IsPast(r.Date, e.today(t)) {
				return validation(ReasonDateInPast, "Appointment date cannot be in the past")
			}
			if scheduling.SameDay(r.Date, a.Date) {
				return validation(ReasonSameDay, "Can't reschedule for same day.")
			}
			if _, err := lockPatient(ctx, tx, tenantID, a.PatientID); err != nil {
				return err
			}
			clash, err := e.checker.HasConflict(ctx, tx, a.PatientID, r.Date, a.ID)
			if err != nil {
				return infra("check date conflict", err)
			}
			if clash {
				return conflict(ReasonDateConflict, "Patient already has an appointment on this date")
			}

			if err := execOne(ctx, tx, "reschedule appointment", `
				UPDATE appointments SET appointment_date = $2, process = $3, appointment_time = $4, updated_at = $5
				WHERE id = $1`, a.ID, r.Date, strings.TrimSpace(r.Process), strings.TrimSpace(r.Time), e.now().UTC()); err != nil {
				return err
			}
			if err := e.record(ctx, tx, audit.Entry{
				Action:   audit.ActionRescheduleAppointment,
				Details:  fmt.Sprintf("Appointment (%s) rescheduled.", a.ID),
				Actor:    actor,
				Entity:   audit.EntityAppointment,
				EntityID: a.ID,
				Module:   audit.ModuleAppointments,
				OldValue: map[string]string{
					"date":             a.Date.Format(scheduling.DateLayout),
					"process":          a.Process,
					"appointment_time": a.Time,
				},
				NewValue: map[string]string{
					"date":             r.Date.Format(scheduling.DateLayout),
					"process":          strings.TrimSpace(r.Process),
					"appointment_time": strings.TrimSpace(r.Time),
				},
			}); err != nil {
				return err
			}
			a.Date = r.Date
			a.Process = strings.TrimSpace(r.Process)
			a.Time = strings.TrimSpace(r.Time)
			result = a
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	e.publish(events.AppointmentRescheduled(actor.TenantID(), result.snapshot(), e.now()))
	return result, nil
}
