package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/wolfman30/clinic-queue/internal/audit"
	"github.com/wolfman30/clinic-queue/internal/events"
	"github.com/wolfman30/clinic-queue/internal/tenancy"
)

// SetStatus moves an appointment to InProgress or Completed. Checking a
// patient in demotes whoever was in progress for the tenant to Completed in
// the same transaction, so a tenant never has two appointments in progress.
func (e *Engine) SetStatus(ctx context.Context, actor tenancy.Actor, id uuid.UUID, target Status) (*Appointment, error) {
	var result *Appointment
	err := e.command(ctx, "set_status", actor, func(ctx context.Context) error {
		if target != StatusInProgress && target != StatusCompleted {
			return validation(ReasonInvalidStatus, "Invalid status provided.")
		}
		return e.inTx(ctx, func(tx pgx.Tx) error {
			tenantID := actor.TenantID()
			if _, err := loadTenant(ctx, tx, tenantID, true); err != nil {
				return err
			}
			a, err := lockAppointment(ctx, tx, tenantID, id)
			if err != nil {
				return err
			}

			switch {
			case a.Status == StatusCancelled:
				return invalidState(ReasonCancelled, "Can't change status, Appointment is cancelled.")
			case a.Status == StatusCompleted:
				return invalidState(ReasonAlreadyCompleted, "Appointment is already out.")
			case a.Status == StatusPending && target == StatusCompleted:
				return invalidState(ReasonNotCheckedIn, "Cannot set status to out if it's not set to in first.")
			}

			now := e.now().UTC()
			if target == StatusInProgress {
				if _, err := tx.Exec(ctx, `
					UPDATE appointments SET status = 'out', updated_at = $3
					WHERE tenant_id = $1 AND status = 'in' AND id <> $2`, tenantID, a.ID, now); err != nil {
					return infra("demote in-progress appointment", err)
				}
			}
			if err := execOne(ctx, tx, "update appointment status", `
				UPDATE appointments SET status = $2, updated_at = $3 WHERE id = $1`, a.ID, string(target), now); err != nil {
				return err
			}

			action := audit.ActionSetAppointmentIn
			if target == StatusCompleted {
				action = audit.ActionSetAppointmentOut
			}
			if err := e.record(ctx, tx, audit.Entry{
				Action:   action,
				Details:  fmt.Sprintf("Appointment (%s) set %s", a.ID, target),
				Actor:    actor,
				Entity:   audit.EntityAppointment,
				EntityID: a.ID,
				Module:   audit.ModuleAppointments,
				OldValue: map[string]string{"status": a.Status.String()},
				NewValue: map[string]string{"status": target.String()},
			}); err != nil {
				return err
			}
			a.Status = target
			result = a
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	e.publish(events.StatusChanged(actor.TenantID(), result.snapshot(), e.now()))
	return result, nil
}

// FirstAppointment returns the head of today's queue: the appointment in
// progress if any, otherwise (for receptionists) the earliest pending one.
// Doctors only ever see the appointment in progress.
func (e *Engine) FirstAppointment(ctx context.Context, actor tenancy.Actor) (*Appointment, error) {
	var result *Appointment
	err := e.command(ctx, "first_appointment", actor, func(ctx context.Context) error {
		t, err := loadTenant(ctx, e.pool, actor.TenantID(), false)
		if err != nil {
			return err
		}
		statuses := []string{string(StatusInProgress), string(StatusPending)}
		if actor.Role() == tenancy.RoleDoctor {
			statuses = statuses[:1]
		}
		a, err := scanAppointment(e.pool.QueryRow(ctx, `SELECT `+appointmentColumns+`
			FROM appointments a
			JOIN patients p ON p.id = a.patient_id
			WHERE a.tenant_id = $1 AND a.appointment_date = $2 AND COALESCE(a.status, '') = ANY($3)
			ORDER BY COALESCE(a.status, '') DESC, a.created_at ASC
			LIMIT 1`, actor.TenantID(), e.today(t), statuses))
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return infra("load first appointment", err)
		}
		result = a
		return nil
	})
	return result, err
}
