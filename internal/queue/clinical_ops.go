package queue

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/wolfman30/clinic-queue/internal/audit"
	"github.com/wolfman30/clinic-queue/internal/events"
	"github.com/wolfman30/clinic-queue/internal/scheduling"
	"github.com/wolfman30/clinic-queue/internal/tenancy"
)

var dataURIRe = regexp.MustCompile(`^data:([^;,]+);base64,(.+)$`)

// documentRefPrefix marks documents kept in the external document store.
const documentRefPrefix = "ref:"

// Submit closes out a visit. The fee is added only when the appointment was
// not already Completed, so resubmitting corrects clinical fields without
// charging twice. The status is Completed afterwards in every case.
func (e *Engine) Submit(ctx context.Context, actor tenancy.Actor, id uuid.UUID, s Submission) (*Appointment, error) {
	var result *Appointment
	err := e.command(ctx, "submit", actor, func(ctx context.Context) error {
		if s.Fees < 0 {
			return validation(ReasonInvalidFees, "Fees must be a valid number greater than 0")
		}
		if s.ExtraFees < 0 {
			return validation(ReasonInvalidExtraFees, "Extra fees must be a valid number (>= 0)")
		}
		prescription := s.Prescription
		if !isJSONArray(prescription) {
			prescription = nil
		}

		return e.inTx(ctx, func(tx pgx.Tx) error {
			tenantID := actor.TenantID()
			t, err := loadTenant(ctx, tx, tenantID, false)
			if err != nil {
				return err
			}
			today := e.today(t)
			if s.FollowUp != nil && !scheduling.IsFuture(*s.FollowUp, today) {
				return validation(ReasonInvalidFollowUp, "Follow-up date cannot be in the past")
			}
			a, err := lockAppointment(ctx, tx, tenantID, id)
			if err != nil {
				return err
			}
			if a.Status == StatusCancelled {
				return invalidState(ReasonCancelled, "Can't submit appointment, Appointment is cancelled.")
			}
			if scheduling.IsFuture(a.Date, today) {
				return invalidState(ReasonFutureAppointment, "Cannot submit future appointments")
			}

			previous := *a
			fees := a.Fees
			if s.Fees > 0 && a.Status != StatusCompleted {
				fees += s.Fees
			}
			if err := execOne(ctx, tx, "submit appointment", `
				UPDATE appointments SET status = 'out', follow_up = $2, note = $3, investigation = $4,
					chief_complaints = $5, diagnosis = $6, fees = $7, extra_fees = $8, prescription = $9, updated_at = $10
				WHERE id = $1`,
				a.ID, s.FollowUp, nullIfEmpty(s.Note), nullIfEmpty(s.Investigation),
				nullIfEmpty(s.ChiefComplaints), nullIfEmpty(s.Diagnosis), fees, s.ExtraFees,
				nullJSON(prescription), e.now().UTC()); err != nil {
				return err
			}

			action, verb := audit.ActionSubmitAppointment, "Submitted"
			if previous.Status == StatusCompleted {
				action, verb = audit.ActionResubmitAppointment, "Re-submitted"
			}
			var oldValue any
			if previous.FollowUp != nil || previous.Investigation != "" || previous.ChiefComplaints != "" ||
				previous.Diagnosis != "" || len(previous.Prescription) > 0 {
				oldValue = clinicalValues(previous.FollowUp, previous.Note, previous.Investigation,
					previous.ChiefComplaints, previous.Diagnosis, previous.Prescription)
			}
			if err := e.record(ctx, tx, audit.Entry{
				Action:   action,
				Details:  fmt.Sprintf("%s appointment to appointment ID %s", verb, a.ID),
				Actor:    actor,
				Entity:   audit.EntityAppointment,
				EntityID: a.ID,
				Module:   audit.ModuleAppointments,
				OldValue: oldValue,
				NewValue: clinicalValues(s.FollowUp, s.Note, s.Investigation, s.ChiefComplaints, s.Diagnosis, prescription),
			}); err != nil {
				return err
			}

			a.Status = StatusCompleted
			a.FollowUp = s.FollowUp
			a.Note = s.Note
			a.Investigation = s.Investigation
			a.ChiefComplaints = s.ChiefComplaints
			a.Diagnosis = s.Diagnosis
			a.Fees = fees
			a.ExtraFees = s.ExtraFees
			a.Prescription = prescription
			result = a
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	summary := events.SubmissionSummary{
		AppointmentID: result.ID.String(),
		Fees:          result.Fees,
		ExtraFees:     result.ExtraFees,
		Note:          result.Note,
		Prescription:  result.Prescription,
	}
	if result.FollowUp != nil {
		summary.FollowUp = result.FollowUp.Format(scheduling.DateLayout)
	}
	e.publish(events.AppointmentSubmitted(actor.TenantID(), summary, e.now()))
	return result, nil
}

// AddParameters records the vitals taken for a visit, replacing earlier ones.
func (e *Engine) AddParameters(ctx context.Context, actor tenancy.Actor, id uuid.UUID, params json.RawMessage) error {
	err := e.command(ctx, "add_parameters", actor, func(ctx context.Context) error {
		if !isJSONObject(params) {
			return validation(ReasonInvalidParameters, "Parameters must be an object")
		}
		return e.inTx(ctx, func(tx pgx.Tx) error {
			a, today, err := e.lockForEdit(ctx, tx, actor, id)
			if err != nil {
				return err
			}
			if err := guardClinical(a, today, "add parameters"); err != nil {
				return err
			}
			if err := execOne(ctx, tx, "update parameters", `
				UPDATE appointments SET parameters = $2, updated_at = $3 WHERE id = $1`,
				a.ID, []byte(params), e.now().UTC()); err != nil {
				return err
			}

			action, verb := audit.ActionAddParameters, "Added"
			var oldValue any
			if len(a.Parameters) > 0 {
				action, verb = audit.ActionChangeParameters, "Changed"
				oldValue = a.Parameters
			}
			return e.record(ctx, tx, audit.Entry{
				Action:   action,
				Details:  fmt.Sprintf("%s parameters to appointment ID %s", verb, a.ID),
				Actor:    actor,
				Entity:   audit.EntityAppointment,
				EntityID: a.ID,
				Module:   audit.ModuleAppointments,
				OldValue: oldValue,
				NewValue: params,
			})
		})
	})
	if err != nil {
		return err
	}
	e.publish(events.ParametersUpdated(actor.TenantID(), events.ParametersChange{
		AppointmentID: id.String(),
		Parameters:    params,
	}, e.now()))
	return nil
}

// AddPaymentMode records how the visit was paid.
func (e *Engine) AddPaymentMode(ctx context.Context, actor tenancy.Actor, id uuid.UUID, mode PaymentMode) error {
	return e.command(ctx, "add_payment_mode", actor, func(ctx context.Context) error {
		if !mode.valid() {
			return validation(ReasonInvalidPaymentMode, "Invalid payment mode")
		}
		return e.inTx(ctx, func(tx pgx.Tx) error {
			a, today, err := e.lockForEdit(ctx, tx, actor, id)
			if err != nil {
				return err
			}
			if err := guardClinical(a, today, "add payment mode"); err != nil {
				return err
			}
			if err := execOne(ctx, tx, "update payment mode", `
				UPDATE appointments SET payment_mode = $2, updated_at = $3 WHERE id = $1`,
				a.ID, string(mode), e.now().UTC()); err != nil {
				return err
			}
			var oldValue any
			if a.PaymentMode != "" {
				oldValue = map[string]string{"payment_mode": string(a.PaymentMode)}
			}
			return e.record(ctx, tx, audit.Entry{
				Action:   audit.ActionUpdatePaymentMode,
				Details:  fmt.Sprintf("Updated payment mode of appointment ID %s", a.ID),
				Actor:    actor,
				Entity:   audit.EntityAppointment,
				EntityID: a.ID,
				Module:   audit.ModuleAppointments,
				OldValue: oldValue,
				NewValue: map[string]string{"payment_mode": string(mode)},
			})
		})
	})
}

// SubmitPrescription stores the structured prescription list.
func (e *Engine) SubmitPrescription(ctx context.Context, actor tenancy.Actor, id uuid.UUID, prescription json.RawMessage) error {
	return e.command(ctx, "submit_prescription", actor, func(ctx context.Context) error {
		if !isJSONArray(prescription) {
			return validation(ReasonInvalidPrescription, "Prescription must be an array")
		}
		return e.inTx(ctx, func(tx pgx.Tx) error {
			a, today, err := e.lockForEdit(ctx, tx, actor, id)
			if err != nil {
				return err
			}
			if err := guardClinical(a, today, "submit prescription"); err != nil {
				return err
			}
			if err := execOne(ctx, tx, "update prescription", `
				UPDATE appointments SET prescription = $2, updated_at = $3 WHERE id = $1`,
				a.ID, []byte(prescription), e.now().UTC()); err != nil {
				return err
			}
			var oldValue any
			if len(a.Prescription) > 0 {
				oldValue = map[string]json.RawMessage{"prescription": a.Prescription}
			}
			return e.record(ctx, tx, audit.Entry{
				Action:   audit.ActionSubmitPrescription,
				Details:  fmt.Sprintf("Submitted prescription to appointment ID %s", a.ID),
				Actor:    actor,
				Entity:   audit.EntityAppointment,
				EntityID: a.ID,
				Module:   audit.ModuleAppointments,
				OldValue: oldValue,
				NewValue: map[string]json.RawMessage{"prescription": prescription},
			})
		})
	})
}

// AddPrescription attaches a scanned prescription given as a base64 data
// URI. The document is sealed before it is stored, either inline or in the
// document store when one is configured.
func (e *Engine) AddPrescription(ctx context.Context, actor tenancy.Actor, id uuid.UUID, dataURI string) error {
	return e.command(ctx, "add_prescription", actor, func(ctx context.Context) error {
		dataURI = strings.TrimSpace(dataURI)
		if dataURI == "" {
			return validation(ReasonInvalidDocument, "No file or image data uploaded")
		}
		m := dataURIRe.FindStringSubmatch(dataURI)
		if m == nil {
			return validation(ReasonInvalidDocument, "Invalid base64 image format")
		}
		if _, err := base64.StdEncoding.DecodeString(m[2]); err != nil {
			return validation(ReasonInvalidDocument, "Invalid base64 image format")
		}

		return e.inTx(ctx, func(tx pgx.Tx) error {
			a, today, err := e.lockForEdit(ctx, tx, actor, id)
			if err != nil {
				return err
			}
			if err := guardClinical(a, today, "add prescription"); err != nil {
				return err
			}
			ref, err := e.sealDocument(ctx, a, dataURI)
			if err != nil {
				return err
			}
			if err := execOne(ctx, tx, "update document", `
				UPDATE appointments SET document = $2, updated_at = $3 WHERE id = $1`,
				a.ID, ref, e.now().UTC()); err != nil {
				return err
			}

			action, verb := audit.ActionAddPrescription, "Added"
			if a.HasDocument {
				action, verb = audit.ActionChangePrescription, "Changed"
			}
			return e.record(ctx, tx, audit.Entry{
				Action:   action,
				Details:  fmt.Sprintf("%s prescription to appointment ID %s", verb, a.ID),
				Actor:    actor,
				Entity:   audit.EntityAppointment,
				EntityID: a.ID,
				Module:   audit.ModuleAppointments,
				NewValue: map[string]string{"document": m[1]},
			})
		})
	})
}

// Document returns the prescription document of an appointment as a data URI.
func (e *Engine) Document(ctx context.Context, actor tenancy.Actor, id uuid.UUID) (string, error) {
	var out string
	err := e.command(ctx, "document", actor, func(ctx context.Context) error {
		var ref string
		err := e.pool.QueryRow(ctx, `
			SELECT COALESCE(document, '') FROM appointments WHERE id = $1 AND tenant_id = $2`,
			id, actor.TenantID()).Scan(&ref)
		if errors.Is(err, pgx.ErrNoRows) {
			return notFound(ReasonAppointmentNotFound, "Appointment not found")
		}
		if err != nil {
			return infra("load document", err)
		}
		if ref == "" {
			return notFound(ReasonDocumentNotFound, "Document not found")
		}
		out, err = e.openDocument(ctx, ref)
		return err
	})
	return out, err
}

// lockForEdit loads the tenant settings and locks the appointment.
func (e *Engine) lockForEdit(ctx context.Context, tx pgx.Tx, actor tenancy.Actor, id uuid.UUID) (*Appointment, time.Time, error) {
	t, err := loadTenant(ctx, tx, actor.TenantID(), false)
	if err != nil {
		return nil, time.Time{}, err
	}
	a, err := lockAppointment(ctx, tx, actor.TenantID(), id)
	if err != nil {
		return nil, time.Time{}, err
	}
	return a, e.today(t), nil
}

func (e *Engine) sealDocument(ctx context.Context, a *Appointment, dataURI string) (string, error) {
	if e.documents == nil {
		sealed, err := e.sealer.EncryptString(dataURI)
		if err != nil {
			return "", infra("seal document", err)
		}
		return sealed, nil
	}
	blob, err := e.sealer.Encrypt([]byte(dataURI))
	if err != nil {
		return "", infra("seal document", err)
	}
	key := fmt.Sprintf("%s/%s/%s", a.TenantID, a.ID, uuid.New())
	ref, err := e.documents.Put(ctx, key, blob)
	if err != nil {
		return "", infra("store document", err)
	}
	return documentRefPrefix + ref, nil
}

func (e *Engine) openDocument(ctx context.Context, ref string) (string, error) {
	if !strings.HasPrefix(ref, documentRefPrefix) {
		plain, err := e.sealer.DecryptString(ref)
		if err != nil {
			return "", infra("open document", err)
		}
		return plain, nil
	}
	if e.documents == nil {
		return "", infra("open document", fmt.Errorf("document store not configured"))
	}
	blob, err := e.documents.Get(ctx, strings.TrimPrefix(ref, documentRefPrefix))
	if err != nil {
		return "", infra("fetch document", err)
	}
	plain, err := e.sealer.Decrypt(blob)
	if err != nil {
		return "", infra("open document", err)
	}
	return string(plain), nil
}

func clinicalValues(followUp *time.Time, note, investigation, complaints, diagnosis string, prescription json.RawMessage) map[string]any {
	out := map[string]any{
		"note":             note,
		"investigation":    investigation,
		"chief_complaints": complaints,
		"diagnosis":        diagnosis,
	}
	if followUp != nil {
		out["follow_up"] = followUp.Format(scheduling.DateLayout)
	}
	if len(prescription) > 0 {
		out["prescription"] = prescription
	}
	return out
}

func isJSONArray(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '[' && json.Valid(raw)
}

func isJSONObject(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '{' && json.Valid(raw)
}

func nullIfEmpty(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func nullJSON(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
