package queue

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/wolfman30/clinic-queue/internal/audit"
	"github.com/wolfman30/clinic-queue/internal/events"
	"github.com/wolfman30/clinic-queue/internal/scheduling"
	"github.com/wolfman30/clinic-queue/internal/searchindex"
	"github.com/wolfman30/clinic-queue/internal/tenancy"
)

const patientCodeAttempts = 20

// AddPatient registers a patient and books their first appointment. Name and
// mobile number are indexed through the tenant's search mapping; the same
// pair may not be registered twice.
func (e *Engine) AddPatient(ctx context.Context, actor tenancy.Actor, np NewPatient) (*Patient, *Appointment, error) {
	var (
		patient     *Patient
		appointment *Appointment
		today       bool
	)
	err := e.command(ctx, "add_patient", actor, func(ctx context.Context) error {
		np.Name = strings.TrimSpace(np.Name)
		np.Profile.MobileNumber = strings.TrimSpace(np.Profile.MobileNumber)
		if np.Name == "" || np.Profile.MobileNumber == "" {
			return validation(ReasonInvalidPatient, "Name and mobile number are required")
		}
		if np.Booking.Date.IsZero() {
			return validation(ReasonDateInPast, "Appointment date is required")
		}

		return e.inTx(ctx, func(tx pgx.Tx) error {
			tenantID := actor.TenantID()
			t, err := loadTenant(ctx, tx, tenantID, true)
			if err != nil {
				return err
			}
			now := e.today(t)
			if scheduling.IsPast(np.Booking.Date, now) {
				return validation(ReasonDateInPast, "Appointment date cannot be in the past")
			}

			transformer, err := e.keyring.ForTenant(ctx, tx, tenantID)
			if errors.Is(err, searchindex.ErrTenantNotFound) {
				return notFound(ReasonTenantNotFound, "Clinic not found")
			}
			if err != nil {
				return infra("load search mapping", err)
			}
			nameSearch := transformer.BuildShadow(np.Name)
			mobileSearch := transformer.BuildShadow(np.Profile.MobileNumber)

			var exists bool
			if err := tx.QueryRow(ctx, `
				SELECT EXISTS (SELECT 1 FROM patients WHERE tenant_id = $1 AND name_search = $2 AND mobile_search = $3)`,
				tenantID, nameSearch, mobileSearch).Scan(&exists); err != nil {
				return infra("check duplicate patient", err)
			}
			if exists {
				return conflict(ReasonPatientExists, "Patient already exists")
			}

			code, err := e.uniquePatientCode(ctx, tx, np.Name)
			if err != nil {
				return err
			}
			profile, err := json.Marshal(np.Profile)
			if err != nil {
				return infra("encode profile", err)
			}
			sealed, err := e.sealer.EncryptString(string(profile))
			if err != nil {
				return infra("seal profile", err)
			}

			p := &Patient{
				ID:         uuid.New(),
				TenantID:   tenantID,
				Code:       code,
				Name:       np.Name,
				Gender:     np.Gender,
				Age:        np.Age,
				ReferredBy: np.ReferredBy,
				Profile:    np.Profile,
				CreatedAt:  e.now().UTC(),
			}
			if _, err := tx.Exec(ctx, `
				INSERT INTO patients (
					id, tenant_id, patient_code, name, gender, age, referred_by,
					encrypted_profile, name_search, mobile_search, special_category, created_at, updated_at
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, false, $11, $11)`,
				p.ID, tenantID, p.Code, p.Name, p.Gender, p.Age, p.ReferredBy,
				sealed, nameSearch, mobileSearch, p.CreatedAt); err != nil {
				return infra("insert patient", err)
			}

			a, err := e.book(ctx, tx, tenantID, patientRow{id: p.ID, code: p.Code, name: p.Name}, np.Booking)
			if err != nil {
				return err
			}
			if err := e.record(ctx, tx, audit.Entry{
				Action:   audit.ActionAddPatient,
				Details:  fmt.Sprintf("Added patient %s and booked appointment ID %s", p.Code, a.ID),
				Actor:    actor,
				Entity:   audit.EntityPatient,
				EntityID: p.ID,
				Module:   audit.ModulePatients,
				NewValue: map[string]any{
					"name":          p.Name,
					"gender":        p.Gender,
					"age":           p.Age,
					"mobile_number": np.Profile.MobileNumber,
					"email":         np.Profile.Email,
					"address":       np.Profile.Address,
					"date_of_birth": np.Profile.DateOfBirth,
					"blood_group":   np.Profile.BloodGroup,
				},
			}); err != nil {
				return err
			}
			patient, appointment = p, a
			today = scheduling.SameDay(a.Date, now)
			return nil
		})
	})
	if err != nil {
		return nil, nil, err
	}
	if today {
		e.publish(events.AppointmentBooked(actor.TenantID(), appointment.snapshot(), e.now()))
	}
	return patient, appointment, nil
}

// uniquePatientCode draws initials plus five random digits until the code is
// unused.
func (e *Engine) uniquePatientCode(ctx context.Context, q Querier, name string) (string, error) {
	initials := Initials(name)
	for i := 0; i < patientCodeAttempts; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(90000))
		if err != nil {
			return "", infra("generate patient code", err)
		}
		code := fmt.Sprintf("%s%05d", initials, 10000+n.Int64())
		var taken bool
		if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM patients WHERE patient_code = $1)`, code).Scan(&taken); err != nil {
			return "", infra("check patient code", err)
		}
		if !taken {
			return code, nil
		}
	}
	return "", infra("generate patient code", fmt.Errorf("no free code after %d attempts", patientCodeAttempts))
}

// Initials returns the upper-cased first letter of each word of name.
func Initials(name string) string {
	var b strings.Builder
	for _, part := range strings.Fields(name) {
		r := []rune(part)[0]
		b.WriteRune(unicode.ToUpper(r))
	}
	return b.String()
}

// ToggleSpecialCategory flips a patient's special-category flag.
func (e *Engine) ToggleSpecialCategory(ctx context.Context, actor tenancy.Actor, patientID uuid.UUID) (bool, error) {
	var flagged bool
	err := e.command(ctx, "toggle_special_category", actor, func(ctx context.Context) error {
		return e.inTx(ctx, func(tx pgx.Tx) error {
			var current bool
			err := tx.QueryRow(ctx, `
				SELECT special_category FROM patients WHERE id = $1 AND tenant_id = $2 FOR UPDATE`,
				patientID, actor.TenantID()).Scan(&current)
			if errors.Is(err, pgx.ErrNoRows) {
				return notFound(ReasonPatientNotFound, "Patient not found")
			}
			if err != nil {
				return infra("load patient", err)
			}
			if err := execOne(ctx, tx, "update special category", `
				UPDATE patients SET special_category = $2, updated_at = $3 WHERE id = $1`,
				patientID, !current, e.now().UTC()); err != nil {
				return err
			}

			action, verb := audit.ActionSetSpecialCategory, "Set"
			if current {
				action, verb = audit.ActionUnsetSpecialCategory, "Unset"
			}
			if err := e.record(ctx, tx, audit.Entry{
				Action:   action,
				Details:  fmt.Sprintf("%s patient (%s) special category", verb, patientID),
				Actor:    actor,
				Entity:   audit.EntityPatient,
				EntityID: patientID,
				Module:   audit.ModulePatients,
				OldValue: map[string]bool{"special_category": current},
				NewValue: map[string]bool{"special_category": !current},
			}); err != nil {
				return err
			}
			flagged = !current
			return nil
		})
	})
	return flagged, err
}
