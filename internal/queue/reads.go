package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/wolfman30/clinic-queue/internal/audit"
	"github.com/wolfman30/clinic-queue/internal/scheduling"
	"github.com/wolfman30/clinic-queue/internal/searchindex"
	"github.com/wolfman30/clinic-queue/internal/tenancy"
)

const (
	defaultPageSize = 10
	maxPageSize     = 100
)

// searchPatterns holds LIKE patterns for a search term: the shadow pattern
// for indexed fields and a plain pattern for patient codes.
type searchPatterns struct {
	term   string
	shadow string
	code   string
}

func (e *Engine) patterns(ctx context.Context, tenantID uuid.UUID, term string) (searchPatterns, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return searchPatterns{}, nil
	}
	transformer, err := e.keyring.ForTenant(ctx, e.pool, tenantID)
	if errors.Is(err, searchindex.ErrTenantNotFound) {
		return searchPatterns{}, notFound(ReasonTenantNotFound, "Clinic not found")
	}
	if err != nil {
		return searchPatterns{}, infra("load search mapping", err)
	}
	return searchPatterns{
		term:   term,
		shadow: transformer.LikePattern(term),
		code:   "%" + escapeLike(strings.ToUpper(term)) + "%",
	}, nil
}

// SearchPatients matches patients by name, mobile number or patient code and
// returns each with their latest appointment, or with their appointment on
// the requested date.
func (e *Engine) SearchPatients(ctx context.Context, actor tenancy.Actor, q PatientSearch) (*PatientPage, error) {
	var page *PatientPage
	err := e.command(ctx, "search_patients", actor, func(ctx context.Context) error {
		ctx = searchindex.WithSession(ctx)
		if q.Page < 1 {
			q.Page = 1
		}
		if q.Limit < 1 {
			q.Limit = defaultPageSize
		}
		if q.Limit > maxPageSize {
			q.Limit = maxPageSize
		}
		pat, err := e.patterns(ctx, actor.TenantID(), q.Term)
		if err != nil {
			return err
		}

		rows, err := e.pool.Query(ctx, `
			SELECT p.id, p.patient_code, p.name, COALESCE(p.gender, ''), COALESCE(p.age, 0), COALESCE(p.referred_by, ''),
				p.special_category, p.encrypted_profile, p.created_at,
				a.id, a.appointment_number, a.appointment_date, COALESCE(a.appointment_time, ''), COALESCE(a.status, ''),
				COUNT(*) OVER ()
			FROM patients p
			JOIN appointments a ON a.patient_id = p.id
			WHERE p.tenant_id = $1
				AND a.appointment_date = COALESCE($2::date, (SELECT MAX(a2.appointment_date) FROM appointments a2 WHERE a2.patient_id = p.id))
				AND ($3::text = '' OR p.name_search LIKE $4 OR p.mobile_search LIKE $4 OR p.patient_code LIKE $5)
			ORDER BY p.patient_code DESC
			LIMIT $6 OFFSET $7`,
			actor.TenantID(), q.Date, pat.term, pat.shadow, pat.code, q.Limit, (q.Page-1)*q.Limit)
		if err != nil {
			return infra("search patients", err)
		}
		defer rows.Close()

		page = &PatientPage{Matches: []PatientMatch{}, Page: q.Page, Limit: q.Limit}
		for rows.Next() {
			var (
				m      PatientMatch
				sealed string
				status string
				total  int64
			)
			if err := rows.Scan(
				&m.Patient.ID, &m.Patient.Code, &m.Patient.Name, &m.Patient.Gender, &m.Patient.Age, &m.Patient.ReferredBy,
				&m.Patient.SpecialCategory, &sealed, &m.Patient.CreatedAt,
				&m.Appointment.ID, &m.Appointment.Number, &m.Appointment.Date, &m.Appointment.Time, &status,
				&total,
			); err != nil {
				return infra("scan patient", err)
			}
			profile, err := e.openProfile(sealed)
			if err != nil {
				return err
			}
			m.Patient.TenantID = actor.TenantID()
			m.Patient.Profile = profile
			m.Appointment.TenantID = actor.TenantID()
			m.Appointment.PatientID = m.Patient.ID
			m.Appointment.Status = Status(status)
			page.Total = int(total)
			page.Matches = append(page.Matches, m)
		}
		if err := rows.Err(); err != nil {
			return infra("search patients", err)
		}

		return e.record(ctx, e.pool, audit.Entry{
			Action:  audit.ActionGetPatients,
			Details: fmt.Sprintf("User(%s - %s) retrieved the patients", actor.Role(), actor.ID()),
			Actor:   actor,
			Entity:  audit.EntityPatient,
			Module:  audit.ModulePatients,
		})
	})
	if err != nil {
		return nil, err
	}
	return page, nil
}

// TodaysAppointments lists a tenant's appointments for one day (today when
// day is nil): in progress first, then pending, completed and cancelled, each
// by time slot and booking time.
func (e *Engine) TodaysAppointments(ctx context.Context, actor tenancy.Actor, day *time.Time, term string) (*DaySheet, error) {
	var sheet *DaySheet
	err := e.command(ctx, "todays_appointments", actor, func(ctx context.Context) error {
		ctx = searchindex.WithSession(ctx)
		t, err := loadTenant(ctx, e.pool, actor.TenantID(), false)
		if err != nil {
			return err
		}
		date := e.today(t)
		if day != nil {
			date = *day
		}
		pat, err := e.patterns(ctx, actor.TenantID(), term)
		if err != nil {
			return err
		}

		rows, err := e.pool.Query(ctx, `SELECT `+appointmentColumns+`
			FROM appointments a
			JOIN patients p ON p.id = a.patient_id
			WHERE a.tenant_id = $1 AND a.appointment_date = $2
				AND ($3::text = '' OR p.name_search LIKE $4 OR p.patient_code LIKE $5)
			ORDER BY CASE WHEN a.status = 'in' THEN 0 WHEN a.status IS NULL THEN 1 WHEN a.status = 'out' THEN 2 ELSE 3 END,
				a.appointment_time ASC, a.created_at ASC`,
			actor.TenantID(), date, pat.term, pat.shadow, pat.code)
		if err != nil {
			return infra("list appointments", err)
		}
		defer rows.Close()

		sheet = &DaySheet{Date: date.Format(scheduling.DateLayout), Appointments: []Appointment{}}
		for rows.Next() {
			a, err := scanAppointment(rows)
			if err != nil {
				return infra("scan appointment", err)
			}
			switch a.Status {
			case StatusPending:
				sheet.Pending++
			case StatusCompleted:
				sheet.Completed++
			}
			sheet.Appointments = append(sheet.Appointments, *a)
		}
		if err := rows.Err(); err != nil {
			return infra("list appointments", err)
		}

		return e.record(ctx, e.pool, audit.Entry{
			Action:  audit.ActionGetAppointments,
			Details: fmt.Sprintf("User(%s - %s) retrieved the appointments of %s", actor.Role(), actor.ID(), sheet.Date),
			Actor:   actor,
			Entity:  audit.EntityAppointment,
			Module:  audit.ModuleAppointments,
		})
	})
	if err != nil {
		return nil, err
	}
	return sheet, nil
}

// PatientHistory returns a patient with all of their appointments, newest
// first, each with its prescription document opened.
func (e *Engine) PatientHistory(ctx context.Context, actor tenancy.Actor, patientID uuid.UUID) (*PatientHistory, error) {
	var history *PatientHistory
	err := e.command(ctx, "patient_history", actor, func(ctx context.Context) error {
		var (
			p      Patient
			sealed string
		)
		err := e.pool.QueryRow(ctx, `
			SELECT id, patient_code, name, COALESCE(gender, ''), COALESCE(age, 0), COALESCE(referred_by, ''),
				special_category, encrypted_profile, created_at
			FROM patients WHERE id = $1 AND tenant_id = $2`,
			patientID, actor.TenantID()).Scan(
			&p.ID, &p.Code, &p.Name, &p.Gender, &p.Age, &p.ReferredBy,
			&p.SpecialCategory, &sealed, &p.CreatedAt,
		)
		if errors.Is(err, pgx.ErrNoRows) {
			return notFound(ReasonPatientNotFound, "Patient not found")
		}
		if err != nil {
			return infra("load patient", err)
		}
		if p.Profile, err = e.openProfile(sealed); err != nil {
			return err
		}
		p.TenantID = actor.TenantID()

		appointments, err := e.patientAppointments(ctx, actor.TenantID(), patientID)
		if err != nil {
			return err
		}
		history = &PatientHistory{Patient: p, Visits: make([]Visit, 0, len(appointments))}
		for _, a := range appointments {
			v := Visit{Appointment: *a}
			if a.document != "" {
				if v.Document, err = e.openDocument(ctx, a.document); err != nil {
					return err
				}
			}
			history.Visits = append(history.Visits, v)
		}

		return e.record(ctx, e.pool, audit.Entry{
			Action:  audit.ActionGetPatientAppointments,
			Details: fmt.Sprintf("User(%s - %s) retrieved the appointments of patient %s", actor.Role(), actor.ID(), p.Code),
			Actor:   actor,
			Entity:  audit.EntityAppointment,
			Module:  audit.ModuleAppointments,
		})
	})
	if err != nil {
		return nil, err
	}
	return history, nil
}

func (e *Engine) patientAppointments(ctx context.Context, tenantID, patientID uuid.UUID) ([]*Appointment, error) {
	rows, err := e.pool.Query(ctx, `SELECT `+appointmentColumns+`
		FROM appointments a
		JOIN patients p ON p.id = a.patient_id
		WHERE a.patient_id = $1 AND a.tenant_id = $2
		ORDER BY a.appointment_date DESC, a.created_at DESC`,
		patientID, tenantID)
	if err != nil {
		return nil, infra("list patient appointments", err)
	}
	defer rows.Close()

	var out []*Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, infra("scan appointment", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, infra("list patient appointments", err)
	}
	return out, nil
}

func (e *Engine) openProfile(sealed string) (Profile, error) {
	var p Profile
	if sealed == "" {
		return p, nil
	}
	plain, err := e.sealer.DecryptString(sealed)
	if err != nil {
		return p, infra("open patient profile", err)
	}
	if err := json.Unmarshal([]byte(plain), &p); err != nil {
		return p, infra("decode patient profile", err)
	}
	return p, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
