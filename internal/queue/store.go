package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is satisfied by the pool and by pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PgxPool is the subset of *pgxpool.Pool the engine uses.
type PgxPool interface {
	Querier
	Begin(ctx context.Context) (pgx.Tx, error)
}

const appointmentColumns = `a.id, a.tenant_id, a.patient_id, a.appointment_number, a.appointment_date,
	COALESCE(a.appointment_time, ''), COALESCE(a.reason, ''), COALESCE(a.process, ''), COALESCE(a.status, ''),
	a.fees, a.extra_fees, a.follow_up, COALESCE(a.note, ''), COALESCE(a.investigation, ''),
	COALESCE(a.chief_complaints, ''), COALESCE(a.diagnosis, ''), a.prescription, a.parameters,
	COALESCE(a.payment_mode, ''), COALESCE(a.document, ''), a.created_at,
	p.patient_code, p.name`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var (
		a                    Appointment
		status, paymentMode  string
		prescription, params []byte
	)
	err := row.Scan(
		&a.ID, &a.TenantID, &a.PatientID, &a.Number, &a.Date,
		&a.Time, &a.Reason, &a.Process, &status,
		&a.Fees, &a.ExtraFees, &a.FollowUp, &a.Note, &a.Investigation,
		&a.ChiefComplaints, &a.Diagnosis, &prescription, &params,
		&paymentMode, &a.document, &a.CreatedAt,
		&a.PatientCode, &a.PatientName,
	)
	if err != nil {
		return nil, err
	}
	a.Status = Status(status)
	a.PaymentMode = PaymentMode(paymentMode)
	a.Prescription = json.RawMessage(prescription)
	a.Parameters = json.RawMessage(params)
	a.HasDocument = a.document != ""
	return &a, nil
}

type tenantRow struct {
	id       uuid.UUID
	timezone string
}

// loadTenant reads the tenant's settings. With lock set the tenant row is
// held until the transaction ends, serialising queue-wide decisions.
func loadTenant(ctx context.Context, q Querier, tenantID uuid.UUID, lock bool) (tenantRow, error) {
	query := `SELECT id, COALESCE(timezone, '') FROM tenants WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	var t tenantRow
	err := q.QueryRow(ctx, query, tenantID).Scan(&t.id, &t.timezone)
	if errors.Is(err, pgx.ErrNoRows) {
		return t, notFound(ReasonTenantNotFound, "Clinic not found")
	}
	if err != nil {
		return t, infra("load tenant", err)
	}
	return t, nil
}

// lockAppointment loads an appointment of the tenant and locks its row.
func lockAppointment(ctx context.Context, q Querier, tenantID, id uuid.UUID) (*Appointment, error) {
	query := `SELECT ` + appointmentColumns + `
		FROM appointments a
		JOIN patients p ON p.id = a.patient_id
		WHERE a.id = $1 AND a.tenant_id = $2
		FOR UPDATE OF a`
	a, err := scanAppointment(q.QueryRow(ctx, query, id, tenantID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound(ReasonAppointmentNotFound, "Appointment not found")
	}
	if err != nil {
		return nil, infra("load appointment", err)
	}
	return a, nil
}

type patientRow struct {
	id   uuid.UUID
	code string
	name string
}

// lockPatient locks a patient row so date-collision checks and the writes
// that depend on them cannot interleave with another booking.
func lockPatient(ctx context.Context, q Querier, tenantID, id uuid.UUID) (patientRow, error) {
	var p patientRow
	err := q.QueryRow(ctx, `
		SELECT id, patient_code, name
		FROM patients
		WHERE id = $1 AND tenant_id = $2 FOR UPDATE`, id, tenantID).Scan(&p.id, &p.code, &p.name)
	if errors.Is(err, pgx.ErrNoRows) {
		return p, notFound(ReasonPatientNotFound, "Patient not found")
	}
	if err != nil {
		return p, infra("load patient", err)
	}
	return p, nil
}

// feeFor returns the configured fee for a visit reason, zero when unset.
func feeFor(ctx context.Context, q Querier, tenantID uuid.UUID, reason string) (int64, error) {
	var fee int64
	err := q.QueryRow(ctx, `SELECT fees FROM fee_schedules WHERE tenant_id = $1 AND fees_for = $2`, tenantID, reason).Scan(&fee)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, infra("load fee schedule", err)
	}
	return fee, nil
}

type appointmentInsert struct {
	id        uuid.UUID
	tenantID  uuid.UUID
	patientID uuid.UUID
	number    int
	booking   Booking
	fees      int64
	createdAt time.Time
}

func insertAppointment(ctx context.Context, q Querier, in appointmentInsert) error {
	_, err := q.Exec(ctx, `
		INSERT INTO appointments (
			id, tenant_id, patient_id, appointment_number, appointment_date,
			appointment_time, reason, process, fees, extra_fees, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 0, $10, $10)`,
		in.id, in.tenantID, in.patientID, in.number, in.booking.Date,
		in.booking.Time, in.booking.Reason, in.booking.Process, in.fees, in.createdAt,
	)
	if err != nil {
		return infra("insert appointment", err)
	}
	return nil
}

func execOne(ctx context.Context, q Querier, op, query string, args ...any) error {
	tag, err := q.Exec(ctx, query, args...)
	if err != nil {
		return infra(op, err)
	}
	if tag.RowsAffected() != 1 {
		return infra(op, fmt.Errorf("expected 1 row, affected %d", tag.RowsAffected()))
	}
	return nil
}
