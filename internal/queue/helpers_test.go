package queue

import (
	"bytes"
	"context"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinic-queue/internal/encryption"
	"github.com/wolfman30/clinic-queue/internal/events"
	"github.com/wolfman30/clinic-queue/internal/tenancy"
	"github.com/wolfman30/clinic-queue/pkg/logging"
)

var (
	testNow   = time.Date(2024, 5, 1, 6, 0, 0, 0, time.UTC)
	testToday = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
)

type recordingPublisher struct {
	mu   sync.Mutex
	sent []events.Notification
}

func (p *recordingPublisher) Publish(n events.Notification) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, n)
	return 1
}

func (p *recordingPublisher) types() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Type, 0, len(p.sent))
	for _, n := range p.sent {
		out = append(out, n.Type)
	}
	return out
}

type memoryDocuments struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func (m *memoryDocuments) Put(_ context.Context, key string, blob []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.blobs == nil {
		m.blobs = map[string][]byte{}
	}
	ref := "mem://" + key
	m.blobs[ref] = append([]byte(nil), blob...)
	return ref, nil
}

func (m *memoryDocuments) Get(_ context.Context, ref string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.blobs[ref], nil
}

// capture matches any argument and remembers it.
type capture struct {
	value any
}

func (c *capture) Match(v any) bool {
	c.value = v
	return true
}

type fixture struct {
	mock      pgxmock.PgxPoolIface
	engine    *Engine
	publisher *recordingPublisher
	sealer    *encryption.Sealer
	tenantID  uuid.UUID
	doctor    tenancy.Actor
	desk      tenancy.Actor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	sealer, err := encryption.NewSealer(bytes.Repeat([]byte{3}, encryption.KeySize))
	require.NoError(t, err)

	pub := &recordingPublisher{}
	engine, err := NewEngine(Config{
		Pool:      mock,
		Sealer:    sealer,
		Publisher: pub,
		Logger:    logging.New("error"),
		Now:       func() time.Time { return testNow },
	})
	require.NoError(t, err)

	tenantID := uuid.New()
	return &fixture{
		mock:      mock,
		engine:    engine,
		publisher: pub,
		sealer:    sealer,
		tenantID:  tenantID,
		doctor:    tenancy.Doctor(tenantID, uuid.New()),
		desk:      tenancy.Receptionist(tenantID, uuid.New()),
	}
}

func q(sql string) string { return regexp.QuoteMeta(sql) }

var appointmentCols = []string{
	"id", "tenant_id", "patient_id", "appointment_number", "appointment_date",
	"appointment_time", "reason", "process", "status",
	"fees", "extra_fees", "follow_up", "note", "investigation",
	"chief_complaints", "diagnosis", "prescription", "parameters",
	"payment_mode", "document", "created_at",
	"patient_code", "name",
}

type apptRow struct {
	id, tenantID, patientID uuid.UUID
	number                  int
	date                    time.Time
	status                  Status
	fees                    int64
	parameters              []byte
	prescription            []byte
	diagnosis               string
	paymentMode             string
	document                string
}

func (f *fixture) appt(status Status, date time.Time) apptRow {
	return apptRow{
		id:        uuid.New(),
		tenantID:  f.tenantID,
		patientID: uuid.New(),
		number:    1,
		date:      date,
		status:    status,
	}
}

func (r apptRow) rows() *pgxmock.Rows {
	return pgxmock.NewRows(appointmentCols).AddRow(
		r.id, r.tenantID, r.patientID, r.number, r.date,
		"10:00", "Consultation", "checkup", string(r.status),
		r.fees, int64(0), nil, "", "",
		"", r.diagnosis, r.prescription, r.parameters,
		r.paymentMode, r.document, testNow.Add(-time.Hour),
		"JD12345", "John Doe",
	)
}

func (f *fixture) expectTenant(lock bool) {
	query := "SELECT id, COALESCE(timezone, '') FROM tenants WHERE id = $1"
	if lock {
		query += " FOR UPDATE"
	}
	f.mock.ExpectQuery(q(query)).
		WithArgs(f.tenantID).
		WillReturnRows(pgxmock.NewRows([]string{"id", "timezone"}).AddRow(f.tenantID, ""))
}

func (f *fixture) expectLockAppointment(r apptRow) {
	f.mock.ExpectQuery(q("FOR UPDATE OF a")).
		WithArgs(r.id, f.tenantID).
		WillReturnRows(r.rows())
}

func (f *fixture) expectLockPatient(id uuid.UUID) {
	f.mock.ExpectQuery(q("SELECT id, patient_code, name")).
		WithArgs(id, f.tenantID).
		WillReturnRows(pgxmock.NewRows([]string{"id", "patient_code", "name"}).AddRow(id, "JD12345", "John Doe"))
}

func (f *fixture) expectConflictCheck(patientID uuid.UUID, day time.Time, exclude uuid.UUID, exists bool) {
	f.mock.ExpectQuery(q("SELECT EXISTS (SELECT 1 FROM appointments WHERE patient_id = $1")).
		WithArgs(patientID, day, exclude).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(exists))
}

func auditArgs(action string) []any {
	args := make([]any, 18)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	args[1] = action
	return args
}

func (f *fixture) expectAudit(action string) {
	f.mock.ExpectExec(q("INSERT INTO audit_logs")).
		WithArgs(auditArgs(action)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
}

func (f *fixture) expectMet(t *testing.T) {
	t.Helper()
	require.NoError(t, f.mock.ExpectationsWereMet())
}
