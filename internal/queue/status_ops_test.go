package queue

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinic-queue/internal/events"
	"github.com/wolfman30/clinic-queue/internal/tenancy"
)

func TestSetStatusInProgressDemotesPreviousInSameTransaction(t *testing.T) {
	f := newFixture(t)
	r := f.appt(StatusPending, testToday)

	f.mock.ExpectBegin()
	f.expectTenant(true)
	f.expectLockAppointment(r)
	f.mock.ExpectExec(q("UPDATE appointments SET status = 'out', updated_at = $3")).
		WithArgs(f.tenantID, r.id, testNow).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	f.mock.ExpectExec(q("UPDATE appointments SET status = $2, updated_at = $3 WHERE id = $1")).
		WithArgs(r.id, "in", testNow).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	f.expectAudit("Set appointment in")
	f.mock.ExpectCommit()

	a, err := f.engine.SetStatus(context.Background(), f.desk, r.id, StatusInProgress)
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, a.Status)
	f.expectMet(t)

	require.Len(t, f.publisher.sent, 1)
	n := f.publisher.sent[0]
	assert.Equal(t, events.TypeAppointmentUpdated, n.Type)
	assert.Equal(t, f.tenantID, n.TenantID)
	snap := n.Data.(events.AppointmentSnapshot)
	assert.Equal(t, "in", snap.Status)
	assert.Equal(t, "JD12345", snap.Patient.Code)
}

func TestSetStatusCompletedFromInProgress(t *testing.T) {
	f := newFixture(t)
	r := f.appt(StatusInProgress, testToday)

	f.mock.ExpectBegin()
	f.expectTenant(true)
	f.expectLockAppointment(r)
	f.mock.ExpectExec(q("UPDATE appointments SET status = $2")).
		WithArgs(r.id, "out", testNow).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	f.expectAudit("Set appointment out")
	f.mock.ExpectCommit()

	a, err := f.engine.SetStatus(context.Background(), f.doctor, r.id, StatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, a.Status)
	f.expectMet(t)
}

func TestSetStatusRejectionsRollBackWithoutAudit(t *testing.T) {
	cases := []struct {
		name   string
		from   Status
		target Status
		reason string
	}{
		{"cancelled", StatusCancelled, StatusInProgress, ReasonCancelled},
		{"already completed", StatusCompleted, StatusInProgress, ReasonAlreadyCompleted},
		{"completed again", StatusCompleted, StatusCompleted, ReasonAlreadyCompleted},
		{"skip check-in", StatusPending, StatusCompleted, ReasonNotCheckedIn},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			r := f.appt(tc.from, testToday)

			f.mock.ExpectBegin()
			f.expectTenant(true)
			f.expectLockAppointment(r)
			f.mock.ExpectRollback()

			_, err := f.engine.SetStatus(context.Background(), f.desk, r.id, tc.target)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidState))
			assert.Equal(t, tc.reason, ReasonOf(err))
			assert.Empty(t, f.publisher.sent)
			f.expectMet(t)
		})
	}
}

func TestSetStatusNotFound(t *testing.T) {
	f := newFixture(t)
	id := uuid.New()

	f.mock.ExpectBegin()
	f.expectTenant(true)
	f.mock.ExpectQuery(q("FOR UPDATE OF a")).
		WithArgs(id, f.tenantID).
		WillReturnRows(pgxmock.NewRows(appointmentCols))
	f.mock.ExpectRollback()

	_, err := f.engine.SetStatus(context.Background(), f.desk, id, StatusInProgress)
	assert.True(t, errors.Is(err, ErrNotFound))
	f.expectMet(t)
}

func TestSetStatusRejectsUnsupportedTarget(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.SetStatus(context.Background(), f.desk, uuid.New(), StatusCancelled)
	assert.True(t, errors.Is(err, ErrValidationFailure))
	f.expectMet(t)
}

func TestSetStatusCommitFailureIsInfrastructureFailure(t *testing.T) {
	f := newFixture(t)
	r := f.appt(StatusInProgress, testToday)

	f.mock.ExpectBegin()
	f.expectTenant(true)
	f.expectLockAppointment(r)
	f.mock.ExpectExec(q("UPDATE appointments SET status = $2")).
		WithArgs(r.id, "out", testNow).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	f.expectAudit("Set appointment out")
	f.mock.ExpectCommit().WillReturnError(errors.New("connection reset"))

	_, err := f.engine.SetStatus(context.Background(), f.desk, r.id, StatusCompleted)
	assert.Equal(t, KindInfrastructureFailure, KindOf(err))
	assert.Empty(t, f.publisher.sent, "nothing is published for an uncommitted change")
	f.expectMet(t)
}

func TestAuditFailureRollsBackMutation(t *testing.T) {
	f := newFixture(t)
	r := f.appt(StatusInProgress, testToday)

	f.mock.ExpectBegin()
	f.expectTenant(true)
	f.expectLockAppointment(r)
	f.mock.ExpectExec(q("UPDATE appointments SET status = $2")).
		WithArgs(r.id, "out", testNow).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	f.mock.ExpectExec(q("INSERT INTO audit_logs")).
		WithArgs(auditArgs("Set appointment out")...).
		WillReturnError(errors.New("audit table locked"))
	f.mock.ExpectRollback()

	_, err := f.engine.SetStatus(context.Background(), f.desk, r.id, StatusCompleted)
	assert.True(t, errors.Is(err, ErrInfrastructureFailure))
	assert.Empty(t, f.publisher.sent)
	f.expectMet(t)
}

func TestCommandsRequireActor(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.SetStatus(context.Background(), tenancy.Actor{}, uuid.New(), StatusInProgress)
	assert.Equal(t, ReasonMissingActor, ReasonOf(err))
	f.expectMet(t)
}

func TestFirstAppointmentByRole(t *testing.T) {
	f := newFixture(t)
	r := f.appt(StatusInProgress, testToday)

	f.expectTenant(false)
	f.mock.ExpectQuery(q("ORDER BY COALESCE(a.status, '') DESC, a.created_at ASC")).
		WithArgs(f.tenantID, testToday, []string{"in"}).
		WillReturnRows(r.rows())

	a, err := f.engine.FirstAppointment(context.Background(), f.doctor)
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, r.id, a.ID)

	f.expectTenant(false)
	f.mock.ExpectQuery(q("ORDER BY COALESCE(a.status, '') DESC")).
		WithArgs(f.tenantID, testToday, []string{"in", ""}).
		WillReturnRows(pgxmock.NewRows(appointmentCols))

	a, err = f.engine.FirstAppointment(context.Background(), f.desk)
	require.NoError(t, err)
	assert.Nil(t, a)
	f.expectMet(t)
}
