package scheduling

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDayOfUsesTenantZone(t *testing.T) {
	kolkata, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)

	// 20:00 UTC on Apr 30 is already May 1 in Kolkata.
	instant := time.Date(2024, 4, 30, 20, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), DayOf(instant, kolkata))
	assert.Equal(t, time.Date(2024, 4, 30, 0, 0, 0, 0, time.UTC), DayOf(instant, time.UTC))
}

func TestParseDay(t *testing.T) {
	d, err := ParseDay("2024-05-01")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), d)

	for _, raw := range []string{"tomorrow", "2024-05-02T01:00:00+05:30", "2024-04-30T20:00:00Z", "02/05/2024"} {
		_, err = ParseDay(raw)
		assert.Error(t, err, raw)
	}
}

func TestLocationFallback(t *testing.T) {
	assert.Equal(t, time.UTC, Location("Not/AZone", nil))
	fb := time.FixedZone("X", 3600)
	assert.Equal(t, fb, Location("", fb))
}

func TestIsFuture(t *testing.T) {
	today := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	assert.False(t, IsFuture(today, today))
	assert.False(t, IsFuture(today.AddDate(0, 0, -1), today))
	assert.True(t, IsFuture(today.AddDate(0, 0, 1), today))
}

func TestDayComparisonIgnoresLocation(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	today := time.Date(2024, 5, 1, 0, 0, 0, 0, ny)
	wire := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	assert.True(t, SameDay(wire, today))
	assert.False(t, IsPast(wire, today))
	assert.False(t, IsFuture(wire, today))
	assert.True(t, IsPast(wire.AddDate(0, 0, -1), today))
}

func TestHasConflict(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	patientID := uuid.New()
	day := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(patientID, day, uuid.Nil).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	conflict, err := NewChecker().HasConflict(context.Background(), mock, patientID, day, uuid.Nil)
	require.NoError(t, err)
	assert.True(t, conflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNextOrdinalCountsEveryBooking(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	tenantID := uuid.New()
	day := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT COUNT").
		WithArgs(tenantID, day).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(3))

	n, err := NewChecker().NextOrdinal(context.Background(), mock, tenantID, day)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestNextOrdinalWrapsStoreErrors(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	tenantID := uuid.New()
	day := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery("SELECT COUNT").
		WithArgs(tenantID, day).
		WillReturnError(errors.New("boom"))
	_, err = NewChecker().NextOrdinal(context.Background(), mock, tenantID, day)
	assert.ErrorContains(t, err, "scheduling: count day appointments: boom")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestZonesCachesLookups(t *testing.T) {
	zones := NewZones(nil)

	first := zones.Lookup("Asia/Kolkata")
	assert.Equal(t, "Asia/Kolkata", first.String())
	assert.Same(t, first, zones.Lookup("Asia/Kolkata"))

	assert.Same(t, time.UTC, zones.Lookup(""))
	assert.Same(t, time.UTC, zones.Lookup("Not/AZone"))

	kolkata := zones.Lookup("Asia/Kolkata")
	withFallback := NewZones(kolkata)
	assert.Same(t, kolkata, withFallback.Lookup("Not/AZone"))
	assert.Same(t, kolkata, withFallback.Lookup(""))
}
