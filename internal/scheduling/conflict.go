package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Querier is satisfied by pgx pools and transactions. Callers pass their
// active transaction so checks and writes share one snapshot and lock set.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Checker validates date collisions and numbers bookings within a day.
type Checker struct{}

// NewChecker constructs a Checker.
func NewChecker() *Checker { return &Checker{} }

// HasConflict reports whether the patient already has an appointment on day,
// ignoring excludeID (the appointment being moved, if any).
func (c *Checker) HasConflict(ctx context.Context, q Querier, patientID uuid.UUID, day time.Time, excludeID uuid.UUID) (bool, error) {
	var exists bool
	err := q.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM appointments WHERE patient_id = $1 AND appointment_date = $2 AND id <> $3)`,
		patientID, day, excludeID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("scheduling: conflict lookup: %w", err)
	}
	return exists, nil
}

// NextOrdinal returns the number of the tenant's appointments on day plus one.
// Cancelled appointments still count, so ordinals are assigned once and never
// renumbered.
func (c *Checker) NextOrdinal(ctx context.Context, q Querier, tenantID uuid.UUID, day time.Time) (int, error) {
	var count int
	err := q.QueryRow(ctx,
		`SELECT COUNT(*) FROM appointments WHERE tenant_id = $1 AND appointment_date = $2`,
		tenantID, day,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("scheduling: count day appointments: %w", err)
	}
	return count + 1, nil
}
