package tenancy

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

type ctxKey string

const actorKey ctxKey = "clinicqueue.actor"

// Role identifies the kind of staff member acting on a tenant.
type Role string

const (
	RoleDoctor       Role = "doctor"
	RoleReceptionist Role = "receptionist"
)

// ErrUnknownRole is returned when a role string is neither doctor nor receptionist.
var ErrUnknownRole = errors.New("tenancy: unknown role")

// ParseRole maps a credential role claim to a Role.
func ParseRole(raw string) (Role, error) {
	switch Role(raw) {
	case RoleDoctor, RoleReceptionist:
		return Role(raw), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownRole, raw)
}

// Actor is the staff identity behind a command. It is either a Doctor or a
// Receptionist, always bound to exactly one tenant.
type Actor struct {
	role     Role
	id       uuid.UUID
	tenantID uuid.UUID
}

// Doctor builds a doctor actor.
func Doctor(tenantID, doctorID uuid.UUID) Actor {
	return Actor{role: RoleDoctor, id: doctorID, tenantID: tenantID}
}

// Receptionist builds a receptionist actor.
func Receptionist(tenantID, receptionistID uuid.UUID) Actor {
	return Actor{role: RoleReceptionist, id: receptionistID, tenantID: tenantID}
}

// NewActor builds an actor from a parsed role.
func NewActor(role Role, tenantID, id uuid.UUID) (Actor, error) {
	switch role {
	case RoleDoctor:
		return Doctor(tenantID, id), nil
	case RoleReceptionist:
		return Receptionist(tenantID, id), nil
	}
	return Actor{}, fmt.Errorf("%w: %q", ErrUnknownRole, role)
}

func (a Actor) Role() Role          { return a.role }
func (a Actor) ID() uuid.UUID       { return a.id }
func (a Actor) TenantID() uuid.UUID { return a.tenantID }
func (a Actor) IsZero() bool        { return a.role == "" }

// DoctorID returns the doctor id when the actor is a doctor.
func (a Actor) DoctorID() (uuid.UUID, bool) {
	return a.id, a.role == RoleDoctor
}

// ReceptionistID returns the receptionist id when the actor is a receptionist.
func (a Actor) ReceptionistID() (uuid.UUID, bool) {
	return a.id, a.role == RoleReceptionist
}

func (a Actor) String() string {
	return fmt.Sprintf("%s:%s", a.role, a.id)
}

// WithActor stores the acting staff member in context.
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

// ActorFromContext extracts the actor if present.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorKey).(Actor)
	return actor, ok && !actor.IsZero()
}

// TenantIDFromContext extracts the tenant of the acting staff member.
func TenantIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return uuid.Nil, false
	}
	return actor.TenantID(), true
}
