package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/wolfman30/clinic-queue/internal/tenancy"
)

func TestIssueAndAuthenticate(t *testing.T) {
	v := NewVerifier("secret")
	tenant := uuid.New()
	staff := uuid.New()

	token, err := v.Issue(tenancy.Receptionist(tenant, staff), time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	actor, err := v.Authenticate(token)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if actor.Role() != tenancy.RoleReceptionist || actor.TenantID() != tenant || actor.ID() != staff {
		t.Fatalf("unexpected actor %v", actor)
	}
}

func TestAuthenticateFailures(t *testing.T) {
	v := NewVerifier("secret")
	if _, err := v.Authenticate(""); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("expected missing token, got %v", err)
	}

	other, _ := NewVerifier("wrong").Issue(tenancy.Doctor(uuid.New(), uuid.New()), time.Minute)
	if _, err := v.Authenticate(other); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected invalid token, got %v", err)
	}

	expired, _ := v.Issue(tenancy.Doctor(uuid.New(), uuid.New()), -time.Minute)
	if _, err := v.Authenticate(expired); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected expired token to be invalid, got %v", err)
	}

	badRole := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role:             "admin",
		TenantID:         uuid.NewString(),
		RegisteredClaims: jwt.RegisteredClaims{Subject: uuid.NewString()},
	})
	signed, _ := badRole.SignedString([]byte("secret"))
	if _, err := v.Authenticate(signed); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected unknown role to be invalid, got %v", err)
	}

	if _, err := NewVerifier("").Authenticate("x"); !errors.Is(err, ErrNoSecret) {
		t.Fatalf("expected no secret, got %v", err)
	}
}

func TestBearerToken(t *testing.T) {
	if got := BearerToken("Bearer abc"); got != "abc" {
		t.Fatalf("unexpected %q", got)
	}
	if got := BearerToken("Basic abc"); got != "" {
		t.Fatalf("unexpected %q", got)
	}
}
