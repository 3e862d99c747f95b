// Package auth verifies the bearer credentials carried by staff terminals.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/wolfman30/clinic-queue/internal/tenancy"
)

var (
	ErrMissingToken = errors.New("auth: token missing")
	ErrInvalidToken = errors.New("auth: invalid token")
	ErrNoSecret     = errors.New("auth: signing secret not configured")
)

// Claims is the staff token payload. Subject holds the staff member id.
type Claims struct {
	Role     string `json:"role"`
	TenantID string `json:"hospital_id"`
	jwt.RegisteredClaims
}

// Verifier checks HMAC-signed staff tokens.
type Verifier struct {
	secret []byte
}

// NewVerifier returns a verifier for secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Authenticate parses a raw token into the acting staff member.
func (v *Verifier) Authenticate(raw string) (tenancy.Actor, error) {
	if len(v.secret) == 0 {
		return tenancy.Actor{}, ErrNoSecret
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return tenancy.Actor{}, ErrMissingToken
	}
	claims := Claims{}
	token, err := jwt.ParseWithClaims(raw, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return tenancy.Actor{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	role, err := tenancy.ParseRole(claims.Role)
	if err != nil {
		return tenancy.Actor{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	staffID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return tenancy.Actor{}, fmt.Errorf("%w: subject: %v", ErrInvalidToken, err)
	}
	tenantID, err := uuid.Parse(claims.TenantID)
	if err != nil {
		return tenancy.Actor{}, fmt.Errorf("%w: tenant: %v", ErrInvalidToken, err)
	}
	return tenancy.NewActor(role, tenantID, staffID)
}

// Issue signs a token for actor valid for ttl.
func (v *Verifier) Issue(actor tenancy.Actor, ttl time.Duration) (string, error) {
	if len(v.secret) == 0 {
		return "", ErrNoSecret
	}
	now := time.Now()
	claims := Claims{
		Role:     string(actor.Role()),
		TenantID: actor.TenantID().String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID().String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// BearerToken extracts the token from an "Authorization: Bearer x" value.
func BearerToken(header string) string {
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}
