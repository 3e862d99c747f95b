package middleware

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/wolfman30/clinic-queue/internal/auth"
	"github.com/wolfman30/clinic-queue/internal/tenancy"
)

// Authenticator resolves a raw bearer token to a staff actor.
type Authenticator interface {
	Authenticate(raw string) (tenancy.Actor, error)
}

// StaffAuth requires a valid staff bearer token and stores the actor in the
// request context.
func StaffAuth(authn Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := auth.BearerToken(r.Header.Get("Authorization"))
			actor, err := authn.Authenticate(raw)
			if err != nil {
				msg := "invalid token"
				if errors.Is(err, auth.ErrMissingToken) {
					msg = "missing authorization header"
				}
				unauthorized(w, msg)
				return
			}
			next.ServeHTTP(w, r.WithContext(tenancy.WithActor(r.Context(), actor)))
		})
	}
}

// RequireRole rejects actors whose role is not in roles.
func RequireRole(roles ...tenancy.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := tenancy.ActorFromContext(r.Context())
			if !ok {
				unauthorized(w, "missing authorization header")
				return
			}
			for _, role := range roles {
				if actor.Role() == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusForbidden)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "role not permitted"})
		})
	}
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
