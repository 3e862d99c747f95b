package middleware

import (
	"net/http"
	"strings"
)

const (
	corsAllowHeaders  = "Authorization, Content-Type, X-Request-ID"
	corsAllowMethods  = "GET, POST, PUT, PATCH, OPTIONS"
	corsExposeHeaders = "X-Request-ID, X-RateLimit-Limit, X-RateLimit-Remaining"
)

// CORS answers browser preflights for the front-desk and doctor consoles.
// An allowedOrigins entry of "*" echoes any Origin back.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	origins := parseOrigins(allowedOrigins)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := strings.TrimSpace(r.Header.Get("Origin"))
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}
			if origins.allows(origin) {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Add("Vary", "Origin")
				h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
				h.Set("Access-Control-Allow-Methods", corsAllowMethods)
				h.Set("Access-Control-Expose-Headers", corsExposeHeaders)
				h.Set("Access-Control-Max-Age", "600")
			}
			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type originSet struct {
	any   bool
	exact map[string]struct{}
}

func parseOrigins(raw []string) originSet {
	set := originSet{exact: make(map[string]struct{}, len(raw))}
	for _, origin := range raw {
		switch origin = strings.TrimRight(strings.TrimSpace(origin), "/"); origin {
		case "":
		case "*":
			set.any = true
		default:
			set.exact[origin] = struct{}{}
		}
	}
	return set
}

func (s originSet) allows(origin string) bool {
	if s.any {
		return true
	}
	_, ok := s.exact[origin]
	return ok
}
