package router

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/clinic-queue/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/clinic-queue/internal/http/middleware"
	"github.com/wolfman30/clinic-queue/internal/tenancy"
	"github.com/wolfman30/clinic-queue/pkg/logging"
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config holds router configuration
type Config struct {
	Logger             *logging.Logger
	Authenticator      httpmiddleware.Authenticator
	Appointments       *handlers.AppointmentHandler
	Patients           *handlers.PatientHandler
	AuditLogs          *handlers.AuditLogHandler
	Realtime           http.Handler
	MetricsHandler     http.Handler
	RateLimiter        *httpmiddleware.RateLimiter
	CORSAllowedOrigins []string
	DB                 Pinger
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	// Public endpoints
	r.Group(func(public chi.Router) {
		public.Get("/health", healthCheck(cfg.DB))
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
		// The hub authenticates its own upgrades so it can answer with
		// websocket close codes.
		if cfg.Realtime != nil {
			public.Handle("/ws", cfg.Realtime)
		}
	})

	r.Route("/api", func(api chi.Router) {
		api.Use(middleware.Compress(5))
		api.Use(httpmiddleware.RateLimit(cfg.RateLimiter))
		api.Use(httpmiddleware.StaffAuth(cfg.Authenticator))
		api.Use(httpmiddleware.Provenance)

		if p := cfg.Patients; p != nil {
			api.Route("/patients", func(r chi.Router) {
				r.Post("/", p.Register)
				r.Get("/search", p.Search)
				r.Post("/{id}/appointments", p.Book)
				r.Patch("/{id}/special-category", p.ToggleSpecialCategory)
			})
		}

		if a := cfg.Appointments; a != nil {
			api.Route("/appointments", func(r chi.Router) {
				r.Put("/parameters/{id}", a.Parameters)
				r.Post("/payment-mode/{id}", a.PaymentMode)
				r.Post("/prescription/{id}", a.Prescription)
				r.Get("/document/{id}", a.Document)
				r.Get("/patient-appointments/{id}", a.PatientHistory)
				r.Post("/submit-prescription/{id}", a.SubmitPrescription)
				r.Put("/submit-appointment/{id}", a.Submit)
				r.Get("/todays-appointments", a.Today)
				r.Put("/set-current-appointment/{id}", a.SetCurrent)
				r.Get("/current-appointment", a.Current)
				r.Patch("/cancel/{appointmentId}", a.Cancel)
				r.Patch("/re-schedule/{appointmentId}", a.Reschedule)
			})
		}

		if cfg.AuditLogs != nil {
			api.With(httpmiddleware.RequireRole(tenancy.RoleDoctor)).Get("/audit-logs", cfg.AuditLogs.List)
		}
	})

	return r
}

func healthCheck(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := db.Ping(ctx); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"status":"degraded"}`))
				return
			}
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}
}
