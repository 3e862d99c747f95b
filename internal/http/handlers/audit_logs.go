package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/wolfman30/clinic-queue/internal/audit"
	"github.com/wolfman30/clinic-queue/pkg/logging"
)

// AuditQuerier lists audit entries.
type AuditQuerier interface {
	Query(ctx context.Context, filter audit.Filter) ([]audit.Record, error)
}

// AuditLogHandler exposes the caller's tenant audit trail.
type AuditLogHandler struct {
	reader AuditQuerier
	logger *logging.Logger
}

// NewAuditLogHandler creates an audit log handler.
func NewAuditLogHandler(reader AuditQuerier, logger *logging.Logger) *AuditLogHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &AuditLogHandler{reader: reader, logger: logger}
}

// List returns audit entries, newest first.
// GET /api/audit-logs?entity=&entityId=&action=&start=&end=&limit=&offset=
func (h *AuditLogHandler) List(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorOrReject(w, r)
	if !ok {
		return
	}
	if h.reader == nil {
		jsonError(w, "audit log disabled", http.StatusServiceUnavailable)
		return
	}
	q := r.URL.Query()
	filter := audit.Filter{
		TenantID: actor.TenantID().String(),
		Entity:   q.Get("entity"),
		EntityID: q.Get("entityId"),
		Action:   q.Get("action"),
	}
	for key, dst := range map[string]*time.Time{"start": &filter.StartTime, "end": &filter.EndTime} {
		raw := q.Get(key)
		if raw == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			jsonError(w, "invalid "+key, http.StatusBadRequest)
			return
		}
		*dst = ts
	}
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))
	filter.Offset, _ = strconv.Atoi(q.Get("offset"))

	records, err := h.reader.Query(r.Context(), filter)
	if err != nil {
		h.logger.Error("failed to query audit logs", "tenant_id", filter.TenantID, "error", err)
		jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []audit.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": records})
}
