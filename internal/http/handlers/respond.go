package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wolfman30/clinic-queue/internal/queue"
	"github.com/wolfman30/clinic-queue/internal/scheduling"
	"github.com/wolfman30/clinic-queue/internal/tenancy"
	"github.com/wolfman30/clinic-queue/pkg/logging"
)

const maxBodyBytes = 8 << 20

type errorBody struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func jsonError(w http.ResponseWriter, msg string, status int) {
	writeJSON(w, status, errorBody{Error: msg})
}

// writeQueueError maps a rejected command onto an HTTP status. Infrastructure
// failures are logged and reported without detail.
func writeQueueError(w http.ResponseWriter, logger *logging.Logger, op string, err error) {
	var qerr *queue.Error
	if !errors.As(err, &qerr) {
		qerr = &queue.Error{Kind: queue.KindInfrastructureFailure, Err: err}
	}
	status := http.StatusInternalServerError
	switch qerr.Kind {
	case queue.KindNotFound:
		status = http.StatusNotFound
	case queue.KindInvalidState, queue.KindValidationFailure:
		status = http.StatusBadRequest
	case queue.KindConflict:
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		logger.Error("queue command failed", "op", op, "error", err)
		writeJSON(w, status, errorBody{Error: "internal error", Reason: string(queue.KindInfrastructureFailure)})
		return
	}
	writeJSON(w, status, errorBody{Error: qerr.Message, Reason: qerr.Reason})
}

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func actorOrReject(w http.ResponseWriter, r *http.Request) (tenancy.Actor, bool) {
	actor, ok := tenancy.ActorFromContext(r.Context())
	if !ok {
		jsonError(w, "unauthorized", http.StatusUnauthorized)
	}
	return actor, ok
}

func idParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(strings.TrimSpace(chi.URLParam(r, name)))
	if err != nil {
		jsonError(w, "invalid "+name, http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

// parseDay reads a wire calendar day (YYYY-MM-DD). An empty value yields nil.
func parseDay(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	d, err := scheduling.ParseDay(raw)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
