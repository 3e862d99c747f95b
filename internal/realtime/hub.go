// Package realtime pushes queue notifications to the doctor and receptionist
// terminals of a tenant over websockets.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wolfman30/clinic-queue/internal/auth"
	"github.com/wolfman30/clinic-queue/internal/events"
	"github.com/wolfman30/clinic-queue/internal/observability/metrics"
	"github.com/wolfman30/clinic-queue/internal/tenancy"
	"github.com/wolfman30/clinic-queue/pkg/logging"
)

// Close codes sent to terminals rejected during admission.
const (
	CloseTokenMissing = 4001
	CloseTokenInvalid = 4002
)

const (
	defaultHeartbeat  = 30 * time.Second
	defaultSendBuffer = 32
)

// Authenticator resolves a bearer token to a staff identity.
type Authenticator interface {
	Authenticate(token string) (tenancy.Actor, error)
}

// Options tunes a Hub. Zero values fall back to defaults.
type Options struct {
	HeartbeatInterval time.Duration
	SendBuffer        int
	AllowedOrigins    []string
	Metrics           *metrics.HubMetrics
}

// Hub admits terminal connections and fans notifications out to them.
type Hub struct {
	registry  *Registry
	auth      Authenticator
	upgrader  websocket.Upgrader
	heartbeat time.Duration
	buffer    int
	metrics   *metrics.HubMetrics
	logger    *logging.Logger
}

// NewHub constructs a hub.
func NewHub(authn Authenticator, logger *logging.Logger, opts Options) *Hub {
	if logger == nil {
		logger = logging.Default()
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = defaultHeartbeat
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaultSendBuffer
	}
	h := &Hub{
		registry:  newRegistry(),
		auth:      authn,
		heartbeat: opts.HeartbeatInterval,
		buffer:    opts.SendBuffer,
		metrics:   opts.Metrics,
		logger:    logger,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(opts.AllowedOrigins),
	}
	return h
}

// Registry exposes the live connection registry.
func (h *Hub) Registry() *Registry {
	return h.registry
}

// ServeHTTP upgrades the request and admits the terminal. Credential
// failures are reported with a close frame after the upgrade.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err, "remote_addr", r.RemoteAddr)
		return
	}

	token := r.URL.Query().Get("token")
	if token == "" {
		token = auth.BearerToken(r.Header.Get("Authorization"))
	}
	actor, err := h.auth.Authenticate(token)
	if err != nil {
		rejected := newClient(tenancy.Actor{}, conn, 1)
		if errors.Is(err, auth.ErrMissingToken) {
			h.metrics.ObserveRejected("missing_token")
			rejected.closeWith(CloseTokenMissing, "Token missing")
			return
		}
		h.metrics.ObserveRejected("invalid_token")
		h.logger.Warn("websocket token rejected", "error", err, "remote_addr", r.RemoteAddr)
		rejected.closeWith(CloseTokenInvalid, "Invalid token")
		return
	}

	c := newClient(actor, conn, h.buffer)
	if prev := h.registry.add(c); prev != nil {
		h.metrics.ConnectionClosed(string(prev.actor.Role()))
		prev.closeWith(websocket.CloseNormalClosure, "Replaced by newer connection")
	}
	h.metrics.ConnectionOpened(string(actor.Role()))
	h.logger.Info("terminal connected",
		"tenant_id", actor.TenantID().String(),
		"role", string(actor.Role()),
		"staff_id", actor.ID().String(),
	)

	greeting, _ := json.Marshal(map[string]string{"type": "info", "message": "Connected to WebSocket server"})
	c.enqueue(greeting)

	go c.writePump()
	go c.readPump(func() { h.drop(c) })
}

// drop unregisters and shuts down c.
func (h *Hub) drop(c *client) {
	if h.registry.remove(c) {
		h.metrics.ConnectionClosed(string(c.actor.Role()))
		h.logger.Debug("terminal disconnected",
			"tenant_id", c.actor.TenantID().String(),
			"role", string(c.actor.Role()),
		)
	}
	c.shutdown()
}

// Publish delivers n to every live connection of its tenant and returns the
// number of connections it was queued for. It never blocks: a connection
// whose buffer is full misses the notification.
func (h *Hub) Publish(n events.Notification) int {
	targets := h.registry.tenant(n.TenantID)
	if len(targets) == 0 {
		return 0
	}
	payload, err := n.Encode()
	if err != nil {
		h.logger.Error("failed to encode notification", "error", err, "event", string(n.Type))
		return 0
	}
	h.metrics.ObservePublish(string(n.Type))

	delivered := 0
	for _, c := range targets {
		if c.enqueue(payload) {
			delivered++
			continue
		}
		h.metrics.ObserveDrop()
		h.logger.Warn("notification dropped",
			"tenant_id", n.TenantID.String(),
			"event", string(n.Type),
			"role", string(c.actor.Role()),
		)
	}
	return delivered
}

// Run drives the heartbeat until ctx is cancelled, then closes every
// connection.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.Close()
			return
		case <-ticker.C:
			h.sweep()
		}
	}
}

// sweep terminates connections that missed the previous ping and pings the
// rest.
func (h *Hub) sweep() {
	for _, c := range h.registry.all() {
		if !c.alive.Swap(false) {
			h.metrics.ObserveReap()
			h.logger.Info("terminating unresponsive terminal",
				"tenant_id", c.actor.TenantID().String(),
				"role", string(c.actor.Role()),
			)
			h.drop(c)
			continue
		}
		if err := c.ping(); err != nil {
			h.drop(c)
		}
	}
}

// Close terminates all connections.
func (h *Hub) Close() {
	for _, c := range h.registry.all() {
		if h.registry.remove(c) {
			h.metrics.ConnectionClosed(string(c.actor.Role()))
		}
		c.closeWith(websocket.CloseGoingAway, "Server shutting down")
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		o = strings.TrimSpace(o)
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[strings.TrimRight(o, "/")] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[strings.TrimRight(origin, "/")]
		return ok
	}
}
