package handler

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/yourorg/valetgate/internal/observability/metrics"
	"github.com/yourorg/valetgate/internal/security"
	"github.com/yourorg/valetgate/internal/security/auth"
	"github.com/yourorg/valetgate/internal/service"
)

// LiveFeedHandler streams validation events to admin dashboards over
// WebSocket. It implements service.ValidationNotifier.
type LiveFeedHandler struct {
	tokens         *auth.TokenManager
	authz          *security.AuthorizationService
	logger         *slog.Logger
	allowedOrigins []string

	mu      sync.Mutex
	clients map[*websocket.Conn]string // conn -> tenant filter ("" = all)
}

// NewLiveFeedHandler creates a new live feed handler
func NewLiveFeedHandler(tokens *auth.TokenManager, authz *security.AuthorizationService, logger *slog.Logger, allowedOrigins []string) *LiveFeedHandler {
	return &LiveFeedHandler{
		tokens:         tokens,
		authz:          authz,
		logger:         logger,
		allowedOrigins: allowedOrigins,
		clients:        map[*websocket.Conn]string{},
	}
}

// upgrader is initialized per-request to use instance's allowed origins
func (h *LiveFeedHandler) getUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				// Allow requests with no origin (e.g., non-browser clients)
				return true
			}
			for _, allowed := range h.allowedOrigins {
				if origin == allowed {
					return true
				}
			}
			h.logger.Warn("websocket origin rejected", slog.String("origin", origin))
			return false
		},
	}
}

// ServeHTTP handles GET /ws/validations?token=... The token travels as a
// query parameter because browsers cannot set headers on WebSocket dials.
func (h *LiveFeedHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	tokenString := r.URL.Query().Get("token")
	if tokenString == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}
	claims, err := h.tokens.Validate(tokenString)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}
	if err := h.authz.ValidatePermission(claims.Role, security.PermViewAuditLog); err != nil {
		http.Error(w, "access denied", http.StatusForbidden)
		return
	}

	// An admin bound to a tenant only sees that tenant's events. Narrowing
	// to an explicit tenant requires holding that tenant's claim.
	filter := claims.TenantID
	if requested := r.URL.Query().Get("tenant_id"); requested != "" {
		if err := h.authz.ValidateTenantAccess(claims.TenantID, requested); err != nil {
			http.Error(w, "access denied", http.StatusForbidden)
			return
		}
		filter = requested
	}

	upgrader := h.getUpgrader()
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	h.register(ws, filter)
	h.logger.Info("live feed client connected",
		slog.String("user_id", claims.UserID),
		slog.String("tenant_id", claims.TenantID),
	)

	go h.keepAlive(ws)

	// Reads are discarded; the read loop exists to detect disconnects.
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			break
		}
	}
	h.unregister(ws)
}

func (h *LiveFeedHandler) register(ws *websocket.Conn, tenantFilter string) {
	h.mu.Lock()
	h.clients[ws] = tenantFilter
	h.mu.Unlock()
	metrics.IncrementLiveFeedClients()
}

func (h *LiveFeedHandler) unregister(ws *websocket.Conn) {
	h.mu.Lock()
	if _, ok := h.clients[ws]; ok {
		delete(h.clients, ws)
		metrics.DecrementLiveFeedClients()
	}
	h.mu.Unlock()
	ws.Close()
}

func (h *LiveFeedHandler) keepAlive(ws *websocket.Conn) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		if err := ws.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(5*time.Second)); err != nil {
			return
		}
	}
}

// NotifyValidation fans a validation event out to connected clients. Slow or
// broken clients are dropped rather than blocking the validation path.
func (h *LiveFeedHandler) NotifyValidation(event service.ValidationEvent) {
	h.mu.Lock()
	conns := make(map[*websocket.Conn]string, len(h.clients))
	for ws, filter := range h.clients {
		conns[ws] = filter
	}
	h.mu.Unlock()

	for ws, filter := range conns {
		if filter != "" && filter != event.TenantID {
			continue
		}
		ws.SetWriteDeadline(time.Now().Add(2 * time.Second))
		if err := ws.WriteJSON(event); err != nil {
			h.logger.Debug("dropping live feed client", slog.String("error", err.Error()))
			h.unregister(ws)
		}
	}
}
