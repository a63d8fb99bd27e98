package handler

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/yourorg/valetgate/internal/domain"
	"github.com/yourorg/valetgate/internal/security"
	"github.com/yourorg/valetgate/internal/security/auth"
	"github.com/yourorg/valetgate/internal/service"
)

func newLiveFeedFixture() (*LiveFeedHandler, *auth.TokenManager) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tm := auth.NewTokenManager("live-test-secret", "valetgate-test")
	return NewLiveFeedHandler(tm, security.NewAuthorizationService(logger), logger, nil), tm
}

func mintLiveToken(t *testing.T, tm *auth.TokenManager, role domain.Role, tenantID string) string {
	t.Helper()
	token, err := tm.Generate("user-1", "tester", role, tenantID, time.Hour)
	if err != nil {
		t.Fatalf("failed to mint token: %v", err)
	}
	return token
}

func TestLiveFeedGates(t *testing.T) {
	h, tm := newLiveFeedFixture()
	srv := httptest.NewServer(h)
	defer srv.Close()

	tests := []struct {
		name  string
		query string
		want  int
	}{
		{"missing token", "", http.StatusUnauthorized},
		{"garbage token", "?token=not-a-token", http.StatusUnauthorized},
		{"operator role", "?token=" + mintLiveToken(t, tm, domain.RoleOperator, "tenant-1"), http.StatusForbidden},
		{"foreign tenant filter", "?token=" + mintLiveToken(t, tm, domain.RoleAdmin, "tenant-1") + "&tenant_id=tenant-2", http.StatusForbidden},
		{"tenant-less session narrowing", "?token=" + mintLiveToken(t, tm, domain.RoleAdmin, "") + "&tenant_id=tenant-1", http.StatusForbidden},
		// A plain GET that passes every gate stops at the upgrade handshake.
		{"own tenant filter", "?token=" + mintLiveToken(t, tm, domain.RoleAdmin, "tenant-1") + "&tenant_id=tenant-1", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Get(srv.URL + tt.query)
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("expected status %d, got %d", tt.want, resp.StatusCode)
			}
		})
	}
}

func TestLiveFeedFiltersEventsByTenant(t *testing.T) {
	h, tm := newLiveFeedFixture()
	srv := httptest.NewServer(h)
	defer srv.Close()

	wsURL := strings.Replace(srv.URL, "http", "ws", 1) +
		"?token=" + mintLiveToken(t, tm, domain.RoleAdmin, "tenant-1")
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	defer ws.Close()

	// Registration happens on the server goroutine after the handshake.
	deadline := time.Now().Add(2 * time.Second)
	for {
		h.mu.Lock()
		n := len(h.clients)
		h.mu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("client was never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	h.NotifyValidation(service.ValidationEvent{KeyID: "key-other", TenantID: "tenant-2", Outcome: "valid"})
	h.NotifyValidation(service.ValidationEvent{KeyID: "key-mine", TenantID: "tenant-1", Outcome: "valid"})

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var event service.ValidationEvent
	if err := ws.ReadJSON(&event); err != nil {
		t.Fatalf("failed to read event: %v", err)
	}
	if event.TenantID != "tenant-1" || event.KeyID != "key-mine" {
		t.Errorf("expected only the tenant-1 event, got %+v", event)
	}
}
