package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func captureLogger() (*Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	return NewLogger(slog.New(slog.NewJSONHandler(buf, nil))), buf
}

func lastEvent(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	event := map[string]any{}
	if err := json.Unmarshal(buf.Bytes(), &event); err != nil {
		t.Fatalf("failed to decode audit event: %v", err)
	}
	return event
}

func TestLogActionCarriesRequestID(t *testing.T) {
	al, buf := captureLogger()
	ctx := WithRequestID(context.Background(), "req-42")

	al.LogKeyRevoked(ctx, "tenant-1", "user-1", "key-1", "non-payment")

	event := lastEvent(t, buf)
	if event["request_id"] != "req-42" {
		t.Errorf("expected request_id req-42, got %v", event["request_id"])
	}
	if event["action"] != "revoke" || event["resource_id"] != "key-1" {
		t.Errorf("unexpected event fields: %v", event)
	}
}

func TestLogActionWithoutRequestID(t *testing.T) {
	al, buf := captureLogger()

	al.LogKeyIssued(context.Background(), "tenant-1", "user-1", "key-1")

	event := lastEvent(t, buf)
	if event["request_id"] != "" {
		t.Errorf("expected empty request_id, got %v", event["request_id"])
	}
}

func TestRequestIDRoundTrip(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-7")
	if got := RequestIDFromContext(ctx); got != "req-7" {
		t.Errorf("expected req-7, got %q", got)
	}
	if got := RequestIDFromContext(context.Background()); got != "" {
		t.Errorf("expected empty id on bare context, got %q", got)
	}
}
