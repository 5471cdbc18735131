package handler

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dukerupert/famcal/internal/auth"
	"github.com/dukerupert/famcal/internal/database"
	"github.com/dukerupert/famcal/internal/model"
	"github.com/dukerupert/famcal/internal/store"
)

func setupPush(t *testing.T, vapidKey string) *http.ServeMux {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	h := NewPushHandler(store.NewPushStore(db), vapidKey, slog.Default())
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/push/vapid-key", h.VAPIDKey)
	mux.HandleFunc("GET /api/push/subscriptions", h.List)
	mux.HandleFunc("POST /api/push/subscriptions", h.Subscribe)
	mux.HandleFunc("DELETE /api/push/subscriptions/{id}", h.Unsubscribe)
	return mux
}

func pushRequest(t *testing.T, mux *http.ServeMux, user, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req = req.WithContext(auth.WithAuth(req.Context(), auth.AuthContext{UserID: user}))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestPushSubscriptionLifecycle(t *testing.T) {
	mux := setupPush(t, "BPublicKey")

	rec := pushRequest(t, mux, "alice", http.MethodGet, "/api/push/vapid-key", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("vapid key: status %d", rec.Code)
	}
	if got := decode[map[string]string](t, rec)["public_key"]; got != "BPublicKey" {
		t.Errorf("public_key = %q, want %q", got, "BPublicKey")
	}

	rec = pushRequest(t, mux, "alice", http.MethodPost, "/api/push/subscriptions", map[string]any{
		"endpoint":       "https://push.example.com/abc",
		"expirationTime": nil,
		"keys":           map[string]string{"p256dh": "BKey", "auth": "secret"},
		"device_name":    "Kitchen tablet",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("subscribe: status %d: %s", rec.Code, rec.Body.String())
	}
	sub := decode[model.PushSubscription](t, rec)
	if sub.UserID != "alice" || sub.DeviceName != "Kitchen tablet" {
		t.Errorf("subscription = %+v", sub)
	}

	rec = pushRequest(t, mux, "alice", http.MethodGet, "/api/push/subscriptions", nil)
	if subs := decode[[]model.PushSubscription](t, rec); len(subs) != 1 {
		t.Errorf("alice has %d subscriptions, want 1", len(subs))
	}
	rec = pushRequest(t, mux, "bob", http.MethodGet, "/api/push/subscriptions", nil)
	if subs := decode[[]model.PushSubscription](t, rec); len(subs) != 0 {
		t.Errorf("bob has %d subscriptions, want 0", len(subs))
	}

	rec = pushRequest(t, mux, "bob", http.MethodDelete, "/api/push/subscriptions/"+sub.ID, nil)
	expectError(t, rec, http.StatusNotFound, "NOT_FOUND")

	rec = pushRequest(t, mux, "alice", http.MethodDelete, "/api/push/subscriptions/"+sub.ID, nil)
	if rec.Code != http.StatusNoContent {
		t.Errorf("unsubscribe: status %d, want 204", rec.Code)
	}
}

func TestPushSubscribeValidation(t *testing.T) {
	mux := setupPush(t, "BPublicKey")

	tests := []struct {
		name string
		body map[string]any
	}{
		{"http endpoint", map[string]any{"endpoint": "http://push.example.com/a", "keys": map[string]string{"p256dh": "k", "auth": "a"}}},
		{"no endpoint", map[string]any{"keys": map[string]string{"p256dh": "k", "auth": "a"}}},
		{"missing keys", map[string]any{"endpoint": "https://push.example.com/a"}},
		{"unknown field", map[string]any{"endpoint": "https://push.example.com/a", "bogus": true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := pushRequest(t, mux, "alice", http.MethodPost, "/api/push/subscriptions", tt.body)
			expectError(t, rec, http.StatusBadRequest, "VALIDATION_ERROR")
		})
	}
}

func TestPushNotConfigured(t *testing.T) {
	mux := setupPush(t, "")

	rec := pushRequest(t, mux, "alice", http.MethodGet, "/api/push/vapid-key", nil)
	expectError(t, rec, http.StatusBadRequest, "CONFIGURATION_ERROR")

	rec = pushRequest(t, mux, "alice", http.MethodPost, "/api/push/subscriptions", map[string]any{
		"endpoint": "https://push.example.com/a",
		"keys":     map[string]string{"p256dh": "k", "auth": "a"},
	})
	expectError(t, rec, http.StatusBadRequest, "CONFIGURATION_ERROR")
}
