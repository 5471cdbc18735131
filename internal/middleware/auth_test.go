package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dukerupert/famcal/internal/auth"
)

var testSecret = []byte("test-secret")

func protected(t *testing.T, reached *auth.AuthContext) http.Handler {
	return RequireAuth(testSecret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ac, ok := auth.FromContext(r.Context())
		if !ok {
			t.Fatal("expected AuthContext in request context")
		}
		*reached = ac
		w.WriteHeader(http.StatusOK)
	}))
}

func TestRequireAuthNoToken(t *testing.T) {
	handler := RequireAuth(testSecret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("should not reach handler")
	}))

	req := httptest.NewRequest("GET", "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
	if got := rec.Header().Get("WWW-Authenticate"); got != "Bearer" {
		t.Errorf("WWW-Authenticate = %q, want %q", got, "Bearer")
	}
}

func TestRequireAuthRejectsBadTokens(t *testing.T) {
	expired, _ := IssueToken(testSecret, "alice", "f1", "member", -time.Minute)
	otherKey, _ := IssueToken([]byte("other"), "alice", "f1", "member", time.Hour)
	noSubject, _ := IssueToken(testSecret, "", "f1", "member", time.Hour)
	noExpiry, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "alice"},
	}).SignedString(testSecret)

	tests := []struct {
		name   string
		header string
	}{
		{"garbage", "Bearer not-a-jwt"},
		{"expired", "Bearer " + expired},
		{"wrong key", "Bearer " + otherKey},
		{"no subject", "Bearer " + noSubject},
		{"no expiry", "Bearer " + noExpiry},
		{"wrong scheme", "Basic abc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ac auth.AuthContext
			req := httptest.NewRequest("GET", "/", nil)
			req.Header.Set("Authorization", tt.header)
			rec := httptest.NewRecorder()
			protected(t, &ac).ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
			}
		})
	}
}

func TestRequireAuthValidToken(t *testing.T) {
	tok, err := IssueToken(testSecret, "alice", "f1", "admin", time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	var ac auth.AuthContext
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	protected(t, &ac).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ac.UserID != "alice" || ac.FamilyID != "f1" || ac.Role != "admin" {
		t.Errorf("auth context = %+v", ac)
	}
}

func TestRequireAuthQueryToken(t *testing.T) {
	tok, _ := IssueToken(testSecret, "bob", "", "member", time.Hour)

	var ac auth.AuthContext
	req := httptest.NewRequest("GET", "/ws?access_token="+tok, nil)
	rec := httptest.NewRecorder()
	protected(t, &ac).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ac.UserID != "bob" {
		t.Errorf("UserID = %q, want bob", ac.UserID)
	}
}

func TestRequireAdmin(t *testing.T) {
	handler := RequireAdmin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req = req.WithContext(auth.WithAuth(req.Context(), auth.AuthContext{Role: "member"}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("member status = %d, want %d", rec.Code, http.StatusForbidden)
	}

	req = req.WithContext(auth.WithAuth(req.Context(), auth.AuthContext{Role: "admin"}))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("admin status = %d, want %d", rec.Code, http.StatusOK)
	}
}
