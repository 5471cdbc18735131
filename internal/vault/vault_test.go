package vault

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/dukerupert/famcal/internal/calerr"
	"github.com/dukerupert/famcal/internal/model"
)

type memStore struct {
	mu        sync.Mutex
	calendars map[string]*model.Calendar
	saves     int
}

func (m *memStore) GetByID(_ context.Context, id string) (*model.Calendar, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.calendars[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (m *memStore) SaveToken(_ context.Context, id string, tok model.SealedToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calendars[id].External.Token = tok
	m.saves++
	return nil
}

func tokenServer(t *testing.T, status int, access string) (*httptest.Server, *int) {
	t.Helper()
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if got := r.Form.Get("grant_type"); got != "refresh_token" {
			t.Errorf("grant_type = %q, want refresh_token", got)
		}
		w.Header().Set("Content-Type", "application/json")
		if status != http.StatusOK {
			w.WriteHeader(status)
			w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": access,
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func setupVault(t *testing.T, tokenURL string, stored *oauth2.Token) (*Vault, *memStore) {
	t.Helper()
	c, err := NewCipher("test-secret")
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}
	st := &memStore{calendars: map[string]*model.Calendar{
		"cal-1": {ID: "cal-1", Type: model.CalendarProviderPush},
	}}
	v := New(c, &oauth2.Config{
		ClientID:     "client",
		ClientSecret: "secret",
		Endpoint:     oauth2.Endpoint{TokenURL: tokenURL},
	}, st, slog.Default())

	if stored != nil {
		sealed, err := v.Seal(stored)
		if err != nil {
			t.Fatalf("seal: %v", err)
		}
		st.calendars["cal-1"].External.Token = sealed
	}
	return v, st
}

func TestSealOpenRoundTrip(t *testing.T) {
	v, _ := setupVault(t, "http://unused", nil)
	exp := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	sealed, err := v.Seal(&oauth2.Token{AccessToken: "a", RefreshToken: "r", Expiry: exp})
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if sealed.AccessToken == "a" || sealed.RefreshToken == "r" {
		t.Error("sealed token should not hold plaintext")
	}

	tok, err := v.Open(sealed)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if tok.AccessToken != "a" || tok.RefreshToken != "r" || !tok.Expiry.Equal(exp) {
		t.Errorf("opened = %+v", tok)
	}
}

func TestRefreshAccessTokenPersists(t *testing.T) {
	srv, calls := tokenServer(t, http.StatusOK, "fresh-access")
	v, st := setupVault(t, srv.URL, &oauth2.Token{AccessToken: "stale", RefreshToken: "refresh-1"})

	tok, err := v.RefreshAccessToken(context.Background(), "cal-1")
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if tok.AccessToken != "fresh-access" {
		t.Errorf("access = %q, want fresh-access", tok.AccessToken)
	}
	if *calls != 1 {
		t.Errorf("token endpoint calls = %d, want 1", *calls)
	}

	stored, _ := v.Open(st.calendars["cal-1"].External.Token)
	if stored.AccessToken != "fresh-access" {
		t.Errorf("persisted access = %q, want fresh-access", stored.AccessToken)
	}
	if stored.RefreshToken != "refresh-1" {
		t.Errorf("persisted refresh = %q, want refresh-1 kept", stored.RefreshToken)
	}
}

func TestRefreshAccessTokenFailure(t *testing.T) {
	srv, _ := tokenServer(t, http.StatusBadRequest, "")
	v, st := setupVault(t, srv.URL, &oauth2.Token{AccessToken: "stale", RefreshToken: "revoked"})

	_, err := v.RefreshAccessToken(context.Background(), "cal-1")
	if !calerr.IsAuthentication(err) {
		t.Fatalf("err = %v, want AuthenticationError", err)
	}
	if st.saves != 0 {
		t.Errorf("saves = %d, want 0 after failed refresh", st.saves)
	}
}

func TestRefreshAccessTokenWithoutRefreshToken(t *testing.T) {
	srv, calls := tokenServer(t, http.StatusOK, "x")
	v, _ := setupVault(t, srv.URL, &oauth2.Token{AccessToken: "only-access"})

	if _, err := v.RefreshAccessToken(context.Background(), "cal-1"); !calerr.IsAuthentication(err) {
		t.Errorf("err = %v, want AuthenticationError", err)
	}
	if *calls != 0 {
		t.Error("token endpoint should not be called without a refresh token")
	}
}

func TestRefreshAccessTokenUnknownCalendar(t *testing.T) {
	v, _ := setupVault(t, "http://unused", nil)
	if _, err := v.RefreshAccessToken(context.Background(), "missing"); !calerr.IsNotFound(err) {
		t.Errorf("err = %v, want NotFound", err)
	}
}

func TestRefreshWithoutOAuthConfig(t *testing.T) {
	c, _ := NewCipher("test-secret")
	v := New(c, nil, &memStore{calendars: map[string]*model.Calendar{}}, slog.Default())
	if _, err := v.RefreshAccessToken(context.Background(), "cal-1"); !calerr.IsConfiguration(err) {
		t.Errorf("err = %v, want ConfigurationError", err)
	}
}

func TestTokenSourceRefreshesExpiringToken(t *testing.T) {
	srv, calls := tokenServer(t, http.StatusOK, "rotated")
	v, st := setupVault(t, srv.URL, &oauth2.Token{
		AccessToken:  "expiring",
		RefreshToken: "refresh-1",
		Expiry:       time.Now().Add(time.Minute),
	})

	cal, _ := st.GetByID(context.Background(), "cal-1")
	ts, err := v.TokenSource(context.Background(), *cal)
	if err != nil {
		t.Fatalf("token source: %v", err)
	}

	tok, err := ts.Token()
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if tok.AccessToken != "rotated" {
		t.Errorf("access = %q, want rotated (inside refresh lead)", tok.AccessToken)
	}
	if *calls != 1 {
		t.Errorf("token endpoint calls = %d, want 1", *calls)
	}
	if st.saves != 1 {
		t.Errorf("saves = %d, want 1", st.saves)
	}
}

func TestTokenSourceReusesValidToken(t *testing.T) {
	srv, calls := tokenServer(t, http.StatusOK, "unused")
	v, st := setupVault(t, srv.URL, &oauth2.Token{
		AccessToken:  "valid",
		RefreshToken: "refresh-1",
		Expiry:       time.Now().Add(time.Hour),
	})

	cal, _ := st.GetByID(context.Background(), "cal-1")
	ts, _ := v.TokenSource(context.Background(), *cal)
	tok, err := ts.Token()
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if tok.AccessToken != "valid" || *calls != 0 || st.saves != 0 {
		t.Errorf("access=%q calls=%d saves=%d, want reuse without refresh", tok.AccessToken, *calls, st.saves)
	}
}

func TestTokenSourceRejectedRefreshIsAuthentication(t *testing.T) {
	srv, calls := tokenServer(t, http.StatusBadRequest, "")
	v, st := setupVault(t, srv.URL, &oauth2.Token{
		AccessToken:  "expired",
		RefreshToken: "revoked",
		Expiry:       time.Now().Add(-time.Hour),
	})

	cal, _ := st.GetByID(context.Background(), "cal-1")
	ts, err := v.TokenSource(context.Background(), *cal)
	if err != nil {
		t.Fatalf("token source: %v", err)
	}
	_, err = ts.Token()
	if !calerr.IsAuthentication(err) {
		t.Fatalf("err = %v (code %s), want AUTHENTICATION_ERROR", err, calerr.Code(err))
	}
	var rerr *oauth2.RetrieveError
	if !errors.As(err, &rerr) {
		t.Errorf("err = %v, want the token endpoint response kept in the chain", err)
	}
	if *calls != 1 || st.saves != 0 {
		t.Errorf("calls=%d saves=%d, want one refresh attempt and nothing saved", *calls, st.saves)
	}
}
