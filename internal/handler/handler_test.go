package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dukerupert/famcal/internal/auth"
	"github.com/dukerupert/famcal/internal/cache"
	"github.com/dukerupert/famcal/internal/calendar"
	"github.com/dukerupert/famcal/internal/calsync"
	"github.com/dukerupert/famcal/internal/database"
	"github.com/dukerupert/famcal/internal/model"
	"github.com/dukerupert/famcal/internal/permission"
	"github.com/dukerupert/famcal/internal/store"
)

type feedFunc func(ctx context.Context, url, etag string) (calsync.FeedResult, error)

func (f feedFunc) Fetch(ctx context.Context, url, etag string) (calsync.FeedResult, error) {
	return f(ctx, url, etag)
}

type testEnv struct {
	mux      *http.ServeMux
	svc      *calendar.Service
	families *store.FamilyStore
	cache    *cache.Cache[[]model.Event]
	familyID string
}

func setupHandlers(t *testing.T) *testEnv {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := slog.Default()
	calendars := store.NewCalendarStore(db)
	families := store.NewFamilyStore(db)
	authority := permission.NewAuthority(store.NewPermissionStore(db), logger)
	svc := calendar.NewService(calendars, store.NewEventStore(db), families, authority, logger)

	feed := feedFunc(func(_ context.Context, url, _ string) (calsync.FeedResult, error) {
		if url == "https://example.com/broken.ics" {
			return calsync.FeedResult{}, errors.New("connection refused")
		}
		return calsync.FeedResult{Items: []model.RemoteEvent{{
			ID:    "uid-1",
			Title: "Field trip",
			Start: time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC),
			End:   time.Date(2026, 5, 4, 15, 0, 0, 0, time.UTC),
		}}, ETag: `"v1"`}, nil
	})
	engine := calsync.NewEngine(svc, calendars, nil, nil, feed, logger, calsync.WithTimeout(5*time.Second))

	fam, err := families.Create(context.Background(), "Rupert")
	if err != nil {
		t.Fatalf("create family: %v", err)
	}
	for _, u := range []string{"alice", "bob"} {
		if _, err := families.AddMember(context.Background(), fam.ID, u, "member"); err != nil {
			t.Fatalf("add member: %v", err)
		}
	}

	events := cache.New[[]model.Event](time.Minute)
	ch := NewCalendarHandler(svc, events, logger)
	eh := NewEventHandler(svc, events, logger)
	ph := NewPermissionHandler(svc, events, logger)
	sh := NewSyncHandler(svc, engine, events, logger)
	ih := NewIntegrationHandler(svc, engine, events, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/calendars", ch.List)
	mux.HandleFunc("POST /api/calendars", ch.Create)
	mux.HandleFunc("GET /api/calendars/{id}", ch.Get)
	mux.HandleFunc("PUT /api/calendars/{id}", ch.Update)
	mux.HandleFunc("DELETE /api/calendars/{id}", ch.Delete)
	mux.HandleFunc("GET /api/calendars/{id}/events", ch.Events)
	mux.HandleFunc("GET /api/calendars/{id}/permissions", ph.List)
	mux.HandleFunc("POST /api/calendars/{id}/permissions", ph.Share)
	mux.HandleFunc("PUT /api/calendars/{id}/permissions/{userId}", ph.Update)
	mux.HandleFunc("DELETE /api/calendars/{id}/permissions/{userId}", ph.Unshare)
	mux.HandleFunc("POST /api/calendars/{id}/sync", sh.Trigger)
	mux.HandleFunc("GET /api/calendars/{id}/sync", sh.Status)
	mux.HandleFunc("GET /api/families/{familyId}/calendars", ch.FamilyCalendars)
	mux.HandleFunc("GET /api/families/{familyId}/events", ch.FamilyEvents)
	mux.HandleFunc("POST /api/events", eh.Create)
	mux.HandleFunc("GET /api/events/{id}", eh.Get)
	mux.HandleFunc("PUT /api/events/{id}", eh.Update)
	mux.HandleFunc("DELETE /api/events/{id}", eh.Delete)
	mux.HandleFunc("POST /api/integrations/google", ih.Google)
	mux.HandleFunc("POST /api/integrations/ical", ih.ICal)
	mux.HandleFunc("PUT /api/integrations/tasks/{taskId}", ih.Task)
	mux.HandleFunc("PUT /api/integrations/shopping/{scheduleId}", ih.Shopping)

	return &testEnv{mux: mux, svc: svc, families: families, cache: events, familyID: fam.ID}
}

func (env *testEnv) do(t *testing.T, user, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req = req.WithContext(auth.WithAuth(req.Context(), auth.AuthContext{UserID: user, FamilyID: env.familyID}))
	rec := httptest.NewRecorder()
	env.mux.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func expectError(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, status, rec.Body.String())
	}
	resp := decode[errorResponse](t, rec)
	if resp.Code != code {
		t.Errorf("code = %q, want %q", resp.Code, code)
	}
	if resp.Error == "" {
		t.Error("expected an error message")
	}
}

func (env *testEnv) createCalendar(t *testing.T, user, name string) model.Calendar {
	t.Helper()
	rec := env.do(t, user, http.MethodPost, "/api/calendars", map[string]any{"name": name, "family_id": env.familyID})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create calendar: status %d: %s", rec.Code, rec.Body.String())
	}
	return decode[model.Calendar](t, rec)
}

func (env *testEnv) createEvent(t *testing.T, user, calendarID, title string) model.Event {
	t.Helper()
	rec := env.do(t, user, http.MethodPost, "/api/events", map[string]any{
		"calendar_id": calendarID,
		"title":       title,
		"start_time":  "2026-05-01T10:00:00Z",
		"end_time":    "2026-05-01T11:00:00Z",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create event: status %d: %s", rec.Code, rec.Body.String())
	}
	return decode[model.Event](t, rec)
}
