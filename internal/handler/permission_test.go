package handler

import (
	"net/http"
	"testing"

	"github.com/dukerupert/famcal/internal/calerr"
	"github.com/dukerupert/famcal/internal/model"
)

func TestShareAndUnshare(t *testing.T) {
	env := setupHandlers(t)
	cal := env.createCalendar(t, "alice", "Soccer")
	env.createEvent(t, "alice", cal.ID, "Practice")
	path := "/api/calendars/" + cal.ID + "/events?start=2026-05-01&end=2026-05-02"

	expectError(t, env.do(t, "carol", http.MethodGet, path, nil), http.StatusForbidden, calerr.CodePermissionDenied)

	rec := env.do(t, "alice", http.MethodPost, "/api/calendars/"+cal.ID+"/permissions", map[string]any{
		"user_id":     "carol",
		"permissions": map[string]any{"can_view": true},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("share: status %d: %s", rec.Code, rec.Body.String())
	}
	perm := decode[model.CalendarPermission](t, rec)
	if !perm.CanView || perm.CanEdit || perm.CanShare {
		t.Errorf("permission = %+v", perm)
	}

	if got := len(decode[[]model.Event](t, env.do(t, "carol", http.MethodGet, path, nil))); got != 1 {
		t.Fatalf("carol events = %d, want 1", got)
	}

	rec = env.do(t, "alice", http.MethodDelete, "/api/calendars/"+cal.ID+"/permissions/carol", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("unshare: status %d: %s", rec.Code, rec.Body.String())
	}

	// The cached read must not outlive the grant.
	expectError(t, env.do(t, "carol", http.MethodGet, path, nil), http.StatusForbidden, calerr.CodePermissionDenied)
}

func TestPermissionManagement(t *testing.T) {
	env := setupHandlers(t)
	cal := env.createCalendar(t, "alice", "Soccer")
	base := "/api/calendars/" + cal.ID + "/permissions"

	perms := decode[[]model.CalendarPermission](t, env.do(t, "alice", http.MethodGet, base, nil))
	if len(perms) != 2 {
		t.Fatalf("permissions = %d, want owner and member", len(perms))
	}

	expectError(t, env.do(t, "bob", http.MethodGet, base, nil), http.StatusForbidden, calerr.CodePermissionDenied)

	rec := env.do(t, "alice", http.MethodPut, base+"/bob", map[string]any{"permissions": map[string]any{"can_view": true, "can_share": true}})
	if rec.Code != http.StatusOK {
		t.Fatalf("update: status %d: %s", rec.Code, rec.Body.String())
	}
	if p := decode[model.CalendarPermission](t, rec); p.CanEdit || !p.CanShare {
		t.Errorf("bob permission = %+v", p)
	}
	if rec := env.do(t, "bob", http.MethodGet, base, nil); rec.Code != http.StatusOK {
		t.Errorf("bob list after share grant: status %d", rec.Code)
	}

	expectError(t, env.do(t, "alice", http.MethodPut, base+"/alice", map[string]any{"permissions": map[string]any{"can_view": true}}), http.StatusBadRequest, calerr.CodeValidation)
	expectError(t, env.do(t, "alice", http.MethodDelete, base+"/alice", nil), http.StatusBadRequest, calerr.CodeValidation)
	expectError(t, env.do(t, "alice", http.MethodPut, base+"/carol", map[string]any{"permissions": map[string]any{"can_view": true}}), http.StatusNotFound, calerr.CodePermissionNotFound)
	expectError(t, env.do(t, "alice", http.MethodPost, base, map[string]any{"permissions": map[string]any{"can_view": true}}), http.StatusBadRequest, calerr.CodeValidation)
	expectError(t, env.do(t, "alice", http.MethodPost, base, map[string]any{"user_id": "carol", "permissions": map[string]any{}}), http.StatusBadRequest, calerr.CodeValidation)
	expectError(t, env.do(t, "alice", http.MethodPost, base, map[string]any{"user_id": "carol"}), http.StatusBadRequest, calerr.CodeValidation)
}
