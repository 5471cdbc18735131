package calerr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestCodesAndStatuses(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		code   string
		status int
	}{
		{"validation", Validation("bad"), CodeValidation, http.StatusBadRequest},
		{"invalid field", InvalidField("title", "is required"), CodeValidation, http.StatusBadRequest},
		{"calendar not found", CalendarNotFound("c1"), CodeCalendarNotFound, http.StatusNotFound},
		{"event not found", EventNotFound("e1"), CodeEventNotFound, http.StatusNotFound},
		{"family not found", FamilyNotFound("f1"), CodeFamilyNotFound, http.StatusNotFound},
		{"permission not found", PermissionNotFound("c1", "u1"), CodePermissionNotFound, http.StatusNotFound},
		{"generic not found", NotFound("subscription", "s1"), CodeNotFound, http.StatusNotFound},
		{"denied", PermissionDenied("no"), CodePermissionDenied, http.StatusForbidden},
		{"conflict", Conflict("event task-1 already exists", errors.New("UNIQUE constraint failed")), CodeConflict, http.StatusConflict},
		{"configuration", Configuration("missing client id", nil), CodeConfiguration, http.StatusBadRequest},
		{"sync", Sync("provider failed", errors.New("503")), CodeSync, http.StatusBadGateway},
		{"authentication", Authentication("refresh failed", nil), CodeAuthentication, http.StatusUnauthorized},
		{"untyped", errors.New("boom"), CodeInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Code(tt.err); got != tt.code {
				t.Errorf("Code() = %q, want %q", got, tt.code)
			}
			if got := HTTPStatus(tt.err); got != tt.status {
				t.Errorf("HTTPStatus() = %d, want %d", got, tt.status)
			}
		})
	}
}

func TestPredicates(t *testing.T) {
	if !IsNotFound(EventNotFound("e1")) || !IsNotFound(PermissionNotFound("c", "u")) || !IsNotFound(NotFound("backup", "b1")) {
		t.Error("IsNotFound should cover every not-found code")
	}
	if IsNotFound(PermissionDenied("x")) {
		t.Error("PermissionDenied is not NotFound")
	}
	if !IsConflict(fmt.Errorf("create event: %w", Conflict("dup", nil))) || IsConflict(Validation("x")) {
		t.Error("IsConflict should match only conflicts")
	}
	if !IsPermissionDenied(PermissionDenied("x")) {
		t.Error("IsPermissionDenied = false")
	}
	if IsValidation(nil) || IsSync(errors.New("x")) {
		t.Error("predicates should be false for nil and untyped errors")
	}
}

func TestPredicatesSeeThroughWrapping(t *testing.T) {
	err := fmt.Errorf("create event: %w", Validation("end before start"))
	if !IsValidation(err) {
		t.Error("IsValidation should unwrap fmt.Errorf chains")
	}
	if Code(err) != CodeValidation {
		t.Errorf("Code() = %q, want %q", Code(err), CodeValidation)
	}
}

func TestSyncKeepsAuthenticationFailure(t *testing.T) {
	auth := Authentication("token revoked", errors.New("invalid_grant"))
	err := Sync("sync failed", auth)
	if !IsAuthentication(err) {
		t.Errorf("Code() = %q, want %q", Code(err), CodeAuthentication)
	}
}

func TestSyncWrapsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Sync("fetch feed", cause)
	if !errors.Is(err, cause) {
		t.Error("Sync error should unwrap to its cause")
	}
}

func TestMessageHidesUntypedErrors(t *testing.T) {
	if got := Message(errors.New("sql: database is locked")); got != "internal error" {
		t.Errorf("Message() = %q, want %q", got, "internal error")
	}
	if got := Message(CalendarNotFound("c1")); got != "calendar c1 not found" {
		t.Errorf("Message() = %q, want %q", got, "calendar c1 not found")
	}
}
