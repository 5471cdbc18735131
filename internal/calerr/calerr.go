// Package calerr defines the typed failures surfaced by the calendar domain
// and synchronization engine. Each failure carries a stable text code and an
// HTTP status for the routing layer.
package calerr

import (
	"fmt"
	"net/http"

	goerrors "github.com/goliatone/go-errors"
)

const (
	CodeValidation         = "VALIDATION_ERROR"
	CodeCalendarNotFound   = "CALENDAR_NOT_FOUND"
	CodeEventNotFound      = "EVENT_NOT_FOUND"
	CodePermissionNotFound = "PERMISSION_NOT_FOUND"
	CodeFamilyNotFound     = "FAMILY_NOT_FOUND"
	CodeNotFound           = "NOT_FOUND"
	CodePermissionDenied   = "AUTHORIZATION_ERROR"
	CodeConflict           = "CONFLICT"
	CodeConfiguration      = "CONFIGURATION_ERROR"
	CodeSync               = "SYNC_ERROR"
	CodeAuthentication     = "AUTHENTICATION_ERROR"
	CodeInternal           = "INTERNAL_ERROR"
)

func Validation(message string) error {
	return goerrors.New(message, goerrors.CategoryValidation).
		WithCode(http.StatusBadRequest).
		WithTextCode(CodeValidation)
}

// InvalidField reports a single malformed input field.
func InvalidField(field, message string) error {
	return goerrors.NewValidation(fmt.Sprintf("invalid %s: %s", field, message), goerrors.FieldError{
		Field:   field,
		Message: message,
	}).
		WithCode(http.StatusBadRequest).
		WithTextCode(CodeValidation).
		WithSeverity(goerrors.SeverityError)
}

func CalendarNotFound(id string) error {
	return notFound(fmt.Sprintf("calendar %s not found", id), CodeCalendarNotFound, "calendar_id", id)
}

func EventNotFound(id string) error {
	return notFound(fmt.Sprintf("event %s not found", id), CodeEventNotFound, "event_id", id)
}

func FamilyNotFound(id string) error {
	return notFound(fmt.Sprintf("family %s not found", id), CodeFamilyNotFound, "family_id", id)
}

// NotFound reports a missing resource outside the calendar domain, such as
// a push subscription or a backup.
func NotFound(resource, id string) error {
	return notFound(fmt.Sprintf("%s %s not found", resource, id), CodeNotFound, resource+"_id", id)
}

func PermissionNotFound(calendarID, userID string) error {
	return goerrors.New(fmt.Sprintf("user %s has no permission on calendar %s", userID, calendarID), goerrors.CategoryNotFound).
		WithCode(http.StatusNotFound).
		WithTextCode(CodePermissionNotFound).
		WithMetadata(map[string]any{"calendar_id": calendarID, "user_id": userID})
}

func notFound(message, code, key, id string) error {
	return goerrors.New(message, goerrors.CategoryNotFound).
		WithCode(http.StatusNotFound).
		WithTextCode(code).
		WithMetadata(map[string]any{key: id})
}

func PermissionDenied(message string) error {
	return goerrors.New(message, goerrors.CategoryAuthz).
		WithCode(http.StatusForbidden).
		WithTextCode(CodePermissionDenied)
}

// Conflict reports a write that collided with a uniqueness constraint.
func Conflict(message string, err error) error {
	return build(message, err, goerrors.CategoryConflict, http.StatusConflict, CodeConflict)
}

func Configuration(message string, err error) error {
	return build(message, err, goerrors.CategoryBadInput, http.StatusBadRequest, CodeConfiguration)
}

// Sync reports a reconciliation failure. An err that is already an
// authentication failure is returned unchanged.
func Sync(message string, err error) error {
	if IsAuthentication(err) {
		return err
	}
	return build(message, err, goerrors.CategoryExternal, http.StatusBadGateway, CodeSync)
}

func Authentication(message string, err error) error {
	return build(message, err, goerrors.CategoryAuth, http.StatusUnauthorized, CodeAuthentication)
}

func build(message string, err error, category goerrors.Category, status int, code string) error {
	if err == nil {
		return goerrors.New(message, category).WithCode(status).WithTextCode(code)
	}
	return goerrors.Wrap(err, category, message).WithCode(status).WithTextCode(code)
}

func rich(err error) (*goerrors.Error, bool) {
	if err == nil {
		return nil, false
	}
	var r *goerrors.Error
	if !goerrors.As(err, &r) {
		return nil, false
	}
	return r, true
}

// Code returns the stable text code of err, or INTERNAL_ERROR for
// untyped failures.
func Code(err error) string {
	if r, ok := rich(err); ok && r.TextCode != "" {
		return r.TextCode
	}
	return CodeInternal
}

// HTTPStatus maps err to the status code the router should respond with.
func HTTPStatus(err error) int {
	if r, ok := rich(err); ok && r.Code != 0 {
		return r.Code
	}
	return http.StatusInternalServerError
}

// Message returns a caller-safe message. Untyped failures are not exposed.
func Message(err error) string {
	if r, ok := rich(err); ok {
		return r.Message
	}
	return "internal error"
}

func hasCode(err error, codes ...string) bool {
	r, ok := rich(err)
	if !ok {
		return false
	}
	for _, c := range codes {
		if r.TextCode == c {
			return true
		}
	}
	return false
}

func IsValidation(err error) bool { return hasCode(err, CodeValidation) }

func IsNotFound(err error) bool {
	return hasCode(err, CodeCalendarNotFound, CodeEventNotFound, CodePermissionNotFound, CodeFamilyNotFound, CodeNotFound)
}

func IsPermissionDenied(err error) bool { return hasCode(err, CodePermissionDenied) }
func IsConfiguration(err error) bool    { return hasCode(err, CodeConfiguration) }
func IsConflict(err error) bool         { return hasCode(err, CodeConflict) }
func IsSync(err error) bool             { return hasCode(err, CodeSync) }
func IsAuthentication(err error) bool   { return hasCode(err, CodeAuthentication) }
