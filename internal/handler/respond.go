// Package handler shapes HTTP requests into calendar domain calls and
// renders their results and typed failures as JSON.
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dukerupert/famcal/internal/calerr"
	"github.com/dukerupert/famcal/internal/model"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// writeError renders err with the status and text code of its failure kind.
// Untyped errors are logged and reported as internal errors.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status := calerr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "error", err)
	}
	writeJSON(w, status, errorResponse{Error: calerr.Message(err), Code: calerr.Code(err)})
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return calerr.Validation("request body is required")
		}
		return calerr.Validation("invalid JSON: " + err.Error())
	}
	return nil
}

func parseFlexibleTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}

func parseTimeField(field, s string) (time.Time, error) {
	t, err := parseFlexibleTime(strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, calerr.InvalidField(field, "must be RFC3339 or YYYY-MM-DD format")
	}
	return t, nil
}

func parseOptionalTime(field string, s *string) (*time.Time, error) {
	if s == nil {
		return nil, nil
	}
	t, err := parseTimeField(field, *s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// parseRange reads the start and end query parameters. Neither means no
// range; the domain rejects a range with only one bound.
func parseRange(r *http.Request) (*model.DateRange, error) {
	q := r.URL.Query()
	startStr, endStr := q.Get("start"), q.Get("end")
	if startStr == "" && endStr == "" {
		return nil, nil
	}
	rng := &model.DateRange{}
	if startStr != "" {
		t, err := parseTimeField("start", startStr)
		if err != nil {
			return nil, err
		}
		rng.Start = t
	}
	if endStr != "" {
		t, err := parseTimeField("end", endStr)
		if err != nil {
			return nil, err
		}
		rng.End = t
	}
	return rng, nil
}

func parseCapability(c *model.Capability) (model.Capability, error) {
	if c == nil {
		return model.Capability{}, calerr.Validation("permissions are required")
	}
	if !c.View && !c.Edit && !c.Share {
		return model.Capability{}, calerr.Validation("at least one of can_view, can_edit, can_share must be set")
	}
	return *c, nil
}

// EventGroups returns the cache groups holding reads that include events
// of the calendar.
func EventGroups(calendarID, familyID string) []string {
	groups := []string{calendarID}
	if familyID != "" {
		groups = append(groups, FamilyGroup(familyID))
	}
	return groups
}

func FamilyGroup(familyID string) string { return "family:" + familyID }
