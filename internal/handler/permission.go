package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/famcal/internal/auth"
	"github.com/dukerupert/famcal/internal/cache"
	"github.com/dukerupert/famcal/internal/calendar"
	"github.com/dukerupert/famcal/internal/calerr"
	"github.com/dukerupert/famcal/internal/model"
)

type PermissionHandler struct {
	svc    *calendar.Service
	events *cache.Cache[[]model.Event]
	logger *slog.Logger
}

func NewPermissionHandler(svc *calendar.Service, events *cache.Cache[[]model.Event], logger *slog.Logger) *PermissionHandler {
	return &PermissionHandler{svc: svc, events: events, logger: logger}
}

type shareRequest struct {
	UserID      string            `json:"user_id"`
	Permissions *model.Capability `json:"permissions"`
}

type permissionRequest struct {
	Permissions *model.Capability `json:"permissions"`
}

// groups returns the cache groups to drop so that a changed grant takes
// effect on the next read.
func (h *PermissionHandler) groups(r *http.Request, calendarID string) []string {
	if cal, err := h.svc.GetCalendar(r.Context(), calendarID, auth.UserID(r.Context())); err == nil {
		return EventGroups(cal.ID, cal.FamilyID)
	}
	return []string{calendarID}
}

func (h *PermissionHandler) List(w http.ResponseWriter, r *http.Request) {
	perms, err := h.svc.ListCalendarPermissions(r.Context(), r.PathValue("id"), auth.UserID(r.Context()))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if perms == nil {
		perms = []model.CalendarPermission{}
	}
	writeJSON(w, http.StatusOK, perms)
}

func (h *PermissionHandler) Share(w http.ResponseWriter, r *http.Request) {
	var req shareRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		writeError(w, h.logger, calerr.InvalidField("user_id", "is required"))
		return
	}
	caps, err := parseCapability(req.Permissions)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	calendarID := r.PathValue("id")
	p, err := h.svc.ShareCalendar(r.Context(), calendarID, req.UserID, caps, auth.UserID(r.Context()))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.events.Invalidate(h.groups(r, calendarID)...)
	writeJSON(w, http.StatusCreated, p)
}

func (h *PermissionHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req permissionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	caps, err := parseCapability(req.Permissions)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	calendarID := r.PathValue("id")
	p, err := h.svc.UpdateCalendarPermission(r.Context(), calendarID, r.PathValue("userId"), caps, auth.UserID(r.Context()))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.events.Invalidate(h.groups(r, calendarID)...)
	writeJSON(w, http.StatusOK, p)
}

func (h *PermissionHandler) Unshare(w http.ResponseWriter, r *http.Request) {
	calendarID := r.PathValue("id")
	// Resolved first: callers may revoke their own access.
	groups := h.groups(r, calendarID)
	if err := h.svc.UnshareCalendar(r.Context(), calendarID, r.PathValue("userId"), auth.UserID(r.Context())); err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.events.Invalidate(groups...)
	w.WriteHeader(http.StatusNoContent)
}
