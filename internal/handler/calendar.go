package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/famcal/internal/auth"
	"github.com/dukerupert/famcal/internal/cache"
	"github.com/dukerupert/famcal/internal/calendar"
	"github.com/dukerupert/famcal/internal/calerr"
	"github.com/dukerupert/famcal/internal/model"
)

type CalendarHandler struct {
	svc    *calendar.Service
	events *cache.Cache[[]model.Event]
	logger *slog.Logger
}

func NewCalendarHandler(svc *calendar.Service, events *cache.Cache[[]model.Event], logger *slog.Logger) *CalendarHandler {
	return &CalendarHandler{svc: svc, events: events, logger: logger}
}

type calendarRequest struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Color       string             `json:"color"`
	Type        model.CalendarType `json:"type"`
	FamilyID    string             `json:"family_id"`
	IsDefault   bool               `json:"is_default"`
	Timezone    string             `json:"timezone"`
}

type calendarPatchRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Color       *string `json:"color"`
	IsDefault   *bool   `json:"is_default"`
	Timezone    *string `json:"timezone"`
}

func (h *CalendarHandler) List(w http.ResponseWriter, r *http.Request) {
	cals, err := h.svc.GetUserCalendars(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if cals == nil {
		cals = []model.Calendar{}
	}
	writeJSON(w, http.StatusOK, cals)
}

func (h *CalendarHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req calendarRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	// Remote calendars carry credentials or a feed and are added through
	// the integration endpoints.
	if req.Type.Remote() {
		writeError(w, h.logger, calerr.InvalidField("type", "remote calendars are added through /api/integrations"))
		return
	}

	cal, err := h.svc.CreateCalendar(r.Context(), calendar.CalendarInput{
		Name:        req.Name,
		Description: req.Description,
		Color:       req.Color,
		Type:        req.Type,
		FamilyID:    req.FamilyID,
		IsDefault:   req.IsDefault,
		Timezone:    req.Timezone,
	}, auth.UserID(r.Context()))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, cal)
}

func (h *CalendarHandler) Get(w http.ResponseWriter, r *http.Request) {
	cal, err := h.svc.GetCalendar(r.Context(), r.PathValue("id"), auth.UserID(r.Context()))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, cal)
}

func (h *CalendarHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req calendarPatchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	cal, err := h.svc.UpdateCalendar(r.Context(), r.PathValue("id"), calendar.CalendarPatch{
		Name:        req.Name,
		Description: req.Description,
		Color:       req.Color,
		IsDefault:   req.IsDefault,
		Timezone:    req.Timezone,
	}, auth.UserID(r.Context()))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	// Timezone changes the expansion of recurring events.
	h.events.Invalidate(EventGroups(cal.ID, cal.FamilyID)...)
	writeJSON(w, http.StatusOK, cal)
}

func (h *CalendarHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := auth.UserID(ctx)

	cal, err := h.svc.GetCalendar(ctx, r.PathValue("id"), userID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if err := h.svc.DeleteCalendar(ctx, cal.ID, userID); err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.events.Invalidate(EventGroups(cal.ID, cal.FamilyID)...)
	w.WriteHeader(http.StatusNoContent)
}

// Events lists the calendar's events, expanded over ?start&end when given.
func (h *CalendarHandler) Events(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rng, err := parseRange(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	calendarID := r.PathValue("id")
	userID := auth.UserID(ctx)
	key := cache.Key("calendar", calendarID, userID, rangeStart(rng), rangeEnd(rng))

	events, err := h.events.GetOrLoad(ctx, calendarID, key, func(ctx context.Context) ([]model.Event, error) {
		return h.svc.GetCalendarEvents(ctx, calendarID, userID, rng)
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if events == nil {
		events = []model.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (h *CalendarHandler) FamilyCalendars(w http.ResponseWriter, r *http.Request) {
	cals, err := h.svc.GetFamilyCalendars(r.Context(), r.PathValue("familyId"), auth.UserID(r.Context()))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if cals == nil {
		cals = []model.Calendar{}
	}
	writeJSON(w, http.StatusOK, cals)
}

func (h *CalendarHandler) FamilyEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rng, err := parseRange(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	familyID := r.PathValue("familyId")
	userID := auth.UserID(ctx)
	key := cache.Key("family", familyID, userID, rangeStart(rng), rangeEnd(rng))

	events, err := h.events.GetOrLoad(ctx, FamilyGroup(familyID), key, func(ctx context.Context) ([]model.Event, error) {
		return h.svc.GetFamilyEvents(ctx, familyID, userID, rng)
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if events == nil {
		events = []model.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

func rangeStart(rng *model.DateRange) *time.Time {
	if rng == nil {
		return nil
	}
	return &rng.Start
}

func rangeEnd(rng *model.DateRange) *time.Time {
	if rng == nil {
		return nil
	}
	return &rng.End
}
