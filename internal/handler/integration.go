package handler

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/dukerupert/famcal/internal/auth"
	"github.com/dukerupert/famcal/internal/cache"
	"github.com/dukerupert/famcal/internal/calendar"
	"github.com/dukerupert/famcal/internal/calerr"
	"github.com/dukerupert/famcal/internal/calsync"
	"github.com/dukerupert/famcal/internal/model"
)

type IntegrationHandler struct {
	svc    *calendar.Service
	engine *calsync.Engine
	events *cache.Cache[[]model.Event]
	logger *slog.Logger
}

func NewIntegrationHandler(svc *calendar.Service, engine *calsync.Engine, events *cache.Cache[[]model.Event], logger *slog.Logger) *IntegrationHandler {
	return &IntegrationHandler{svc: svc, engine: engine, events: events, logger: logger}
}

type googleRequest struct {
	Name             string `json:"name"`
	Description      string `json:"description"`
	Color            string `json:"color"`
	FamilyID         string `json:"family_id"`
	Timezone         string `json:"timezone"`
	RemoteCalendarID string `json:"remote_calendar_id"`
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	Expiry           string `json:"expiry"`
}

type feedRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Color       string `json:"color"`
	FamilyID    string `json:"family_id"`
	Timezone    string `json:"timezone"`
	URL         string `json:"url"`
}

type taskRequest struct {
	Title      string `json:"title"`
	Due        string `json:"due"`
	FamilyID   string `json:"family_id"`
	CalendarID string `json:"calendar_id"`
}

type shoppingRequest struct {
	Title      string `json:"title"`
	Start      string `json:"start"`
	End        string `json:"end"`
	FamilyID   string `json:"family_id"`
	CalendarID string `json:"calendar_id"`
}

func familyOr(r *http.Request, familyID string) string {
	if familyID != "" {
		return familyID
	}
	return auth.FamilyID(r.Context())
}

// Google connects a Google calendar with an already authorized token pair.
func (h *IntegrationHandler) Google(w http.ResponseWriter, r *http.Request) {
	var req googleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if strings.TrimSpace(req.RemoteCalendarID) == "" {
		writeError(w, h.logger, calerr.InvalidField("remote_calendar_id", "is required"))
		return
	}
	if req.AccessToken == "" && req.RefreshToken == "" {
		writeError(w, h.logger, calerr.InvalidField("access_token", "an access or refresh token is required"))
		return
	}

	tok := &oauth2.Token{AccessToken: req.AccessToken, RefreshToken: req.RefreshToken, TokenType: "Bearer"}
	if req.Expiry != "" {
		exp, err := time.Parse(time.RFC3339, req.Expiry)
		if err != nil {
			writeError(w, h.logger, calerr.InvalidField("expiry", "must be RFC3339 format"))
			return
		}
		tok.Expiry = exp
	}

	cal, err := h.engine.AddProviderCalendar(r.Context(), calsync.ProviderCalendarInput{
		Name:             req.Name,
		Description:      req.Description,
		Color:            req.Color,
		FamilyID:         req.FamilyID,
		Timezone:         req.Timezone,
		RemoteCalendarID: strings.TrimSpace(req.RemoteCalendarID),
		Token:            tok,
	}, auth.UserID(r.Context()))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.events.Invalidate(EventGroups(cal.ID, cal.FamilyID)...)
	writeJSON(w, http.StatusCreated, cal)
}

// ICal subscribes to a read-only iCalendar feed.
func (h *IntegrationHandler) ICal(w http.ResponseWriter, r *http.Request) {
	var req feedRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	cal, err := h.engine.AddFeedCalendar(r.Context(), calsync.FeedCalendarInput{
		Name:        req.Name,
		Description: req.Description,
		Color:       req.Color,
		FamilyID:    req.FamilyID,
		Timezone:    req.Timezone,
		URL:         strings.TrimSpace(req.URL),
	}, auth.UserID(r.Context()))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.events.Invalidate(EventGroups(cal.ID, cal.FamilyID)...)
	writeJSON(w, http.StatusCreated, cal)
}

func (h *IntegrationHandler) Task(w http.ResponseWriter, r *http.Request) {
	var req taskRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	due, err := parseTimeField("due", req.Due)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	ev, err := h.svc.UpsertTaskDeadline(r.Context(), calendar.TaskDeadline{
		TaskID:     r.PathValue("taskId"),
		Title:      req.Title,
		Due:        due,
		FamilyID:   familyOr(r, req.FamilyID),
		UserID:     auth.UserID(r.Context()),
		CalendarID: req.CalendarID,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.events.Invalidate(EventGroups(ev.CalendarID, ev.FamilyID)...)
	writeJSON(w, http.StatusOK, ev)
}

func (h *IntegrationHandler) Shopping(w http.ResponseWriter, r *http.Request) {
	var req shoppingRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	start, err := parseTimeField("start", req.Start)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	end, err := parseTimeField("end", req.End)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	ev, err := h.svc.UpsertShoppingSchedule(r.Context(), calendar.ShoppingSchedule{
		ScheduleID: r.PathValue("scheduleId"),
		Title:      req.Title,
		Start:      start,
		End:        end,
		FamilyID:   familyOr(r, req.FamilyID),
		UserID:     auth.UserID(r.Context()),
		CalendarID: req.CalendarID,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.events.Invalidate(EventGroups(ev.CalendarID, ev.FamilyID)...)
	writeJSON(w, http.StatusOK, ev)
}
