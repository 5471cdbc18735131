package handler

import (
	"log/slog"
	"net/http"

	"github.com/dukerupert/famcal/internal/auth"
	"github.com/dukerupert/famcal/internal/cache"
	"github.com/dukerupert/famcal/internal/calendar"
	"github.com/dukerupert/famcal/internal/calerr"
	"github.com/dukerupert/famcal/internal/model"
)

type EventHandler struct {
	svc    *calendar.Service
	events *cache.Cache[[]model.Event]
	logger *slog.Logger
}

func NewEventHandler(svc *calendar.Service, events *cache.Cache[[]model.Event], logger *slog.Logger) *EventHandler {
	return &EventHandler{svc: svc, events: events, logger: logger}
}

type eventRequest struct {
	CalendarID  string                `json:"calendar_id"`
	Title       string                `json:"title"`
	Description string                `json:"description"`
	Location    string                `json:"location"`
	StartTime   string                `json:"start_time"`
	EndTime     string                `json:"end_time"`
	AllDay      bool                  `json:"all_day"`
	Status      model.EventStatus     `json:"status"`
	UserID      string                `json:"user_id"`
	Recurrence  *model.RecurrenceRule `json:"recurrence"`
}

type eventPatchRequest struct {
	Title           *string               `json:"title"`
	Description     *string               `json:"description"`
	Location        *string               `json:"location"`
	StartTime       *string               `json:"start_time"`
	EndTime         *string               `json:"end_time"`
	AllDay          *bool                 `json:"all_day"`
	Status          *model.EventStatus    `json:"status"`
	UserID          *string               `json:"user_id"`
	Recurrence      *model.RecurrenceRule `json:"recurrence"`
	ClearRecurrence bool                  `json:"clear_recurrence"`
}

func (h *EventHandler) invalidate(ev *model.Event) {
	h.events.Invalidate(EventGroups(ev.CalendarID, ev.FamilyID)...)
}

// Create adds an event. Without a calendar_id the event goes to the
// default calendar of the caller's family.
func (h *EventHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req eventRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	start, err := parseTimeField("start_time", req.StartTime)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	end, err := parseTimeField("end_time", req.EndTime)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	userID := auth.UserID(ctx)
	calendarID := req.CalendarID
	if calendarID == "" {
		cal, err := h.svc.GetOrCreateDefaultCalendar(ctx, auth.FamilyID(ctx), userID)
		if err != nil {
			writeError(w, h.logger, err)
			return
		}
		calendarID = cal.ID
	}

	ev, err := h.svc.CreateEvent(ctx, calendar.EventInput{
		CalendarID:  calendarID,
		Title:       req.Title,
		Description: req.Description,
		Location:    req.Location,
		StartTime:   start,
		EndTime:     end,
		AllDay:      req.AllDay,
		Status:      req.Status,
		UserID:      req.UserID,
		Recurrence:  req.Recurrence,
	}, userID)
	if ev != nil {
		h.invalidate(ev)
	}
	if err != nil {
		writeEventError(w, h.logger, ev, http.StatusCreated, err)
		return
	}
	writeJSON(w, http.StatusCreated, ev)
}

func (h *EventHandler) Get(w http.ResponseWriter, r *http.Request) {
	ev, err := h.svc.GetEvent(r.Context(), r.PathValue("id"), auth.UserID(r.Context()))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (h *EventHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req eventPatchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	start, err := parseOptionalTime("start_time", req.StartTime)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	end, err := parseOptionalTime("end_time", req.EndTime)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	ev, err := h.svc.UpdateEvent(r.Context(), r.PathValue("id"), calendar.EventPatch{
		Title:           req.Title,
		Description:     req.Description,
		Location:        req.Location,
		StartTime:       start,
		EndTime:         end,
		AllDay:          req.AllDay,
		Status:          req.Status,
		UserID:          req.UserID,
		Recurrence:      req.Recurrence,
		ClearRecurrence: req.ClearRecurrence,
	}, auth.UserID(r.Context()))
	if ev != nil {
		h.invalidate(ev)
	}
	if err != nil {
		writeEventError(w, h.logger, ev, http.StatusOK, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (h *EventHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := auth.UserID(ctx)

	ev, err := h.svc.GetEvent(ctx, r.PathValue("id"), userID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	err = h.svc.DeleteEvent(ctx, ev.ID, userID)
	if err != nil && !calerr.IsSync(err) && !calerr.IsAuthentication(err) {
		writeError(w, h.logger, err)
		return
	}
	h.invalidate(ev)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type eventWithSyncError struct {
	Event *model.Event `json:"event"`
	errorResponse
}

// writeEventError reports a mutation that succeeded locally but could not
// be mirrored to the provider: the event is returned with the sync failure.
func writeEventError(w http.ResponseWriter, logger *slog.Logger, ev *model.Event, status int, err error) {
	if ev == nil {
		writeError(w, logger, err)
		return
	}
	logger.Warn("event saved but not pushed", "event_id", ev.ID, "error", err)
	writeJSON(w, status, eventWithSyncError{
		Event:         ev,
		errorResponse: errorResponse{Error: calerr.Message(err), Code: calerr.Code(err)},
	})
}
