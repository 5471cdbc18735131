package handler

import (
	"log/slog"
	"net/http"

	"github.com/dukerupert/famcal/internal/auth"
	"github.com/dukerupert/famcal/internal/cache"
	"github.com/dukerupert/famcal/internal/calendar"
	"github.com/dukerupert/famcal/internal/calsync"
	"github.com/dukerupert/famcal/internal/model"
)

type SyncHandler struct {
	svc    *calendar.Service
	engine *calsync.Engine
	events *cache.Cache[[]model.Event]
	logger *slog.Logger
}

func NewSyncHandler(svc *calendar.Service, engine *calsync.Engine, events *cache.Cache[[]model.Event], logger *slog.Logger) *SyncHandler {
	return &SyncHandler{svc: svc, engine: engine, events: events, logger: logger}
}

// Trigger runs a sync pass for the calendar and reports its result. A
// trigger while a pass is running waits for that pass.
func (h *SyncHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := auth.UserID(ctx)

	res, err := h.engine.Sync(ctx, r.PathValue("id"), userID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if cal, err := h.svc.GetCalendar(ctx, res.CalendarID, userID); err == nil {
		h.events.Invalidate(EventGroups(cal.ID, cal.FamilyID)...)
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *SyncHandler) Status(w http.ResponseWriter, r *http.Request) {
	cal, err := h.svc.GetCalendar(r.Context(), r.PathValue("id"), auth.UserID(r.Context()))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, h.engine.Status(cal.ID))
}
