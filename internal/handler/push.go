package handler

import (
	"log/slog"
	"net/http"
	"net/url"

	"github.com/dukerupert/famcal/internal/auth"
	"github.com/dukerupert/famcal/internal/calerr"
	"github.com/dukerupert/famcal/internal/model"
	"github.com/dukerupert/famcal/internal/store"
)

// PushHandler manages the caller's browser push subscriptions. An empty
// VAPID key means web push is not configured.
type PushHandler struct {
	subs     *store.PushStore
	vapidKey string
	logger   *slog.Logger
}

func NewPushHandler(subs *store.PushStore, vapidKey string, logger *slog.Logger) *PushHandler {
	return &PushHandler{subs: subs, vapidKey: vapidKey, logger: logger}
}

func (h *PushHandler) configured(w http.ResponseWriter) bool {
	if h.vapidKey == "" {
		writeError(w, h.logger, calerr.Configuration("web push is not configured", nil))
		return false
	}
	return true
}

func (h *PushHandler) VAPIDKey(w http.ResponseWriter, r *http.Request) {
	if !h.configured(w) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"public_key": h.vapidKey})
}

// subscribeRequest mirrors the browser's PushSubscription.toJSON().
type subscribeRequest struct {
	Endpoint       string  `json:"endpoint"`
	ExpirationTime *int64  `json:"expirationTime"`
	Keys           pushKey `json:"keys"`
	DeviceName     string  `json:"device_name"`
}

type pushKey struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

func (h *PushHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	if !h.configured(w) {
		return
	}
	var req subscribeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if u, err := url.Parse(req.Endpoint); err != nil || u.Scheme != "https" || u.Host == "" {
		writeError(w, h.logger, calerr.InvalidField("endpoint", "must be an https URL"))
		return
	}
	if req.Keys.P256dh == "" || req.Keys.Auth == "" {
		writeError(w, h.logger, calerr.InvalidField("keys", "p256dh and auth are required"))
		return
	}

	sub, err := h.subs.Upsert(r.Context(), model.PushSubscription{
		UserID:     auth.UserID(r.Context()),
		Endpoint:   req.Endpoint,
		P256dhKey:  req.Keys.P256dh,
		AuthKey:    req.Keys.Auth,
		DeviceName: req.DeviceName,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

func (h *PushHandler) List(w http.ResponseWriter, r *http.Request) {
	subs, err := h.subs.ListByUser(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if subs == nil {
		subs = []model.PushSubscription{}
	}
	writeJSON(w, http.StatusOK, subs)
}

func (h *PushHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ok, err := h.subs.Delete(r.Context(), id, auth.UserID(r.Context()))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if !ok {
		writeError(w, h.logger, calerr.NotFound("subscription", id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
