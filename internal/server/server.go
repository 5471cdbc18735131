package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/famcal/internal/backup"
	"github.com/dukerupert/famcal/internal/cache"
	"github.com/dukerupert/famcal/internal/calendar"
	"github.com/dukerupert/famcal/internal/calsync"
	"github.com/dukerupert/famcal/internal/handler"
	"github.com/dukerupert/famcal/internal/middleware"
	"github.com/dukerupert/famcal/internal/model"
	"github.com/dukerupert/famcal/internal/notify"
	"github.com/dukerupert/famcal/internal/store"
	ws "github.com/dukerupert/famcal/internal/websocket"
)

// Manual sync triggers allowed per user and calendar per minute.
const syncTriggerLimit = 6

// Deps are the collaborators the HTTP surface is built from.
type Deps struct {
	Calendars      *store.CalendarStore
	Events         *store.EventStore
	Service        *calendar.Service
	Engine         *calsync.Engine
	Cache          *cache.Cache[[]model.Event]
	Hub            *ws.Hub
	JWTSecret      []byte
	AllowedOrigins []string

	// PushSubscriptions enables the web push endpoints. An empty
	// VAPIDPublicKey reports push as not configured.
	PushSubscriptions *store.PushStore
	VAPIDPublicKey    string
	// Backups enables the admin backup endpoints.
	Backups *backup.Manager
}

type Server struct {
	calendars      *store.CalendarStore
	events         *store.EventStore
	cache          *cache.Cache[[]model.Event]
	hub            *ws.Hub
	service        *calendar.Service
	calendarH      *handler.CalendarHandler
	eventH         *handler.EventHandler
	permissionH    *handler.PermissionHandler
	syncH          *handler.SyncHandler
	integrationH   *handler.IntegrationHandler
	pushH          *handler.PushHandler
	backupH        *handler.BackupHandler
	rateLimiter    *middleware.RateLimiter
	jwtSecret      []byte
	allowedOrigins []string
	now            func() time.Time
	logger         *slog.Logger
}

func New(d Deps, logger *slog.Logger) *Server {
	s := &Server{
		calendars:      d.Calendars,
		events:         d.Events,
		cache:          d.Cache,
		hub:            d.Hub,
		service:        d.Service,
		calendarH:      handler.NewCalendarHandler(d.Service, d.Cache, logger.With("component", "calendar_handler")),
		eventH:         handler.NewEventHandler(d.Service, d.Cache, logger.With("component", "event_handler")),
		permissionH:    handler.NewPermissionHandler(d.Service, d.Cache, logger.With("component", "permission_handler")),
		syncH:          handler.NewSyncHandler(d.Service, d.Engine, d.Cache, logger.With("component", "sync_handler")),
		integrationH:   handler.NewIntegrationHandler(d.Service, d.Engine, d.Cache, logger.With("component", "integration_handler")),
		rateLimiter:    middleware.NewRateLimiter(),
		jwtSecret:      d.JWTSecret,
		allowedOrigins: d.AllowedOrigins,
		now:            time.Now,
		logger:         logger,
	}
	if d.PushSubscriptions != nil {
		s.pushH = handler.NewPushHandler(d.PushSubscriptions, d.VAPIDPublicKey, logger.With("component", "push_handler"))
	}
	if d.Backups != nil {
		s.backupH = handler.NewBackupHandler(d.Backups, logger.With("component", "backup_handler"))
	}
	return s
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

// CacheSink drops cached reads touched by an event notification. Writes
// made by sync passes reach the cache this way.
func (s *Server) CacheSink() notify.Sink {
	return notify.SinkFunc(func(n model.Notification) {
		s.cache.Invalidate(handler.EventGroups(n.Event.CalendarID, n.Event.FamilyID)...)
	})
}

// SyncStatusCallback broadcasts sync state transitions to the calendar's
// family, or its owner for personal calendars.
func (s *Server) SyncStatusCallback() calsync.StatusCallback {
	return func(st calsync.Status) {
		cal, err := s.calendars.GetByID(context.Background(), st.CalendarID)
		if err != nil || cal == nil {
			return
		}
		if st.State == calsync.StateIdle {
			s.cache.Invalidate(handler.EventGroups(cal.ID, cal.FamilyID)...)
		}
		s.hub.Send(ws.Message{
			Type:   "calendar_sync",
			Entity: "calendar",
			Action: string(st.State),
			ID:     st.CalendarID,
			Extra: map[string]any{
				"in_progress":    st.InProgress,
				"error":          st.Error,
				"last_synced_at": st.LastSyncedAt,
			},
		}, ws.Audience{FamilyID: cal.FamilyID, UserID: cal.OwnerID, CalendarID: cal.ID})
	}
}

func (s *Server) Router() http.Handler {
	outerMux := http.NewServeMux()

	// Public routes (no auth required)
	outerMux.HandleFunc("GET /health", s.healthHandler)

	// Protected routes, wrapped with RequireAuth. The token's family claim
	// is recorded as membership before any handler runs.
	protectedMux := http.NewServeMux()
	s.registerProtectedRoutes(protectedMux)

	authMiddleware := middleware.RequireAuth(s.jwtSecret)
	membership := middleware.RecordMembership(s.service, s.logger.With("component", "membership"))
	outerMux.Handle("/", authMiddleware(membership(protectedMux)))

	// Apply request logging middleware
	return middleware.RequestLogger(s.logger.With("component", "http"))(outerMux)
}

type health struct {
	Status    string `json:"status"`
	Calendars int    `json:"calendars"`
	Events    int    `json:"events"`
	Upcoming  int    `json:"upcoming"`
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	w.Header().Set("Content-Type", "application/json")

	h := health{Status: "ok"}
	var err error
	if h.Calendars, err = s.calendars.Count(ctx); err == nil {
		if h.Events, err = s.events.Count(ctx); err == nil {
			h.Upcoming, err = s.events.CountUpcoming(ctx, s.now())
		}
	}
	if err != nil {
		s.logger.Error("health check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"status": "error"})
		return
	}
	json.NewEncoder(w).Encode(h)
}

func (s *Server) rateLimitedHandler(h http.HandlerFunc) http.HandlerFunc {
	rl := middleware.RateLimit(s.rateLimiter, middleware.UserKey, syncTriggerLimit, time.Minute)
	return func(w http.ResponseWriter, r *http.Request) {
		rl(http.HandlerFunc(h)).ServeHTTP(w, r)
	}
}

func (s *Server) registerProtectedRoutes(mux *http.ServeMux) {
	// Calendar API routes
	mux.HandleFunc("GET /api/calendars", s.calendarH.List)
	mux.HandleFunc("POST /api/calendars", s.calendarH.Create)
	mux.HandleFunc("GET /api/calendars/{id}", s.calendarH.Get)
	mux.HandleFunc("PUT /api/calendars/{id}", s.calendarH.Update)
	mux.HandleFunc("DELETE /api/calendars/{id}", s.calendarH.Delete)
	mux.HandleFunc("GET /api/calendars/{id}/events", s.calendarH.Events)

	// Sharing
	mux.HandleFunc("GET /api/calendars/{id}/permissions", s.permissionH.List)
	mux.HandleFunc("POST /api/calendars/{id}/permissions", s.permissionH.Share)
	mux.HandleFunc("PUT /api/calendars/{id}/permissions/{userId}", s.permissionH.Update)
	mux.HandleFunc("DELETE /api/calendars/{id}/permissions/{userId}", s.permissionH.Unshare)

	// Sync
	mux.HandleFunc("POST /api/calendars/{id}/sync", s.rateLimitedHandler(s.syncH.Trigger))
	mux.HandleFunc("GET /api/calendars/{id}/sync", s.syncH.Status)

	// Family views
	mux.HandleFunc("GET /api/families/{familyId}/calendars", s.calendarH.FamilyCalendars)
	mux.HandleFunc("GET /api/families/{familyId}/events", s.calendarH.FamilyEvents)

	// Event API routes
	mux.HandleFunc("POST /api/events", s.eventH.Create)
	mux.HandleFunc("GET /api/events/{id}", s.eventH.Get)
	mux.HandleFunc("PUT /api/events/{id}", s.eventH.Update)
	mux.HandleFunc("DELETE /api/events/{id}", s.eventH.Delete)

	// Integrations
	mux.HandleFunc("POST /api/integrations/google", s.integrationH.Google)
	mux.HandleFunc("POST /api/integrations/ical", s.integrationH.ICal)
	mux.HandleFunc("PUT /api/integrations/tasks/{taskId}", s.integrationH.Task)
	mux.HandleFunc("PUT /api/integrations/shopping/{scheduleId}", s.integrationH.Shopping)

	// Web push
	if s.pushH != nil {
		mux.HandleFunc("GET /api/push/vapid-key", s.pushH.VAPIDKey)
		mux.HandleFunc("GET /api/push/subscriptions", s.pushH.List)
		mux.HandleFunc("POST /api/push/subscriptions", s.pushH.Subscribe)
		mux.HandleFunc("DELETE /api/push/subscriptions/{id}", s.pushH.Unsubscribe)
	}

	// Admin
	if s.backupH != nil {
		admin := func(h http.HandlerFunc) http.Handler { return middleware.RequireAdmin(h) }
		mux.Handle("GET /api/admin/backups", admin(s.backupH.List))
		mux.Handle("POST /api/admin/backups", admin(s.backupH.Run))
		mux.Handle("GET /api/admin/backups/status", admin(s.backupH.Status))
		mux.Handle("POST /api/admin/backups/{id}/verify", admin(s.backupH.Verify))
		mux.Handle("GET /api/admin/backups/{id}/download", admin(s.backupH.Download))
	}

	// WebSocket
	mux.HandleFunc("GET /ws", ws.HandleWebSocket(s.hub, s.allowedOrigins, s.logger))
}
