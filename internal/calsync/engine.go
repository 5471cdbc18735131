package calsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/dukerupert/famcal/internal/calendar"
	"github.com/dukerupert/famcal/internal/calerr"
	"github.com/dukerupert/famcal/internal/model"
)

// Domain is the permission-checked calendar service every sync write goes
// through.
type Domain interface {
	EditableCalendar(ctx context.Context, id, actorID string) (*model.Calendar, error)
	CreateCalendar(ctx context.Context, in calendar.CalendarInput, actorID string) (*model.Calendar, error)
	DeleteCalendar(ctx context.Context, id, actorID string) error
	EventTemplates(ctx context.Context, calendarID, actorID string) ([]model.Event, error)
	ApplySyncBatch(ctx context.Context, calendarID, actorID string, b calendar.SyncBatch) (*calendar.SyncApplied, error)
}

// StateStore persists sync cursors and lists calendars to sync.
type StateStore interface {
	SaveSyncState(ctx context.Context, calendarID, cursor, etag string, syncedAt time.Time) error
	ListRemote(ctx context.Context) ([]model.Calendar, error)
}

const (
	defaultTimeout     = 2 * time.Minute
	defaultConcurrency = 4
)

type Option func(*Engine)

// WithTimeout bounds a single sync pass.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.timeout = d
		}
	}
}

func WithStatusCallback(cb StatusCallback) Option {
	return func(e *Engine) { e.callback = cb }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// Engine runs sync passes. Passes for one calendar are single-flight;
// different calendars sync concurrently.
type Engine struct {
	domain    Domain
	state     StateStore
	creds     Credentials
	providers ProviderFactory
	feeds     FeedSource

	group    singleflight.Group
	mu       sync.RWMutex
	statuses map[string]Status
	callback StatusCallback

	timeout time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

// NewEngine returns an engine. providers or feeds may be nil when that
// calendar type is not configured.
func NewEngine(domain Domain, state StateStore, creds Credentials, providers ProviderFactory, feeds FeedSource, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		domain:    domain,
		state:     state,
		creds:     creds,
		providers: providers,
		feeds:     feeds,
		statuses:  make(map[string]Status),
		timeout:   defaultTimeout,
		now:       time.Now,
		logger:    logger.With("component", "sync"),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// SetStatusCallback replaces the status callback.
func (e *Engine) SetStatusCallback(cb StatusCallback) {
	e.mu.Lock()
	e.callback = cb
	e.mu.Unlock()
}

// Status returns the last known sync status of a calendar.
func (e *Engine) Status(calendarID string) Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if st, ok := e.statuses[calendarID]; ok {
		return st
	}
	return Status{CalendarID: calendarID, State: StateIdle}
}

func (e *Engine) setStatus(calendarID string, update func(*Status)) {
	e.mu.Lock()
	st, ok := e.statuses[calendarID]
	if !ok {
		st = Status{CalendarID: calendarID, State: StateIdle}
	}
	update(&st)
	e.statuses[calendarID] = st
	cb := e.callback
	e.mu.Unlock()

	if cb != nil {
		cb(st)
	}
}

// Sync runs a pass for the calendar as actorID, who needs edit access. A
// trigger while a pass for the same calendar is running joins that pass.
func (e *Engine) Sync(ctx context.Context, calendarID, actorID string) (*Result, error) {
	cal, err := e.domain.EditableCalendar(ctx, calendarID, actorID)
	if err != nil {
		return nil, err
	}
	if !cal.Type.Remote() {
		return nil, calerr.Validation(fmt.Sprintf("calendar %s is not synchronized with a remote source", calendarID))
	}
	return e.run(ctx, cal.ID, func(ctx context.Context) (*Result, error) {
		return e.pass(ctx, *cal, actorID)
	})
}

// run executes pass under the calendar's single-flight key. The pass is
// detached from the caller's cancellation and bounded by the engine
// timeout.
func (e *Engine) run(ctx context.Context, calendarID string, pass func(context.Context) (*Result, error)) (*Result, error) {
	v, err, shared := e.group.Do(calendarID, func() (any, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
		defer cancel()

		e.setStatus(calendarID, func(st *Status) {
			st.State = StateSyncing
			st.InProgress = true
		})

		started := e.now()
		res, err := pass(ctx)
		if err != nil {
			if calerr.Code(err) == calerr.CodeInternal {
				err = calerr.Sync(fmt.Sprintf("sync of calendar %s failed", calendarID), err)
			}
			e.setStatus(calendarID, func(st *Status) {
				st.State = StateFailed
				st.InProgress = false
				st.Error = calerr.Message(err)
			})
			e.logger.Error("sync failed", "calendar_id", calendarID, "error", err)
			return nil, err
		}

		finished := e.now()
		e.setStatus(calendarID, func(st *Status) {
			st.State = StateIdle
			st.InProgress = false
			st.Error = ""
			st.LastSyncedAt = &finished
		})
		e.logger.Info("calendar synced",
			"calendar_id", calendarID,
			"created", res.Created,
			"updated", res.Updated,
			"deleted", res.Deleted,
			"skipped", res.Skipped,
			"not_modified", res.NotModified,
			"duration", finished.Sub(started),
		)
		return res, nil
	})
	if shared {
		e.logger.Debug("joined in-flight sync", "calendar_id", calendarID)
	}
	if err != nil {
		return nil, err
	}
	return v.(*Result), nil
}

func (e *Engine) pass(ctx context.Context, cal model.Calendar, actorID string) (*Result, error) {
	switch cal.Type {
	case model.CalendarProviderPush:
		return e.providerPass(ctx, cal, actorID)
	case model.CalendarProviderPull:
		return e.feedPass(ctx, cal, actorID)
	}
	return nil, calerr.Validation(fmt.Sprintf("calendar type %q cannot be synchronized", cal.Type))
}

// providerPass fetches every change before writing anything; the cursor is
// committed only after all changes are applied.
func (e *Engine) providerPass(ctx context.Context, cal model.Calendar, actorID string) (*Result, error) {
	if e.providers == nil {
		return nil, calerr.Configuration("provider integration is not configured", nil)
	}

	client, err := clientFor(ctx, e.creds, e.providers, cal)
	if err != nil {
		return nil, err
	}

	changes, err := e.listChanges(ctx, client, cal)
	if errors.Is(err, ErrUnauthorized) {
		e.logger.Info("access token rejected, refreshing", "calendar_id", cal.ID)
		client, err = refreshedClient(ctx, e.creds, e.providers, cal)
		if err != nil {
			return nil, err
		}
		changes, err = e.listChanges(ctx, client, cal)
	}
	if err != nil {
		return nil, err
	}

	res, err := e.apply(ctx, cal.ID, actorID, changes.Items, changes.Full, false)
	if err != nil {
		return nil, err
	}
	res.Full = changes.Full
	res.Cursor = changes.NextCursor

	if err := e.state.SaveSyncState(ctx, cal.ID, changes.NextCursor, "", e.now()); err != nil {
		return nil, err
	}
	return res, nil
}

// listChanges falls back to a full listing when the stored cursor has
// expired.
func (e *Engine) listChanges(ctx context.Context, client ProviderClient, cal model.Calendar) (Changes, error) {
	cursor := cal.External.SyncCursor
	changes, err := client.ListChanges(ctx, cursor)
	if errors.Is(err, ErrCursorExpired) && cursor != "" {
		e.logger.Info("sync cursor expired, performing full listing", "calendar_id", cal.ID)
		cursor = ""
		changes, err = client.ListChanges(ctx, cursor)
	}
	if err != nil {
		return Changes{}, err
	}
	if cursor == "" {
		changes.Full = true
	}
	return changes, nil
}

func (e *Engine) feedPass(ctx context.Context, cal model.Calendar, actorID string) (*Result, error) {
	if e.feeds == nil {
		return nil, calerr.Configuration("feed integration is not configured", nil)
	}
	fr, err := e.feeds.Fetch(ctx, cal.External.FeedURL, cal.External.ETag)
	if err != nil {
		return nil, err
	}
	return e.applyFeed(ctx, cal, actorID, fr)
}

// applyFeed makes the calendar mirror the feed exactly.
func (e *Engine) applyFeed(ctx context.Context, cal model.Calendar, actorID string, fr FeedResult) (*Result, error) {
	if fr.NotModified {
		if err := e.state.SaveSyncState(ctx, cal.ID, "", cal.External.ETag, e.now()); err != nil {
			return nil, err
		}
		return &Result{CalendarID: cal.ID, NotModified: true}, nil
	}

	res, err := e.apply(ctx, cal.ID, actorID, fr.Items, true, true)
	if err != nil {
		return nil, err
	}
	res.Full = true

	if err := e.state.SaveSyncState(ctx, cal.ID, "", fr.ETag, e.now()); err != nil {
		return nil, err
	}
	return res, nil
}

// apply plans the changes that make the calendar match items and writes
// them as one batch, so a failed pass leaves local events untouched.
func (e *Engine) apply(ctx context.Context, calendarID, actorID string, items []model.RemoteEvent, full, mirror bool) (*Result, error) {
	local, err := e.domain.EventTemplates(ctx, calendarID, actorID)
	if err != nil {
		return nil, err
	}

	p := diff(local, items, full, mirror)
	res := &Result{CalendarID: calendarID, Unchanged: p.unchanged, Skipped: p.skipped}
	if p.skipped > 0 {
		e.logger.Warn("skipped unusable remote items", "calendar_id", calendarID, "count", p.skipped)
	}
	if len(p.ops) == 0 {
		return res, nil
	}

	var batch calendar.SyncBatch
	for _, o := range p.ops {
		switch o.kind {
		case opCreate:
			batch.Creates = append(batch.Creates, eventInput(calendarID, o.remote))
		case opUpdate:
			batch.Updates = append(batch.Updates, calendar.SyncUpdate{ID: o.localID, Patch: eventPatch(o.remote)})
		case opDelete:
			batch.Deletes = append(batch.Deletes, o.localID)
		}
	}

	applied, err := e.domain.ApplySyncBatch(ctx, calendarID, actorID, batch)
	if err != nil {
		return nil, fmt.Errorf("apply changes: %w", err)
	}
	res.Created = len(applied.Created)
	res.Updated = len(applied.Updated)
	res.Deleted = len(applied.Deleted)
	return res, nil
}

// SyncAll syncs every remote calendar as its owner. Failures are logged
// per calendar.
func (e *Engine) SyncAll(ctx context.Context) (int, error) {
	cals, err := e.state.ListRemote(ctx)
	if err != nil {
		return 0, fmt.Errorf("list remote calendars: %w", err)
	}

	var (
		g      errgroup.Group
		mu     sync.Mutex
		synced int
	)
	g.SetLimit(defaultConcurrency)
	for _, cal := range cals {
		if cal.OwnerID == "" {
			e.logger.Warn("remote calendar has no owner, skipping", "calendar_id", cal.ID)
			continue
		}
		g.Go(func() error {
			if _, err := e.Sync(ctx, cal.ID, cal.OwnerID); err == nil {
				mu.Lock()
				synced++
				mu.Unlock()
			}
			return nil
		})
	}
	g.Wait()
	return synced, nil
}
