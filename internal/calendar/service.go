// Package calendar is the permission-checked path for every calendar and
// event mutation, whether it originates from a user request or from
// synchronization with an external provider.
package calendar

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dukerupert/famcal/internal/model"
	"github.com/dukerupert/famcal/internal/permission"
)

// CalendarRepository persists calendars. Lookups return (nil, nil) when the
// row is absent.
type CalendarRepository interface {
	Create(ctx context.Context, c *model.Calendar) (*model.Calendar, error)
	GetByID(ctx context.Context, id string) (*model.Calendar, error)
	GetDefault(ctx context.Context, familyID, ownerID string) (*model.Calendar, error)
	ListByFamily(ctx context.Context, familyID string) ([]model.Calendar, error)
	ListForUser(ctx context.Context, userID string) ([]model.Calendar, error)
	Update(ctx context.Context, c *model.Calendar) (*model.Calendar, error)
	Delete(ctx context.Context, id string) error
}

// EventRepository persists event templates. Lookups return (nil, nil) when
// the row is absent.
type EventRepository interface {
	Create(ctx context.Context, e *model.Event) (*model.Event, error)
	GetByID(ctx context.Context, id string) (*model.Event, error)
	GetByExternalID(ctx context.Context, calendarID, externalID string) (*model.Event, error)
	ListByCalendars(ctx context.Context, calendarIDs []string, rng *model.DateRange) ([]model.Event, error)
	Update(ctx context.Context, e *model.Event) (*model.Event, error)
	SetExternalID(ctx context.Context, id, externalID string) error
	Delete(ctx context.Context, id string) error
	CountByCalendar(ctx context.Context, calendarID string) (int, error)
	ApplyBatch(ctx context.Context, b model.EventBatch) ([]model.Event, []model.Event, error)
}

// Members resolves and records family membership. EnsureMember reports
// whether the membership is new.
type Members interface {
	ListMemberIDs(ctx context.Context, familyID string) ([]string, error)
	EnsureMember(ctx context.Context, familyID, userID, role string) (bool, error)
}

// Notifier receives event notifications. Implementations must not block.
type Notifier interface {
	Publish(n model.Notification)
	ScheduleReminder(ev model.Event, at time.Time)
	CancelReminder(eventID string)
}

// RemoteWriter mirrors local mutations of provider_push calendars to the
// provider.
type RemoteWriter interface {
	Insert(ctx context.Context, cal model.Calendar, ev model.Event) (string, error)
	Update(ctx context.Context, cal model.Calendar, ev model.Event) error
	Delete(ctx context.Context, cal model.Calendar, externalID string) error
}

type Options struct {
	MaxEventsPerCalendar int
	ReminderLead         time.Duration
	NotifyOnCreate       bool
	NotifyOnUpdate       bool
}

func DefaultOptions() Options {
	return Options{
		MaxEventsPerCalendar: 1000,
		ReminderLead:         15 * time.Minute,
		NotifyOnCreate:       true,
		NotifyOnUpdate:       true,
	}
}

type Option func(*Service)

func WithOptions(o Options) Option {
	return func(s *Service) { s.opts = o }
}

func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

func WithRemoteWriter(w RemoteWriter) Option {
	return func(s *Service) { s.remote = w }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

type Service struct {
	calendars CalendarRepository
	events    EventRepository
	members   Members
	authority *permission.Authority
	notifier  Notifier
	remote    RemoteWriter
	opts      Options
	now       func() time.Time
	logger    *slog.Logger

	// defaults collapses concurrent first use of a default calendar.
	defaults singleflight.Group
}

func NewService(calendars CalendarRepository, events EventRepository, members Members, authority *permission.Authority, logger *slog.Logger, options ...Option) *Service {
	s := &Service{
		calendars: calendars,
		events:    events,
		members:   members,
		authority: authority,
		opts:      DefaultOptions(),
		now:       time.Now,
		logger:    logger.With("component", "calendar"),
	}
	for _, o := range options {
		o(s)
	}
	return s
}

// Authority exposes the permission authority for callers that need to
// check capabilities without loading entities.
func (s *Service) Authority() *permission.Authority {
	return s.authority
}

func (s *Service) publish(typ model.NotificationType, ev model.Event) {
	if s.notifier == nil {
		return
	}
	switch typ {
	case model.NotifyEventCreated:
		if !s.opts.NotifyOnCreate {
			return
		}
	case model.NotifyEventUpdated:
		if !s.opts.NotifyOnUpdate {
			return
		}
	}
	s.notifier.Publish(model.NewNotification(typ, ev, s.now()))
}

// scheduleReminder arms or clears the reminder for ev.
func (s *Service) scheduleReminder(ev model.Event) {
	if s.notifier == nil {
		return
	}
	at := ev.StartTime.Add(-s.opts.ReminderLead)
	if ev.Status == model.StatusCancelled || !at.After(s.now()) {
		s.notifier.CancelReminder(ev.ID)
		return
	}
	s.notifier.ScheduleReminder(ev, at)
}

func (s *Service) cancelReminder(id string) {
	if s.notifier != nil {
		s.notifier.CancelReminder(id)
	}
}
