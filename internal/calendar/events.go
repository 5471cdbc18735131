package calendar

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dukerupert/famcal/internal/calerr"
	"github.com/dukerupert/famcal/internal/model"
	"github.com/dukerupert/famcal/internal/recurrence"
)

type EventInput struct {
	CalendarID  string
	Title       string
	Description string
	Location    string
	StartTime   time.Time
	EndTime     time.Time
	AllDay      bool
	Status      model.EventStatus
	UserID      string
	ExternalID  string
	Recurrence  *model.RecurrenceRule
}

// EventPatch updates the non-nil fields of an event. ClearRecurrence turns
// a recurring event into a single one.
type EventPatch struct {
	Title           *string
	Description     *string
	Location        *string
	StartTime       *time.Time
	EndTime         *time.Time
	AllDay          *bool
	Status          *model.EventStatus
	UserID          *string
	Recurrence      *model.RecurrenceRule
	ClearRecurrence bool
}

func validateEvent(ev *model.Event) error {
	ev.Title = strings.TrimSpace(ev.Title)
	if ev.Title == "" {
		return calerr.InvalidField("title", "is required")
	}
	if ev.StartTime.IsZero() {
		return calerr.InvalidField("start_time", "is required")
	}
	if ev.EndTime.IsZero() {
		return calerr.InvalidField("end_time", "is required")
	}
	if ev.EndTime.Before(ev.StartTime) {
		return calerr.Validation("end time must not be before start time")
	}
	if !ev.Status.Valid() {
		return calerr.InvalidField("status", fmt.Sprintf("unknown status %q", ev.Status))
	}
	if ev.Recurrence != nil && ev.Recurrence.Interval == 0 {
		ev.Recurrence.Interval = 1
	}
	if err := recurrence.Validate(ev.Recurrence, ev.StartTime); err != nil {
		return calerr.InvalidField("recurrence", err.Error())
	}
	return nil
}

// CreateEvent creates a locally originated event. On provider_push
// calendars the event is written to the provider as well; a failed write
// returns the stored event together with a sync error.
func (s *Service) CreateEvent(ctx context.Context, in EventInput, actorID string) (*model.Event, error) {
	return s.createEvent(ctx, in, actorID, true)
}

func (s *Service) createEvent(ctx context.Context, in EventInput, actorID string, push bool) (*model.Event, error) {
	cal, err := s.authorizedCalendar(ctx, in.CalendarID, actorID, model.CapEdit)
	if err != nil {
		return nil, err
	}

	ev := newEvent(cal, in, actorID)
	if err := validateEvent(ev); err != nil {
		return nil, err
	}

	if room, err := s.capacity(ctx, cal.ID); err != nil {
		return nil, err
	} else if room == 0 {
		return nil, calerr.Validation(fmt.Sprintf("calendar %s has reached the limit of %d events", cal.ID, s.opts.MaxEventsPerCalendar))
	}

	created, err := s.events.Create(ctx, ev)
	if err != nil {
		return nil, fmt.Errorf("create event: %w", err)
	}

	var pushErr error
	if push {
		pushErr = s.pushCreate(ctx, cal, created)
	}

	s.publish(model.NotifyEventCreated, *created)
	s.scheduleReminder(*created)
	s.logger.Debug("event created", "event_id", created.ID, "calendar_id", cal.ID, "external_id", created.ExternalID)
	return created, pushErr
}

func newEvent(cal *model.Calendar, in EventInput, actorID string) *model.Event {
	ev := &model.Event{
		CalendarID:  cal.ID,
		FamilyID:    cal.FamilyID,
		Title:       in.Title,
		Description: in.Description,
		Location:    in.Location,
		StartTime:   in.StartTime,
		EndTime:     in.EndTime,
		AllDay:      in.AllDay,
		Status:      in.Status,
		CreatedBy:   actorID,
		UserID:      in.UserID,
		ExternalID:  in.ExternalID,
		Recurrence:  in.Recurrence,
	}
	if ev.Status == "" {
		ev.Status = model.StatusConfirmed
	}
	if ev.UserID == "" {
		ev.UserID = actorID
	}
	return ev
}

// capacity returns how many more events the calendar may hold, or -1 when
// there is no limit.
func (s *Service) capacity(ctx context.Context, calendarID string) (int, error) {
	if s.opts.MaxEventsPerCalendar <= 0 {
		return -1, nil
	}
	n, err := s.events.CountByCalendar(ctx, calendarID)
	if err != nil {
		return 0, fmt.Errorf("count calendar events: %w", err)
	}
	return max(s.opts.MaxEventsPerCalendar-n, 0), nil
}

// GetEvent checks existence before permission.
func (s *Service) GetEvent(ctx context.Context, id, actorID string) (*model.Event, error) {
	ev, err := s.loadEvent(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authority.Require(ctx, ev.CalendarID, actorID, model.CapView); err != nil {
		return nil, err
	}
	return ev, nil
}

func (s *Service) loadEvent(ctx context.Context, id string) (*model.Event, error) {
	ev, err := s.events.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get event: %w", err)
	}
	if ev == nil {
		return nil, calerr.EventNotFound(id)
	}
	return ev, nil
}

func checkRange(rng *model.DateRange) error {
	if rng == nil {
		return nil
	}
	if rng.Start.IsZero() || rng.End.IsZero() {
		return calerr.Validation("range requires both start and end")
	}
	if rng.End.Before(rng.Start) {
		return calerr.Validation("range end must not be before range start")
	}
	return nil
}

// GetCalendarEvents lists the calendar's events. Without a range the stored
// templates are returned as is. With a range, recurring templates are
// expanded into the occurrences overlapping it.
func (s *Service) GetCalendarEvents(ctx context.Context, calendarID, actorID string, rng *model.DateRange) ([]model.Event, error) {
	if err := checkRange(rng); err != nil {
		return nil, err
	}
	cal, err := s.authorizedCalendar(ctx, calendarID, actorID, model.CapView)
	if err != nil {
		return nil, err
	}
	return s.listEvents(ctx, []model.Calendar{*cal}, rng)
}

// GetFamilyEvents lists events across the family calendars the actor can
// view.
func (s *Service) GetFamilyEvents(ctx context.Context, familyID, actorID string, rng *model.DateRange) ([]model.Event, error) {
	if err := checkRange(rng); err != nil {
		return nil, err
	}
	cals, err := s.GetFamilyCalendars(ctx, familyID, actorID)
	if err != nil {
		return nil, err
	}
	return s.listEvents(ctx, cals, rng)
}

func (s *Service) listEvents(ctx context.Context, cals []model.Calendar, rng *model.DateRange) ([]model.Event, error) {
	if len(cals) == 0 {
		return []model.Event{}, nil
	}
	ids := make([]string, len(cals))
	locs := make(map[string]*time.Location, len(cals))
	for i, c := range cals {
		ids[i] = c.ID
		locs[c.ID] = c.Location()
	}

	templates, err := s.events.ListByCalendars(ctx, ids, rng)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	if rng == nil {
		recurrence.Sort(templates)
		return templates, nil
	}

	out := make([]model.Event, 0, len(templates))
	for _, t := range templates {
		loc := locs[t.CalendarID]
		t.StartTime = t.StartTime.In(loc)
		t.EndTime = t.EndTime.In(loc)
		out = append(out, recurrence.Expand(t, rng.Start, rng.End)...)
	}
	recurrence.Sort(out)
	return out, nil
}

// EventTemplates returns the stored events of a calendar without expansion.
func (s *Service) EventTemplates(ctx context.Context, calendarID, actorID string) ([]model.Event, error) {
	if _, err := s.authorizedCalendar(ctx, calendarID, actorID, model.CapView); err != nil {
		return nil, err
	}
	events, err := s.events.ListByCalendars(ctx, []string{calendarID}, nil)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return events, nil
}

func (s *Service) UpdateEvent(ctx context.Context, id string, patch EventPatch, actorID string) (*model.Event, error) {
	return s.updateEvent(ctx, id, patch, actorID, true)
}

func (s *Service) updateEvent(ctx context.Context, id string, patch EventPatch, actorID string, push bool) (*model.Event, error) {
	ev, err := s.loadEvent(ctx, id)
	if err != nil {
		return nil, err
	}
	cal, err := s.authorizedCalendar(ctx, ev.CalendarID, actorID, model.CapEdit)
	if err != nil {
		return nil, err
	}

	applyPatch(ev, patch)
	if err := validateEvent(ev); err != nil {
		return nil, err
	}

	updated, err := s.events.Update(ctx, ev)
	if err != nil {
		return nil, fmt.Errorf("update event: %w", err)
	}

	var pushErr error
	if push {
		pushErr = s.pushUpdate(ctx, cal, updated)
	}

	typ := model.NotifyEventUpdated
	if updated.Status == model.StatusCancelled {
		typ = model.NotifyEventCancelled
	}
	s.publish(typ, *updated)
	s.scheduleReminder(*updated)
	return updated, pushErr
}

func applyPatch(ev *model.Event, p EventPatch) {
	if p.Title != nil {
		ev.Title = *p.Title
	}
	if p.Description != nil {
		ev.Description = *p.Description
	}
	if p.Location != nil {
		ev.Location = *p.Location
	}
	if p.StartTime != nil {
		ev.StartTime = *p.StartTime
	}
	if p.EndTime != nil {
		ev.EndTime = *p.EndTime
	}
	if p.AllDay != nil {
		ev.AllDay = *p.AllDay
	}
	if p.Status != nil {
		ev.Status = *p.Status
	}
	if p.UserID != nil {
		ev.UserID = *p.UserID
	}
	if p.ClearRecurrence {
		ev.Recurrence = nil
	} else if p.Recurrence != nil {
		rule := *p.Recurrence
		ev.Recurrence = &rule
	}
}

func (s *Service) DeleteEvent(ctx context.Context, id, actorID string) error {
	ev, err := s.loadEvent(ctx, id)
	if err != nil {
		return err
	}
	cal, err := s.authorizedCalendar(ctx, ev.CalendarID, actorID, model.CapEdit)
	if err != nil {
		return err
	}

	if err := s.events.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete event: %w", err)
	}

	pushErr := s.pushDelete(ctx, cal, ev)

	s.cancelReminder(id)
	s.publish(model.NotifyEventCancelled, *ev)
	return pushErr
}

func (s *Service) pushes(cal *model.Calendar) bool {
	return s.remote != nil && cal.Type == model.CalendarProviderPush
}

func (s *Service) pushCreate(ctx context.Context, cal *model.Calendar, ev *model.Event) error {
	if !s.pushes(cal) || ev.ExternalID != "" {
		return nil
	}
	externalID, err := s.remote.Insert(ctx, *cal, *ev)
	if err != nil {
		s.logger.Warn("failed to write event to provider", "event_id", ev.ID, "calendar_id", cal.ID, "error", err)
		return calerr.Sync("failed to write event to provider", err)
	}
	if err := s.events.SetExternalID(ctx, ev.ID, externalID); err != nil {
		return fmt.Errorf("store external id: %w", err)
	}
	ev.ExternalID = externalID
	return nil
}

func (s *Service) pushUpdate(ctx context.Context, cal *model.Calendar, ev *model.Event) error {
	if !s.pushes(cal) {
		return nil
	}
	if ev.ExternalID == "" {
		return s.pushCreate(ctx, cal, ev)
	}
	if err := s.remote.Update(ctx, *cal, *ev); err != nil {
		s.logger.Warn("failed to update event on provider", "event_id", ev.ID, "calendar_id", cal.ID, "error", err)
		return calerr.Sync("failed to update event on provider", err)
	}
	return nil
}

func (s *Service) pushDelete(ctx context.Context, cal *model.Calendar, ev *model.Event) error {
	if !s.pushes(cal) || ev.ExternalID == "" {
		return nil
	}
	if err := s.remote.Delete(ctx, *cal, ev.ExternalID); err != nil {
		s.logger.Warn("failed to delete event on provider", "event_id", ev.ID, "calendar_id", cal.ID, "error", err)
		return calerr.Sync("failed to delete event on provider", err)
	}
	return nil
}
