package calendar

import (
	"context"
	"fmt"
	"time"

	"github.com/dukerupert/famcal/internal/calerr"
	"github.com/dukerupert/famcal/internal/model"
)

// TaskDeadline places a task's due time on a calendar.
type TaskDeadline struct {
	TaskID     string
	Title      string
	Due        time.Time
	FamilyID   string
	UserID     string
	CalendarID string
}

// ShoppingSchedule places a planned shopping trip on a calendar.
type ShoppingSchedule struct {
	ScheduleID string
	Title      string
	Start      time.Time
	End        time.Time
	FamilyID   string
	UserID     string
	CalendarID string
}

func TaskExternalID(taskID string) string         { return "task-" + taskID }
func ShoppingExternalID(scheduleID string) string { return "shopping-" + scheduleID }

// UpsertTaskDeadline creates or moves the zero-length event marking a task's
// due time.
func (s *Service) UpsertTaskDeadline(ctx context.Context, d TaskDeadline) (*model.Event, error) {
	if d.TaskID == "" {
		return nil, calerr.InvalidField("task_id", "is required")
	}
	return s.upsertPlaceholder(ctx, placeholder{
		externalID: TaskExternalID(d.TaskID),
		title:      d.Title,
		start:      d.Due,
		end:        d.Due,
		familyID:   d.FamilyID,
		userID:     d.UserID,
		calendarID: d.CalendarID,
	})
}

func (s *Service) UpsertShoppingSchedule(ctx context.Context, sc ShoppingSchedule) (*model.Event, error) {
	if sc.ScheduleID == "" {
		return nil, calerr.InvalidField("schedule_id", "is required")
	}
	return s.upsertPlaceholder(ctx, placeholder{
		externalID: ShoppingExternalID(sc.ScheduleID),
		title:      sc.Title,
		start:      sc.Start,
		end:        sc.End,
		familyID:   sc.FamilyID,
		userID:     sc.UserID,
		calendarID: sc.CalendarID,
	})
}

type placeholder struct {
	externalID string
	title      string
	start, end time.Time
	familyID   string
	userID     string
	calendarID string
}

// upsertPlaceholder is keyed by the external id: a repeated call only moves
// the event's start and end.
func (s *Service) upsertPlaceholder(ctx context.Context, p placeholder) (*model.Event, error) {
	calendarID := p.calendarID
	if calendarID == "" {
		cal, err := s.GetOrCreateDefaultCalendar(ctx, p.familyID, p.userID)
		if err != nil {
			return nil, err
		}
		calendarID = cal.ID
	}

	cal, err := s.authorizedCalendar(ctx, calendarID, p.userID, model.CapEdit)
	if err != nil {
		return nil, err
	}
	if cal.Type.Remote() {
		return nil, calerr.Validation(fmt.Sprintf("calendar %s is synchronized from a provider and cannot hold integration events", cal.ID))
	}

	existing, err := s.events.GetByExternalID(ctx, cal.ID, p.externalID)
	if err != nil {
		return nil, fmt.Errorf("get event by external id: %w", err)
	}
	if existing == nil {
		ev, err := s.createEvent(ctx, EventInput{
			CalendarID: cal.ID,
			Title:      p.title,
			StartTime:  p.start,
			EndTime:    p.end,
			ExternalID: p.externalID,
		}, p.userID, false)
		if !calerr.IsConflict(err) {
			return ev, err
		}
		// A concurrent call created it first.
		existing, err = s.events.GetByExternalID(ctx, cal.ID, p.externalID)
		if err != nil {
			return nil, fmt.Errorf("get event by external id: %w", err)
		}
		if existing == nil {
			return nil, calerr.Conflict(fmt.Sprintf("event %s changed concurrently", p.externalID), nil)
		}
	}

	return s.updateEvent(ctx, existing.ID, EventPatch{
		StartTime: &p.start,
		EndTime:   &p.end,
	}, p.userID, false)
}
