package calendar

import (
	"context"

	"github.com/dukerupert/famcal/internal/calerr"
	"github.com/dukerupert/famcal/internal/model"
)

// ShareCalendar grants targetID access to the calendar. The actor needs
// share access.
func (s *Service) ShareCalendar(ctx context.Context, calendarID, targetID string, caps model.Capability, actorID string) (*model.CalendarPermission, error) {
	if _, err := s.authorizedCalendar(ctx, calendarID, actorID, model.CapShare); err != nil {
		return nil, err
	}
	p, err := s.authority.AddUser(ctx, calendarID, targetID, caps)
	if err != nil {
		return nil, err
	}
	s.logger.Info("calendar shared", "calendar_id", calendarID, "user_id", targetID, "capability", caps.String())
	return p, nil
}

func (s *Service) UpdateCalendarPermission(ctx context.Context, calendarID, targetID string, caps model.Capability, actorID string) (*model.CalendarPermission, error) {
	cal, err := s.authorizedCalendar(ctx, calendarID, actorID, model.CapShare)
	if err != nil {
		return nil, err
	}
	if cal.OwnerID != "" && targetID == cal.OwnerID {
		return nil, calerr.Validation("the calendar owner's permissions cannot be changed")
	}
	return s.authority.UpdatePermission(ctx, calendarID, targetID, caps)
}

func (s *Service) UnshareCalendar(ctx context.Context, calendarID, targetID, actorID string) error {
	cal, err := s.authorizedCalendar(ctx, calendarID, actorID, model.CapShare)
	if err != nil {
		return err
	}
	if cal.OwnerID != "" && targetID == cal.OwnerID {
		return calerr.Validation("the calendar owner cannot be removed")
	}
	if err := s.authority.RemoveUser(ctx, calendarID, targetID); err != nil {
		return err
	}
	s.logger.Info("calendar unshared", "calendar_id", calendarID, "user_id", targetID)
	return nil
}

func (s *Service) ListCalendarPermissions(ctx context.Context, calendarID, actorID string) ([]model.CalendarPermission, error) {
	if _, err := s.authorizedCalendar(ctx, calendarID, actorID, model.CapShare); err != nil {
		return nil, err
	}
	return s.authority.List(ctx, calendarID)
}
